package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"reagent/internal/domain"
	"reagent/internal/infra/config"
)

const anthropicAPIVersion = "2023-06-01"

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	name   string
	model  string
	api    endpoint
	logger *slog.Logger
}

// NewAnthropicProvider creates a provider for cfg.
func NewAnthropicProvider(cfg config.ProviderConfig, logger *slog.Logger) *AnthropicProvider {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.anthropic.com"
	}
	return &AnthropicProvider{
		name:  cfg.Name,
		model: cfg.Model,
		api: endpoint{
			client:  NewHTTPClient(cfg),
			baseURL: base,
			headers: map[string]string{
				"x-api-key":         cfg.APIKey,
				"anthropic-version": anthropicAPIVersion,
			},
		},
		logger: logger,
	}
}

// Chat implements domain.LLMProvider.
func (p *AnthropicProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return tracedChat(ctx, p.name, p.model, p.logger, req, func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
		var out messagesReply
		if err := p.api.post(ctx, "/v1/messages", newMessagesRequest(req), &out); err != nil {
			return nil, err
		}
		return out.chatResponse(), nil
	})
}

// Name implements domain.LLMProvider.
func (p *AnthropicProvider) Name() string { return p.name }

// CheckHealth lists the models visible to the configured key.
func (p *AnthropicProvider) CheckHealth(ctx context.Context) error {
	return p.api.get(ctx, "/v1/models", nil)
}

// Messages API wire format. Every turn is a list of typed blocks.

type messagesRequest struct {
	Model         string         `json:"model"`
	System        string         `json:"system,omitempty"`
	Messages      []messagesTurn `json:"messages"`
	MaxTokens     int            `json:"max_tokens"`
	Temperature   *float64       `json:"temperature,omitempty"`
	StopSequences []string       `json:"stop_sequences,omitempty"`
	Tools         []messagesTool `json:"tools,omitempty"`
}

type messagesTurn struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type messagesTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type messagesReply struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Content []contentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func newMessagesRequest(req domain.ChatRequest) messagesRequest {
	system, rest := splitSystem(req.Messages)
	out := messagesRequest{
		Model:         req.Model,
		System:        system,
		MaxTokens:     req.MaxTokens,
		StopSequences: req.Stop,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = defaultMaxOutputTokens
	}
	if req.Temperature > 0 {
		t := req.Temperature
		out.Temperature = &t
	}
	for _, m := range rest {
		out.Messages = append(out.Messages, messagesTurnFor(m))
	}
	for _, s := range req.Tools {
		out.Tools = append(out.Tools, messagesTool{Name: s.Name, Description: s.Description, InputSchema: s.Parameters})
	}
	return out
}

// messagesTurnFor encodes one non-system message. Tool results travel as a
// user turn holding a tool_result block.
func messagesTurnFor(m domain.Message) messagesTurn {
	if m.Role == domain.RoleTool {
		return messagesTurn{Role: domain.RoleUser, Content: []contentBlock{{
			Type:      "tool_result",
			ToolUseID: resultCallID(m),
			Content:   m.Content,
		}}}
	}

	turn := messagesTurn{Role: m.Role}
	if m.Content != "" || len(m.ToolCalls) == 0 {
		turn.Content = append(turn.Content, contentBlock{Type: "text", Text: m.Content})
	}
	for _, tc := range m.ToolCalls {
		turn.Content = append(turn.Content, contentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Arguments})
	}
	return turn
}

func (r messagesReply) chatResponse() *domain.ChatResponse {
	now := time.Now()
	msg := domain.Message{Role: domain.RoleAssistant, Timestamp: now}
	var text []string
	for _, b := range r.Content {
		switch b.Type {
		case "text":
			text = append(text, b.Text)
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{ID: b.ID, Name: b.Name, Arguments: b.Input})
		}
	}
	msg.Content = strings.Join(text, "\n")
	return &domain.ChatResponse{
		ID:        r.ID,
		Model:     r.Model,
		Message:   msg,
		Usage:     usageOf(r.Usage.InputTokens, r.Usage.OutputTokens),
		CreatedAt: now,
	}
}

var (
	_ domain.LLMProvider   = (*AnthropicProvider)(nil)
	_ domain.HealthChecker = (*AnthropicProvider)(nil)
)
