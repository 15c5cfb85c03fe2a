package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"reagent/internal/domain"
	"reagent/internal/infra/config"
)

// OpenAIProvider talks to the chat completions endpoint of OpenAI and of any
// server that mimics it.
type OpenAIProvider struct {
	name   string
	model  string
	api    endpoint
	logger *slog.Logger
}

// NewOpenAIProvider creates a provider for cfg. An empty base URL means the
// public OpenAI API.
func NewOpenAIProvider(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIProvider {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	return newCompletionsProvider(cfg.Name, cfg.Model, base, cfg.APIKey, NewHTTPClient(cfg), logger)
}

func newCompletionsProvider(name, model, baseURL, apiKey string, client *http.Client, logger *slog.Logger) *OpenAIProvider {
	api := endpoint{client: client, baseURL: baseURL, headers: map[string]string{}}
	if apiKey != "" {
		api.headers["Authorization"] = "Bearer " + apiKey
	}
	return &OpenAIProvider{name: name, model: model, api: api, logger: logger}
}

// Chat implements domain.LLMProvider.
func (p *OpenAIProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return tracedChat(ctx, p.name, p.model, p.logger, req, func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
		var out completion
		if err := p.api.post(ctx, "/chat/completions", newCompletionRequest(req), &out); err != nil {
			return nil, err
		}
		return out.chatResponse()
	})
}

// Name implements domain.LLMProvider.
func (p *OpenAIProvider) Name() string { return p.name }

// CheckHealth lists the models visible to the configured key.
func (p *OpenAIProvider) CheckHealth(ctx context.Context) error {
	return p.api.get(ctx, "/models", nil)
}

// Chat completions wire format.

type completionRequest struct {
	Model       string           `json:"model"`
	Messages    []completionMsg  `json:"messages"`
	Tools       []completionTool `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	Stop        []string         `json:"stop,omitempty"`
}

type completionMsg struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	Name       string           `json:"name,omitempty"`
	ToolCalls  []completionCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type completionTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type completionCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type completion struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message      completionMsg `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func newCompletionRequest(req domain.ChatRequest) completionRequest {
	out := completionRequest{
		Model:     req.Model,
		Messages:  make([]completionMsg, 0, len(req.Messages)),
		MaxTokens: max(req.MaxTokens, 0),
		Stop:      req.Stop,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		out.Temperature = &t
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, completionMessage(m))
	}
	for _, s := range req.Tools {
		var tool completionTool
		tool.Type = "function"
		tool.Function.Name = s.Name
		tool.Function.Description = s.Description
		tool.Function.Parameters = s.Parameters
		out.Tools = append(out.Tools, tool)
	}
	return out
}

// completionMessage encodes one transcript entry. Tool results carry the id
// of the call they answer; only assistant entries carry calls.
func completionMessage(m domain.Message) completionMsg {
	msg := completionMsg{Role: m.Role, Content: m.Content, Name: m.Name}
	if m.Role == domain.RoleTool {
		msg.ToolCallID = resultCallID(m)
		return msg
	}
	for _, tc := range m.ToolCalls {
		var call completionCall
		call.ID, call.Type = tc.ID, "function"
		call.Function.Name = tc.Name
		call.Function.Arguments = string(tc.Arguments)
		msg.ToolCalls = append(msg.ToolCalls, call)
	}
	return msg
}

func (c completion) chatResponse() (*domain.ChatResponse, error) {
	if len(c.Choices) == 0 {
		return nil, fmt.Errorf("%w: completion %q has no choices", domain.ErrUnavailable, c.ID)
	}
	created := time.Now()
	if c.Created > 0 {
		created = time.Unix(c.Created, 0)
	}
	usage := usageOf(c.Usage.PromptTokens, c.Usage.CompletionTokens)
	if c.Usage.TotalTokens > 0 {
		usage.TotalTokens = c.Usage.TotalTokens
	}

	choice := c.Choices[0].Message
	msg := domain.Message{
		Role:      domain.RoleAssistant,
		Content:   choice.Content,
		Name:      choice.Name,
		Timestamp: created,
	}
	for _, call := range choice.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(call.Function.Arguments),
		})
	}
	return &domain.ChatResponse{ID: c.ID, Model: c.Model, Message: msg, Usage: usage, CreatedAt: created}, nil
}

var (
	_ domain.LLMProvider   = (*OpenAIProvider)(nil)
	_ domain.HealthChecker = (*OpenAIProvider)(nil)
)
