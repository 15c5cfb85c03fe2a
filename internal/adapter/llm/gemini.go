package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"reagent/internal/domain"
	"reagent/internal/infra/config"
)

const (
	geminiRoleUser  = "user"
	geminiRoleModel = "model"
)

// geminiModels is the subset of *genai.Models used by GeminiProvider.
type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiProvider implements domain.LLMProvider using the Google Gen AI SDK.
type GeminiProvider struct {
	name   string
	model  string
	models geminiModels
	logger *slog.Logger
}

// NewGeminiProvider creates a Gemini provider backed by the Gemini API.
func NewGeminiProvider(ctx context.Context, cfg config.ProviderConfig, logger *slog.Logger) (*GeminiProvider, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: NewHTTPClient(cfg),
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGeminiProviderWithModels(cfg, client.Models, logger), nil
}

func newGeminiProviderWithModels(cfg config.ProviderConfig, models geminiModels, logger *slog.Logger) *GeminiProvider {
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiProvider{
		name:   cfg.Name,
		model:  model,
		models: models,
		logger: logger,
	}
}

// Chat implements domain.LLMProvider.
func (p *GeminiProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return tracedChat(ctx, p.name, p.model, p.logger, req, func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
		contents, genCfg, err := toGeminiRequest(req)
		if err != nil {
			return nil, err
		}
		resp, err := p.models.GenerateContent(ctx, req.Model, contents, genCfg)
		if err != nil {
			return nil, mapGeminiError(err)
		}
		return fromGeminiResponse(req.Model, resp)
	})
}

// Name implements domain.LLMProvider.
func (p *GeminiProvider) Name() string { return p.name }

func toGeminiRequest(req domain.ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	genCfg := &genai.GenerateContentConfig{
		StopSequences: req.Stop,
	}
	if req.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		genCfg.Temperature = genai.Ptr(float32(req.Temperature))
	}

	system, rest := splitSystem(req.Messages)
	var contents []*genai.Content
	for _, m := range rest {
		switch m.Role {
		case domain.RoleTool:
			name := m.Name
			if len(m.ToolCalls) > 0 && m.ToolCalls[0].Name != "" {
				name = m.ToolCalls[0].Name
			}
			contents = append(contents, &genai.Content{
				Role: geminiRoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       resultCallID(m),
						Name:     name,
						Response: map[string]any{"result": m.Content},
					},
				}},
			})

		case domain.RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args := map[string]any{}
				if len(tc.Arguments) > 0 {
					if err := json.Unmarshal(tc.Arguments, &args); err != nil {
						return nil, nil, fmt.Errorf("%w: tool call %q arguments: %v", domain.ErrInvalidInput, tc.Name, err)
					}
				}
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args},
				})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: geminiRoleModel, Parts: parts})
			}

		default:
			contents = append(contents, &genai.Content{Role: geminiRoleUser, Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	if system != "" {
		genCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decl := &genai.FunctionDeclaration{Name: t.Name, Description: t.Description}
			if len(t.Parameters) > 0 {
				var schema map[string]any
				if err := json.Unmarshal(t.Parameters, &schema); err != nil {
					return nil, nil, fmt.Errorf("%w: tool %q schema: %v", domain.ErrInvalidInput, t.Name, err)
				}
				decl.ParametersJsonSchema = schema
			}
			decls = append(decls, decl)
		}
		genCfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	return contents, genCfg, nil
}

func fromGeminiResponse(model string, resp *genai.GenerateContentResponse) (*domain.ChatResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("%w: gemini returned no candidates", domain.ErrUnavailable)
	}

	result := &domain.ChatResponse{
		ID:        resp.ResponseID,
		Model:     model,
		CreatedAt: time.Now(),
	}
	if resp.ModelVersion != "" {
		result.Model = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		result.Usage = domain.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
		if result.Usage.TotalTokens == 0 {
			result.Usage.TotalTokens = result.Usage.PromptTokens + result.Usage.CompletionTokens
		}
	}

	msg := domain.Message{Role: domain.RoleAssistant, Timestamp: result.CreatedAt}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
		if fc := part.FunctionCall; fc != nil {
			id := fc.ID
			if id == "" {
				id = "call-" + uuid.NewString()
			}
			args, err := json.Marshal(fc.Args)
			if err != nil {
				return nil, fmt.Errorf("marshal function args: %w", err)
			}
			msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{ID: id, Name: fc.Name, Arguments: args})
		}
	}
	msg.Content = text.String()
	result.Message = msg
	return result, nil
}

// mapGeminiError maps SDK API errors onto the HTTP status classification
// shared by the other providers.
func mapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return statusError(apiErr.Code, []byte(apiErr.Message))
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
}

var (
	_ domain.LLMProvider = (*GeminiProvider)(nil)
	_ geminiModels       = (*genai.Models)(nil)
)
