package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"reagent/internal/domain"
	"reagent/internal/infra/config"
)

// A local server connects fast but may take minutes to load a model.
const (
	ollamaConnTimeout = 5 * time.Second
	ollamaRespTimeout = 300 * time.Second
)

// OllamaProvider serves chat through the OpenAI-compatible /v1 routes of an
// Ollama server and uses its native API for model listing and health.
type OllamaProvider struct {
	chat   *OpenAIProvider
	native endpoint
	model  string
}

// OllamaModel is one locally pulled model.
type OllamaModel struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}

// NewOllamaProvider creates a provider for cfg. Ollama needs no API key.
func NewOllamaProvider(cfg config.ProviderConfig, logger *slog.Logger) *OllamaProvider {
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = ollamaConnTimeout
	}
	if cfg.RespTimeout == 0 {
		cfg.RespTimeout = ollamaRespTimeout
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "http://localhost:11434"
	}
	client := NewHTTPClient(cfg)
	return &OllamaProvider{
		chat:   newCompletionsProvider(cfg.Name, cfg.Model, base+"/v1", "", client, logger),
		native: endpoint{client: client, baseURL: base},
		model:  cfg.Model,
	}
}

// Chat implements domain.LLMProvider.
func (p *OllamaProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return p.chat.Chat(ctx, req)
}

// Name implements domain.LLMProvider.
func (p *OllamaProvider) Name() string { return p.chat.Name() }

// ListModels returns the models pulled on the server.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]OllamaModel, error) {
	var tags struct {
		Models []OllamaModel `json:"models"`
	}
	if err := p.native.get(ctx, "/api/tags", &tags); err != nil {
		return nil, err
	}
	return tags.Models, nil
}

// CheckHealth requires a reachable server and, when a model is configured,
// that it has been pulled.
func (p *OllamaProvider) CheckHealth(ctx context.Context) error {
	models, err := p.ListModels(ctx)
	if err != nil || p.model == "" {
		return err
	}
	for _, m := range models {
		if m.Name == p.model || strings.TrimSuffix(m.Name, ":latest") == p.model {
			return nil
		}
	}
	return fmt.Errorf("%w: model %q not pulled on %s", domain.ErrUnavailable, p.model, p.native.baseURL)
}

// Unwrap returns the provider used for chat.
func (p *OllamaProvider) Unwrap() domain.LLMProvider { return p.chat }

var (
	_ domain.LLMProvider   = (*OllamaProvider)(nil)
	_ domain.HealthChecker = (*OllamaProvider)(nil)
)
