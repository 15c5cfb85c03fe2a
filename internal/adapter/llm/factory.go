package llm

import (
	"context"
	"fmt"
	"log/slog"

	"reagent/internal/domain"
	"reagent/internal/infra/config"
)

// NewProvider creates the provider implementation selected by cfg.Type
// (defaulting to the provider name).
func NewProvider(ctx context.Context, cfg config.ProviderConfig, logger *slog.Logger) (domain.LLMProvider, error) {
	typ := cfg.Type
	if typ == "" {
		typ = cfg.Name
	}
	switch typ {
	case "openai":
		return NewOpenAIProvider(cfg, logger), nil
	case "anthropic":
		return NewAnthropicProvider(cfg, logger), nil
	case "ollama":
		return NewOllamaProvider(cfg, logger), nil
	case "gemini":
		return NewGeminiProvider(ctx, cfg, logger)
	case "bedrock":
		return NewBedrockProvider(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", typ)
	}
}

// NewGatewayFromConfig builds every configured provider, wraps each with its
// rate limiter and (when enabled) a circuit breaker, and registers them.
func NewGatewayFromConfig(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*Gateway, error) {
	return newGateway(ctx, cfg, logger, NewProvider)
}

type providerFactory func(context.Context, config.ProviderConfig, *slog.Logger) (domain.LLMProvider, error)

func newGateway(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger, build providerFactory) (*Gateway, error) {
	gw := NewGateway(logger,
		WithDefaultProvider(cfg.DefaultProvider),
		WithCooldown(cfg.Cooldown),
		WithAttemptTimeout(cfg.AttemptTimeout),
	)

	cb := cfg.CircuitBreaker
	for _, pc := range cfg.Providers {
		provider, err := build(ctx, pc, logger)
		if err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}

		provider = NewRateLimitedProvider(provider, pc.RateLimit)
		if cb.Enabled {
			provider = NewCircuitBreakerProvider(provider, CircuitBreakerConfig{
				MaxFailures: cb.MaxFailures,
				Timeout:     cb.Timeout,
				Interval:    cb.Interval,
			}, logger)
		}

		typ := pc.Type
		if typ == "" {
			typ = pc.Name
		}
		if err := gw.AddProvider(provider, ProviderSettings{
			Type:     typ,
			Priority: pc.Priority,
			Enabled:  pc.IsEnabled(),
			Retry:    retryPolicyFrom(pc.Retry),
		}); err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}
	}

	if cb.Enabled {
		logger.Info("llm circuit breaker enabled",
			"max_failures", cb.MaxFailures,
			"timeout", cb.Timeout,
			"interval", cb.Interval,
		)
	}
	return gw, nil
}
