package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"reagent/internal/domain"
	"reagent/internal/infra/config"
)

// RateLimitedProvider throttles calls to an inner provider using the
// provider's configured request and token budgets. Unset budgets are
// unlimited.
type RateLimitedProvider struct {
	inner     domain.LLMProvider
	perMinute *rate.Limiter
	perHour   *rate.Limiter
	tokens    *rate.Limiter
}

// NewRateLimitedProvider wraps inner. It returns inner unchanged when no
// limit is configured.
func NewRateLimitedProvider(inner domain.LLMProvider, cfg config.RateLimitConfig) domain.LLMProvider {
	if cfg.RequestsPerMinute <= 0 && cfg.RequestsPerHour <= 0 && cfg.TokensPerMinute <= 0 {
		return inner
	}
	p := &RateLimitedProvider{inner: inner}
	if cfg.RequestsPerMinute > 0 {
		p.perMinute = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute)
	}
	if cfg.RequestsPerHour > 0 {
		p.perHour = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerHour)/3600.0), cfg.RequestsPerHour)
	}
	if cfg.TokensPerMinute > 0 {
		p.tokens = rate.NewLimiter(rate.Limit(float64(cfg.TokensPerMinute)/60.0), cfg.TokensPerMinute)
	}
	return p
}

// Chat implements domain.LLMProvider.
func (p *RateLimitedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := p.wait(ctx, req); err != nil {
		return nil, err
	}
	return p.inner.Chat(ctx, req)
}

func (p *RateLimitedProvider) wait(ctx context.Context, req domain.ChatRequest) error {
	for _, l := range []*rate.Limiter{p.perMinute, p.perHour} {
		if l == nil {
			continue
		}
		if err := l.Wait(ctx); err != nil {
			return fmt.Errorf("%w: provider %q: %v", domain.ErrRateLimit, p.inner.Name(), err)
		}
	}
	if p.tokens != nil {
		n := estimateRequestTokens(req)
		if n > p.tokens.Burst() {
			n = p.tokens.Burst()
		}
		if err := p.tokens.WaitN(ctx, n); err != nil {
			return fmt.Errorf("%w: provider %q: %v", domain.ErrRateLimit, p.inner.Name(), err)
		}
	}
	return nil
}

// estimateRequestTokens approximates prompt size at four characters per token.
func estimateRequestTokens(req domain.ChatRequest) int {
	chars := 0
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	n := (chars + 3) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// Name implements domain.LLMProvider.
func (p *RateLimitedProvider) Name() string { return p.inner.Name() }

// Unwrap returns the wrapped provider.
func (p *RateLimitedProvider) Unwrap() domain.LLMProvider { return p.inner }

var _ domain.LLMProvider = (*RateLimitedProvider)(nil)
