package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"reagent/internal/domain"
	"reagent/internal/infra/config"
	"reagent/internal/infra/tracer"
)

// Gateway defaults.
const (
	defaultCooldown       = time.Minute
	defaultAttemptTimeout = 2 * time.Minute
	degradedLatency       = 5 * time.Second
)

// RetryPolicy controls per-provider retries of retryable failures.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy returns 3 attempts starting at 500ms, doubling up to 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     10 * time.Second,
	}
}

func retryPolicyFrom(cfg config.RetryConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialDelay > 0 {
		p.InitialDelay = cfg.InitialDelay
	}
	if cfg.Multiplier >= 1 {
		p.Multiplier = cfg.Multiplier
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	return p
}

// Delay returns the wait before retry number attempt (0-based), with up to
// 25% jitter added and the result capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	base := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if p.MaxDelay > 0 && base > float64(p.MaxDelay) {
		base = float64(p.MaxDelay)
	}
	jitter := base * 0.25 * rand.Float64()
	d := time.Duration(base + jitter)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// ProviderSettings are the routing attributes of one registered provider.
type ProviderSettings struct {
	Type     string
	Priority int
	Enabled  bool
	Retry    RetryPolicy
}

type healthRecord struct {
	status    domain.HealthStatus
	checkedAt time.Time
	message   string
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

// WithCooldown sets how long an unhealthy provider is skipped.
func WithCooldown(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.cooldown = d
		}
	}
}

// WithAttemptTimeout bounds each individual provider call.
func WithAttemptTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.attemptTimeout = d
		}
	}
}

// WithDefaultProvider sets the provider tried first when none is requested.
func WithDefaultProvider(name string) GatewayOption {
	return func(g *Gateway) { g.defaultProvider = name }
}

// WithClock overrides time and sleeping, for tests.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) GatewayOption {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
		if sleep != nil {
			g.sleep = sleep
		}
	}
}

// Gateway routes chat requests across providers with retry, priority
// failover and health cool-down.
type Gateway struct {
	registry        *Registry
	defaultProvider string
	cooldown        time.Duration
	attemptTimeout  time.Duration
	logger          *slog.Logger
	now             func() time.Time
	sleep           func(context.Context, time.Duration) error

	mu       sync.RWMutex
	settings map[string]ProviderSettings
	health   map[string]healthRecord
}

// NewGateway creates a gateway with an empty provider set.
func NewGateway(logger *slog.Logger, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		registry:       NewRegistry(),
		cooldown:       defaultCooldown,
		attemptTimeout: defaultAttemptTimeout,
		logger:         logger,
		now:            time.Now,
		sleep:          sleepCtx,
		settings:       make(map[string]ProviderSettings),
		health:         make(map[string]healthRecord),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// AddProvider registers a provider with its routing settings.
func (g *Gateway) AddProvider(p domain.LLMProvider, s ProviderSettings) error {
	if err := g.registry.Register(p); err != nil {
		return err
	}
	if s.Retry.MaxAttempts <= 0 {
		s.Retry = DefaultRetryPolicy()
	}
	if s.Type == "" {
		s.Type = p.Name()
	}
	g.mu.Lock()
	g.settings[p.Name()] = s
	g.mu.Unlock()
	return nil
}

// ProviderType returns the configured type of a provider, or "" if unknown.
func (g *Gateway) ProviderType(name string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.settings[name].Type
}

// DefaultProvider returns the provider tried first when none is requested.
func (g *Gateway) DefaultProvider() string { return g.defaultProvider }

// AvailableProviders returns enabled providers that are not cooling down,
// ordered by priority then name.
func (g *Gateway) AvailableProviders() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	now := g.now()
	var out []string
	for _, name := range g.registry.List() {
		s := g.settings[name]
		if !s.Enabled || g.coolingDownLocked(name, now) {
			continue
		}
		out = append(out, name)
	}
	g.sortByPriorityLocked(out)
	return out
}

// GenerateResponse sends req to providerID (or the default provider when
// empty), retrying retryable failures and failing over to the remaining
// enabled providers in priority order.
func (g *Gateway) GenerateResponse(ctx context.Context, req domain.ChatRequest, providerID string) (*domain.ChatResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "gateway.generate")
	defer span.End()

	candidates, err := g.candidates(providerID)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var errs []error
	var last *GatewayError
	for _, name := range candidates {
		resp, gerr := g.tryProvider(ctx, name, req)
		if gerr == nil {
			span.SetAttributes(tracer.StringAttr("llm.provider", name))
			tracer.SetOK(span)
			return resp, nil
		}
		if ctx.Err() != nil {
			tracer.RecordError(span, ctx.Err())
			return nil, ctx.Err()
		}
		last = gerr
		errs = append(errs, gerr)
		if gerr.Kind == KindInvalidRequest {
			// Another provider would reject the same request.
			tracer.RecordError(span, gerr)
			return nil, gerr
		}
		g.logger.Warn("llm provider failed, failing over",
			"provider", name, "kind", gerr.Kind, "attempts", gerr.Attempts, "error", gerr.Err)
	}

	if len(errs) == 1 {
		tracer.RecordError(span, last)
		return nil, last
	}
	exhausted := &GatewayError{
		Kind: KindExhausted,
		Err:  errors.Join(append([]error{domain.ErrProvidersExhausted}, errs...)...),
	}
	tracer.RecordError(span, exhausted)
	return nil, exhausted
}

// candidates orders the providers to try for one request.
func (g *Gateway) candidates(providerID string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if providerID != "" {
		if _, ok := g.settings[providerID]; !ok {
			return nil, &GatewayError{
				Kind:     KindInvalidRequest,
				Provider: providerID,
				Err:      domain.NewDomainError("Gateway.GenerateResponse", domain.ErrProviderNotFound, providerID),
			}
		}
	}

	now := g.now()
	var enabled, ready []string
	for _, name := range g.registry.List() {
		if !g.settings[name].Enabled {
			continue
		}
		enabled = append(enabled, name)
		if !g.coolingDownLocked(name, now) {
			ready = append(ready, name)
		}
	}
	if len(enabled) == 0 {
		return nil, &GatewayError{Kind: KindUnavailable, Err: domain.ErrNoProviders}
	}
	// Everything cooling down: try anyway rather than fail without a call.
	if len(ready) == 0 {
		ready = enabled
	}
	g.sortByPriorityLocked(ready)

	first := providerID
	if first == "" {
		first = g.defaultProvider
	}
	if first != "" {
		for i, name := range ready {
			if name == first {
				ready = append([]string{name}, append(ready[:i:i], ready[i+1:]...)...)
				break
			}
		}
	}
	return ready, nil
}

// tryProvider runs the retry loop against a single provider.
func (g *Gateway) tryProvider(ctx context.Context, name string, req domain.ChatRequest) (*domain.ChatResponse, *GatewayError) {
	provider, err := g.registry.Get(name)
	if err != nil {
		return nil, &GatewayError{Kind: KindInvalidRequest, Provider: name, Err: err}
	}
	g.mu.RLock()
	policy := g.settings[name].Retry
	g.mu.RUnlock()

	var gerr *GatewayError
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := policy.Delay(attempt - 1)
			g.logger.Debug("retrying llm provider", "provider", name, "attempt", attempt+1, "delay", delay)
			if err := g.sleep(ctx, delay); err != nil {
				gerr.Attempts = attempt
				return nil, gerr
			}
		}

		resp, err := g.callOnce(ctx, provider, req)
		if err == nil {
			if resp.Provider == "" {
				resp.Provider = name
			}
			g.markHealth(name, domain.HealthHealthy, "")
			return resp, nil
		}

		gerr = classify(name, err)
		gerr.Attempts = attempt + 1
		if !gerr.Retryable || ctx.Err() != nil {
			break
		}
	}

	switch gerr.Kind {
	case KindRateLimited:
		g.markHealth(name, domain.HealthDegraded, gerr.Err.Error())
	case KindInvalidRequest:
	default:
		g.markHealth(name, domain.HealthUnhealthy, gerr.Err.Error())
	}
	return nil, gerr
}

// callOnce bounds a single provider call by the per-attempt timeout.
func (g *Gateway) callOnce(ctx context.Context, p domain.LLMProvider, req domain.ChatRequest) (*domain.ChatResponse, error) {
	actx, cancel := context.WithTimeout(ctx, g.attemptTimeout)
	defer cancel()

	type result struct {
		resp *domain.ChatResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := p.Chat(actx, req)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		if r.err == nil && r.resp == nil {
			return nil, fmt.Errorf("%w: provider %q returned no response", domain.ErrUnavailable, p.Name())
		}
		return r.resp, r.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: provider %q attempt exceeded %s", domain.ErrTimeout, p.Name(), g.attemptTimeout)
	}
}

// CheckProviderHealth checks a provider and records the result. Providers
// with a native health check use it; others receive a one-token chat request.
func (g *Gateway) CheckProviderHealth(ctx context.Context, id string) domain.ProviderHealth {
	h := domain.ProviderHealth{Provider: id}
	provider, err := g.registry.Get(id)
	if err != nil {
		h.Status = domain.HealthUnhealthy
		h.Message = err.Error()
		h.CheckedAt = g.now()
		return h
	}

	actx, cancel := context.WithTimeout(ctx, g.attemptTimeout)
	defer cancel()

	start := g.now()
	if hc, ok := unwrapHealthChecker(provider); ok {
		err = hc.CheckHealth(actx)
	} else {
		_, err = g.callOnce(actx, provider, domain.ChatRequest{
			Messages:  []domain.Message{{Role: domain.RoleUser, Content: "ping"}},
			MaxTokens: 1,
		})
	}
	h.CheckedAt = g.now()
	h.Latency = h.CheckedAt.Sub(start)

	switch {
	case err != nil:
		h.Status = domain.HealthUnhealthy
		h.Message = err.Error()
	case h.Latency > degradedLatency:
		h.Status = domain.HealthDegraded
		h.Message = "slow response"
	default:
		h.Status = domain.HealthHealthy
	}
	g.markHealth(id, h.Status, h.Message)
	return h
}

// CheckAll checks every registered provider.
func (g *Gateway) CheckAll(ctx context.Context) []domain.ProviderHealth {
	names := g.registry.List()
	out := make([]domain.ProviderHealth, 0, len(names))
	for _, name := range names {
		out = append(out, g.CheckProviderHealth(ctx, name))
	}
	return out
}

func (g *Gateway) markHealth(name string, status domain.HealthStatus, msg string) {
	g.mu.Lock()
	g.health[name] = healthRecord{status: status, checkedAt: g.now(), message: msg}
	g.mu.Unlock()
}

func (g *Gateway) coolingDownLocked(name string, now time.Time) bool {
	rec, ok := g.health[name]
	return ok && rec.status == domain.HealthUnhealthy && now.Sub(rec.checkedAt) < g.cooldown
}

func (g *Gateway) sortByPriorityLocked(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		pi, pj := g.settings[names[i]].Priority, g.settings[names[j]].Priority
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})
}

// unwrapHealthChecker walks decorator chains looking for a native health check.
func unwrapHealthChecker(p domain.LLMProvider) (domain.HealthChecker, bool) {
	for p != nil {
		if hc, ok := p.(domain.HealthChecker); ok {
			return hc, true
		}
		u, ok := p.(interface{ Unwrap() domain.LLMProvider })
		if !ok {
			return nil, false
		}
		p = u.Unwrap()
	}
	return nil, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
