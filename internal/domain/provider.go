package domain

import (
	"context"
	"time"
)

// LLMProvider is the interface for any LLM backend.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "openai", "groq").
	Name() string
}

// HealthChecker is implemented by providers with a cheap native health check.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthStatus is the outcome of a provider health check.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthDegraded  HealthStatus = "DEGRADED"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// ProviderHealth is a transient snapshot of a provider's availability.
type ProviderHealth struct {
	Provider  string        `json:"provider"`
	Status    HealthStatus  `json:"status"`
	Latency   time.Duration `json:"latency"`
	Message   string        `json:"message,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}
