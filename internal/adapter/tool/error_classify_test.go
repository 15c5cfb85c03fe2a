package tool

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"reagent/internal/domain"
)

func TestClassifyToolError_Nil(t *testing.T) {
	if classifyToolError(nil) {
		t.Error("expected nil error to be non-retryable")
	}
}

func TestClassifyToolError_RetryableSentinels(t *testing.T) {
	sentinels := []struct {
		name     string
		sentinel error
	}{
		{"ErrTimeout", domain.ErrTimeout},
		{"ErrToolTimeout", domain.ErrToolTimeout},
		{"ErrUnavailable", domain.ErrUnavailable},
		{"ErrRateLimit", domain.ErrRateLimit},
		{"DeadlineExceeded", context.DeadlineExceeded},
	}
	for _, tt := range sentinels {
		t.Run(tt.name, func(t *testing.T) {
			if !classifyToolError(tt.sentinel) {
				t.Errorf("expected %s to be retryable", tt.name)
			}
		})
	}
}

func TestClassifyToolError_WrappedRetryableSentinels(t *testing.T) {
	wrapped := fmt.Errorf("lookup weather: %w", domain.ErrTimeout)
	if !classifyToolError(wrapped) {
		t.Error("expected wrapped ErrTimeout to be retryable")
	}

	derr := domain.NewDomainError("WeatherTool.Execute", domain.ErrUnavailable, "upstream down")
	if !classifyToolError(derr) {
		t.Error("expected DomainError wrapping ErrUnavailable to be retryable")
	}
}

func TestClassifyToolError_PermanentSentinels(t *testing.T) {
	permanents := []struct {
		name     string
		sentinel error
	}{
		{"ErrToolNotFound", domain.ErrToolNotFound},
		{"ErrInvalidParameter", domain.ErrInvalidParameter},
		{"ErrNotFound", domain.ErrNotFound},
		{"ErrInvalidInput", domain.ErrInvalidInput},
		{"ErrToolFailure", domain.ErrToolFailure},
	}
	for _, tt := range permanents {
		t.Run(tt.name, func(t *testing.T) {
			if classifyToolError(tt.sentinel) {
				t.Errorf("expected %s to be non-retryable (permanent)", tt.name)
			}
		})
	}
}

func TestClassifyToolError_InvalidParameterNeverRetryable(t *testing.T) {
	err := fmt.Errorf("%w: parameter %q: connection timeout must be positive", domain.ErrInvalidParameter, "timeout")
	if classifyToolError(err) {
		t.Error("expected parameter errors to stay permanent regardless of message text")
	}
}

func TestClassifyToolError_StringPatterns(t *testing.T) {
	retryables := []struct {
		name string
		err  string
	}{
		{"connection refused", "dial tcp 127.0.0.1:6379: connection refused"},
		{"connection reset", "read tcp 10.0.0.1:443: connection reset by peer"},
		{"no such host", "dial tcp: lookup api.local: no such host"},
		{"timeout", "http: request timeout after 30s"},
		{"deadline exceeded", "context deadline exceeded"},
		{"temporarily unavailable", "resource temporarily unavailable"},
		{"service unavailable", "HTTP 503: service unavailable"},
		{"try again", "server busy, please try again later"},
		{"too many requests", "HTTP 429: Too Many Requests"},
	}
	for _, tt := range retryables {
		t.Run(tt.name, func(t *testing.T) {
			if !classifyToolError(errors.New(tt.err)) {
				t.Errorf("expected %q to be retryable", tt.err)
			}
		})
	}
}

func TestClassifyToolError_NonRetryableStrings(t *testing.T) {
	permanents := []string{
		"record xyz not found",
		"permission denied: /etc/shadow",
		"division by zero",
		"something completely unexpected happened",
		"",
	}
	for _, msg := range permanents {
		t.Run(msg, func(t *testing.T) {
			if classifyToolError(errors.New(msg)) {
				t.Errorf("expected %q to be non-retryable", msg)
			}
		})
	}
}

func TestToolErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want domain.ErrorCode
	}{
		{domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, "x"), domain.CodeToolNotFound},
		{fmt.Errorf("%w: missing", domain.ErrInvalidParameter), domain.CodeInvalidParameter},
		{fmt.Errorf("%w: after 1s", domain.ErrToolTimeout), domain.CodeTimeout},
		{context.DeadlineExceeded, domain.CodeTimeout},
		{errors.New("boom"), domain.CodeExecutionError},
	}
	for _, tt := range tests {
		if got := toolErrorCode(tt.err); got != tt.want {
			t.Errorf("toolErrorCode(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
