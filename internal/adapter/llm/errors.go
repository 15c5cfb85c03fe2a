package llm

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sony/gobreaker/v2"

	"reagent/internal/domain"
)

// ErrorKind classifies gateway failures.
type ErrorKind string

const (
	KindAuthFailed     ErrorKind = "AUTH_FAILED"
	KindRateLimited    ErrorKind = "RATE_LIMITED"
	KindUnavailable    ErrorKind = "UNAVAILABLE"
	KindInvalidRequest ErrorKind = "INVALID_REQUEST"
	KindExhausted      ErrorKind = "EXHAUSTED"
)

// GatewayError is the typed failure returned by Gateway.GenerateResponse.
type GatewayError struct {
	Kind      ErrorKind
	Provider  string
	Retryable bool
	Attempts  int
	Err       error
}

func (e *GatewayError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("gateway %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("gateway %s (provider %s, %d attempts): %v", e.Kind, e.Provider, e.Attempts, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// classify maps a provider error to a GatewayError. Circuit-open errors are
// unavailable but not worth retrying against the same provider.
func classify(provider string, err error) *GatewayError {
	ge := &GatewayError{Provider: provider, Err: err}

	var existing *GatewayError
	if errors.As(err, &existing) {
		ge.Kind, ge.Retryable = existing.Kind, existing.Retryable
		return ge
	}

	var netErr net.Error
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		ge.Kind, ge.Retryable = KindUnavailable, false
	case errors.Is(err, domain.ErrAuthInvalid):
		ge.Kind, ge.Retryable = KindAuthFailed, false
	case errors.Is(err, domain.ErrRateLimit):
		ge.Kind, ge.Retryable = KindRateLimited, true
	case errors.Is(err, domain.ErrContextOverflow), errors.Is(err, domain.ErrInvalidInput):
		ge.Kind, ge.Retryable = KindInvalidRequest, false
	case errors.Is(err, domain.ErrUnavailable), errors.Is(err, domain.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		ge.Kind, ge.Retryable = KindUnavailable, true
	default:
		ge.Kind, ge.Retryable = KindUnavailable, true
	}
	return ge
}
