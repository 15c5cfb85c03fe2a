package tool

import (
	"context"
	"errors"
	"strings"

	"reagent/internal/domain"
)

// retryableSentinels lists domain errors that indicate transient failures
// worth retrying.
var retryableSentinels = []error{
	domain.ErrTimeout,
	domain.ErrToolTimeout,
	domain.ErrUnavailable,
	domain.ErrRateLimit,
	context.DeadlineExceeded,
}

// retryablePatterns are substrings in error messages that indicate transient failures.
// Checked case-insensitively.
var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"timeout",
	"deadline exceeded",
	"temporarily unavailable",
	"service unavailable",
	"try again",
	"too many requests",
}

// classifyToolError returns true if the error is transient and the tool call
// may succeed on retry. Returns false for nil, permanent, or unknown errors.
func classifyToolError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrInvalidParameter) || errors.Is(err, domain.ErrToolNotFound) {
		return false
	}

	for _, sentinel := range retryableSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}

	lower := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}

	return false
}

// toolErrorCode maps an execution failure onto the codes surfaced in
// ToolResult metadata.
func toolErrorCode(err error) domain.ErrorCode {
	switch {
	case errors.Is(err, domain.ErrToolNotFound):
		return domain.CodeToolNotFound
	case errors.Is(err, domain.ErrInvalidParameter):
		return domain.CodeInvalidParameter
	case errors.Is(err, domain.ErrToolTimeout), errors.Is(err, context.DeadlineExceeded):
		return domain.CodeTimeout
	default:
		return domain.CodeExecutionError
	}
}
