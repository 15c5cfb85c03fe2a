package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the domain layer.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")

	ErrProviderNotFound     = fmt.Errorf("llm provider not found")
	ErrNoProviders          = fmt.Errorf("no llm provider available")
	ErrProvidersExhausted   = fmt.Errorf("all llm providers failed")
	ErrToolNotFound         = fmt.Errorf("tool not found")
	ErrInvalidParameter     = fmt.Errorf("invalid tool parameter")
	ErrToolFailure          = fmt.Errorf("tool execution failed")
	ErrToolTimeout          = fmt.Errorf("tool execution timed out")
	ErrMaxIterations        = fmt.Errorf("agent reached max iterations")
	ErrConversationNotFound = fmt.Errorf("conversation not found")
	ErrStatePersistence     = fmt.Errorf("conversation state persistence failed")
	ErrInvalidTransition    = fmt.Errorf("invalid conversation state transition")
	ErrBudgetNotFound       = fmt.Errorf("token budget not found")
	ErrTokenLimit           = fmt.Errorf("token limit exceeded")
	ErrConfigLoad           = fmt.Errorf("failed to load configuration")
	ErrDecryption           = fmt.Errorf("decryption failed")
	ErrEncryption           = fmt.Errorf("encryption operation failed")
	ErrStoreClosed          = fmt.Errorf("store is closed")

	// Resilience errors.
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrUnavailable     = fmt.Errorf("service unavailable")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Engine.ProcessMessage")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout)
}

// LimitKind names which budget a request would exceed.
type LimitKind string

const (
	LimitDaily        LimitKind = "DAILY"
	LimitMonthly      LimitKind = "MONTHLY"
	LimitConversation LimitKind = "CONVERSATION"
	LimitRequest      LimitKind = "REQUEST"
)

// LimitError reports a token budget violation found during pre-flight validation.
type LimitError struct {
	Kind           LimitKind
	Current        int64
	Limit          int64
	UserID         string
	ConversationID string
	Suggestions    []string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s token limit exceeded: %d/%d", strings.ToLower(string(e.Kind)), e.Current, e.Limit)
}

func (e *LimitError) Unwrap() error { return ErrTokenLimit }

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown              ErrorCode = "UNKNOWN"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeTimeout              ErrorCode = "TIMEOUT"
	CodeInvalidInput         ErrorCode = "INVALID_INPUT"
	CodeProviderError        ErrorCode = "PROVIDER_ERROR"
	CodeProviderNotFound     ErrorCode = "PROVIDER_NOT_FOUND"
	CodeNoProviders          ErrorCode = "NO_PROVIDERS"
	CodeProvidersExhausted   ErrorCode = "PROVIDERS_EXHAUSTED"
	CodeToolNotFound         ErrorCode = "TOOL_NOT_FOUND"
	CodeInvalidParameter     ErrorCode = "INVALID_PARAMETER"
	CodeExecutionError       ErrorCode = "EXECUTION_ERROR"
	CodeMaxIterations        ErrorCode = "MAX_ITERATIONS"
	CodeConversationNotFound ErrorCode = "CONVERSATION_NOT_FOUND"
	CodeStatePersistence     ErrorCode = "STATE_PERSISTENCE"
	CodeInvalidTransition    ErrorCode = "INVALID_TRANSITION"
	CodeBudgetNotFound       ErrorCode = "BUDGET_NOT_FOUND"
	CodeTokenLimit           ErrorCode = "TOKEN_LIMIT"
	CodeConfigLoad           ErrorCode = "CONFIG_LOAD"
	CodeDecryption           ErrorCode = "DECRYPTION"
	CodeEncryption           ErrorCode = "ENCRYPTION"
	CodeStoreClosed          ErrorCode = "STORE_CLOSED"
	CodeContextOverflow      ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit            ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid          ErrorCode = "AUTH_INVALID"
	CodeUnavailable          ErrorCode = "UNAVAILABLE"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:             CodeNotFound,
	ErrTimeout:              CodeTimeout,
	ErrInvalidInput:         CodeInvalidInput,
	ErrProviderError:        CodeProviderError,
	ErrProviderNotFound:     CodeProviderNotFound,
	ErrNoProviders:          CodeNoProviders,
	ErrProvidersExhausted:   CodeProvidersExhausted,
	ErrToolNotFound:         CodeToolNotFound,
	ErrInvalidParameter:     CodeInvalidParameter,
	ErrToolFailure:          CodeExecutionError,
	ErrToolTimeout:          CodeTimeout,
	ErrMaxIterations:        CodeMaxIterations,
	ErrConversationNotFound: CodeConversationNotFound,
	ErrStatePersistence:     CodeStatePersistence,
	ErrInvalidTransition:    CodeInvalidTransition,
	ErrBudgetNotFound:       CodeBudgetNotFound,
	ErrTokenLimit:           CodeTokenLimit,
	ErrConfigLoad:           CodeConfigLoad,
	ErrDecryption:           CodeDecryption,
	ErrEncryption:           CodeEncryption,
	ErrStoreClosed:          CodeStoreClosed,
	ErrContextOverflow:      CodeContextOverflow,
	ErrRateLimit:            CodeRateLimit,
	ErrAuthInvalid:          CodeAuthInvalid,
	ErrUnavailable:          CodeUnavailable,
}

// codePriority orders sentinels for chain walking so that a specific cause
// (e.g. exhaustion) wins over the generic ones it wraps.
var codePriority = []error{
	ErrProvidersExhausted,
	ErrNoProviders,
	ErrStatePersistence,
	ErrTokenLimit,
	ErrToolNotFound,
	ErrInvalidParameter,
	ErrToolTimeout,
	ErrToolFailure,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for _, sentinel := range codePriority {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
