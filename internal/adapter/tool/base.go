package tool

import (
	"context"
	"fmt"

	"reagent/internal/domain"
)

// Handler is the body of a function-backed tool.
type Handler func(ctx context.Context, params map[string]domain.Value) (domain.Value, error)

// Func adapts a plain function into a domain.Tool.
type Func struct {
	def     domain.ToolDefinition
	handler Handler
}

// NewFunc creates a tool from a definition and a handler.
//
// Usage:
//
//	echo := NewFunc(domain.ToolDefinition{
//	    Name: "echo",
//	    Parameters: map[string]domain.ParameterDefinition{
//	        "text": {Type: domain.ParamString, Required: true},
//	    },
//	}, func(ctx context.Context, p map[string]domain.Value) (domain.Value, error) {
//	    return p["text"], nil
//	})
func NewFunc(def domain.ToolDefinition, handler Handler) *Func {
	return &Func{def: def, handler: handler}
}

func (f *Func) Name() string                      { return f.def.Name }
func (f *Func) Definition() domain.ToolDefinition { return f.def }

func (f *Func) Execute(ctx context.Context, params map[string]domain.Value) (domain.Value, error) {
	return f.handler(ctx, params)
}

// StringArg returns a string parameter or "" when absent.
func StringArg(params map[string]domain.Value, name string) string {
	s, _ := params[name].AsString()
	return s
}

// NumberArg returns a numeric parameter, reporting whether it was present.
func NumberArg(params map[string]domain.Value, name string) (float64, bool) {
	return params[name].AsNumber()
}

// IntArg returns an integer parameter or def when absent.
func IntArg(params map[string]domain.Value, name string, def int) int {
	if i, ok := params[name].AsInt(); ok {
		return int(i)
	}
	return def
}

// Failf returns an execution failure for the executor to normalize.
func Failf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrToolFailure, fmt.Sprintf(format, args...))
}

var _ domain.Tool = (*Func)(nil)
