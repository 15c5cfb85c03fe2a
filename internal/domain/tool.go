package domain

import (
	"context"
	"encoding/json"
	"time"
)

// ToolSchema describes a tool for the LLM function-calling protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall represents an LLM's request to invoke a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ParameterType is the declared type of a tool parameter.
type ParameterType string

const (
	ParamString  ParameterType = "string"
	ParamNumber  ParameterType = "number"
	ParamInteger ParameterType = "integer"
	ParamBoolean ParameterType = "boolean"
	ParamArray   ParameterType = "array"
	ParamObject  ParameterType = "object"
)

// ParameterDefinition declares one named tool parameter.
type ParameterDefinition struct {
	Type        ParameterType `json:"type"`
	Description string        `json:"description,omitempty"`
	Required    bool          `json:"required,omitempty"`
	Default     *Value        `json:"default,omitempty"`
	Pattern     string        `json:"pattern,omitempty"`
	Min         *float64      `json:"min,omitempty"`
	Max         *float64      `json:"max,omitempty"`
	Enum        []string      `json:"enum,omitempty"`
}

// ToolDefinition is the registered contract of a tool.
type ToolDefinition struct {
	Name        string                         `json:"name"`
	Description string                         `json:"description"`
	Async       bool                           `json:"async,omitempty"`
	Permissions []string                       `json:"permissions,omitempty"`
	Parameters  map[string]ParameterDefinition `json:"parameters"`
	// ResultSchema optionally constrains the tool's result as a JSON Schema document.
	ResultSchema json.RawMessage `json:"result_schema,omitempty"`
}

// ToolResult is the normalized outcome of one tool invocation.
type ToolResult struct {
	CallID   string           `json:"call_id,omitempty"`
	ToolName string           `json:"tool_name"`
	Success  bool             `json:"success"`
	Result   Value            `json:"result"`
	Error    string           `json:"error,omitempty"`
	Metadata map[string]Value `json:"metadata,omitempty"`
	Duration time.Duration    `json:"duration"`
}

// ErrorCode returns the error_code metadata of a failed result.
func (r ToolResult) ErrorCode() ErrorCode {
	if r.Success {
		return ""
	}
	s, _ := r.Metadata["error_code"].AsString()
	return ErrorCode(s)
}

// Observation renders the result as text fed back to the model.
func (r ToolResult) Observation() string {
	if r.Success {
		return r.Result.Text()
	}
	if code := r.ErrorCode(); code != "" {
		return "Error (" + string(code) + "): " + r.Error
	}
	return "Error: " + r.Error
}

// Tool is the interface every tool must implement.
type Tool interface {
	Name() string
	Definition() ToolDefinition
	Execute(ctx context.Context, params map[string]Value) (Value, error)
}
