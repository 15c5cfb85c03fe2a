package tool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"reagent/internal/domain"
)

// ParametersSchema renders a tool's declared parameters as a JSON Schema
// object, the form LLM function-calling APIs expect.
func ParametersSchema(def domain.ToolDefinition) json.RawMessage {
	props := make(map[string]any, len(def.Parameters))
	required := make([]string, 0)
	for name, p := range def.Parameters {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Pattern != "" && p.Type == domain.ParamString {
			prop["pattern"] = p.Pattern
		}
		if len(p.Enum) > 0 && p.Type == domain.ParamString {
			prop["enum"] = p.Enum
		}
		if p.Min != nil && isNumeric(p.Type) {
			prop["minimum"] = *p.Min
		}
		if p.Max != nil && isNumeric(p.Type) {
			prop["maximum"] = *p.Max
		}
		if p.Default != nil {
			prop["default"] = p.Default.Interface()
		}
		props[name] = prop
		if p.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}

func isNumeric(t domain.ParameterType) bool {
	return t == domain.ParamNumber || t == domain.ParamInteger
}

// compileParameterSchema compiles the exported parameter schema so coerced
// parameters can be checked as a whole object.
func compileParameterSchema(def domain.ToolDefinition) (*jsonschema.Schema, error) {
	raw := ParametersSchema(def)

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", def.Name, err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", def.Name, err)
	}
	return compiled, nil
}

// validateAgainstSchema checks coerced parameters against the compiled
// parameter schema.
func (e *entry) validateAgainstSchema(params map[string]domain.Value) error {
	if e.paramSchema == nil {
		return nil
	}
	doc := make(map[string]any, len(params))
	for k, v := range params {
		doc[k] = v.Interface()
	}
	if err := e.paramSchema.Validate(doc); err != nil {
		return fmt.Errorf("%w: schema validation failed: %v", domain.ErrInvalidParameter, err)
	}
	return nil
}

// validateResult checks a tool result against the optional result schema.
func (e *entry) validateResult(result domain.Value) error {
	if e.resultSchema == nil {
		return nil
	}
	res := e.resultSchema.Validate(result.Interface())
	if !res.IsValid() {
		return fmt.Errorf("%w: result does not match schema: %v", domain.ErrToolFailure, res.Error())
	}
	return nil
}
