package tool

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"reagent/internal/domain"
)

// validateParams applies the declared parameter contract: required checks,
// defaults, type coercion, then range, pattern and enum constraints.
// Undeclared parameters are passed through with a warning.
func (e *entry) validateParams(params map[string]domain.Value, logger *slog.Logger) (map[string]domain.Value, error) {
	out := make(map[string]domain.Value, len(e.def.Parameters)+len(params))

	names := make([]string, 0, len(e.def.Parameters))
	for name := range e.def.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := e.def.Parameters[name]
		v, ok := params[name]
		if !ok || v.IsNull() {
			switch {
			case p.Required:
				return nil, fmt.Errorf("%w: missing required parameter %q", domain.ErrInvalidParameter, name)
			case p.Default != nil:
				out[name] = *p.Default
			}
			continue
		}

		coerced, err := coerce(p.Type, v)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %q: %v", domain.ErrInvalidParameter, name, err)
		}
		if err := checkConstraints(p, coerced, e.patterns[name]); err != nil {
			return nil, fmt.Errorf("%w: parameter %q: %v", domain.ErrInvalidParameter, name, err)
		}
		out[name] = coerced
	}

	for name, v := range params {
		if _, declared := e.def.Parameters[name]; declared {
			continue
		}
		logger.Warn("unknown tool parameter", "tool", e.def.Name, "param", name)
		out[name] = v
	}
	return out, nil
}

// coerce converts v to the declared type where the conversion is lossless.
func coerce(t domain.ParameterType, v domain.Value) (domain.Value, error) {
	switch t {
	case domain.ParamString:
		switch v.Kind() {
		case domain.KindString:
			return v, nil
		case domain.KindNumber, domain.KindBool:
			return domain.StringValue(v.Text()), nil
		}

	case domain.ParamNumber:
		if _, ok := v.AsNumber(); ok {
			return v, nil
		}
		if s, ok := v.AsString(); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
				return domain.NumberValue(f), nil
			}
			return domain.Value{}, fmt.Errorf("%q is not a number", s)
		}

	case domain.ParamInteger:
		if f, ok := v.AsNumber(); ok {
			if f != math.Trunc(f) {
				return domain.Value{}, fmt.Errorf("%v is not an integer", f)
			}
			return v, nil
		}
		if s, ok := v.AsString(); ok {
			i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil {
				return domain.Value{}, fmt.Errorf("%q is not an integer", s)
			}
			return domain.IntValue(i), nil
		}

	case domain.ParamBoolean:
		if _, ok := v.AsBool(); ok {
			return v, nil
		}
		if s, ok := v.AsString(); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(s))
			if err != nil {
				return domain.Value{}, fmt.Errorf("%q is not a boolean", s)
			}
			return domain.BoolValue(b), nil
		}

	case domain.ParamArray:
		if _, ok := v.AsList(); ok {
			return v, nil
		}
		if s, ok := v.AsString(); ok {
			return decodeAs(s, domain.KindList)
		}

	case domain.ParamObject:
		if _, ok := v.AsMap(); ok {
			return v, nil
		}
		if s, ok := v.AsString(); ok {
			return decodeAs(s, domain.KindMap)
		}

	default:
		return v, nil
	}
	return domain.Value{}, fmt.Errorf("expected %s, got %s", t, v.Kind())
}

func decodeAs(s string, kind domain.ValueKind) (domain.Value, error) {
	var v domain.Value
	if err := json.Unmarshal([]byte(s), &v); err != nil || v.Kind() != kind {
		return domain.Value{}, fmt.Errorf("expected %s, got string", kind)
	}
	return v, nil
}

func checkConstraints(p domain.ParameterDefinition, v domain.Value, re *regexp.Regexp) error {
	if f, ok := v.AsNumber(); ok {
		if p.Min != nil && f < *p.Min {
			return fmt.Errorf("%v is below minimum %v", f, *p.Min)
		}
		if p.Max != nil && f > *p.Max {
			return fmt.Errorf("%v is above maximum %v", f, *p.Max)
		}
	}
	if s, ok := v.AsString(); ok {
		if re != nil && !re.MatchString(s) {
			return fmt.Errorf("%q does not match pattern %q", s, p.Pattern)
		}
		if len(p.Enum) > 0 && !slices.Contains(p.Enum, s) {
			return fmt.Errorf("%q is not one of %s", s, strings.Join(p.Enum, ", "))
		}
	}
	return nil
}
