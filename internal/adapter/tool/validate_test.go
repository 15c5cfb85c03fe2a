package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reagent/internal/domain"
)

func mustEntry(t *testing.T, params map[string]domain.ParameterDefinition) *entry {
	t.Helper()
	reg := NewRegistry(newTestLogger())
	require.NoError(t, reg.RegisterTool(newStubTool("subject", params)))
	e, err := reg.lookup("subject")
	require.NoError(t, err)
	return e
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		typ     domain.ParameterType
		in      domain.Value
		want    domain.Value
		wantErr bool
	}{
		{"string as is", domain.ParamString, domain.StringValue("a"), domain.StringValue("a"), false},
		{"number to string", domain.ParamString, domain.NumberValue(2.5), domain.StringValue("2.5"), false},
		{"bool to string", domain.ParamString, domain.BoolValue(true), domain.StringValue("true"), false},
		{"list to string", domain.ParamString, domain.ListValue(), domain.Value{}, true},
		{"number", domain.ParamNumber, domain.NumberValue(1.5), domain.NumberValue(1.5), false},
		{"numeric string", domain.ParamNumber, domain.StringValue(" 3.25 "), domain.NumberValue(3.25), false},
		{"bad numeric string", domain.ParamNumber, domain.StringValue("three"), domain.Value{}, true},
		{"integer", domain.ParamInteger, domain.NumberValue(4), domain.IntValue(4), false},
		{"fractional integer", domain.ParamInteger, domain.NumberValue(4.2), domain.Value{}, true},
		{"integer string", domain.ParamInteger, domain.StringValue("42"), domain.IntValue(42), false},
		{"boolean", domain.ParamBoolean, domain.BoolValue(false), domain.BoolValue(false), false},
		{"boolean string", domain.ParamBoolean, domain.StringValue("true"), domain.BoolValue(true), false},
		{"bad boolean", domain.ParamBoolean, domain.StringValue("maybe"), domain.Value{}, true},
		{"array", domain.ParamArray, domain.ListValue(domain.IntValue(1)), domain.ListValue(domain.IntValue(1)), false},
		{"array string", domain.ParamArray, domain.StringValue(`["a"]`), domain.ListValue(domain.StringValue("a")), false},
		{"object string", domain.ParamObject, domain.StringValue(`{"k":1}`),
			domain.MapValue(map[string]domain.Value{"k": domain.IntValue(1)}), false},
		{"object from array string", domain.ParamObject, domain.StringValue(`[1]`), domain.Value{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerce(tt.typ, tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestValidateParamsRequired(t *testing.T) {
	e := mustEntry(t, map[string]domain.ParameterDefinition{
		"expression": {Type: domain.ParamString, Required: true},
	})

	_, err := e.validateParams(map[string]domain.Value{}, newTestLogger())
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	_, err = e.validateParams(map[string]domain.Value{"expression": domain.NullValue()}, newTestLogger())
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}

func TestValidateParamsDefaults(t *testing.T) {
	def := domain.IntValue(5)
	e := mustEntry(t, map[string]domain.ParameterDefinition{
		"limit":    {Type: domain.ParamInteger, Default: &def},
		"optional": {Type: domain.ParamString},
	})

	out, err := e.validateParams(map[string]domain.Value{}, newTestLogger())
	require.NoError(t, err)
	assert.True(t, out["limit"].Equal(domain.IntValue(5)))
	_, present := out["optional"]
	assert.False(t, present, "absent optional without default stays absent")
}

func TestValidateParamsConstraints(t *testing.T) {
	e := mustEntry(t, map[string]domain.ParameterDefinition{
		"age":  {Type: domain.ParamInteger, Min: ptr(0), Max: ptr(150)},
		"code": {Type: domain.ParamString, Pattern: `^[A-Z]{3}$`},
		"mode": {Type: domain.ParamString, Enum: []string{"fast", "deep"}},
	})

	tests := []struct {
		name    string
		params  map[string]domain.Value
		wantErr bool
	}{
		{"all valid", map[string]domain.Value{
			"age": domain.IntValue(30), "code": domain.StringValue("ABC"), "mode": domain.StringValue("fast"),
		}, false},
		{"below min", map[string]domain.Value{"age": domain.IntValue(-1)}, true},
		{"above max", map[string]domain.Value{"age": domain.StringValue("151")}, true},
		{"pattern mismatch", map[string]domain.Value{"code": domain.StringValue("abc")}, true},
		{"not in enum", map[string]domain.Value{"mode": domain.StringValue("slow")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.validateParams(tt.params, newTestLogger())
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidParameter)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateParamsUnknownPassThrough(t *testing.T) {
	e := mustEntry(t, map[string]domain.ParameterDefinition{
		"a": {Type: domain.ParamString},
	})

	out, err := e.validateParams(map[string]domain.Value{
		"a":     domain.StringValue("x"),
		"extra": domain.IntValue(7),
	}, newTestLogger())
	require.NoError(t, err)
	assert.True(t, out["extra"].Equal(domain.IntValue(7)))
}

func TestValidateParamsRoundTrip(t *testing.T) {
	e := mustEntry(t, map[string]domain.ParameterDefinition{
		"expression": {Type: domain.ParamString, Required: true},
		"precision":  {Type: domain.ParamInteger},
		"verbose":    {Type: domain.ParamBoolean},
		"tags":       {Type: domain.ParamArray},
	})

	params := map[string]domain.Value{
		"expression": domain.StringValue("15*23"),
		"precision":  domain.IntValue(2),
		"verbose":    domain.BoolValue(true),
		"tags":       domain.ListValue(domain.StringValue("math")),
	}

	first, err := e.validateParams(params, newTestLogger())
	require.NoError(t, err)

	reparsed, err := domain.ParseParams([]byte(domain.FormatParams(first)))
	require.NoError(t, err)

	second, err := e.validateParams(reparsed, newTestLogger())
	require.NoError(t, err)
	require.Len(t, second, len(first))
	for k, v := range first {
		assert.True(t, v.Equal(second[k]), "param %s changed across round trip", k)
	}
}
