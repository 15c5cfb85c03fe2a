package tool

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reagent/internal/domain"
)

func newTestLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// stubTool is a configurable domain.Tool for tests.
type stubTool struct {
	def   domain.ToolDefinition
	exec  func(ctx context.Context, params map[string]domain.Value) (domain.Value, error)
	calls atomic.Int32

	mu  sync.Mutex
	got map[string]domain.Value
}

func newStubTool(name string, params map[string]domain.ParameterDefinition) *stubTool {
	return &stubTool{
		def: domain.ToolDefinition{Name: name, Description: "stub " + name, Parameters: params},
		exec: func(context.Context, map[string]domain.Value) (domain.Value, error) {
			return domain.StringValue("ok"), nil
		},
	}
}

func (s *stubTool) Name() string                      { return s.def.Name }
func (s *stubTool) Definition() domain.ToolDefinition { return s.def }

func (s *stubTool) Execute(ctx context.Context, params map[string]domain.Value) (domain.Value, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.got = params
	s.mu.Unlock()
	return s.exec(ctx, params)
}

func (s *stubTool) params() map[string]domain.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.got
}

func ptr(f float64) *float64 { return &f }

func TestRegistryBasic(t *testing.T) {
	reg := NewRegistry(newTestLogger())
	require.NoError(t, reg.RegisterTool(newStubTool("test", nil)))

	got, err := reg.Get("test")
	require.NoError(t, err)
	assert.Equal(t, "test", got.Name())

	timeout, err := reg.Timeout("test")
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, timeout)

	assert.Len(t, reg.Schemas(), 1)
}

func TestRegistryNotFound(t *testing.T) {
	reg := NewRegistry(newTestLogger())
	_, err := reg.Get("nonexistent")
	assert.ErrorIs(t, err, domain.ErrToolNotFound)
}

func TestRegistryEmptyName(t *testing.T) {
	reg := NewRegistry(newTestLogger())
	err := reg.RegisterTool(newStubTool("", nil))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRegistryNilToolPanics(t *testing.T) {
	reg := NewRegistry(newTestLogger())
	assert.Panics(t, func() { _ = reg.RegisterTool(nil) })
}

func TestRegistryReRegistrationOverwrites(t *testing.T) {
	reg := NewRegistry(newTestLogger())
	first := newStubTool("dup", nil)
	second := newStubTool("dup", nil)
	second.def.Description = "replacement"

	require.NoError(t, reg.RegisterTool(first))
	require.NoError(t, reg.RegisterTool(second, time.Second))

	defs := reg.AvailableTools()
	require.Len(t, defs, 1)
	assert.Equal(t, "replacement", defs[0].Description)

	timeout, err := reg.Timeout("dup")
	require.NoError(t, err)
	assert.Equal(t, time.Second, timeout)
}

func TestRegistryTimeouts(t *testing.T) {
	reg := NewRegistry(newTestLogger())
	require.NoError(t, reg.RegisterTool(newStubTool("slow", nil), 2*time.Hour))
	got, _ := reg.Timeout("slow")
	assert.Equal(t, MaxTimeout, got)

	reg = NewRegistry(newTestLogger(), WithDefaultTimeout(time.Minute))
	require.NoError(t, reg.RegisterTool(newStubTool("t", nil)))
	got, _ = reg.Timeout("t")
	assert.Equal(t, time.Minute, got)
}

func TestRegistryAvailableToolsSorted(t *testing.T) {
	reg := NewRegistry(newTestLogger())
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, reg.RegisterTool(newStubTool(name, nil)))
	}

	var names []string
	for _, d := range reg.AvailableTools() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)

	reg.Unregister("mid")
	assert.Len(t, reg.AvailableTools(), 2)
}

func TestRegistryRejectsBadPattern(t *testing.T) {
	reg := NewRegistry(newTestLogger())
	err := reg.RegisterTool(newStubTool("bad", map[string]domain.ParameterDefinition{
		"id": {Type: domain.ParamString, Pattern: "([a-z"},
	}))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRegistryRejectsBadResultSchema(t *testing.T) {
	reg := NewRegistry(newTestLogger())
	st := newStubTool("bad", nil)
	st.def.ResultSchema = []byte(`{"type":`)
	assert.ErrorIs(t, reg.RegisterTool(st), domain.ErrInvalidInput)
}

func TestParametersSchema(t *testing.T) {
	five := domain.IntValue(5)
	def := domain.ToolDefinition{
		Name: "search",
		Parameters: map[string]domain.ParameterDefinition{
			"query": {Type: domain.ParamString, Required: true, Pattern: "^[a-z]+$", Description: "terms"},
			"limit": {Type: domain.ParamInteger, Min: ptr(1), Max: ptr(10), Default: &five},
			"mode":  {Type: domain.ParamString, Enum: []string{"fast", "deep"}},
		},
	}

	assert.JSONEq(t, `{
		"type": "object",
		"properties": {
			"query": {"type": "string", "pattern": "^[a-z]+$", "description": "terms"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 10, "default": 5},
			"mode":  {"type": "string", "enum": ["fast", "deep"]}
		},
		"required": ["query"]
	}`, string(ParametersSchema(def)))

	_, err := compileParameterSchema(def)
	assert.NoError(t, err)
}
