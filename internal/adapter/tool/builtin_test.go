package tool

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reagent/internal/domain"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"15*23", 345},
		{"2+2", 4},
		{"2+3*4", 14},
		{"(2+3)*4", 20},
		{"10/4", 2.5},
		{"10 % 3", 1},
		{"2^3^2", 512},
		{"2**10", 1024},
		{"-2^2", -4},
		{"--3", 3},
		{"1e3 + .5", 1000.5},
		{"sqrt(16) + abs(-2)", 6},
		{"min(3, 1, 2) + max(4, 9)", 10},
		{"round(2.5) + floor(1.9) + ceil(0.1)", 5},
		{"2 * pi", 2 * 3.141592653589793},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	for _, expr := range []string{
		"", "2+", "(1+2", "1/0", "5 % 0", "foo", "bogus(1)", "sqrt(-1)", "sqrt(1, 2)", "1 2", "2 $ 3", "1.2.3",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := Evaluate(expr)
			assert.Error(t, err)
		})
	}
}

func TestCalculatorTool(t *testing.T) {
	x := newTestExecutor(t, 1, NewCalculatorTool())

	res := x.ExecuteTool(context.Background(), "calculator", map[string]domain.Value{"expression": domain.StringValue("15*23")})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "345", res.Observation())

	res = x.ExecuteTool(context.Background(), "calculator", map[string]domain.Value{"expression": domain.StringValue("1/0")})
	assert.Equal(t, domain.CodeExecutionError, res.ErrorCode())
	assert.Contains(t, res.Error, "division by zero")

	res = x.ExecuteTool(context.Background(), "calculator", nil)
	assert.Equal(t, domain.CodeInvalidParameter, res.ErrorCode())
}

func TestCurrentTimeTool(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	x := newTestExecutor(t, 1, NewCurrentTimeTool(func() time.Time { return fixed }))

	res := x.ExecuteTool(context.Background(), "current_time", nil)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "2026-03-14T15:09:26Z", res.Result.Get("time").Text())
	assert.Equal(t, "UTC", res.Result.Get("timezone").Text())
	assert.Equal(t, "Saturday", res.Result.Get("weekday").Text())

	res = x.ExecuteTool(context.Background(), "current_time", map[string]domain.Value{
		"format": domain.StringValue("unix"),
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "1773500966", res.Observation())

	res = x.ExecuteTool(context.Background(), "current_time", map[string]domain.Value{
		"timezone": domain.StringValue("Mars/Olympus"),
	})
	assert.Equal(t, domain.CodeExecutionError, res.ErrorCode())

	res = x.ExecuteTool(context.Background(), "current_time", map[string]domain.Value{
		"format": domain.StringValue("iso"),
	})
	assert.Equal(t, domain.CodeInvalidParameter, res.ErrorCode())
}

// fakeLongTerm is an in-test LongTermStore keyed by tag.
type fakeLongTerm struct {
	mu      sync.Mutex
	entries []domain.LongTermEntry
	err     error
}

func (f *fakeLongTerm) Store(_ context.Context, key string, value []byte, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, domain.LongTermEntry{Key: key, Value: value, CreatedAt: time.Now()})
	return nil
}

func (f *fakeLongTerm) Retrieve(context.Context, string) ([]byte, error) { return nil, nil }
func (f *fakeLongTerm) RetrieveMetadata(context.Context, string) (map[string]string, error) {
	return nil, nil
}
func (f *fakeLongTerm) Remove(context.Context, string) error         { return nil }
func (f *fakeLongTerm) Exists(context.Context, string) (bool, error) { return false, nil }
func (f *fakeLongTerm) Cleanup(context.Context) (int, error)         { return 0, nil }

func (f *fakeLongTerm) SearchByTags(_ context.Context, tags ...string) ([]domain.LongTermEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.LongTermEntry
	for _, e := range f.entries {
		match := true
		for _, tag := range tags {
			if !slices.Contains(e.Tags, tag) {
				match = false
				break
			}
		}
		if match {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestMemorySearchTool(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeLongTerm{entries: []domain.LongTermEntry{
		{Key: "a", Value: []byte("Paris trip notes"), Tags: []string{"conversation", "user:1"}, CreatedAt: base},
		{Key: "b", Value: []byte("Budget review"), Tags: []string{"conversation", "user:1"}, CreatedAt: base.Add(time.Hour)},
		{Key: "c", Value: []byte("Other user"), Tags: []string{"conversation", "user:2"}, CreatedAt: base},
	}}
	x := newTestExecutor(t, 1, NewMemorySearchTool(store))

	res := x.ExecuteTool(context.Background(), "memory_search", map[string]domain.Value{
		"tags": domain.StringValue("conversation, user:1"),
	})
	require.True(t, res.Success, res.Error)
	items, _ := res.Result.AsList()
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[0].Get("key").Text(), "newest first")

	res = x.ExecuteTool(context.Background(), "memory_search", map[string]domain.Value{
		"tags":  domain.StringValue("user:1"),
		"query": domain.StringValue("paris"),
	})
	require.True(t, res.Success, res.Error)
	items, _ = res.Result.AsList()
	require.Len(t, items, 1)
	assert.Equal(t, "Paris trip notes", items[0].Get("value").Text())

	res = x.ExecuteTool(context.Background(), "memory_search", map[string]domain.Value{
		"tags":  domain.StringValue("conversation"),
		"limit": domain.IntValue(1),
	})
	items, _ = res.Result.AsList()
	assert.Len(t, items, 1)

	res = x.ExecuteTool(context.Background(), "memory_search", map[string]domain.Value{
		"tags":  domain.StringValue("conversation"),
		"limit": domain.IntValue(100),
	})
	assert.Equal(t, domain.CodeInvalidParameter, res.ErrorCode())

	res = x.ExecuteTool(context.Background(), "memory_search", map[string]domain.Value{"tags": domain.StringValue(" , ")})
	assert.Equal(t, domain.CodeExecutionError, res.ErrorCode())

	store.err = errors.New("disk gone")
	res = x.ExecuteTool(context.Background(), "memory_search", map[string]domain.Value{"tags": domain.StringValue("x")})
	assert.Equal(t, domain.CodeExecutionError, res.ErrorCode())
}
