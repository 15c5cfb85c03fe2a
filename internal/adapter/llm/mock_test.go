package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"reagent/internal/domain"
)

// mockProvider is a scriptable LLMProvider used across the package tests.
type mockProvider struct {
	name     string
	chatFunc func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error)

	mu    sync.Mutex
	calls int
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.chatFunc == nil {
		return &domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, Content: "ok"}}, nil
	}
	return m.chatFunc(ctx, req)
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// healthyProvider additionally implements domain.HealthChecker.
type healthyProvider struct {
	mockProvider
	healthErr error
}

func (h *healthyProvider) CheckHealth(context.Context) error { return h.healthErr }

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// apiStub is an HTTP API double that answers every call with one status and
// body and remembers the last request it saw.
type apiStub struct {
	*httptest.Server

	mu     sync.Mutex
	status int
	reply  string
	path   string
	header http.Header
	body   []byte
}

func newAPIStub(t *testing.T, status int, reply string) *apiStub {
	t.Helper()
	s := &apiStub{status: status, reply: reply}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.path, s.header, s.body = r.URL.Path, r.Header.Clone(), body
		status, reply := s.status, s.reply
		s.mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *apiStub) lastPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func (s *apiStub) lastHeader(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header.Get(key)
}

// lastJSON decodes the last request body.
func (s *apiStub) lastJSON(t *testing.T) map[string]any {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var v map[string]any
	require.NoError(t, json.Unmarshal(s.body, &v), "request body: %s", s.body)
	return v
}

// at walks a decoded JSON document by object keys and array indexes.
func at(t *testing.T, v any, path ...any) any {
	t.Helper()
	for _, step := range path {
		switch k := step.(type) {
		case string:
			obj, ok := v.(map[string]any)
			require.True(t, ok, "expected object at %v", step)
			v = obj[k]
		case int:
			arr, ok := v.([]any)
			require.True(t, ok, "expected array at %v", step)
			require.Greater(t, len(arr), k)
			v = arr[k]
		}
	}
	return v
}
