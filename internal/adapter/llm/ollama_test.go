package llm

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reagent/internal/domain"
	"reagent/internal/infra/config"
)

const tagsReply = `{"models":[
	{"name":"llama3:latest","size":4661224676},
	{"name":"qwen2:7b","size":4431388963}
]}`

func newOllamaStub(t *testing.T, model string, status int, reply string) (*OllamaProvider, *apiStub) {
	t.Helper()
	stub := newAPIStub(t, status, reply)
	p := NewOllamaProvider(config.ProviderConfig{Name: "local", BaseURL: stub.URL, Model: model}, newTestLogger())
	return p, stub
}

func TestOllamaProvider_ChatUsesCompatRoute(t *testing.T) {
	p, stub := newOllamaStub(t, "llama3", http.StatusOK, completionReply)

	_, err := p.Chat(context.Background(), userRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "/v1/chat/completions", stub.lastPath())
	assert.Empty(t, stub.lastHeader("Authorization"))
	assert.Equal(t, "llama3", stub.lastJSON(t)["model"])
	assert.Equal(t, "local", p.Name())
}

func TestOllamaProvider_SlowModelLoadTimeout(t *testing.T) {
	p, _ := newOllamaStub(t, "llama3", http.StatusOK, tagsReply)
	assert.Equal(t, ollamaConnTimeout+ollamaRespTimeout, p.native.client.Timeout)
}

func TestOllamaProvider_ListModels(t *testing.T) {
	p, stub := newOllamaStub(t, "", http.StatusOK, tagsReply)

	models, err := p.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/api/tags", stub.lastPath())
	require.Len(t, models, 2)
	assert.Equal(t, "qwen2:7b", models[1].Name)
	assert.Equal(t, int64(4431388963), models[1].Size)
}

func TestOllamaProvider_CheckHealth(t *testing.T) {
	tests := []struct {
		name    string
		model   string
		status  int
		wantErr error
	}{
		{"implicit latest tag", "llama3", http.StatusOK, nil},
		{"exact tag", "qwen2:7b", http.StatusOK, nil},
		{"model not pulled", "mistral", http.StatusOK, domain.ErrUnavailable},
		{"no model configured", "", http.StatusOK, nil},
		{"server error", "llama3", http.StatusInternalServerError, domain.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newOllamaStub(t, tt.model, tt.status, tagsReply)
			err := p.CheckHealth(context.Background())
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestOllamaProvider_HealthThroughGateway(t *testing.T) {
	p, _ := newOllamaStub(t, "mistral", http.StatusOK, tagsReply)
	gw := newTestGateway(t, newFakeClock())
	require.NoError(t, gw.AddProvider(NewCircuitBreakerProvider(p, CircuitBreakerConfig{}, newTestLogger()), enabled(1)))

	h := gw.CheckProviderHealth(context.Background(), "local")
	assert.Equal(t, domain.HealthUnhealthy, h.Status)
	assert.Contains(t, h.Message, "not pulled")
}
