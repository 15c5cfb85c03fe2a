package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reagent/internal/domain"
	"reagent/internal/infra/config"
)

const messagesReplyJSON = `{
	"id": "msg_1",
	"model": "claude-sonnet",
	"content": [
		{"type": "text", "text": "Thought: I should add."},
		{"type": "text", "text": "Using the calculator."},
		{"type": "tool_use", "id": "toolu_1", "name": "calculator", "input": {"expression": "2+2"}}
	],
	"usage": {"input_tokens": 30, "output_tokens": 8}
}`

func newAnthropicStub(t *testing.T, status int, reply string) (*AnthropicProvider, *apiStub) {
	t.Helper()
	stub := newAPIStub(t, status, reply)
	p := NewAnthropicProvider(config.ProviderConfig{
		Name:    "anthropic",
		BaseURL: stub.URL,
		APIKey:  "ak-test",
		Model:   "claude-sonnet",
	}, newTestLogger())
	return p, stub
}

func TestAnthropicProvider_RequestEncoding(t *testing.T) {
	p, stub := newAnthropicStub(t, http.StatusOK, messagesReplyJSON)

	req := domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "You are an agent."},
			{Role: domain.RoleSystem, Content: "Answer in one line."},
			{Role: domain.RoleUser, Content: "what is 2+2?"},
			{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{
				{ID: "toolu_0", Name: "calculator", Arguments: json.RawMessage(`{"expression":"1+1"}`)},
			}},
			{Role: domain.RoleTool, Content: "2", ToolCalls: []domain.ToolCall{{ID: "toolu_0"}}},
		},
		Stop: []string{"Observation:"},
	}
	_, err := p.Chat(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "/v1/messages", stub.lastPath())
	assert.Equal(t, "ak-test", stub.lastHeader("x-api-key"))
	assert.Equal(t, anthropicAPIVersion, stub.lastHeader("anthropic-version"))
	assert.Empty(t, stub.lastHeader("Authorization"))

	body := stub.lastJSON(t)
	assert.Equal(t, "claude-sonnet", body["model"])
	assert.Equal(t, "You are an agent.\n\nAnswer in one line.", body["system"])
	assert.Equal(t, []any{"Observation:"}, body["stop_sequences"])
	assert.EqualValues(t, defaultMaxOutputTokens, body["max_tokens"], "the API requires an output cap")

	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 3, "system messages leave the transcript")

	assert.Equal(t, "tool_use", at(t, msgs, 1, "content", 0, "type"))
	assert.Equal(t, "toolu_0", at(t, msgs, 1, "content", 0, "id"))

	assert.Equal(t, "user", at(t, msgs, 2, "role"), "tool results travel as a user turn")
	assert.Equal(t, "tool_result", at(t, msgs, 2, "content", 0, "type"))
	assert.Equal(t, "toolu_0", at(t, msgs, 2, "content", 0, "tool_use_id"))
	assert.Equal(t, "2", at(t, msgs, 2, "content", 0, "content"))
}

func TestAnthropicProvider_ReplyDecoding(t *testing.T) {
	p, _ := newAnthropicStub(t, http.StatusOK, messagesReplyJSON)

	resp, err := p.Chat(context.Background(), userRequest("what is 2+2?"))
	require.NoError(t, err)

	assert.Equal(t, "msg_1", resp.ID)
	assert.Equal(t, "Thought: I should add.\nUsing the calculator.", resp.Message.Content)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.Message.ToolCalls[0].ID)
	assert.JSONEq(t, `{"expression":"2+2"}`, string(resp.Message.ToolCalls[0].Arguments))
	assert.Equal(t, domain.Usage{PromptTokens: 30, CompletionTokens: 8, TotalTokens: 38}, resp.Usage)
}

func TestAnthropicProvider_CheckHealth(t *testing.T) {
	p, stub := newAnthropicStub(t, http.StatusOK, `{"data":[]}`)
	require.NoError(t, p.CheckHealth(context.Background()))
	assert.Equal(t, "/v1/models", stub.lastPath())

	limited, _ := newAnthropicStub(t, http.StatusTooManyRequests, `{"error":"slow down"}`)
	assert.ErrorIs(t, limited.CheckHealth(context.Background()), domain.ErrRateLimit)
}
