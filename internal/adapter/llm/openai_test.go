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

const completionReply = `{
	"id": "chatcmpl-1",
	"model": "gpt-4o",
	"created": 1700000000,
	"choices": [{
		"message": {
			"role": "assistant",
			"content": "",
			"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "calculator", "arguments": "{\"expression\":\"2+2\"}"}}]
		},
		"finish_reason": "tool_calls"
	}],
	"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
}`

func newOpenAIStub(t *testing.T, status int, reply string) (*OpenAIProvider, *apiStub) {
	t.Helper()
	stub := newAPIStub(t, status, reply)
	p := NewOpenAIProvider(config.ProviderConfig{
		Name:    "openai",
		BaseURL: stub.URL,
		APIKey:  "sk-test",
		Model:   "gpt-4o",
	}, newTestLogger())
	return p, stub
}

func TestOpenAIProvider_RequestEncoding(t *testing.T) {
	p, stub := newOpenAIStub(t, http.StatusOK, completionReply)

	req := domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "be brief"},
			{Role: domain.RoleUser, Content: "what is 2+2?"},
			{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{
				{ID: "call_0", Name: "calculator", Arguments: json.RawMessage(`{"expression":"1+1"}`)},
			}},
			{Role: domain.RoleTool, Content: "2", ToolCalls: []domain.ToolCall{{ID: "call_0"}}},
		},
		Tools: []domain.ToolSchema{{
			Name:        "calculator",
			Description: "evaluates arithmetic",
			Parameters:  json.RawMessage(`{"type":"object"}`),
		}},
		Stop: []string{"Observation:"},
	}
	_, err := p.Chat(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "/chat/completions", stub.lastPath())
	assert.Equal(t, "Bearer sk-test", stub.lastHeader("Authorization"))

	body := stub.lastJSON(t)
	assert.Equal(t, "gpt-4o", body["model"], "configured model fills an empty request model")
	assert.Equal(t, []any{"Observation:"}, body["stop"])
	assert.NotContains(t, body, "max_tokens")
	assert.NotContains(t, body, "temperature")

	assert.Equal(t, "system", at(t, body, "messages", 0, "role"))
	assert.Equal(t, `{"expression":"1+1"}`, at(t, body, "messages", 2, "tool_calls", 0, "function", "arguments"),
		"arguments travel as a JSON string")
	assert.Equal(t, "call_0", at(t, body, "messages", 3, "tool_call_id"))
	assert.Nil(t, at(t, body, "messages", 3, "tool_calls"))
	assert.Equal(t, "calculator", at(t, body, "tools", 0, "function", "name"))
}

func TestOpenAIProvider_ExplicitSampling(t *testing.T) {
	p, stub := newOpenAIStub(t, http.StatusOK, completionReply)

	req := userRequest("hi")
	req.Model = "gpt-4o-mini"
	req.MaxTokens = 256
	req.Temperature = 0.3
	_, err := p.Chat(context.Background(), req)
	require.NoError(t, err)

	body := stub.lastJSON(t)
	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.EqualValues(t, 256, body["max_tokens"])
	assert.InDelta(t, 0.3, body["temperature"], 1e-9)
}

func TestOpenAIProvider_ReplyDecoding(t *testing.T) {
	p, _ := newOpenAIStub(t, http.StatusOK, completionReply)

	resp, err := p.Chat(context.Background(), userRequest("what is 2+2?"))
	require.NoError(t, err)

	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, domain.RoleAssistant, resp.Message.Role)
	require.Len(t, resp.Message.ToolCalls, 1)
	call := resp.Message.ToolCalls[0]
	assert.Equal(t, "call_1", call.ID)
	assert.Equal(t, "calculator", call.Name)
	assert.JSONEq(t, `{"expression":"2+2"}`, string(call.Arguments))
	assert.Equal(t, domain.Usage{PromptTokens: 12, CompletionTokens: 5, TotalTokens: 17}, resp.Usage)
	assert.Equal(t, int64(1700000000), resp.CreatedAt.Unix())
}

func TestOpenAIProvider_NoChoices(t *testing.T) {
	p, _ := newOpenAIStub(t, http.StatusOK, `{"id":"chatcmpl-empty","choices":[]}`)

	_, err := p.Chat(context.Background(), userRequest("hi"))
	require.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Contains(t, err.Error(), "chatcmpl-empty")
}

func TestOpenAIProvider_CheckHealth(t *testing.T) {
	p, stub := newOpenAIStub(t, http.StatusOK, `{"data":[]}`)
	require.NoError(t, p.CheckHealth(context.Background()))
	assert.Equal(t, "/models", stub.lastPath())

	bad, _ := newOpenAIStub(t, http.StatusUnauthorized, `{"error":"invalid key"}`)
	assert.ErrorIs(t, bad.CheckHealth(context.Background()), domain.ErrAuthInvalid)
}
