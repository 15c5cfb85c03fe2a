package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"reagent/internal/domain"
	"reagent/internal/infra/config"
)

type fakeGeminiModels struct {
	gotModel    string
	gotContents []*genai.Content
	gotConfig   *genai.GenerateContentConfig
	resp        *genai.GenerateContentResponse
	err         error
}

func (f *fakeGeminiModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.gotModel, f.gotContents, f.gotConfig = model, contents, cfg
	return f.resp, f.err
}

func geminiTextResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		ResponseID: "resp-1",
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     12,
			CandidatesTokenCount: 3,
			TotalTokenCount:      15,
		},
	}
}

func TestGeminiProviderChat(t *testing.T) {
	fake := &fakeGeminiModels{resp: geminiTextResponse("Final Answer: 4")}
	p := newGeminiProviderWithModels(config.ProviderConfig{Name: "gemini", Model: "gemini-2.0-flash"}, fake, newTestLogger())

	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "be brief"},
			{Role: domain.RoleUser, Content: "2+2?"},
		},
		MaxTokens:   256,
		Temperature: 0.5,
		Stop:        []string{"Observation:"},
	})
	require.NoError(t, err)

	assert.Equal(t, "gemini-2.0-flash", fake.gotModel)
	require.Len(t, fake.gotContents, 1)
	assert.Equal(t, "user", fake.gotContents[0].Role)
	require.NotNil(t, fake.gotConfig.SystemInstruction)
	assert.Equal(t, "be brief", fake.gotConfig.SystemInstruction.Parts[0].Text)
	assert.Equal(t, int32(256), fake.gotConfig.MaxOutputTokens)
	require.NotNil(t, fake.gotConfig.Temperature)
	assert.InDelta(t, 0.5, *fake.gotConfig.Temperature, 1e-6)
	assert.Equal(t, []string{"Observation:"}, fake.gotConfig.StopSequences)

	assert.Equal(t, "resp-1", resp.ID)
	assert.Equal(t, domain.RoleAssistant, resp.Message.Role)
	assert.Equal(t, "Final Answer: 4", resp.Message.Content)
	assert.Equal(t, domain.Usage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15}, resp.Usage)
}

func TestGeminiProviderDefaultModel(t *testing.T) {
	fake := &fakeGeminiModels{resp: geminiTextResponse("ok")}
	p := newGeminiProviderWithModels(config.ProviderConfig{Name: "gemini"}, fake, newTestLogger())

	_, err := p.Chat(context.Background(), domain.ChatRequest{Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", fake.gotModel)
	assert.Equal(t, "gemini", p.Name())
}

func TestGeminiProviderFunctionCall(t *testing.T) {
	fake := &fakeGeminiModels{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking out loud", Thought: true},
				{FunctionCall: &genai.FunctionCall{Name: "calculator", Args: map[string]any{"expression": "15*23"}}},
			}},
		}},
	}}
	p := newGeminiProviderWithModels(config.ProviderConfig{Name: "gemini"}, fake, newTestLogger())

	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "15*23?"}},
		Tools: []domain.ToolSchema{{
			Name:        "calculator",
			Description: "evaluates arithmetic",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"expression":{"type":"string"}}}`),
		}},
	})
	require.NoError(t, err)

	require.Len(t, fake.gotConfig.Tools, 1)
	require.Len(t, fake.gotConfig.Tools[0].FunctionDeclarations, 1)
	decl := fake.gotConfig.Tools[0].FunctionDeclarations[0]
	assert.Equal(t, "calculator", decl.Name)
	assert.NotNil(t, decl.ParametersJsonSchema)

	assert.Empty(t, resp.Message.Content, "thought parts are not surfaced")
	require.Len(t, resp.Message.ToolCalls, 1)
	tc := resp.Message.ToolCalls[0]
	assert.Equal(t, "calculator", tc.Name)
	assert.NotEmpty(t, tc.ID)
	assert.JSONEq(t, `{"expression":"15*23"}`, string(tc.Arguments))
}

func TestGeminiRequestHistory(t *testing.T) {
	req := domain.ChatRequest{Messages: []domain.Message{
		{Role: domain.RoleUser, Content: "15*23?"},
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: "c1", Name: "calculator", Arguments: json.RawMessage(`{"expression":"15*23"}`)}}},
		{Role: domain.RoleTool, Content: "345", ToolCalls: []domain.ToolCall{{ID: "c1", Name: "calculator"}}},
	}}

	contents, _, err := toGeminiRequest(req)
	require.NoError(t, err)
	require.Len(t, contents, 3)

	assert.Equal(t, "model", contents[1].Role)
	require.NotNil(t, contents[1].Parts[0].FunctionCall)
	assert.Equal(t, "15*23", contents[1].Parts[0].FunctionCall.Args["expression"])

	fr := contents[2].Parts[0].FunctionResponse
	require.NotNil(t, fr)
	assert.Equal(t, "c1", fr.ID)
	assert.Equal(t, "calculator", fr.Name)
	assert.Equal(t, "345", fr.Response["result"])
}

func TestGeminiRequestBadArguments(t *testing.T) {
	_, _, err := toGeminiRequest(domain.ChatRequest{Messages: []domain.Message{
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{Name: "x", Arguments: json.RawMessage(`{nope`)}}},
	}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestGeminiProviderNoCandidates(t *testing.T) {
	fake := &fakeGeminiModels{resp: &genai.GenerateContentResponse{}}
	p := newGeminiProviderWithModels(config.ProviderConfig{Name: "gemini"}, fake, newTestLogger())

	_, err := p.Chat(context.Background(), domain.ChatRequest{Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}}})
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestGeminiErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"rate limited", genai.APIError{Code: 429, Message: "quota"}, domain.ErrRateLimit},
		{"bad key", genai.APIError{Code: 403, Message: "denied"}, domain.ErrAuthInvalid},
		{"bad request", genai.APIError{Code: 400, Message: "invalid"}, domain.ErrInvalidInput},
		{"server", genai.APIError{Code: 503, Message: "overloaded"}, domain.ErrUnavailable},
		{"transport", errors.New("connection reset"), domain.ErrUnavailable},
		{"deadline", context.DeadlineExceeded, context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeGeminiModels{err: tt.err}
			p := newGeminiProviderWithModels(config.ProviderConfig{Name: "gemini"}, fake, newTestLogger())

			_, err := p.Chat(context.Background(), domain.ChatRequest{Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}}})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
