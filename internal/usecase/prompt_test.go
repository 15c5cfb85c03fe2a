package usecase

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reagent/internal/domain"
)

func TestSystemPrompt_NoTools(t *testing.T) {
	got := SystemPrompt("", nil)
	assert.Contains(t, got, DefaultSystemPrompt)
	assert.Contains(t, got, "Final Answer:")
	assert.NotContains(t, got, "## Tools")
}

func TestSystemPrompt_ToolCatalogue(t *testing.T) {
	tools := []domain.ToolDefinition{{
		Name:        "convert",
		Description: "Convert between units",
		Parameters: map[string]domain.ParameterDefinition{
			"value": {Type: domain.ParamNumber, Required: true, Description: "amount to convert"},
			"unit":  {Type: domain.ParamString, Enum: []string{"km", "mi"}},
		},
	}}

	got := SystemPrompt("You convert units.", tools)
	assert.Contains(t, got, "You convert units.")
	assert.Contains(t, got, "- convert: Convert between units")
	assert.Contains(t, got, "    - unit (string, optional) [one of: km, mi]")
	assert.Contains(t, got, "    - value (number, required): amount to convert")
	assert.Less(t, strings.Index(got, "- unit"), strings.Index(got, "- value"), "parameters are listed in name order")
	assert.Contains(t, got, "Action Input:")
}

func TestPromptBuilder_Build(t *testing.T) {
	state := &domain.ConversationState{
		ID: "c1",
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "first"},
			{Role: domain.RoleAssistant, Content: "ok"},
			{Role: domain.RoleUser, Content: "what is 2+2?"},
		},
		Context: domain.ConversationContext{Agent: domain.AgentContext{
			Model:        "gpt-4o",
			SystemPrompt: "Be brief.",
			MaxTokens:    256,
			Temperature:  0.2,
		}},
	}
	schemas := []domain.ToolSchema{{Name: "calculator", Parameters: json.RawMessage(`{"type":"object"}`)}}

	req := NewPromptBuilder(2).Build(state, nil, schemas)

	require.Len(t, req.Messages, 3)
	assert.Equal(t, domain.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "Be brief.")
	assert.Equal(t, "ok", req.Messages[1].Content)
	assert.Equal(t, "what is 2+2?", req.Messages[2].Content)
	assert.Equal(t, "gpt-4o", req.Model)
	assert.Equal(t, 256, req.MaxTokens)
	assert.InDelta(t, 0.2, req.Temperature, 1e-9)
	assert.Equal(t, schemas, req.Tools)
	assert.Equal(t, []string{"\nObservation:"}, req.Stop)

	// The state itself is not modified.
	assert.Len(t, state.Messages, 3)
}

func TestPromptBuilder_KeepsToolChainsWhole(t *testing.T) {
	state := &domain.ConversationState{Messages: []domain.Message{
		{Role: domain.RoleUser, Content: "add"},
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: "call-1", Name: "calculator"}}},
		{Role: domain.RoleTool, Name: "calculator", Content: "4", ToolCalls: []domain.ToolCall{{ID: "call-1", Name: "calculator"}}},
	}}

	req := NewPromptBuilder(1).Build(state, nil, nil)

	// The assistant call and its result form one group and survive together.
	require.Len(t, req.Messages, 3)
	assert.Equal(t, domain.RoleAssistant, req.Messages[1].Role)
	assert.Equal(t, domain.RoleTool, req.Messages[2].Role)
}

func TestRequestText(t *testing.T) {
	req := domain.ChatRequest{
		Messages: []domain.Message{
			{Content: "hello "},
			{ToolCalls: []domain.ToolCall{{Name: "calc", Arguments: json.RawMessage(`{"x":1}`)}}},
		},
		Tools: []domain.ToolSchema{{Name: "calc", Description: " adds", Parameters: json.RawMessage(`{}`)}},
	}
	assert.Equal(t, `hello calc{"x":1}calc adds{}`, requestText(req))
}
