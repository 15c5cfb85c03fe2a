package usecase

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reagent/internal/domain"
)

func toolMsg(id, content string) domain.Message {
	return domain.Message{
		Role:      domain.RoleTool,
		Content:   content,
		ToolCalls: []domain.ToolCall{{ID: id, Name: "calculator"}},
	}
}

func callMsg(ids ...string) domain.Message {
	m := domain.Message{Role: domain.RoleAssistant}
	for _, id := range ids {
		m.ToolCalls = append(m.ToolCalls, domain.ToolCall{ID: id, Name: "calculator", Arguments: json.RawMessage(`{}`)})
	}
	return m
}

func TestRepairTranscript_Empty(t *testing.T) {
	assert.Nil(t, RepairTranscript(nil))
}

func TestRepairTranscript_ValidChainUnchanged(t *testing.T) {
	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: "15*23?"},
		callMsg("c1"),
		toolMsg("c1", "345"),
		{Role: domain.RoleAssistant, Content: "345"},
	}
	assert.Equal(t, msgs, RepairTranscript(msgs))
}

func TestRepairTranscript_InjectsMissingResultsInOrder(t *testing.T) {
	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: "go"},
		callMsg("c1", "c2", "c3"),
		toolMsg("c2", "ok"),
		{Role: domain.RoleUser, Content: "what happened?"},
	}
	got := RepairTranscript(msgs)

	require.Len(t, got, 6)
	assert.Equal(t, "ok", got[2].Content)
	assert.Equal(t, "c1", got[3].ToolCalls[0].ID)
	assert.Equal(t, "c3", got[4].ToolCalls[0].ID)
	assert.Equal(t, missingResultContent, got[3].Content)
	assert.Equal(t, domain.RoleUser, got[5].Role)
}

func TestRepairTranscript_TrailingCall(t *testing.T) {
	got := RepairTranscript([]domain.Message{{Role: domain.RoleUser, Content: "go"}, callMsg("c1")})

	require.Len(t, got, 3)
	assert.Equal(t, domain.RoleTool, got[2].Role)
	assert.Equal(t, "c1", got[2].ToolCalls[0].ID)
}

func TestRepairTranscript_DropsOrphans(t *testing.T) {
	got := RepairTranscript([]domain.Message{
		{Role: domain.RoleUser, Content: "go"},
		toolMsg("ghost", "stale"),
		{Role: domain.RoleTool, Content: "no id"},
	})

	require.Len(t, got, 1)
	assert.Equal(t, domain.RoleUser, got[0].Role)
}

func TestTruncateHistory_KeepsGroupsWhole(t *testing.T) {
	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: "1"},
		{Role: domain.RoleAssistant, Content: "2"},
		{Role: domain.RoleUser, Content: "3"},
		callMsg("c1"),
		toolMsg("c1", "r"),
		{Role: domain.RoleAssistant, Content: "6"},
	}

	got := truncateHistory(msgs, 3)
	require.Len(t, got, 3)
	assert.Equal(t, domain.RoleAssistant, got[0].Role)
	assert.Len(t, got[0].ToolCalls, 1, "call and result stay together")

	got = truncateHistory(msgs, 2)
	require.Len(t, got, 1)
	assert.Equal(t, "6", got[0].Content)

	assert.Equal(t, msgs, truncateHistory(msgs, 0))
}
