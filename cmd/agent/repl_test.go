package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reagent/internal/adapter/usage"
	"reagent/internal/domain"
	"reagent/internal/infra/logger"
	"reagent/internal/usecase"
)

type fakeEngine struct {
	messages []string
	convIDs  []string
	ended    []string
	state    *domain.ConversationState
	stateErr error
}

func (f *fakeEngine) ProcessMessage(_ context.Context, conversationID, msg string, _ domain.AgentContext) (*domain.AgentResponse, error) {
	f.messages = append(f.messages, msg)
	f.convIDs = append(f.convIDs, conversationID)
	if conversationID == "" {
		conversationID = "01HZXCONVERSATION0000001"
	}
	return &domain.AgentResponse{
		ConversationID: conversationID,
		Type:           domain.ResponseText,
		Content:        "echo: " + msg,
		Iterations:     1,
		Usage:          domain.Usage{TotalTokens: 42},
	}, nil
}

func (f *fakeEngine) GetConversationState(_ context.Context, id string) (*domain.ConversationState, error) {
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	return f.state, nil
}

func (f *fakeEngine) EndConversation(_ context.Context, id string) error {
	f.ended = append(f.ended, id)
	return nil
}

type fakeHealth struct{}

func (fakeHealth) CheckAll(context.Context) []domain.ProviderHealth {
	return []domain.ProviderHealth{
		{Provider: "openai", Status: domain.HealthHealthy, Latency: 120 * time.Millisecond},
		{Provider: "gemini", Status: domain.HealthUnhealthy, Message: "connection refused"},
	}
}

func newTestREPL(t *testing.T, eng *fakeEngine) (*repl, *bytes.Buffer) {
	t.Helper()
	store := usage.NewMemoryStore()
	ledger := usecase.NewLedger(store, store, usecase.NewPricing(), logger.Discard(),
		usecase.WithDefaultBudget(1000, 10000))
	var out bytes.Buffer
	return &repl{
		engine:  eng,
		ledger:  ledger,
		health:  fakeHealth{},
		agent:   domain.AgentContext{AgentID: "assistant", UserID: "alice"},
		console: newConsole(&out),
		now:     func() time.Time { return time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC) },
	}, &out
}

func TestREPL_ConversationFlow(t *testing.T) {
	eng := &fakeEngine{}
	r, out := newTestREPL(t, eng)

	in := strings.NewReader("hello\nagain\n/end\nfresh\n/quit\nnever\n")
	require.NoError(t, r.Run(context.Background(), in))

	assert.Equal(t, []string{"hello", "again", "fresh"}, eng.messages)
	assert.Equal(t, []string{"", "01HZXCONVERSATION0000001", ""}, eng.convIDs)
	assert.Equal(t, []string{"01HZXCONVERSATION0000001"}, eng.ended)
	assert.Contains(t, out.String(), "echo: hello")
	assert.Contains(t, out.String(), "[1 iterations, 42 tokens]")
	assert.Contains(t, out.String(), "conversation "+shortID(eng.ended[0])+" completed")
}

func TestREPL_NewResetsConversation(t *testing.T) {
	eng := &fakeEngine{}
	r, _ := newTestREPL(t, eng)

	require.NoError(t, r.Run(context.Background(), strings.NewReader("one\n/new\ntwo\n")))
	assert.Equal(t, []string{"", ""}, eng.convIDs)
}

func TestREPL_Commands(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"help", "/help\n", []string{"/report [DAYS]"}},
		{"unknown", "/dance\n", []string{"unknown command /dance"}},
		{"state without conversation", "/state\n", []string{"no active conversation"}},
		{"end without conversation", "/end\n", []string{"no active conversation"}},
		{"budget", "/budget\n", []string{"alice", "daily:   0 / 1000", "monthly: 0 / 10000"}},
		{"report", "/report 7\n", []string{"usage for alice, last 7 days", "requests: 0"}},
		{"report bad days", "/report soon\n", []string{"usage: /report [DAYS]"}},
		{"health", "/health\n", []string{"openai", "HEALTHY", "gemini", "connection refused"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, out := newTestREPL(t, &fakeEngine{})
			require.NoError(t, r.Run(context.Background(), strings.NewReader(tt.input)))
			for _, w := range tt.want {
				assert.Contains(t, out.String(), w)
			}
		})
	}
}

func TestREPL_State(t *testing.T) {
	eng := &fakeEngine{state: &domain.ConversationState{
		ID:     "01HZXCONVERSATION0000001",
		Status: domain.StatusActive,
		Phase:  domain.PhaseObserving,
		Context: domain.ConversationContext{ReAct: domain.ReActState{
			Iteration:     2,
			MaxIterations: 10,
			PendingAction: &domain.ToolInvocation{ID: "call_1", Name: "slow_report"},
		}},
	}}
	r, out := newTestREPL(t, eng)

	require.NoError(t, r.Run(context.Background(), strings.NewReader("hi\n/state\n")))
	assert.Contains(t, out.String(), "status:     ACTIVE")
	assert.Contains(t, out.String(), "iterations: 2/10")
	assert.Contains(t, out.String(), "pending:    slow_report (call_1)")

	eng.stateErr = domain.NewDomainError("StateManager.load", domain.ErrConversationNotFound, "x")
	out.Reset()
	r.handle(context.Background(), "/state")
	assert.Contains(t, out.String(), "has expired")
}

func TestConsole_Print(t *testing.T) {
	tests := []struct {
		name string
		resp domain.AgentResponse
		want string
	}{
		{"pending", domain.AgentResponse{Type: domain.ResponsePending, Content: "running slow_report"}, "… running slow_report"},
		{"limit", domain.AgentResponse{Type: domain.ResponseLimit, Content: "daily limit"}, "! daily limit"},
		{"error", domain.AgentResponse{Type: domain.ResponseError, ErrorCode: domain.CodeTimeout, Content: "took too long"}, "error (TIMEOUT): took too long"},
		{"capped", domain.AgentResponse{Type: domain.ResponseText, ErrorCode: domain.CodeMaxIterations, Content: "partial"}, "(stopped: MAX_ITERATIONS)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			newConsole(&out).print(&tt.resp)
			assert.Contains(t, out.String(), tt.want)
		})
	}
}
