package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reagent/internal/adapter/memory"
	"reagent/internal/domain"
)

func TestJanitor_RunOnce(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	clock := newTestClock(start)

	shortTerm := memory.NewShortTermMemory()
	require.NoError(t, shortTerm.StoreContext(ctx, "gone", []byte("x"), time.Nanosecond))
	longTerm := memory.NewLongTermMemory()
	require.NoError(t, longTerm.Store(ctx, "old", []byte("x"), map[string]string{
		domain.MetaExpiresAt: start.Add(-time.Hour).Format(time.RFC3339),
	}))
	require.NoError(t, longTerm.Store(ctx, "keep", []byte("x"), nil))

	states := newTestStateManager(t, shortTerm, WithStateClock(clock.Now))
	ledger, _ := newTestLedger(t, clock)
	_, err := states.InitializeConversationState(ctx, "idle", testAgent())
	require.NoError(t, err)
	bindTestConversation(t, ledger, "idle", "alice", domain.TokenLimits{})
	_, err = ledger.TrackTokenUsage(ctx, "idle", 10, 5)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	_, err = states.InitializeConversationState(ctx, "busy", testAgent())
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	j := NewJanitor(JanitorDeps{
		ShortTerm: shortTerm,
		LongTerm:  longTerm,
		States:    states,
		Ledger:    ledger,
		Idle:      time.Hour,
		Now:       clock.Now,
		Logger:    newTestLogger(),
	})

	report, err := j.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ShortTermRemoved)
	assert.Equal(t, 1, report.LongTermRemoved)
	assert.Equal(t, []string{"idle"}, report.Evicted)
	assert.Equal(t, 1, states.CachedCount())
	assert.Zero(t, ledger.ConversationUsage("idle"))

	// Evicted conversations are still readable from the store.
	s, err := states.GetConversationState(ctx, "idle")
	require.NoError(t, err)
	assert.Equal(t, "idle", s.ID)

	ok, err := longTerm.Exists(ctx, "keep")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestJanitor_EvictionWaitsForRunningTurn(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	states := newTestStateManager(t, nil, WithStateClock(clock.Now))
	ledger, _ := newTestLedger(t, clock)
	mailbox := NewMailbox(time.Second, newTestLogger())
	t.Cleanup(mailbox.Close)

	_, err := states.InitializeConversationState(ctx, "c1", testAgent())
	require.NoError(t, err)
	bindTestConversation(t, ledger, "c1", "alice", domain.TokenLimits{})
	clock.Advance(2 * time.Hour)

	// A long turn is still running when the sweep starts.
	started, release := make(chan struct{}), make(chan struct{})
	require.NoError(t, mailbox.Post(ctx, "c1", func(ctx context.Context) error {
		close(started)
		<-release
		s, err := states.GetConversationState(ctx, "c1")
		if err != nil {
			return err
		}
		return states.UpdateConversationState(ctx, "c1", s)
	}))
	<-started

	j := NewJanitor(JanitorDeps{
		States:  states,
		Ledger:  ledger,
		Mailbox: mailbox,
		Idle:    time.Hour,
		Now:     clock.Now,
		Logger:  newTestLogger(),
	})
	done := make(chan CleanupReport, 1)
	go func() {
		report, err := j.RunOnce(ctx)
		assert.NoError(t, err)
		done <- report
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	report := <-done
	assert.Empty(t, report.Evicted)
	assert.Equal(t, 1, states.CachedCount())
	_, err = ledger.TrackTokenUsage(ctx, "c1", 10, 5)
	assert.NoError(t, err, "the binding survives the sweep")
}

func TestJanitor_StartStop(t *testing.T) {
	j := NewJanitor(JanitorDeps{
		ShortTerm: memory.NewShortTermMemory(),
		Logger:    newTestLogger(),
	})

	require.Error(t, j.Start(context.Background(), "every tuesday"))
	require.NoError(t, j.Start(context.Background(), "@every 1h"))
	require.NoError(t, j.Start(context.Background(), "@every 1h"), "second start is a no-op")
	j.Stop()
	j.Stop()
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"cron", "*/5 * * * *", false},
		{"descriptor", "@every 10m", false},
		{"hourly", "@hourly", false},
		{"duration", "30m", false},
		{"empty", "", true},
		{"negative", "-5m", true},
		{"garbage", "soon", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, err := parseSchedule(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
			assert.True(t, sched.Next(now).After(now))
		})
	}
}
