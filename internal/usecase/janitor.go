package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"reagent/internal/domain"
)

// DefaultCleanupSchedule runs the janitor every ten minutes.
const DefaultCleanupSchedule = "@every 10m"

// janitorTaskTimeout bounds one cleanup run.
const janitorTaskTimeout = 5 * time.Minute

// JanitorDeps holds the stores and caches the janitor sweeps.
type JanitorDeps struct {
	ShortTerm domain.ShortTermStore
	LongTerm  domain.LongTermStore // optional
	States    *StateManager
	Ledger    *Ledger // optional
	// Mailbox, when set, runs each eviction on the conversation's actor so it
	// never overlaps a turn.
	Mailbox *Mailbox
	// Idle evicts cached conversations without activity for this long.
	Idle   time.Duration
	Now    func() time.Time
	Logger *slog.Logger
}

// CleanupReport summarizes one janitor run.
type CleanupReport struct {
	ShortTermRemoved int
	LongTermRemoved  int
	Evicted          []string
}

// Janitor periodically removes expired store entries and evicts idle
// conversations from the in-process caches.
type Janitor struct {
	deps JanitorDeps
	cron *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewJanitor creates a janitor. It does nothing until Start.
func NewJanitor(deps JanitorDeps) *Janitor {
	if deps.Idle <= 0 {
		deps.Idle = DefaultStateTTL
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Janitor{deps: deps, cron: cron.New()}
}

// Start schedules cleanup runs. schedule is a cron expression, a descriptor
// such as "@every 10m", or a plain duration.
func (j *Janitor) Start(ctx context.Context, schedule string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started {
		return nil
	}

	sched, err := parseSchedule(schedule)
	if err != nil {
		return domain.NewDomainError("Janitor.Start", domain.ErrInvalidInput, err.Error())
	}
	j.cron.Schedule(sched, cron.FuncJob(j.tick))
	j.ctx, j.cancel = context.WithCancel(ctx)
	j.cron.Start()
	j.started = true
	j.deps.Logger.Info("janitor started", "schedule", schedule)
	return nil
}

// Stop cancels a running sweep and waits for it to return.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.started {
		return
	}
	j.cancel()
	<-j.cron.Stop().Done()
	j.started = false
}

func (j *Janitor) tick() {
	j.mu.Lock()
	ctx := j.ctx
	j.mu.Unlock()
	if ctx == nil {
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, janitorTaskTimeout)
	defer cancel()

	start := time.Now()
	report, err := j.RunOnce(taskCtx)
	if err != nil {
		j.deps.Logger.Warn("cleanup failed", "error", err, "duration", time.Since(start))
		return
	}
	j.deps.Logger.Info("cleanup completed",
		"short_term_removed", report.ShortTermRemoved,
		"long_term_removed", report.LongTermRemoved,
		"evicted", len(report.Evicted),
		"duration", time.Since(start))
}

// RunOnce performs one sweep. Every step runs even when an earlier one fails;
// the failures are joined.
func (j *Janitor) RunOnce(ctx context.Context) (CleanupReport, error) {
	var report CleanupReport
	var errs []error

	if j.deps.ShortTerm != nil {
		n, err := j.deps.ShortTerm.Cleanup(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("short-term cleanup: %w", err))
		}
		report.ShortTermRemoved = n
	}
	if j.deps.LongTerm != nil {
		n, err := j.deps.LongTerm.Cleanup(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("long-term cleanup: %w", err))
		}
		report.LongTermRemoved = n
	}
	if j.deps.States != nil {
		evicted, err := j.evictIdle(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		report.Evicted = evicted
	}
	return report, errors.Join(errs...)
}

// evictIdle drops idle conversations from the state cache and the ledger.
// The idle check is repeated on the conversation's actor, so a turn that ran
// while the eviction was queued keeps its state and binding.
func (j *Janitor) evictIdle(ctx context.Context) ([]string, error) {
	cutoff := j.deps.Now().Add(-j.deps.Idle)
	var (
		evicted []string
		errs    []error
	)
	for _, id := range j.deps.States.IdleConversations(cutoff) {
		var dropped bool
		evict := func(context.Context) error {
			if !j.deps.States.EvictIfIdle(id, cutoff) {
				return nil
			}
			if j.deps.Ledger != nil {
				j.deps.Ledger.ForgetConversation(id)
			}
			dropped = true
			return nil
		}
		if j.deps.Mailbox == nil {
			_ = evict(ctx)
		} else if err := j.deps.Mailbox.Do(ctx, id, evict); err != nil {
			errs = append(errs, fmt.Errorf("evict %s: %w", id, err))
			continue
		}
		if dropped {
			evicted = append(evicted, id)
		}
	}
	return evicted, errors.Join(errs...)
}

// ValidateSchedule reports whether schedule is usable by Janitor.Start.
func ValidateSchedule(schedule string) error {
	_, err := parseSchedule(schedule)
	return err
}

// parseSchedule accepts a cron expression or descriptor first, then a plain
// duration.
func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}
	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return cron.Every(dur), nil
}
