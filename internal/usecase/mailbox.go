package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"reagent/internal/domain"
)

// DefaultMailboxIdle is how long a conversation actor waits for work before exiting.
const DefaultMailboxIdle = time.Minute

// Mailbox serializes work per conversation. Each active conversation id owns
// one actor goroutine that runs submitted jobs strictly in submission order;
// jobs for different ids run in parallel. Idle actors exit.
type Mailbox struct {
	mu     sync.Mutex
	actors map[string]*actor
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup

	idle   time.Duration
	logger *slog.Logger
}

type actor struct {
	jobs []job
	wake chan struct{}
}

type job struct {
	ctx    context.Context
	fn     func(context.Context) error
	result chan error // nil for fire-and-forget jobs
}

// NewMailbox creates a mailbox whose actors exit after idle without work.
func NewMailbox(idle time.Duration, logger *slog.Logger) *Mailbox {
	if idle <= 0 {
		idle = DefaultMailboxIdle
	}
	return &Mailbox{
		actors: make(map[string]*actor),
		done:   make(chan struct{}),
		idle:   idle,
		logger: logger,
	}
}

// Do runs fn on the actor of conversationID and waits for it. If ctx ends
// before fn starts, fn is skipped.
func (m *Mailbox) Do(ctx context.Context, conversationID string, fn func(context.Context) error) error {
	res := make(chan error, 1)
	if err := m.submit(conversationID, job{ctx: ctx, fn: fn, result: res}); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return fmt.Errorf("mailbox %s: %w", conversationID, ctx.Err())
	}
}

// Post queues fn on the actor of conversationID without waiting. Errors
// returned by fn are logged.
func (m *Mailbox) Post(ctx context.Context, conversationID string, fn func(context.Context) error) error {
	return m.submit(conversationID, job{ctx: ctx, fn: fn})
}

// Active returns the number of live actors.
func (m *Mailbox) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.actors)
}

// Close stops accepting work, fails queued jobs and waits for running ones.
func (m *Mailbox) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.done)
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Mailbox) submit(conversationID string, j job) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.NewDomainError("Mailbox.submit", domain.ErrUnavailable, "mailbox closed")
	}
	a, ok := m.actors[conversationID]
	if !ok {
		a = &actor{wake: make(chan struct{}, 1)}
		m.actors[conversationID] = a
		m.wg.Add(1)
		go m.run(conversationID, a)
	}
	a.jobs = append(a.jobs, j)
	m.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
	return nil
}

func (m *Mailbox) run(conversationID string, a *actor) {
	defer m.wg.Done()
	timer := time.NewTimer(m.idle)
	defer timer.Stop()

	for {
		select {
		case <-m.done:
			m.drain(conversationID, a)
			return
		default:
		}

		m.mu.Lock()
		if len(a.jobs) > 0 {
			j := a.jobs[0]
			a.jobs[0] = job{}
			a.jobs = a.jobs[1:]
			m.mu.Unlock()
			m.execute(conversationID, j)
			continue
		}
		m.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(m.idle)

		select {
		case <-a.wake:
		case <-timer.C:
			m.mu.Lock()
			if len(a.jobs) == 0 {
				delete(m.actors, conversationID)
				m.mu.Unlock()
				return
			}
			m.mu.Unlock()
		case <-m.done:
			m.drain(conversationID, a)
			return
		}
	}
}

// drain fails every queued job of a closing mailbox.
func (m *Mailbox) drain(conversationID string, a *actor) {
	m.mu.Lock()
	pending := a.jobs
	a.jobs = nil
	delete(m.actors, conversationID)
	m.mu.Unlock()
	for _, j := range pending {
		if j.result != nil {
			j.result <- domain.NewDomainError("Mailbox.run", domain.ErrUnavailable, "mailbox closed")
		}
	}
}

func (m *Mailbox) execute(conversationID string, j job) {
	var err error
	if cerr := j.ctx.Err(); cerr != nil {
		err = fmt.Errorf("mailbox %s: %w", conversationID, cerr)
	} else {
		err = m.call(j)
	}

	if j.result != nil {
		j.result <- err
		return
	}
	if err != nil {
		m.logger.Warn("mailbox job failed", "conversation_id", conversationID, "error", err)
	}
}

func (m *Mailbox) call(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mailbox job panic: %v", r)
		}
	}()
	return j.fn(j.ctx)
}
