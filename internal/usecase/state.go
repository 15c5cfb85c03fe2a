package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"reagent/internal/domain"
)

// DefaultStateTTL is how long a conversation survives in the short-term store
// without activity.
const DefaultStateTTL = 24 * time.Hour

// allowedTransitions lists the phases reachable from each phase.
var allowedTransitions = map[domain.Phase][]domain.Phase{
	domain.PhaseThinking:  {domain.PhaseThinking, domain.PhaseActing},
	domain.PhaseActing:    {domain.PhaseObserving, domain.PhaseThinking},
	domain.PhaseObserving: {domain.PhaseThinking, domain.PhaseObserving},
}

// StateManager keeps conversation state in an in-process cache backed by the
// short-term store. Completed conversations are archived to the long-term store.
// Callers serialize operations on one conversation id (see Mailbox).
type StateManager struct {
	shortTerm domain.ShortTermStore
	longTerm  domain.LongTermStore
	ttl       time.Duration
	now       func() time.Time
	logger    *slog.Logger

	cache sync.Map // conversation id -> *domain.ConversationState
}

// StateOption configures a StateManager.
type StateOption func(*StateManager)

// WithStateTTL sets the short-term store TTL.
func WithStateTTL(ttl time.Duration) StateOption {
	return func(m *StateManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithArchive enables archiving of terminated conversations.
func WithArchive(store domain.LongTermStore) StateOption {
	return func(m *StateManager) { m.longTerm = store }
}

// WithStateClock overrides the time source.
func WithStateClock(now func() time.Time) StateOption {
	return func(m *StateManager) { m.now = now }
}

// NewStateManager creates a state manager over the given short-term store.
func NewStateManager(shortTerm domain.ShortTermStore, logger *slog.Logger, opts ...StateOption) *StateManager {
	m := &StateManager{
		shortTerm: shortTerm,
		ttl:       DefaultStateTTL,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// InitializeConversationState returns the resumable state of id, loading it
// from the durable store when it is not cached, and creates a fresh state only
// when none exists. A completed conversation is not resumable and starts over.
func (m *StateManager) InitializeConversationState(ctx context.Context, id string, agent domain.AgentContext) (*domain.ConversationState, error) {
	if id == "" {
		return nil, domain.NewDomainError("StateManager.InitializeConversationState", domain.ErrInvalidInput, "conversation id is empty")
	}

	existing, err := m.load(ctx, id)
	switch {
	case err == nil && existing.Status != domain.StatusCompleted:
		return existing, nil
	case err != nil && !isNotFound(err):
		return nil, err
	}

	now := m.now()
	maxIter := agent.MaxIterations
	if maxIter <= 0 {
		maxIter = domain.DefaultMaxIterations
	}
	state := &domain.ConversationState{
		ID:     id,
		Status: domain.StatusActive,
		Phase:  domain.PhaseThinking,
		Context: domain.ConversationContext{
			ConversationID: id,
			AgentID:        agent.AgentID,
			UserID:         agent.UserID,
			Agent:          agent,
			Metadata:       make(map[string]domain.Value),
			ReAct: domain.ReActState{
				Phase:         domain.PhaseThinking,
				MaxIterations: maxIter,
			},
		},
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := m.save(ctx, "StateManager.InitializeConversationState", state); err != nil {
		return nil, err
	}
	m.logger.Debug("conversation initialized", "conversation_id", id, "user_id", agent.UserID)
	return state.Clone(), nil
}

// GetConversationState returns the current state of id. Completed
// conversations are read from the durable store and never cached.
func (m *StateManager) GetConversationState(ctx context.Context, id string) (*domain.ConversationState, error) {
	return m.load(ctx, id)
}

// UpdateConversationState replaces the stored state of id.
func (m *StateManager) UpdateConversationState(ctx context.Context, id string, state *domain.ConversationState) error {
	const op = "StateManager.UpdateConversationState"
	if state == nil {
		return domain.NewDomainError(op, domain.ErrInvalidInput, "state is nil")
	}
	if state.ID != id {
		return domain.NewDomainError(op, domain.ErrInvalidInput, fmt.Sprintf("state id %q does not match %q", state.ID, id))
	}
	s := state.Clone()
	s.LastActivity = m.now()
	return m.save(ctx, op, s)
}

// TransitionState moves id to phase. Conversations that are completed or in
// ERROR cannot change phase.
func (m *StateManager) TransitionState(ctx context.Context, id string, phase domain.Phase) error {
	const op = "StateManager.TransitionState"
	s, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	if s.Status == domain.StatusCompleted || s.Status == domain.StatusError {
		return domain.NewDomainError(op, domain.ErrInvalidTransition,
			fmt.Sprintf("conversation %s is %s", id, s.Status))
	}
	if !canTransition(s.Phase, phase) {
		return domain.NewDomainError(op, domain.ErrInvalidTransition, fmt.Sprintf("%s -> %s", s.Phase, phase))
	}
	s.Phase = phase
	s.Context.ReAct.Phase = phase
	s.LastActivity = m.now()
	return m.save(ctx, op, s)
}

func canTransition(from, to domain.Phase) bool {
	for _, p := range allowedTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// HandleConversationError marks id as ERROR and records a diagnostic in its
// metadata. The error count accumulates across repeated errors.
func (m *StateManager) HandleConversationError(ctx context.Context, id, message string, cause error) error {
	const op = "StateManager.HandleConversationError"
	s, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	if s.Context.Metadata == nil {
		s.Context.Metadata = make(map[string]domain.Value)
	}
	count, _ := s.Context.Metadata[domain.MetaErrorCount].AsInt()
	now := m.now()

	s.Status = domain.StatusError
	s.LastActivity = now
	s.Context.Metadata[domain.MetaErrorCount] = domain.IntValue(count + 1)
	s.Context.Metadata[domain.MetaLastError] = domain.StringValue(message)
	s.Context.Metadata[domain.MetaLastErrorAt] = domain.StringValue(now.UTC().Format(time.RFC3339Nano))
	if cause != nil {
		s.Context.Metadata[domain.MetaLastErrorCause] = domain.StringValue(cause.Error())
	} else {
		delete(s.Context.Metadata, domain.MetaLastErrorCause)
	}

	m.logger.Warn("conversation error",
		"conversation_id", id, "error_count", count+1, "message", message, "cause", cause)

	if err := m.save(ctx, op, s); err != nil {
		// Keep the in-process view accurate even when the store is down.
		m.cache.Store(id, s)
		return err
	}
	return nil
}

// AttemptConversationRecovery returns an ERROR conversation to ACTIVE and
// THINKING. It is a no-op success for conversations not in ERROR, and reports
// false only when id cannot be found.
func (m *StateManager) AttemptConversationRecovery(ctx context.Context, id string) (bool, error) {
	const op = "StateManager.AttemptConversationRecovery"
	s, err := m.load(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if s.Status != domain.StatusError {
		return true, nil
	}

	now := m.now()
	s.Status = domain.StatusActive
	s.Phase = domain.PhaseThinking
	s.Context.ReAct.Phase = domain.PhaseThinking
	s.Context.ReAct.PendingAction = nil
	s.LastActivity = now
	if s.Context.Metadata == nil {
		s.Context.Metadata = make(map[string]domain.Value)
	}
	s.Context.Metadata[domain.MetaRecoveredAt] = domain.StringValue(now.UTC().Format(time.RFC3339Nano))

	if err := m.save(ctx, op, s); err != nil {
		return false, err
	}
	m.logger.Info("conversation recovered", "conversation_id", id)
	return true, nil
}

// TerminateConversation marks id COMPLETED, persists it, evicts it from the
// cache and archives it when an archive store is configured.
func (m *StateManager) TerminateConversation(ctx context.Context, id string) error {
	const op = "StateManager.TerminateConversation"
	s, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	now := m.now()
	s.Status = domain.StatusCompleted
	s.Context.ReAct.PendingAction = nil
	s.LastActivity = now
	if s.Context.Metadata == nil {
		s.Context.Metadata = make(map[string]domain.Value)
	}
	s.Context.Metadata[domain.MetaTerminatedAt] = domain.StringValue(now.UTC().Format(time.RFC3339Nano))

	data, err := json.Marshal(s)
	if err != nil {
		return domain.NewDomainError(op, domain.ErrStatePersistence, err.Error())
	}
	if err := m.shortTerm.StoreContext(ctx, id, data, m.ttl); err != nil {
		return domain.NewDomainError(op, domain.ErrStatePersistence, err.Error())
	}
	m.cache.Delete(id)
	m.archive(ctx, s, data)
	m.logger.Info("conversation terminated", "conversation_id", id, "messages", len(s.Messages))
	return nil
}

// ArchiveKey is the long-term store key of an archived conversation.
func ArchiveKey(id string) string { return "conversation:" + id }

func (m *StateManager) archive(ctx context.Context, s *domain.ConversationState, data []byte) {
	if m.longTerm == nil {
		return
	}
	tags := []string{"conversation"}
	if s.Context.UserID != "" {
		tags = append(tags, "user:"+s.Context.UserID)
	}
	if s.Context.AgentID != "" {
		tags = append(tags, "agent:"+s.Context.AgentID)
	}
	meta := map[string]string{
		domain.MetaTags: strings.Join(tags, ","),
		"status":        string(s.Status),
		"messages":      fmt.Sprint(len(s.Messages)),
	}
	if err := m.longTerm.Store(ctx, ArchiveKey(s.ID), data, meta); err != nil {
		m.logger.Warn("conversation archive failed", "conversation_id", s.ID, "error", err)
	}
}

// Evict drops id from the in-process cache without touching the store.
func (m *StateManager) Evict(id string) {
	m.cache.Delete(id)
}

// EvictIdle drops cached conversations idle since before cutoff and returns
// their ids.
func (m *StateManager) EvictIdle(cutoff time.Time) []string {
	var evicted []string
	for _, id := range m.IdleConversations(cutoff) {
		if m.EvictIfIdle(id, cutoff) {
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// IdleConversations lists cached conversations idle since before cutoff.
func (m *StateManager) IdleConversations(cutoff time.Time) []string {
	var ids []string
	m.cache.Range(func(k, v any) bool {
		if v.(*domain.ConversationState).LastActivity.Before(cutoff) {
			ids = append(ids, k.(string))
		}
		return true
	})
	return ids
}

// EvictIfIdle drops the cached state of id unless it saw activity at or
// after cutoff. It reports whether the entry was dropped.
func (m *StateManager) EvictIfIdle(id string, cutoff time.Time) bool {
	v, ok := m.cache.Load(id)
	if !ok || !v.(*domain.ConversationState).LastActivity.Before(cutoff) {
		return false
	}
	return m.cache.CompareAndDelete(id, v)
}

// CachedCount returns the number of cached conversations.
func (m *StateManager) CachedCount() int {
	n := 0
	m.cache.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// load returns a private copy of the state of id.
func (m *StateManager) load(ctx context.Context, id string) (*domain.ConversationState, error) {
	if v, ok := m.cache.Load(id); ok {
		return v.(*domain.ConversationState).Clone(), nil
	}

	data, err := m.shortTerm.RetrieveContext(ctx, id)
	if err != nil {
		return nil, domain.NewDomainError("StateManager.load", domain.ErrStatePersistence, err.Error())
	}
	if data == nil {
		return nil, domain.NewDomainError("StateManager.load", domain.ErrConversationNotFound, id)
	}
	var s domain.ConversationState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, domain.NewDomainError("StateManager.load", domain.ErrStatePersistence,
			fmt.Sprintf("decode %s: %v", id, err))
	}
	if s.Context.Metadata == nil {
		s.Context.Metadata = make(map[string]domain.Value)
	}
	if s.Status != domain.StatusCompleted {
		m.cache.Store(id, s.Clone())
	}
	return &s, nil
}

// save persists s and then caches it.
func (m *StateManager) save(ctx context.Context, op string, s *domain.ConversationState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return domain.NewDomainError(op, domain.ErrStatePersistence, err.Error())
	}
	if err := m.shortTerm.StoreContext(ctx, s.ID, data, m.ttl); err != nil {
		return domain.NewDomainError(op, domain.ErrStatePersistence, err.Error())
	}
	m.cache.Store(s.ID, s.Clone())
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrConversationNotFound)
}
