package usage

import (
	"context"
	"sort"
	"sync"
	"time"

	"reagent/internal/domain"
)

// MemoryStore is an in-process UsageRepository and BudgetRepository.
type MemoryStore struct {
	mu      sync.RWMutex
	records []domain.TokenUsage
	budgets map[string]domain.TokenBudget
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{budgets: make(map[string]domain.TokenBudget)}
}

func (s *MemoryStore) Append(_ context.Context, u domain.TokenUsage) error {
	if err := prepare(&u); err != nil {
		return err
	}
	s.mu.Lock()
	s.records = append(s.records, u)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) QueryByUser(_ context.Context, userID string, from, to time.Time) ([]domain.TokenUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.TokenUsage
	for _, u := range s.records {
		if u.UserID == userID && !u.Timestamp.Before(from) && u.Timestamp.Before(to) {
			out = append(out, u)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) FindBudget(_ context.Context, userID string) (*domain.TokenBudget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.budgets[userID]
	if !ok {
		return nil, domain.NewDomainError("MemoryStore.FindBudget", domain.ErrBudgetNotFound, userID)
	}
	return &b, nil
}

func (s *MemoryStore) SaveBudget(_ context.Context, b domain.TokenBudget) error {
	if b.UserID == "" {
		return domain.NewDomainError("MemoryStore.SaveBudget", domain.ErrInvalidInput, "empty user id")
	}
	s.mu.Lock()
	s.budgets[b.UserID] = b
	s.mu.Unlock()
	return nil
}

var (
	_ domain.UsageRepository  = (*MemoryStore)(nil)
	_ domain.BudgetRepository = (*MemoryStore)(nil)
)
