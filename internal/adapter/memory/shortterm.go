package memory

import (
	"context"
	"sync"
	"time"

	"reagent/internal/domain"
)

// ShortTermMemory is an in-process ShortTermStore with per-key TTL.
type ShortTermMemory struct {
	mu    sync.RWMutex
	items map[string]shortTermItem
	now   func() time.Time
}

type shortTermItem struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

func (i shortTermItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// NewShortTermMemory creates an empty in-process short-term store.
func NewShortTermMemory() *ShortTermMemory {
	return &ShortTermMemory{items: make(map[string]shortTermItem), now: time.Now}
}

func (s *ShortTermMemory) StoreContext(_ context.Context, id string, data []byte, ttl time.Duration) error {
	if id == "" {
		return domain.NewDomainError("ShortTermMemory.StoreContext", domain.ErrInvalidInput, "empty id")
	}
	item := shortTermItem{data: append([]byte(nil), data...)}
	if ttl > 0 {
		item.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.items[id] = item
	s.mu.Unlock()
	return nil
}

func (s *ShortTermMemory) RetrieveContext(_ context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	item, ok := s.items[id]
	s.mu.RUnlock()

	if !ok || item.expired(s.now()) {
		return nil, nil
	}
	return append([]byte(nil), item.data...), nil
}

func (s *ShortTermMemory) RemoveContext(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
	return nil
}

func (s *ShortTermMemory) ExistsContext(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	item, ok := s.items[id]
	s.mu.RUnlock()
	return ok && !item.expired(s.now()), nil
}

// Cleanup drops expired entries and returns how many were removed.
func (s *ShortTermMemory) Cleanup(_ context.Context) (int, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, item := range s.items {
		if item.expired(now) {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, expired or not.
func (s *ShortTermMemory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

var _ domain.ShortTermStore = (*ShortTermMemory)(nil)
