package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"reagent/internal/domain"
)

// LongTermMemory is an in-process LongTermStore.
type LongTermMemory struct {
	mu      sync.RWMutex
	entries map[string]domain.LongTermEntry
	now     func() time.Time
}

// NewLongTermMemory creates an empty in-process long-term store.
func NewLongTermMemory() *LongTermMemory {
	return &LongTermMemory{entries: make(map[string]domain.LongTermEntry), now: time.Now}
}

func (s *LongTermMemory) Store(_ context.Context, key string, value []byte, metadata map[string]string) error {
	if key == "" {
		return domain.NewDomainError("LongTermMemory.Store", domain.ErrInvalidInput, "empty key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created := s.now()
	if prev, ok := s.entries[key]; ok {
		created = prev.CreatedAt
	}
	s.entries[key] = domain.LongTermEntry{
		Key:       key,
		Value:     append([]byte(nil), value...),
		Metadata:  maps.Clone(metadata),
		Tags:      parseTags(metadata),
		CreatedAt: created,
	}
	return nil
}

func (s *LongTermMemory) Retrieve(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), e.Value...), nil
}

func (s *LongTermMemory) RetrieveMetadata(_ context.Context, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	return maps.Clone(e.Metadata), nil
}

func (s *LongTermMemory) SearchByTags(_ context.Context, tags ...string) ([]domain.LongTermEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.LongTermEntry
	for _, e := range s.entries {
		if hasAllTags(e.Tags, tags) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *LongTermMemory) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *LongTermMemory) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[key]
	return ok, nil
}

// Cleanup removes entries whose expires_at metadata has passed.
func (s *LongTermMemory) Cleanup(_ context.Context) (int, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, e := range s.entries {
		if at, ok := expiresAt(e.Metadata); ok && !now.Before(at) {
			delete(s.entries, key)
			n++
		}
	}
	return n, nil
}

var _ domain.LongTermStore = (*LongTermMemory)(nil)
