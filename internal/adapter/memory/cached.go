package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"reagent/internal/domain"
)

// CachedLongTerm wraps a LongTermStore with a TTL-based tag search cache.
// Cache is invalidated on Store, Remove, and Cleanup.
type CachedLongTerm struct {
	inner domain.LongTermStore
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
	cache map[string]cachedResult
}

type cachedResult struct {
	entries   []domain.LongTermEntry
	expiresAt time.Time
}

// NewCachedLongTerm wraps inner with a search cache using the given TTL.
func NewCachedLongTerm(inner domain.LongTermStore, ttl time.Duration) *CachedLongTerm {
	return &CachedLongTerm{
		inner: inner,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[string]cachedResult),
	}
}

func (c *CachedLongTerm) Store(ctx context.Context, key string, value []byte, metadata map[string]string) error {
	err := c.inner.Store(ctx, key, value, metadata)
	if err == nil {
		c.invalidate()
	}
	return err
}

func (c *CachedLongTerm) SearchByTags(ctx context.Context, tags ...string) ([]domain.LongTermEntry, error) {
	key := cacheKey(tags)

	c.mu.RLock()
	if cached, ok := c.cache[key]; ok && c.now().Before(cached.expiresAt) {
		c.mu.RUnlock()
		return cached.entries, nil
	}
	c.mu.RUnlock()

	entries, err := c.inner.SearchByTags(ctx, tags...)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = cachedResult{entries: entries, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return entries, nil
}

func (c *CachedLongTerm) Remove(ctx context.Context, key string) error {
	err := c.inner.Remove(ctx, key)
	if err == nil {
		c.invalidate()
	}
	return err
}

func (c *CachedLongTerm) Cleanup(ctx context.Context) (int, error) {
	n, err := c.inner.Cleanup(ctx)
	if err == nil && n > 0 {
		c.invalidate()
	}
	return n, err
}

func (c *CachedLongTerm) Retrieve(ctx context.Context, key string) ([]byte, error) {
	return c.inner.Retrieve(ctx, key)
}

func (c *CachedLongTerm) RetrieveMetadata(ctx context.Context, key string) (map[string]string, error) {
	return c.inner.RetrieveMetadata(ctx, key)
}

func (c *CachedLongTerm) Exists(ctx context.Context, key string) (bool, error) {
	return c.inner.Exists(ctx, key)
}

// invalidate clears the entire cache.
func (c *CachedLongTerm) invalidate() {
	c.mu.Lock()
	c.cache = make(map[string]cachedResult)
	c.mu.Unlock()
}

// CacheSize returns the number of cached searches (for testing).
func (c *CachedLongTerm) CacheSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func cacheKey(tags []string) string {
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

var _ domain.LongTermStore = (*CachedLongTerm)(nil)
