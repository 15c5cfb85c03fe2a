package domain

import (
	"context"
	"time"
)

// ShortTermStore keeps serialized conversation state with a TTL.
type ShortTermStore interface {
	StoreContext(ctx context.Context, id string, data []byte, ttl time.Duration) error
	// RetrieveContext returns nil, nil when id is absent or expired.
	RetrieveContext(ctx context.Context, id string) ([]byte, error)
	RemoveContext(ctx context.Context, id string) error
	ExistsContext(ctx context.Context, id string) (bool, error)
	Cleanup(ctx context.Context) (int, error)
}

// LongTermEntry is a record in the long-term store.
type LongTermEntry struct {
	Key       string            `json:"key"`
	Value     []byte            `json:"value"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// MetaExpiresAt is the long-term metadata key (RFC3339) honoured by Cleanup.
const MetaExpiresAt = "expires_at"

// MetaTags is the long-term metadata key holding comma-separated tags.
const MetaTags = "tags"

// LongTermStore keeps durable records searchable by tag.
type LongTermStore interface {
	Store(ctx context.Context, key string, value []byte, metadata map[string]string) error
	// Retrieve returns nil, nil when key is absent.
	Retrieve(ctx context.Context, key string) ([]byte, error)
	RetrieveMetadata(ctx context.Context, key string) (map[string]string, error)
	// SearchByTags returns entries carrying every given tag.
	SearchByTags(ctx context.Context, tags ...string) ([]LongTermEntry, error)
	Remove(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Cleanup(ctx context.Context) (int, error)
}

// UsageRepository is the append-only usage log.
type UsageRepository interface {
	Append(ctx context.Context, usage TokenUsage) error
	QueryByUser(ctx context.Context, userID string, from, to time.Time) ([]TokenUsage, error)
}

// BudgetRepository persists per-user token budgets.
type BudgetRepository interface {
	// FindBudget returns ErrBudgetNotFound when the user has none.
	FindBudget(ctx context.Context, userID string) (*TokenBudget, error)
	SaveBudget(ctx context.Context, budget TokenBudget) error
}
