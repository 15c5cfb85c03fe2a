package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"reagent/internal/domain"
)

const defaultRedisPrefix = "reagent:conv:"

// RedisShortTerm is a ShortTermStore backed by Redis key expiry.
type RedisShortTerm struct {
	rdb    redis.Cmdable
	prefix string
}

// NewRedisShortTerm creates a store over rdb. Keys are namespaced by prefix,
// which defaults to "reagent:conv:".
func NewRedisShortTerm(rdb redis.Cmdable, prefix string) *RedisShortTerm {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisShortTerm{rdb: rdb, prefix: prefix}
}

// DialRedis parses url, connects, and verifies the server with PING.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("%w: redis ping: %v", domain.ErrUnavailable, err)
	}
	return rdb, nil
}

func (s *RedisShortTerm) key(id string) string { return s.prefix + id }

func (s *RedisShortTerm) StoreContext(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	if id == "" {
		return domain.NewDomainError("RedisShortTerm.StoreContext", domain.ErrInvalidInput, "empty id")
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.rdb.Set(ctx, s.key(id), data, ttl).Err(); err != nil {
		return domain.WrapOp("RedisShortTerm.StoreContext", err)
	}
	return nil
}

func (s *RedisShortTerm) RetrieveContext(ctx context.Context, id string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.WrapOp("RedisShortTerm.RetrieveContext", err)
	}
	return data, nil
}

func (s *RedisShortTerm) RemoveContext(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, s.key(id)).Err(); err != nil {
		return domain.WrapOp("RedisShortTerm.RemoveContext", err)
	}
	return nil
}

func (s *RedisShortTerm) ExistsContext(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return false, domain.WrapOp("RedisShortTerm.ExistsContext", err)
	}
	return n > 0, nil
}

// Cleanup is a no-op: Redis evicts expired keys itself.
func (s *RedisShortTerm) Cleanup(context.Context) (int, error) { return 0, nil }

var _ domain.ShortTermStore = (*RedisShortTerm)(nil)
