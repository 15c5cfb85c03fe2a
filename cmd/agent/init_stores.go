package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"reagent/internal/adapter/memory"
	"reagent/internal/adapter/usage"
	"reagent/internal/domain"
	"reagent/internal/infra/config"
)

// longTermCacheTTL bounds how long archived records are served from memory.
const longTermCacheTTL = 5 * time.Minute

// Stores groups the persistence backends selected by config.
type Stores struct {
	ShortTerm domain.ShortTermStore
	LongTerm  domain.LongTermStore
	Usage     domain.UsageRepository
	Budgets   domain.BudgetRepository

	closers []func() error
}

// Close releases every opened backend.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// initStores opens the short-term, long-term and ledger stores.
func initStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Stores, error) {
	s := &Stores{}
	fail := func(err error) (*Stores, error) {
		s.Close()
		return nil, err
	}

	switch cfg.Memory.ShortTerm.Driver {
	case "redis":
		rdb, err := memory.DialRedis(ctx, cfg.Memory.ShortTerm.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("short-term store: %w", err))
		}
		s.ShortTerm = memory.NewRedisShortTerm(rdb, "")
		s.closers = append(s.closers, rdb.Close)
	default:
		s.ShortTerm = memory.NewShortTermMemory()
	}

	switch cfg.Memory.LongTerm.Driver {
	case "sqlite":
		if err := ensureDir(cfg.Memory.LongTerm.Path); err != nil {
			return fail(err)
		}
		lt, err := memory.OpenSQLiteLongTerm(cfg.Memory.LongTerm.Path)
		if err != nil {
			return fail(fmt.Errorf("long-term store: %w", err))
		}
		s.LongTerm = memory.NewCachedLongTerm(lt, longTermCacheTTL)
		s.closers = append(s.closers, lt.Close)
	default:
		s.LongTerm = memory.NewLongTermMemory()
	}

	switch cfg.Ledger.Driver {
	case "sqlite":
		if err := ensureDir(cfg.Ledger.Path); err != nil {
			return fail(err)
		}
		st, err := usage.NewSQLiteStore(cfg.Ledger.Path)
		if err != nil {
			return fail(fmt.Errorf("ledger store: %w", err))
		}
		s.Usage, s.Budgets = st, st
		s.closers = append(s.closers, st.Close)
	default:
		st := usage.NewMemoryStore()
		s.Usage, s.Budgets = st, st
	}

	log.Debug("stores ready",
		"short_term", cfg.Memory.ShortTerm.Driver,
		"long_term", cfg.Memory.LongTerm.Driver,
		"ledger", cfg.Ledger.Driver)
	return s, nil
}

func ensureDir(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}
