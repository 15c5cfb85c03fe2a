package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"reagent/internal/domain"
)

// SQLiteStore implements domain.UsageRepository and domain.BudgetRepository
// using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath
// and runs the schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	db.SetMaxOpenConns(1)
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS token_usage (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			provider        TEXT NOT NULL,
			model           TEXT NOT NULL,
			input_tokens    INTEGER NOT NULL,
			output_tokens   INTEGER NOT NULL,
			total_tokens    INTEGER NOT NULL,
			estimated_cost  REAL NOT NULL DEFAULT 0,
			ts              INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_token_usage_user_ts ON token_usage(user_id, ts);

		CREATE TABLE IF NOT EXISTS token_budgets (
			user_id       TEXT PRIMARY KEY,
			daily_limit   INTEGER NOT NULL,
			daily_used    INTEGER NOT NULL,
			monthly_limit INTEGER NOT NULL,
			monthly_used  INTEGER NOT NULL,
			reset_date    TEXT NOT NULL,
			unlimited     INTEGER NOT NULL DEFAULT 0
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append records one usage entry, assigning a UUIDv7 id when missing.
func (s *SQLiteStore) Append(ctx context.Context, u domain.TokenUsage) error {
	if err := prepare(&u); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_usage
			(id, user_id, conversation_id, provider, model, input_tokens, output_tokens, total_tokens, estimated_cost, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.UserID, u.ConversationID, u.Provider, u.Model,
		u.InputTokens, u.OutputTokens, u.TotalTokens, u.EstimatedCost, u.Timestamp.UnixNano(),
	)
	return domain.WrapOp("SQLiteStore.Append", err)
}

// QueryByUser returns the user's records with from <= timestamp < to, oldest first.
func (s *SQLiteStore) QueryByUser(ctx context.Context, userID string, from, to time.Time) ([]domain.TokenUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, conversation_id, provider, model, input_tokens, output_tokens, total_tokens, estimated_cost, ts
		FROM token_usage
		WHERE user_id = ? AND ts >= ? AND ts < ?
		ORDER BY ts, id`,
		userID, from.UnixNano(), to.UnixNano(),
	)
	if err != nil {
		return nil, domain.WrapOp("SQLiteStore.QueryByUser", err)
	}
	defer rows.Close()

	var out []domain.TokenUsage
	for rows.Next() {
		var u domain.TokenUsage
		var ts int64
		if err := rows.Scan(&u.ID, &u.UserID, &u.ConversationID, &u.Provider, &u.Model,
			&u.InputTokens, &u.OutputTokens, &u.TotalTokens, &u.EstimatedCost, &ts); err != nil {
			return nil, domain.WrapOp("SQLiteStore.QueryByUser", err)
		}
		u.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, u)
	}
	return out, rows.Err()
}

// FindBudget returns ErrBudgetNotFound when the user has none.
func (s *SQLiteStore) FindBudget(ctx context.Context, userID string) (*domain.TokenBudget, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, daily_limit, daily_used, monthly_limit, monthly_used, reset_date, unlimited
		FROM token_budgets WHERE user_id = ?`, userID)

	var b domain.TokenBudget
	var reset string
	if err := row.Scan(&b.UserID, &b.DailyLimit, &b.DailyUsed, &b.MonthlyLimit, &b.MonthlyUsed, &reset, &b.Unlimited); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewDomainError("SQLiteStore.FindBudget", domain.ErrBudgetNotFound, userID)
		}
		return nil, domain.WrapOp("SQLiteStore.FindBudget", err)
	}
	b.ResetDate, _ = time.Parse(time.RFC3339Nano, reset)
	return &b, nil
}

// SaveBudget inserts or replaces the user's budget.
func (s *SQLiteStore) SaveBudget(ctx context.Context, b domain.TokenBudget) error {
	if b.UserID == "" {
		return domain.NewDomainError("SQLiteStore.SaveBudget", domain.ErrInvalidInput, "empty user id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_budgets (user_id, daily_limit, daily_used, monthly_limit, monthly_used, reset_date, unlimited)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			daily_limit   = excluded.daily_limit,
			daily_used    = excluded.daily_used,
			monthly_limit = excluded.monthly_limit,
			monthly_used  = excluded.monthly_used,
			reset_date    = excluded.reset_date,
			unlimited     = excluded.unlimited`,
		b.UserID, b.DailyLimit, b.DailyUsed, b.MonthlyLimit, b.MonthlyUsed,
		b.ResetDate.UTC().Format(time.RFC3339Nano), b.Unlimited,
	)
	return domain.WrapOp("SQLiteStore.SaveBudget", err)
}

// prepare validates a usage record and fills its id, total and timestamp.
func prepare(u *domain.TokenUsage) error {
	if u.UserID == "" {
		return domain.NewDomainError("usage.Append", domain.ErrInvalidInput, "empty user id")
	}
	if u.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage id: %w", err)
		}
		u.ID = id.String()
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now()
	}
	return nil
}

var (
	_ domain.UsageRepository  = (*SQLiteStore)(nil)
	_ domain.BudgetRepository = (*SQLiteStore)(nil)
)
