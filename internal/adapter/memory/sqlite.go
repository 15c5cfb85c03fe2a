package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"reagent/internal/domain"
)

// SQLiteLongTerm is a LongTermStore persisted in SQLite.
type SQLiteLongTerm struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLiteLongTerm opens (or creates) the database at path and runs
// migrations. Use ":memory:" for an ephemeral store.
func OpenSQLiteLongTerm(path string) (*SQLiteLongTerm, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := migrateLongTerm(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate long-term store: %w", err)
	}
	return &SQLiteLongTerm{db: db, now: time.Now}, nil
}

// openSQLite opens a single-writer SQLite handle with WAL enabled.
func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite pragma: %w", err)
		}
	}
	return db, nil
}

func migrateLongTerm(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS records (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			metadata   TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			expires_at TEXT
		);

		CREATE TABLE IF NOT EXISTS record_tags (
			key TEXT NOT NULL REFERENCES records(key) ON DELETE CASCADE,
			tag TEXT NOT NULL,
			PRIMARY KEY (key, tag)
		);

		CREATE INDEX IF NOT EXISTS idx_record_tags_tag ON record_tags(tag);
		CREATE INDEX IF NOT EXISTS idx_records_expires ON records(expires_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteLongTerm) Close() error {
	return s.db.Close()
}

func (s *SQLiteLongTerm) Store(ctx context.Context, key string, value []byte, metadata map[string]string) error {
	if key == "" {
		return domain.NewDomainError("SQLiteLongTerm.Store", domain.ErrInvalidInput, "empty key")
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var expires sql.NullString
	if at, ok := expiresAt(metadata); ok {
		expires = sql.NullString{String: at.UTC().Format(time.RFC3339), Valid: true}
	}
	if value == nil {
		value = []byte{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapOp("SQLiteLongTerm.Store", err)
	}
	defer tx.Rollback()

	const upsert = `
		INSERT INTO records (key, value, metadata, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			metadata   = excluded.metadata,
			expires_at = excluded.expires_at
	`
	if _, err := tx.ExecContext(ctx, upsert,
		key, value, string(meta), s.now().UTC().Format(time.RFC3339Nano), expires,
	); err != nil {
		return domain.WrapOp("SQLiteLongTerm.Store", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM record_tags WHERE key = ?`, key); err != nil {
		return domain.WrapOp("SQLiteLongTerm.Store", err)
	}
	for _, tag := range parseTags(metadata) {
		if _, err := tx.ExecContext(ctx, `INSERT INTO record_tags (key, tag) VALUES (?, ?)`, key, tag); err != nil {
			return domain.WrapOp("SQLiteLongTerm.Store", err)
		}
	}

	return domain.WrapOp("SQLiteLongTerm.Store", tx.Commit())
}

func (s *SQLiteLongTerm) Retrieve(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM records WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.WrapOp("SQLiteLongTerm.Retrieve", err)
	}
	return value, nil
}

func (s *SQLiteLongTerm) RetrieveMetadata(ctx context.Context, key string) (map[string]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT metadata FROM records WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.WrapOp("SQLiteLongTerm.RetrieveMetadata", err)
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata for %q: %w", key, err)
	}
	return meta, nil
}

func (s *SQLiteLongTerm) SearchByTags(ctx context.Context, tags ...string) ([]domain.LongTermEntry, error) {
	query := `SELECT key, value, metadata, created_at FROM records ORDER BY key`
	var args []any
	if len(tags) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tags)), ",")
		query = `
			SELECT r.key, r.value, r.metadata, r.created_at
			FROM records r
			JOIN record_tags t ON t.key = r.key
			WHERE t.tag IN (` + placeholders + `)
			GROUP BY r.key
			HAVING COUNT(DISTINCT t.tag) = ?
			ORDER BY r.key`
		for _, t := range tags {
			args = append(args, t)
		}
		args = append(args, len(distinct(tags)))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapOp("SQLiteLongTerm.SearchByTags", err)
	}
	defer rows.Close()

	var out []domain.LongTermEntry
	for rows.Next() {
		var (
			e       domain.LongTermEntry
			meta    string
			created string
		)
		if err := rows.Scan(&e.Key, &e.Value, &meta, &created); err != nil {
			return nil, domain.WrapOp("SQLiteLongTerm.SearchByTags", err)
		}
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for %q: %w", e.Key, err)
		}
		e.Tags = parseTags(e.Metadata)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteLongTerm) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM record_tags WHERE key = ?`, key); err != nil {
		return domain.WrapOp("SQLiteLongTerm.Remove", err)
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, key)
	return domain.WrapOp("SQLiteLongTerm.Remove", err)
}

func (s *SQLiteLongTerm) Exists(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM records WHERE key = ?`, key).Scan(&n)
	if err != nil {
		return false, domain.WrapOp("SQLiteLongTerm.Exists", err)
	}
	return n > 0, nil
}

// Cleanup deletes records whose expires_at has passed.
func (s *SQLiteLongTerm) Cleanup(ctx context.Context) (int, error) {
	now := s.now().UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM record_tags WHERE key IN (
			SELECT key FROM records WHERE expires_at IS NOT NULL AND expires_at <= ?
		)`, now); err != nil {
		return 0, domain.WrapOp("SQLiteLongTerm.Cleanup", err)
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE expires_at IS NOT NULL AND expires_at <= ?`, now)
	if err != nil {
		return 0, domain.WrapOp("SQLiteLongTerm.Cleanup", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, domain.WrapOp("SQLiteLongTerm.Cleanup", err)
	}
	return int(n), nil
}

func distinct(ss []string) []string {
	seen := make(map[string]struct{}, len(ss))
	out := ss[:0:0]
	for _, s := range ss {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

var _ domain.LongTermStore = (*SQLiteLongTerm)(nil)
