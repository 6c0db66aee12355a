package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// NOTE: table schema, created by EnsureTable:
// CREATE TABLE token_cache (
//   cache_key  TEXT PRIMARY KEY,
//   value      TEXT NOT NULL,
//   updated_at BIGINT NOT NULL
// );

// SQLRepo stores cache entries in a SQL table. The statements are portable
// between Postgres (lib/pq) and SQLite (modernc.org/sqlite); placeholders are
// rebound for the driver in use.
type SQLRepo struct {
	db *sqlx.DB
}

func NewSQLRepo(db *sqlx.DB) *SQLRepo {
	return &SQLRepo{db: db}
}

// EnsureTable creates the token_cache table if it does not already exist.
func (r *SQLRepo) EnsureTable(ctx context.Context) error {
	const tbl = `
	CREATE TABLE IF NOT EXISTS token_cache (
		cache_key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at BIGINT NOT NULL
	)`
	_, err := r.db.ExecContext(ctx, tbl)
	return err
}

func (r *SQLRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	query := r.db.Rebind(`SELECT value FROM token_cache WHERE cache_key = ?`)
	if err := r.db.QueryRowxContext(ctx, query, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// Set upserts key. The row is overwritten, never duplicated.
func (r *SQLRepo) Set(ctx context.Context, key, value string) error {
	query := r.db.Rebind(`INSERT INTO token_cache (cache_key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	_, err := r.db.ExecContext(ctx, query, key, value, time.Now().Unix())
	return err
}
