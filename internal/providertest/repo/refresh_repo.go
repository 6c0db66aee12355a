package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// NOTE: table schema, created by EnsureTables:
// CREATE TABLE refresh_sessions (
//   token      TEXT PRIMARY KEY,
//   user_id    TEXT NOT NULL,
//   expires_at BIGINT NOT NULL
// );

var ErrNotFound = errors.New("not found")

// RefreshSession is a persisted refresh token.
type RefreshSession struct {
	Token     string `db:"token"`
	UserID    string `db:"user_id"`
	ExpiresAt int64  `db:"expires_at"`
}

func (s RefreshSession) Expired(now time.Time) bool {
	return now.Unix() >= s.ExpiresAt
}

type RefreshRepo struct {
	db *sqlx.DB
}

func NewRefreshRepo(db *sqlx.DB) *RefreshRepo {
	return &RefreshRepo{db: db}
}

func (r *RefreshRepo) EnsureTable(ctx context.Context) error {
	const tbl = `
	CREATE TABLE IF NOT EXISTS refresh_sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		expires_at BIGINT NOT NULL
	)`
	_, err := r.db.ExecContext(ctx, tbl)
	return err
}

func (r *RefreshRepo) Save(ctx context.Context, s RefreshSession) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO refresh_sessions (token, user_id, expires_at) VALUES (:token, :user_id, :expires_at)`, s)
	return err
}

func (r *RefreshRepo) Get(ctx context.Context, token string) (RefreshSession, error) {
	var s RefreshSession
	query := r.db.Rebind(`SELECT token, user_id, expires_at FROM refresh_sessions WHERE token = ?`)
	if err := r.db.GetContext(ctx, &s, query, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RefreshSession{}, ErrNotFound
		}
		return RefreshSession{}, err
	}
	return s, nil
}

func (r *RefreshRepo) Delete(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM refresh_sessions WHERE token = ?`), token)
	return err
}

// ExpireAll makes every stored refresh token unusable.
func (r *RefreshRepo) ExpireAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_sessions SET expires_at = 0`)
	return err
}
