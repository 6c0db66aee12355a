package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// User is an account known to the stub provider. Several users may share an
// email, as on the real provider.
type User struct {
	ID           string `db:"id"            json:"id"`
	Email        string `db:"email"         json:"email"`
	PasswordHash string `db:"password_hash" json:"-"`
	FirstName    string `db:"first_name"    json:"first_name"`
	LastName     string `db:"last_name"     json:"last_name"`
	AdminCode    string `db:"admin_code"    json:"-"`
}

type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// EnsureTable creates the users table if not exists (idempotent).
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		admin_code TEXT NOT NULL DEFAULT ''
	)`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *UserRepo) Create(ctx context.Context, u User) error {
	q := `INSERT INTO users (id, email, password_hash, first_name, last_name, admin_code)
		  VALUES (:id, :email, :password_hash, :first_name, :last_name, :admin_code)`
	_, err := r.db.NamedExecContext(ctx, q, u)
	return err
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (User, error) {
	var u User
	q := r.db.Rebind(`SELECT id, email, password_hash, first_name, last_name, admin_code FROM users WHERE id = ?`)
	if err := r.db.GetContext(ctx, &u, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

// ListByEmail returns every account registered with email, oldest first.
func (r *UserRepo) ListByEmail(ctx context.Context, email string) ([]User, error) {
	var out []User
	q := r.db.Rebind(`SELECT id, email, password_hash, first_name, last_name, admin_code FROM users
		WHERE lower(email) = lower(?) ORDER BY rowid`)
	if err := r.db.SelectContext(ctx, &out, q, email); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *UserRepo) SetAdminCode(ctx context.Context, id, code string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE users SET admin_code = ? WHERE id = ?`), code, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
