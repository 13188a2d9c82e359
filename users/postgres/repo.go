// Package postgres persists user accounts in the users table.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptforge/auth-server/users"
)

var _ users.UserRepo = (*Repo)(nil)

// Repo is the pgx-backed user store. The UserRepo interface carries no
// context, so each call runs under its own short timeout.
type Repo struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool, timeout: 5 * time.Second}
}

func (r *Repo) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

func (r *Repo) Upsert(user *users.User) error {
	const q = `
		INSERT INTO users (id, email, username, password_hash, first_name, last_name, role, status, date_joined, last_login)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			username = EXCLUDED.username,
			password_hash = EXCLUDED.password_hash,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			role = EXCLUDED.role,
			status = EXCLUDED.status`

	ctx, cancel := r.ctx()
	defer cancel()

	dateJoined := user.DateJoined
	if dateJoined.IsZero() {
		dateJoined = time.Now()
	}
	_, err := r.pool.Exec(ctx, q,
		user.ID, user.Email, user.Username, user.PasswordHash,
		user.FirstName, user.LastName, string(user.Role), string(user.Status),
		dateJoined, user.LastLogin,
	)
	return err
}

func (r *Repo) GetByEmail(email string) (*users.User, error) {
	return r.get(`email = $1`, email)
}

func (r *Repo) GetByID(id string) (*users.User, error) {
	return r.get(`id = $1`, id)
}

func (r *Repo) get(where string, arg interface{}) (*users.User, error) {
	q := `
		SELECT id, email, COALESCE(username, ''), password_hash,
		       COALESCE(first_name, ''), COALESCE(last_name, ''),
		       role, status, date_joined, COALESCE(last_login, 'epoch'::timestamptz)
		FROM users WHERE ` + where

	ctx, cancel := r.ctx()
	defer cancel()

	var u users.User
	var role, status string
	err := r.pool.QueryRow(ctx, q, arg).Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash,
		&u.FirstName, &u.LastName, &role, &status, &u.DateJoined, &u.LastLogin,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Role = users.RoleType(role)
	u.Status = users.AccountStatus(status)
	return &u, nil
}

func (r *Repo) SetStatus(email string, status users.AccountStatus) error {
	ctx, cancel := r.ctx()
	defer cancel()
	_, err := r.pool.Exec(ctx, `UPDATE users SET status = $2 WHERE email = $1`, email, string(status))
	return err
}

func (r *Repo) SetLastLogin(id string) error {
	ctx, cancel := r.ctx()
	defer cancel()
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_login = now() WHERE id = $1`, id)
	return err
}
