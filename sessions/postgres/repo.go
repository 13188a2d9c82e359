// Package postgres persists active sessions in the active_sessions table.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptforge/auth-server/sessions"
)

var _ sessions.Repo = (*Repo)(nil)

// Repo is the pgx-backed session store.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

func (r *Repo) Get(ctx context.Context, userID string) (*sessions.Session, error) {
	const q = `
		SELECT user_id, session_id, login_time, last_activity_time,
		       COALESCE(ip_address, ''), COALESCE(user_agent, '')
		FROM active_sessions WHERE user_id = $1`

	var s sessions.Session
	err := r.pool.QueryRow(ctx, q, userID).Scan(
		&s.UserID, &s.ID, &s.LoginTime, &s.LastActivityTime, &s.IPAddress, &s.UserAgent,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// Put upserts on user_id, which is what enforces at-most-one session per
// user at the storage level.
func (r *Repo) Put(ctx context.Context, session *sessions.Session) error {
	const q = `
		INSERT INTO active_sessions (user_id, session_id, login_time, last_activity_time, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))
		ON CONFLICT (user_id) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			login_time = EXCLUDED.login_time,
			last_activity_time = EXCLUDED.last_activity_time,
			ip_address = EXCLUDED.ip_address,
			user_agent = EXCLUDED.user_agent`

	_, err := r.pool.Exec(ctx, q,
		session.UserID, session.ID, session.LoginTime, session.LastActivityTime,
		session.IPAddress, session.UserAgent,
	)
	return err
}

func (r *Repo) Touch(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE active_sessions SET last_activity_time = now() WHERE user_id = $1`, userID)
	return err
}

func (r *Repo) Delete(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM active_sessions WHERE user_id = $1`, userID)
	return err
}
