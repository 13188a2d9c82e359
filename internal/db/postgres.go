// Package db provides the shared Postgres connection pool and schema bootstrap.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	username      TEXT,
	password_hash TEXT NOT NULL,
	first_name    TEXT,
	last_name     TEXT,
	role          TEXT NOT NULL,
	status        TEXT NOT NULL,
	date_joined   TIMESTAMPTZ NOT NULL,
	last_login    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS active_sessions (
	user_id            TEXT PRIMARY KEY,
	session_id         TEXT NOT NULL,
	login_time         TIMESTAMPTZ NOT NULL,
	last_activity_time TIMESTAMPTZ NOT NULL,
	ip_address         TEXT,
	user_agent         TEXT
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	token_hash     TEXT PRIMARY KEY,
	jti            TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	session_id     TEXT NOT NULL,
	issued_at      TIMESTAMPTZ NOT NULL,
	expires_at     TIMESTAMPTZ NOT NULL,
	is_revoked     BOOLEAN NOT NULL DEFAULT FALSE,
	rotated_at     TIMESTAMPTZ,
	replaced_by    TEXT,
	grace_access   TEXT,
	grace_refresh  TEXT
);

CREATE INDEX IF NOT EXISTS refresh_tokens_user_idx ON refresh_tokens (user_id);
`

// Connect opens a pgx pool for the given DSN and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the auth tables when they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("db: ensure schema: %w", err)
	}
	return nil
}
