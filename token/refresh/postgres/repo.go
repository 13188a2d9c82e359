// Package postgres persists refresh token records in the refresh_tokens table.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptforge/auth-server/token/refresh"
)

var _ refresh.Repo = (*Repo)(nil)

// Repo is the pgx-backed refresh token store.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

func (r *Repo) Create(ctx context.Context, rec *refresh.StoredRefreshToken) error {
	const q = `
		INSERT INTO refresh_tokens
			(token_hash, jti, user_id, session_id, issued_at, expires_at, is_revoked)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)`

	_, err := r.pool.Exec(ctx, q,
		rec.TokenHash, rec.JTI, rec.UserID, rec.SessionID, rec.IssuedAt, rec.ExpiresAt)
	return err
}

func (r *Repo) GetByHash(ctx context.Context, tokenHash string) (*refresh.StoredRefreshToken, error) {
	const q = `
		SELECT token_hash, jti, user_id, session_id, issued_at, expires_at,
		       is_revoked, rotated_at, COALESCE(replaced_by, ''),
		       COALESCE(grace_access, ''), COALESCE(grace_refresh, '')
		FROM refresh_tokens WHERE token_hash = $1`

	var rec refresh.StoredRefreshToken
	err := r.pool.QueryRow(ctx, q, tokenHash).Scan(
		&rec.TokenHash, &rec.JTI, &rec.UserID, &rec.SessionID, &rec.IssuedAt, &rec.ExpiresAt,
		&rec.IsRevoked, &rec.RotatedAt, &rec.ReplacedByJTI,
		&rec.GraceAccessToken, &rec.GraceRefreshToken,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// MarkRotated relies on the conditional UPDATE to make check-and-revoke
// atomic across processes: only one caller observes is_revoked = FALSE.
func (r *Repo) MarkRotated(ctx context.Context, tokenHash string, rotatedAt time.Time, replacedByJTI, graceAccess, graceRefresh string) (bool, error) {
	const q = `
		UPDATE refresh_tokens
		SET is_revoked = TRUE, rotated_at = $2, replaced_by = $3,
		    grace_access = $4, grace_refresh = $5
		WHERE token_hash = $1 AND is_revoked = FALSE`

	tag, err := r.pool.Exec(ctx, q, tokenHash, rotatedAt, replacedByJTI, graceAccess, graceRefresh)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repo) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE refresh_tokens SET is_revoked = TRUE WHERE user_id = $1`, userID)
	return err
}

func (r *Repo) DeleteExpired(ctx context.Context, before time.Time) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < $1`, before)
	return err
}
