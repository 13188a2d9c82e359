package refresh

import (
	"context"
	"time"
)

// StoredRefreshToken is the server-side, revocable record of a refresh
// token. The client only ever holds the signed token string; this record is
// keyed by its SHA-256 hash.
type StoredRefreshToken struct {
	TokenHash string    // SHA-256 hex of the token string (record key)
	JTI       string    // Token ID claim, identifies the token in its family
	UserID    string    // Owner
	SessionID string    // Session the family is bound to
	IssuedAt  time.Time
	ExpiresAt time.Time

	IsRevoked     bool       // Set on rotation, logout, or reuse response
	RotatedAt     *time.Time // Set only when revocation was caused by rotation
	ReplacedByJTI string     // JTI of the successor token, set on rotation

	// Cached rotation result. A replay of this token inside the reuse grace
	// window is answered with exactly these strings, which is what makes
	// concurrent rotations of the same token idempotent.
	GraceAccessToken  string
	GraceRefreshToken string
}

// Repo manages server-side storage of refresh token records.
type Repo interface {
	// Create stores a fresh, unrevoked record.
	Create(ctx context.Context, rec *StoredRefreshToken) error

	// GetByHash returns the record for tokenHash, or nil when absent.
	GetByHash(ctx context.Context, tokenHash string) (*StoredRefreshToken, error)

	// MarkRotated atomically flips IsRevoked from false to true, recording
	// the rotation timestamp, the successor JTI, and the cached rotation
	// result. It returns false when the record was already revoked, which
	// signals a lost rotation race to the caller.
	MarkRotated(ctx context.Context, tokenHash string, rotatedAt time.Time, replacedByJTI, graceAccess, graceRefresh string) (bool, error)

	// RevokeAllForUser revokes every record owned by userID. Used on logout
	// and on reuse detection. Revocation through this path records no
	// rotation timestamp, so revoked records never qualify for the grace
	// window.
	RevokeAllForUser(ctx context.Context, userID string) error

	// DeleteExpired removes records that expired before the cutoff.
	DeleteExpired(ctx context.Context, before time.Time) error
}
