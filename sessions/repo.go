package sessions

import "context"

// Repo stores at most one session per user, keyed by user ID.
//
// Implementations must be safe for concurrent use; linearizability of
// supersession is provided by the Registry's per-user locking, not by
// the repo.
type Repo interface {
	// Get returns the active session for userID, or nil when there is none.
	Get(ctx context.Context, userID string) (*Session, error)

	// Put stores session as the active session for session.UserID,
	// replacing any existing one.
	Put(ctx context.Context, session *Session) error

	// Touch updates LastActivityTime. No-op when no session exists.
	Touch(ctx context.Context, userID string) error

	// Delete removes the active session for userID. Deleting a missing
	// session is not an error.
	Delete(ctx context.Context, userID string) error
}
