package sessions

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/promptforge/auth-server/internal/keymutex"
)

// SupersededListener receives the event emitted when a login replaces an
// existing session. The callback runs synchronously inside the per-user
// critical section, so it must be fast and must not call back into the
// Registry for the same user.
type SupersededListener func(SupersededEvent)

// Registry enforces the single-active-session invariant on top of a Repo.
type Registry struct {
	repo        Repo
	locks       *keymutex.KeyMutex
	onSupersede SupersededListener
	nowFunc     func() time.Time
	logger      zerolog.Logger
}

// RegistryOption modifies a Registry at construction time.
type RegistryOption func(*Registry)

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.nowFunc = now
	}
}

// WithSupersededListener registers the supersession event listener.
func WithSupersededListener(fn SupersededListener) RegistryOption {
	return func(r *Registry) {
		r.onSupersede = fn
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger zerolog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates a Registry backed by repo.
func NewRegistry(repo Repo, options ...RegistryOption) (*Registry, error) {
	if repo == nil {
		return nil, errors.New("[NewRegistry] repo is required")
	}
	r := &Registry{
		repo:    repo,
		locks:   keymutex.New(),
		nowFunc: time.Now,
		logger:  zerolog.Nop(),
	}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// SetSupersededListener replaces the supersession listener. Intended for
// wiring during startup, before the registry serves requests.
func (r *Registry) SetSupersededListener(fn SupersededListener) {
	r.onSupersede = fn
}

// SetActiveSession records sessionID as the one active session for userID,
// unconditionally superseding any prior session. The superseded listener is
// invoked exactly once per replaced session.
func (r *Registry) SetActiveSession(ctx context.Context, userID, sessionID, ipAddress, userAgent string) (*Session, error) {
	r.locks.Lock(userID)
	defer r.locks.Unlock(userID)

	prior, err := r.repo.Get(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "Registry.SetActiveSession Get")
	}

	now := r.nowFunc()
	session := &Session{
		ID:               sessionID,
		UserID:           userID,
		LoginTime:        now,
		LastActivityTime: now,
		IPAddress:        ipAddress,
		UserAgent:        userAgent,
	}
	if err := r.repo.Put(ctx, session); err != nil {
		return nil, errors.Wrap(err, "Registry.SetActiveSession Put")
	}

	if prior != nil && prior.ID != sessionID {
		r.logger.Info().
			Str("user_id", userID).
			Str("old_session_id", prior.ID).
			Str("new_session_id", sessionID).
			Msg("session superseded")
		if r.onSupersede != nil {
			r.onSupersede(SupersededEvent{UserID: userID, OldSessionID: prior.ID})
		}
	}

	return session, nil
}

// HasActiveSession reports whether userID currently has a session.
func (r *Registry) HasActiveSession(ctx context.Context, userID string) (bool, error) {
	s, err := r.repo.Get(ctx, userID)
	if err != nil {
		return false, errors.Wrap(err, "Registry.HasActiveSession Get")
	}
	return s != nil, nil
}

// CurrentSessionID returns the active session ID for userID, or "" when
// there is none.
func (r *Registry) CurrentSessionID(ctx context.Context, userID string) (string, error) {
	s, err := r.repo.Get(ctx, userID)
	if err != nil {
		return "", errors.Wrap(err, "Registry.CurrentSessionID Get")
	}
	if s == nil {
		return "", nil
	}
	return s.ID, nil
}

// TouchActivity updates LastActivityTime for the active session. No-op when
// the user has no session.
func (r *Registry) TouchActivity(ctx context.Context, userID string) error {
	return r.repo.Touch(ctx, userID)
}

// ClearSession removes the active session on logout or forced revocation.
func (r *Registry) ClearSession(ctx context.Context, userID string) error {
	r.locks.Lock(userID)
	defer r.locks.Unlock(userID)

	if err := r.repo.Delete(ctx, userID); err != nil {
		return errors.Wrap(err, "Registry.ClearSession Delete")
	}
	return nil
}

// Get returns the full session record for userID, or nil.
func (r *Registry) Get(ctx context.Context, userID string) (*Session, error) {
	return r.repo.Get(ctx, userID)
}
