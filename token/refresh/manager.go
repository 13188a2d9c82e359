// Package refresh validates and rotates refresh tokens. Rotation is
// single-use with a short reuse grace window: the immediately-prior token
// still succeeds once, shortly after rotating, so that two clients racing a
// refresh both come away with valid credentials. Reuse after the window is
// treated as token leakage and revokes the whole family.
package refresh

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	apperrors "github.com/promptforge/auth-server/internal/errors"
	"github.com/promptforge/auth-server/internal/keymutex"
	"github.com/promptforge/auth-server/internal/metrics"
	"github.com/promptforge/auth-server/token"
	"github.com/promptforge/auth-server/users"
)

// ReuseHandler is invoked after a reuse detection has revoked the token
// family, so the owning layer can clear the session and notify the client.
type ReuseHandler func(ctx context.Context, userID, sessionID string)

// Manager handles refresh token creation, validation, and rotation
type Manager struct {
	repo     Repo
	codec    *token.Codec
	userRepo users.UserRepo
	grace    time.Duration
	locks    *keymutex.KeyMutex
	onReuse  ReuseHandler
	nowFunc  func() time.Time
	logger   zerolog.Logger
}

// ManagerOption modifies a Manager at construction time.
type ManagerOption func(*Manager)

// WithGraceWindow sets the reuse grace window.
func WithGraceWindow(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.grace = d
	}
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

// WithReuseHandler sets the callback run after a reuse detection.
func WithReuseHandler(fn ReuseHandler) ManagerOption {
	return func(m *Manager) {
		m.onReuse = fn
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new refresh token manager
func NewManager(repo Repo, codec *token.Codec, userRepo users.UserRepo, options ...ManagerOption) (*Manager, error) {
	if repo == nil {
		return nil, errors.New("[NewManager] repo is required")
	}
	if codec == nil {
		return nil, errors.New("[NewManager] codec is required")
	}
	if userRepo == nil {
		return nil, errors.New("[NewManager] userRepo is required")
	}
	m := &Manager{
		repo:     repo,
		codec:    codec,
		userRepo: userRepo,
		grace:    10 * time.Second,
		locks:    keymutex.New(),
		nowFunc:  time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// RotationResult is what a successful (or grace-replayed) rotation returns.
type RotationResult struct {
	AccessToken  string
	RefreshToken string
	UserID       string
	SessionID    string
	ExpiresAt    time.Time
}

// SetReuseHandler replaces the reuse handler. Intended for wiring during
// startup, before the manager serves rotations.
func (m *Manager) SetReuseHandler(fn ReuseHandler) {
	m.onReuse = fn
}

// Issue creates a fresh refresh token for userID bound to sessionID and
// persists its record. Used at login, where the family starts.
func (m *Manager) Issue(ctx context.Context, userID, sessionID string) (string, error) {
	issued, err := m.codec.IssueRefreshToken(userID, sessionID)
	if err != nil {
		return "", errors.Wrap(err, "Manager.Issue IssueRefreshToken")
	}

	if err := m.repo.Create(ctx, &StoredRefreshToken{
		TokenHash: HashToken(issued.Token),
		JTI:       issued.JTI,
		UserID:    userID,
		SessionID: sessionID,
		IssuedAt:  m.nowFunc(),
		ExpiresAt: issued.ExpiresAt,
	}); err != nil {
		return "", errors.Wrap(err, "Manager.Issue Create")
	}

	return issued.Token, nil
}

// Rotate validates presented and exchanges it for a new access/refresh pair.
//
//  1. Unknown token: ErrInvalidRefreshToken.
//  2. Revoked by rotation, outside the grace window: ErrTokenReuseDetected;
//     the whole family is revoked and the reuse handler runs.
//  3. Revoked by rotation, inside the grace window: the cached rotation
//     result is returned again (idempotent re-issue).
//  4. Expired: ErrTokenExpired.
//  5. Otherwise the token is atomically marked rotated and a new pair is
//     issued and returned.
//
// Rotation is serialized per token hash, so two concurrent rotations of the
// same token cannot both be accepted as first.
func (m *Manager) Rotate(ctx context.Context, presented string) (*RotationResult, error) {
	tokenHash := HashToken(presented)

	m.locks.Lock(tokenHash)
	defer m.locks.Unlock(tokenHash)

	rec, err := m.repo.GetByHash(ctx, tokenHash)
	if err != nil {
		return nil, errors.Wrap(err, "Manager.Rotate GetByHash")
	}
	if rec == nil {
		metrics.Refreshes.WithLabelValues("invalid").Inc()
		return nil, apperrors.ErrInvalidRefreshToken
	}

	now := m.nowFunc()

	if rec.IsRevoked {
		return m.handleRevoked(ctx, rec, now)
	}

	claims, err := m.codec.VerifyRefresh(presented)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrTokenExpired) {
			metrics.Refreshes.WithLabelValues("expired").Inc()
			return nil, apperrors.ErrTokenExpired
		}
		metrics.Refreshes.WithLabelValues("invalid").Inc()
		return nil, apperrors.ErrInvalidRefreshToken
	}
	if claims.ID != rec.JTI || claims.Subject != rec.UserID {
		metrics.Refreshes.WithLabelValues("invalid").Inc()
		return nil, apperrors.ErrInvalidRefreshToken
	}
	if !rec.ExpiresAt.After(now) {
		metrics.Refreshes.WithLabelValues("expired").Inc()
		return nil, apperrors.ErrTokenExpired
	}

	user, err := m.userRepo.GetByID(rec.UserID)
	if err != nil {
		metrics.Refreshes.WithLabelValues("error").Inc()
		return nil, errors.Wrap(err, "Manager.Rotate GetByID")
	}
	if user == nil {
		metrics.Refreshes.WithLabelValues("invalid").Inc()
		return nil, apperrors.ErrInvalidRefreshToken
	}
	if !user.CanLogin() {
		metrics.Refreshes.WithLabelValues("invalid").Inc()
		return nil, apperrors.ErrInvalidRefreshToken
	}

	newAccess, err := m.codec.IssueAccessToken(user.ID, string(user.Role), string(user.Status), rec.SessionID)
	if err != nil {
		return nil, errors.Wrap(err, "Manager.Rotate IssueAccessToken")
	}
	newRefresh, err := m.codec.IssueRefreshToken(user.ID, rec.SessionID)
	if err != nil {
		return nil, errors.Wrap(err, "Manager.Rotate IssueRefreshToken")
	}

	// Atomic check-and-revoke: if another process rotated this token between
	// our read and here, we lost the race and replay its cached result.
	won, err := m.repo.MarkRotated(ctx, tokenHash, now, newRefresh.JTI, newAccess.Token, newRefresh.Token)
	if err != nil {
		return nil, errors.Wrap(err, "Manager.Rotate MarkRotated")
	}
	if !won {
		rec, err = m.repo.GetByHash(ctx, tokenHash)
		if err != nil {
			return nil, errors.Wrap(err, "Manager.Rotate GetByHash after lost race")
		}
		if rec == nil {
			return nil, apperrors.ErrInvalidRefreshToken
		}
		return m.handleRevoked(ctx, rec, now)
	}

	if err := m.repo.Create(ctx, &StoredRefreshToken{
		TokenHash: HashToken(newRefresh.Token),
		JTI:       newRefresh.JTI,
		UserID:    user.ID,
		SessionID: rec.SessionID,
		IssuedAt:  now,
		ExpiresAt: newRefresh.ExpiresAt,
	}); err != nil {
		return nil, errors.Wrap(err, "Manager.Rotate Create")
	}

	metrics.Refreshes.WithLabelValues("ok").Inc()
	return &RotationResult{
		AccessToken:  newAccess.Token,
		RefreshToken: newRefresh.Token,
		UserID:       user.ID,
		SessionID:    rec.SessionID,
		ExpiresAt:    newAccess.ExpiresAt,
	}, nil
}

// handleRevoked resolves a presented token whose record is already revoked:
// grace replay, reuse detection, or plain invalid (revoked by logout).
func (m *Manager) handleRevoked(ctx context.Context, rec *StoredRefreshToken, now time.Time) (*RotationResult, error) {
	if rec.RotatedAt == nil {
		// Revoked by logout or forced revocation, not by rotation.
		metrics.Refreshes.WithLabelValues("invalid").Inc()
		return nil, apperrors.ErrInvalidRefreshToken
	}

	if now.Sub(*rec.RotatedAt) <= m.grace {
		m.logger.Debug().
			Str("user_id", rec.UserID).
			Str("jti", rec.JTI).
			Msg("refresh replay inside grace window, re-issuing rotation result")
		metrics.Refreshes.WithLabelValues("grace_replay").Inc()
		return &RotationResult{
			AccessToken:  rec.GraceAccessToken,
			RefreshToken: rec.GraceRefreshToken,
			UserID:       rec.UserID,
			SessionID:    rec.SessionID,
			ExpiresAt:    rec.RotatedAt.Add(m.codec.AccessTTL()),
		}, nil
	}

	// Replay outside the window: the token family is compromised.
	m.logger.Warn().
		Str("user_id", rec.UserID).
		Str("jti", rec.JTI).
		Msg("refresh token reuse detected, revoking token family")
	metrics.Refreshes.WithLabelValues("reuse_detected").Inc()
	metrics.ReuseDetections.Inc()

	if err := m.repo.RevokeAllForUser(ctx, rec.UserID); err != nil {
		return nil, errors.Wrap(err, "Manager.handleRevoked RevokeAllForUser")
	}
	if m.onReuse != nil {
		m.onReuse(ctx, rec.UserID, rec.SessionID)
	}
	return nil, apperrors.ErrTokenReuseDetected
}

// RevokeAll revokes every refresh token owned by userID.
func (m *Manager) RevokeAll(ctx context.Context, userID string) error {
	if err := m.repo.RevokeAllForUser(ctx, userID); err != nil {
		return errors.Wrap(err, "Manager.RevokeAll RevokeAllForUser")
	}
	return nil
}

// PurgeExpired deletes token records whose expiry has passed. Run it
// periodically; revocation state for tokens that can no longer verify
// carries no information worth keeping.
func (m *Manager) PurgeExpired(ctx context.Context) error {
	if err := m.repo.DeleteExpired(ctx, m.nowFunc()); err != nil {
		return errors.Wrap(err, "Manager.PurgeExpired DeleteExpired")
	}
	return nil
}

// Lookup returns the stored record for a presented token, or nil. Used by
// the authenticator to resolve ownership without rotating.
func (m *Manager) Lookup(ctx context.Context, presented string) (*StoredRefreshToken, error) {
	return m.repo.GetByHash(ctx, HashToken(presented))
}
