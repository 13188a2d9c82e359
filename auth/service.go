// Package auth composes the token codec, session registry, and refresh
// manager into the authentication service the HTTP layer calls: login,
// verify, refresh, and logout.
package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	apperrors "github.com/promptforge/auth-server/internal/errors"
	"github.com/promptforge/auth-server/internal/metrics"
	"github.com/promptforge/auth-server/sessions"
	"github.com/promptforge/auth-server/token"
	"github.com/promptforge/auth-server/token/refresh"
	"github.com/promptforge/auth-server/users"
)

// ClientInfo carries request metadata recorded on the session.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	AccessToken           string
	RefreshToken          string
	ExpiresAt             time.Time
	SessionID             string
	User                  *users.User
	PasswordResetRequired bool
}

// Identity is the outcome of verifying an access token against the live
// session state.
type Identity struct {
	UserID        string
	Role          users.RoleType
	AccountStatus users.AccountStatus
	SessionID     string
	ExpiresAt     time.Time
}

// Service implements the authentication operations. A new login supersedes
// any prior session for the same user and revokes that session's refresh
// tokens; verification checks the token's session against the live registry
// on every call.
type Service struct {
	userRepo users.UserRepo
	codec    *token.Codec
	registry *sessions.Registry
	tokens   *refresh.Manager
	notifier *Notifier
	nowFunc  func() time.Time
	logger   zerolog.Logger
}

type ServiceOption func(*Service)

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowFunc = now
	}
}

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService wires the service and registers itself as the registry's
// supersession listener and the refresh manager's reuse handler.
func NewService(userRepo users.UserRepo, codec *token.Codec, registry *sessions.Registry, tokens *refresh.Manager, options ...ServiceOption) (*Service, error) {
	if userRepo == nil || codec == nil || registry == nil || tokens == nil {
		return nil, errors.New("[NewService] userRepo, codec, registry, and tokens are required")
	}
	s := &Service{
		userRepo: userRepo,
		codec:    codec,
		registry: registry,
		tokens:   tokens,
		notifier: NewNotifier(),
		nowFunc:  time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range options {
		opt(s)
	}

	registry.SetSupersededListener(s.handleSuperseded)
	tokens.SetReuseHandler(s.handleReuse)
	return s, nil
}

// Notifier exposes the termination signal hub for subscribers.
func (s *Service) Notifier() *Notifier {
	return s.notifier
}

// handleSuperseded runs inside the registry's per-user critical section when
// a new login replaces an existing session. The replaced session's refresh
// tokens must die with it: the new family is only issued after this returns.
func (s *Service) handleSuperseded(event sessions.SupersededEvent) {
	metrics.Supersessions.Inc()
	if err := s.tokens.RevokeAll(context.Background(), event.UserID); err != nil {
		s.logger.Error().Err(err).
			Str("user_id", event.UserID).
			Msg("failed to revoke refresh tokens of superseded session")
	}
	s.notifier.Publish(TerminatedSignal{
		UserID:    event.UserID,
		SessionID: event.OldSessionID,
		Reason:    ReasonSuperseded,
		At:        s.nowFunc(),
	})
}

// handleReuse is called by the refresh manager after it has revoked the
// compromised token family. The session cannot be trusted either.
func (s *Service) handleReuse(ctx context.Context, userID, sessionID string) {
	if err := s.registry.ClearSession(ctx, userID); err != nil {
		s.logger.Error().Err(err).
			Str("user_id", userID).
			Msg("failed to clear session after token reuse")
	}
	s.notifier.Publish(TerminatedSignal{
		UserID:    userID,
		SessionID: sessionID,
		Reason:    ReasonReuse,
		At:        s.nowFunc(),
	})
}

// Login authenticates email/password and establishes the user's single
// active session. Unknown accounts, wrong passwords, and blocked accounts
// all return ErrInvalidCredentials so callers cannot probe which it was.
func (s *Service) Login(ctx context.Context, email, password string, client ClientInfo) (*LoginResult, error) {
	user, err := s.userRepo.GetByEmail(email)
	if err != nil {
		metrics.Logins.WithLabelValues("error").Inc()
		return nil, errors.Wrap(err, "Service.Login GetByEmail")
	}
	if user == nil {
		metrics.Logins.WithLabelValues("invalid_credentials").Inc()
		return nil, apperrors.ErrInvalidCredentials
	}
	if !users.CheckPasswordHash(password, user.PasswordHash) {
		metrics.Logins.WithLabelValues("invalid_credentials").Inc()
		return nil, apperrors.ErrInvalidCredentials
	}
	if !user.CanLogin() {
		metrics.Logins.WithLabelValues("invalid_credentials").Inc()
		return nil, apperrors.ErrInvalidCredentials
	}

	sessionID := uuid.New().String()
	if _, err := s.registry.SetActiveSession(ctx, user.ID, sessionID, client.IPAddress, client.UserAgent); err != nil {
		metrics.Logins.WithLabelValues("error").Inc()
		return nil, errors.Wrap(err, "Service.Login SetActiveSession")
	}

	access, err := s.codec.IssueAccessToken(user.ID, string(user.Role), string(user.Status), sessionID)
	if err != nil {
		metrics.Logins.WithLabelValues("error").Inc()
		return nil, errors.Wrap(err, "Service.Login IssueAccessToken")
	}
	refreshToken, err := s.tokens.Issue(ctx, user.ID, sessionID)
	if err != nil {
		metrics.Logins.WithLabelValues("error").Inc()
		return nil, errors.Wrap(err, "Service.Login Issue refresh")
	}

	if err := s.userRepo.SetLastLogin(user.ID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("failed to stamp last login")
	}

	s.logger.Info().
		Str("user_id", user.ID).
		Str("session_id", sessionID).
		Str("ip", client.IPAddress).
		Msg("login succeeded")
	metrics.Logins.WithLabelValues("ok").Inc()

	return &LoginResult{
		AccessToken:           access.Token,
		RefreshToken:          refreshToken,
		ExpiresAt:             access.ExpiresAt,
		SessionID:             sessionID,
		User:                  user.Public(),
		PasswordResetRequired: user.Status == users.StatusPendingReset,
	}, nil
}

// Verify validates an access token and confirms its session is still the
// user's current one. A structurally valid token whose session has been
// superseded or cleared yields ErrSessionTerminated.
func (s *Service) Verify(ctx context.Context, accessToken string) (*Identity, error) {
	claims, err := s.codec.VerifyAccess(accessToken)
	if err != nil {
		return nil, err
	}

	current, err := s.registry.CurrentSessionID(ctx, claims.Subject)
	if err != nil {
		return nil, errors.Wrap(err, "Service.Verify CurrentSessionID")
	}
	if current == "" || current != claims.SessionID {
		return nil, apperrors.ErrSessionTerminated
	}

	if err := s.registry.TouchActivity(ctx, claims.Subject); err != nil {
		s.logger.Warn().Err(err).Str("user_id", claims.Subject).Msg("failed to touch session activity")
	}

	return &Identity{
		UserID:        claims.Subject,
		Role:          users.RoleType(claims.Role),
		AccountStatus: users.AccountStatus(claims.AccountStatus),
		SessionID:     claims.SessionID,
		ExpiresAt:     claims.ExpiresAt.Time,
	}, nil
}

// Refresh exchanges a refresh token for a new token pair. The token's
// session must still be the user's current one; rotating a token from a
// superseded session fails with ErrSessionTerminated rather than reviving it.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*refresh.RotationResult, error) {
	rec, err := s.tokens.Lookup(ctx, refreshToken)
	if err != nil {
		return nil, errors.Wrap(err, "Service.Refresh Lookup")
	}
	// Rotated records (RotatedAt set) skip the freshness check: the grace
	// window and reuse detection in Rotate decide their fate.
	if rec != nil && rec.RotatedAt == nil {
		current, err := s.registry.CurrentSessionID(ctx, rec.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "Service.Refresh CurrentSessionID")
		}
		if current == "" || current != rec.SessionID {
			metrics.Refreshes.WithLabelValues("terminated").Inc()
			return nil, apperrors.ErrSessionTerminated
		}
	}

	return s.tokens.Rotate(ctx, refreshToken)
}

// Logout ends the identified session: the refresh family is revoked and the
// session cleared. A stale session ID (already superseded) is a no-op so a
// late logout cannot kill a newer login. Logout never fails for being
// already logged out.
func (s *Service) Logout(ctx context.Context, userID, sessionID string) error {
	current, err := s.registry.CurrentSessionID(ctx, userID)
	if err != nil {
		return errors.Wrap(err, "Service.Logout CurrentSessionID")
	}
	if current == "" || current != sessionID {
		return nil
	}

	if err := s.tokens.RevokeAll(ctx, userID); err != nil {
		return errors.Wrap(err, "Service.Logout RevokeAll")
	}
	if err := s.registry.ClearSession(ctx, userID); err != nil {
		return errors.Wrap(err, "Service.Logout ClearSession")
	}

	s.notifier.Publish(TerminatedSignal{
		UserID:    userID,
		SessionID: sessionID,
		Reason:    ReasonLogout,
		At:        s.nowFunc(),
	})
	s.logger.Info().Str("user_id", userID).Str("session_id", sessionID).Msg("logout")
	return nil
}

// LogoutByRefreshToken resolves the presented refresh token to its session
// and logs that session out. Unknown or already-revoked tokens are a
// successful no-op: logout never fails for being already logged out, and an
// unauthenticated caller learns nothing from the response.
func (s *Service) LogoutByRefreshToken(ctx context.Context, refreshToken string) error {
	rec, err := s.tokens.Lookup(ctx, refreshToken)
	if err != nil {
		return errors.Wrap(err, "Service.LogoutByRefreshToken Lookup")
	}
	if rec == nil || rec.IsRevoked {
		return nil
	}
	return s.Logout(ctx, rec.UserID, rec.SessionID)
}

// Revoke forcibly terminates a user's session and refresh tokens. Used by
// the administrative revocation endpoint.
func (s *Service) Revoke(ctx context.Context, userID string) error {
	sessionID, err := s.registry.CurrentSessionID(ctx, userID)
	if err != nil {
		return errors.Wrap(err, "Service.Revoke CurrentSessionID")
	}

	if err := s.tokens.RevokeAll(ctx, userID); err != nil {
		return errors.Wrap(err, "Service.Revoke RevokeAll")
	}
	if err := s.registry.ClearSession(ctx, userID); err != nil {
		return errors.Wrap(err, "Service.Revoke ClearSession")
	}

	if sessionID != "" {
		s.notifier.Publish(TerminatedSignal{
			UserID:    userID,
			SessionID: sessionID,
			Reason:    ReasonRevoked,
			At:        s.nowFunc(),
		})
	}
	s.logger.Info().Str("user_id", userID).Msg("session revoked")
	return nil
}
