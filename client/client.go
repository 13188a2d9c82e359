// Package client is the Go consumer of the authentication API. It owns the
// credential store, deduplicates concurrent session checks, refreshes
// expired access tokens transparently, and guarantees that logout always
// clears local state even when the server is unreachable.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/promptforge/auth-server/client/credentials"
	apperrors "github.com/promptforge/auth-server/internal/errors"
	"github.com/promptforge/auth-server/server"
)

// TerminatedHandler is called when the server reports the session is gone:
// superseded by another login, revoked, or killed by token reuse detection.
type TerminatedHandler func(reason error)

// SessionClient talks to the authentication server on behalf of an
// application. All methods are safe for concurrent use.
type SessionClient struct {
	baseURL      string
	httpClient   *http.Client
	store        *credentials.Store
	secure       credentials.SecureStore
	onTerminated TerminatedHandler
	logger       zerolog.Logger
	maxRetries   uint64

	verifyGroup singleflight.Group
}

type Option func(*SessionClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *SessionClient) {
		s.httpClient = c
	}
}

// WithSecureStore sets the persistence backend for credentials.
func WithSecureStore(store credentials.SecureStore) Option {
	return func(s *SessionClient) {
		s.secure = store
	}
}

// WithTerminatedHandler registers the callback for forced session ends.
func WithTerminatedHandler(fn TerminatedHandler) Option {
	return func(s *SessionClient) {
		s.onTerminated = fn
	}
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *SessionClient) {
		s.logger = logger
	}
}

// WithMaxRetries bounds the retry attempts for transient network failures.
func WithMaxRetries(n uint64) Option {
	return func(s *SessionClient) {
		s.maxRetries = n
	}
}

func New(baseURL string, options ...Option) *SessionClient {
	s := &SessionClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		store:      credentials.NewStore(),
		secure:     credentials.NewMemoryStore(),
		logger:     zerolog.Nop(),
		maxRetries: 3,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Store exposes the credential store so applications can read state and
// subscribe to changes.
func (s *SessionClient) Store() *credentials.Store {
	return s.store
}

// Restore loads persisted credentials from the secure store into memory.
// Call once at startup; a no-op when nothing is persisted.
func (s *SessionClient) Restore() error {
	state, err := s.secure.Load()
	if err != nil {
		return errors.Wrap(err, "SessionClient.Restore Load")
	}
	if state != nil && state.LoggedIn() {
		s.store.Set(*state)
	}
	return nil
}

// Login authenticates and replaces any existing local session.
func (s *SessionClient) Login(ctx context.Context, email, password string) (*credentials.AuthState, error) {
	var resp server.LoginResponse
	err := s.do(ctx, http.MethodPost, server.RouteAuthLogin, "", server.LoginRequest{Email: email, Password: password}, &resp, false)
	if err != nil {
		return nil, err
	}

	state := credentials.AuthState{
		Status:       credentials.StatusLoggedIn,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    resp.ExpiresAt,
	}
	if resp.User != nil {
		state.UserID = resp.User.ID
		state.Email = resp.User.Email
		state.Role = string(resp.User.Role)
	}

	s.store.SetAuthenticated(state)
	if err := s.secure.Save(state); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist credentials")
	}
	return &state, nil
}

// VerifySession confirms the current access token against the server,
// refreshing it first when it has expired. Concurrent callers share a
// single round trip.
func (s *SessionClient) VerifySession(ctx context.Context) (*server.CheckResponse, error) {
	result, err, _ := s.verifyGroup.Do("verify", func() (interface{}, error) {
		return s.verifyOnce(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*server.CheckResponse), nil
}

func (s *SessionClient) verifyOnce(ctx context.Context) (*server.CheckResponse, error) {
	state := s.store.GetState()
	if !state.LoggedIn() {
		return nil, apperrors.ErrUnauthenticated
	}

	var resp server.CheckResponse
	err := s.do(ctx, http.MethodGet, server.RouteAuthCheck, state.AccessToken, nil, &resp, true)
	if err == nil {
		return &resp, nil
	}

	// An expired access token is recoverable, and so is a rejected one when
	// the refresh token is still good (rotation can outrun a cached access
	// token). Try one refresh before giving up.
	if apperrors.Is(err, apperrors.ErrTokenExpired) || apperrors.Is(err, apperrors.ErrUnauthenticated) {
		if err := s.Refresh(ctx); err != nil {
			return nil, err
		}
		state = s.store.GetState()
		if err := s.do(ctx, http.MethodGet, server.RouteAuthCheck, state.AccessToken, nil, &resp, true); err != nil {
			return nil, s.handleAuthError(err)
		}
		return &resp, nil
	}

	return nil, s.handleAuthError(err)
}

// Refresh exchanges the stored refresh token for a new pair.
func (s *SessionClient) Refresh(ctx context.Context) error {
	state := s.store.GetState()
	if state.RefreshToken == "" {
		return apperrors.ErrUnauthenticated
	}

	var resp server.RefreshResponse
	err := s.do(ctx, http.MethodPost, server.RouteAuthRefresh, "", server.RefreshRequest{RefreshToken: state.RefreshToken}, &resp, false)
	if err != nil {
		return s.handleAuthError(err)
	}

	s.store.SaveTokens(resp.AccessToken, resp.RefreshToken, resp.ExpiresAt)
	if err := s.secure.Save(s.store.GetState()); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist refreshed credentials")
	}
	return nil
}

// Logout ends the session. The server call is best-effort: local state and
// persisted credentials are cleared regardless, so Logout never leaves the
// client logged in.
func (s *SessionClient) Logout(ctx context.Context) error {
	state := s.store.GetState()

	if state.RefreshToken != "" {
		if err := s.do(ctx, http.MethodPost, server.RouteAuthLogout, "", server.LogoutRequest{RefreshToken: state.RefreshToken}, nil, false); err != nil {
			s.logger.Warn().Err(err).Msg("remote logout failed, clearing local state anyway")
		}
	}

	s.store.SetUnauthenticated()
	if err := s.secure.Clear(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to clear persisted credentials")
	}
	return nil
}

// handleAuthError clears local state when the server says the session is
// over, and surfaces the original error.
func (s *SessionClient) handleAuthError(err error) error {
	if apperrors.Is(err, apperrors.ErrSessionTerminated) ||
		apperrors.Is(err, apperrors.ErrTokenReuseDetected) ||
		apperrors.Is(err, apperrors.ErrInvalidRefreshToken) {
		s.store.ClearTokens()
		if clearErr := s.secure.Clear(); clearErr != nil {
			s.logger.Warn().Err(clearErr).Msg("failed to clear persisted credentials")
		}
		if s.onTerminated != nil {
			s.onTerminated(err)
		}
	}
	return err
}

// do performs one API call. Transient transport failures are retried with
// exponential backoff and jitter; HTTP error responses are mapped to the
// error taxonomy via their wire code and never retried, except that a 429
// is also retried when retryRateLimited is set. Mutating calls such as
// login keep retryRateLimited false so a rate limit surfaces immediately
// instead of hammering the window.
func (s *SessionClient) do(ctx context.Context, method, path, bearer string, body, out interface{}, retryRateLimited bool) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "SessionClient.do Marshal")
		}
	}

	operation := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(errors.Wrap(err, "SessionClient.do NewRequest"))
		}
		req.Header.Set("Content-Type", "application/json")
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return errors.Wrap(err, "SessionClient.do request")
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests && retryRateLimited {
			return decodeError(resp)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(decodeError(resp))
		}
		if out != nil && resp.StatusCode != http.StatusNoContent {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(errors.Wrap(err, "SessionClient.do Decode"))
			}
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}
		if apperrors.Is(err, apperrors.ErrRateLimited) {
			return err
		}
		return errors.Wrapf(apperrors.ErrNetwork, "request failed after retries: %v", err)
	}
	return nil
}

// decodeError turns an error payload into the matching sentinel error. Rate
// limit responses carry the server's Retry-After hint in the returned error.
func decodeError(resp *http.Response) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return &apperrors.RateLimitedError{RetryAfter: retryAfter(resp)}
	}

	var body server.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Code == "" {
		if resp.StatusCode == http.StatusUnauthorized {
			return apperrors.ErrUnauthenticated
		}
		return apperrors.ErrInternal
	}
	return apperrors.FromCode(body.Code)
}

// retryAfter parses the Retry-After header, zero when absent or malformed.
func retryAfter(resp *http.Response) time.Duration {
	seconds, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
