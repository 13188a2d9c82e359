package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/promptforge/auth-server/auth"
	apperrors "github.com/promptforge/auth-server/internal/errors"
	"github.com/promptforge/auth-server/permission"
	"github.com/promptforge/auth-server/users"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned on successful login.
type LoginResponse struct {
	AccessToken           string      `json:"access_token"`
	RefreshToken          string      `json:"refresh_token"`
	TokenType             string      `json:"token_type"`
	ExpiresIn             int64       `json:"expires_in"`
	ExpiresAt             time.Time   `json:"expires_at"`
	User                  *users.User `json:"user"`
	PasswordResetRequired bool        `json:"password_reset_required,omitempty"`
}

// CheckResponse is returned by GET /auth/check for a valid token.
type CheckResponse struct {
	UserID        string    `json:"user_id"`
	Role          string    `json:"role"`
	AccountStatus string    `json:"account_status"`
	SessionID     string    `json:"session_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// RefreshRequest is the body of POST /auth/refresh-token.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponse carries the rotated token pair.
type RefreshResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// LogoutRequest is the body of POST /auth/logout.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RevokeRequest is the body of the administrative POST /auth/revoke.
type RevokeRequest struct {
	UserID string `json:"user_id"`
}

// ErrorResponse is the uniform error payload. Code is machine-readable;
// clients branch on it rather than on the message.
type ErrorResponse struct {
	Code    string `json:"error_code"`
	Message string `json:"error"`
}

// LoginHandler authenticates credentials and opens the user's single active
// session. Rate limited per client address.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ok, retryAfter := s.limiter.Allow(ip); !ok {
			w.Header().Set("Retry-After", retryAfterHeader(retryAfter))
			writeError(w, http.StatusTooManyRequests, apperrors.ErrRateLimited)
			return
		}

		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, apperrors.ErrInvalidCredentials)
			return
		}

		result, err := s.auth.Login(r.Context(), req.Email, req.Password, auth.ClientInfo{
			IPAddress: ip,
			UserAgent: r.UserAgent(),
		})
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}

		writeJSON(w, http.StatusOK, LoginResponse{
			AccessToken:           result.AccessToken,
			RefreshToken:          result.RefreshToken,
			TokenType:             "Bearer",
			ExpiresIn:             int64(time.Until(result.ExpiresAt).Seconds()),
			ExpiresAt:             result.ExpiresAt,
			User:                  result.User,
			PasswordResetRequired: result.PasswordResetRequired,
		})
	}
}

// CheckHandler reports whether the presented access token identifies a live
// session. RequireAuth has already done the verification.
func (s *Server) CheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, apperrors.ErrUnauthenticated)
			return
		}
		writeJSON(w, http.StatusOK, CheckResponse{
			UserID:        identity.UserID,
			Role:          string(identity.Role),
			AccountStatus: string(identity.AccountStatus),
			SessionID:     identity.SessionID,
			ExpiresAt:     identity.ExpiresAt,
		})
	}
}

// RefreshHandler rotates a refresh token. The presented token is consumed;
// replaying it after the grace window revokes the whole family.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RefreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
			writeError(w, http.StatusBadRequest, apperrors.ErrInvalidRefreshToken)
			return
		}

		result, err := s.auth.Refresh(r.Context(), req.RefreshToken)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}

		writeJSON(w, http.StatusOK, RefreshResponse{
			AccessToken:  result.AccessToken,
			RefreshToken: result.RefreshToken,
			TokenType:    "Bearer",
			ExpiresIn:    int64(time.Until(result.ExpiresAt).Seconds()),
			ExpiresAt:    result.ExpiresAt,
		})
	}
}

// LogoutHandler ends the session the refresh token belongs to. Always
// answers 200: logout is idempotent, and an unknown token reveals nothing.
// A token from an already-superseded session cannot kill the newer one.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LogoutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.RefreshToken != "" {
			if err := s.auth.LogoutByRefreshToken(r.Context(), req.RefreshToken); err != nil {
				s.logger.Warn().Err(err).Msg("logout failed")
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// RevokeHandler forcibly terminates another user's session. Admin only.
func (s *Server) RevokeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, apperrors.ErrUnauthenticated)
			return
		}
		if !permission.CanAccess(identity.Role, permission.FeatureSessionRevoke) {
			writeError(w, http.StatusForbidden, apperrors.ErrAccessDenied)
			return
		}

		var req RevokeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			writeError(w, http.StatusBadRequest, apperrors.ErrNotFound)
			return
		}

		if err := s.auth.Revoke(r.Context(), req.UserID); err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HealthHandler is a liveness probe.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Code: apperrors.Code(err), Message: err.Error()})
}

// statusForError maps the error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case apperrors.Is(err, apperrors.ErrInvalidCredentials),
		apperrors.Is(err, apperrors.ErrUnauthenticated),
		apperrors.Is(err, apperrors.ErrTokenExpired),
		apperrors.Is(err, apperrors.ErrInvalidSignature),
		apperrors.Is(err, apperrors.ErrInvalidClaims),
		apperrors.Is(err, apperrors.ErrInvalidRefreshToken),
		apperrors.Is(err, apperrors.ErrTokenReuseDetected),
		apperrors.Is(err, apperrors.ErrSessionTerminated):
		return http.StatusUnauthorized
	case apperrors.Is(err, apperrors.ErrAccessDenied):
		return http.StatusForbidden
	case apperrors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case apperrors.Is(err, apperrors.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
