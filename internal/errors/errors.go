package errors

import (
	"errors"
	"fmt"
	"time"
)

// Common error types for the authentication subsystem
var (
	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthenticated    = errors.New("unauthenticated")

	// Token errors
	ErrTokenExpired        = errors.New("token expired")
	ErrInvalidSignature    = errors.New("invalid token signature")
	ErrInvalidClaims       = errors.New("invalid token claims")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrTokenReuseDetected  = errors.New("refresh token reuse detected")

	// Session errors
	ErrSessionTerminated = errors.New("session terminated")

	// Transport errors
	ErrRateLimited = errors.New("rate limited")
	ErrNetwork     = errors.New("network error")

	// General errors
	ErrNotFound     = errors.New("not found")
	ErrAccessDenied = errors.New("access denied")
	ErrInternal     = errors.New("internal error")
)

// Wire codes used in API error payloads. Clients branch on these, so each
// sentinel above that crosses the network boundary has exactly one code.
const (
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeInvalidRefresh     = "INVALID_REFRESH_TOKEN"
	CodeTokenReuseDetected = "TOKEN_REUSE_DETECTED"
	CodeSessionTerminated  = "SESSION_TERMINATED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeAccessDenied       = "ACCESS_DENIED"
	CodeInternal           = "INTERNAL"
)

// Code returns the wire code for err, or CodeInternal when err does not map
// to a known sentinel.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return CodeInvalidCredentials
	case errors.Is(err, ErrTokenExpired):
		return CodeTokenExpired
	case errors.Is(err, ErrTokenReuseDetected):
		return CodeTokenReuseDetected
	case errors.Is(err, ErrSessionTerminated):
		return CodeSessionTerminated
	case errors.Is(err, ErrInvalidRefreshToken):
		return CodeInvalidRefresh
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrInvalidClaims):
		return CodeUnauthenticated
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrAccessDenied):
		return CodeAccessDenied
	default:
		return CodeInternal
	}
}

// FromCode maps a wire code back to its sentinel. Used on the client side to
// recover the error identity from an API payload.
func FromCode(code string) error {
	switch code {
	case CodeInvalidCredentials:
		return ErrInvalidCredentials
	case CodeTokenExpired:
		return ErrTokenExpired
	case CodeTokenReuseDetected:
		return ErrTokenReuseDetected
	case CodeSessionTerminated:
		return ErrSessionTerminated
	case CodeInvalidRefresh:
		return ErrInvalidRefreshToken
	case CodeUnauthenticated:
		return ErrUnauthenticated
	case CodeRateLimited:
		return ErrRateLimited
	case CodeAccessDenied:
		return ErrAccessDenied
	default:
		return ErrInternal
	}
}

// RateLimitedError carries the server's Retry-After hint alongside
// ErrRateLimited so callers can schedule their next attempt.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return ErrRateLimited.Error()
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
