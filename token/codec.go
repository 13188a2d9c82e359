// Package token encodes and decodes the signed access and refresh tokens.
// The codec is pure: signing keys and TTLs are fixed at construction and
// every operation is a function of its inputs plus the clock.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	apperrors "github.com/promptforge/auth-server/internal/errors"
)

// Token use discriminators carried in the token_use claim.
const (
	UseAccess  = "access"
	UseRefresh = "refresh"
)

// Claims is the claim set for both access and refresh tokens. Refresh
// tokens carry only the registered claims, the session ID, and the use
// discriminator.
type Claims struct {
	jwt.RegisteredClaims
	Role          string `json:"role,omitempty"`
	AccountStatus string `json:"account_status,omitempty"`
	SessionID     string `json:"sid,omitempty"`
	TokenUse      string `json:"token_use"`
}

// Codec issues and verifies signed tokens with a fixed issuer, audience,
// and TTL configuration.
type Codec struct {
	signer     Signer
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	leeway     time.Duration
	nowFunc    func() time.Time
}

// CodecOption modifies a Codec at construction time.
type CodecOption func(*Codec)

// WithTokenTTLs sets the access and refresh token lifetimes.
func WithTokenTTLs(accessTTL, refreshTTL time.Duration) CodecOption {
	return func(c *Codec) {
		c.accessTTL = accessTTL
		c.refreshTTL = refreshTTL
	}
}

// WithLeeway sets the clock tolerance applied when verifying exp/iat.
func WithLeeway(leeway time.Duration) CodecOption {
	return func(c *Codec) {
		c.leeway = leeway
	}
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.nowFunc = now
	}
}

// NewCodec creates a Codec signing with signer and stamping the given
// issuer and audience on every token.
func NewCodec(signer Signer, issuer, audience string, options ...CodecOption) *Codec {
	c := &Codec{
		signer:     signer,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  15 * time.Minute,
		refreshTTL: 7 * 24 * time.Hour,
		leeway:     30 * time.Second,
		nowFunc:    time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Issued describes a token produced by the codec.
type Issued struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// IssueAccessToken creates a short-lived access token embedding the user's
// role, account status, and the session it is bound to.
func (c *Codec) IssueAccessToken(userID, role, accountStatus, sessionID string) (*Issued, error) {
	now := c.nowFunc()
	jti := uuid.New().String()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.accessTTL)),
		},
		Role:          role,
		AccountStatus: accountStatus,
		SessionID:     sessionID,
		TokenUse:      UseAccess,
	}

	signed, err := c.signer.Sign(claims)
	if err != nil {
		return nil, errors.Wrap(err, "Codec.IssueAccessToken Sign")
	}
	return &Issued{Token: signed, JTI: jti, ExpiresAt: now.Add(c.accessTTL)}, nil
}

// IssueRefreshToken creates a longer-lived refresh token with a minimal
// claim set. The jti identifies the token within its rotation family.
func (c *Codec) IssueRefreshToken(userID, sessionID string) (*Issued, error) {
	now := c.nowFunc()
	jti := uuid.New().String()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.refreshTTL)),
		},
		SessionID: sessionID,
		TokenUse:  UseRefresh,
	}

	signed, err := c.signer.Sign(claims)
	if err != nil {
		return nil, errors.Wrap(err, "Codec.IssueRefreshToken Sign")
	}
	return &Issued{Token: signed, JTI: jti, ExpiresAt: now.Add(c.refreshTTL)}, nil
}

// Verify parses raw and validates signature, expiry, issuer, and audience,
// applying the configured clock tolerance. Errors map to the subsystem
// taxonomy: expired, invalid signature, or invalid claims.
func (c *Codec) Verify(raw string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, c.signer.GetVerificationKey,
		jwt.WithLeeway(c.leeway),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithTimeFunc(c.nowFunc),
		jwt.WithValidMethods([]string{c.signer.GetSigningMethod().Alg()}),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, apperrors.ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, apperrors.ErrInvalidSignature
		default:
			return nil, apperrors.ErrInvalidClaims
		}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, apperrors.ErrInvalidClaims
	}
	if claims.Subject == "" || claims.TokenUse == "" {
		return nil, apperrors.ErrInvalidClaims
	}
	return claims, nil
}

// VerifyAccess verifies raw and additionally requires token_use=access.
func (c *Codec) VerifyAccess(raw string) (*Claims, error) {
	claims, err := c.Verify(raw)
	if err != nil {
		return nil, err
	}
	if claims.TokenUse != UseAccess {
		return nil, apperrors.ErrInvalidClaims
	}
	return claims, nil
}

// VerifyRefresh verifies raw and additionally requires token_use=refresh.
func (c *Codec) VerifyRefresh(raw string) (*Claims, error) {
	claims, err := c.Verify(raw)
	if err != nil {
		return nil, err
	}
	if claims.TokenUse != UseRefresh {
		return nil, apperrors.ErrInvalidClaims
	}
	return claims, nil
}

// AccessTTL returns the configured access token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }
