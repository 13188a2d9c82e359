package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/promptforge/auth-server/auth"
	apperrors "github.com/promptforge/auth-server/internal/errors"
	"github.com/promptforge/auth-server/sessions"
	fakesessionrepo "github.com/promptforge/auth-server/sessions/repofake"
	"github.com/promptforge/auth-server/token"
	"github.com/promptforge/auth-server/token/refresh"
	fakerefreshrepo "github.com/promptforge/auth-server/token/refresh/repofake"
	"github.com/promptforge/auth-server/users"
	fakeuserrepo "github.com/promptforge/auth-server/users/repofake"
)

const (
	testSecret   = "test-signing-secret"
	testIssuer   = "com.testissuer"
	testAudience = "api"
	testEmail    = "john.doe@example.com"
	testPassword = "Password1!"
	graceWindow  = 10 * time.Second
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	clock    *fakeClock
	userRepo *fakeuserrepo.FakeUserRepo
	registry *sessions.Registry
	service  *auth.Service
}

func setup(t *testing.T) *fixture {
	t.Helper()

	clock := &fakeClock{now: time.Now()}
	codec := token.NewCodec(token.NewHMACSigner(testSecret), testIssuer, testAudience,
		token.WithTokenTTLs(15*time.Minute, 7*24*time.Hour),
		token.WithNowFunc(clock.Now))

	userRepo := fakeuserrepo.NewFakeUserRepo()
	hash, err := users.HashPasswordWithCost(testPassword, 4)
	require.NoError(t, err)
	require.NoError(t, userRepo.Upsert(&users.User{
		ID:           "user-1",
		Email:        testEmail,
		Username:     "johndoe",
		PasswordHash: hash,
		Role:         users.RoleEditor,
		Status:       users.StatusActive,
	}))

	registry, err := sessions.NewRegistry(fakesessionrepo.NewFakeSessionRepo(),
		sessions.WithNowFunc(clock.Now))
	require.NoError(t, err)

	manager, err := refresh.NewManager(fakerefreshrepo.NewFakeRefreshTokenRepo(), codec, userRepo,
		refresh.WithGraceWindow(graceWindow),
		refresh.WithNowFunc(clock.Now))
	require.NoError(t, err)

	service, err := auth.NewService(userRepo, codec, registry, manager,
		auth.WithNowFunc(clock.Now))
	require.NoError(t, err)

	return &fixture{clock: clock, userRepo: userRepo, registry: registry, service: service}
}

func (f *fixture) login(t *testing.T) *auth.LoginResult {
	t.Helper()
	result, err := f.service.Login(context.Background(), testEmail, testPassword, auth.ClientInfo{IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	return result
}

func TestLoginAndVerify(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	result := f.login(t)
	require.NotEmpty(t, result.AccessToken)
	require.NotEmpty(t, result.RefreshToken)
	require.NotEmpty(t, result.SessionID)
	require.Empty(t, result.User.PasswordHash)
	require.False(t, result.PasswordResetRequired)

	identity, err := f.service.Verify(ctx, result.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "user-1", identity.UserID)
	require.Equal(t, users.RoleEditor, identity.Role)
	require.Equal(t, result.SessionID, identity.SessionID)
}

func TestLoginFailuresAreUniform(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.service.Login(ctx, "nobody@example.com", testPassword, auth.ClientInfo{})
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	_, err = f.service.Login(ctx, testEmail, "wrong-password", auth.ClientInfo{})
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	require.NoError(t, f.userRepo.SetStatus(testEmail, users.StatusSuspended))
	_, err = f.service.Login(ctx, testEmail, testPassword, auth.ClientInfo{})
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
}

// failingUserRepo simulates a broken backing store.
type failingUserRepo struct{ err error }

func (r *failingUserRepo) Upsert(*users.User) error                    { return r.err }
func (r *failingUserRepo) GetByEmail(string) (*users.User, error)      { return nil, r.err }
func (r *failingUserRepo) GetByID(string) (*users.User, error)         { return nil, r.err }
func (r *failingUserRepo) SetStatus(string, users.AccountStatus) error { return r.err }
func (r *failingUserRepo) SetLastLogin(string) error                   { return r.err }

func TestLoginSurfacesUserRepoFailure(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	codec := token.NewCodec(token.NewHMACSigner(testSecret), testIssuer, testAudience,
		token.WithNowFunc(clock.Now))

	userRepo := &failingUserRepo{err: errors.New("connection refused")}

	registry, err := sessions.NewRegistry(fakesessionrepo.NewFakeSessionRepo(),
		sessions.WithNowFunc(clock.Now))
	require.NoError(t, err)

	manager, err := refresh.NewManager(fakerefreshrepo.NewFakeRefreshTokenRepo(), codec, userRepo,
		refresh.WithNowFunc(clock.Now))
	require.NoError(t, err)

	service, err := auth.NewService(userRepo, codec, registry, manager,
		auth.WithNowFunc(clock.Now))
	require.NoError(t, err)

	// A lookup failure is an infrastructure error, not a credentials
	// verdict.
	_, err = service.Login(context.Background(), testEmail, testPassword, auth.ClientInfo{})
	require.Error(t, err)
	require.NotErrorIs(t, err, apperrors.ErrInvalidCredentials)
	require.ErrorContains(t, err, "connection refused")
}

func TestPendingResetLoginFlagsPasswordChange(t *testing.T) {
	f := setup(t)

	require.NoError(t, f.userRepo.SetStatus(testEmail, users.StatusPendingReset))
	result := f.login(t)
	require.True(t, result.PasswordResetRequired)
}

func TestSecondLoginSupersedesFirst(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	signals, cancel := f.service.Notifier().Subscribe("user-1")
	defer cancel()

	first := f.login(t)
	second := f.login(t)
	require.NotEqual(t, first.SessionID, second.SessionID)

	// The first session's access token is structurally valid but dead.
	_, err := f.service.Verify(ctx, first.AccessToken)
	require.ErrorIs(t, err, apperrors.ErrSessionTerminated)

	// Its refresh token cannot revive it either.
	_, err = f.service.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, apperrors.ErrSessionTerminated)

	// The second session works.
	identity, err := f.service.Verify(ctx, second.AccessToken)
	require.NoError(t, err)
	require.Equal(t, second.SessionID, identity.SessionID)

	select {
	case signal := <-signals:
		require.Equal(t, auth.ReasonSuperseded, signal.Reason)
		require.Equal(t, first.SessionID, signal.SessionID)
	default:
		t.Fatal("expected a superseded signal")
	}
}

func TestRefreshRotatesWithinSession(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	login := f.login(t)

	rotated, err := f.service.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, login.SessionID, rotated.SessionID)
	require.NotEqual(t, login.RefreshToken, rotated.RefreshToken)

	// Both the original and the rotated access token verify: rotation
	// continues the session rather than replacing it.
	_, err = f.service.Verify(ctx, login.AccessToken)
	require.NoError(t, err)
	_, err = f.service.Verify(ctx, rotated.AccessToken)
	require.NoError(t, err)
}

func TestReuseOutsideGraceTerminatesSession(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	signals, cancel := f.service.Notifier().Subscribe("user-1")
	defer cancel()

	login := f.login(t)
	rotated, err := f.service.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)

	f.clock.Advance(graceWindow + time.Minute)

	_, err = f.service.Refresh(ctx, login.RefreshToken)
	require.ErrorIs(t, err, apperrors.ErrTokenReuseDetected)

	// The whole family is dead and the session is gone.
	_, err = f.service.Refresh(ctx, rotated.RefreshToken)
	require.Error(t, err)
	_, err = f.service.Verify(ctx, rotated.AccessToken)
	require.ErrorIs(t, err, apperrors.ErrSessionTerminated)

	select {
	case signal := <-signals:
		require.Equal(t, auth.ReasonReuse, signal.Reason)
	default:
		t.Fatal("expected a reuse termination signal")
	}
}

func TestLogoutTerminatesSession(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	login := f.login(t)
	require.NoError(t, f.service.Logout(ctx, "user-1", login.SessionID))

	_, err := f.service.Verify(ctx, login.AccessToken)
	require.ErrorIs(t, err, apperrors.ErrSessionTerminated)
	_, err = f.service.Refresh(ctx, login.RefreshToken)
	require.ErrorIs(t, err, apperrors.ErrSessionTerminated)

	// Logging out again is a no-op.
	require.NoError(t, f.service.Logout(ctx, "user-1", login.SessionID))
}

func TestStaleLogoutDoesNotKillNewerSession(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first := f.login(t)
	second := f.login(t)

	require.NoError(t, f.service.Logout(ctx, "user-1", first.SessionID))

	_, err := f.service.Verify(ctx, second.AccessToken)
	require.NoError(t, err)
}

func TestRevokeTerminatesEverything(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	signals, cancel := f.service.Notifier().Subscribe("user-1")
	defer cancel()

	login := f.login(t)
	require.NoError(t, f.service.Revoke(ctx, "user-1"))

	_, err := f.service.Verify(ctx, login.AccessToken)
	require.ErrorIs(t, err, apperrors.ErrSessionTerminated)
	_, err = f.service.Refresh(ctx, login.RefreshToken)
	require.ErrorIs(t, err, apperrors.ErrSessionTerminated)

	select {
	case signal := <-signals:
		require.Equal(t, auth.ReasonRevoked, signal.Reason)
	default:
		t.Fatal("expected a revoked signal")
	}
}

func TestExpiredAccessTokenIsExpiredNotTerminated(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	login := f.login(t)
	f.clock.Advance(16*time.Minute + time.Minute)

	_, err := f.service.Verify(ctx, login.AccessToken)
	require.ErrorIs(t, err, apperrors.ErrTokenExpired)
}
