package refresh_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/promptforge/auth-server/internal/errors"
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
	graceWindow  = 10 * time.Second
)

type fixture struct {
	clock    *fakeClock
	codec    *token.Codec
	repo     *fakerefreshrepo.FakeRefreshTokenRepo
	userRepo users.UserRepo
	manager  *refresh.Manager

	mu         sync.Mutex
	reuseCalls []string
}

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

func setup(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clock: &fakeClock{now: time.Now()},
		repo:  fakerefreshrepo.NewFakeRefreshTokenRepo(),
	}

	f.codec = token.NewCodec(token.NewHMACSigner(testSecret), testIssuer, testAudience,
		token.WithTokenTTLs(15*time.Minute, 7*24*time.Hour),
		token.WithNowFunc(f.clock.Now))

	userRepo := fakeuserrepo.NewFakeUserRepo()
	require.NoError(t, userRepo.Upsert(&users.User{
		ID:     "user-1",
		Email:  "john.doe@example.com",
		Role:   users.RoleEditor,
		Status: users.StatusActive,
	}))
	f.userRepo = userRepo

	manager, err := refresh.NewManager(f.repo, f.codec, f.userRepo,
		refresh.WithGraceWindow(graceWindow),
		refresh.WithNowFunc(f.clock.Now),
		refresh.WithReuseHandler(func(_ context.Context, userID, _ string) {
			f.mu.Lock()
			f.reuseCalls = append(f.reuseCalls, userID)
			f.mu.Unlock()
		}))
	require.NoError(t, err)
	f.manager = manager
	return f
}

func TestRotateIssuesNewPair(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rt1, err := f.manager.Issue(ctx, "user-1", "session-1")
	require.NoError(t, err)

	result, err := f.manager.Rotate(ctx, rt1)
	require.NoError(t, err)
	require.NotEmpty(t, result.AccessToken)
	require.NotEmpty(t, result.RefreshToken)
	require.NotEqual(t, rt1, result.RefreshToken)
	require.Equal(t, "user-1", result.UserID)
	require.Equal(t, "session-1", result.SessionID)
	require.Equal(t, f.clock.Now().Add(15*time.Minute).Unix(), result.ExpiresAt.Unix())

	// The new access token is bound to the same session.
	claims, err := f.codec.VerifyAccess(result.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "session-1", claims.SessionID)
}

func TestRotateUnknownToken(t *testing.T) {
	f := setup(t)

	_, err := f.manager.Rotate(context.Background(), "completely-unknown")
	require.ErrorIs(t, err, apperrors.ErrInvalidRefreshToken)
}

func TestGraceWindowReplayIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rt1, err := f.manager.Issue(ctx, "user-1", "session-1")
	require.NoError(t, err)

	first, err := f.manager.Rotate(ctx, rt1)
	require.NoError(t, err)

	// Second rotation of rt1 inside the window: same pair, no error.
	f.clock.Advance(graceWindow / 2)
	second, err := f.manager.Rotate(ctx, rt1)
	require.NoError(t, err)
	require.Equal(t, first.AccessToken, second.AccessToken)
	require.Equal(t, first.RefreshToken, second.RefreshToken)
	require.Equal(t, first.ExpiresAt.Unix(), second.ExpiresAt.Unix())

	// No reuse incident was recorded.
	f.mu.Lock()
	require.Empty(t, f.reuseCalls)
	f.mu.Unlock()
}

func TestReuseOutsideGraceRevokesFamily(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rt1, err := f.manager.Issue(ctx, "user-1", "session-1")
	require.NoError(t, err)

	first, err := f.manager.Rotate(ctx, rt1)
	require.NoError(t, err)
	rt2 := first.RefreshToken

	// Replay rt1 after the window: reuse detection.
	f.clock.Advance(graceWindow + time.Second)
	_, err = f.manager.Rotate(ctx, rt1)
	require.ErrorIs(t, err, apperrors.ErrTokenReuseDetected)

	f.mu.Lock()
	require.Equal(t, []string{"user-1"}, f.reuseCalls)
	f.mu.Unlock()

	// The whole family is dead: rt2 no longer rotates.
	_, err = f.manager.Rotate(ctx, rt2)
	require.ErrorIs(t, err, apperrors.ErrInvalidRefreshToken)
}

func TestRotateExpiredToken(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rt1, err := f.manager.Issue(ctx, "user-1", "session-1")
	require.NoError(t, err)

	f.clock.Advance(7*24*time.Hour + time.Hour)
	_, err = f.manager.Rotate(ctx, rt1)
	require.ErrorIs(t, err, apperrors.ErrTokenExpired)
}

func TestConcurrentRotationsOfSameToken(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rt1, err := f.manager.Issue(ctx, "user-1", "session-1")
	require.NoError(t, err)

	const callers = 8
	results := make([]*refresh.RotationResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.manager.Rotate(ctx, rt1)
		}(i)
	}
	wg.Wait()

	// All callers inside the window succeed with the same pair.
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, results[0].AccessToken, results[i].AccessToken)
		require.Equal(t, results[0].RefreshToken, results[i].RefreshToken)
	}
}

func TestRevokeAllInvalidatesOutstandingTokens(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rt1, err := f.manager.Issue(ctx, "user-1", "session-1")
	require.NoError(t, err)

	require.NoError(t, f.manager.RevokeAll(ctx, "user-1"))

	// Revoked-by-logout tokens fail plainly, with no reuse incident.
	_, err = f.manager.Rotate(ctx, rt1)
	require.ErrorIs(t, err, apperrors.ErrInvalidRefreshToken)
	f.mu.Lock()
	require.Empty(t, f.reuseCalls)
	f.mu.Unlock()
}

func TestSuspendedUserCannotRotate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rt1, err := f.manager.Issue(ctx, "user-1", "session-1")
	require.NoError(t, err)

	require.NoError(t, f.userRepo.SetStatus("john.doe@example.com", users.StatusSuspended))

	_, err = f.manager.Rotate(ctx, rt1)
	require.ErrorIs(t, err, apperrors.ErrInvalidRefreshToken)
}
