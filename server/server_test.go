package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/promptforge/auth-server/auth"
	"github.com/promptforge/auth-server/internal/config"
	apperrors "github.com/promptforge/auth-server/internal/errors"
	"github.com/promptforge/auth-server/server"
	"github.com/promptforge/auth-server/sessions"
	fakesessionrepo "github.com/promptforge/auth-server/sessions/repofake"
	"github.com/promptforge/auth-server/token"
	"github.com/promptforge/auth-server/token/refresh"
	fakerefreshrepo "github.com/promptforge/auth-server/token/refresh/repofake"
	"github.com/promptforge/auth-server/users"
	fakeuserrepo "github.com/promptforge/auth-server/users/repofake"
)

const (
	testPassword      = "Password1!"
	testAdminPassword = "AdminPass1!"
)

func newTestServer(t *testing.T, rateLimit int) *httptest.Server {
	t.Helper()

	cfg := config.Config{
		Env:             "test",
		AppName:         "auth-server-test",
		LoginRateLimit:  rateLimit,
		LoginRateWindow: "1m",
	}

	codec := token.NewCodec(token.NewHMACSigner("test-signing-secret"), "com.testissuer", "api")

	userRepo := fakeuserrepo.NewFakeUserRepo()
	hash, err := users.HashPasswordWithCost(testPassword, 4)
	require.NoError(t, err)
	require.NoError(t, userRepo.Upsert(&users.User{
		ID:           "user-1",
		Email:        "editor@example.com",
		PasswordHash: hash,
		Role:         users.RoleEditor,
		Status:       users.StatusActive,
	}))
	adminHash, err := users.HashPasswordWithCost(testAdminPassword, 4)
	require.NoError(t, err)
	require.NoError(t, userRepo.Upsert(&users.User{
		ID:           "admin-1",
		Email:        "admin@example.com",
		PasswordHash: adminHash,
		Role:         users.RoleAdmin,
		Status:       users.StatusActive,
	}))

	registry, err := sessions.NewRegistry(fakesessionrepo.NewFakeSessionRepo())
	require.NoError(t, err)
	manager, err := refresh.NewManager(fakerefreshrepo.NewFakeRefreshTokenRepo(), codec, userRepo)
	require.NoError(t, err)
	service, err := auth.NewService(userRepo, codec, registry, manager)
	require.NoError(t, err)

	srv, err := server.New(cfg, service, zerolog.Nop())
	require.NoError(t, err)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, client *http.Client, url, bearer string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(http.MethodPost, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func login(t *testing.T, ts *httptest.Server, email, password string) server.LoginResponse {
	t.Helper()
	resp := postJSON(t, ts.Client(), ts.URL+server.RouteAuthLogin, "", server.LoginRequest{Email: email, Password: password})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[server.LoginResponse](t, resp)
}

func check(t *testing.T, ts *httptest.Server, accessToken string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+server.RouteAuthCheck, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func TestLoginAndCheck(t *testing.T) {
	ts := newTestServer(t, 0)

	result := login(t, ts, "editor@example.com", testPassword)
	require.NotEmpty(t, result.AccessToken)
	require.NotEmpty(t, result.RefreshToken)
	require.Equal(t, "Bearer", result.TokenType)
	require.Empty(t, result.User.PasswordHash)

	resp := check(t, ts, result.AccessToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	checked := decode[server.CheckResponse](t, resp)
	require.Equal(t, "user-1", checked.UserID)
	require.Equal(t, string(users.RoleEditor), checked.Role)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ts := newTestServer(t, 0)

	resp := postJSON(t, ts.Client(), ts.URL+server.RouteAuthLogin, "", server.LoginRequest{
		Email:    "editor@example.com",
		Password: "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	errResp := decode[server.ErrorResponse](t, resp)
	require.Equal(t, apperrors.CodeInvalidCredentials, errResp.Code)
}

func TestLoginRateLimited(t *testing.T) {
	ts := newTestServer(t, 3)

	body := server.LoginRequest{Email: "editor@example.com", Password: "wrong"}
	for i := 0; i < 3; i++ {
		resp := postJSON(t, ts.Client(), ts.URL+server.RouteAuthLogin, "", body)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	}

	resp := postJSON(t, ts.Client(), ts.URL+server.RouteAuthLogin, "", body)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("Retry-After"))
	errResp := decode[server.ErrorResponse](t, resp)
	require.Equal(t, apperrors.CodeRateLimited, errResp.Code)
}

func TestCheckWithoutTokenIsUnauthorized(t *testing.T) {
	ts := newTestServer(t, 0)

	req, err := http.NewRequest(http.MethodGet, ts.URL+server.RouteAuthCheck, nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestRefreshRotatesTokens(t *testing.T) {
	ts := newTestServer(t, 0)

	loginResp := login(t, ts, "editor@example.com", testPassword)

	resp := postJSON(t, ts.Client(), ts.URL+server.RouteAuthRefresh, "", server.RefreshRequest{RefreshToken: loginResp.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rotated := decode[server.RefreshResponse](t, resp)
	require.NotEqual(t, loginResp.RefreshToken, rotated.RefreshToken)
	require.False(t, rotated.ExpiresAt.IsZero())
	require.Greater(t, rotated.ExpiresIn, int64(0))

	checkResp := check(t, ts, rotated.AccessToken)
	require.Equal(t, http.StatusOK, checkResp.StatusCode)
	checkResp.Body.Close()
}

func TestSecondLoginTerminatesFirstSession(t *testing.T) {
	ts := newTestServer(t, 0)

	first := login(t, ts, "editor@example.com", testPassword)
	_ = login(t, ts, "editor@example.com", testPassword)

	resp := check(t, ts, first.AccessToken)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	errResp := decode[server.ErrorResponse](t, resp)
	require.Equal(t, apperrors.CodeSessionTerminated, errResp.Code)

	// The superseded session's refresh token is dead too.
	refreshResp := postJSON(t, ts.Client(), ts.URL+server.RouteAuthRefresh, "", server.RefreshRequest{RefreshToken: first.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, refreshResp.StatusCode)
	refreshErr := decode[server.ErrorResponse](t, refreshResp)
	require.Equal(t, apperrors.CodeSessionTerminated, refreshErr.Code)
}

func TestLogoutEndsSession(t *testing.T) {
	ts := newTestServer(t, 0)

	loginResp := login(t, ts, "editor@example.com", testPassword)

	resp := postJSON(t, ts.Client(), ts.URL+server.RouteAuthLogout, "", server.LogoutRequest{RefreshToken: loginResp.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	checkResp := check(t, ts, loginResp.AccessToken)
	require.Equal(t, http.StatusUnauthorized, checkResp.StatusCode)
	checkResp.Body.Close()

	// Logging out again with the now-revoked token still answers 200.
	resp = postJSON(t, ts.Client(), ts.URL+server.RouteAuthLogout, "", server.LogoutRequest{RefreshToken: loginResp.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestRevokeRequiresAdmin(t *testing.T) {
	ts := newTestServer(t, 0)

	editor := login(t, ts, "editor@example.com", testPassword)
	admin := login(t, ts, "admin@example.com", testAdminPassword)

	// Editors lack the revoke feature.
	resp := postJSON(t, ts.Client(), ts.URL+server.RouteAuthRevoke, editor.AccessToken, server.RevokeRequest{UserID: "admin-1"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	errResp := decode[server.ErrorResponse](t, resp)
	require.Equal(t, apperrors.CodeAccessDenied, errResp.Code)

	// Admin revokes the editor's session.
	resp = postJSON(t, ts.Client(), ts.URL+server.RouteAuthRevoke, admin.AccessToken, server.RevokeRequest{UserID: "user-1"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	checkResp := check(t, ts, editor.AccessToken)
	require.Equal(t, http.StatusUnauthorized, checkResp.StatusCode)
	checkResp.Body.Close()
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, 0)

	resp, err := ts.Client().Get(ts.URL + server.RouteMetrics)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
