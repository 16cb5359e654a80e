package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/dust/internal/auth"
	"github.com/sakif/dust/internal/clock"
	"github.com/sakif/dust/internal/config"
	"github.com/sakif/dust/internal/mail"
	sqliteRepo "github.com/sakif/dust/internal/repository/sqlite"
	"github.com/sakif/dust/internal/session"
)

type captureMailer struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (c *captureMailer) Send(_ context.Context, msg mail.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

type testServer struct {
	*Server
	db     *sqliteRepo.DB
	mini   *miniredis.Miniredis
	mailer *captureMailer
	clock  *clock.Mock
}

func newTestServer(t *testing.T, burst int) *testServer {
	t.Helper()

	db, err := sqliteRepo.New(":memory:")
	require.NoError(t, err)

	mini := miniredis.RunT(t)
	store := session.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mini.Addr()}))

	cfg := &config.Config{
		Port:           0,
		DBPath:         ":memory:",
		JWTSecret:      "0123456789abcdef0123456789abcdef",
		StarRepo:       "example/repo",
		LoginTTL:       time.Hour,
		ResetTTL:       time.Hour,
		ResetBaseURL:   "http://localhost/reset",
		RateLimitRPS:   0.001,
		RateLimitBurst: burst,
		LogFormat:      "text",
	}

	mailer := &captureMailer{}
	clk := clock.NewMock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := New(cfg, Deps{
		DB:       db,
		Sessions: store,
		GitHub:   auth.NewGitHubProvider(auth.GitHubConfig{ClientID: "cid"}),
		Mailer:   mailer,
		Clock:    clk,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(srv.close)

	return &testServer{Server: srv, db: db, mini: mini, mailer: mailer, clock: clk}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(auth.SessionHeader, token)
	}
	rr := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), "body: %s", rr.Body.String())
	return v
}

type sessionBody struct {
	AuthToken string `json:"auth_token"`
	ExpiresIn int64  `json:"expires_in"`
	UserInfo  struct {
		ID        string `json:"id"`
		Username  string `json:"username"`
		OwnedDust int64  `json:"owned_dust"`
	} `json:"user_info"`
}

func (ts *testServer) registerAndLogin(t *testing.T, username string) sessionBody {
	t.Helper()

	rr := ts.do(t, http.MethodPost, "/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "s3cret!",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = ts.do(t, http.MethodPost, "/login", "", map[string]string{
		"username": username,
		"password": "s3cret!",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return decode[sessionBody](t, rr)
}

// =========================================================================
// END TO END
// =========================================================================

func TestServer_FundingFlow(t *testing.T) {
	ts := newTestServer(t, 100)
	ctx := context.Background()

	alice := ts.registerAndLogin(t, "alice")
	bob := ts.registerAndLogin(t, "bob")
	assert.Equal(t, int64(3600), alice.ExpiresIn)

	// alice creates rocket and receives the setup bonus
	rr := ts.do(t, http.MethodPost, "/planet/setup", alice.AuthToken, map[string]string{
		"name":        "rocket",
		"email":       "rocket@example.com",
		"keywords":    "space",
		"description": "to the moon",
		"demo_url":    "https://rocket.example.com",
		"github_url":  "https://github.com/alice/rocket",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	require.NoError(t, ts.db.Grant(ctx, bob.UserInfo.ID, 120))

	// bob funds it
	rr = ts.do(t, http.MethodPost, "/planet/build", bob.AuthToken, map[string]any{
		"planet_name": "rocket",
		"dust_num":    50,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	record := decode[map[string]any](t, rr)
	assert.EqualValues(t, 150, record["planet_dust"])

	// too much is refused with no change
	rr = ts.do(t, http.MethodPost, "/planet/build", bob.AuthToken, map[string]any{
		"planet_name": "rocket",
		"dust_num":    999,
	})
	assert.Equal(t, http.StatusPaymentRequired, rr.Code)

	rr = ts.do(t, http.MethodGet, "/planets/rocket", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	planet := decode[map[string]any](t, rr)
	assert.EqualValues(t, 150, planet["dust_num"])
	assert.EqualValues(t, 1, planet["builder_num"])

	rr = ts.do(t, http.MethodGet, "/planets/rocket/builds", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]map[string]any](t, rr), 1)

	rr = ts.do(t, http.MethodGet, "/me", alice.AuthToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	me := decode[map[string]any](t, rr)
	assert.EqualValues(t, 150, me["planet_dust_sum"])

	// a duplicate github url from bob is a conflict and creates nothing
	rr = ts.do(t, http.MethodPost, "/planet/setup", bob.AuthToken, map[string]string{
		"name":        "copycat",
		"email":       "copy@example.com",
		"keywords":    "space",
		"description": "copy",
		"demo_url":    "https://copycat.example.com",
		"github_url":  "https://github.com/alice/rocket",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)
	rr = ts.do(t, http.MethodGet, "/planets/copycat", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// after thirty days the window is closed
	ts.clock.Advance(31 * 24 * time.Hour)
	rr = ts.do(t, http.MethodPost, "/planet/build", bob.AuthToken, map[string]any{
		"planet_name": "rocket",
		"dust_num":    10,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), "funding_window_expired")
}

func TestServer_SessionLifecycle(t *testing.T) {
	ts := newTestServer(t, 100)
	alice := ts.registerAndLogin(t, "alice")

	rr := ts.do(t, http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = ts.do(t, http.MethodGet, "/me", alice.AuthToken, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(t, http.MethodGet, "/logout", alice.AuthToken, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(t, http.MethodGet, "/me", alice.AuthToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestServer_SessionStoreOutage(t *testing.T) {
	ts := newTestServer(t, 100)
	alice := ts.registerAndLogin(t, "alice")

	ts.mini.Close()

	rr := ts.do(t, http.MethodGet, "/me", alice.AuthToken, nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "unauthenticated")

	// Public views fall back to anonymous and keep serving from SQLite.
	rr = ts.do(t, http.MethodGet, "/planets", alice.AuthToken, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestServer_PasswordReset(t *testing.T) {
	ts := newTestServer(t, 100)
	ts.registerAndLogin(t, "alice")

	rr := ts.do(t, http.MethodPost, "/send-email", "", map[string]string{"email": "alice@example.com"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Len(t, ts.mailer.sent, 1)

	text := ts.mailer.sent[0].Text
	i := strings.Index(text, "token=")
	require.GreaterOrEqual(t, i, 0, "no token in %q", text)
	token := strings.Fields(text[i+len("token="):])[0]

	rr = ts.do(t, http.MethodPost, "/reset-password", "", map[string]string{"token": token, "passwd": "n3w-s3cret"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = ts.do(t, http.MethodPost, "/login", "", map[string]string{"username": "alice", "password": "n3w-s3cret"})
	assert.Equal(t, http.StatusOK, rr.Code)

	// the link is single-use
	rr = ts.do(t, http.MethodPost, "/reset-password", "", map[string]string{"token": token, "passwd": "again-s3cret"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServer_GitHubURL(t *testing.T) {
	ts := newTestServer(t, 100)

	rr := ts.do(t, http.MethodGet, "/auth-login/github/url", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[map[string]string](t, rr)
	assert.Contains(t, body["url"], "client_id=cid")
	assert.NotEmpty(t, body["state"])
}

func TestServer_RateLimitsCredentialEndpoints(t *testing.T) {
	ts := newTestServer(t, 1)

	creds := map[string]string{"username": "nobody", "password": "whatever"}
	rr := ts.do(t, http.MethodPost, "/login", "", creds)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = ts.do(t, http.MethodPost, "/login", "", creds)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	// public views are not limited
	for range 3 {
		rr = ts.do(t, http.MethodGet, "/planets", "", nil)
		assert.Equal(t, http.StatusOK, rr.Code)
	}
}

func TestServer_HealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, 100)

	rr := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"sqlite":"ok"`)
	assert.Contains(t, rr.Body.String(), `"redis":"ok"`)

	rr = ts.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "dust_http_requests_total")
}
