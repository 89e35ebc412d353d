package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmonkez12/go-keystore-auth/internal/auth"
	"github.com/redmonkez12/go-keystore-auth/internal/database/dbtest"
	httpServer "github.com/redmonkez12/go-keystore-auth/internal/http"
	"github.com/redmonkez12/go-keystore-auth/internal/keystore"
	"github.com/redmonkez12/go-keystore-auth/internal/logging"
	"github.com/redmonkez12/go-keystore-auth/internal/password"
	"github.com/redmonkez12/go-keystore-auth/internal/ratelimit"
	"github.com/redmonkez12/go-keystore-auth/internal/token"
	"github.com/redmonkez12/go-keystore-auth/internal/user"
)

type nopMailer struct{}

func (nopMailer) SendVerificationEmail(context.Context, string, string) error  { return nil }
func (nopMailer) SendPasswordResetEmail(context.Context, string, string) error { return nil }
func (nopMailer) SendPasswordChangedEmail(context.Context, string) error       { return nil }

func newTestRouter(t *testing.T, checks map[string]httpServer.HealthCheck) http.Handler {
	t.Helper()

	db := dbtest.New(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ks := keystore.New(keystore.NewRedisRepository(client, token.DefaultRefreshTTL))
	codec, err := token.NewCodec(token.FormatPaseto)
	require.NoError(t, err)
	hasher, err := password.New(password.AlgorithmBcrypt, 4)
	require.NoError(t, err)

	svc := auth.NewService(auth.Deps{
		Users:    user.NewRepository(db),
		Sessions: ks,
		Issuer:   token.NewIssuer(codec, token.IssuerConfig{}),
		Verifier: token.NewVerifier(codec, ks, nil),
		Hasher:   hasher,
		Resets:   auth.NewPasswordResetRepository(client),
		Email:    nopMailer{},
	})
	t.Cleanup(svc.Wait)

	if checks == nil {
		checks = map[string]httpServer.HealthCheck{
			"redis": func(ctx context.Context) error { return client.Ping(ctx).Err() },
		}
	}

	return httpServer.NewRouter(
		httpServer.RouterConfig{Development: false, TrustedOrigins: []string{"https://app.example.com"}},
		auth.NewHandler(svc, ratelimit.NewLimiter(client), auth.HandlerConfig{}),
		auth.NewMiddleware(svc, auth.HandlerConfig{RetryAfter: time.Second}),
		httpServer.NewHealthHandler(checks),
		logging.NewNop(),
	)
}

func TestRouter_Health(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp httpServer.HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "up", resp.Checks["redis"])

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestRouter_HealthDegraded(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, map[string]httpServer.HealthCheck{
		"database": func(context.Context) error { return errors.New("connection refused") },
		"redis":    func(context.Context) error { return nil },
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp httpServer.HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "down", resp.Checks["database"])
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestRouter_SignupLoginMe(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, nil)

	body, err := json.Marshal(auth.SignupRequest{Email: "route@example.com", Password: "correct horse battery"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/signup", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var session auth.Session
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&session))

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var me user.View
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&me))
	assert.Equal(t, "route@example.com", me.Email)

	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_ProtectedRoutesRequireAuth(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, nil)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/users/me"},
		{http.MethodPost, "/auth/logout"},
		{http.MethodPost, "/auth/logout-all"},
		{http.MethodPut, "/auth/password"},
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(route.method, route.path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, route.path)
	}
}

func TestRouter_CORS(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}
