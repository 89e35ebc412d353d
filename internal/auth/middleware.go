package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/redmonkez12/go-keystore-auth/internal/httputil"
	"github.com/redmonkez12/go-keystore-auth/internal/logging"
	"github.com/redmonkez12/go-keystore-auth/internal/token"
)

// ContextKey is a type for context keys to avoid collisions
type ContextKey string

const (
	UserIDContextKey     ContextKey = "user_id"
	KeystoreIDContextKey ContextKey = "keystore_id"
)

// Authenticator verifies access tokens. *Service implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*token.Claims, error)
}

// Middleware handles authentication for protected routes
type Middleware struct {
	auth           Authenticator
	cookiesEnabled bool
	retryAfter     time.Duration
}

// NewMiddleware shares cfg with the auth Handler. The access token cookie is
// only read when cfg.CookiesEnabled is set.
func NewMiddleware(auth Authenticator, cfg HandlerConfig) *Middleware {
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 5 * time.Second
	}
	return &Middleware{auth: auth, cookiesEnabled: cfg.CookiesEnabled, retryAfter: cfg.RetryAfter}
}

// RequireAuth is a middleware that validates the access token against its
// keystore entry
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := logging.GetLoggerFromContext(r.Context())

		var raw string

		// Priority 1: Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && parts[1] != "" {
				raw = parts[1]
			} else {
				httputil.RespondErrorWithCode(w, "invalid authorization header format", httputil.CodeInvalidAuthHeader, http.StatusUnauthorized)
				return
			}
		}

		// Priority 2: Cookie (fallback)
		if raw == "" && m.cookiesEnabled {
			if cookieToken, err := GetAccessTokenFromCookie(r); err == nil {
				raw = cookieToken
			}
		}

		if raw == "" {
			httputil.RespondErrorWithCode(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
			return
		}

		claims, err := m.auth.Authenticate(r.Context(), raw)
		if err != nil {
			if errors.Is(err, ErrStoreUnavailable) {
				logger.Error("access token check failed: store unavailable", "error", err)
				httputil.RespondUnavailable(w, m.retryAfter)
				return
			}
			if token.IsTokenError(err) {
				logger.Warn("access token rejected", "reason", err.Error())
			} else {
				logger.Error("access token check failed", "error", err)
			}
			httputil.RespondErrorWithCode(w, "unauthenticated", httputil.CodeUnauthenticated, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserIDContextKey, claims.Subject)
		ctx = context.WithValue(ctx, KeystoreIDContextKey, claims.KeystoreID)
		ctx = logging.WithLogger(ctx, logger.WithFields(map[string]any{"user_id": claims.Subject.String()}))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserIDFromContext extracts the user ID from the request context
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(UserIDContextKey).(uuid.UUID)
	return userID, ok
}

// GetKeystoreIDFromContext returns the keystore entry of the current session
func GetKeystoreIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(KeystoreIDContextKey).(uuid.UUID)
	return id, ok
}
