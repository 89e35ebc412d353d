package auth

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/redmonkez12/go-keystore-auth/internal/httputil"
	"github.com/redmonkez12/go-keystore-auth/internal/logging"
	"github.com/redmonkez12/go-keystore-auth/internal/ratelimit"
	"github.com/redmonkez12/go-keystore-auth/internal/token"
	"github.com/redmonkez12/go-keystore-auth/internal/user"
)

// HandlerConfig controls the HTTP surface of the auth endpoints.
type HandlerConfig struct {
	// CookiesEnabled allows browser clients to receive tokens as cookies.
	CookiesEnabled bool
	SecureCookies  bool
	// RetryAfter is advertised on 503 responses.
	RetryAfter time.Duration
}

// Handler contains HTTP handlers for authentication endpoints
type Handler struct {
	service     *Service
	rateLimiter *ratelimit.Limiter
	cfg         HandlerConfig
}

// NewHandler creates a Handler. A nil rateLimiter disables rate limiting.
func NewHandler(service *Service, rateLimiter *ratelimit.Limiter, cfg HandlerConfig) *Handler {
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 5 * time.Second
	}
	return &Handler{
		service:     service,
		rateLimiter: rateLimiter,
		cfg:         cfg,
	}
}

// SignupRequest represents the signup request body
type SignupRequest struct {
	Email    string       `json:"email"`
	Password string       `json:"password"`
	Profile  user.Profile `json:"profile"`
}

func (r SignupRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, maxEmailLength), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(minPasswordLength, maxPasswordBytes)),
	)
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

// RefreshRequest represents the token refresh request body
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ChangePasswordRequest represents the change password request body
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (r ChangePasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(minPasswordLength, maxPasswordBytes)),
	)
}

// ForgotPasswordRequest represents the password reset request
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

func (r ForgotPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

// ResetPasswordRequest represents the password reset confirmation
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (r ResetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(minPasswordLength, maxPasswordBytes)),
	)
}

// ResendVerificationRequest represents the resend verification email request
type ResendVerificationRequest struct {
	Email string `json:"email"`
}

func (r ResendVerificationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

// SessionResponse is returned to cookie clients instead of the token pair.
type SessionResponse struct {
	User    user.View `json:"user"`
	Message string    `json:"message"`
}

// LogoutAllResponse reports how many sessions were revoked
type LogoutAllResponse struct {
	Message string `json:"message"`
	Revoked int64  `json:"revoked"`
}

// Signup handles user registration
// @Summary      Register a new user
// @Description  Create an account, open a session and send a verification email.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body SignupRequest true "Signup data"
// @Success      201 {object} Session
// @Failure      400 {object} httputil.ErrorResponse "Invalid request or validation error"
// @Failure      409 {object} httputil.ErrorResponse "Email already exists"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Failure      503 {object} httputil.ErrorResponse "Store unavailable"
// @Router       /auth/signup [post]
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if h.rateLimited(w, r, "signup") {
		return
	}

	var req SignupRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	logger = logger.WithFields(map[string]any{"email": user.NormalizeEmail(req.Email)})

	session, err := h.service.Signup(r.Context(), SignupInput{
		Email:    req.Email,
		Password: req.Password,
		Profile:  req.Profile,
	})
	if err != nil {
		h.respondServiceError(w, logger, "signup", err)
		return
	}

	logger.Info("user signed up", "user_id", session.User.ID)

	h.respondSession(w, r, session, "signed up successfully", http.StatusCreated)
}

// Login handles user login
// @Summary      User login
// @Description  Authenticate user and receive access and refresh tokens
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body LoginRequest true "Login credentials"
// @Success      200 {object} Session
// @Failure      400 {object} httputil.ErrorResponse "Invalid request body"
// @Failure      401 {object} httputil.ErrorResponse "Invalid credentials"
// @Failure      403 {object} httputil.ErrorResponse "Account disabled"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Failure      503 {object} httputil.ErrorResponse "Store unavailable"
// @Router       /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if h.rateLimited(w, r, "login") {
		return
	}

	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	logger = logger.WithFields(map[string]any{"email": user.NormalizeEmail(req.Email)})

	session, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respondServiceError(w, logger, "login", err)
		return
	}

	logger.Info("user logged in", "user_id", session.User.ID)

	h.respondSession(w, r, session, "logged in successfully", http.StatusOK)
}

// Refresh handles access token refresh
// @Summary      Refresh tokens
// @Description  Exchange a refresh token for a new token pair. The old pair stops working.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body RefreshRequest false "Refresh token (or refresh_token cookie)"
// @Success      200 {object} Session
// @Failure      400 {object} httputil.ErrorResponse "Refresh token missing"
// @Failure      401 {object} httputil.ErrorResponse "Unauthenticated"
// @Failure      503 {object} httputil.ErrorResponse "Store unavailable"
// @Router       /auth/refresh [post]
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	// Try to get refresh token from JSON body first
	var refreshToken string
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		refreshToken = req.RefreshToken
	}

	// Fallback to cookie if body empty/invalid
	if refreshToken == "" && h.cfg.CookiesEnabled {
		if cookieToken, err := GetRefreshTokenFromCookie(r); err == nil {
			refreshToken = cookieToken
		}
	}

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		logger.Warn("refresh token missing from both body and cookie")
		httputil.RespondErrorWithCode(w, "refresh token required", httputil.CodeRefreshTokenRequired, http.StatusBadRequest)
		return
	}

	session, err := h.service.Refresh(r.Context(), refreshToken)
	if err != nil {
		h.respondServiceError(w, logger, "refresh", err)
		return
	}

	logger.Info("session refreshed", "user_id", session.User.ID)

	h.respondSession(w, r, session, "token refreshed successfully", http.StatusOK)
}

// Logout handles user logout
// @Summary      User logout
// @Description  Invalidate the current session and clear cookies
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} httputil.MessageResponse
// @Failure      401 {object} httputil.ErrorResponse "Unauthenticated"
// @Failure      503 {object} httputil.ErrorResponse "Store unavailable"
// @Router       /auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	userID, ok := GetUserIDFromContext(r.Context())
	entryID, ok2 := GetKeystoreIDFromContext(r.Context())
	if !ok || !ok2 {
		httputil.RespondErrorWithCode(w, "unauthenticated", httputil.CodeUnauthenticated, http.StatusUnauthorized)
		return
	}

	if err := h.service.LogoutEntry(r.Context(), userID, entryID); err != nil {
		h.respondServiceError(w, logger, "logout", err)
		return
	}

	if h.cfg.CookiesEnabled {
		ClearAuthCookies(w, h.cfg.SecureCookies)
	}

	logger.Info("user logged out", "keystore_id", entryID)

	httputil.RespondMessage(w, "logged out", http.StatusOK)
}

// LogoutAll revokes every session of the current user
// @Summary      Logout everywhere
// @Description  Invalidate every session of the current user
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} LogoutAllResponse
// @Failure      401 {object} httputil.ErrorResponse "Unauthenticated"
// @Failure      503 {object} httputil.ErrorResponse "Store unavailable"
// @Router       /auth/logout-all [post]
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		httputil.RespondErrorWithCode(w, "unauthenticated", httputil.CodeUnauthenticated, http.StatusUnauthorized)
		return
	}

	n, err := h.service.LogoutAll(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, logger, "logout all", err)
		return
	}

	if h.cfg.CookiesEnabled {
		ClearAuthCookies(w, h.cfg.SecureCookies)
	}

	logger.Info("all sessions revoked", "revoked", n)

	httputil.RespondJSON(w, LogoutAllResponse{Message: "logged out everywhere", Revoked: n}, http.StatusOK)
}

// ChangePassword handles password change for the current user
// @Summary      Change password
// @Description  Replace the password. Every session is revoked, including the current one.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body ChangePasswordRequest true "Current and new password"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Validation error"
// @Failure      401 {object} httputil.ErrorResponse "Wrong current password"
// @Failure      503 {object} httputil.ErrorResponse "Store unavailable"
// @Router       /auth/password [put]
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		httputil.RespondErrorWithCode(w, "unauthenticated", httputil.CodeUnauthenticated, http.StatusUnauthorized)
		return
	}

	var req ChangePasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		h.respondServiceError(w, logger, "change password", err)
		return
	}

	if h.cfg.CookiesEnabled {
		ClearAuthCookies(w, h.cfg.SecureCookies)
	}

	logger.Info("password changed")

	httputil.RespondMessage(w, "Password changed. Please log in again.", http.StatusOK)
}

// VerifyEmail handles email verification
// @Summary      Verify email address
// @Description  Verify a user's email address using the verification token sent via email
// @Tags         auth
// @Produce      json
// @Param        token query string true "Verification token"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid, expired, or already used token"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /auth/verify-email [get]
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	verificationToken := r.URL.Query().Get("token")
	if verificationToken == "" {
		logger.Warn("email verification failed: token missing")
		httputil.RespondErrorWithCode(w, "verification token required", httputil.CodeVerificationTokenRequired, http.StatusBadRequest)
		return
	}

	if err := h.service.VerifyEmail(r.Context(), verificationToken); err != nil {
		h.respondServiceError(w, logger, "email verification", err)
		return
	}

	logger.Info("email verified successfully")

	httputil.RespondMessage(w, "Email verified successfully.", http.StatusOK)
}

// ResendVerificationEmail handles resending verification email
// @Summary      Resend verification email
// @Description  Send a new verification email to the user. Always returns success to prevent email enumeration.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body ResendVerificationRequest true "Email address"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid request body"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Router       /auth/resend-verification [post]
func (h *Handler) ResendVerificationEmail(w http.ResponseWriter, r *http.Request) {
	var req ResendVerificationRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if h.emailLimited(w, r, req.Email) {
		return
	}

	// Process request (always returns nil for security)
	_ = h.service.ResendVerificationEmail(r.Context(), req.Email)

	httputil.RespondMessage(w, "If your email is registered and not verified, a new verification link has been sent.", http.StatusOK)
}

// ForgotPassword handles password reset requests
// @Summary      Request password reset
// @Description  Send a password reset link to the user's email. Always returns success to prevent email enumeration.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body ForgotPasswordRequest true "Email address"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid request body"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Router       /auth/forgot-password [post]
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if h.emailLimited(w, r, req.Email) {
		return
	}

	// Process request (always returns nil for security)
	_ = h.service.RequestPasswordReset(r.Context(), req.Email)

	httputil.RespondMessage(w, "If an account exists with that email, a password reset link has been sent.", http.StatusOK)
}

// ResetPassword handles password reset with token
// @Summary      Reset password
// @Description  Reset a user's password using a valid reset token. Every session is revoked.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body ResetPasswordRequest true "Reset token and new password"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid request or token"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /auth/reset-password [post]
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req ResetPasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		h.respondServiceError(w, logger, "password reset", err)
		return
	}

	logger.Info("password reset successfully")

	httputil.RespondMessage(w, "Password reset successfully. You can now login with your new password.", http.StatusOK)
}

// Me returns the current user
// @Summary      Current user
// @Description  Return the authenticated user's profile, email included
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} user.View
// @Failure      401 {object} httputil.ErrorResponse "Unauthenticated"
// @Failure      404 {object} httputil.ErrorResponse "User not found"
// @Router       /users/me [get]
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		httputil.RespondErrorWithCode(w, "unauthenticated", httputil.CodeUnauthenticated, http.StatusUnauthorized)
		return
	}

	view, err := h.service.Me(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, logger, "get current user", err)
		return
	}

	httputil.RespondJSON(w, view, http.StatusOK)
}

func (h *Handler) respondSession(w http.ResponseWriter, r *http.Request, session *Session, message string, status int) {
	if h.cfg.CookiesEnabled && ShouldUseCookies(r) {
		SetAuthCookies(w, session.AccessToken, session.RefreshToken, h.cfg.SecureCookies,
			h.service.issuer.AccessTTL(), h.service.issuer.RefreshTTL())
		// Don't return tokens in response body when using cookies
		httputil.RespondJSON(w, SessionResponse{User: session.User, Message: message}, status)
		return
	}
	httputil.RespondJSON(w, session, status)
}

// respondServiceError maps service errors to HTTP responses. Token rejection
// reasons are logged but never returned to the client.
func (h *Handler) respondServiceError(w http.ResponseWriter, logger *logging.Logger, op string, err error) {
	switch {
	case errors.Is(err, ErrDuplicateIdentity):
		logger.Warn(op+" failed: email already exists")
		httputil.RespondErrorWithCode(w, "email already exists", httputil.CodeEmailAlreadyExists, http.StatusConflict)
	case errors.Is(err, ErrInvalidCredentials):
		logger.Warn(op + " failed: invalid credentials")
		httputil.RespondErrorWithCode(w, "invalid email or password", httputil.CodeUnauthenticated, http.StatusUnauthorized)
	case token.IsTokenError(err):
		logger.Warn(op+" failed: token rejected", "reason", err.Error())
		httputil.RespondErrorWithCode(w, "unauthenticated", httputil.CodeUnauthenticated, http.StatusUnauthorized)
	case errors.Is(err, ErrAccountDisabled):
		logger.Warn(op + " failed: account disabled")
		httputil.RespondErrorWithCode(w, "account is disabled", httputil.CodeAccountDisabled, http.StatusForbidden)
	case errors.Is(err, ErrStoreUnavailable):
		logger.Error(op+" failed: store unavailable", "error", err.Error())
		httputil.RespondUnavailable(w, h.cfg.RetryAfter)
	case IsValidationError(err):
		logger.Warn(op+" failed: validation error", "error", err.Error())
		httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeValidationFailed, http.StatusBadRequest)
	case errors.Is(err, ErrUserNotFound):
		logger.Warn(op + " failed: user not found")
		httputil.RespondErrorWithCode(w, "user not found", httputil.CodeUserNotFound, http.StatusNotFound)
	case errors.Is(err, ErrTokenExpired):
		logger.Warn(op + " failed: token expired")
		httputil.RespondErrorWithCode(w, "Verification link has expired. Please request a new one.", httputil.CodeTokenExpired, http.StatusBadRequest)
	case errors.Is(err, ErrEmailAlreadyVerified):
		logger.Warn(op + " failed: already verified")
		httputil.RespondErrorWithCode(w, "This email is already verified.", httputil.CodeAlreadyVerified, http.StatusBadRequest)
	case errors.Is(err, ErrInvalidVerificationToken):
		logger.Warn(op + " failed: invalid token")
		httputil.RespondErrorWithCode(w, "Invalid verification token.", httputil.CodeVerificationFailed, http.StatusBadRequest)
	case errors.Is(err, ErrPasswordResetTokenNotFound):
		logger.Warn(op + " failed: invalid or expired reset token")
		httputil.RespondErrorWithCode(w, "invalid or expired reset token", httputil.CodeInvalidResetToken, http.StatusBadRequest)
	default:
		logger.Error(op+" failed: internal error", "error", err.Error())
		httputil.RespondErrorWithCode(w, "internal server error", httputil.CodeInternalError, http.StatusInternalServerError)
	}
}

// rateLimited checks and records the per-IP counter for purpose. Limiter
// failures let the request through.
func (h *Handler) rateLimited(w http.ResponseWriter, r *http.Request, purpose string) bool {
	if h.rateLimiter == nil {
		return false
	}
	logger := logging.GetLoggerFromContext(r.Context())

	ip := getClientIP(r)
	exceeded, err := h.rateLimiter.CheckIPRateLimitWithPurpose(r.Context(), ip, purpose)
	if err != nil {
		logger.Error("failed to check IP rate limit", "error", err.Error())
	} else if exceeded {
		logger.Warn("IP rate limit exceeded", "ip", ip, "purpose", purpose)
		httputil.RespondErrorWithCode(w, "too many requests, please try again later", httputil.CodeTooManyRequests, http.StatusTooManyRequests)
		return true
	}

	if err := h.rateLimiter.RecordIPRequestWithPurpose(r.Context(), ip, purpose); err != nil {
		logger.Error("failed to record IP request", "error", err.Error())
	}
	return false
}

// emailLimited applies the shared per-IP counter and the per-email cooldown
// to endpoints that send mail.
func (h *Handler) emailLimited(w http.ResponseWriter, r *http.Request, email string) bool {
	if h.rateLimiter == nil {
		return false
	}
	if h.rateLimited(w, r, "email") {
		return true
	}
	logger := logging.GetLoggerFromContext(r.Context())

	onCooldown, err := h.rateLimiter.CheckEmailCooldown(r.Context(), email)
	if err != nil {
		logger.Error("failed to check email cooldown", "error", err.Error())
	} else if onCooldown {
		logger.Warn("email on cooldown", "email", user.NormalizeEmail(email))
		httputil.RespondErrorWithCode(w, "please wait before requesting another email", httputil.CodeCooldownActive, http.StatusTooManyRequests)
		return true
	}

	if err := h.rateLimiter.SetEmailCooldown(r.Context(), email); err != nil {
		logger.Error("failed to set email cooldown", "error", err.Error())
	}
	return false
}

type validatable interface {
	Validate() error
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, req validatable) bool {
	logger := logging.GetLoggerFromContext(r.Context())

	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		logger.Warn("invalid request body", "error", err.Error())
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return false
	}
	if err := req.Validate(); err != nil {
		logger.Warn("request validation failed", "error", err.Error())
		httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeValidationFailed, http.StatusBadRequest)
		return false
	}
	return true
}

// getClientIP extracts the client IP address from the request. chi's
// RealIP middleware has already applied X-Forwarded-For and X-Real-IP.
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
