package httputil

// Machine-readable error codes returned in ErrorResponse.Code
const (
	// Request shape
	CodeInvalidRequestBody = "invalid_request_body"
	CodeValidationFailed   = "validation_failed"

	// Authentication. Every token rejection shares CodeUnauthenticated so
	// callers cannot tell the reasons apart.
	CodeUnauthenticated    = "unauthenticated"
	CodeInvalidAuthHeader  = "invalid_auth_header"
	CodeMissingAuth        = "missing_auth"
	CodeInvalidCredentials = "invalid_credentials"
	CodeAccountDisabled    = "account_disabled"

	// Registration
	CodeEmailAlreadyExists = "email_already_exists"

	// Email verification
	CodeVerificationTokenRequired = "verification_token_required"
	CodeTokenExpired              = "token_expired"
	CodeAlreadyVerified           = "already_verified"
	CodeVerificationFailed        = "verification_failed"

	// Refresh
	CodeRefreshTokenRequired = "refresh_token_required"

	// Password reset
	CodeInvalidResetToken = "invalid_reset_token"

	// Users
	CodeUserNotFound = "user_not_found"

	// Rate limiting
	CodeTooManyRequests = "too_many_requests"
	CodeCooldownActive  = "cooldown_active"

	// Server
	CodeInternalError      = "internal_error"
	CodeServiceUnavailable = "service_unavailable"
)
