package auth

import "errors"

var (
	ErrDuplicateIdentity  = errors.New("an account with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrUserNotFound       = errors.New("user not found")
)

// ErrStoreUnavailable means a backing store kept failing. The caller may
// retry later.
var ErrStoreUnavailable = errors.New("store unavailable")

// ErrInternal wraps failures that are not part of the API contract.
var ErrInternal = errors.New("internal error")

// Validation errors
var (
	ErrEmailRequired      = errors.New("email is required")
	ErrInvalidEmailFormat = errors.New("invalid email format")
	ErrPasswordRequired   = errors.New("password is required")
	ErrPasswordTooShort   = errors.New("password must be at least 8 characters")
	ErrPasswordTooLong    = errors.New("password must be at most 72 bytes")
)

var (
	ErrInvalidVerificationToken   = errors.New("invalid verification token")
	ErrTokenExpired               = errors.New("verification token has expired")
	ErrEmailAlreadyVerified       = errors.New("email already verified")
	ErrPasswordResetTokenNotFound = errors.New("password reset token not found or expired")
)

// IsValidationError reports whether err rejects the caller's input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmailRequired) ||
		errors.Is(err, ErrInvalidEmailFormat) ||
		errors.Is(err, ErrPasswordRequired) ||
		errors.Is(err, ErrPasswordTooShort) ||
		errors.Is(err, ErrPasswordTooLong)
}
