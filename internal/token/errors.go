package token

import "errors"

var (
	ErrMalformed         = errors.New("token is malformed")
	ErrExpired           = errors.New("token has expired")
	ErrWrongKind         = errors.New("token kind mismatch")
	ErrUnknownSession    = errors.New("token session not found")
	ErrSignatureMismatch = errors.New("token signature mismatch")
)

// ErrStoreUnavailable means the keystore could not be consulted. It is not a
// verdict on the token.
var ErrStoreUnavailable = errors.New("keystore unavailable")

// IsTokenError reports whether err is one of the token rejection reasons.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrWrongKind) ||
		errors.Is(err, ErrUnknownSession) ||
		errors.Is(err, ErrSignatureMismatch)
}
