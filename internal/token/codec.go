// Package token issues and verifies access/refresh tokens signed with the
// secrets of a keystore entry.
package token

import "fmt"

// Codec defines the interface for token encoding and decoding.
// Implementations include JWTCodec (HS256) and PasetoCodec (PASETO v4.local).
type Codec interface {
	// Encode signs claims with secret.
	Encode(claims Claims, secret string) (string, error)
	// Peek reads the lookup keys without verifying anything. It fails with
	// ErrMalformed.
	Peek(raw string) (LookupKeys, error)
	// Decode verifies raw against secret and returns its claims. It fails
	// with ErrMalformed or ErrSignatureMismatch and does not check expiry.
	Decode(raw string, secret string) (*Claims, error)
}

// Format names a Codec.
type Format string

const (
	FormatJWT    Format = "jwt"
	FormatPaseto Format = "paseto"
)

// NewCodec returns the codec for format.
func NewCodec(format Format) (Codec, error) {
	switch format {
	case FormatJWT, "":
		return NewJWTCodec(), nil
	case FormatPaseto:
		return NewPasetoCodec(), nil
	default:
		return nil, fmt.Errorf("unknown token format %q", format)
	}
}
