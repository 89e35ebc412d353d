// Package secret produces random key material for keystore entries and
// one-time tokens.
package secret

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// DefaultLength is the number of random bytes behind each keystore secret.
const DefaultLength = 64

var ErrInvalidLength = errors.New("secret length must be positive")

// Generate returns byteLength bytes from crypto/rand, hex encoded.
func Generate(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", ErrInvalidLength
	}

	b := make([]byte, byteLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	return hex.EncodeToString(b), nil
}

// URLToken creates a URL-safe random token for email verification and
// password reset links.
func URLToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// Generator is the function shape consumed by the keystore so tests can
// substitute deterministic secrets.
type Generator func(byteLength int) (string, error)
