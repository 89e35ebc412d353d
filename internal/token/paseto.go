package token

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"

	"aidanwoods.dev/go-paseto"
	"golang.org/x/crypto/hkdf"
)

const pasetoKeyInfo = "go-keystore-auth paseto v4.local"

// pasetoFooter is authenticated but not encrypted, which lets the verifier
// find the keystore entry before it has a key to decrypt with.
type pasetoFooter struct {
	Subject    string `json:"sub"`
	KeystoreID string `json:"ksid"`
	Kind       Kind   `json:"kind"`
}

// PasetoCodec handles PASETO v4.local tokens (XChaCha20 + BLAKE2b). The
// symmetric key is derived from the entry secret with HKDF-SHA256. Output
// is not deterministic because every token gets a random nonce.
type PasetoCodec struct{}

var _ Codec = (*PasetoCodec)(nil)

func NewPasetoCodec() *PasetoCodec {
	return &PasetoCodec{}
}

func deriveKey(secret string) (paseto.V4SymmetricKey, error) {
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(pasetoKeyInfo))

	b := make([]byte, 32)
	if _, err := io.ReadFull(kdf, b); err != nil {
		return paseto.V4SymmetricKey{}, fmt.Errorf("failed to derive key: %w", err)
	}

	key, err := paseto.V4SymmetricKeyFromBytes(b)
	if err != nil {
		return paseto.V4SymmetricKey{}, fmt.Errorf("failed to create symmetric key: %w", err)
	}
	return key, nil
}

// Encode encrypts claims under a key derived from secret
func (c *PasetoCodec) Encode(claims Claims, secret string) (string, error) {
	key, err := deriveKey(secret)
	if err != nil {
		return "", err
	}

	footer, err := json.Marshal(pasetoFooter{
		Subject:    claims.Subject.String(),
		KeystoreID: claims.KeystoreID.String(),
		Kind:       claims.Kind,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode footer: %w", err)
	}

	tok := paseto.NewToken()
	tok.SetIssuedAt(claims.IssuedAt)
	tok.SetExpiration(claims.ExpiresAt)
	tok.SetSubject(claims.Subject.String())
	tok.SetString("ksid", claims.KeystoreID.String())
	tok.SetString("kind", string(claims.Kind))
	if err := tok.Set("roles", claims.Roles); err != nil {
		return "", fmt.Errorf("failed to set roles: %w", err)
	}
	tok.SetFooter(footer)

	return tok.V4Encrypt(key, nil), nil
}

// Peek reads the lookup keys from the footer
func (c *PasetoCodec) Peek(raw string) (LookupKeys, error) {
	parser := paseto.NewParser()
	footer, err := parser.UnsafeParseFooter(paseto.V4Local, raw)
	if err != nil {
		return LookupKeys{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var f pasetoFooter
	if err := json.Unmarshal(footer, &f); err != nil {
		return LookupKeys{}, fmt.Errorf("%w: invalid footer", ErrMalformed)
	}

	return parseLookupKeys(f.Subject, f.KeystoreID, f.Kind)
}

// Decode decrypts and authenticates the token. The parser's expiry rule is
// disabled; the Verifier checks expiry against its own clock.
func (c *PasetoCodec) Decode(raw string, secret string) (*Claims, error) {
	keys, err := c.Peek(raw)
	if err != nil {
		return nil, err
	}

	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}

	parser := paseto.NewParserWithoutExpiryCheck()
	tok, err := parser.ParseV4Local(key, raw, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}

	sub, err := tok.GetSubject()
	if err != nil {
		return nil, fmt.Errorf("%w: missing sub", ErrMalformed)
	}
	ksid, err := tok.GetString("ksid")
	if err != nil {
		return nil, fmt.Errorf("%w: missing ksid", ErrMalformed)
	}
	kind, err := tok.GetString("kind")
	if err != nil {
		return nil, fmt.Errorf("%w: missing kind", ErrMalformed)
	}

	body, err := parseLookupKeys(sub, ksid, Kind(kind))
	if err != nil {
		return nil, err
	}
	if body != keys {
		return nil, fmt.Errorf("%w: footer does not match claims", ErrSignatureMismatch)
	}

	var roles []string
	if err := tok.Get("roles", &roles); err != nil {
		return nil, fmt.Errorf("%w: invalid roles", ErrMalformed)
	}

	issuedAt, err := tok.GetIssuedAt()
	if err != nil {
		return nil, fmt.Errorf("%w: invalid iat", ErrMalformed)
	}
	expiresAt, err := tok.GetExpiration()
	if err != nil {
		return nil, fmt.Errorf("%w: invalid exp", ErrMalformed)
	}

	return &Claims{
		Subject:    body.Subject,
		Roles:      roles,
		KeystoreID: body.KeystoreID,
		IssuedAt:   issuedAt.UTC(),
		ExpiresAt:  expiresAt.UTC(),
		Kind:       body.Kind,
	}, nil
}
