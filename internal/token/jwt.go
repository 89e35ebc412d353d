package token

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type jwtClaims struct {
	Roles      []string `json:"roles"`
	KeystoreID string   `json:"ksid"`
	Kind       Kind     `json:"kind"`
	jwt.RegisteredClaims
}

// JWTCodec handles HS256 JWTs keyed by the raw entry secret. Output is
// deterministic for identical claims and secret.
type JWTCodec struct {
	method jwt.SigningMethod
}

var _ Codec = (*JWTCodec)(nil)

func NewJWTCodec() *JWTCodec {
	return &JWTCodec{method: jwt.SigningMethodHS256}
}

// Encode signs claims with secret
func (c *JWTCodec) Encode(claims Claims, secret string) (string, error) {
	tok := jwt.NewWithClaims(c.method, jwtClaims{
		Roles:      claims.Roles,
		KeystoreID: claims.KeystoreID.String(),
		Kind:       claims.Kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject.String(),
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})

	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Peek reads sub, ksid and kind without checking the signature
func (c *JWTCodec) Peek(raw string) (LookupKeys, error) {
	var jc jwtClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &jc); err != nil {
		return LookupKeys{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return parseLookupKeys(jc.Subject, jc.KeystoreID, jc.Kind)
}

// Decode verifies the HMAC and returns the claims. Expiry is left to the
// Verifier so that it runs on the injected clock.
func (c *JWTCodec) Decode(raw string, secret string) (*Claims, error) {
	var jc jwtClaims
	_, err := jwt.ParseWithClaims(raw, &jc,
		func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		},
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}

	keys, err := parseLookupKeys(jc.Subject, jc.KeystoreID, jc.Kind)
	if err != nil {
		return nil, err
	}
	if jc.IssuedAt == nil || jc.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing iat or exp", ErrMalformed)
	}

	return &Claims{
		Subject:    keys.Subject,
		Roles:      jc.Roles,
		KeystoreID: keys.KeystoreID,
		IssuedAt:   jc.IssuedAt.UTC(),
		ExpiresAt:  jc.ExpiresAt.UTC(),
		Kind:       keys.Kind,
	}, nil
}

func parseLookupKeys(sub, ksid string, kind Kind) (LookupKeys, error) {
	subject, err := uuid.Parse(sub)
	if err != nil {
		return LookupKeys{}, fmt.Errorf("%w: invalid sub", ErrMalformed)
	}
	keystoreID, err := uuid.Parse(ksid)
	if err != nil {
		return LookupKeys{}, fmt.Errorf("%w: invalid ksid", ErrMalformed)
	}
	if !kind.Valid() {
		return LookupKeys{}, fmt.Errorf("%w: unknown kind %q", ErrMalformed, kind)
	}

	return LookupKeys{
		Subject:    subject,
		KeystoreID: keystoreID,
		Kind:       kind,
	}, nil
}
