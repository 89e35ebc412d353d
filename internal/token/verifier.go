package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/redmonkez12/go-keystore-auth/internal/database"
	"github.com/redmonkez12/go-keystore-auth/internal/keystore"
)

// EntryFinder is the keystore lookup the Verifier depends on.
type EntryFinder interface {
	FindByPrimaryKey(ctx context.Context, entryID, userID uuid.UUID) (*keystore.Entry, error)
}

type Verifier struct {
	codec   Codec
	entries EntryFinder
	now     func() time.Time
}

// NewVerifier creates a Verifier. A nil now uses time.Now.
func NewVerifier(codec Codec, entries EntryFinder, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{codec: codec, entries: entries, now: now}
}

// Verify checks raw against the live keystore entry it names. The checks run
// in a fixed order: decode the lookup keys, load the entry scoped to the
// claimed subject, verify the signature with the secret for the claimed
// kind, compare the kind, then check expiry.
func (v *Verifier) Verify(ctx context.Context, raw string, expected Kind) (*Claims, error) {
	keys, err := v.codec.Peek(raw)
	if err != nil {
		return nil, err
	}

	entry, err := v.entries.FindByPrimaryKey(ctx, keys.KeystoreID, keys.Subject)
	if err != nil {
		switch {
		case errors.Is(err, keystore.ErrNotFound):
			return nil, ErrUnknownSession
		case errors.Is(err, database.ErrUnavailable),
			errors.Is(err, context.Canceled),
			errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		default:
			return nil, fmt.Errorf("failed to load keystore entry: %w", err)
		}
	}

	claims, err := v.codec.Decode(raw, SecretFor(entry, keys.Kind))
	if err != nil {
		return nil, err
	}
	if claims.Subject != keys.Subject || claims.KeystoreID != keys.KeystoreID || claims.Kind != keys.Kind {
		return nil, ErrSignatureMismatch
	}

	if claims.Kind != expected {
		return nil, ErrWrongKind
	}

	if v.now().After(claims.ExpiresAt) {
		return nil, ErrExpired
	}

	return claims, nil
}
