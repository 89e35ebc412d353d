package token

import (
	"time"

	"github.com/google/uuid"

	"github.com/redmonkez12/go-keystore-auth/internal/keystore"
)

// Kind separates access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

func (k Kind) Valid() bool {
	return k == KindAccess || k == KindRefresh
}

// Claims is the signed payload of a token. Roles are a snapshot taken at
// issuance and may lag behind the user record.
type Claims struct {
	Subject    uuid.UUID
	Roles      []string
	KeystoreID uuid.UUID
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Kind       Kind
}

// LookupKeys are the claim values read before the signature is checked. They
// only select which keystore entry to verify against.
type LookupKeys struct {
	Subject    uuid.UUID
	KeystoreID uuid.UUID
	Kind       Kind
}

// SecretFor returns the entry secret that signs tokens of kind k.
func SecretFor(entry *keystore.Entry, k Kind) string {
	if k == KindRefresh {
		return entry.SecondarySecret
	}
	return entry.PrimarySecret
}
