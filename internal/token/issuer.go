package token

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/redmonkez12/go-keystore-auth/internal/keystore"
	"github.com/redmonkez12/go-keystore-auth/internal/user"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

var ErrEntryOwner = errors.New("keystore entry belongs to another user")

// Pair is the result of Issue.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	KeystoreID       uuid.UUID
}

type IssuerConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Issuer signs access tokens with the entry's primary secret and refresh
// tokens with its secondary secret.
type Issuer struct {
	codec      Codec
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewIssuer(codec Codec, cfg IssuerConfig) *Issuer {
	i := &Issuer{
		codec:      codec,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        cfg.Now,
	}
	if i.accessTTL <= 0 {
		i.accessTTL = DefaultAccessTTL
	}
	if i.refreshTTL <= 0 {
		i.refreshTTL = DefaultRefreshTTL
	}
	if i.now == nil {
		i.now = time.Now
	}
	return i
}

// Issue builds and signs a token pair for u bound to entry.
func (i *Issuer) Issue(u *user.User, entry *keystore.Entry) (Pair, error) {
	if entry.UserID != u.ID {
		return Pair{}, ErrEntryOwner
	}

	// Both codecs carry second precision.
	now := i.now().UTC().Truncate(time.Second)

	roles := make([]string, len(u.Roles))
	copy(roles, u.Roles)

	access := Claims{
		Subject:    u.ID,
		Roles:      roles,
		KeystoreID: entry.ID,
		IssuedAt:   now,
		ExpiresAt:  now.Add(i.accessTTL),
		Kind:       KindAccess,
	}
	refresh := access
	refresh.ExpiresAt = now.Add(i.refreshTTL)
	refresh.Kind = KindRefresh

	accessToken, err := i.codec.Encode(access, SecretFor(entry, KindAccess))
	if err != nil {
		return Pair{}, err
	}
	refreshToken, err := i.codec.Encode(refresh, SecretFor(entry, KindRefresh))
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		KeystoreID:       entry.ID,
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (i *Issuer) RefreshTTL() time.Duration { return i.refreshTTL }
