package token_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmonkez12/go-keystore-auth/internal/database"
	"github.com/redmonkez12/go-keystore-auth/internal/database/dbtest"
	"github.com/redmonkez12/go-keystore-auth/internal/keystore"
	"github.com/redmonkez12/go-keystore-auth/internal/token"
	"github.com/redmonkez12/go-keystore-auth/internal/user"
)

type fixture struct {
	ks       *keystore.Keystore
	issuer   *token.Issuer
	verifier *token.Verifier
	codec    token.Codec
	now      time.Time
}

func newFixture(t *testing.T, format token.Format) *fixture {
	t.Helper()

	codec, err := token.NewCodec(format)
	require.NoError(t, err)

	f := &fixture{
		ks:    keystore.New(keystore.NewBunRepository(dbtest.New(t))),
		codec: codec,
		now:   time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	f.issuer = token.NewIssuer(codec, token.IssuerConfig{
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Now:        clock,
	})
	f.verifier = token.NewVerifier(codec, f.ks, clock)
	return f
}

func (f *fixture) session(t *testing.T, roles ...string) (*user.User, *keystore.Entry) {
	t.Helper()

	if len(roles) == 0 {
		roles = []string{user.RoleLearner}
	}
	u := &user.User{ID: uuid.New(), Roles: roles}
	entry, err := f.ks.CreateEntry(context.Background(), u.ID)
	require.NoError(t, err)
	return u, entry
}

func formats(t *testing.T, fn func(t *testing.T, f *fixture)) {
	for _, format := range []token.Format{token.FormatJWT, token.FormatPaseto} {
		t.Run(string(format), func(t *testing.T) {
			t.Parallel()
			fn(t, newFixture(t, format))
		})
	}
}

func TestVerify_RoundTrip(t *testing.T) {
	t.Parallel()

	formats(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		u, entry := f.session(t, user.RoleLearner, user.RoleWriter)

		pair, err := f.issuer.Issue(u, entry)
		require.NoError(t, err)
		assert.Equal(t, entry.ID, pair.KeystoreID)
		assert.Equal(t, f.now.Add(15*time.Minute), pair.AccessExpiresAt)
		assert.Equal(t, f.now.Add(7*24*time.Hour), pair.RefreshExpiresAt)

		access, err := f.verifier.Verify(ctx, pair.AccessToken, token.KindAccess)
		require.NoError(t, err)
		assert.Equal(t, u.ID, access.Subject)
		assert.Equal(t, []string{user.RoleLearner, user.RoleWriter}, access.Roles)
		assert.Equal(t, entry.ID, access.KeystoreID)
		assert.Equal(t, token.KindAccess, access.Kind)
		assert.Equal(t, f.now, access.IssuedAt)
		assert.Equal(t, pair.AccessExpiresAt, access.ExpiresAt)

		refresh, err := f.verifier.Verify(ctx, pair.RefreshToken, token.KindRefresh)
		require.NoError(t, err)
		assert.Equal(t, u.ID, refresh.Subject)
		assert.Equal(t, token.KindRefresh, refresh.Kind)
		assert.Equal(t, pair.RefreshExpiresAt, refresh.ExpiresAt)
	})
}

func TestVerify_RolesAreASnapshot(t *testing.T) {
	t.Parallel()

	formats(t, func(t *testing.T, f *fixture) {
		u, entry := f.session(t, user.RoleLearner)

		pair, err := f.issuer.Issue(u, entry)
		require.NoError(t, err)

		u.Roles[0] = user.RoleAdmin

		claims, err := f.verifier.Verify(context.Background(), pair.AccessToken, token.KindAccess)
		require.NoError(t, err)
		assert.Equal(t, []string{user.RoleLearner}, claims.Roles)
	})
}

func TestVerify_WrongKind(t *testing.T) {
	t.Parallel()

	formats(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		u, entry := f.session(t)

		pair, err := f.issuer.Issue(u, entry)
		require.NoError(t, err)

		_, err = f.verifier.Verify(ctx, pair.RefreshToken, token.KindAccess)
		assert.ErrorIs(t, err, token.ErrWrongKind)

		_, err = f.verifier.Verify(ctx, pair.AccessToken, token.KindRefresh)
		assert.ErrorIs(t, err, token.ErrWrongKind)
	})
}

func TestVerify_InvalidatedEntry(t *testing.T) {
	t.Parallel()

	formats(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		u, entry := f.session(t)

		pair, err := f.issuer.Issue(u, entry)
		require.NoError(t, err)

		require.NoError(t, f.ks.Invalidate(ctx, entry.ID))

		_, err = f.verifier.Verify(ctx, pair.AccessToken, token.KindAccess)
		assert.ErrorIs(t, err, token.ErrUnknownSession)

		_, err = f.verifier.Verify(ctx, pair.RefreshToken, token.KindRefresh)
		assert.ErrorIs(t, err, token.ErrUnknownSession)
	})
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()

	formats(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		u, entry := f.session(t)

		pair, err := f.issuer.Issue(u, entry)
		require.NoError(t, err)

		f.now = f.now.Add(15 * time.Minute)
		_, err = f.verifier.Verify(ctx, pair.AccessToken, token.KindAccess)
		require.NoError(t, err, "exp itself is still valid")

		f.now = f.now.Add(time.Second)
		_, err = f.verifier.Verify(ctx, pair.AccessToken, token.KindAccess)
		assert.ErrorIs(t, err, token.ErrExpired)

		_, err = f.verifier.Verify(ctx, pair.RefreshToken, token.KindRefresh)
		assert.NoError(t, err)
	})
}

func TestVerify_ExpiredWithValidSignature(t *testing.T) {
	t.Parallel()

	formats(t, func(t *testing.T, f *fixture) {
		u, entry := f.session(t)

		past := f.now.Add(-time.Hour)
		raw, err := f.codec.Encode(token.Claims{
			Subject:    u.ID,
			Roles:      u.Roles,
			KeystoreID: entry.ID,
			IssuedAt:   past.Add(-time.Hour),
			ExpiresAt:  past,
			Kind:       token.KindAccess,
		}, entry.PrimarySecret)
		require.NoError(t, err)

		_, err = f.verifier.Verify(context.Background(), raw, token.KindAccess)
		assert.ErrorIs(t, err, token.ErrExpired)
	})
}

func TestVerify_SignatureMismatch(t *testing.T) {
	t.Parallel()

	formats(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		u, entry := f.session(t)

		claims := token.Claims{
			Subject:    u.ID,
			Roles:      []string{user.RoleAdmin},
			KeystoreID: entry.ID,
			IssuedAt:   f.now,
			ExpiresAt:  f.now.Add(time.Hour),
			Kind:       token.KindAccess,
		}

		forged, err := f.codec.Encode(claims, "not-the-entry-secret")
		require.NoError(t, err)
		_, err = f.verifier.Verify(ctx, forged, token.KindAccess)
		assert.ErrorIs(t, err, token.ErrSignatureMismatch)

		// An access token signed with the refresh secret.
		crossed, err := f.codec.Encode(claims, entry.SecondarySecret)
		require.NoError(t, err)
		_, err = f.verifier.Verify(ctx, crossed, token.KindAccess)
		assert.ErrorIs(t, err, token.ErrSignatureMismatch)
	})
}

func TestVerify_ForeignSubject(t *testing.T) {
	t.Parallel()

	formats(t, func(t *testing.T, f *fixture) {
		_, entry := f.session(t)
		intruder := uuid.New()

		raw, err := f.codec.Encode(token.Claims{
			Subject:    intruder,
			Roles:      []string{user.RoleAdmin},
			KeystoreID: entry.ID,
			IssuedAt:   f.now,
			ExpiresAt:  f.now.Add(time.Hour),
			Kind:       token.KindAccess,
		}, entry.PrimarySecret)
		require.NoError(t, err)

		_, err = f.verifier.Verify(context.Background(), raw, token.KindAccess)
		assert.ErrorIs(t, err, token.ErrUnknownSession)
	})
}

func TestVerify_Malformed(t *testing.T) {
	t.Parallel()

	formats(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		for _, raw := range []string{"", "garbage", "a.b.c", "v4.local.%%%"} {
			_, err := f.verifier.Verify(ctx, raw, token.KindAccess)
			assert.ErrorIs(t, err, token.ErrMalformed, "raw=%q", raw)
		}

		u, entry := f.session(t)
		raw, err := f.codec.Encode(token.Claims{
			Subject:    u.ID,
			KeystoreID: entry.ID,
			IssuedAt:   f.now,
			ExpiresAt:  f.now.Add(time.Hour),
			Kind:       token.Kind("admin"),
		}, entry.PrimarySecret)
		require.NoError(t, err)

		_, err = f.verifier.Verify(ctx, raw, token.KindAccess)
		assert.ErrorIs(t, err, token.ErrMalformed)
	})
}

func TestVerify_ConcurrentUsers(t *testing.T) {
	t.Parallel()

	formats(t, func(t *testing.T, f *fixture) {
		type session struct {
			user  *user.User
			entry *keystore.Entry
		}
		sessions := make([]session, 3)
		for i := range sessions {
			u, e := f.session(t, fmt.Sprintf("ROLE_%d", i))
			sessions[i] = session{user: u, entry: e}
		}

		var wg sync.WaitGroup
		for _, s := range sessions {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 10; i++ {
					pair, err := f.issuer.Issue(s.user, s.entry)
					if !assert.NoError(t, err) {
						return
					}
					claims, err := f.verifier.Verify(context.Background(), pair.AccessToken, token.KindAccess)
					if !assert.NoError(t, err) {
						return
					}
					assert.Equal(t, s.user.ID, claims.Subject)
					assert.Equal(t, s.entry.ID, claims.KeystoreID)
					assert.Equal(t, s.user.Roles, claims.Roles)
				}
			}()
		}
		wg.Wait()
	})
}

func TestIssue_RejectsForeignEntry(t *testing.T) {
	t.Parallel()

	formats(t, func(t *testing.T, f *fixture) {
		_, entry := f.session(t)
		other := &user.User{ID: uuid.New(), Roles: []string{user.RoleLearner}}

		_, err := f.issuer.Issue(other, entry)
		assert.ErrorIs(t, err, token.ErrEntryOwner)
	})
}

func TestJWTCodec_Deterministic(t *testing.T) {
	t.Parallel()

	f := newFixture(t, token.FormatJWT)
	u, entry := f.session(t)

	first, err := f.issuer.Issue(u, entry)
	require.NoError(t, err)
	second, err := f.issuer.Issue(u, entry)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotEqual(t, first.AccessToken, first.RefreshToken)
}

func TestPasetoCodec_FooterCarriesLookupKeys(t *testing.T) {
	t.Parallel()

	f := newFixture(t, token.FormatPaseto)
	u, entry := f.session(t)

	pair, err := f.issuer.Issue(u, entry)
	require.NoError(t, err)
	assert.Contains(t, pair.AccessToken, "v4.local.")

	keys, err := f.codec.Peek(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, token.LookupKeys{Subject: u.ID, KeystoreID: entry.ID, Kind: token.KindRefresh}, keys)
}

func TestNewCodec(t *testing.T) {
	t.Parallel()

	c, err := token.NewCodec("")
	require.NoError(t, err)
	assert.IsType(t, &token.JWTCodec{}, c)

	c, err = token.NewCodec(token.FormatPaseto)
	require.NoError(t, err)
	assert.IsType(t, &token.PasetoCodec{}, c)

	_, err = token.NewCodec("saml")
	assert.Error(t, err)
}

type brokenFinder struct{ err error }

func (b brokenFinder) FindByPrimaryKey(context.Context, uuid.UUID, uuid.UUID) (*keystore.Entry, error) {
	return nil, b.err
}

func TestVerify_StoreUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t, token.FormatJWT)
	u, entry := f.session(t)
	pair, err := f.issuer.Issue(u, entry)
	require.NoError(t, err)

	outage := fmt.Errorf("%w: connection refused", database.ErrUnavailable)
	v := token.NewVerifier(f.codec, brokenFinder{err: outage}, nil)

	_, err = v.Verify(context.Background(), pair.AccessToken, token.KindAccess)
	assert.ErrorIs(t, err, token.ErrStoreUnavailable)
	assert.False(t, token.IsTokenError(err))

	v = token.NewVerifier(f.codec, brokenFinder{err: errors.New("boom")}, nil)
	_, err = v.Verify(context.Background(), pair.AccessToken, token.KindAccess)
	assert.Error(t, err)
	assert.False(t, token.IsTokenError(err))
}
