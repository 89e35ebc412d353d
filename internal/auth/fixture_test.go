package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/redmonkez12/go-keystore-auth/internal/auth"
	"github.com/redmonkez12/go-keystore-auth/internal/database/dbtest"
	"github.com/redmonkez12/go-keystore-auth/internal/keystore"
	"github.com/redmonkez12/go-keystore-auth/internal/password"
	"github.com/redmonkez12/go-keystore-auth/internal/token"
	"github.com/redmonkez12/go-keystore-auth/internal/user"
)

const testPassword = "correct horse battery"

type fakeMailer struct {
	mu            sync.Mutex
	verifications map[string]string
	resets        map[string]string
	changed       []string
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{
		verifications: make(map[string]string),
		resets:        make(map[string]string),
	}
}

func (m *fakeMailer) SendVerificationEmail(_ context.Context, to, tok string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications[to] = tok
	return nil
}

func (m *fakeMailer) SendPasswordResetEmail(_ context.Context, to, tok string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets[to] = tok
	return nil
}

func (m *fakeMailer) SendPasswordChangedEmail(_ context.Context, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changed = append(m.changed, to)
	return nil
}

func (m *fakeMailer) verification(email string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.verifications[email]
	return tok, ok
}

func (m *fakeMailer) reset(email string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.resets[email]
	return tok, ok
}

type fixture struct {
	svc      *auth.Service
	users    *user.Repository
	ks       *keystore.Keystore
	sessions auth.SessionStore
	mail     *fakeMailer
	redis    *redis.Client
	mr       *miniredis.Miniredis

	mu  sync.Mutex
	now time.Time
}

type fixtureOption func(*fixture)

// withSessions wraps the real keystore, e.g. to inject failures.
func withSessions(wrap func(auth.SessionStore) auth.SessionStore) fixtureOption {
	return func(f *fixture) {
		f.sessions = wrap(f.sessions)
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	f := &fixture{
		mail: newFakeMailer(),
		now:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	db := dbtest.New(t)
	f.users = user.NewRepository(db, user.WithClock(f.clock))
	f.ks = keystore.New(keystore.NewBunRepository(db), keystore.WithClock(f.clock))
	f.sessions = f.ks

	f.mr = miniredis.RunT(t)
	f.redis = redis.NewClient(&redis.Options{Addr: f.mr.Addr()})
	t.Cleanup(func() { f.redis.Close() })

	for _, opt := range opts {
		opt(f)
	}

	codec, err := token.NewCodec(token.FormatJWT)
	require.NoError(t, err)

	hasher, err := password.New(password.AlgorithmBcrypt, 4)
	require.NoError(t, err)

	f.svc = auth.NewService(auth.Deps{
		Users:    f.users,
		Sessions: f.sessions,
		Issuer:   token.NewIssuer(codec, token.IssuerConfig{Now: f.clock}),
		Verifier: token.NewVerifier(codec, f.ks, f.clock),
		Hasher:   hasher,
		Resets:   auth.NewPasswordResetRepository(f.redis),
		Email:    f.mail,
		Now:      f.clock,
	})
	t.Cleanup(f.svc.Wait)

	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fixture) signup(t *testing.T, email string) *auth.Session {
	t.Helper()

	s, err := f.svc.Signup(context.Background(), auth.SignupInput{Email: email, Password: testPassword})
	require.NoError(t, err)
	return s
}

// failingSessions fails CreateEntry with err and delegates everything else.
type failingSessions struct {
	auth.SessionStore
	err error
}

func (s failingSessions) CreateEntry(context.Context, uuid.UUID) (*keystore.Entry, error) {
	return nil, s.err
}
