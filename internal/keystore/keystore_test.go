package keystore_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmonkez12/go-keystore-auth/internal/database"
	"github.com/redmonkez12/go-keystore-auth/internal/database/dbtest"
	"github.com/redmonkez12/go-keystore-auth/internal/keystore"
)

var fastRetry = database.RetryPolicy{
	MaxRetries:      2,
	InitialInterval: time.Millisecond,
	MaxInterval:     time.Millisecond,
}

func newRedisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

// backends runs fn against every Repository implementation.
func backends(t *testing.T, fn func(t *testing.T, repo keystore.Repository)) {
	t.Run("bun", func(t *testing.T) {
		t.Parallel()
		fn(t, keystore.NewBunRepository(dbtest.New(t)))
	})
	t.Run("redis", func(t *testing.T) {
		t.Parallel()
		_, client := newRedisClient(t)
		fn(t, keystore.NewRedisRepository(client, time.Hour))
	})
}

func TestKeystore_CreateAndFind(t *testing.T) {
	t.Parallel()

	backends(t, func(t *testing.T, repo keystore.Repository) {
		ks := keystore.New(repo, keystore.WithRetryPolicy(fastRetry))
		ctx := context.Background()
		userID := uuid.New()

		entry, err := ks.CreateEntry(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, userID, entry.UserID)
		assert.Len(t, entry.PrimarySecret, 128)
		assert.Len(t, entry.SecondarySecret, 128)
		assert.NotEqual(t, entry.PrimarySecret, entry.SecondarySecret)

		found, err := ks.FindByPrimaryKey(ctx, entry.ID, userID)
		require.NoError(t, err)
		assert.Equal(t, entry.ID, found.ID)
		assert.Equal(t, entry.PrimarySecret, found.PrimarySecret)
		assert.Equal(t, entry.SecondarySecret, found.SecondarySecret)
		assert.WithinDuration(t, entry.CreatedAt, found.CreatedAt, time.Second)

		other, err := ks.CreateEntry(ctx, userID)
		require.NoError(t, err)
		assert.NotEqual(t, entry.ID, other.ID)
		assert.NotEqual(t, entry.PrimarySecret, other.PrimarySecret)
	})
}

func TestKeystore_FindIsOwnerScoped(t *testing.T) {
	t.Parallel()

	backends(t, func(t *testing.T, repo keystore.Repository) {
		ks := keystore.New(repo, keystore.WithRetryPolicy(fastRetry))
		ctx := context.Background()

		entry, err := ks.CreateEntry(ctx, uuid.New())
		require.NoError(t, err)

		_, err = ks.FindByPrimaryKey(ctx, entry.ID, uuid.New())
		assert.ErrorIs(t, err, keystore.ErrNotFound)

		_, err = ks.FindByPrimaryKey(ctx, uuid.New(), entry.UserID)
		assert.ErrorIs(t, err, keystore.ErrNotFound)
	})
}

func TestKeystore_InvalidateIsIdempotent(t *testing.T) {
	t.Parallel()

	backends(t, func(t *testing.T, repo keystore.Repository) {
		ks := keystore.New(repo, keystore.WithRetryPolicy(fastRetry))
		ctx := context.Background()

		entry, err := ks.CreateEntry(ctx, uuid.New())
		require.NoError(t, err)

		require.NoError(t, ks.Invalidate(ctx, entry.ID))
		require.NoError(t, ks.Invalidate(ctx, entry.ID))
		require.NoError(t, ks.Invalidate(ctx, uuid.New()))

		_, err = ks.FindByPrimaryKey(ctx, entry.ID, entry.UserID)
		assert.ErrorIs(t, err, keystore.ErrNotFound)
	})
}

func TestKeystore_Consume(t *testing.T) {
	t.Parallel()

	backends(t, func(t *testing.T, repo keystore.Repository) {
		ks := keystore.New(repo, keystore.WithRetryPolicy(fastRetry))
		ctx := context.Background()

		entry, err := ks.CreateEntry(ctx, uuid.New())
		require.NoError(t, err)

		const callers = 6
		var (
			wg  sync.WaitGroup
			won atomic.Int32
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := ks.Consume(ctx, entry.ID)
				if err == nil {
					won.Add(1)
					return
				}
				assert.ErrorIs(t, err, keystore.ErrNotFound)
			}()
		}
		wg.Wait()

		assert.EqualValues(t, 1, won.Load())
	})
}

func TestKeystore_InvalidateAllForUser(t *testing.T) {
	t.Parallel()

	backends(t, func(t *testing.T, repo keystore.Repository) {
		ks := keystore.New(repo, keystore.WithRetryPolicy(fastRetry))
		ctx := context.Background()
		userID := uuid.New()

		var entries []*keystore.Entry
		for i := 0; i < 3; i++ {
			e, err := ks.CreateEntry(ctx, userID)
			require.NoError(t, err)
			entries = append(entries, e)
		}
		bystander, err := ks.CreateEntry(ctx, uuid.New())
		require.NoError(t, err)

		n, err := ks.InvalidateAllForUser(ctx, userID)
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)

		for _, e := range entries {
			_, err := ks.FindByPrimaryKey(ctx, e.ID, userID)
			assert.ErrorIs(t, err, keystore.ErrNotFound)
		}

		_, err = ks.FindByPrimaryKey(ctx, bystander.ID, bystander.UserID)
		assert.NoError(t, err)

		n, err = ks.InvalidateAllForUser(ctx, userID)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestKeystore_PruneExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	repo := keystore.NewBunRepository(dbtest.New(t))
	ks := keystore.New(repo, keystore.WithClock(clock), keystore.WithLifetime(24*time.Hour))
	ctx := context.Background()
	userID := uuid.New()

	old, err := ks.CreateEntry(ctx, userID)
	require.NoError(t, err)

	now = now.Add(36 * time.Hour)
	fresh, err := ks.CreateEntry(ctx, userID)
	require.NoError(t, err)

	n, err := ks.PruneExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = ks.FindByPrimaryKey(ctx, old.ID, userID)
	assert.ErrorIs(t, err, keystore.ErrNotFound)
	_, err = ks.FindByPrimaryKey(ctx, fresh.ID, userID)
	assert.NoError(t, err)
}

func TestRedisRepository_LayoutAndTTL(t *testing.T) {
	t.Parallel()

	mr, client := newRedisClient(t)
	ks := keystore.New(keystore.NewRedisRepository(client, 2*time.Hour))
	ctx := context.Background()

	entry, err := ks.CreateEntry(ctx, uuid.New())
	require.NoError(t, err)

	entryKey := "keystore:" + entry.ID.String()
	userKey := "user_keystores:" + entry.UserID.String()

	assert.True(t, mr.Exists(entryKey))
	assert.Equal(t, entry.PrimarySecret, mr.HGet(entryKey, "primary_secret"))
	assert.Equal(t, 2*time.Hour, mr.TTL(entryKey))
	assert.Equal(t, 2*time.Hour, mr.TTL(userKey))

	members, err := mr.Members(userKey)
	require.NoError(t, err)
	assert.Equal(t, []string{entry.ID.String()}, members)

	mr.FastForward(2*time.Hour + time.Second)

	_, err = ks.FindByPrimaryKey(ctx, entry.ID, entry.UserID)
	assert.ErrorIs(t, err, keystore.ErrNotFound)

	n, err := ks.PruneExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisRepository_DeleteUpdatesIndex(t *testing.T) {
	t.Parallel()

	mr, client := newRedisClient(t)
	ks := keystore.New(keystore.NewRedisRepository(client, time.Hour))
	ctx := context.Background()
	userID := uuid.New()

	a, err := ks.CreateEntry(ctx, userID)
	require.NoError(t, err)
	b, err := ks.CreateEntry(ctx, userID)
	require.NoError(t, err)

	require.NoError(t, ks.Invalidate(ctx, a.ID))

	members, err := mr.Members("user_keystores:" + userID.String())
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID.String()}, members)
}

func TestRedisRepository_InvalidateAllRacesCreate(t *testing.T) {
	t.Parallel()

	_, client := newRedisClient(t)
	ks := keystore.New(keystore.NewRedisRepository(client, time.Hour), keystore.WithRetryPolicy(fastRetry))
	ctx := context.Background()
	userID := uuid.New()

	for round := 0; round < 50; round++ {
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created []*keystore.Entry
		)
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				e, err := ks.CreateEntry(ctx, userID)
				if assert.NoError(t, err) {
					mu.Lock()
					created = append(created, e)
					mu.Unlock()
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ks.InvalidateAllForUser(ctx, userID)
			assert.NoError(t, err)
		}()
		wg.Wait()

		// Whatever survived the racing call must still be reachable.
		_, err := ks.InvalidateAllForUser(ctx, userID)
		require.NoError(t, err)

		for _, e := range created {
			_, err := ks.FindByPrimaryKey(ctx, e.ID, userID)
			require.ErrorIs(t, err, keystore.ErrNotFound, "round %d: entry %s outlived revoke-all", round, e.ID)
		}
	}
}

func TestKeystore_RedisOutage(t *testing.T) {
	t.Parallel()

	mr, client := newRedisClient(t)
	ks := keystore.New(keystore.NewRedisRepository(client, time.Hour), keystore.WithRetryPolicy(fastRetry))
	ctx := context.Background()

	entry, err := ks.CreateEntry(ctx, uuid.New())
	require.NoError(t, err)

	mr.Close()

	_, err = ks.FindByPrimaryKey(ctx, entry.ID, entry.UserID)
	assert.ErrorIs(t, err, database.ErrUnavailable)

	_, err = ks.CreateEntry(ctx, uuid.New())
	assert.ErrorIs(t, err, database.ErrUnavailable)
}

type flakyRepo struct {
	keystore.Repository
	failures atomic.Int32
	calls    atomic.Int32
}

func (r *flakyRepo) FindByPrimaryKey(ctx context.Context, entryID, userID uuid.UUID) (*keystore.Entry, error) {
	r.calls.Add(1)
	if r.failures.Add(-1) >= 0 {
		return nil, &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}
	}
	return r.Repository.FindByPrimaryKey(ctx, entryID, userID)
}

func TestKeystore_FindRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	_, client := newRedisClient(t)
	repo := &flakyRepo{Repository: keystore.NewRedisRepository(client, time.Hour)}
	ks := keystore.New(repo, keystore.WithRetryPolicy(fastRetry))
	ctx := context.Background()

	entry, err := ks.CreateEntry(ctx, uuid.New())
	require.NoError(t, err)

	repo.failures.Store(2)
	_, err = ks.FindByPrimaryKey(ctx, entry.ID, entry.UserID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, repo.calls.Load())

	repo.calls.Store(0)
	repo.failures.Store(10)
	_, err = ks.FindByPrimaryKey(ctx, entry.ID, entry.UserID)
	assert.ErrorIs(t, err, database.ErrUnavailable)
	assert.EqualValues(t, 3, repo.calls.Load())
}

type flakyDeleteRepo struct {
	keystore.Repository
	calls atomic.Int32
}

func (r *flakyDeleteRepo) Delete(ctx context.Context, entryID uuid.UUID) (bool, error) {
	r.calls.Add(1)
	return false, &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}
}

func TestKeystore_ConsumeIsNotRetried(t *testing.T) {
	t.Parallel()

	_, client := newRedisClient(t)
	repo := &flakyDeleteRepo{Repository: keystore.NewRedisRepository(client, time.Hour)}
	ks := keystore.New(repo, keystore.WithRetryPolicy(fastRetry))
	ctx := context.Background()

	entry, err := ks.CreateEntry(ctx, uuid.New())
	require.NoError(t, err)

	err = ks.Consume(ctx, entry.ID)
	assert.ErrorIs(t, err, database.ErrUnavailable)
	assert.NotErrorIs(t, err, keystore.ErrNotFound)
	assert.EqualValues(t, 1, repo.calls.Load())

	repo.calls.Store(0)
	require.Error(t, ks.Invalidate(ctx, entry.ID))
	assert.EqualValues(t, 3, repo.calls.Load())
}

func TestKeystore_GeneratorFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("entropy exhausted")
	ks := keystore.New(keystore.NewBunRepository(dbtest.New(t)),
		keystore.WithSecretGenerator(func(int) (string, error) { return "", boom }))

	_, err := ks.CreateEntry(context.Background(), uuid.New())
	assert.ErrorIs(t, err, boom)
}

func TestKeystore_SecretBytes(t *testing.T) {
	t.Parallel()

	ks := keystore.New(keystore.NewBunRepository(dbtest.New(t)), keystore.WithSecretBytes(16))

	entry, err := ks.CreateEntry(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Len(t, entry.PrimarySecret, 32)
}
