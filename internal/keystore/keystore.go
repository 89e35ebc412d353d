// Package keystore manages per-session signing secrets. Deleting an entry
// revokes every token that was signed with it.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/redmonkez12/go-keystore-auth/internal/database"
	"github.com/redmonkez12/go-keystore-auth/internal/secret"
)

var ErrNotFound = errors.New("keystore entry not found")

// DefaultLifetime matches the default refresh token lifetime.
const DefaultLifetime = 7 * 24 * time.Hour

// Repository is the storage backend for entries.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	// FindByPrimaryKey returns ErrNotFound when the entry is missing or owned
	// by someone other than userID.
	FindByPrimaryKey(ctx context.Context, entryID, userID uuid.UUID) (*Entry, error)
	// Delete reports whether a row was removed.
	Delete(ctx context.Context, entryID uuid.UUID) (bool, error)
	DeleteAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Keystore struct {
	repo        Repository
	generate    secret.Generator
	secretBytes int
	lifetime    time.Duration
	now         func() time.Time
	newID       func() uuid.UUID
	retry       database.RetryPolicy
}

type Option func(*Keystore)

// WithSecretBytes sets how many random bytes back each secret.
func WithSecretBytes(n int) Option {
	return func(k *Keystore) {
		if n > 0 {
			k.secretBytes = n
		}
	}
}

// WithLifetime sets the age after which PruneExpired removes an entry.
func WithLifetime(d time.Duration) Option {
	return func(k *Keystore) {
		if d > 0 {
			k.lifetime = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(k *Keystore) {
		k.now = now
	}
}

func WithSecretGenerator(g secret.Generator) Option {
	return func(k *Keystore) {
		k.generate = g
	}
}

func WithRetryPolicy(p database.RetryPolicy) Option {
	return func(k *Keystore) {
		k.retry = p
	}
}

func New(repo Repository, opts ...Option) *Keystore {
	k := &Keystore{
		repo:        repo,
		generate:    secret.Generate,
		secretBytes: secret.DefaultLength,
		lifetime:    DefaultLifetime,
		now:         time.Now,
		newID:       uuid.New,
		retry:       database.DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// CreateEntry generates a fresh secret pair for userID and persists it in a
// single write.
func (k *Keystore) CreateEntry(ctx context.Context, userID uuid.UUID) (*Entry, error) {
	primary, err := k.generate(k.secretBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate primary secret: %w", err)
	}
	secondary, err := k.generate(k.secretBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate secondary secret: %w", err)
	}

	entry := &Entry{
		ID:              k.newID(),
		UserID:          userID,
		PrimarySecret:   primary,
		SecondarySecret: secondary,
		CreatedAt:       k.now().UTC(),
	}

	if err := k.repo.Create(ctx, entry); err != nil {
		if database.IsTransient(err) || isContextErr(err) {
			return nil, fmt.Errorf("%w: %w", database.ErrUnavailable, err)
		}
		return nil, err
	}

	return entry, nil
}

// FindByPrimaryKey loads an entry scoped to its owner.
func (k *Keystore) FindByPrimaryKey(ctx context.Context, entryID, userID uuid.UUID) (*Entry, error) {
	var entry *Entry
	err := k.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		entry, err = k.repo.FindByPrimaryKey(ctx, entryID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Invalidate deletes an entry. A missing entry is not an error.
func (k *Keystore) Invalidate(ctx context.Context, entryID uuid.UUID) error {
	_, err := k.delete(ctx, entryID)
	return err
}

// Consume deletes an entry and returns ErrNotFound when it was already gone,
// so that only one of several concurrent callers wins. The delete is not
// retried: a retry after a lost reply would see the row already gone and
// report ErrNotFound for a consume that succeeded.
func (k *Keystore) Consume(ctx context.Context, entryID uuid.UUID) error {
	deleted, err := k.repo.Delete(ctx, entryID)
	if err != nil {
		if database.IsTransient(err) || isContextErr(err) {
			return fmt.Errorf("%w: %w", database.ErrUnavailable, err)
		}
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}

// InvalidateAllForUser deletes every entry owned by userID and returns how
// many were removed.
func (k *Keystore) InvalidateAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := k.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		n, err = k.repo.DeleteAllForUser(ctx, userID)
		return err
	})
	return n, err
}

// PruneExpired removes entries older than the configured lifetime.
func (k *Keystore) PruneExpired(ctx context.Context) (int64, error) {
	cutoff := k.now().UTC().Add(-k.lifetime)

	var n int64
	err := k.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		n, err = k.repo.DeleteCreatedBefore(ctx, cutoff)
		return err
	})
	return n, err
}

func (k *Keystore) delete(ctx context.Context, entryID uuid.UUID) (bool, error) {
	var deleted bool
	err := k.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		deleted, err = k.repo.Delete(ctx, entryID)
		return err
	})
	return deleted, err
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
