package keystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/redmonkez12/go-keystore-auth/internal/database"
)

// BunRepository handles keystore persistence in the keystores table
type BunRepository struct {
	db bun.IDB
}

func NewBunRepository(db bun.IDB) *BunRepository {
	return &BunRepository{db: db}
}

// Create stores both secrets in one INSERT
func (r *BunRepository) Create(ctx context.Context, entry *Entry) error {
	_, err := r.db.NewInsert().
		Model(toDBEntry(entry)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to store keystore entry: %w", err)
	}

	return nil
}

// FindByPrimaryKey retrieves an entry by id and owner
func (r *BunRepository) FindByPrimaryKey(ctx context.Context, entryID, userID uuid.UUID) (*Entry, error) {
	dbEntry := new(database.KeystoreEntry)
	err := r.db.NewSelect().
		Model(dbEntry).
		Where("id = ?", entryID).
		Where("user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get keystore entry: %w", err)
	}

	return mapDBEntryToModel(dbEntry), nil
}

// Delete removes a single entry
func (r *BunRepository) Delete(ctx context.Context, entryID uuid.UUID) (bool, error) {
	result, err := r.db.NewDelete().
		Model((*database.KeystoreEntry)(nil)).
		Where("id = ?", entryID).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to delete keystore entry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// DeleteAllForUser removes every entry of a user
func (r *BunRepository) DeleteAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	result, err := r.db.NewDelete().
		Model((*database.KeystoreEntry)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user keystore entries: %w", err)
	}

	return result.RowsAffected()
}

// DeleteCreatedBefore removes entries older than cutoff.
// Should be run periodically (e.g., keystorectl sessions prune)
func (r *BunRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.NewDelete().
		Model((*database.KeystoreEntry)(nil)).
		Where("created_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to prune keystore entries: %w", err)
	}

	return result.RowsAffected()
}

func toDBEntry(e *Entry) *database.KeystoreEntry {
	return &database.KeystoreEntry{
		ID:              e.ID,
		UserID:          e.UserID,
		PrimarySecret:   e.PrimarySecret,
		SecondarySecret: e.SecondarySecret,
		CreatedAt:       e.CreatedAt,
	}
}

// mapDBEntryToModel converts database model to domain model
func mapDBEntryToModel(dbe *database.KeystoreEntry) *Entry {
	return &Entry{
		ID:              dbe.ID,
		UserID:          dbe.UserID,
		PrimarySecret:   dbe.PrimarySecret,
		SecondarySecret: dbe.SecondarySecret,
		CreatedAt:       dbe.CreatedAt,
	}
}
