package keystore

import (
	"time"

	"github.com/google/uuid"
)

// Entry holds the two signing secrets of one session. Access tokens are
// signed with PrimarySecret and refresh tokens with SecondarySecret. Entries
// are never updated; rotation deletes the entry and creates a new one.
type Entry struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	PrimarySecret   string
	SecondarySecret string
	CreatedAt       time.Time
}
