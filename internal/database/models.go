package database

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the row shape of the users table.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID                      uuid.UUID   `bun:"id,pk"`
	Email                   string      `bun:"email,notnull,unique"`
	PasswordHash            string      `bun:"password_hash"`
	Source                  string      `bun:"source,notnull"`
	Roles                   []string    `bun:"roles,notnull"`
	Profile                 UserProfile `bun:"profile,notnull"`
	Verified                bool        `bun:"verified,notnull"`
	Active                  bool        `bun:"active,notnull"`
	EmailVerificationToken  *string     `bun:"email_verification_token"`
	EmailVerificationSentAt *time.Time  `bun:"email_verification_sent_at"`
	CreatedAt               time.Time   `bun:"created_at,notnull"`
	UpdatedAt               time.Time   `bun:"updated_at,notnull"`
}

// UserProfile is stored as a single JSON document.
type UserProfile struct {
	DisplayName   string          `json:"display_name,omitempty"`
	FirstName     string          `json:"first_name,omitempty"`
	LastName      string          `json:"last_name,omitempty"`
	ProfilePicURL string          `json:"profile_pic_url,omitempty"`
	Settings      json.RawMessage `json:"settings,omitempty"`
	Shortcuts     []string        `json:"shortcuts,omitempty"`
	Address       *UserAddress    `json:"address,omitempty"`
}

type UserAddress struct {
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
	Street  string `json:"street,omitempty"`
}

// KeystoreEntry is the row shape of the keystores table.
type KeystoreEntry struct {
	bun.BaseModel `bun:"table:keystores,alias:ks"`

	ID              uuid.UUID `bun:"id,pk"`
	UserID          uuid.UUID `bun:"user_id,notnull"`
	PrimarySecret   string    `bun:"primary_secret,notnull"`
	SecondarySecret string    `bun:"secondary_secret,notnull"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
}
