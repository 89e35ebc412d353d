package user

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role codes understood by the default role registry.
const (
	RoleLearner = "LEARNER"
	RoleWriter  = "WRITER"
	RoleEditor  = "EDITOR"
	RoleAdmin   = "ADMIN"
)

// SourceCustomDB marks accounts created through password signup.
const SourceCustomDB = "custom-db"

type User struct {
	ID                      uuid.UUID
	Email                   string
	PasswordHash            string
	Source                  string
	Roles                   []string
	Profile                 Profile
	Verified                bool
	Active                  bool
	EmailVerificationToken  *string
	EmailVerificationSentAt *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Profile is display data carried alongside the identity. It is stored and
// returned as-is.
type Profile struct {
	DisplayName   string          `json:"display_name,omitempty"`
	FirstName     string          `json:"first_name,omitempty"`
	LastName      string          `json:"last_name,omitempty"`
	ProfilePicURL string          `json:"profile_pic_url,omitempty"`
	Settings      json.RawMessage `json:"settings,omitempty"`
	Shortcuts     []string        `json:"shortcuts,omitempty"`
	Address       *Address        `json:"address,omitempty"`
}

type Address struct {
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
	Street  string `json:"street,omitempty"`
}

// Candidate is the input to Repository.Create.
type Candidate struct {
	Email                  string
	PasswordHash           string
	Source                 string
	Roles                  []string
	Profile                Profile
	EmailVerificationToken *string
}

// NormalizeEmail trims surrounding whitespace and lower-cases the address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeProfile(p Profile) Profile {
	p.DisplayName = strings.TrimSpace(p.DisplayName)
	p.ProfilePicURL = strings.TrimSpace(p.ProfilePicURL)

	if len(p.Shortcuts) > 0 {
		shortcuts := make([]string, 0, len(p.Shortcuts))
		for _, s := range p.Shortcuts {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				shortcuts = append(shortcuts, s)
			}
		}
		p.Shortcuts = shortcuts
	}

	return p
}
