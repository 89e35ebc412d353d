package user

import (
	"time"

	"github.com/google/uuid"
)

// View is the read shape handed to API callers. It never carries the
// password hash; the email is present only when explicitly requested.
type View struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email,omitempty"`
	Roles     []string  `json:"roles"`
	Profile   Profile   `json:"profile"`
	Verified  bool      `json:"verified"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type viewOptions struct {
	includeEmail bool
}

// ViewOption customizes NewView.
type ViewOption func(*viewOptions)

// WithEmail includes the primary email in the view.
func WithEmail() ViewOption {
	return func(o *viewOptions) {
		o.includeEmail = true
	}
}

func NewView(u *User, opts ...ViewOption) View {
	var o viewOptions
	for _, opt := range opts {
		opt(&o)
	}

	roles := make([]string, len(u.Roles))
	copy(roles, u.Roles)

	v := View{
		ID:        u.ID,
		Roles:     roles,
		Profile:   u.Profile,
		Verified:  u.Verified,
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
	if o.includeEmail {
		v.Email = u.Email
	}
	return v
}
