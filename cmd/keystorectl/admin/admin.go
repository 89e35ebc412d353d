// Package admin holds the operator tasks behind keystorectl.
package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/redmonkez12/go-keystore-auth/internal/password"
	"github.com/redmonkez12/go-keystore-auth/internal/user"
)

var ErrUserNotFound = errors.New("no user with that email")

// Users is the subset of user.Repository the admin tasks need.
type Users interface {
	Create(ctx context.Context, candidate user.Candidate, defaultRole string) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	SetActive(ctx context.Context, userID uuid.UUID, active bool) error
	MarkEmailAsVerified(ctx context.Context, userID uuid.UUID) error
}

// Sessions is the subset of keystore.Keystore the admin tasks need.
type Sessions interface {
	InvalidateAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
	PruneExpired(ctx context.Context) (int64, error)
}

// Admin runs account and session maintenance outside the HTTP API.
type Admin struct {
	users       Users
	sessions    Sessions
	hasher      password.Hasher
	defaultRole string
}

func New(users Users, sessions Sessions, hasher password.Hasher, defaultRole string) *Admin {
	return &Admin{
		users:       users,
		sessions:    sessions,
		hasher:      hasher,
		defaultRole: defaultRole,
	}
}

// CreateUser inserts an account. Accounts created here skip email
// verification when input.Verified is set.
func (a *Admin) CreateUser(ctx context.Context, input UserInput) (*user.User, error) {
	if err := ValidateUserInput(&input); err != nil {
		return nil, err
	}

	hash, err := a.hasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := a.users.Create(ctx, user.Candidate{
		Email:        input.Email,
		PasswordHash: hash,
		Roles:        input.Roles,
		Profile:      user.Profile{DisplayName: input.DisplayName},
	}, a.defaultRole)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	if input.Verified {
		if err := a.users.MarkEmailAsVerified(ctx, u.ID); err != nil {
			return nil, fmt.Errorf("mark verified: %w", err)
		}
		u.Verified = true
	}

	return u, nil
}

// DeactivateUser disables the account and ends all its sessions. It returns
// the number of sessions ended.
func (a *Admin) DeactivateUser(ctx context.Context, email string) (int64, error) {
	u, err := a.lookup(ctx, email)
	if err != nil {
		return 0, err
	}

	if err := a.users.SetActive(ctx, u.ID, false); err != nil {
		return 0, fmt.Errorf("deactivate user: %w", err)
	}

	n, err := a.sessions.InvalidateAllForUser(ctx, u.ID)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	return n, nil
}

// ActivateUser re-enables a deactivated account.
func (a *Admin) ActivateUser(ctx context.Context, email string) error {
	u, err := a.lookup(ctx, email)
	if err != nil {
		return err
	}

	if err := a.users.SetActive(ctx, u.ID, true); err != nil {
		return fmt.Errorf("activate user: %w", err)
	}
	return nil
}

// RevokeSessions ends every session of the account without disabling it.
func (a *Admin) RevokeSessions(ctx context.Context, email string) (int64, error) {
	u, err := a.lookup(ctx, email)
	if err != nil {
		return 0, err
	}

	n, err := a.sessions.InvalidateAllForUser(ctx, u.ID)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	return n, nil
}

// PruneSessions removes keystore entries past their lifetime.
func (a *Admin) PruneSessions(ctx context.Context) (int64, error) {
	n, err := a.sessions.PruneExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return n, nil
}

func (a *Admin) lookup(ctx context.Context, email string) (*user.User, error) {
	u, err := a.users.GetByEmail(ctx, user.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, email)
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}
