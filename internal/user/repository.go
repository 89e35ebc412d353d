package user

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

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already exists")
	ErrNoRoles        = errors.New("user must have at least one role")
	ErrEmailRequired  = errors.New("email is required")
)

// Repository handles user data persistence
type Repository struct {
	db    bun.IDB
	now   func() time.Time
	newID func() uuid.UUID
	retry database.RetryPolicy
}

// RepositoryOption customizes a Repository.
type RepositoryOption func(*Repository)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) RepositoryOption {
	return func(r *Repository) {
		r.now = now
	}
}

// WithRetryPolicy overrides the policy applied to idempotent queries.
func WithRetryPolicy(p database.RetryPolicy) RepositoryOption {
	return func(r *Repository) {
		r.retry = p
	}
}

func NewRepository(db bun.IDB, opts ...RepositoryOption) *Repository {
	r := &Repository{
		db:    db,
		now:   time.Now,
		newID: uuid.New,
		retry: database.DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create inserts a new user. Uniqueness of the normalized email is enforced
// by the users_email_key constraint, so concurrent signups for one address
// yield exactly one row and ErrDuplicateEmail for the rest. The insert is not
// retried: a transient failure may hide a committed row.
func (r *Repository) Create(ctx context.Context, candidate Candidate, defaultRole string) (*User, error) {
	email := NormalizeEmail(candidate.Email)
	if email == "" {
		return nil, ErrEmailRequired
	}

	roles := candidate.Roles
	if len(roles) == 0 {
		if defaultRole == "" {
			return nil, ErrNoRoles
		}
		roles = []string{defaultRole}
	}

	source := candidate.Source
	if source == "" {
		source = SourceCustomDB
	}

	now := r.now().UTC()
	dbUser := &database.User{
		ID:                     r.newID(),
		Email:                  email,
		PasswordHash:           candidate.PasswordHash,
		Source:                 source,
		Roles:                  roles,
		Profile:                toDBProfile(normalizeProfile(candidate.Profile)),
		Verified:               false,
		Active:                 true,
		EmailVerificationToken: candidate.EmailVerificationToken,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if candidate.EmailVerificationToken != nil {
		dbUser.EmailVerificationSentAt = &now
	}

	_, err := r.db.NewInsert().
		Model(dbUser).
		Exec(ctx)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		if database.IsTransient(err) {
			return nil, fmt.Errorf("failed to create user: %w: %w", database.ErrUnavailable, err)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return mapDBUserToModel(dbUser), nil
}

// GetByEmail retrieves a user by normalized email
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.selectOne(ctx, "get user by email", func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("email = ?", NormalizeEmail(email))
	})
}

// GetByID retrieves a user by ID
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.selectOne(ctx, "get user by id", func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("id = ?", id)
	})
}

// GetByVerificationToken retrieves an unverified user by verification token
func (r *Repository) GetByVerificationToken(ctx context.Context, token string) (*User, error) {
	return r.selectOne(ctx, "get user by verification token", func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("email_verification_token = ?", token).
			Where("verified = ?", false)
	})
}

// CheckIfTokenAlreadyUsed checks if a verification token belongs to an
// already verified user
func (r *Repository) CheckIfTokenAlreadyUsed(ctx context.Context, token string) (bool, error) {
	var count int
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		count, err = r.db.NewSelect().
			Model((*database.User)(nil)).
			Where("email_verification_token = ?", token).
			Where("verified = ?", true).
			Count(ctx)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to check if token was used: %w", err)
	}

	return count > 0, nil
}

// MarkEmailAsVerified marks a user's email as verified and clears the sent
// timestamp. The token is kept so a reused link can be told apart from an
// unknown one.
func (r *Repository) MarkEmailAsVerified(ctx context.Context, userID uuid.UUID) error {
	return r.update(ctx, "mark email as verified", userID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("verified = ?", true).
			Set("email_verification_sent_at = ?", nil)
	})
}

// UpdatePassword updates a user's password hash
func (r *Repository) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	return r.update(ctx, "update password", userID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("password_hash = ?", passwordHash)
	})
}

// SetActive toggles the soft-deactivation flag.
func (r *Repository) SetActive(ctx context.Context, userID uuid.UUID, active bool) error {
	return r.update(ctx, "set active", userID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("active = ?", active)
	})
}

// UpdateVerificationToken regenerates verification token for resend
func (r *Repository) UpdateVerificationToken(ctx context.Context, userID uuid.UUID, token string) error {
	now := r.now().UTC()
	return r.update(ctx, "update verification token", userID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("email_verification_token = ?", token).
			Set("email_verification_sent_at = ?", now).
			Where("verified = ?", false)
	})
}

func (r *Repository) selectOne(ctx context.Context, op string, apply func(*bun.SelectQuery) *bun.SelectQuery) (*User, error) {
	dbUser := new(database.User)
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		return apply(r.db.NewSelect().Model(dbUser)).Limit(1).Scan(ctx)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}

	return mapDBUserToModel(dbUser), nil
}

func (r *Repository) update(ctx context.Context, op string, userID uuid.UUID, apply func(*bun.UpdateQuery) *bun.UpdateQuery) error {
	now := r.now().UTC()

	var rowsAffected int64
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		q := r.db.NewUpdate().
			Model((*database.User)(nil)).
			Set("updated_at = ?", now).
			Where("id = ?", userID)

		result, err := apply(q).Exec(ctx)
		if err != nil {
			return err
		}
		rowsAffected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// mapDBUserToModel converts database model to domain model
func mapDBUserToModel(dbu *database.User) *User {
	return &User{
		ID:                      dbu.ID,
		Email:                   dbu.Email,
		PasswordHash:            dbu.PasswordHash,
		Source:                  dbu.Source,
		Roles:                   dbu.Roles,
		Profile:                 fromDBProfile(dbu.Profile),
		Verified:                dbu.Verified,
		Active:                  dbu.Active,
		EmailVerificationToken:  dbu.EmailVerificationToken,
		EmailVerificationSentAt: dbu.EmailVerificationSentAt,
		CreatedAt:               dbu.CreatedAt,
		UpdatedAt:               dbu.UpdatedAt,
	}
}

func toDBProfile(p Profile) database.UserProfile {
	out := database.UserProfile{
		DisplayName:   p.DisplayName,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		ProfilePicURL: p.ProfilePicURL,
		Settings:      p.Settings,
		Shortcuts:     p.Shortcuts,
	}
	if p.Address != nil {
		out.Address = &database.UserAddress{
			City:    p.Address.City,
			Country: p.Address.Country,
			Street:  p.Address.Street,
		}
	}
	return out
}

func fromDBProfile(p database.UserProfile) Profile {
	out := Profile{
		DisplayName:   p.DisplayName,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		ProfilePicURL: p.ProfilePicURL,
		Settings:      p.Settings,
		Shortcuts:     p.Shortcuts,
	}
	if p.Address != nil {
		out.Address = &Address{
			City:    p.Address.City,
			Country: p.Address.Country,
			Street:  p.Address.Street,
		}
	}
	return out
}
