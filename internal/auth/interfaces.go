package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/redmonkez12/go-keystore-auth/internal/keystore"
	"github.com/redmonkez12/go-keystore-auth/internal/token"
	"github.com/redmonkez12/go-keystore-auth/internal/user"
)

// UserRepository is the identity store used by Service.
type UserRepository interface {
	Create(ctx context.Context, candidate user.Candidate, defaultRole string) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	GetByVerificationToken(ctx context.Context, token string) (*user.User, error)
	CheckIfTokenAlreadyUsed(ctx context.Context, token string) (bool, error)
	MarkEmailAsVerified(ctx context.Context, userID uuid.UUID) error
	UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error
	SetActive(ctx context.Context, userID uuid.UUID, active bool) error
	UpdateVerificationToken(ctx context.Context, userID uuid.UUID, token string) error
}

// SessionStore is implemented by *keystore.Keystore.
type SessionStore interface {
	CreateEntry(ctx context.Context, userID uuid.UUID) (*keystore.Entry, error)
	FindByPrimaryKey(ctx context.Context, entryID, userID uuid.UUID) (*keystore.Entry, error)
	Invalidate(ctx context.Context, entryID uuid.UUID) error
	Consume(ctx context.Context, entryID uuid.UUID) error
	InvalidateAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

// TokenIssuer is implemented by *token.Issuer.
type TokenIssuer interface {
	Issue(u *user.User, entry *keystore.Entry) (token.Pair, error)
	AccessTTL() time.Duration
	RefreshTTL() time.Duration
}

// TokenVerifier is implemented by *token.Verifier.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string, expected token.Kind) (*token.Claims, error)
}

// PasswordResetStore keeps one-time reset tokens.
type PasswordResetStore interface {
	StorePasswordResetToken(ctx context.Context, userID uuid.UUID, token string) error
	// ConsumePasswordResetToken returns the owner of token and deletes it.
	ConsumePasswordResetToken(ctx context.Context, token string) (uuid.UUID, error)
}

// EmailService defines the interface for email operations
type EmailService interface {
	SendVerificationEmail(ctx context.Context, toEmail, token string) error
	SendPasswordResetEmail(ctx context.Context, toEmail, token string) error
	SendPasswordChangedEmail(ctx context.Context, toEmail string) error
}
