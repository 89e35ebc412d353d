package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"

	"github.com/redmonkez12/go-keystore-auth/internal/database"
	"github.com/redmonkez12/go-keystore-auth/internal/keystore"
	"github.com/redmonkez12/go-keystore-auth/internal/logging"
	"github.com/redmonkez12/go-keystore-auth/internal/password"
	"github.com/redmonkez12/go-keystore-auth/internal/secret"
	"github.com/redmonkez12/go-keystore-auth/internal/token"
	"github.com/redmonkez12/go-keystore-auth/internal/user"
)

const (
	minPasswordLength = 8
	// bcrypt ignores everything past 72 bytes.
	maxPasswordBytes = 72
	maxEmailLength   = 254

	DefaultVerificationTTL = 24 * time.Hour
)

// dummyPassword is hashed once and compared against on unknown-email logins.
const dummyPassword = "keystore-auth-timing-equalizer"

// Deps are the collaborators of Service.
type Deps struct {
	Users    UserRepository
	Sessions SessionStore
	Issuer   TokenIssuer
	Verifier TokenVerifier
	Hasher   password.Hasher
	Resets   PasswordResetStore
	Email    EmailService
	Logger   *logging.Logger

	// DefaultRole is assigned when signup does not specify roles.
	DefaultRole     string
	VerificationTTL time.Duration
	Now             func() time.Time
}

// Service handles authentication business logic
type Service struct {
	users           UserRepository
	sessions        SessionStore
	issuer          TokenIssuer
	verifier        TokenVerifier
	hasher          password.Hasher
	resets          PasswordResetStore
	email           EmailService
	logger          *logging.Logger
	defaultRole     string
	verificationTTL time.Duration
	now             func() time.Time

	dummyOnce sync.Once
	dummyHash string

	mailers sync.WaitGroup
}

func NewService(d Deps) *Service {
	s := &Service{
		users:           d.Users,
		sessions:        d.Sessions,
		issuer:          d.Issuer,
		verifier:        d.Verifier,
		hasher:          d.Hasher,
		resets:          d.Resets,
		email:           d.Email,
		logger:          d.Logger,
		defaultRole:     d.DefaultRole,
		verificationTTL: d.VerificationTTL,
		now:             d.Now,
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	if s.defaultRole == "" {
		s.defaultRole = user.RoleLearner
	}
	if s.verificationTTL <= 0 {
		s.verificationTTL = DefaultVerificationTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Wait blocks until all background email sends have finished.
func (s *Service) Wait() {
	s.mailers.Wait()
}

// Signup creates a new user account, opens a session and sends the
// verification email in the background.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*Session, error) {
	email := user.NormalizeEmail(in.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, s.internal("hash password", err)
	}

	verificationToken, err := secret.URLToken()
	if err != nil {
		return nil, s.internal("generate verification token", err)
	}

	newUser, err := s.users.Create(ctx, user.Candidate{
		Email:                  email,
		PasswordHash:           passwordHash,
		Source:                 user.SourceCustomDB,
		Profile:                in.Profile,
		EmailVerificationToken: &verificationToken,
	}, s.defaultRole)
	if err != nil {
		if errors.Is(err, user.ErrDuplicateEmail) {
			return nil, ErrDuplicateIdentity
		}
		return nil, s.internal("create user", err)
	}

	session, err := s.startSession(ctx, newUser)
	if err != nil {
		return nil, err
	}

	s.sendAsync("verification", email, func(ctx context.Context) error {
		return s.email.SendVerificationEmail(ctx, email, verificationToken)
	})

	return session, nil
}

// Login authenticates a user and opens a new session. Unknown emails and
// wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, plain string) (*Session, error) {
	email = user.NormalizeEmail(email)
	if email == "" || plain == "" {
		return nil, ErrInvalidCredentials
	}

	existingUser, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			s.hasher.Verify(plain, s.timingHash())
			return nil, ErrInvalidCredentials
		}
		return nil, s.internal("get user", err)
	}

	if existingUser.PasswordHash == "" {
		s.hasher.Verify(plain, s.timingHash())
		return nil, ErrInvalidCredentials
	}
	if !s.hasher.Verify(plain, existingUser.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	if !existingUser.Active {
		return nil, ErrAccountDisabled
	}

	return s.startSession(ctx, existingUser)
}

// Refresh exchanges a refresh token for a new session. The old keystore
// entry is consumed, so replaying the same refresh token fails with
// token.ErrUnknownSession.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	claims, err := s.verifier.Verify(ctx, strings.TrimSpace(refreshToken), token.KindRefresh)
	if err != nil {
		return nil, s.tokenError(err)
	}

	existingUser, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, token.ErrUnknownSession
		}
		return nil, s.internal("get user", err)
	}
	if !existingUser.Active {
		return nil, ErrAccountDisabled
	}

	if err := s.sessions.Consume(ctx, claims.KeystoreID); err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			return nil, token.ErrUnknownSession
		}
		return nil, s.internal("consume keystore entry", err)
	}

	return s.startSession(ctx, existingUser)
}

// Authenticate verifies an access token against its live keystore entry.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*token.Claims, error) {
	claims, err := s.verifier.Verify(ctx, strings.TrimSpace(accessToken), token.KindAccess)
	if err != nil {
		return nil, s.tokenError(err)
	}
	return claims, nil
}

// Logout invalidates the session the access token belongs to.
func (s *Service) Logout(ctx context.Context, accessToken string) error {
	claims, err := s.Authenticate(ctx, accessToken)
	if err != nil {
		return err
	}
	return s.LogoutEntry(ctx, claims.Subject, claims.KeystoreID)
}

// LogoutEntry invalidates entryID if userID owns it. Unknown entries are a
// no-op.
func (s *Service) LogoutEntry(ctx context.Context, userID, entryID uuid.UUID) error {
	if _, err := s.sessions.FindByPrimaryKey(ctx, entryID, userID); err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			return nil
		}
		return s.internal("find keystore entry", err)
	}

	if err := s.sessions.Invalidate(ctx, entryID); err != nil {
		return s.internal("invalidate keystore entry", err)
	}
	return nil
}

// LogoutAll revokes every session of userID.
func (s *Service) LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.sessions.InvalidateAllForUser(ctx, userID)
	if err != nil {
		return 0, s.internal("invalidate sessions", err)
	}
	return n, nil
}

// ChangePassword replaces the password after checking the current one and
// revokes every session of the user.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	if err := validatePassword(next); err != nil {
		return err
	}

	existingUser, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return ErrUserNotFound
		}
		return s.internal("get user", err)
	}

	if existingUser.PasswordHash == "" || !s.hasher.Verify(current, existingUser.PasswordHash) {
		return ErrInvalidCredentials
	}

	if err := s.replacePassword(ctx, userID, next); err != nil {
		return err
	}

	email := existingUser.Email
	s.sendAsync("password changed", email, func(ctx context.Context) error {
		return s.email.SendPasswordChangedEmail(ctx, email)
	})

	return nil
}

// RequestPasswordReset initiates the password reset process
// Always returns nil to prevent email enumeration attacks
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = user.NormalizeEmail(email)

	existingUser, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			s.logger.Warn("failed to get user for password reset", "error", err)
		}
		return nil
	}
	if !existingUser.Active {
		return nil
	}

	resetToken, err := secret.URLToken()
	if err != nil {
		s.logger.Warn("failed to generate password reset token", "error", err)
		return nil
	}

	if err := s.resets.StorePasswordResetToken(ctx, existingUser.ID, resetToken); err != nil {
		s.logger.Warn("failed to store password reset token", "error", err)
		return nil
	}

	s.sendAsync("password reset", email, func(ctx context.Context) error {
		return s.email.SendPasswordResetEmail(ctx, email, resetToken)
	})

	return nil
}

// ResetPassword sets a new password using a one-time reset token and revokes
// every session of the user.
func (s *Service) ResetPassword(ctx context.Context, resetToken, next string) error {
	if err := validatePassword(next); err != nil {
		return err
	}
	if resetToken == "" {
		return ErrPasswordResetTokenNotFound
	}

	userID, err := s.resets.ConsumePasswordResetToken(ctx, resetToken)
	if err != nil {
		if errors.Is(err, ErrPasswordResetTokenNotFound) {
			return ErrPasswordResetTokenNotFound
		}
		return s.internal("consume password reset token", err)
	}

	if err := s.replacePassword(ctx, userID, next); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrPasswordResetTokenNotFound
		}
		return err
	}

	return nil
}

// VerifyEmail verifies a user's email using the verification token
func (s *Service) VerifyEmail(ctx context.Context, verificationToken string) error {
	if verificationToken == "" {
		return ErrInvalidVerificationToken
	}

	existingUser, err := s.users.GetByVerificationToken(ctx, verificationToken)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			alreadyVerified, checkErr := s.users.CheckIfTokenAlreadyUsed(ctx, verificationToken)
			if checkErr == nil && alreadyVerified {
				return ErrEmailAlreadyVerified
			}
			return ErrInvalidVerificationToken
		}
		return s.internal("find user by verification token", err)
	}

	if existingUser.EmailVerificationSentAt == nil {
		return ErrTokenExpired
	}
	if s.now().After(existingUser.EmailVerificationSentAt.Add(s.verificationTTL)) {
		return ErrTokenExpired
	}

	if err := s.users.MarkEmailAsVerified(ctx, existingUser.ID); err != nil {
		return s.internal("verify email", err)
	}

	return nil
}

// ResendVerificationEmail sends a new verification email to the user
// Always returns nil to prevent email enumeration attacks
func (s *Service) ResendVerificationEmail(ctx context.Context, email string) error {
	email = user.NormalizeEmail(email)

	existingUser, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			s.logger.Warn("failed to get user for resend verification", "error", err)
		}
		return nil
	}

	if existingUser.Verified {
		return nil
	}

	verificationToken, err := secret.URLToken()
	if err != nil {
		s.logger.Warn("failed to generate verification token", "error", err)
		return nil
	}

	if err := s.users.UpdateVerificationToken(ctx, existingUser.ID, verificationToken); err != nil {
		s.logger.Warn("failed to update verification token", "error", err)
		return nil
	}

	s.sendAsync("verification", email, func(ctx context.Context) error {
		return s.email.SendVerificationEmail(ctx, email, verificationToken)
	})

	return nil
}

// Deactivate disables the account and revokes all of its sessions. The user
// row is kept.
func (s *Service) Deactivate(ctx context.Context, userID uuid.UUID) error {
	if err := s.users.SetActive(ctx, userID, false); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return ErrUserNotFound
		}
		return s.internal("deactivate user", err)
	}

	if _, err := s.sessions.InvalidateAllForUser(ctx, userID); err != nil {
		return s.internal("invalidate sessions", err)
	}
	return nil
}

// Me returns the caller's own view, email included.
func (s *Service) Me(ctx context.Context, userID uuid.UUID) (user.View, error) {
	existingUser, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.View{}, ErrUserNotFound
		}
		return user.View{}, s.internal("get user", err)
	}
	return user.NewView(existingUser, user.WithEmail()), nil
}

// startSession creates a keystore entry for u and issues a token pair bound
// to it.
func (s *Service) startSession(ctx context.Context, u *user.User) (*Session, error) {
	entry, err := s.sessions.CreateEntry(ctx, u.ID)
	if err != nil {
		return nil, s.internal("create keystore entry", err)
	}

	pair, err := s.issuer.Issue(u, entry)
	if err != nil {
		if invErr := s.sessions.Invalidate(ctx, entry.ID); invErr != nil {
			s.logger.Warn("failed to remove unused keystore entry", "keystore_id", entry.ID, "error", invErr)
		}
		return nil, s.internal("issue tokens", err)
	}

	return &Session{
		User: user.NewView(u),
		AuthTokens: AuthTokens{
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			TokenType:    "Bearer",
			ExpiresIn:    int64(s.issuer.AccessTTL().Seconds()),
		},
		KeystoreID: pair.KeystoreID,
	}, nil
}

func (s *Service) replacePassword(ctx context.Context, userID uuid.UUID, next string) error {
	passwordHash, err := s.hasher.Hash(next)
	if err != nil {
		return s.internal("hash password", err)
	}

	if err := s.users.UpdatePassword(ctx, userID, passwordHash); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return ErrUserNotFound
		}
		return s.internal("update password", err)
	}

	if _, err := s.sessions.InvalidateAllForUser(ctx, userID); err != nil {
		return s.internal("invalidate sessions", err)
	}
	return nil
}

func (s *Service) timingHash() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			s.logger.Warn("failed to build timing hash", "error", err)
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

// sendAsync runs send in the background with a context detached from the
// request.
func (s *Service) sendAsync(kind, email string, send func(ctx context.Context) error) {
	s.mailers.Add(1)
	go func() {
		defer s.mailers.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := send(ctx); err != nil {
			s.logger.Warn("failed to send email", "kind", kind, "email", email, "error", err)
		}
	}()
}

// tokenError passes token rejections through and maps keystore outages.
func (s *Service) tokenError(err error) error {
	if token.IsTokenError(err) {
		return err
	}
	return s.internal("verify token", err)
}

// internal hides lower-layer errors behind ErrStoreUnavailable or
// ErrInternal. The cause is kept in the message only.
func (s *Service) internal(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrInternal, err)
}

func isUnavailable(err error) bool {
	return errors.Is(err, database.ErrUnavailable) ||
		errors.Is(err, token.ErrStoreUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func validateEmail(email string) error {
	if email == "" {
		return ErrEmailRequired
	}
	if len(email) > maxEmailLength {
		return ErrInvalidEmailFormat
	}
	if err := validation.Validate(email, is.Email); err != nil {
		return ErrInvalidEmailFormat
	}
	return nil
}

func validatePassword(plain string) error {
	switch {
	case plain == "":
		return ErrPasswordRequired
	case len(plain) < minPasswordLength:
		return ErrPasswordTooShort
	case len(plain) > maxPasswordBytes:
		return ErrPasswordTooLong
	}
	return nil
}
