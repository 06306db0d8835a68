package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/rnblock/api-key-provider/internal/auth"
	"github.com/rnblock/api-key-provider/internal/auth/oidc"
	"github.com/rnblock/api-key-provider/internal/db/models"
	mailer "github.com/rnblock/api-key-provider/internal/mail"
)

const (
	verificationTokenTTL = 24 * time.Hour
	resetTokenTTL        = time.Hour
	emailTokenBytes      = 32
	maxDisplayNameLength = 100
)

var (
	// ErrEmailNotVerified is returned by password sign-in before the address is confirmed
	ErrEmailNotVerified = errors.New("email address is not verified")
	// ErrInvalidToken is returned for unknown, used or expired emailed tokens
	ErrInvalidToken = errors.New("invalid or expired token")
)

// UserStore persists accounts and their emailed tokens
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByOIDC(ctx context.Context, provider, sub string) (*models.User, error)
	LinkOIDCIdentity(ctx context.Context, userID, provider, sub string, emailVerified bool) error
	MarkEmailVerified(ctx context.Context, userID string) error
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
	CreateVerificationToken(ctx context.Context, token *models.VerificationToken) error
	GetVerificationToken(ctx context.Context, tokenHash, purpose string) (*models.VerificationToken, error)
	ConsumeVerificationToken(ctx context.Context, tokenID string) (bool, error)
}

// MailDispatcher hands a mail job to the configured transport
type MailDispatcher interface {
	Dispatch(ctx context.Context, msg *mailer.Message) error
}

// SendLimiter caps how much mail one account may trigger
type SendLimiter interface {
	Check(ctx context.Context, userID string) error
}

// WorkspaceCreator bootstraps a user's first organization
type WorkspaceCreator interface {
	CreateDefault(ctx context.Context, user *models.User) (*OrganizationView, error)
}

// SessionIssuer signs dashboard session tokens
type SessionIssuer interface {
	Issue(userID, email, name string) (string, time.Time, error)
}

// Session is a signed-in user with its bearer token
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"-"`
}

// SignUpResult reports a new account. Session is nil while verification is pending.
type SignUpResult struct {
	User             *models.User
	Session          *Session
	VerificationSent bool
}

// AccountOptions configures AccountService
type AccountOptions struct {
	PublicURL                string
	RequireEmailVerification bool
}

// AccountService handles email/password accounts and OIDC sign-in
type AccountService struct {
	users      UserStore
	workspaces WorkspaceCreator
	sessions   SessionIssuer
	mail       MailDispatcher
	limits     SendLimiter
	opts       AccountOptions
	now        func() time.Time
}

// NewAccountService creates an AccountService. limits may be nil.
func NewAccountService(users UserStore, workspaces WorkspaceCreator, sessions SessionIssuer, mail MailDispatcher, limits SendLimiter, opts AccountOptions) *AccountService {
	opts.PublicURL = strings.TrimRight(opts.PublicURL, "/")
	return &AccountService{
		users:      users,
		workspaces: workspaces,
		sessions:   sessions,
		mail:       mail,
		limits:     limits,
		opts:       opts,
		now:        time.Now,
	}
}

// SignUp creates a password account with a default workspace and emails a verification link
func (s *AccountService) SignUp(ctx context.Context, email, password, name string) (*SignUpResult, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if len(name) > maxDisplayNameLength {
		return nil, invalid("name", fmt.Sprintf("name must be at most %d characters", maxDisplayNameLength))
	}

	hash, err := auth.HashPassword(password)
	if errors.Is(err, auth.ErrPasswordLength) {
		return nil, invalid("password", err.Error())
	}
	if err != nil {
		return nil, err
	}

	existing, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: an account with this email already exists", ErrConflict)
	}

	user := &models.User{Email: email, Name: name, PasswordHash: &hash}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	slog.Info("account created", "user_id", user.ID)

	if _, err := s.workspaces.CreateDefault(ctx, user); err != nil {
		slog.Error("failed to create default workspace", "user_id", user.ID, "error", err)
	}

	result := &SignUpResult{User: user}
	if err := s.SendVerification(ctx, user); err != nil {
		slog.Warn("verification email not sent", "user_id", user.ID, "error", err)
	} else {
		result.VerificationSent = true
	}

	if !s.opts.RequireEmailVerification {
		if result.Session, err = s.issue(user); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// SignIn checks a password and issues a session
func (s *AccountService) SignIn(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.HasPassword() || !auth.CheckPassword(*user.PasswordHash, password) {
		return nil, ErrUnauthenticated
	}
	if s.opts.RequireEmailVerification && !user.EmailVerified {
		return nil, ErrEmailNotVerified
	}
	return s.issue(user)
}

// SendVerification emails a fresh verification link, subject to the send limits
func (s *AccountService) SendVerification(ctx context.Context, user *models.User) error {
	if user.EmailVerified {
		return nil
	}
	return s.sendToken(ctx, user, models.TokenPurposeVerification, verificationTokenTTL, mailer.TypeVerification,
		s.opts.PublicURL+"/api/auth/verify-email?token=")
}

// VerifyEmail consumes a verification token and marks the address verified
func (s *AccountService) VerifyEmail(ctx context.Context, token string) (*models.User, error) {
	t, err := s.consumeToken(ctx, token, models.TokenPurposeVerification)
	if err != nil {
		return nil, err
	}
	if err := s.users.MarkEmailVerified(ctx, t.UserID); err != nil {
		return nil, err
	}
	user, err := s.users.GetUserByID(ctx, t.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidToken
	}
	slog.Info("email verified", "user_id", user.ID)
	return user, nil
}

// RequestPasswordReset emails a reset link. Unknown addresses succeed silently so the
// endpoint does not reveal which emails have accounts.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		slog.Info("password reset requested for unknown email")
		return nil
	}
	return s.sendToken(ctx, user, models.TokenPurposeResetPassword, resetTokenTTL, mailer.TypeResetPassword,
		s.opts.PublicURL+"/reset-password?token=")
}

// ResetPassword consumes a reset token and replaces the password
func (s *AccountService) ResetPassword(ctx context.Context, token, newPassword string) error {
	hash, err := auth.HashPassword(newPassword)
	if errors.Is(err, auth.ErrPasswordLength) {
		return invalid("newPassword", err.Error())
	}
	if err != nil {
		return err
	}
	t, err := s.consumeToken(ctx, token, models.TokenPurposeResetPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePasswordHash(ctx, t.UserID, hash); err != nil {
		return err
	}
	// Receiving the reset mail proves ownership of the address
	if err := s.users.MarkEmailVerified(ctx, t.UserID); err != nil {
		return err
	}
	slog.Info("password reset", "user_id", t.UserID)
	return nil
}

// SignInWithOIDC finds or creates the account for a verified provider identity
func (s *AccountService) SignInWithOIDC(ctx context.Context, id *oidc.Identity) (*Session, error) {
	user, err := s.users.GetUserByOIDC(ctx, id.Provider, id.Subject)
	if err != nil {
		return nil, err
	}

	if user == nil {
		user, err = s.users.GetUserByEmail(ctx, id.Email)
		if err != nil {
			return nil, err
		}
		if user != nil {
			if !id.EmailVerified {
				return nil, fmt.Errorf("%w: provider email is not verified", ErrUnauthenticated)
			}
			if err := s.users.LinkOIDCIdentity(ctx, user.ID, id.Provider, id.Subject, id.EmailVerified); err != nil {
				return nil, err
			}
			slog.Info("linked OIDC identity", "user_id", user.ID, "provider", id.Provider)
		}
	}

	if user == nil {
		user = &models.User{
			Email:         id.Email,
			Name:          id.Name,
			EmailVerified: id.EmailVerified,
			OIDCProvider:  &id.Provider,
			OIDCSub:       &id.Subject,
		}
		if id.Picture != "" {
			user.Image = &id.Picture
		}
		if err := s.users.CreateUser(ctx, user); err != nil {
			return nil, err
		}
		slog.Info("account created", "user_id", user.ID, "provider", id.Provider)
		if _, err := s.workspaces.CreateDefault(ctx, user); err != nil {
			slog.Error("failed to create default workspace", "user_id", user.ID, "error", err)
		}
	}
	return s.issue(user)
}

// GetUser returns the account behind a session
func (s *AccountService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUnauthenticated
	}
	return user, nil
}

func (s *AccountService) issue(user *models.User) (*Session, error) {
	token, expiresAt, err := s.sessions.Issue(user.ID, user.Email, user.Name)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

func (s *AccountService) sendToken(ctx context.Context, user *models.User, purpose string, ttl time.Duration, mailType, linkBase string) error {
	if s.limits != nil {
		if err := s.limits.Check(ctx, user.ID); err != nil {
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}

	plaintext, digest, err := newEmailToken()
	if err != nil {
		return err
	}
	if err := s.users.CreateVerificationToken(ctx, &models.VerificationToken{
		UserID:    user.ID,
		Purpose:   purpose,
		TokenHash: digest,
		ExpiresAt: s.now().Add(ttl),
	}); err != nil {
		return err
	}

	return s.mail.Dispatch(ctx, &mailer.Message{
		Type:  mailType,
		To:    user.Email,
		Name:  user.Name,
		URL:   linkBase + url.QueryEscape(plaintext),
		Token: plaintext,
	})
}

func (s *AccountService) consumeToken(ctx context.Context, token, purpose string) (*models.VerificationToken, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	t, err := s.users.GetVerificationToken(ctx, digestEmailToken(token), purpose)
	if err != nil {
		return nil, err
	}
	if t == nil || !t.IsUsable(s.now()) {
		return nil, ErrInvalidToken
	}
	used, err := s.users.ConsumeVerificationToken(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if !used {
		return nil, ErrInvalidToken
	}
	return t, nil
}

func newEmailToken() (plaintext, digest string, err error) {
	b := make([]byte, emailTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}
	plaintext = base64.RawURLEncoding.EncodeToString(b)
	return plaintext, digestEmailToken(plaintext), nil
}

func digestEmailToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", invalid("email", "a valid email address is required")
	}
	return email, nil
}
