// Package repositories implements the data access layer (repository pattern) for the key provider.
// Each repository type encapsulates all database queries for a domain entity.
// Handlers never issue SQL directly; all database access goes through this layer, which makes query logic testable in isolation.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rnblock/api-key-provider/internal/db/models"
)

const userColumns = `id, email, name, password_hash, email_verified, image, oidc_provider, oidc_sub, created_at, updated_at`

// UserRepository handles user database operations
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.EmailVerified,
		&user.Image,
		&user.OIDCProvider,
		&user.OIDCSub,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) getOne(ctx context.Context, where string, args ...interface{}) (*models.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// CreateUser creates a new user. Email addresses are stored lower-cased.
func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	user.ID = uuid.New().String()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt

	query := `
		INSERT INTO users (id, email, name, password_hash, email_verified, image, oidc_provider, oidc_sub, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		user.PasswordHash,
		user.EmailVerified,
		user.Image,
		user.OIDCProvider,
		user.OIDCSub,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by ID
func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	return r.getOne(ctx, `id = $1`, userID)
}

// GetUserByEmail retrieves a user by email, case-insensitively
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, `email = $1`, strings.ToLower(strings.TrimSpace(email)))
}

// GetUserByOIDC retrieves a user by provider and subject identifier
func (r *UserRepository) GetUserByOIDC(ctx context.Context, provider, sub string) (*models.User, error) {
	return r.getOne(ctx, `oidc_provider = $1 AND oidc_sub = $2`, provider, sub)
}

// LinkOIDCIdentity attaches a provider identity to an existing account. A verified provider email
// also marks the account verified.
func (r *UserRepository) LinkOIDCIdentity(ctx context.Context, userID, provider, sub string, emailVerified bool) error {
	query := `
		UPDATE users
		SET oidc_provider = $2, oidc_sub = $3, email_verified = email_verified OR $4, updated_at = $5
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, userID, provider, sub, emailVerified, time.Now())
	if err != nil {
		return fmt.Errorf("failed to link OIDC identity: %w", err)
	}
	return nil
}

// MarkEmailVerified flags the account's email address as verified
func (r *UserRepository) MarkEmailVerified(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET email_verified = true, updated_at = $2 WHERE id = $1`,
		userID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark email verified: %w", err)
	}
	return nil
}

// UpdatePasswordHash replaces the account password hash
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		userID, passwordHash, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// ListUsersWithoutOrganization returns every user that has no organization membership
func (r *UserRepository) ListUsersWithoutOrganization(ctx context.Context) ([]*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users u
		WHERE NOT EXISTS (SELECT 1 FROM organization_members om WHERE om.user_id = u.id)
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users without organization: %w", err)
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// CreateVerificationToken stores the digest of an emailed token
func (r *UserRepository) CreateVerificationToken(ctx context.Context, token *models.VerificationToken) error {
	token.ID = uuid.New().String()
	token.CreatedAt = time.Now()

	query := `
		INSERT INTO verification_tokens (id, user_id, purpose, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		token.ID, token.UserID, token.Purpose, token.TokenHash, token.ExpiresAt, token.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create verification token: %w", err)
	}
	return nil
}

// GetVerificationToken retrieves a token by digest and purpose
func (r *UserRepository) GetVerificationToken(ctx context.Context, tokenHash, purpose string) (*models.VerificationToken, error) {
	query := `
		SELECT id, user_id, purpose, token_hash, expires_at, used_at, created_at
		FROM verification_tokens
		WHERE token_hash = $1 AND purpose = $2
	`

	t := &models.VerificationToken{}
	err := r.db.QueryRowContext(ctx, query, tokenHash, purpose).Scan(
		&t.ID, &t.UserID, &t.Purpose, &t.TokenHash, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get verification token: %w", err)
	}
	return t, nil
}

// ConsumeVerificationToken marks a token used. It returns false when another request used it first.
func (r *UserRepository) ConsumeVerificationToken(ctx context.Context, tokenID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE verification_tokens SET used_at = $2 WHERE id = $1 AND used_at IS NULL`,
		tokenID, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to consume verification token: %w", err)
	}
	return rowsChanged(res)
}
