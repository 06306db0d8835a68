// Package models - user.go defines the User account and the single-use tokens used for email
// verification and password reset.
package models

import "time"

// User represents a dashboard account
type User struct {
	ID            string
	Email         string
	Name          string
	PasswordHash  *string // Nil for accounts that only sign in through an OIDC provider
	EmailVerified bool
	Image         *string
	OIDCProvider  *string
	OIDCSub       *string // OIDC subject identifier (unique per provider)
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasPassword reports whether the account can sign in with a password
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// Verification token purposes
const (
	TokenPurposeVerification  = "verification"
	TokenPurposeResetPassword = "reset-password"
)

// VerificationToken is a single-use emailed token. Only its SHA-256 digest is stored.
type VerificationToken struct {
	ID        string
	UserID    string
	Purpose   string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// IsUsable reports whether the token is unused and unexpired
func (t *VerificationToken) IsUsable(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}
