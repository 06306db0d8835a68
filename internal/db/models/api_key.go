// Package models defines the database model types for the key provider.
// Each type corresponds to a database table; the sqlx-backed types carry db tags for row scanning.
// Models are pure data types: business logic belongs in the service layer, query logic belongs in the repositories layer.
package models

import "time"

// API key environments
const (
	EnvironmentProduction = "production"
	EnvironmentTest       = "test"
)

// APIKey represents an issued API key. Only the peppered digest of the secret is stored.
type APIKey struct {
	ID             string
	OrganizationID string
	CreatedBy      *string // User who issued the key; cleared if the user is deleted
	KeyName        string
	KeyHash        string  // Hex SHA-256 of secret+pepper
	KeyPrefix      string  // "sk_live" or "sk_test"
	KeyHint        *string // Last 4 characters of the secret
	Scopes         []string
	Environment    string
	DailyQuota     *int
	MonthlyQuota   *int
	DailyUsed      int
	MonthlyUsed    int
	IsActive       bool
	RevokedAt      *time.Time
	RevokedReason  *string
	LastUsedAt     *time.Time
	LastUsedIP     *string
	ExpiresAt      *time.Time
	// ExpiryNotificationSentAt is set once the expiry warning email has been sent
	ExpiryNotificationSentAt *time.Time
	CreatedAt                time.Time
	UpdatedAt                time.Time
	// Joined fields (not stored in api_keys table)
	CreatedByName *string
}

// IsExpired reports whether the key has an expiry at or before now
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// IsUsable reports whether the key may authenticate a request
func (k *APIKey) IsUsable(now time.Time) bool {
	return k.IsActive && !k.IsExpired(now)
}

// QuotaExceeded reports whether either usage counter has reached its quota
func (k *APIKey) QuotaExceeded() bool {
	if k.DailyQuota != nil && k.DailyUsed >= *k.DailyQuota {
		return true
	}
	return k.MonthlyQuota != nil && k.MonthlyUsed >= *k.MonthlyQuota
}

// QuotaPatch describes a change to a nullable quota column. A patch with Set=false leaves the
// column untouched; Set=true with a nil Value clears it.
type QuotaPatch struct {
	Set   bool
	Value *int
}

// APIKeyPatch holds the mutable fields of an API key. Nil fields are left unchanged.
type APIKeyPatch struct {
	KeyName      *string
	Scopes       []string
	DailyQuota   QuotaPatch
	MonthlyQuota QuotaPatch
}

// IsEmpty reports whether the patch changes nothing
func (p *APIKeyPatch) IsEmpty() bool {
	return p.KeyName == nil && p.Scopes == nil && !p.DailyQuota.Set && !p.MonthlyQuota.Set
}
