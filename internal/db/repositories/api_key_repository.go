// api_key_repository.go implements APIKeyRepository, providing database queries for API key
// lookup by digest, creation, revocation, partial updates, usage counters and expiry scans.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rnblock/api-key-provider/internal/db/models"
)

const apiKeyColumns = `id, organization_id, created_by, key_name, key_hash, key_prefix, key_hint, scopes,
		environment, daily_quota, monthly_quota, daily_used, monthly_used, is_active, revoked_at,
		revoked_reason, last_used_at, last_used_ip, expires_at, expiry_notification_sent_at,
		created_at, updated_at`

// APIKeyRepository handles API key database operations
type APIKeyRepository struct {
	db *sql.DB
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// scanAPIKey reads the apiKeyColumns projection plus any extra destinations
func scanAPIKey(row rowScanner, extra ...interface{}) (*models.APIKey, error) {
	k := &models.APIKey{}
	var scopesJSON []byte

	dest := []interface{}{
		&k.ID, &k.OrganizationID, &k.CreatedBy, &k.KeyName, &k.KeyHash, &k.KeyPrefix, &k.KeyHint,
		&scopesJSON, &k.Environment, &k.DailyQuota, &k.MonthlyQuota, &k.DailyUsed, &k.MonthlyUsed,
		&k.IsActive, &k.RevokedAt, &k.RevokedReason, &k.LastUsedAt, &k.LastUsedIP, &k.ExpiresAt,
		&k.ExpiryNotificationSentAt, &k.CreatedAt, &k.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	// Unmarshal scopes from JSONB
	if err := json.Unmarshal(scopesJSON, &k.Scopes); err != nil {
		return nil, fmt.Errorf("failed to decode scopes for key %s: %w", k.ID, err)
	}
	return k, nil
}

// CreateAPIKey inserts a new API key. ID, timestamps and is_active are assigned here.
func (r *APIKeyRepository) CreateAPIKey(ctx context.Context, apiKey *models.APIKey) error {
	if apiKey.ID == "" {
		apiKey.ID = uuid.New().String()
	}
	now := time.Now()
	apiKey.CreatedAt = now
	apiKey.UpdatedAt = now
	apiKey.IsActive = true

	// Marshal scopes to JSONB
	scopesJSON, err := json.Marshal(apiKey.Scopes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO api_keys (id, organization_id, created_by, key_name, key_hash, key_prefix, key_hint,
		                      scopes, environment, daily_quota, monthly_quota, is_active, expires_at,
		                      created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = r.db.ExecContext(ctx, query,
		apiKey.ID,
		apiKey.OrganizationID,
		apiKey.CreatedBy,
		apiKey.KeyName,
		apiKey.KeyHash,
		apiKey.KeyPrefix,
		apiKey.KeyHint,
		scopesJSON,
		apiKey.Environment,
		apiKey.DailyQuota,
		apiKey.MonthlyQuota,
		apiKey.IsActive,
		apiKey.ExpiresAt,
		apiKey.CreatedAt,
		apiKey.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

// GetAPIKeyByHash retrieves an API key by its digest (for authentication)
func (r *APIKeyRepository) GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1`

	apiKey, err := scanAPIKey(r.db.QueryRowContext(ctx, query, keyHash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return apiKey, nil
}

// GetAPIKeyByID retrieves an API key by ID
func (r *APIKeyRepository) GetAPIKeyByID(ctx context.Context, keyID string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1`

	apiKey, err := scanAPIKey(r.db.QueryRowContext(ctx, query, keyID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return apiKey, nil
}

// ListAPIKeysByOrganization retrieves all API keys of an organization, newest first, with the
// creator's display name.
func (r *APIKeyRepository) ListAPIKeysByOrganization(ctx context.Context, orgID string) ([]*models.APIKey, error) {
	query := `
		SELECT ak.id, ak.organization_id, ak.created_by, ak.key_name, ak.key_hash, ak.key_prefix, ak.key_hint,
		       ak.scopes, ak.environment, ak.daily_quota, ak.monthly_quota, ak.daily_used, ak.monthly_used,
		       ak.is_active, ak.revoked_at, ak.revoked_reason, ak.last_used_at, ak.last_used_ip, ak.expires_at,
		       ak.expiry_notification_sent_at, ak.created_at, ak.updated_at, u.name AS created_by_name
		FROM api_keys ak
		LEFT JOIN users u ON ak.created_by = u.id
		WHERE ak.organization_id = $1
		ORDER BY ak.created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	apiKeys := make([]*models.APIKey, 0)
	for rows.Next() {
		var createdByName sql.NullString
		apiKey, err := scanAPIKey(rows, &createdByName)
		if err != nil {
			return nil, err
		}
		if createdByName.Valid {
			apiKey.CreatedByName = &createdByName.String
		}
		apiKeys = append(apiKeys, apiKey)
	}

	return apiKeys, rows.Err()
}

// RevokeAPIKey deactivates a key. The first revocation time is preserved so repeated calls are
// harmless; a new reason replaces the previous one.
func (r *APIKeyRepository) RevokeAPIKey(ctx context.Context, keyID string, reason *string) error {
	query := `
		UPDATE api_keys
		SET is_active = false,
		    revoked_at = COALESCE(revoked_at, $2),
		    revoked_reason = COALESCE($3, revoked_reason),
		    updated_at = $2
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, keyID, time.Now(), reason)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	return nil
}

// DeleteAPIKey removes a key; its usage logs are removed by the foreign key cascade
func (r *APIKeyRepository) DeleteAPIKey(ctx context.Context, keyID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, keyID)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	return nil
}

// UpdateAPIKey applies a partial update. Only the fields present in the patch are written.
func (r *APIKeyRepository) UpdateAPIKey(ctx context.Context, keyID string, patch *models.APIKeyPatch) error {
	sets := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)
	paramIndex := 1

	add := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, paramIndex))
		args = append(args, value)
		paramIndex++
	}

	if patch.KeyName != nil {
		add("key_name", *patch.KeyName)
	}
	if patch.Scopes != nil {
		scopesJSON, err := json.Marshal(patch.Scopes)
		if err != nil {
			return err
		}
		add("scopes", scopesJSON)
	}
	if patch.DailyQuota.Set {
		add("daily_quota", patch.DailyQuota.Value)
	}
	if patch.MonthlyQuota.Set {
		add("monthly_quota", patch.MonthlyQuota.Value)
	}
	if len(sets) == 0 {
		return nil
	}
	add("updated_at", time.Now())

	query := fmt.Sprintf(`UPDATE api_keys SET %s WHERE id = $%d`, strings.Join(sets, ", "), paramIndex)
	args = append(args, keyID)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update api key: %w", err)
	}
	return nil
}

// RecordUsage bumps the usage counters and last-used markers of a key
func (r *APIKeyRepository) RecordUsage(ctx context.Context, keyID string, ip *string) error {
	query := `
		UPDATE api_keys
		SET daily_used = daily_used + 1,
		    monthly_used = monthly_used + 1,
		    last_used_at = $2,
		    last_used_ip = COALESCE($3, last_used_ip)
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, keyID, time.Now(), ip)
	if err != nil {
		return fmt.Errorf("failed to record api key usage: %w", err)
	}
	return nil
}

// ResetDailyUsage zeroes every key's daily counter and returns the number of keys touched
func (r *APIKeyRepository) ResetDailyUsage(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE api_keys SET daily_used = 0 WHERE daily_used <> 0`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset daily usage: %w", err)
	}
	return res.RowsAffected()
}

// ResetMonthlyUsage zeroes every key's monthly counter and returns the number of keys touched
func (r *APIKeyRepository) ResetMonthlyUsage(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE api_keys SET monthly_used = 0 WHERE monthly_used <> 0`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset monthly usage: %w", err)
	}
	return res.RowsAffected()
}

// FindExpiringKeys returns active API keys that will expire within warningDays days
// and have not yet had a notification email sent (expiry_notification_sent_at IS NULL).
// Only keys with a creator (created_by IS NOT NULL) are returned so the caller
// can look up an email address.
func (r *APIKeyRepository) FindExpiringKeys(ctx context.Context, warningDays int) ([]*models.APIKey, error) {
	cutoff := time.Now().Add(time.Duration(warningDays) * 24 * time.Hour)
	query := `SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE expires_at IS NOT NULL
		  AND expires_at > NOW()
		  AND expires_at <= $1
		  AND is_active = true
		  AND expiry_notification_sent_at IS NULL
		  AND created_by IS NOT NULL
		ORDER BY expires_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// MarkExpiryNotificationSent records that the expiry warning email was sent for a key,
// preventing duplicate emails on subsequent job runs.
func (r *APIKeyRepository) MarkExpiryNotificationSent(ctx context.Context, keyID string) error {
	query := `UPDATE api_keys SET expiry_notification_sent_at = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, time.Now(), keyID)
	return err
}
