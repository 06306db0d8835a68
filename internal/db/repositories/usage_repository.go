// usage_repository.go implements UsageRepository, the append-only log of gateway calls.
package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rnblock/api-key-provider/internal/db/models"
)

// UsageRepository handles API usage log database operations
type UsageRepository struct {
	db *sqlx.DB
}

// NewUsageRepository creates a new usage log repository
func NewUsageRepository(db *sqlx.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// CreateUsageLog appends a usage row
func (r *UsageRepository) CreateUsageLog(ctx context.Context, log *models.UsageLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO api_usage_logs (
			id, api_key_id, organization_id, service_id, endpoint, method, status_code,
			response_time_ms, credits_used, details, ip_address, country, user_agent, created_at
		) VALUES (
			:id, :api_key_id, :organization_id, :service_id, :endpoint, :method, :status_code,
			:response_time_ms, :credits_used, :details, :ip_address, :country, :user_agent, :created_at
		)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("failed to create usage log: %w", err)
	}
	return nil
}

// ListByOrganization returns an organization's most recent usage rows with key and service names
func (r *UsageRepository) ListByOrganization(ctx context.Context, orgID string, limit int) ([]models.UsageLogEntry, error) {
	entries := make([]models.UsageLogEntry, 0)
	query := `
		SELECT l.id, l.api_key_id, l.organization_id, l.service_id, l.endpoint, l.method, l.status_code,
		       l.response_time_ms, l.credits_used, l.details, l.ip_address, l.country, l.user_agent, l.created_at,
		       k.key_name, s.name AS service_name, s.display_name AS service_display_name
		FROM api_usage_logs l
		LEFT JOIN api_keys k ON l.api_key_id = k.id
		INNER JOIN services s ON l.service_id = s.id
		WHERE l.organization_id = $1
		ORDER BY l.created_at DESC
		LIMIT $2`
	if err := r.db.SelectContext(ctx, &entries, query, orgID, limit); err != nil {
		return nil, fmt.Errorf("failed to list usage logs: %w", err)
	}
	return entries, nil
}
