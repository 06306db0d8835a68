// service_repository.go implements ServiceRepository, providing sqlx queries over the service
// catalogue that API keys are scoped to.
package repositories

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rnblock/api-key-provider/internal/db/models"
)

// ServiceRepository handles service catalogue database operations
type ServiceRepository struct {
	db *sqlx.DB
}

// NewServiceRepository creates a new service catalogue repository
func NewServiceRepository(db *sqlx.DB) *ServiceRepository {
	return &ServiceRepository{db: db}
}

// ListActiveServices returns the enabled services ordered by display name
func (r *ServiceRepository) ListActiveServices(ctx context.Context) ([]models.Service, error) {
	services := make([]models.Service, 0)
	query := `
		SELECT id, name, display_name, description, base_cost_per_call, icon, category, is_active, created_at
		FROM services
		WHERE is_active = true
		ORDER BY display_name ASC`
	err := r.db.SelectContext(ctx, &services, query)
	return services, err
}

// GetServiceByName retrieves a service by its unique name
func (r *ServiceRepository) GetServiceByName(ctx context.Context, name string) (*models.Service, error) {
	var service models.Service
	query := `
		SELECT id, name, display_name, description, base_cost_per_call, icon, category, is_active, created_at
		FROM services
		WHERE name = $1`
	err := r.db.GetContext(ctx, &service, query, name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &service, nil
}

// UpsertService inserts a catalogue entry or refreshes the descriptive fields of an existing one
func (r *ServiceRepository) UpsertService(ctx context.Context, service *models.Service) error {
	if service.ID == "" {
		service.ID = uuid.New().String()
	}
	query := `
		INSERT INTO services (id, name, display_name, description, base_cost_per_call, icon, category, is_active)
		VALUES (:id, :name, :display_name, :description, :base_cost_per_call, :icon, :category, :is_active)
		ON CONFLICT (name) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			description = EXCLUDED.description,
			base_cost_per_call = EXCLUDED.base_cost_per_call,
			icon = EXCLUDED.icon,
			category = EXCLUDED.category,
			is_active = EXCLUDED.is_active`
	_, err := r.db.NamedExecContext(ctx, query, service)
	return err
}
