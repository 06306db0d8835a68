package services

import (
	"context"
	"log/slog"

	"github.com/rnblock/api-key-provider/internal/db/models"
)

// ServiceStore reads and writes the service catalogue
type ServiceStore interface {
	ListActiveServices(ctx context.Context) ([]models.Service, error)
	GetServiceByName(ctx context.Context, name string) (*models.Service, error)
	UpsertService(ctx context.Context, service *models.Service) error
}

// DefaultServices is the catalogue installed by the seed-services command
func DefaultServices() []models.Service {
	return []models.Service{
		{
			Name:            "api-pdf",
			DisplayName:     "PDF Manipulation",
			Description:     strPtr("Merge, split, compress and convert PDF documents"),
			BaseCostPerCall: 1,
			Icon:            strPtr("file-text"),
			Category:        "documents",
			IsActive:        true,
		},
		{
			Name:            "api-docling",
			DisplayName:     "Document Intelligence AI",
			Description:     strPtr("Extract structured content, tables and text from documents"),
			BaseCostPerCall: 3,
			Icon:            strPtr("brain"),
			Category:        "ai",
			IsActive:        true,
		},
		{
			Name:            "api-template",
			DisplayName:     "Mileage Expenses Generator",
			Description:     strPtr("Generate mileage expense reports from trip data"),
			BaseCostPerCall: 1,
			Icon:            strPtr("car"),
			Category:        "finance",
			IsActive:        true,
		},
	}
}

// CatalogueService exposes the services an API key can be used with
type CatalogueService struct {
	services ServiceStore
}

// NewCatalogueService creates a CatalogueService
func NewCatalogueService(services ServiceStore) *CatalogueService {
	return &CatalogueService{services: services}
}

// List returns active services ordered by display name
func (s *CatalogueService) List(ctx context.Context) ([]models.Service, error) {
	services, err := s.services.ListActiveServices(ctx)
	if err != nil {
		return nil, err
	}
	if services == nil {
		services = []models.Service{}
	}
	return services, nil
}

// Seed upserts the default catalogue and returns the number of entries written
func (s *CatalogueService) Seed(ctx context.Context) (int, error) {
	n := 0
	for _, svc := range DefaultServices() {
		svc := svc
		if err := s.services.UpsertService(ctx, &svc); err != nil {
			return n, err
		}
		slog.Info("service seeded", "name", svc.Name, "cost_per_call", svc.BaseCostPerCall)
		n++
	}
	return n, nil
}

func strPtr(s string) *string {
	return &s
}
