package services

import (
	"context"
	"time"

	"github.com/rnblock/api-key-provider/internal/auth"
	"github.com/rnblock/api-key-provider/internal/db/models"
)

const (
	// DefaultUsageLimit is the page size used when the caller sends none
	DefaultUsageLimit = 50
	// MaxUsageLimit caps a usage listing
	MaxUsageLimit = 200
)

// UsageStore reads and appends usage logs
type UsageStore interface {
	CreateUsageLog(ctx context.Context, log *models.UsageLog) error
	ListByOrganization(ctx context.Context, orgID string, limit int) ([]models.UsageLogEntry, error)
}

// UsageView is the API representation of a usage log row
type UsageView struct {
	ID                 string      `json:"id"`
	APIKeyID           string      `json:"apiKeyId"`
	KeyName            *string     `json:"keyName"`
	ServiceName        string      `json:"serviceName"`
	ServiceDisplayName string      `json:"serviceDisplayName"`
	Endpoint           *string     `json:"endpoint"`
	Method             *string     `json:"method"`
	StatusCode         *int        `json:"statusCode"`
	ResponseTimeMs     *int        `json:"responseTimeMs"`
	CreditsUsed        int         `json:"creditsUsed"`
	Details            interface{} `json:"details,omitempty"`
	IPAddress          *string     `json:"ipAddress"`
	Country            *string     `json:"country"`
	CreatedAt          time.Time   `json:"createdAt"`
}

func newUsageView(e models.UsageLogEntry) UsageView {
	v := UsageView{
		ID:                 e.ID,
		APIKeyID:           e.APIKeyID,
		KeyName:            e.KeyName,
		ServiceName:        e.ServiceName,
		ServiceDisplayName: e.ServiceDisplayName,
		Endpoint:           e.Endpoint,
		Method:             e.Method,
		StatusCode:         e.StatusCode,
		ResponseTimeMs:     e.ResponseTimeMs,
		CreditsUsed:        e.CreditsUsed,
		IPAddress:          e.IPAddress,
		Country:            e.Country,
		CreatedAt:          e.CreatedAt,
	}
	if e.Details.Valid {
		v.Details = e.Details.JSONText
	}
	return v
}

// UsageService lists an organization's usage logs
type UsageService struct {
	usage UsageStore
	gate  *PermissionGate
}

// NewUsageService creates a UsageService
func NewUsageService(usage UsageStore, gate *PermissionGate) *UsageService {
	return &UsageService{usage: usage, gate: gate}
}

// ClampUsageLimit applies the default and the maximum page size
func ClampUsageLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultUsageLimit
	case limit > MaxUsageLimit:
		return MaxUsageLimit
	default:
		return limit
	}
}

// List returns the newest usage rows of an organization the caller belongs to
func (s *UsageService) List(ctx context.Context, userID, orgID string, limit int) ([]UsageView, error) {
	if _, err := s.gate.Authorize(ctx, userID, orgID, auth.AnyMemberRole); err != nil {
		return nil, err
	}
	entries, err := s.usage.ListByOrganization(ctx, orgID, ClampUsageLimit(limit))
	if err != nil {
		return nil, err
	}
	views := make([]UsageView, 0, len(entries))
	for _, e := range entries {
		views = append(views, newUsageView(e))
	}
	return views, nil
}
