// Package models - usage_log.go defines the append-only record of gateway calls made with an API key.
package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// UsageLog is a single API call made with a key
type UsageLog struct {
	ID             string             `db:"id"`
	APIKeyID       string             `db:"api_key_id"`
	OrganizationID string             `db:"organization_id"`
	ServiceID      string             `db:"service_id"`
	Endpoint       *string            `db:"endpoint"`
	Method         *string            `db:"method"`
	StatusCode     *int               `db:"status_code"`
	ResponseTimeMs *int               `db:"response_time_ms"`
	CreditsUsed    int                `db:"credits_used"`
	Details        types.NullJSONText `db:"details"`
	IPAddress      *string            `db:"ip_address"`
	Country        *string            `db:"country"`
	UserAgent      *string            `db:"user_agent"`
	CreatedAt      time.Time          `db:"created_at"`
}

// UsageLogEntry is a usage row joined with its key and service names for display
type UsageLogEntry struct {
	UsageLog
	KeyName            *string `db:"key_name"`
	ServiceName        string  `db:"service_name"`
	ServiceDisplayName string  `db:"service_display_name"`
}
