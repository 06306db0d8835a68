// Package models - audit_log.go defines the AuditLog model for recording security-relevant
// events, capturing actor, action, affected resource, client IP, and arbitrary metadata.
package models

import "time"

// AuditLog represents an audit log entry for tracking user actions
type AuditLog struct {
	ID             string
	UserID         *string // Nullable for system actions
	OrganizationID *string
	Action         string                 // "api_key.create", "api_key.revoke", "wallet.credit"
	ResourceType   *string                // "api_key", "wallet", "organization"
	ResourceID     *string                // ID of affected resource
	Metadata       map[string]interface{} // JSONB: additional context
	IPAddress      *string                // Client IP
	CreatedAt      time.Time
}
