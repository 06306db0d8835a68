// Package models - organization.go defines the Organization tenant that owns keys and a wallet,
// and the membership rows that grant users a role inside it.
package models

import "time"

// Organization represents a workspace that owns API keys and a credit wallet
type Organization struct {
	ID        string
	Name      string
	Slug      string  // Unique, URL-safe
	OwnerID   *string // User who created the workspace
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrganizationMember represents a user's membership in an organization
type OrganizationMember struct {
	ID             string
	OrganizationID string
	UserID         string
	Role           string // owner, admin, developer or billing
	JoinedAt       time.Time
}

// UserMembership includes organization details for a user's membership
type UserMembership struct {
	OrganizationID   string    `json:"organizationId"`
	OrganizationName string    `json:"organizationName"`
	OrganizationSlug string    `json:"organizationSlug"`
	Role             string    `json:"role"`
	JoinedAt         time.Time `json:"joinedAt"`
}
