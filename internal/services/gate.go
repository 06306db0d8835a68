package services

import (
	"context"
	"fmt"

	"github.com/rnblock/api-key-provider/internal/auth"
	"github.com/rnblock/api-key-provider/internal/db/models"
)

// MembershipReader looks up a user's membership in an organization
type MembershipReader interface {
	GetMember(ctx context.Context, orgID, userID string) (*models.OrganizationMember, error)
}

// PermissionGate checks organization membership and role before a protected operation
type PermissionGate struct {
	members MembershipReader
}

// NewPermissionGate creates a PermissionGate
func NewPermissionGate(members MembershipReader) *PermissionGate {
	return &PermissionGate{members: members}
}

// Authorize returns the caller's membership when its role is in allowed. An empty allowed list
// admits any member. Non-members get ErrNoAccess rather than a not-found error so that the
// existence of an organization is not disclosed.
func (g *PermissionGate) Authorize(ctx context.Context, userID, orgID string, allowed []auth.Role) (*models.OrganizationMember, error) {
	member, err := g.members.GetMember(ctx, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if member == nil {
		return nil, ErrNoAccess
	}
	if !auth.RoleAllowed(member.Role, allowed) {
		return nil, ErrInsufficientPermissions
	}
	return member, nil
}
