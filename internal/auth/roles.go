// Package auth - roles.go defines organisation member roles and the role sets each key
// operation requires.
package auth

// Role is an organisation member role
type Role string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleDeveloper Role = "developer"
	RoleBilling   Role = "billing"
)

var (
	// KeyCreatorRoles may create API keys
	KeyCreatorRoles = []Role{RoleOwner, RoleAdmin, RoleDeveloper}
	// KeyRevokerRoles may revoke API keys
	KeyRevokerRoles = []Role{RoleOwner, RoleAdmin, RoleDeveloper}
	// KeyManagerRoles may update and delete API keys
	KeyManagerRoles = []Role{RoleOwner, RoleAdmin}
	// AnyMemberRole is satisfied by every member
	AnyMemberRole []Role
)

// IsValidRole reports whether r is one of the known roles
func IsValidRole(r string) bool {
	switch Role(r) {
	case RoleOwner, RoleAdmin, RoleDeveloper, RoleBilling:
		return true
	}
	return false
}

// RoleAllowed reports whether role is in allowed. An empty allowed set admits any role.
func RoleAllowed(role string, allowed []Role) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, r := range allowed {
		if string(r) == role {
			return true
		}
	}
	return false
}
