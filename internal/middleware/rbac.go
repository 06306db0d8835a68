// Package middleware (rbac.go) implements organisation role checks for session routes.
//
// Roles are read from the membership row on every request rather than embedded in the session
// token, so a role change applies on the caller's next request.

package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rnblock/api-key-provider/internal/auth"
	"github.com/rnblock/api-key-provider/internal/db/models"
	"github.com/rnblock/api-key-provider/internal/services"
)

// OrgAuthorizer checks a user's membership and role in an organisation
type OrgAuthorizer interface {
	Authorize(ctx context.Context, userID, orgID string, allowed []auth.Role) (*models.OrganizationMember, error)
}

// RequireOrgRole requires the session user to hold one of roles in the organisation named by the
// :orgId route parameter. An empty roles list admits any member. On success the organisation id
// and the caller's role are stored in the context.
func RequireOrgRole(gate OrgAuthorizer, roles ...auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserID(c)
		if !ok {
			abortWithError(c, http.StatusUnauthorized, "Authentication required")
			return
		}

		orgID := c.Param("orgId")
		member, err := gate.Authorize(c.Request.Context(), userID, orgID, roles)
		switch {
		case errors.Is(err, services.ErrNoAccess):
			abortWithError(c, http.StatusForbidden, services.ErrNoAccess.Error())
			return
		case errors.Is(err, services.ErrInsufficientPermissions):
			abortWithError(c, http.StatusForbidden, "Insufficient permissions")
			return
		case err != nil:
			slog.Error("organisation role check failed", "error", err, "org_id", orgID, "user_id", userID)
			abortWithError(c, http.StatusInternalServerError, "Failed to check organisation membership")
			return
		}

		c.Set(ContextOrganizationID, orgID)
		c.Set(ContextOrgRole, member.Role)
		c.Next()
	}
}
