// organizations.go implements handlers for listing the caller's organizations, bootstrapping the
// default workspace and reading an organization's audit trail.
package admin

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rnblock/api-key-provider/internal/api/respond"
	"github.com/rnblock/api-key-provider/internal/db/models"
	"github.com/rnblock/api-key-provider/internal/db/repositories"
	"github.com/rnblock/api-key-provider/internal/middleware"
	"github.com/rnblock/api-key-provider/internal/services"
)

// Organizations is the organization API used by the handlers
type Organizations interface {
	ListForUser(ctx context.Context, userID string) ([]*models.UserMembership, error)
	CreateDefault(ctx context.Context, user *models.User) (*services.OrganizationView, error)
}

// UserReader loads the signed-in user
type UserReader interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// AuditLister reads an organization's audit entries
type AuditLister interface {
	ListOrganizationAuditLogs(ctx context.Context, orgID string, filters repositories.AuditFilters, limit, offset int) ([]*models.AuditLog, int, error)
}

// OrganizationHandlers handles organization endpoints
type OrganizationHandlers struct {
	orgs  Organizations
	users UserReader
	audit AuditLister
}

// NewOrganizationHandlers creates a new OrganizationHandlers instance
func NewOrganizationHandlers(orgs Organizations, users UserReader, audit AuditLister) *OrganizationHandlers {
	return &OrganizationHandlers{orgs: orgs, users: users, audit: audit}
}

// @Summary      List my organizations
// @Description  List the organizations the caller belongs to with their role, oldest membership first.
// @Tags         Organizations
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "[]models.UserMembership"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /api/v1/orgs [get]
// ListOrganizationsHandler lists the caller's memberships
// GET /api/v1/orgs
func (h *OrganizationHandlers) ListOrganizationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.UserID(c)

		memberships, err := h.orgs.ListForUser(c.Request.Context(), userID)
		if err != nil {
			respond.Error(c, "list organizations", err)
			return
		}
		if memberships == nil {
			memberships = []*models.UserMembership{}
		}

		respond.OK(c, memberships)
	}
}

// @Summary      Ensure default organization
// @Description  Return the caller's first organization, creating a personal workspace with an empty wallet when there is none.
// @Tags         Organizations
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  services.OrganizationView  "Existing organization"
// @Success      201  {object}  services.OrganizationView  "Created organization"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /api/v1/orgs/default [post]
// CreateDefaultOrganizationHandler bootstraps the caller's workspace
// POST /api/v1/orgs/default
func (h *OrganizationHandlers) CreateDefaultOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.UserID(c)
		ctx := c.Request.Context()

		user, err := h.users.GetUser(ctx, userID)
		if err != nil {
			respond.Error(c, "load user", err)
			return
		}

		view, err := h.orgs.CreateDefault(ctx, user)
		if err != nil {
			respond.Error(c, "create default organization", err)
			return
		}

		c.Set(middleware.AuditResourceIDKey, view.ID)
		c.Set(middleware.ContextOrganizationID, view.ID)
		if view.Created {
			respond.Created(c, view)
			return
		}
		respond.OK(c, view)
	}
}

// auditEntryView is the API representation of an audit entry
type auditEntryView struct {
	ID           string                 `json:"id"`
	UserID       *string                `json:"userId"`
	Action       string                 `json:"action"`
	ResourceType *string                `json:"resourceType"`
	ResourceID   *string                `json:"resourceId"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	IPAddress    *string                `json:"ipAddress"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// @Summary      List audit log
// @Description  Page through an organization's audit trail, newest first. Requires owner or admin role.
// @Tags         Organizations
// @Security     Bearer
// @Produce      json
// @Param        orgId          path   string  true   "Organisation ID"
// @Param        action         query  string  false  "Filter by action, e.g. api_key.create"
// @Param        resource_type  query  string  false  "Filter by resource type"
// @Param        since          query  string  false  "RFC 3339 lower bound on created_at"
// @Param        page           query  int     false  "Page number (default 1)"
// @Param        per_page       query  int     false  "Items per page, max 100 (default 50)"
// @Success      200  {object}  map[string]interface{}  "entries and pagination"
// @Failure      400  {object}  map[string]interface{}  "Invalid since"
// @Failure      403  {object}  map[string]interface{}  "Insufficient permissions"
// @Router       /api/v1/orgs/{orgId}/audit-logs [get]
// ListAuditLogsHandler lists an organization's audit entries
// GET /api/v1/orgs/:orgId/audit-logs
func (h *OrganizationHandlers) ListAuditLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 100 {
			perPage = 50
		}

		var filters repositories.AuditFilters
		if v := c.Query("action"); v != "" {
			filters.Action = &v
		}
		if v := c.Query("resource_type"); v != "" {
			filters.ResourceType = &v
		}
		if v := c.Query("since"); v != "" {
			since, err := time.Parse(time.RFC3339, v)
			if err != nil {
				respond.Error(c, "list audit logs", &services.ValidationError{Field: "since", Message: "since must be an RFC 3339 timestamp"})
				return
			}
			filters.Since = &since
		}

		logs, total, err := h.audit.ListOrganizationAuditLogs(c.Request.Context(), c.Param("orgId"), filters, perPage, (page-1)*perPage)
		if err != nil {
			respond.Error(c, "list audit logs", err)
			return
		}

		entries := make([]auditEntryView, 0, len(logs))
		for _, l := range logs {
			entries = append(entries, auditEntryView{
				ID:           l.ID,
				UserID:       l.UserID,
				Action:       l.Action,
				ResourceType: l.ResourceType,
				ResourceID:   l.ResourceID,
				Metadata:     l.Metadata,
				IPAddress:    l.IPAddress,
				CreatedAt:    l.CreatedAt,
			})
		}

		respond.OK(c, gin.H{
			"entries": entries,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}
