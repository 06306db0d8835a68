// Package admin implements the session-authenticated dashboard API: organisations, API keys,
// wallets, usage, the services catalogue, checkout and account management. Handlers require the
// identity set by middleware.SessionAuth except for the public account and contact endpoints;
// organisation membership and roles are checked by the service layer.
package admin

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rnblock/api-key-provider/internal/api/respond"
	"github.com/rnblock/api-key-provider/internal/db/models"
	"github.com/rnblock/api-key-provider/internal/middleware"
	"github.com/rnblock/api-key-provider/internal/services"
	"github.com/rnblock/api-key-provider/internal/validation"
)

// KeyManager is the key store API used by the handlers
type KeyManager interface {
	Create(ctx context.Context, userID string, in services.CreateKeyInput, clientIP string) (*services.CreatedKey, error)
	List(ctx context.Context, userID, orgID string) ([]services.KeyView, error)
	Revoke(ctx context.Context, userID, keyID string, reason *string, clientIP string) error
	Delete(ctx context.Context, userID, keyID, clientIP string) error
	Update(ctx context.Context, userID, keyID string, patch *models.APIKeyPatch, clientIP string) (*services.KeyView, error)
}

// APIKeyHandlers handles API key management endpoints
type APIKeyHandlers struct {
	keys KeyManager
}

// NewAPIKeyHandlers creates a new APIKeyHandlers instance
func NewAPIKeyHandlers(keys KeyManager) *APIKeyHandlers {
	return &APIKeyHandlers{keys: keys}
}

// CreateAPIKeyRequest represents the request to create a new API key
type CreateAPIKeyRequest struct {
	KeyName      string     `json:"keyName" binding:"required,keyname"`
	Scopes       []string   `json:"scopes" binding:"required,min=1,dive,apiscope"`
	Environment  string     `json:"environment" binding:"required,oneof=production test"`
	DailyQuota   *int       `json:"dailyQuota" binding:"omitempty,min=1"`
	MonthlyQuota *int       `json:"monthlyQuota" binding:"omitempty,min=1"`
	ExpiresAt    *time.Time `json:"expiresAt"`
}

// nullableInt records whether a JSON field was present, so that null can clear a quota while an
// absent field leaves it unchanged
type nullableInt struct {
	Set   bool
	Value *int
}

func (n *nullableInt) UnmarshalJSON(b []byte) error {
	n.Set = true
	if string(b) == "null" {
		n.Value = nil
		return nil
	}
	var v int
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

// UpdateAPIKeyRequest represents a partial update. Quotas accept null to remove the limit.
type UpdateAPIKeyRequest struct {
	KeyName      *string     `json:"keyName" binding:"omitempty,keyname"`
	Scopes       []string    `json:"scopes" binding:"omitempty,min=1,dive,apiscope"`
	DailyQuota   nullableInt `json:"dailyQuota"`
	MonthlyQuota nullableInt `json:"monthlyQuota"`
}

func (r *UpdateAPIKeyRequest) patch() *models.APIKeyPatch {
	return &models.APIKeyPatch{
		KeyName:      r.KeyName,
		Scopes:       r.Scopes,
		DailyQuota:   models.QuotaPatch{Set: r.DailyQuota.Set, Value: r.DailyQuota.Value},
		MonthlyQuota: models.QuotaPatch{Set: r.MonthlyQuota.Set, Value: r.MonthlyQuota.Value},
	}
}

// RevokeAPIKeyRequest carries the optional revocation reason
type RevokeAPIKeyRequest struct {
	Reason *string `json:"reason" binding:"omitempty,max=500"`
}

// @Summary      Create API key
// @Description  Generate a key for the organisation. The plaintext key is returned once and never stored. Requires owner, admin or developer role.
// @Tags         API Keys
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        orgId  path  string               true  "Organisation ID"
// @Param        body   body  CreateAPIKeyRequest  true  "Key definition"
// @Success      201  {object}  map[string]interface{}  "keyId, apiKey, maskedKey"
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Failure      403  {object}  map[string]interface{}  "No access or insufficient permissions"
// @Router       /api/v1/orgs/{orgId}/keys [post]
// CreateAPIKeyHandler creates an API key
// POST /api/v1/orgs/:orgId/keys
func (h *APIKeyHandlers) CreateAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.UserID(c)

		var req CreateAPIKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, "create api key", validation.FromBindError(err))
			return
		}

		created, err := h.keys.Create(c.Request.Context(), userID, services.CreateKeyInput{
			KeyName:      req.KeyName,
			Scopes:       req.Scopes,
			Environment:  req.Environment,
			OrgID:        c.Param("orgId"),
			DailyQuota:   req.DailyQuota,
			MonthlyQuota: req.MonthlyQuota,
			ExpiresAt:    req.ExpiresAt,
		}, c.ClientIP())
		if err != nil {
			respond.Error(c, "create api key", err)
			return
		}

		respond.Created(c, created)
	}
}

// @Summary      List API keys
// @Description  List the organisation's keys, newest first. Any member may list.
// @Tags         API Keys
// @Security     Bearer
// @Produce      json
// @Param        orgId  path  string  true  "Organisation ID"
// @Success      200  {object}  map[string]interface{}  "Key views without hash or plaintext"
// @Failure      403  {object}  map[string]interface{}  "No access"
// @Router       /api/v1/orgs/{orgId}/keys [get]
// ListAPIKeysHandler lists an organisation's API keys
// GET /api/v1/orgs/:orgId/keys
func (h *APIKeyHandlers) ListAPIKeysHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.UserID(c)

		keys, err := h.keys.List(c.Request.Context(), userID, c.Param("orgId"))
		if err != nil {
			respond.Error(c, "list api keys", err)
			return
		}

		respond.OK(c, keys)
	}
}

// @Summary      Update API key
// @Description  Rename a key, replace its scopes or change its quotas. Requires owner or admin role.
// @Tags         API Keys
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        keyId  path  string               true  "API key ID"
// @Param        body   body  UpdateAPIKeyRequest  true  "Fields to change"
// @Success      200  {object}  map[string]interface{}  "Updated key view"
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Failure      404  {object}  map[string]interface{}  "API key not found"
// @Router       /api/v1/keys/{keyId} [patch]
// UpdateAPIKeyHandler updates an API key
// PATCH /api/v1/keys/:keyId
func (h *APIKeyHandlers) UpdateAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.UserID(c)

		var req UpdateAPIKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, "update api key", validation.FromBindError(err))
			return
		}

		view, err := h.keys.Update(c.Request.Context(), userID, c.Param("keyId"), req.patch(), c.ClientIP())
		if err != nil {
			respond.Error(c, "update api key", err)
			return
		}

		respond.OK(c, view)
	}
}

// @Summary      Revoke API key
// @Description  Deactivate a key immediately. The key stays listed with its revocation time and reason.
// @Tags         API Keys
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        keyId  path  string               true   "API key ID"
// @Param        body   body  RevokeAPIKeyRequest  false  "Optional reason"
// @Success      200  {object}  map[string]interface{}  "Revoked"
// @Failure      404  {object}  map[string]interface{}  "API key not found"
// @Router       /api/v1/keys/{keyId}/revoke [post]
// RevokeAPIKeyHandler revokes an API key
// POST /api/v1/keys/:keyId/revoke
func (h *APIKeyHandlers) RevokeAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.UserID(c)

		var req RevokeAPIKeyRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				respond.Error(c, "revoke api key", validation.FromBindError(err))
				return
			}
		}

		keyID := c.Param("keyId")
		if err := h.keys.Revoke(c.Request.Context(), userID, keyID, req.Reason, c.ClientIP()); err != nil {
			respond.Error(c, "revoke api key", err)
			return
		}

		respond.OK(c, gin.H{"id": keyID, "revoked": true})
	}
}

// @Summary      Delete API key
// @Description  Permanently delete a key. Requires owner or admin role.
// @Tags         API Keys
// @Security     Bearer
// @Produce      json
// @Param        keyId  path  string  true  "API key ID"
// @Success      200  {object}  map[string]interface{}  "Deleted"
// @Failure      403  {object}  map[string]interface{}  "Insufficient permissions"
// @Failure      404  {object}  map[string]interface{}  "API key not found"
// @Router       /api/v1/keys/{keyId} [delete]
// DeleteAPIKeyHandler deletes an API key
// DELETE /api/v1/keys/:keyId
func (h *APIKeyHandlers) DeleteAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.UserID(c)

		keyID := c.Param("keyId")
		if err := h.keys.Delete(c.Request.Context(), userID, keyID, c.ClientIP()); err != nil {
			respond.Error(c, "delete api key", err)
			return
		}

		respond.OK(c, gin.H{"id": keyID, "deleted": true})
	}
}

// queryLimit parses an optional positive integer query parameter; malformed values give 0
func queryLimit(c *gin.Context, name string) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return n
}
