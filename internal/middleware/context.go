package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/rnblock/api-key-provider/internal/db/models"
)

// Keys under which the authentication middleware stores the caller identity in gin.Context
const (
	ContextUserID         = "user_id"
	ContextEmail          = "email"
	ContextUserName       = "user_name"
	ContextAuthMethod     = "auth_method"
	ContextAPIKey         = "api_key"
	ContextAPIKeyID       = "api_key_id"
	ContextOrganizationID = "organization_id"
	ContextScopes         = "scopes"
	ContextOrgRole        = "org_role"
)

// Values stored under ContextAuthMethod
const (
	AuthMethodSession = "session"
	AuthMethodAPIKey  = "api_key"
)

// UserID returns the session user id set by SessionAuth
func UserID(c *gin.Context) (string, bool) {
	id := c.GetString(ContextUserID)
	return id, id != ""
}

// APIKey returns the key set by APIKeyAuth
func APIKey(c *gin.Context) (*models.APIKey, bool) {
	v, ok := c.Get(ContextAPIKey)
	if !ok {
		return nil, false
	}
	key, ok := v.(*models.APIKey)
	return key, ok && key != nil
}

// abortWithError ends the request with the standard error envelope
func abortWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   message,
	})
}
