// Package middleware provides Gin HTTP middleware for authentication, authorization,
// rate limiting, security headers, metrics and audit logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RateLimit → Auth → Role → Audit → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attempts before any DB work.
// Auth populates the caller identity; role checks and handlers read it from the context.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rnblock/api-key-provider/internal/auth"
	"github.com/rnblock/api-key-provider/internal/db/models"
	"github.com/rnblock/api-key-provider/internal/services"
)

const (
	// SessionCookieName carries the dashboard session token for browser redirects
	SessionCookieName = "akp_session"

	// APIKeyHeader is accepted as an alternative to a Bearer API key
	APIKeyHeader = "X-API-Key"
)

// SessionValidator verifies dashboard session tokens
type SessionValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// KeyAuthenticator resolves a plaintext API key to a usable key record
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, plaintext string) (*models.APIKey, error)
}

// SessionAuth requires a valid session token, read from a Bearer header or the session cookie
func SessionAuth(tokens SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c)
		if token == "" {
			abortWithError(c, http.StatusUnauthorized, "Authentication required")
			return
		}

		claims, err := tokens.Validate(token)
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, "Invalid or expired session")
			return
		}

		setSession(c, claims)
		c.Next()
	}
}

// OptionalSessionAuth sets the session identity when a valid token is present and never aborts
func OptionalSessionAuth(tokens SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := sessionToken(c); token != "" {
			if claims, err := tokens.Validate(token); err == nil {
				setSession(c, claims)
			}
		}
		c.Next()
	}
}

// APIKeyAuth requires a usable API key from "Authorization: Bearer sk_..." or X-API-Key.
// Unknown, revoked, inactive and expired keys all get the same 401.
func APIKeyAuth(keys KeyAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		plaintext := apiKeyFromRequest(c)
		if plaintext == "" {
			abortWithError(c, http.StatusUnauthorized, "Missing API key")
			return
		}

		key, err := keys.Authenticate(c.Request.Context(), plaintext)
		if err != nil {
			if errors.Is(err, services.ErrUnauthenticated) {
				abortWithError(c, http.StatusUnauthorized, "Invalid API key")
				return
			}
			slog.Error("api key authentication failed", "error", err, "key_hint", auth.KeyHint(plaintext))
			abortWithError(c, http.StatusInternalServerError, "Authentication failed")
			return
		}

		c.Set(ContextAPIKey, key)
		c.Set(ContextAPIKeyID, key.ID)
		c.Set(ContextOrganizationID, key.OrganizationID)
		c.Set(ContextScopes, key.Scopes)
		c.Set(ContextAuthMethod, AuthMethodAPIKey)
		c.Next()
	}
}

func setSession(c *gin.Context, claims *auth.Claims) {
	c.Set(ContextUserID, claims.UserID)
	c.Set(ContextEmail, claims.Email)
	c.Set(ContextUserName, claims.Name)
	c.Set(ContextAuthMethod, AuthMethodSession)
}

// sessionToken prefers the Authorization header. Bearer values that look like API keys are
// never treated as sessions.
func sessionToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		token, err := auth.ExtractAPIKeyFromHeader(header)
		if err != nil || strings.HasPrefix(token, "sk_") {
			return ""
		}
		return token
	}
	if cookie, err := c.Cookie(SessionCookieName); err == nil {
		return cookie
	}
	return ""
}

func apiKeyFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if token, err := auth.ExtractAPIKeyFromHeader(header); err == nil && strings.HasPrefix(token, "sk_") {
			return token
		}
	}
	return strings.TrimSpace(c.GetHeader(APIKeyHeader))
}
