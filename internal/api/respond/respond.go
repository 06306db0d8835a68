// Package respond writes the JSON envelope shared by the dashboard and gateway handlers:
// {"success": true, "data": ...} or {"success": false, "error": "..."}. Service sentinel errors
// are mapped to HTTP status codes here so handlers stay free of status bookkeeping.
package respond

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rnblock/api-key-provider/internal/auth"
	"github.com/rnblock/api-key-provider/internal/services"
)

// OK writes a success envelope with status 200
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// Created writes a success envelope with status 201
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": data})
}

// Fail writes an error envelope with the given status and message
func Fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": message})
}

// Error maps err to a status and writes the error envelope. Unknown errors are logged with op
// and reported as a generic message.
func Error(c *gin.Context, op string, err error) {
	status, message := Status(err)
	if status == http.StatusInternalServerError {
		slog.Error(op+" failed", "error", err, "path", c.FullPath())
	}
	Fail(c, status, message)
}

// Status returns the HTTP status and client-facing message for a service error
func Status(err error) (int, string) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Message
	case errors.Is(err, services.ErrUnauthenticated):
		return http.StatusUnauthorized, "Invalid credentials"
	case errors.Is(err, services.ErrEmailNotVerified):
		return http.StatusForbidden, "Email address is not verified"
	case errors.Is(err, services.ErrNoAccess):
		return http.StatusForbidden, services.ErrNoAccess.Error()
	case errors.Is(err, services.ErrInsufficientPermissions):
		return http.StatusForbidden, "Insufficient permissions"
	case errors.Is(err, services.ErrKeyNotFound):
		return http.StatusNotFound, "API key not found"
	case errors.Is(err, services.ErrInvalidToken):
		return http.StatusBadRequest, "Invalid or expired token"
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict, "An account with this email already exists"
	case errors.Is(err, services.ErrRateLimited):
		return http.StatusTooManyRequests, "Too many requests. Please try again later."
	case errors.Is(err, services.ErrBillingMisconfigured), errors.Is(err, auth.ErrPepperNotConfigured):
		return http.StatusInternalServerError, "Configuration error"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
