// Package gateway serves the endpoints the metering gateway calls with a customer's API key:
// introspection of the key's grants and balance, and reporting of completed calls. Requests
// reach these handlers only after middleware.APIKeyAuth has resolved the key.
package gateway

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rnblock/api-key-provider/internal/api/respond"
	"github.com/rnblock/api-key-provider/internal/db/models"
	"github.com/rnblock/api-key-provider/internal/middleware"
	"github.com/rnblock/api-key-provider/internal/services"
	"github.com/rnblock/api-key-provider/internal/validation"
)

// Metering is the gateway service API used by the handlers
type Metering interface {
	Introspect(ctx context.Context, key *models.APIKey) (*services.Introspection, error)
	RecordUsage(ctx context.Context, key *models.APIKey, in services.UsageInput) (*models.UsageLog, error)
}

// Handlers handles gateway endpoints
type Handlers struct {
	metering Metering
}

// NewHandlers creates a new Handlers instance
func NewHandlers(metering Metering) *Handlers {
	return &Handlers{metering: metering}
}

type usageRecorded struct {
	ID          string    `json:"id"`
	Service     string    `json:"service"`
	CreditsUsed int       `json:"creditsUsed"`
	CreatedAt   time.Time `json:"createdAt"`
}

// @Summary      Introspect API key
// @Description  Describe the calling key: organisation, environment, scopes, quota counters and the organisation's credit balance.
// @Tags         Gateway
// @Security     APIKey
// @Produce      json
// @Success      200  {object}  services.Introspection
// @Failure      401  {object}  map[string]interface{}  "Missing or invalid API key"
// @Failure      429  {object}  map[string]interface{}  "Rate limit exceeded"
// @Router       /api/v1/gateway/introspect [get]
// IntrospectHandler returns the calling key's grants
// GET /api/v1/gateway/introspect
func (h *Handlers) IntrospectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := middleware.APIKey(c)
		if !ok {
			respond.Error(c, "introspect", services.ErrUnauthenticated)
			return
		}

		info, err := h.metering.Introspect(c.Request.Context(), key)
		if err != nil {
			respond.Error(c, "introspect", err)
			return
		}

		respond.OK(c, info)
	}
}

// @Summary      Record usage
// @Description  Append a usage log for a call made with the key. The service is taken from the endpoint path /api/v1/<service>/...
// @Tags         Gateway
// @Security     APIKey
// @Accept       json
// @Produce      json
// @Param        body  body  services.UsageInput  true  "Completed call"
// @Success      201  {object}  usageRecorded
// @Failure      400  {object}  map[string]interface{}  "Validation error or unknown service"
// @Failure      401  {object}  map[string]interface{}  "Missing or invalid API key"
// @Failure      403  {object}  map[string]interface{}  "Key lacks the scope for this service"
// @Router       /api/v1/gateway/usage [post]
// RecordUsageHandler records one metered call
// POST /api/v1/gateway/usage
func (h *Handlers) RecordUsageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := middleware.APIKey(c)
		if !ok {
			respond.Error(c, "record usage", services.ErrUnauthenticated)
			return
		}

		var in services.UsageInput
		if err := c.ShouldBindJSON(&in); err != nil {
			respond.Error(c, "record usage", validation.FromBindError(err))
			return
		}

		entry, err := h.metering.RecordUsage(c.Request.Context(), key, in)
		if err != nil {
			respond.Error(c, "record usage", err)
			return
		}

		service, _ := services.ServiceFromEndpoint(in.Endpoint)
		respond.Created(c, usageRecorded{
			ID:          entry.ID,
			Service:     service,
			CreditsUsed: entry.CreditsUsed,
			CreatedAt:   entry.CreatedAt,
		})
	}
}
