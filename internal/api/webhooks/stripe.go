// Package webhooks handles inbound machine-to-machine callbacks: Stripe payment events and the
// email queue's delivery jobs. Each endpoint authenticates its caller from the request itself
// (a payload signature or a shared bearer secret) rather than a user session.
package webhooks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rnblock/api-key-provider/internal/services"
)

// maxWebhookBody bounds the raw payload read before signature verification
const maxWebhookBody = 1 << 20

// StripeEventProcessor verifies and applies Stripe events
type StripeEventProcessor interface {
	VerifyWebhook(payload []byte, signature string) (*services.VerifiedEvent, error)
	HandleEvent(ctx context.Context, ev *services.VerifiedEvent) error
}

// StripeWebhookHandler handles Stripe webhook deliveries
type StripeWebhookHandler struct {
	billing StripeEventProcessor
}

// NewStripeWebhookHandler creates a new webhook handler
func NewStripeWebhookHandler(billing StripeEventProcessor) *StripeWebhookHandler {
	return &StripeWebhookHandler{billing: billing}
}

// @Summary      Receive Stripe webhook
// @Description  Verifies the Stripe-Signature header against the raw body and applies the event once.
// @Description  A valid delivery is always acknowledged with 200; processing failures are stored on the event row.
// @Tags         Webhooks
// @Accept       json
// @Produce      json
// @Param        Stripe-Signature  header  string  true  "t=<timestamp>,v1=<signature>"
// @Success      200  {object}  map[string]interface{}  "received: true"
// @Failure      400  {object}  map[string]interface{}  "Unreadable payload"
// @Failure      401  {object}  map[string]interface{}  "Missing or invalid signature"
// @Failure      500  {object}  map[string]interface{}  "Webhook secret not configured"
// @Router       /api/stripe/webhook [post]
// HandleWebhook processes a Stripe event delivery
// POST /api/stripe/webhook
func (h *StripeWebhookHandler) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read payload"})
		return
	}

	event, err := h.billing.VerifyWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, services.ErrBillingMisconfigured) {
			slog.Error("stripe webhook rejected", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Configuration error"})
			return
		}
		slog.Warn("stripe webhook signature rejected", "error", err, "ip", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	if err := h.billing.HandleEvent(c.Request.Context(), event); err != nil {
		slog.Error("stripe event processing failed", "event_id", event.ID, "type", event.Type, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
