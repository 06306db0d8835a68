// billing.go implements the credit pack checkout and the public contact form.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rnblock/api-key-provider/internal/api/respond"
	"github.com/rnblock/api-key-provider/internal/db/models"
	"github.com/rnblock/api-key-provider/internal/mail"
	"github.com/rnblock/api-key-provider/internal/middleware"
	"github.com/rnblock/api-key-provider/internal/validation"
)

// CheckoutStarter opens a payment session for a credit pack
type CheckoutStarter interface {
	CreateCheckout(ctx context.Context, user *models.User, planType string) (string, error)
}

// MailDispatcher queues transactional email
type MailDispatcher interface {
	Dispatch(ctx context.Context, msg *mail.Message) error
}

// BillingHandlers handles checkout and contact endpoints
type BillingHandlers struct {
	users          UserReader
	checkout       CheckoutStarter
	mail           MailDispatcher
	supportAddress string
}

// NewBillingHandlers creates a new BillingHandlers instance
func NewBillingHandlers(users UserReader, checkout CheckoutStarter, dispatcher MailDispatcher, supportAddress string) *BillingHandlers {
	return &BillingHandlers{users: users, checkout: checkout, mail: dispatcher, supportAddress: supportAddress}
}

// CheckoutRequest selects a credit pack
type CheckoutRequest struct {
	PlanType string `json:"planType" binding:"required,oneof=developer startup scale"`
}

// ContactRequest is a message from the public contact form
type ContactRequest struct {
	Name    string `json:"name" binding:"required,min=2,max=100"`
	Email   string `json:"email" binding:"required,email"`
	Subject string `json:"subject" binding:"required,oneof=bug feature improvement other"`
	Message string `json:"message" binding:"required,min=10,max=1000"`
}

// @Summary      Create checkout session
// @Description  Open a Stripe checkout for a credit pack. Credits are granted by the webhook once payment completes.
// @Tags         Billing
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CheckoutRequest  true  "Credit pack"
// @Success      200  {object}  map[string]interface{}  "url"
// @Failure      400  {object}  map[string]interface{}  "Invalid plan type"
// @Failure      500  {object}  map[string]interface{}  "Configuration error"
// @Router       /api/stripe/create-checkout [post]
// CreateCheckoutHandler starts a credit purchase
// POST /api/stripe/create-checkout
func (h *BillingHandlers) CreateCheckoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.UserID(c)

		var req CheckoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, "create checkout", validation.FromBindError(err))
			return
		}

		ctx := c.Request.Context()
		user, err := h.users.GetUser(ctx, userID)
		if err != nil {
			respond.Error(c, "load user", err)
			return
		}

		checkoutURL, err := h.checkout.CreateCheckout(ctx, user, req.PlanType)
		if err != nil {
			respond.Error(c, "create checkout", err)
			return
		}

		respond.OK(c, gin.H{"url": checkoutURL})
	}
}

// @Summary      Contact support
// @Description  Forward a contact form message to the support inbox with the sender as reply-to.
// @Tags         Support
// @Accept       json
// @Produce      json
// @Param        body  body  ContactRequest  true  "Message"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Failure      500  {object}  map[string]interface{}  "Email sending failed"
// @Router       /api/contact [post]
// ContactHandler forwards a contact message
// POST /api/contact
func (h *BillingHandlers) ContactHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ContactRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, "contact", validation.FromBindError(err))
			return
		}
		if h.supportAddress == "" {
			respond.Fail(c, http.StatusServiceUnavailable, "Contact form is not available")
			return
		}

		err := h.mail.Dispatch(c.Request.Context(), &mail.Message{
			Type:    mail.TypeContact,
			To:      h.supportAddress,
			Name:    strings.TrimSpace(req.Name),
			Subject: req.Subject,
			Message: strings.TrimSpace(req.Message),
			ReplyTo: req.Email,
		})
		if err != nil {
			slog.Error("failed to send contact email", "error", err)
			respond.Fail(c, http.StatusInternalServerError, "Email sending failed")
			return
		}

		respond.OK(c, gin.H{"message": "Thanks, we will get back to you soon"})
	}
}
