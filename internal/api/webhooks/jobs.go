package webhooks

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rnblock/api-key-provider/internal/mail"
)

// MailSender renders and sends a message immediately
type MailSender interface {
	SendNow(ctx context.Context, msg *mail.Message) error
}

// EmailJobHandler delivers messages published to the email queue
type EmailJobHandler struct {
	sender MailSender
	secret string
}

// NewEmailJobHandler creates a handler accepting jobs signed with the cron secret
func NewEmailJobHandler(sender MailSender, cronSecret string) *EmailJobHandler {
	return &EmailJobHandler{sender: sender, secret: cronSecret}
}

// @Summary      Send queued email
// @Description  Called by the email queue with the cron secret as bearer token. Renders the template for the job type and sends it over SMTP.
// @Tags         Jobs
// @Accept       json
// @Produce      json
// @Param        Authorization  header  string        true  "Bearer <cron secret>"
// @Param        body           body    mail.Message  true  "Email job"
// @Success      200  {object}  map[string]interface{}  "success: true"
// @Failure      400  {object}  map[string]interface{}  "Invalid email type or recipient"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      500  {object}  map[string]interface{}  "Email sending failed"
// @Router       /api/jobs/send-email [post]
// HandleSendEmail delivers one queued email
// POST /api/jobs/send-email
func (h *EmailJobHandler) HandleSendEmail(c *gin.Context) {
	if !h.authorized(c.GetHeader("Authorization")) {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
		return
	}

	var msg mail.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
		return
	}
	if !mail.ValidType(msg.Type) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid email type"})
		return
	}
	if strings.TrimSpace(msg.To) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Recipient is required"})
		return
	}

	if err := h.sender.SendNow(c.Request.Context(), &msg); err != nil {
		slog.Error("queued email failed", "type", msg.Type, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Email sending failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *EmailJobHandler) authorized(header string) bool {
	if h.secret == "" {
		return false
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) == 1
}
