// audit.go provides Gin middleware that records authenticated dashboard mutations to the audit
// log. API key mutations are audited by the key service itself with richer metadata.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rnblock/api-key-provider/internal/config"
	"github.com/rnblock/api-key-provider/internal/db/models"
	"github.com/rnblock/api-key-provider/internal/safego"
)

const auditWriteTimeout = 5 * time.Second

// AuditWriter persists audit log rows
type AuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuditMiddleware records the request as action with the given resource type once the handler
// has run. Failed requests are skipped; GET requests are recorded only when read operations are
// enabled. A disabled audit section or nil writer turns the middleware into a pass-through.
func AuditMiddleware(writer AuditWriter, cfg config.AuditConfig, action, resourceType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if writer == nil || !cfg.Enabled {
			return
		}
		if c.Writer.Status() >= http.StatusBadRequest {
			return
		}
		if c.Request.Method == http.MethodGet && !cfg.LogReadOperations {
			return
		}

		entry := auditEntry(c, action, resourceType)
		safego.Go("audit.middleware", func() {
			ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
			defer cancel()
			if err := writer.CreateAuditLog(ctx, entry); err != nil {
				slog.Error("failed to write audit log", "action", entry.Action, "error", err)
			}
		})
	}
}

func auditEntry(c *gin.Context, action, resourceType string) *models.AuditLog {
	ip := c.ClientIP()
	entry := &models.AuditLog{
		Action:    action,
		IPAddress: &ip,
		CreatedAt: time.Now(),
		Metadata: map[string]interface{}{
			"method":      c.Request.Method,
			"route":       c.FullPath(),
			"status_code": c.Writer.Status(),
		},
	}
	if resourceType != "" {
		entry.ResourceType = &resourceType
	}
	if id := c.GetString(ContextUserID); id != "" {
		entry.UserID = &id
	}
	if id := c.GetString(ContextOrganizationID); id != "" {
		entry.OrganizationID = &id
	}
	if method := c.GetString(ContextAuthMethod); method != "" {
		entry.Metadata["auth_method"] = method
	}
	if id := strings.TrimSpace(c.GetString(AuditResourceIDKey)); id != "" {
		entry.ResourceID = &id
	}
	return entry
}

// AuditResourceIDKey lets a handler name the resource it created or changed
const AuditResourceIDKey = "audit_resource_id"
