package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rnblock/api-key-provider/internal/config"
	"github.com/rnblock/api-key-provider/internal/db/models"
)

// captureWriter collects audit rows via a buffered channel
type captureWriter struct {
	ch chan *models.AuditLog
}

func newCaptureWriter() *captureWriter {
	return &captureWriter{ch: make(chan *models.AuditLog, 4)}
}

func (w *captureWriter) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	w.ch <- log
	return nil
}

func (w *captureWriter) wait(t *testing.T) *models.AuditLog {
	t.Helper()
	select {
	case e := <-w.ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit log entry")
		return nil
	}
}

func (w *captureWriter) expectNone(t *testing.T) {
	t.Helper()
	select {
	case e := <-w.ch:
		t.Fatalf("unexpected audit entry %q", e.Action)
	case <-time.After(100 * time.Millisecond):
	}
}

var auditOn = config.AuditConfig{Enabled: true}

func newAuditRouter(w AuditWriter, cfg config.AuditConfig, status int) *gin.Engine {
	r := gin.New()
	handler := func(c *gin.Context) {
		c.Set(ContextUserID, "user-1")
		c.Set(ContextOrganizationID, "org-1")
		c.Set(ContextAuthMethod, AuthMethodSession)
		c.Set(AuditResourceIDKey, "org-1")
		c.Status(status)
	}
	audit := AuditMiddleware(w, cfg, "organization.create_default", "organization")
	r.POST("/orgs/default", audit, handler)
	r.GET("/orgs/default", audit, handler)
	return r
}

func TestAuditMiddleware_RecordsMutation(t *testing.T) {
	w := newCaptureWriter()
	req := httptest.NewRequest(http.MethodPost, "/orgs/default", nil)
	req.RemoteAddr = "203.0.113.5:4000"
	serve(newAuditRouter(w, auditOn, http.StatusOK), req)

	e := w.wait(t)
	if e.Action != "organization.create_default" {
		t.Errorf("Action = %q", e.Action)
	}
	if e.UserID == nil || *e.UserID != "user-1" || e.OrganizationID == nil || *e.OrganizationID != "org-1" {
		t.Errorf("identity not recorded: %+v", e)
	}
	if e.ResourceType == nil || *e.ResourceType != "organization" || e.ResourceID == nil || *e.ResourceID != "org-1" {
		t.Errorf("resource not recorded: %+v", e)
	}
	if e.IPAddress == nil || *e.IPAddress != "203.0.113.5" {
		t.Errorf("IPAddress = %v", e.IPAddress)
	}
	if e.Metadata["route"] != "/orgs/default" || e.Metadata["status_code"] != http.StatusOK || e.Metadata["auth_method"] != AuthMethodSession {
		t.Errorf("Metadata = %v", e.Metadata)
	}
}

func TestAuditMiddleware_Skips(t *testing.T) {
	t.Run("failed request", func(t *testing.T) {
		w := newCaptureWriter()
		serve(newAuditRouter(w, auditOn, http.StatusForbidden), httptest.NewRequest(http.MethodPost, "/orgs/default", nil))
		w.expectNone(t)
	})

	t.Run("read operation", func(t *testing.T) {
		w := newCaptureWriter()
		serve(newAuditRouter(w, auditOn, http.StatusOK), httptest.NewRequest(http.MethodGet, "/orgs/default", nil))
		w.expectNone(t)
	})

	t.Run("disabled", func(t *testing.T) {
		w := newCaptureWriter()
		serve(newAuditRouter(w, config.AuditConfig{}, http.StatusOK), httptest.NewRequest(http.MethodPost, "/orgs/default", nil))
		w.expectNone(t)
	})

	t.Run("nil writer", func(t *testing.T) {
		rec := serve(newAuditRouter(nil, auditOn, http.StatusOK), httptest.NewRequest(http.MethodPost, "/orgs/default", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d", rec.Code)
		}
	})
}

func TestAuditMiddleware_ReadOperationsEnabled(t *testing.T) {
	w := newCaptureWriter()
	cfg := config.AuditConfig{Enabled: true, LogReadOperations: true}
	serve(newAuditRouter(w, cfg, http.StatusOK), httptest.NewRequest(http.MethodGet, "/orgs/default", nil))
	if e := w.wait(t); e.Metadata["method"] != http.MethodGet {
		t.Errorf("method = %v", e.Metadata["method"])
	}
}
