// Package audit ships stored audit log entries to external destinations. The database row
// written by the audit repository stays the record of truth; shippers forward a copy to a
// SIEM webhook or a local JSON-lines file for long-term retention outside the service.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/imroc/req/v3"

	"github.com/rnblock/api-key-provider/internal/config"
	"github.com/rnblock/api-key-provider/internal/db/models"
	"github.com/rnblock/api-key-provider/internal/safego"
)

// LogEntry is the wire form of an audit log entry
type LogEntry struct {
	ID             string                 `json:"id,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	Action         string                 `json:"action"`
	UserID         string                 `json:"user_id,omitempty"`
	OrganizationID string                 `json:"organization_id,omitempty"`
	ResourceType   string                 `json:"resource_type,omitempty"`
	ResourceID     string                 `json:"resource_id,omitempty"`
	IPAddress      string                 `json:"ip_address,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// EntryFromModel flattens a stored audit log row
func EntryFromModel(l *models.AuditLog) *LogEntry {
	return &LogEntry{
		ID:             l.ID,
		Timestamp:      l.CreatedAt.UTC(),
		Action:         l.Action,
		UserID:         deref(l.UserID),
		OrganizationID: deref(l.OrganizationID),
		ResourceType:   deref(l.ResourceType),
		ResourceID:     deref(l.ResourceID),
		IPAddress:      deref(l.IPAddress),
		Metadata:       l.Metadata,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Shipper defines the interface for audit log shipping
type Shipper interface {
	// Ship sends an audit log entry to the destination
	Ship(ctx context.Context, entry *LogEntry) error
	// Close flushes pending entries and releases resources
	Close() error
}

// NewShippers builds the shippers enabled in the audit section. Sinks without a URL or path
// are skipped.
func NewShippers(cfg config.AuditConfig) ([]Shipper, error) {
	var shippers []Shipper
	if cfg.Webhook.URL != "" {
		shippers = append(shippers, NewWebhookShipper(cfg.Webhook))
	}
	if cfg.File.Path != "" {
		fs, err := NewFileShipper(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to create file shipper: %w", err)
		}
		shippers = append(shippers, fs)
	}
	return shippers, nil
}

// WebhookShipper posts audit entries to an HTTP collector, optionally in batches
type WebhookShipper struct {
	cfg       config.AuditWebhookConfig
	client    *req.Client
	batchCh   chan *LogEntry
	batch     []*LogEntry
	closeCh   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewWebhookShipper creates a webhook shipper; a positive BatchSize starts the batch loop
func NewWebhookShipper(cfg config.AuditWebhookConfig) *WebhookShipper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	client := req.C().
		SetTimeout(cfg.Timeout).
		SetUserAgent("api-key-provider-audit")
	if cfg.Token != "" {
		client.SetCommonBearerAuthToken(cfg.Token)
	}

	ws := &WebhookShipper{
		cfg:     cfg,
		client:  client,
		batchCh: make(chan *LogEntry, 1000),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
	if cfg.BatchSize > 0 {
		safego.Go("audit.webhook_batch", ws.processBatches)
	} else {
		close(ws.done)
	}
	return ws
}

func (ws *WebhookShipper) processBatches() {
	defer close(ws.done)

	ticker := time.NewTicker(ws.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-ws.batchCh:
			ws.batch = append(ws.batch, entry)
			if len(ws.batch) >= ws.cfg.BatchSize {
				ws.flushBatch()
			}
		case <-ticker.C:
			ws.flushBatch()
		case <-ws.closeCh:
			for {
				select {
				case entry := <-ws.batchCh:
					ws.batch = append(ws.batch, entry)
				default:
					ws.flushBatch()
					return
				}
			}
		}
	}
}

func (ws *WebhookShipper) flushBatch() {
	if len(ws.batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ws.cfg.Timeout)
	defer cancel()
	if err := ws.post(ctx, ws.batch); err != nil {
		slog.Error("failed to ship audit batch", "entries", len(ws.batch), "error", err)
	}
	ws.batch = ws.batch[:0]
}

// Ship queues the entry when batching, or posts it directly. A full queue falls back to a
// direct post.
func (ws *WebhookShipper) Ship(ctx context.Context, entry *LogEntry) error {
	if ws.cfg.BatchSize > 0 {
		select {
		case ws.batchCh <- entry:
			return nil
		default:
		}
	}
	return ws.post(ctx, entry)
}

func (ws *WebhookShipper) post(ctx context.Context, body interface{}) error {
	resp, err := ws.client.R().
		SetContext(ctx).
		SetBodyJsonMarshal(body).
		Post(ws.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to send audit webhook: %w", err)
	}
	if resp.IsErrorState() {
		return fmt.Errorf("audit webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close flushes the pending batch and stops the batch loop
func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() {
		close(ws.closeCh)
	})
	<-ws.done
	return nil
}

// FileShipper appends audit entries as JSON lines and rotates by size
type FileShipper struct {
	cfg  config.AuditFileConfig
	file *os.File
	mu   sync.Mutex
}

// NewFileShipper opens (or creates) the audit file for appending
func NewFileShipper(cfg config.AuditFileConfig) (*FileShipper, error) {
	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return &FileShipper{cfg: cfg, file: file}, nil
}

// Ship writes one entry per line
func (fs *FileShipper) Ship(_ context.Context, entry *LogEntry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.cfg.MaxSizeMB > 0 {
		info, err := fs.file.Stat()
		if err == nil && info.Size() > int64(fs.cfg.MaxSizeMB)*1024*1024 {
			if err := fs.rotate(); err != nil {
				return fmt.Errorf("failed to rotate audit log: %w", err)
			}
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// rotate shifts path.N to path.N+1, moves the live file to path.1 and reopens path
func (fs *FileShipper) rotate() error {
	if err := fs.file.Close(); err != nil {
		return err
	}

	for i := fs.cfg.MaxBackups - 1; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", fs.cfg.Path, i), fmt.Sprintf("%s.%d", fs.cfg.Path, i+1))
	}
	if fs.cfg.MaxBackups > 0 {
		_ = os.Rename(fs.cfg.Path, fs.cfg.Path+".1")
		_ = os.Remove(fmt.Sprintf("%s.%d", fs.cfg.Path, fs.cfg.MaxBackups+1))
	} else {
		_ = os.Remove(fs.cfg.Path)
	}

	file, err := os.OpenFile(fs.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	fs.file = file
	return nil
}

// Close closes the file
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}
