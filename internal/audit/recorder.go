package audit

import (
	"context"
	"log/slog"

	"github.com/rnblock/api-key-provider/internal/db/models"
)

// Store persists audit log rows
type Store interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Recorder writes audit entries to the store and forwards each stored entry to the shippers.
// Shipping failures are logged and never fail the write.
type Recorder struct {
	store    Store
	shippers []Shipper
}

// NewRecorder wraps store with the given shippers
func NewRecorder(store Store, shippers ...Shipper) *Recorder {
	return &Recorder{store: store, shippers: shippers}
}

// CreateAuditLog stores the entry, then ships it
func (r *Recorder) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if err := r.store.CreateAuditLog(ctx, log); err != nil {
		return err
	}
	if len(r.shippers) == 0 {
		return nil
	}
	entry := EntryFromModel(log)
	for _, s := range r.shippers {
		if err := s.Ship(ctx, entry); err != nil {
			slog.Warn("failed to ship audit entry", "action", entry.Action, "error", err)
		}
	}
	return nil
}

// Close closes every shipper, returning the last error
func (r *Recorder) Close() error {
	var lastErr error
	for _, s := range r.shippers {
		if err := s.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
