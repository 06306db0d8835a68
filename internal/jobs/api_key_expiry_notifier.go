// api_key_expiry_notifier.go implements the job that warns key owners before an API key
// expires. The expiry_notification_sent_at column records each warning so a key is announced
// once, across restarts and across instances.
package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rnblock/api-key-provider/internal/db/models"
	"github.com/rnblock/api-key-provider/internal/mail"
	"github.com/rnblock/api-key-provider/internal/telemetry"
)

const defaultWarningDays = 7

// ExpiringKeyStore finds keys close to expiry and records sent warnings
type ExpiringKeyStore interface {
	FindExpiringKeys(ctx context.Context, warningDays int) ([]*models.APIKey, error)
	MarkExpiryNotificationSent(ctx context.Context, keyID string) error
}

// UserLookup loads a key owner
type UserLookup interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// MailDispatcher queues transactional email
type MailDispatcher interface {
	Dispatch(ctx context.Context, msg *mail.Message) error
}

// APIKeyExpiryNotifier emails the creator of every active key that expires within the warning
// window and has not been announced yet.
type APIKeyExpiryNotifier struct {
	keys        ExpiringKeyStore
	users       UserLookup
	mail        MailDispatcher
	warningDays int
	publicURL   string
}

// NewAPIKeyExpiryNotifier creates the notifier. warningDays <= 0 selects seven days.
func NewAPIKeyExpiryNotifier(keys ExpiringKeyStore, users UserLookup, dispatcher MailDispatcher, warningDays int, publicURL string) *APIKeyExpiryNotifier {
	if warningDays <= 0 {
		warningDays = defaultWarningDays
	}
	return &APIKeyExpiryNotifier{
		keys:        keys,
		users:       users,
		mail:        dispatcher,
		warningDays: warningDays,
		publicURL:   publicURL,
	}
}

func (n *APIKeyExpiryNotifier) Name() string { return "api_key_expiry_notifier" }

// Run sends one warning per expiring key. Failures for a single key are logged and skipped so
// the key is retried on the next run.
func (n *APIKeyExpiryNotifier) Run(ctx context.Context) error {
	keys, err := n.keys.FindExpiringKeys(ctx, n.warningDays)
	if err != nil {
		return fmt.Errorf("failed to query expiring keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	slog.Info("api keys approaching expiry", "count", len(keys), "warning_days", n.warningDays)

	for _, key := range keys {
		if key.CreatedBy == nil || key.ExpiresAt == nil {
			continue
		}

		user, err := n.users.GetUserByID(ctx, *key.CreatedBy)
		if err != nil {
			slog.Warn("expiry notifier could not load key owner", "key_id", key.ID, "user_id", *key.CreatedBy, "error", err)
			continue
		}
		if user == nil || user.Email == "" {
			continue
		}

		err = n.mail.Dispatch(ctx, &mail.Message{
			Type:      mail.TypeKeyExpiry,
			To:        user.Email,
			Name:      user.Name,
			KeyName:   key.KeyName,
			ExpiresAt: key.ExpiresAt,
			URL:       n.publicURL + "/dashboard/keys",
		})
		if err != nil {
			slog.Error("failed to send key expiry warning", "key_id", key.ID, "error", err)
			continue
		}
		telemetry.APIKeyExpiryNotificationsSentTotal.Inc()

		if err := n.keys.MarkExpiryNotificationSent(ctx, key.ID); err != nil {
			slog.Error("failed to mark expiry warning sent", "key_id", key.ID, "error", err)
		}
	}
	return nil
}
