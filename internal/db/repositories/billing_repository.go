// billing_repository.go implements BillingRepository, which records Stripe webhook deliveries and
// applies their effects. Every mutating method locks the event row and checks its processed flag
// inside the same transaction that changes balances, so a redelivered event is applied at most once.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rnblock/api-key-provider/internal/db/models"
)

// ErrEventAlreadyProcessed is returned when a locked event row is already marked processed
var ErrEventAlreadyProcessed = errors.New("stripe event already processed")

// ErrEventNotRecorded is returned when an event is applied before it was recorded
var ErrEventNotRecorded = errors.New("stripe event not recorded")

// BillingRepository handles Stripe event and subscription database operations
type BillingRepository struct {
	db *sql.DB
}

// NewBillingRepository creates a new BillingRepository
func NewBillingRepository(db *sql.DB) *BillingRepository {
	return &BillingRepository{db: db}
}

// CreditPurchaseResult describes the wallet credited by a purchase
type CreditPurchaseResult struct {
	OrganizationID string
	CreatedOrg     bool
	Wallet         *models.Wallet
}

// RecordEvent stores a webhook delivery unless its event id was seen before.
// It returns the stored row, which for a redelivery carries the earlier processed state.
func (r *BillingRepository) RecordEvent(ctx context.Context, eventID, eventType string, payload []byte) (*models.StripeEvent, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stripe_events (id, event_id, type, payload, processed, received_at)
		VALUES ($1, $2, $3, $4, false, $5)
		ON CONFLICT (event_id) DO NOTHING`,
		uuid.New().String(), eventID, eventType, payload, time.Now(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record stripe event: %w", err)
	}

	event, err := r.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, ErrEventNotRecorded
	}
	return event, nil
}

// GetEvent retrieves a recorded event by its Stripe event id
func (r *BillingRepository) GetEvent(ctx context.Context, eventID string) (*models.StripeEvent, error) {
	query := `
		SELECT id, event_id, type, payload, processed, processing_error, received_at, processed_at
		FROM stripe_events
		WHERE event_id = $1
	`

	e := &models.StripeEvent{}
	err := r.db.QueryRowContext(ctx, query, eventID).Scan(
		&e.ID,
		&e.EventID,
		&e.Type,
		&e.Payload,
		&e.Processed,
		&e.ProcessingError,
		&e.ReceivedAt,
		&e.ProcessedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stripe event: %w", err)
	}
	return e, nil
}

// MarkEventProcessed flags an event handled without any balance change
func (r *BillingRepository) MarkEventProcessed(ctx context.Context, eventID string) error {
	return markEventProcessed(ctx, r.db, eventID)
}

// MarkEventFailed stores the processing error of an event; the event stays unprocessed so a
// redelivery is retried.
func (r *BillingRepository) MarkEventFailed(ctx context.Context, eventID, processingErr string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE stripe_events SET processing_error = $2 WHERE event_id = $1`,
		eventID, processingErr,
	)
	if err != nil {
		return fmt.Errorf("failed to record stripe event error: %w", err)
	}
	return nil
}

// ApplyCreditPurchase credits a completed checkout to the buyer's first organization. When the
// buyer has no organization, fallbackOrg is created with the buyer as owner. The event row is
// locked for the duration and marked processed on commit.
func (r *BillingRepository) ApplyCreditPurchase(ctx context.Context, eventID, userID string, credits int, fallbackOrg *models.Organization) (*CreditPurchaseResult, error) {
	if credits <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", credits)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockUnprocessedEvent(ctx, tx, eventID); err != nil {
		return nil, err
	}

	result := &CreditPurchaseResult{}
	orgID, err := firstMembershipOrgID(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if orgID == "" {
		if err := createOrganizationWithOwner(ctx, tx, fallbackOrg, userID); err != nil {
			return nil, err
		}
		orgID = fallbackOrg.ID
		result.CreatedOrg = true
	}
	result.OrganizationID = orgID

	if _, err := ensureWallet(ctx, tx, orgID); err != nil {
		return nil, err
	}
	if result.Wallet, err = creditWallet(ctx, tx, orgID, credits); err != nil {
		return nil, err
	}
	if err := markEventProcessed(ctx, tx, eventID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit credit purchase: %w", err)
	}
	return result, nil
}

// CreatePremiumUser records a new legacy subscription for the event, replacing any earlier
// subscription of the same user. It returns false without error when the subscription id is
// already known; the event is marked processed either way.
func (r *BillingRepository) CreatePremiumUser(ctx context.Context, eventID string, p *models.PremiumUser) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockUnprocessedEvent(ctx, tx, eventID); err != nil {
		return false, err
	}

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM premium_users WHERE stripe_subscription_id = $1)`,
		p.StripeSubscriptionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check subscription: %w", err)
	}

	if !exists {
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		p.UpgradedAt = time.Now()
		// a user keeps one row; a new subscription replaces the previous one
		err = tx.QueryRowContext(ctx, `
			INSERT INTO premium_users (id, user_id, stripe_customer_id, stripe_subscription_id,
			                           subscription_status, current_period_end, upgraded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (user_id) DO UPDATE
			SET stripe_customer_id = EXCLUDED.stripe_customer_id,
			    stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			    subscription_status = EXCLUDED.subscription_status,
			    current_period_end = EXCLUDED.current_period_end,
			    upgraded_at = EXCLUDED.upgraded_at,
			    canceled_at = NULL
			RETURNING id`,
			p.ID, p.UserID, p.StripeCustomerID, p.StripeSubscriptionID,
			p.SubscriptionStatus, p.CurrentPeriodEnd, p.UpgradedAt,
		).Scan(&p.ID)
		if err != nil {
			return false, fmt.Errorf("failed to create premium user: %w", err)
		}
	}

	if err := markEventProcessed(ctx, tx, eventID); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit premium user: %w", err)
	}
	return !exists, nil
}

// UpdateSubscription writes the latest state of a subscription. Returns false when unknown.
func (r *BillingRepository) UpdateSubscription(ctx context.Context, subscriptionID, status string, periodEnd time.Time, canceledAt *time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE premium_users
		SET subscription_status = $2, current_period_end = $3, canceled_at = $4
		WHERE stripe_subscription_id = $1`,
		subscriptionID, status, periodEnd, canceledAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update subscription: %w", err)
	}
	return rowsChanged(res)
}

// SetSubscriptionStatus changes only the status of a subscription. Returns false when unknown.
func (r *BillingRepository) SetSubscriptionStatus(ctx context.Context, subscriptionID, status string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE premium_users SET subscription_status = $2 WHERE stripe_subscription_id = $1`,
		subscriptionID, status,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update subscription status: %w", err)
	}
	return rowsChanged(res)
}

// DeleteSubscription removes a premium user by subscription id. Returns false when unknown.
func (r *BillingRepository) DeleteSubscription(ctx context.Context, subscriptionID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM premium_users WHERE stripe_subscription_id = $1`, subscriptionID)
	if err != nil {
		return false, fmt.Errorf("failed to delete subscription: %w", err)
	}
	return rowsChanged(res)
}

// lockUnprocessedEvent takes a row lock on the event and fails when it is already processed
func lockUnprocessedEvent(ctx context.Context, q querier, eventID string) error {
	var processed bool
	err := q.QueryRowContext(ctx,
		`SELECT processed FROM stripe_events WHERE event_id = $1 FOR UPDATE`, eventID,
	).Scan(&processed)
	if err == sql.ErrNoRows {
		return ErrEventNotRecorded
	}
	if err != nil {
		return fmt.Errorf("failed to lock stripe event: %w", err)
	}
	if processed {
		return ErrEventAlreadyProcessed
	}
	return nil
}

func markEventProcessed(ctx context.Context, q querier, eventID string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE stripe_events
		SET processed = true, processed_at = $2, processing_error = NULL
		WHERE event_id = $1`,
		eventID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark stripe event processed: %w", err)
	}
	return nil
}

func rowsChanged(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
