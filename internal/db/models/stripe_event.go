// Package models - stripe_event.go defines the audit row kept for every verified Stripe webhook
// delivery and the legacy subscription record.
package models

import "time"

// StripeEvent records a webhook delivery. EventID is unique, which makes redelivery detectable.
type StripeEvent struct {
	ID              string
	EventID         string
	Type            string
	Payload         []byte
	Processed       bool
	ProcessingError *string
	ReceivedAt      time.Time
	ProcessedAt     *time.Time
}

// Subscription statuses written by the webhook handler
const (
	SubscriptionStatusActive  = "active"
	SubscriptionStatusPastDue = "past_due"
)

// PremiumUser is a legacy subscription-based premium account
type PremiumUser struct {
	ID                   string
	UserID               string
	StripeCustomerID     string
	StripeSubscriptionID string
	SubscriptionStatus   string
	CurrentPeriodEnd     time.Time
	CanceledAt           *time.Time
	UpgradedAt           time.Time
}
