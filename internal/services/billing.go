package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/tidwall/gjson"

	"github.com/rnblock/api-key-provider/internal/config"
	"github.com/rnblock/api-key-provider/internal/db/models"
	"github.com/rnblock/api-key-provider/internal/db/repositories"
	"github.com/rnblock/api-key-provider/internal/telemetry"
)

// Stripe event types handled by the webhook
const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventSubscriptionCreated  = "customer.subscription.created"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

const (
	defaultSubscriptionPeriod = 30 * 24 * time.Hour
	defaultWebhookTolerance   = 5 * time.Minute

	checkoutModePayment      = "payment"
	checkoutModeSubscription = "subscription"

	webhookOutcomeProcessed    = "processed"
	webhookOutcomeDuplicate    = "duplicate"
	webhookOutcomeFailed       = "failed"
	webhookOutcomeIgnored      = "ignored"
	webhookOutcomeMissingInput = "missing_metadata"
)

var (
	// ErrInvalidSignature is returned when a webhook payload fails signature verification
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrBillingMisconfigured is returned when Stripe keys or price ids are unusable
	ErrBillingMisconfigured = errors.New("billing is not configured")
)

// Plan is a purchasable credit pack
type Plan struct {
	Type    string `json:"planType"`
	Name    string `json:"planName"`
	Credits int    `json:"creditAmount"`
	PriceID string `json:"-"`
}

// Plans returns the credit packs with their configured Stripe price ids
func Plans(prices config.StripePricesConfig) map[string]Plan {
	return map[string]Plan{
		"developer": {Type: "developer", Name: "Developer Pack", Credits: 1000, PriceID: prices.Developer},
		"startup":   {Type: "startup", Name: "Startup Pack", Credits: 5000, PriceID: prices.Startup},
		"scale":     {Type: "scale", Name: "Scale Pack", Credits: 25000, PriceID: prices.Scale},
	}
}

// BillingStore persists webhook deliveries and their effects
type BillingStore interface {
	RecordEvent(ctx context.Context, eventID, eventType string, payload []byte) (*models.StripeEvent, error)
	MarkEventProcessed(ctx context.Context, eventID string) error
	MarkEventFailed(ctx context.Context, eventID, processingErr string) error
	ApplyCreditPurchase(ctx context.Context, eventID, userID string, credits int, fallbackOrg *models.Organization) (*repositories.CreditPurchaseResult, error)
	CreatePremiumUser(ctx context.Context, eventID string, p *models.PremiumUser) (bool, error)
	UpdateSubscription(ctx context.Context, subscriptionID, status string, periodEnd time.Time, canceledAt *time.Time) (bool, error)
	SetSubscriptionStatus(ctx context.Context, subscriptionID, status string) (bool, error)
	DeleteSubscription(ctx context.Context, subscriptionID string) (bool, error)
}

// CheckoutCreator opens hosted checkout sessions
type CheckoutCreator interface {
	CreateCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeCheckout creates sessions through the Stripe API
type StripeCheckout struct {
	client *session.Client
}

// NewStripeCheckout returns a checkout client authenticated with secretKey
func NewStripeCheckout(secretKey string) *StripeCheckout {
	return &StripeCheckout{client: &session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey}}
}

// CreateCheckoutSession implements CheckoutCreator
func (s *StripeCheckout) CreateCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return s.client.New(params)
}

// VerifiedEvent is the part of a signed webhook event needed for dispatch
type VerifiedEvent struct {
	ID      string
	Type    string
	Payload []byte
}

// BillingService verifies and applies Stripe webhooks and opens credit checkouts
type BillingService struct {
	store      BillingStore
	checkout   CheckoutCreator
	plans      map[string]Plan
	cfg        config.StripeConfig
	publicURL  string
	production bool
	now        func() time.Time
}

// NewBillingService creates a BillingService. checkout may be nil when no secret key is set.
func NewBillingService(store BillingStore, checkout CheckoutCreator, cfg *config.Config) *BillingService {
	return &BillingService{
		store:      store,
		checkout:   checkout,
		plans:      Plans(cfg.Stripe.Prices),
		cfg:        cfg.Stripe,
		publicURL:  cfg.Server.GetPublicURL(),
		production: cfg.IsProduction(),
		now:        time.Now,
	}
}

// VerifyWebhook checks the Stripe-Signature header against the raw payload
func (s *BillingService) VerifyWebhook(payload []byte, signature string) (*VerifiedEvent, error) {
	if signature == "" {
		return nil, fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}
	if s.cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret not set", ErrBillingMisconfigured)
	}
	tolerance := s.cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = defaultWebhookTolerance
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return &VerifiedEvent{ID: event.ID, Type: string(event.Type), Payload: payload}, nil
}

// HandleEvent records a verified event and applies it once. A redelivery of a processed
// event is a no-op. Failures are stored on the event row and returned for logging.
func (s *BillingService) HandleEvent(ctx context.Context, ev *VerifiedEvent) error {
	stored, err := s.store.RecordEvent(ctx, ev.ID, ev.Type, ev.Payload)
	if err != nil {
		s.observe(ev.Type, webhookOutcomeFailed)
		return err
	}
	if stored.Processed {
		slog.Info("stripe event already processed", "event_id", ev.ID, "type", ev.Type)
		s.observe(ev.Type, webhookOutcomeDuplicate)
		return nil
	}

	outcome, err := s.apply(ctx, ev)
	if errors.Is(err, repositories.ErrEventAlreadyProcessed) {
		s.observe(ev.Type, webhookOutcomeDuplicate)
		return nil
	}
	if err != nil {
		s.observe(ev.Type, webhookOutcomeFailed)
		if markErr := s.store.MarkEventFailed(ctx, ev.ID, err.Error()); markErr != nil {
			slog.Error("failed to record stripe event error", "event_id", ev.ID, "error", markErr)
		}
		return fmt.Errorf("stripe event %s (%s): %w", ev.ID, ev.Type, err)
	}
	s.observe(ev.Type, outcome)
	return nil
}

func (s *BillingService) apply(ctx context.Context, ev *VerifiedEvent) (string, error) {
	obj := gjson.GetBytes(ev.Payload, "data.object")

	switch ev.Type {
	case EventCheckoutCompleted:
		return s.checkoutCompleted(ctx, ev, obj)
	case EventSubscriptionCreated:
		return s.subscriptionCreated(ctx, ev, obj)
	case EventSubscriptionUpdated:
		subID := obj.Get("id").String()
		var canceledAt *time.Time
		if c := obj.Get("canceled_at"); c.Exists() && c.Type != gjson.Null {
			t := time.Unix(c.Int(), 0)
			canceledAt = &t
		}
		found, err := s.store.UpdateSubscription(ctx, subID, obj.Get("status").String(), s.periodEnd(obj), canceledAt)
		if err != nil {
			return "", err
		}
		if !found {
			slog.Warn("subscription update for unknown subscription", "subscription_id", subID)
		}
		return webhookOutcomeProcessed, s.store.MarkEventProcessed(ctx, ev.ID)
	case EventSubscriptionDeleted:
		subID := obj.Get("id").String()
		found, err := s.store.DeleteSubscription(ctx, subID)
		if err != nil {
			return "", err
		}
		if !found {
			slog.Warn("subscription deletion for unknown subscription", "subscription_id", subID)
		}
		return webhookOutcomeProcessed, s.store.MarkEventProcessed(ctx, ev.ID)
	case EventInvoicePaymentFailed:
		subID := firstString(obj, "subscription", "parent.subscription_details.subscription")
		if subID == "" {
			slog.Info("payment failure without subscription", "event_id", ev.ID)
			return webhookOutcomeIgnored, s.store.MarkEventProcessed(ctx, ev.ID)
		}
		found, err := s.store.SetSubscriptionStatus(ctx, subID, models.SubscriptionStatusPastDue)
		if err != nil {
			return "", err
		}
		if !found {
			slog.Warn("payment failure for unknown subscription", "subscription_id", subID)
		}
		return webhookOutcomeProcessed, s.store.MarkEventProcessed(ctx, ev.ID)
	default:
		slog.Debug("stripe event recorded without handler", "event_id", ev.ID, "type", ev.Type)
		return webhookOutcomeIgnored, nil
	}
}

func (s *BillingService) checkoutCompleted(ctx context.Context, ev *VerifiedEvent, obj gjson.Result) (string, error) {
	mode := obj.Get("mode").String()
	if mode == checkoutModeSubscription {
		slog.Info("legacy subscription checkout completed", "event_id", ev.ID, "session_id", obj.Get("id").String())
		return webhookOutcomeIgnored, s.store.MarkEventProcessed(ctx, ev.ID)
	}
	if mode != checkoutModePayment {
		slog.Warn("checkout completed with unexpected mode", "event_id", ev.ID, "mode", mode)
		return webhookOutcomeIgnored, nil
	}

	userID := obj.Get("metadata.userId").String()
	credits := int(obj.Get("metadata.creditAmount").Int())
	if userID == "" || credits <= 0 {
		slog.Error("checkout session missing purchase metadata", "event_id", ev.ID, "user_id", userID)
		s.failWithoutRetry(ctx, ev.ID, "missing userId or creditAmount metadata")
		return webhookOutcomeMissingInput, nil
	}

	result, err := s.store.ApplyCreditPurchase(ctx, ev.ID, userID, credits, PersonalWorkspace())
	if err != nil {
		return "", err
	}

	plan := obj.Get("metadata.planType").String()
	if plan == "" {
		plan = "unknown"
	}
	telemetry.CreditsPurchasedTotal.WithLabelValues(plan).Add(float64(credits))
	slog.Info("credits purchased",
		"event_id", ev.ID,
		"user_id", userID,
		"organization_id", result.OrganizationID,
		"credits", credits,
		"created_org", result.CreatedOrg,
	)
	return webhookOutcomeProcessed, nil
}

func (s *BillingService) subscriptionCreated(ctx context.Context, ev *VerifiedEvent, obj gjson.Result) (string, error) {
	userID := obj.Get("metadata.userId").String()
	if userID == "" {
		slog.Error("subscription created without userId metadata", "event_id", ev.ID)
		s.failWithoutRetry(ctx, ev.ID, "missing userId metadata")
		return webhookOutcomeMissingInput, nil
	}
	status := obj.Get("status").String()
	if status == "" {
		status = models.SubscriptionStatusActive
	}
	created, err := s.store.CreatePremiumUser(ctx, ev.ID, &models.PremiumUser{
		UserID:               userID,
		StripeCustomerID:     obj.Get("customer").String(),
		StripeSubscriptionID: obj.Get("id").String(),
		SubscriptionStatus:   status,
		CurrentPeriodEnd:     s.periodEnd(obj),
	})
	if err != nil {
		return "", err
	}
	if !created {
		slog.Info("subscription already recorded", "subscription_id", obj.Get("id").String())
	}
	return webhookOutcomeProcessed, nil
}

// periodEnd reads current_period_end from the subscription or its first item
func (s *BillingService) periodEnd(obj gjson.Result) time.Time {
	for _, path := range []string{"current_period_end", "items.data.0.current_period_end"} {
		if v := obj.Get(path); v.Exists() && v.Int() > 0 {
			return time.Unix(v.Int(), 0)
		}
	}
	return s.now().Add(defaultSubscriptionPeriod)
}

// failWithoutRetry stores an error for an event whose payload can never succeed
func (s *BillingService) failWithoutRetry(ctx context.Context, eventID, reason string) {
	if err := s.store.MarkEventFailed(ctx, eventID, reason); err != nil {
		slog.Error("failed to record stripe event error", "event_id", eventID, "error", err)
	}
}

func (s *BillingService) observe(eventType, outcome string) {
	telemetry.StripeWebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func firstString(obj gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := obj.Get(p).String(); v != "" {
			return v
		}
	}
	return ""
}

// CreateCheckout opens a payment-mode checkout for a credit pack and returns its URL
func (s *BillingService) CreateCheckout(ctx context.Context, user *models.User, planType string) (string, error) {
	if s.production && strings.HasPrefix(s.cfg.SecretKey, "sk_test_") {
		slog.Error("refusing checkout: test Stripe key configured in production")
		return "", fmt.Errorf("%w: test key in production", ErrBillingMisconfigured)
	}
	plan, ok := s.plans[planType]
	if !ok {
		return "", invalid("planType", "Invalid plan type")
	}
	if s.checkout == nil || plan.PriceID == "" {
		return "", fmt.Errorf("%w: no price for plan %s", ErrBillingMisconfigured, planType)
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(plan.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:    stripe.String(s.publicURL + s.cfg.SuccessPath),
		CancelURL:     stripe.String(s.publicURL + s.cfg.CancelPath),
		CustomerEmail: stripe.String(user.Email),
	}
	params.Context = ctx
	params.AddMetadata("userId", user.ID)
	params.AddMetadata("planType", plan.Type)
	params.AddMetadata("creditAmount", fmt.Sprintf("%d", plan.Credits))
	params.AddMetadata("planName", plan.Name)

	sess, err := s.checkout.CreateCheckoutSession(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	slog.Info("checkout session created", "user_id", user.ID, "plan", plan.Type, "session_id", sess.ID)
	return sess.URL, nil
}
