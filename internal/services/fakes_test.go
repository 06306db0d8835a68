package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"

	"github.com/rnblock/api-key-provider/internal/db/models"
	"github.com/rnblock/api-key-provider/internal/db/repositories"
	mailer "github.com/rnblock/api-key-provider/internal/mail"
)

var errStore = errors.New("store unavailable")

const (
	testOrgID  = "5f0c2a0e-8b1d-4c5e-9a57-2f4a9f1d3c11"
	testUserID = "user-1"
)

// ---------------------------------------------------------------------------
// memberships / organizations
// ---------------------------------------------------------------------------

type fakeOrgs struct {
	roles        map[string]string // orgID|userID -> role
	first        map[string]*models.UserMembership
	slugs        map[string]bool
	created      []*models.Organization
	resetAt      time.Time
	memberErr    error
	createErr    error
	memberships  []*models.UserMembership
	getMemberHit int
}

func newFakeOrgs() *fakeOrgs {
	return &fakeOrgs{
		roles: map[string]string{},
		first: map[string]*models.UserMembership{},
		slugs: map[string]bool{},
	}
}

func (f *fakeOrgs) grant(orgID, userID, role string) {
	f.roles[orgID+"|"+userID] = role
}

func (f *fakeOrgs) GetMember(_ context.Context, orgID, userID string) (*models.OrganizationMember, error) {
	f.getMemberHit++
	if f.memberErr != nil {
		return nil, f.memberErr
	}
	role, ok := f.roles[orgID+"|"+userID]
	if !ok {
		return nil, nil
	}
	return &models.OrganizationMember{OrganizationID: orgID, UserID: userID, Role: role}, nil
}

func (f *fakeOrgs) GetFirstMembership(_ context.Context, userID string) (*models.UserMembership, error) {
	if f.memberErr != nil {
		return nil, f.memberErr
	}
	return f.first[userID], nil
}

func (f *fakeOrgs) GetByID(_ context.Context, id string) (*models.Organization, error) {
	for _, o := range f.created {
		if o.ID == id {
			return o, nil
		}
	}
	return nil, nil
}

func (f *fakeOrgs) GetUserMemberships(_ context.Context, _ string) ([]*models.UserMembership, error) {
	return f.memberships, f.memberErr
}

func (f *fakeOrgs) SlugExists(_ context.Context, slug string) (bool, error) {
	return f.slugs[slug], nil
}

func (f *fakeOrgs) CreateWorkspace(_ context.Context, org *models.Organization, ownerID string, resetAt time.Time) error {
	if f.createErr != nil {
		return f.createErr
	}
	org.ID = uuid.New().String()
	org.OwnerID = &ownerID
	f.created = append(f.created, org)
	f.slugs[org.Slug] = true
	f.resetAt = resetAt
	f.first[ownerID] = &models.UserMembership{OrganizationID: org.ID, OrganizationName: org.Name, OrganizationSlug: org.Slug, Role: "owner"}
	return nil
}

// ---------------------------------------------------------------------------
// keys
// ---------------------------------------------------------------------------

type fakeKeys struct {
	mu      sync.Mutex
	keys    map[string]*models.APIKey
	revoked map[string]*string
	updates []*models.APIKeyPatch
	usage   []string
	err     error
}

func newFakeKeys() *fakeKeys {
	return &fakeKeys{keys: map[string]*models.APIKey{}, revoked: map[string]*string{}}
}

func (f *fakeKeys) add(k *models.APIKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[k.ID] = k
}

func (f *fakeKeys) CreateAPIKey(_ context.Context, k *models.APIKey) error {
	if f.err != nil {
		return f.err
	}
	k.ID = uuid.New().String()
	k.IsActive = true
	k.CreatedAt = time.Now()
	f.add(k)
	return nil
}

func (f *fakeKeys) GetAPIKeyByID(_ context.Context, id string) (*models.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys[id], nil
}

func (f *fakeKeys) GetAPIKeyByHash(_ context.Context, hash string) (*models.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, k := range f.keys {
		if k.KeyHash == hash {
			return k, nil
		}
	}
	return nil, nil
}

func (f *fakeKeys) ListAPIKeysByOrganization(_ context.Context, orgID string) ([]*models.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []*models.APIKey
	for _, k := range f.keys {
		if k.OrganizationID == orgID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeKeys) RevokeAPIKey(_ context.Context, id string, reason *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[id] = reason
	if k, ok := f.keys[id]; ok {
		k.IsActive = false
	}
	return nil
}

func (f *fakeKeys) DeleteAPIKey(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, id)
	return nil
}

func (f *fakeKeys) UpdateAPIKey(_ context.Context, id string, p *models.APIKeyPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, p)
	if k, ok := f.keys[id]; ok && p.KeyName != nil {
		k.KeyName = *p.KeyName
	}
	return nil
}

func (f *fakeKeys) RecordUsage(_ context.Context, id string, _ *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage = append(f.usage, id)
	if k, ok := f.keys[id]; ok {
		k.DailyUsed++
		k.MonthlyUsed++
	}
	return nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func (f *fakeAudit) CreateAuditLog(_ context.Context, l *models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, l)
	return nil
}

func (f *fakeAudit) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

type fakeCache struct {
	data        map[string][]KeyView
	invalidated []string
	flushed     int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]KeyView{}}
}

func (c *fakeCache) Get(_ context.Context, orgID string) ([]KeyView, bool) {
	v, ok := c.data[orgID]
	return v, ok
}

func (c *fakeCache) Set(_ context.Context, orgID string, keys []KeyView) {
	c.data[orgID] = keys
}

func (c *fakeCache) Invalidate(_ context.Context, orgID string) {
	delete(c.data, orgID)
	c.invalidated = append(c.invalidated, orgID)
}

func (c *fakeCache) InvalidateAll(context.Context) {
	c.data = map[string][]KeyView{}
	c.flushed++
}

// ---------------------------------------------------------------------------
// wallets
// ---------------------------------------------------------------------------

type fakeWallets struct {
	wallets map[string]*models.Wallet
	tests   map[string]*models.TestWallet
	err     error
}

func newFakeWallets() *fakeWallets {
	return &fakeWallets{wallets: map[string]*models.Wallet{}, tests: map[string]*models.TestWallet{}}
}

func (f *fakeWallets) GetWallet(_ context.Context, orgID string) (*models.Wallet, error) {
	return f.wallets[orgID], f.err
}

func (f *fakeWallets) GetOrCreateWallet(_ context.Context, orgID string) (*models.Wallet, error) {
	if f.err != nil {
		return nil, f.err
	}
	w, ok := f.wallets[orgID]
	if !ok {
		w = &models.Wallet{ID: uuid.New().String(), OrganizationID: orgID, Currency: models.DefaultCurrency}
		f.wallets[orgID] = w
	}
	return w, nil
}

func (f *fakeWallets) GetTestWallet(_ context.Context, userID string) (*models.TestWallet, error) {
	return f.tests[userID], f.err
}

// ---------------------------------------------------------------------------
// billing
// ---------------------------------------------------------------------------

type fakeBilling struct {
	events        map[string]*models.StripeEvent
	failed        map[string]string
	credited      map[string]int // userID -> credits
	fallback      *models.Organization
	premium       []*models.PremiumUser
	subscriptions map[string]string // subscription id -> status
	deleted       []string
	applyErr      error
	recordErr     error
}

func newFakeBilling() *fakeBilling {
	return &fakeBilling{
		events:        map[string]*models.StripeEvent{},
		failed:        map[string]string{},
		credited:      map[string]int{},
		subscriptions: map[string]string{},
	}
}

func (f *fakeBilling) RecordEvent(_ context.Context, eventID, eventType string, payload []byte) (*models.StripeEvent, error) {
	if f.recordErr != nil {
		return nil, f.recordErr
	}
	if e, ok := f.events[eventID]; ok {
		return e, nil
	}
	e := &models.StripeEvent{ID: uuid.New().String(), EventID: eventID, Type: eventType, Payload: payload}
	f.events[eventID] = e
	return e, nil
}

func (f *fakeBilling) markProcessed(eventID string) error {
	e, ok := f.events[eventID]
	if !ok {
		return repositories.ErrEventNotRecorded
	}
	e.Processed = true
	return nil
}

func (f *fakeBilling) lock(eventID string) error {
	e, ok := f.events[eventID]
	if !ok {
		return repositories.ErrEventNotRecorded
	}
	if e.Processed {
		return repositories.ErrEventAlreadyProcessed
	}
	return nil
}

func (f *fakeBilling) MarkEventProcessed(_ context.Context, eventID string) error {
	return f.markProcessed(eventID)
}

func (f *fakeBilling) MarkEventFailed(_ context.Context, eventID, msg string) error {
	f.failed[eventID] = msg
	return nil
}

func (f *fakeBilling) ApplyCreditPurchase(_ context.Context, eventID, userID string, credits int, fallback *models.Organization) (*repositories.CreditPurchaseResult, error) {
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	if err := f.lock(eventID); err != nil {
		return nil, err
	}
	f.credited[userID] += credits
	f.fallback = fallback
	return &repositories.CreditPurchaseResult{OrganizationID: "org-1", Wallet: &models.Wallet{Balance: f.credited[userID]}}, f.markProcessed(eventID)
}

func (f *fakeBilling) CreatePremiumUser(_ context.Context, eventID string, p *models.PremiumUser) (bool, error) {
	if err := f.lock(eventID); err != nil {
		return false, err
	}
	_, exists := f.subscriptions[p.StripeSubscriptionID]
	if !exists {
		f.premium = append(f.premium, p)
		f.subscriptions[p.StripeSubscriptionID] = p.SubscriptionStatus
	}
	return !exists, f.markProcessed(eventID)
}

func (f *fakeBilling) UpdateSubscription(_ context.Context, subID, status string, _ time.Time, _ *time.Time) (bool, error) {
	if _, ok := f.subscriptions[subID]; !ok {
		return false, nil
	}
	f.subscriptions[subID] = status
	return true, nil
}

func (f *fakeBilling) SetSubscriptionStatus(_ context.Context, subID, status string) (bool, error) {
	if _, ok := f.subscriptions[subID]; !ok {
		return false, nil
	}
	f.subscriptions[subID] = status
	return true, nil
}

func (f *fakeBilling) DeleteSubscription(_ context.Context, subID string) (bool, error) {
	if _, ok := f.subscriptions[subID]; !ok {
		return false, nil
	}
	delete(f.subscriptions, subID)
	f.deleted = append(f.deleted, subID)
	return true, nil
}

type fakeCheckout struct {
	params *stripe.CheckoutSessionParams
	err    error
}

func (f *fakeCheckout) CreateCheckoutSession(p *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = p
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

// ---------------------------------------------------------------------------
// accounts
// ---------------------------------------------------------------------------

type fakeUsers struct {
	users  map[string]*models.User
	tokens map[string]*models.VerificationToken // digest -> token
	err    error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: map[string]*models.User{}, tokens: map[string]*models.VerificationToken{}}
}

func (f *fakeUsers) CreateUser(_ context.Context, u *models.User) error {
	if f.err != nil {
		return f.err
	}
	u.ID = uuid.New().String()
	f.users[u.ID] = u
	return nil
}

func (f *fakeUsers) GetUserByID(_ context.Context, id string) (*models.User, error) {
	return f.users[id], f.err
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) GetUserByOIDC(_ context.Context, provider, sub string) (*models.User, error) {
	for _, u := range f.users {
		if u.OIDCProvider != nil && *u.OIDCProvider == provider && u.OIDCSub != nil && *u.OIDCSub == sub {
			return u, nil
		}
	}
	return nil, f.err
}

func (f *fakeUsers) LinkOIDCIdentity(_ context.Context, id, provider, sub string, verified bool) error {
	u := f.users[id]
	u.OIDCProvider, u.OIDCSub = &provider, &sub
	u.EmailVerified = u.EmailVerified || verified
	return nil
}

func (f *fakeUsers) MarkEmailVerified(_ context.Context, id string) error {
	f.users[id].EmailVerified = true
	return nil
}

func (f *fakeUsers) UpdatePasswordHash(_ context.Context, id, hash string) error {
	f.users[id].PasswordHash = &hash
	return nil
}

func (f *fakeUsers) CreateVerificationToken(_ context.Context, t *models.VerificationToken) error {
	t.ID = uuid.New().String()
	f.tokens[t.TokenHash] = t
	return nil
}

func (f *fakeUsers) GetVerificationToken(_ context.Context, hash, purpose string) (*models.VerificationToken, error) {
	t, ok := f.tokens[hash]
	if !ok || t.Purpose != purpose {
		return nil, nil
	}
	return t, nil
}

func (f *fakeUsers) ConsumeVerificationToken(_ context.Context, id string) (bool, error) {
	for _, t := range f.tokens {
		if t.ID == id {
			if t.UsedAt != nil {
				return false, nil
			}
			now := time.Now()
			t.UsedAt = &now
			return true, nil
		}
	}
	return false, nil
}

type fakeMail struct {
	sent []*mailer.Message
	err  error
}

func (f *fakeMail) Dispatch(_ context.Context, m *mailer.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

type fakeLimiter struct{ err error }

func (f fakeLimiter) Check(context.Context, string) error { return f.err }

type fakeSessions struct{}

func (fakeSessions) Issue(userID, _, _ string) (string, time.Time, error) {
	return "session-" + userID, time.Now().Add(time.Hour), nil
}

// ---------------------------------------------------------------------------
// catalogue / usage
// ---------------------------------------------------------------------------

type fakeServices struct {
	services map[string]*models.Service
	upserted []string
	err      error
}

func (f *fakeServices) ListActiveServices(context.Context) ([]models.Service, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Service
	for _, s := range f.services {
		if s.IsActive {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeServices) GetServiceByName(_ context.Context, name string) (*models.Service, error) {
	return f.services[name], f.err
}

func (f *fakeServices) UpsertService(_ context.Context, s *models.Service) error {
	if f.err != nil {
		return f.err
	}
	f.upserted = append(f.upserted, s.Name)
	return nil
}

type fakeUsage struct {
	logs      []*models.UsageLog
	entries   []models.UsageLogEntry
	lastLimit int
	err       error
}

func (f *fakeUsage) CreateUsageLog(_ context.Context, l *models.UsageLog) error {
	if f.err != nil {
		return f.err
	}
	l.ID = uuid.New().String()
	f.logs = append(f.logs, l)
	return nil
}

func (f *fakeUsage) ListByOrganization(_ context.Context, _ string, limit int) ([]models.UsageLogEntry, error) {
	f.lastLimit = limit
	return f.entries, f.err
}
