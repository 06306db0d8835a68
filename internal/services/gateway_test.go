package services

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rnblock/api-key-provider/internal/auth"
	"github.com/rnblock/api-key-provider/internal/db/models"
)

// ---------------------------------------------------------------------------
// Catalogue
// ---------------------------------------------------------------------------

func TestCatalogueService_List(t *testing.T) {
	store := &fakeServices{services: map[string]*models.Service{
		"api-pdf": {Name: "api-pdf", IsActive: true},
		"retired": {Name: "retired", IsActive: false},
	}}
	list, err := NewCatalogueService(store).List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "api-pdf", list[0].Name)

	empty, err := NewCatalogueService(&fakeServices{}).List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, empty)

	_, err = NewCatalogueService(&fakeServices{err: errStore}).List(context.Background())
	assert.ErrorIs(t, err, errStore)
}

func TestCatalogueService_Seed(t *testing.T) {
	store := &fakeServices{}
	n, err := NewCatalogueService(store).Seed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"api-pdf", "api-docling", "api-template"}, store.upserted)

	costs := map[string]int{}
	for _, s := range DefaultServices() {
		costs[s.Name] = s.BaseCostPerCall
	}
	assert.Equal(t, map[string]int{"api-pdf": 1, "api-docling": 3, "api-template": 1}, costs)
}

// ---------------------------------------------------------------------------
// Usage listing
// ---------------------------------------------------------------------------

func TestClampUsageLimit(t *testing.T) {
	assert.Equal(t, 50, ClampUsageLimit(0))
	assert.Equal(t, 50, ClampUsageLimit(-3))
	assert.Equal(t, 10, ClampUsageLimit(10))
	assert.Equal(t, 200, ClampUsageLimit(200))
	assert.Equal(t, 200, ClampUsageLimit(5000))
}

func TestUsageService_List(t *testing.T) {
	orgs := newFakeOrgs()
	orgs.grant(testOrgID, testUserID, "billing")
	name := "CI"
	usage := &fakeUsage{entries: []models.UsageLogEntry{{
		UsageLog:           models.UsageLog{ID: "u1", CreditsUsed: 3, Details: types.NullJSONText{JSONText: []byte(`{"pages":2}`), Valid: true}},
		KeyName:            &name,
		ServiceName:        "api-docling",
		ServiceDisplayName: "Document Intelligence AI",
	}}}
	svc := NewUsageService(usage, NewPermissionGate(orgs))

	views, err := svc.List(context.Background(), testUserID, testOrgID, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultUsageLimit, usage.lastLimit)
	require.Len(t, views, 1)
	assert.Equal(t, "CI", *views[0].KeyName)
	assert.Equal(t, 3, views[0].CreditsUsed)
	assert.NotNil(t, views[0].Details)

	_, err = svc.List(context.Background(), "stranger", testOrgID, 10)
	assert.ErrorIs(t, err, ErrNoAccess)
}

// ---------------------------------------------------------------------------
// Gateway
// ---------------------------------------------------------------------------

type gatewayFixture struct {
	svc       *GatewayService
	keys      *fakeKeys
	usage     *fakeUsage
	wallets   *fakeWallets
	cache     *fakeCache
	plaintext string
	key       *models.APIKey
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	hasher := auth.NewKeyHasher("pepper")
	plaintext, err := auth.GenerateAPIKey(models.EnvironmentProduction)
	require.NoError(t, err)
	digest, err := hasher.Hash(plaintext)
	require.NoError(t, err)

	f := &gatewayFixture{keys: newFakeKeys(), usage: &fakeUsage{}, wallets: newFakeWallets(), cache: newFakeCache(), plaintext: plaintext}
	f.key = &models.APIKey{
		ID:             "key-1",
		OrganizationID: testOrgID,
		KeyHash:        digest,
		Scopes:         []string{"pdf:write"},
		Environment:    models.EnvironmentProduction,
		IsActive:       true,
	}
	f.keys.add(f.key)
	services := &fakeServices{services: map[string]*models.Service{
		"api-pdf":     {ID: "svc-pdf", Name: "api-pdf", BaseCostPerCall: 1, IsActive: true},
		"api-docling": {ID: "svc-ai", Name: "api-docling", BaseCostPerCall: 3, IsActive: true},
	}}
	f.svc = NewGatewayService(f.keys, hasher, services, f.usage, f.wallets, f.cache)
	return f
}

func TestGatewayService_Authenticate(t *testing.T) {
	f := newGatewayFixture(t)

	key, err := f.svc.Authenticate(context.Background(), f.plaintext)
	require.NoError(t, err)
	assert.Equal(t, "key-1", key.ID)

	_, err = f.svc.Authenticate(context.Background(), "sk_live_short")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	other, err := auth.GenerateAPIKey(models.EnvironmentProduction)
	require.NoError(t, err)
	_, err = f.svc.Authenticate(context.Background(), other)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	past := time.Now().Add(-time.Minute)
	f.key.ExpiresAt = &past
	_, err = f.svc.Authenticate(context.Background(), f.plaintext)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	f.key.ExpiresAt = nil
	f.key.IsActive = false
	_, err = f.svc.Authenticate(context.Background(), f.plaintext)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestGatewayService_Introspect(t *testing.T) {
	f := newGatewayFixture(t)
	quota := 5
	f.key.DailyQuota = &quota
	f.key.DailyUsed = 5
	f.wallets.wallets[testOrgID] = &models.Wallet{Balance: 750}

	info, err := f.svc.Introspect(context.Background(), f.key)
	require.NoError(t, err)
	assert.Equal(t, 750, info.RemainingCredit)
	assert.True(t, info.QuotaExceeded)
	assert.Equal(t, []string{"pdf:write"}, info.Scopes)

	delete(f.wallets.wallets, testOrgID)
	info, err = f.svc.Introspect(context.Background(), f.key)
	require.NoError(t, err)
	assert.Equal(t, 0, info.RemainingCredit)
}

func TestServiceFromEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
		ok       bool
	}{
		{"/api/v1/api-pdf/merge", "api-pdf", true},
		{"/api/v1/api-docling", "api-docling", true},
		{"/api/v1/api-pdf?x=1", "api-pdf", true},
		{"/api/v1/", "", false},
		{"/health", "", false},
	}
	for _, tt := range tests {
		got, ok := ServiceFromEndpoint(tt.endpoint)
		assert.Equal(t, tt.want, got, tt.endpoint)
		assert.Equal(t, tt.ok, ok, tt.endpoint)
	}
}

func TestGatewayService_RecordUsage(t *testing.T) {
	f := newGatewayFixture(t)
	status, ip := 200, "198.51.100.7"

	entry, err := f.svc.RecordUsage(context.Background(), f.key, UsageInput{
		Endpoint:   "/api/v1/api-pdf/merge",
		Method:     "POST",
		StatusCode: &status,
		Details:    map[string]interface{}{"pages": 4},
		ClientIP:   &ip,
	})
	require.NoError(t, err)
	assert.Equal(t, "svc-pdf", entry.ServiceID)
	assert.Equal(t, 1, entry.CreditsUsed)
	assert.True(t, entry.Details.Valid)
	assert.Len(t, f.usage.logs, 1)
	assert.Equal(t, []string{"key-1"}, f.keys.usage)
	assert.Equal(t, []string{testOrgID}, f.cache.invalidated)
}

func TestGatewayService_RecordUsage_RefreshesKeyListing(t *testing.T) {
	orgs := newFakeOrgs()
	orgs.grant(testOrgID, testUserID, "owner")
	store, cache, hasher := newFakeKeys(), newFakeCache(), auth.NewKeyHasher("pepper")
	keys := NewKeyService(store, NewPermissionGate(orgs), hasher, cache, nil)
	services := &fakeServices{services: map[string]*models.Service{
		"api-pdf": {ID: "svc-pdf", Name: "api-pdf", BaseCostPerCall: 1, IsActive: true},
	}}
	gateway := NewGatewayService(store, hasher, services, &fakeUsage{}, newFakeWallets(), cache)
	ctx := context.Background()

	created, err := keys.Create(ctx, testUserID, CreateKeyInput{
		KeyName:     "Gateway key",
		Scopes:      []string{"pdf:read"},
		Environment: models.EnvironmentProduction,
		OrgID:       testOrgID,
	}, "")
	require.NoError(t, err)

	before, err := keys.List(ctx, testUserID, testOrgID)
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Equal(t, 0, before[0].DailyUsed)
	require.Contains(t, cache.data, testOrgID)

	key, err := gateway.Authenticate(ctx, created.APIKey)
	require.NoError(t, err)
	_, err = gateway.RecordUsage(ctx, key, UsageInput{Endpoint: "/api/v1/api-pdf/info", Method: "GET"})
	require.NoError(t, err)

	after, err := keys.List(ctx, testUserID, testOrgID)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, 1, after[0].DailyUsed)
	assert.Equal(t, 1, after[0].MonthlyUsed)
}

func TestGatewayService_RecordUsage_Rejects(t *testing.T) {
	f := newGatewayFixture(t)

	_, err := f.svc.RecordUsage(context.Background(), f.key, UsageInput{Endpoint: "/other", Method: "GET"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.RecordUsage(context.Background(), f.key, UsageInput{Endpoint: "/api/v1/unknown/x", Method: "GET"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.RecordUsage(context.Background(), f.key, UsageInput{Endpoint: "/api/v1/api-docling/parse", Method: "POST"})
	assert.ErrorIs(t, err, ErrInsufficientPermissions)

	f.usage.err = errStore
	_, err = f.svc.RecordUsage(context.Background(), f.key, UsageInput{Endpoint: "/api/v1/api-pdf/merge", Method: "GET"})
	assert.ErrorIs(t, err, errStore)
	assert.Empty(t, f.keys.usage)
	assert.Empty(t, f.cache.invalidated)
}

// ---------------------------------------------------------------------------
// Key listing cache
// ---------------------------------------------------------------------------

func TestNoopKeyCache(t *testing.T) {
	var c KeyListingCache = NoopKeyCache{}
	c.Set(context.Background(), testOrgID, []KeyView{{ID: "k"}})
	_, ok := c.Get(context.Background(), testOrgID)
	assert.False(t, ok)
}

func TestRedisKeyCache_UnavailableIsMiss(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer rdb.Close()
	c := NewRedisKeyCache(rdb, 0)

	c.Set(context.Background(), testOrgID, []KeyView{{ID: "k"}})
	_, ok := c.Get(context.Background(), testOrgID)
	assert.False(t, ok)
	c.Invalidate(context.Background(), testOrgID)
	c.InvalidateAll(context.Background())
}
