package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/rnblock/api-key-provider/internal/auth"
	"github.com/rnblock/api-key-provider/internal/db/models"
	"github.com/rnblock/api-key-provider/internal/telemetry"
)

const gatewayPathPrefix = "/api/v1/"

// APIKeyLookup resolves keys by digest and records their use
type APIKeyLookup interface {
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error)
	RecordUsage(ctx context.Context, keyID string, ip *string) error
}

// GatewayService authenticates API keys for the metering gateway and records calls
type GatewayService struct {
	keys     APIKeyLookup
	hasher   *auth.KeyHasher
	services ServiceStore
	usage    UsageStore
	wallets  WalletStore
	cache    KeyListingCache
	now      func() time.Time
}

// NewGatewayService creates a GatewayService. cache may be nil.
func NewGatewayService(keys APIKeyLookup, hasher *auth.KeyHasher, services ServiceStore, usage UsageStore, wallets WalletStore, cache KeyListingCache) *GatewayService {
	if cache == nil {
		cache = NoopKeyCache{}
	}
	return &GatewayService{
		keys:     keys,
		hasher:   hasher,
		services: services,
		usage:    usage,
		wallets:  wallets,
		cache:    cache,
		now:      time.Now,
	}
}

// Authenticate resolves a plaintext key. Unknown, revoked and expired keys are all
// reported as ErrUnauthenticated.
func (s *GatewayService) Authenticate(ctx context.Context, plaintext string) (*models.APIKey, error) {
	if !auth.IsValidAPIKeyFormat(plaintext) {
		return nil, ErrUnauthenticated
	}
	digest, err := s.hasher.Hash(plaintext)
	if err != nil {
		return nil, err
	}
	key, err := s.keys.GetAPIKeyByHash(ctx, digest)
	if err != nil {
		return nil, err
	}
	if key == nil || !key.IsUsable(s.now()) {
		return nil, ErrUnauthenticated
	}
	return key, nil
}

// Introspection describes an authenticated key to the gateway
type Introspection struct {
	KeyID           string   `json:"keyId"`
	OrganizationID  string   `json:"organizationId"`
	Environment     string   `json:"environment"`
	Scopes          []string `json:"scopes"`
	DailyQuota      *int     `json:"dailyQuota"`
	MonthlyQuota    *int     `json:"monthlyQuota"`
	DailyUsed       int      `json:"dailyUsed"`
	MonthlyUsed     int      `json:"monthlyUsed"`
	QuotaExceeded   bool     `json:"quotaExceeded"`
	RemainingCredit int      `json:"remainingCredits"`
}

// Introspect returns the key's grants and its organization's wallet balance
func (s *GatewayService) Introspect(ctx context.Context, key *models.APIKey) (*Introspection, error) {
	wallet, err := s.wallets.GetWallet(ctx, key.OrganizationID)
	if err != nil {
		return nil, err
	}
	balance := 0
	if wallet != nil {
		balance = wallet.Balance
	}
	scopes := key.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	return &Introspection{
		KeyID:           key.ID,
		OrganizationID:  key.OrganizationID,
		Environment:     key.Environment,
		Scopes:          scopes,
		DailyQuota:      key.DailyQuota,
		MonthlyQuota:    key.MonthlyQuota,
		DailyUsed:       key.DailyUsed,
		MonthlyUsed:     key.MonthlyUsed,
		QuotaExceeded:   key.QuotaExceeded(),
		RemainingCredit: balance,
	}, nil
}

// UsageInput describes one metered call reported by the gateway
type UsageInput struct {
	Endpoint       string                 `json:"endpoint" binding:"required,startswith=/"`
	Method         string                 `json:"method" binding:"required,oneof=GET HEAD POST PUT PATCH DELETE"`
	StatusCode     *int                   `json:"statusCode" binding:"omitempty,min=100,max=599"`
	ResponseTimeMs *int                   `json:"responseTimeMs" binding:"omitempty,min=0"`
	Details        map[string]interface{} `json:"details"`
	Country        *string                `json:"country" binding:"omitempty,len=2"`
	UserAgent      *string                `json:"userAgent"`
	ClientIP       *string                `json:"clientIp"`
}

// ServiceFromEndpoint extracts <service> from /api/v1/<service>/...
func ServiceFromEndpoint(endpoint string) (string, bool) {
	if !strings.HasPrefix(endpoint, gatewayPathPrefix) {
		return "", false
	}
	rest := strings.TrimPrefix(endpoint, gatewayPathPrefix)
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return "", false
	}
	return rest, true
}

// RecordUsage appends a usage log for the call and bumps the key's counters. The key's
// scopes must cover the service and method.
func (s *GatewayService) RecordUsage(ctx context.Context, key *models.APIKey, in UsageInput) (*models.UsageLog, error) {
	name, ok := ServiceFromEndpoint(in.Endpoint)
	if !ok {
		return nil, invalid("endpoint", "endpoint must look like /api/v1/<service>/...")
	}
	svc, err := s.services.GetServiceByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if svc == nil || !svc.IsActive {
		return nil, invalid("endpoint", fmt.Sprintf("unknown service %q", name))
	}
	if scope, known := auth.RequiredScopeForService(svc.Name, in.Method); known && !auth.HasScope(key.Scopes, scope) {
		return nil, fmt.Errorf("%w: key lacks scope %s", ErrInsufficientPermissions, scope)
	}

	entry := &models.UsageLog{
		APIKeyID:       key.ID,
		OrganizationID: key.OrganizationID,
		ServiceID:      svc.ID,
		Endpoint:       &in.Endpoint,
		Method:         &in.Method,
		StatusCode:     in.StatusCode,
		ResponseTimeMs: in.ResponseTimeMs,
		CreditsUsed:    svc.BaseCostPerCall,
		IPAddress:      in.ClientIP,
		Country:        in.Country,
		UserAgent:      in.UserAgent,
	}
	if len(in.Details) > 0 {
		raw, err := json.Marshal(in.Details)
		if err != nil {
			return nil, invalid("details", "details must be a JSON object")
		}
		entry.Details = types.NullJSONText{JSONText: raw, Valid: true}
	}

	if err := s.usage.CreateUsageLog(ctx, entry); err != nil {
		return nil, err
	}
	telemetry.UsageLogsRecordedTotal.WithLabelValues(svc.Name).Inc()

	if err := s.keys.RecordUsage(ctx, key.ID, in.ClientIP); err != nil {
		slog.Error("failed to record api key usage", "key_id", key.ID, "error", err)
	} else {
		// listings carry the usage counters
		s.cache.Invalidate(ctx, key.OrganizationID)
	}
	return entry, nil
}
