package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rnblock/api-key-provider/internal/auth"
	"github.com/rnblock/api-key-provider/internal/db/models"
	"github.com/rnblock/api-key-provider/internal/safego"
	"github.com/rnblock/api-key-provider/internal/telemetry"
)

const (
	// MinKeyNameLength and MaxKeyNameLength bound a key's display name
	MinKeyNameLength = 3
	MaxKeyNameLength = 50

	auditTimeout = 5 * time.Second
)

// KeyStore persists API keys
type KeyStore interface {
	CreateAPIKey(ctx context.Context, apiKey *models.APIKey) error
	GetAPIKeyByID(ctx context.Context, keyID string) (*models.APIKey, error)
	ListAPIKeysByOrganization(ctx context.Context, orgID string) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, keyID string, reason *string) error
	DeleteAPIKey(ctx context.Context, keyID string) error
	UpdateAPIKey(ctx context.Context, keyID string, patch *models.APIKeyPatch) error
}

// AuditWriter records audit log entries
type AuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CreateKeyInput is a validated key creation request
type CreateKeyInput struct {
	KeyName      string
	Scopes       []string
	Environment  string
	OrgID        string
	DailyQuota   *int
	MonthlyQuota *int
	ExpiresAt    *time.Time
}

// CreatedKey is returned once, at creation; the plaintext key is never available again
type CreatedKey struct {
	KeyID     string `json:"keyId"`
	APIKey    string `json:"apiKey"`
	MaskedKey string `json:"maskedKey"`
}

// KeyView is the listing representation of a key. It carries neither hash nor plaintext.
type KeyView struct {
	ID            string     `json:"id"`
	KeyName       string     `json:"keyName"`
	KeyPrefix     string     `json:"keyPrefix"`
	KeyHint       *string    `json:"keyHint"`
	Scopes        []string   `json:"scopes"`
	Environment   string     `json:"environment"`
	IsActive      bool       `json:"isActive"`
	DailyQuota    *int       `json:"dailyQuota"`
	MonthlyQuota  *int       `json:"monthlyQuota"`
	DailyUsed     int        `json:"dailyUsed"`
	MonthlyUsed   int        `json:"monthlyUsed"`
	LastUsedAt    *time.Time `json:"lastUsedAt"`
	LastUsedIP    *string    `json:"lastUsedIp"`
	ExpiresAt     *time.Time `json:"expiresAt"`
	RevokedAt     *time.Time `json:"revokedAt"`
	CreatedAt     time.Time  `json:"createdAt"`
	CreatedByName *string    `json:"createdByName"`
}

// NewKeyView converts a stored key to its listing representation
func NewKeyView(k *models.APIKey) KeyView {
	scopes := k.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	return KeyView{
		ID:            k.ID,
		KeyName:       k.KeyName,
		KeyPrefix:     k.KeyPrefix,
		KeyHint:       k.KeyHint,
		Scopes:        scopes,
		Environment:   k.Environment,
		IsActive:      k.IsActive,
		DailyQuota:    k.DailyQuota,
		MonthlyQuota:  k.MonthlyQuota,
		DailyUsed:     k.DailyUsed,
		MonthlyUsed:   k.MonthlyUsed,
		LastUsedAt:    k.LastUsedAt,
		LastUsedIP:    k.LastUsedIP,
		ExpiresAt:     k.ExpiresAt,
		RevokedAt:     k.RevokedAt,
		CreatedAt:     k.CreatedAt,
		CreatedByName: k.CreatedByName,
	}
}

// ValidateKeyName checks the display name length
func ValidateKeyName(name string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n < MinKeyNameLength || n > MaxKeyNameLength {
		return invalid("keyName", fmt.Sprintf("keyName must be between %d and %d characters", MinKeyNameLength, MaxKeyNameLength))
	}
	return nil
}

func validateQuota(field string, quota *int) error {
	if quota != nil && *quota <= 0 {
		return invalid(field, field+" must be a positive integer")
	}
	return nil
}

func validateScopes(scopes []string) error {
	if err := auth.ValidateScopes(scopes); err != nil {
		return invalid("scopes", err.Error())
	}
	return nil
}

func (in *CreateKeyInput) validate(now time.Time) error {
	if err := ValidateKeyName(in.KeyName); err != nil {
		return err
	}
	if err := validateScopes(in.Scopes); err != nil {
		return err
	}
	if in.Environment != models.EnvironmentProduction && in.Environment != models.EnvironmentTest {
		return invalid("environment", "environment must be production or test")
	}
	if _, err := uuid.Parse(in.OrgID); err != nil {
		return invalid("orgId", "orgId must be a valid UUID")
	}
	if err := validateQuota("dailyQuota", in.DailyQuota); err != nil {
		return err
	}
	if err := validateQuota("monthlyQuota", in.MonthlyQuota); err != nil {
		return err
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return invalid("expiresAt", "expiresAt must be in the future")
	}
	return nil
}

func validatePatch(p *models.APIKeyPatch) error {
	if p.KeyName != nil {
		if err := ValidateKeyName(*p.KeyName); err != nil {
			return err
		}
	}
	if p.Scopes != nil {
		if err := validateScopes(p.Scopes); err != nil {
			return err
		}
	}
	if err := validateQuota("dailyQuota", p.DailyQuota.Value); err != nil {
		return err
	}
	return validateQuota("monthlyQuota", p.MonthlyQuota.Value)
}

// KeyService issues and manages API keys
type KeyService struct {
	keys   KeyStore
	gate   *PermissionGate
	hasher *auth.KeyHasher
	cache  KeyListingCache
	audit  AuditWriter
	now    func() time.Time
}

// NewKeyService creates a KeyService. cache and audit may be nil.
func NewKeyService(keys KeyStore, gate *PermissionGate, hasher *auth.KeyHasher, cache KeyListingCache, audit AuditWriter) *KeyService {
	if cache == nil {
		cache = NoopKeyCache{}
	}
	return &KeyService{
		keys:   keys,
		gate:   gate,
		hasher: hasher,
		cache:  cache,
		audit:  audit,
		now:    time.Now,
	}
}

// Create issues a new key for an organization. The plaintext is returned once and only its
// peppered digest is stored.
func (s *KeyService) Create(ctx context.Context, userID string, in CreateKeyInput, clientIP string) (*CreatedKey, error) {
	in.KeyName = strings.TrimSpace(in.KeyName)
	if err := in.validate(s.now()); err != nil {
		return nil, err
	}
	if _, err := s.gate.Authorize(ctx, userID, in.OrgID, auth.KeyCreatorRoles); err != nil {
		return nil, err
	}

	plaintext, err := auth.GenerateAPIKey(in.Environment)
	if err != nil {
		return nil, err
	}
	digest, err := s.hasher.Hash(plaintext)
	if err != nil {
		return nil, err
	}
	prefix, _ := auth.PrefixForEnvironment(in.Environment)
	hint := auth.KeyHint(plaintext)

	apiKey := &models.APIKey{
		OrganizationID: in.OrgID,
		CreatedBy:      &userID,
		KeyName:        in.KeyName,
		KeyHash:        digest,
		KeyPrefix:      prefix,
		KeyHint:        &hint,
		Scopes:         in.Scopes,
		Environment:    in.Environment,
		DailyQuota:     in.DailyQuota,
		MonthlyQuota:   in.MonthlyQuota,
		ExpiresAt:      in.ExpiresAt,
	}
	if err := s.keys.CreateAPIKey(ctx, apiKey); err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, in.OrgID)
	telemetry.APIKeyOperationsTotal.WithLabelValues("create", in.Environment).Inc()
	s.recordAudit(userID, in.OrgID, "api_key.create", apiKey.ID, clientIP, map[string]interface{}{
		"key_name":    apiKey.KeyName,
		"environment": apiKey.Environment,
		"scopes":      apiKey.Scopes,
	})

	return &CreatedKey{
		KeyID:     apiKey.ID,
		APIKey:    plaintext,
		MaskedKey: auth.MaskAPIKey(plaintext),
	}, nil
}

// List returns the keys of an organization the caller belongs to, newest first
func (s *KeyService) List(ctx context.Context, userID, orgID string) ([]KeyView, error) {
	if _, err := s.gate.Authorize(ctx, userID, orgID, auth.AnyMemberRole); err != nil {
		return nil, err
	}
	if cached, ok := s.cache.Get(ctx, orgID); ok {
		return cached, nil
	}

	keys, err := s.keys.ListAPIKeysByOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	views := make([]KeyView, 0, len(keys))
	for _, k := range keys {
		views = append(views, NewKeyView(k))
	}
	s.cache.Set(ctx, orgID, views)
	return views, nil
}

// Revoke deactivates a key. Revoking twice keeps the first revocation time.
func (s *KeyService) Revoke(ctx context.Context, userID, keyID string, reason *string, clientIP string) error {
	key, err := s.authorizeKey(ctx, userID, keyID, auth.KeyRevokerRoles)
	if err != nil {
		return err
	}
	if reason != nil {
		trimmed := strings.TrimSpace(*reason)
		if trimmed == "" {
			reason = nil
		} else {
			reason = &trimmed
		}
	}
	if err := s.keys.RevokeAPIKey(ctx, keyID, reason); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, key.OrganizationID)
	telemetry.APIKeyOperationsTotal.WithLabelValues("revoke", key.Environment).Inc()
	metadata := map[string]interface{}{"key_name": key.KeyName}
	if reason != nil {
		metadata["reason"] = *reason
	}
	s.recordAudit(userID, key.OrganizationID, "api_key.revoke", keyID, clientIP, metadata)
	return nil
}

// Delete removes a key permanently; its usage logs are removed with it
func (s *KeyService) Delete(ctx context.Context, userID, keyID, clientIP string) error {
	key, err := s.authorizeKey(ctx, userID, keyID, auth.KeyManagerRoles)
	if err != nil {
		return err
	}
	if err := s.keys.DeleteAPIKey(ctx, keyID); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, key.OrganizationID)
	telemetry.APIKeyOperationsTotal.WithLabelValues("delete", key.Environment).Inc()
	s.recordAudit(userID, key.OrganizationID, "api_key.delete", keyID, clientIP, map[string]interface{}{
		"key_name": key.KeyName,
	})
	return nil
}

// Update patches the name, scopes or quotas of a key and returns the updated view
func (s *KeyService) Update(ctx context.Context, userID, keyID string, patch *models.APIKeyPatch, clientIP string) (*KeyView, error) {
	if patch == nil || patch.IsEmpty() {
		return nil, invalid("body", "no fields to update")
	}
	if patch.KeyName != nil {
		trimmed := strings.TrimSpace(*patch.KeyName)
		patch.KeyName = &trimmed
	}
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	key, err := s.authorizeKey(ctx, userID, keyID, auth.KeyManagerRoles)
	if err != nil {
		return nil, err
	}
	if err := s.keys.UpdateAPIKey(ctx, keyID, patch); err != nil {
		return nil, err
	}

	updated, err := s.keys.GetAPIKeyByID(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrKeyNotFound
	}

	s.cache.Invalidate(ctx, key.OrganizationID)
	telemetry.APIKeyOperationsTotal.WithLabelValues("update", key.Environment).Inc()
	s.recordAudit(userID, key.OrganizationID, "api_key.update", keyID, clientIP, patchMetadata(patch))

	view := NewKeyView(updated)
	return &view, nil
}

// authorizeKey loads a key and checks the caller's role in the key's organization
func (s *KeyService) authorizeKey(ctx context.Context, userID, keyID string, allowed []auth.Role) (*models.APIKey, error) {
	if _, err := uuid.Parse(keyID); err != nil {
		return nil, ErrKeyNotFound
	}
	key, err := s.keys.GetAPIKeyByID(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, ErrKeyNotFound
	}
	if _, err := s.gate.Authorize(ctx, userID, key.OrganizationID, allowed); err != nil {
		return nil, err
	}
	return key, nil
}

func patchMetadata(p *models.APIKeyPatch) map[string]interface{} {
	fields := make([]string, 0, 4)
	if p.KeyName != nil {
		fields = append(fields, "keyName")
	}
	if p.Scopes != nil {
		fields = append(fields, "scopes")
	}
	if p.DailyQuota.Set {
		fields = append(fields, "dailyQuota")
	}
	if p.MonthlyQuota.Set {
		fields = append(fields, "monthlyQuota")
	}
	return map[string]interface{}{"fields": fields}
}

// recordAudit writes the audit row in the background; a failed write is logged only
func (s *KeyService) recordAudit(userID, orgID, action, keyID, clientIP string, metadata map[string]interface{}) {
	if s.audit == nil {
		return
	}
	resourceType := "api_key"
	entry := &models.AuditLog{
		UserID:         &userID,
		OrganizationID: &orgID,
		Action:         action,
		ResourceType:   &resourceType,
		ResourceID:     &keyID,
		Metadata:       metadata,
	}
	if clientIP != "" {
		entry.IPAddress = &clientIP
	}

	safego.Go("audit.api_key", func() {
		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		defer cancel()
		if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
			slog.Error("failed to write audit log", "action", action, "resource_id", keyID, "error", err)
		}
	})
}
