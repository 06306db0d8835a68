// Package auth provides the authentication primitives of the key provider: API key generation,
// peppered hashing and display helpers, dashboard session tokens, password hashing, API key
// scopes and organisation roles.
// See internal/middleware/auth.go for the request-time logic that uses these primitives.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	// APIKeyRandomBytes is the entropy of the secret part of a key
	APIKeyRandomBytes = 32

	// LiveKeyPrefix tags keys issued for the production environment
	LiveKeyPrefix = "sk_live"
	// TestKeyPrefix tags keys issued for the test environment
	TestKeyPrefix = "sk_test"

	// EnvironmentProduction and EnvironmentTest are the accepted key environments
	EnvironmentProduction = "production"
	EnvironmentTest       = "test"

	// KeyHintLength is the number of trailing characters kept for display
	KeyHintLength = 4

	maskHeadLength = 12
	maskedShortKey = "••••••••"
)

var (
	// ErrPepperNotConfigured is returned when a key is hashed without a server pepper
	ErrPepperNotConfigured = errors.New("API key pepper is not configured")
	// ErrUnknownEnvironment is returned for environments other than production and test
	ErrUnknownEnvironment = errors.New("unknown key environment")

	apiKeyPattern = regexp.MustCompile(`^sk_(live|test)_[A-Za-z0-9_-]{43}$`)
)

// PrefixForEnvironment maps a key environment to its key prefix
func PrefixForEnvironment(environment string) (string, error) {
	switch environment {
	case EnvironmentProduction:
		return LiveKeyPrefix, nil
	case EnvironmentTest:
		return TestKeyPrefix, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEnvironment, environment)
	}
}

// GenerateAPIKey creates a new plaintext key for the given environment.
// The result is shown to the caller once and never stored.
func GenerateAPIKey(environment string) (string, error) {
	prefix, err := PrefixForEnvironment(environment)
	if err != nil {
		return "", err
	}

	randomBytes := make([]byte, APIKeyRandomBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return prefix + "_" + base64.RawURLEncoding.EncodeToString(randomBytes), nil
}

// KeyHasher derives the stored digest of an API key: hex(SHA-256(key + pepper)).
type KeyHasher struct {
	pepper string
}

// NewKeyHasher creates a hasher bound to the server-held pepper
func NewKeyHasher(pepper string) *KeyHasher {
	return &KeyHasher{pepper: pepper}
}

// Hash returns the lookup digest of a plaintext key. It refuses to hash without a pepper.
func (h *KeyHasher) Hash(key string) (string, error) {
	if h == nil || h.pepper == "" {
		return "", ErrPepperNotConfigured
	}
	sum := sha256.Sum256([]byte(key + h.pepper))
	return hex.EncodeToString(sum[:]), nil
}

// KeyHint returns the last characters of a key for display
func KeyHint(key string) string {
	if len(key) <= KeyHintLength {
		return key
	}
	return key[len(key)-KeyHintLength:]
}

// MaskAPIKey renders a key as "sk_live_XXXX...YYYY"
func MaskAPIKey(key string) string {
	if len(key) <= maskHeadLength {
		return maskedShortKey
	}
	return key[:maskHeadLength] + "..." + KeyHint(key)
}

// IsValidAPIKeyFormat reports whether the key has the sk_live_/sk_test_ shape
func IsValidAPIKeyFormat(key string) bool {
	return apiKeyPattern.MatchString(key)
}

// EnvironmentFromKey returns the environment encoded in a key prefix, or "" if unknown
func EnvironmentFromKey(key string) string {
	switch {
	case strings.HasPrefix(key, LiveKeyPrefix+"_"):
		return EnvironmentProduction
	case strings.HasPrefix(key, TestKeyPrefix+"_"):
		return EnvironmentTest
	default:
		return ""
	}
}

// ExtractAPIKeyFromHeader extracts the API key from an Authorization header
// Expected format: "Bearer sk_live_abc123..."
func ExtractAPIKeyFromHeader(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}

	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	key := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if key == "" {
		return "", errors.New("API key is empty after Bearer prefix")
	}

	return key, nil
}
