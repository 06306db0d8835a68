// Package auth - scopes.go defines the permission scopes an API key can carry and the
// helpers used to check them against the service a request targets.
package auth

import (
	"fmt"
	"net/http"
)

// Scope represents a permission granted to an API key
type Scope string

const (
	// PDF manipulation service
	ScopePDFRead  Scope = "pdf:read"
	ScopePDFWrite Scope = "pdf:write"

	// Document intelligence (AI) service
	ScopeAIRead  Scope = "ai:read"
	ScopeAIWrite Scope = "ai:write"

	// Mileage expenses service
	ScopeMileageRead      Scope = "mileage:read"
	ScopeMileageCalculate Scope = "mileage:calculate"
)

// impliedScopes lists, for each scope, the broader scopes that also grant it
var impliedScopes = map[Scope][]Scope{
	ScopePDFRead:     {ScopePDFWrite},
	ScopeAIRead:      {ScopeAIWrite},
	ScopeMileageRead: {ScopeMileageCalculate},
}

// AllScopes returns all valid scopes
func AllScopes() []Scope {
	return []Scope{
		ScopePDFRead,
		ScopePDFWrite,
		ScopeAIRead,
		ScopeAIWrite,
		ScopeMileageRead,
		ScopeMileageCalculate,
	}
}

// ValidScopes returns a map of valid scope strings
func ValidScopes() map[string]bool {
	validScopes := make(map[string]bool)
	for _, scope := range AllScopes() {
		validScopes[string(scope)] = true
	}
	return validScopes
}

// IsValidScope reports whether s names a known scope
func IsValidScope(s string) bool {
	return ValidScopes()[s]
}

// ValidateScopes checks that the list is non-empty and every entry is a known scope
func ValidateScopes(scopes []string) error {
	if len(scopes) == 0 {
		return fmt.Errorf("at least one scope is required")
	}

	validScopes := ValidScopes()
	for _, scope := range scopes {
		if !validScopes[scope] {
			return fmt.Errorf("invalid scope: %s", scope)
		}
	}

	return nil
}

// HasScope checks if a key holds the required scope.
// Write-level scopes imply the matching read scope.
func HasScope(keyScopes []string, required Scope) bool {
	for _, scope := range keyScopes {
		if scope == string(required) {
			return true
		}
		for _, broader := range impliedScopes[required] {
			if scope == string(broader) {
				return true
			}
		}
	}
	return false
}

// HasAnyScope checks if a key has at least one of the required scopes
func HasAnyScope(keyScopes []string, requiredScopes []Scope) bool {
	for _, required := range requiredScopes {
		if HasScope(keyScopes, required) {
			return true
		}
	}
	return false
}

// RequiredScopeForService returns the scope needed to call a metered service with the given
// HTTP method. Unknown services return false.
func RequiredScopeForService(service, method string) (Scope, bool) {
	read := method == http.MethodGet || method == http.MethodHead
	switch service {
	case "api-pdf", "pdf":
		if read {
			return ScopePDFRead, true
		}
		return ScopePDFWrite, true
	case "api-docling", "docling", "ai":
		if read {
			return ScopeAIRead, true
		}
		return ScopeAIWrite, true
	case "api-template", "template", "mileage":
		if read {
			return ScopeMileageRead, true
		}
		return ScopeMileageCalculate, true
	default:
		return "", false
	}
}
