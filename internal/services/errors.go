// Package services implements the business logic that coordinates repositories, the key hasher,
// caches and external providers. Handlers call services and map the sentinel errors below to
// HTTP status codes; services never write HTTP responses themselves.
package services

import "errors"

var (
	// ErrNoAccess is returned when the caller is not a member of the organization
	ErrNoAccess = errors.New("you do not have access to this organisation")
	// ErrInsufficientPermissions is returned when the caller's role is outside the allowed set
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	// ErrKeyNotFound is returned when an API key id does not exist
	ErrKeyNotFound = errors.New("API key not found")
	// ErrValidation is matched by every ValidationError
	ErrValidation = errors.New("validation failed")
	// ErrUnauthenticated is returned for bad credentials and unusable tokens
	ErrUnauthenticated = errors.New("invalid credentials")
	// ErrConflict is returned when a unique resource such as an account email already exists
	ErrConflict = errors.New("resource already exists")
	// ErrRateLimited is returned when a per-user or global send limit is exhausted
	ErrRateLimited = errors.New("rate limit exceeded")
)

// ValidationError describes the first invalid input field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is makes errors.Is(err, ErrValidation) true for any ValidationError
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
