// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState = errors.New("invalid state")

	// Authorization errors
	ErrForbidden = errors.New("forbidden")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "quota", "progress", "entitlement"
	Op      string // Operation that failed, e.g., "Consume", "Load"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Entitlement domain errors
var (
	ErrUnknownTier       = NewDomainError("entitlement", "ParseTier", ErrInvalidInput, "unknown tier")
	ErrUnknownChargeKind = NewDomainError("entitlement", "CostOf", ErrInvalidInput, "unknown charge kind")
)

// Quota domain errors
var (
	ErrRecordNotFound   = NewDomainError("quota", "Load", ErrNotFound, "quota record not found")
	ErrStoreUnavailable = NewDomainError("quota", "Store", ErrServiceUnavailable, "quota store unavailable")
	ErrInvalidAmount    = NewDomainError("quota", "Validate", ErrValueOutOfRange, "amount must be positive")
	ErrEmptyIdentity    = NewDomainError("quota", "Validate", ErrEmptyValue, "identity id is required")
)

// Progress domain errors
var (
	ErrStatsNotFound       = NewDomainError("progress", "Load", ErrNotFound, "aggregate stats not found")
	ErrStatsUnavailable    = NewDomainError("progress", "Store", ErrServiceUnavailable, "stats store unavailable")
	ErrUnknownActivityType = NewDomainError("progress", "Validate", ErrInvalidInput, "unknown activity type")
	ErrInvalidCatalog      = NewDomainError("progress", "LoadCatalog", ErrInvalidFormat, "invalid badge catalog")
	ErrInvalidThresholds   = NewDomainError("progress", "LoadThresholds", ErrInvalidFormat, "invalid mastery thresholds")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}
