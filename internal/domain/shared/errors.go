package shared

import (
	"errors"
	"fmt"
)

// Base error kinds. Every error returned by the engine matches exactly one of
// them through errors.Is.
var (
	// ErrInvalidInput: missing identifiers, non-positive limit, unknown role or action.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound: referenced profile or pair does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrConcurrentModification: a concurrent writer won the first insert for a pair.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrServiceUnavailable: backing store unreachable or failed.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "profile", "interaction", "matching"
	Op      string // Operation that failed, e.g., "RecordAction"
	Kind    error  // Base error kind for errors.Is() checking
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

// Profile domain errors
var (
	ErrProfileNotFound = NewDomainError("profile", "Find", ErrNotFound, "profile not found")
	ErrInvalidUserID   = NewDomainError("profile", "Validate", ErrInvalidInput, "invalid user ID")
	ErrUnknownRole     = NewDomainError("profile", "ParseRole", ErrInvalidInput, "unknown role")
)

// Interaction domain errors
var (
	ErrPairNotFound   = NewDomainError("interaction", "Find", ErrNotFound, "interaction not found")
	ErrPairExists     = NewDomainError("interaction", "Insert", ErrConcurrentModification, "interaction already exists for pair")
	ErrSelfAction     = NewDomainError("interaction", "Validate", ErrInvalidInput, "cannot act on self")
	ErrUnknownAction  = NewDomainError("interaction", "ParseAction", ErrInvalidInput, "unknown action")
	ErrNotParticipant = NewDomainError("interaction", "Apply", ErrInvalidInput, "user is not a participant of the pair")
	ErrInvalidPairKey = NewDomainError("interaction", "ParsePairKey", ErrInvalidInput, "invalid pair key")
)

// Matching errors
var (
	ErrInvalidLimit = NewDomainError("matching", "Validate", ErrInvalidInput, "limit must be positive")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is an invalid-input error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsConflict checks if the error is a transient write conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsStoreUnavailable checks if the error means the backing store failed.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable)
}

// StoreError wraps a driver error as ErrServiceUnavailable. Errors that
// already carry a domain kind are returned unchanged.
func StoreError(domain, op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || IsValidation(err) || IsConflict(err) || IsStoreUnavailable(err) {
		return err
	}
	return WrapError(domain, op, ErrServiceUnavailable, "store unavailable", err)
}
