/*
errors.go - Centralized error taxonomy

PURPOSE:
  Every failure in the engine falls into one of four categories. Domain
  packages define richer error types that unwrap to these sentinels, so
  callers can branch with errors.Is without knowing the concrete type.

ERROR CATEGORIES:
  1. Validation         - bad input amounts/dates, reported to the caller
  2. State conflict     - concurrent mutation detected, retry may succeed
  3. Not found          - unknown bill/contract/service, never retried
  4. External dependency - notification/broker/SMS failures, logged only

USAGE:
  if generic.IsRetryable(err) {
      // run the operation again
  }
  if errors.Is(err, generic.ErrNotFound) {
      // 404
  }

SEE ALSO:
  - billing/errors.go: Domain errors wrapping these categories
  - api/handlers.go: HTTP status mapping
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation marks invalid caller input.
	ErrValidation = errors.New("validation failed")

	// ErrStateConflict is returned when a concurrent writer changed the row
	// between read and write. The operation can be retried.
	ErrStateConflict = errors.New("concurrent modification detected")

	// ErrNotFound is returned for unknown bills, contracts, services or prices.
	ErrNotFound = errors.New("not found")

	// ErrExternalDependency wraps failures of collaborators outside the
	// ledger (notification sinks, brokers).
	ErrExternalDependency = errors.New("external dependency failed")

	// ErrBillSettled is returned when a payment targets a bill that is
	// already fully paid.
	ErrBillSettled = errors.New("bill already settled")

	// ErrDuplicate is returned when an idempotency guard rejects a write.
	ErrDuplicate = errors.New("duplicate")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// StateConflictError reports an optimistic-lock or uniqueness race.
type StateConflictError struct {
	Resource string
	ID       string
	Reason   string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("state conflict on %s %s: %s", e.Resource, e.ID, e.Reason)
}

func (e *StateConflictError) Unwrap() error { return ErrStateConflict }

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ExternalDependencyError wraps a collaborator failure.
type ExternalDependencyError struct {
	Dependency string
	Err        error
}

func (e *ExternalDependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Dependency, e.Err)
}

// Unwrap exposes both the category and the underlying cause.
func (e *ExternalDependencyError) Unwrap() []error {
	return []error{ErrExternalDependency, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStateConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrBillSettled) ||
		errors.Is(err, ErrDuplicate)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
