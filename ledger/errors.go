/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is / errors.As.

ERROR CATEGORIES:
  1. NotFound    - loan/individual/entry reference unknown
  2. Inactive    - operation requires an active loan
  3. Validation  - non-positive amount/duration, malformed input
  4. Persistence - store operation failed (always wrapped, never swallowed)
  5. Cancelled   - batch operation aborted cooperatively

PROPAGATION POLICY:
  Lifecycle and transaction operations fail fast and leave the store
  unmodified; callers wrap mutating calls in a store transaction so a
  returned error rolls back cleanly. The replay passes never fail on
  well-formed input - they clamp instead, since they run after every
  mutation and must always leave a consistent, inspectable state.
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrLoanNotFound is returned when a loan reference is unknown.
	ErrLoanNotFound = errors.New("loan not found")

	// ErrIndividualNotFound is returned when a borrower id is unknown.
	ErrIndividualNotFound = errors.New("individual not found")

	// ErrEntryNotFound is returned when a ledger entry id is unknown.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrSavingsNotFound is returned when a savings entry id is unknown.
	ErrSavingsNotFound = errors.New("savings entry not found")

	// ErrLoanInactive is returned when an operation requires an active
	// loan but the loan is already paid off.
	ErrLoanInactive = errors.New("loan is not active")

	// ErrCancelled is returned when a batch operation is aborted through
	// its cooperative cancellation callback. The caller's surrounding
	// store transaction rolls back the partial batch.
	ErrCancelled = errors.New("operation cancelled")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError reports invalid caller input (non-positive amounts or
// durations, malformed dates). The store is untouched when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// Validationf builds a ValidationError for a field.
func Validationf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLoanNotFound) ||
		errors.Is(err, ErrIndividualNotFound) ||
		errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrSavingsNotFound)
}

// IsClientError reports whether the error is due to invalid client input
// rather than an engine or store failure.
func IsClientError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrLoanInactive)
}
