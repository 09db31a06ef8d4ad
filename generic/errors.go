/*
errors.go - Centralized error types for the ledger primitives

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Ledger errors - Transaction persistence failures
  2. Period errors - Malformed periods and labels
  3. Store errors - Database-level failures

USAGE:
  if errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
      // replayed write, already applied
  }

SEE ALSO:
  - ledger.go: Uses these errors
  - budget/errors.go: Domain taxonomy built on top
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
	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrTransactionFailed is returned when a transaction cannot be persisted.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrConcurrentModification is returned when a store detects a conflicting writer.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrCurrencyMismatch is returned when amounts in different currencies are combined.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrInvalidPeriod is returned when a period is malformed (end not after start).
	ErrInvalidPeriod = errors.New("invalid period: end must be after start")

	// ErrInvalidFiscalLabel is returned when a label is not of the form YYYY-YY.
	ErrInvalidFiscalLabel = errors.New("invalid fiscal year label")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DuplicateKeyError reports which idempotency key collided.
type DuplicateKeyError struct {
	Key       string
	AccountID AccountID
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate idempotency key %q on account %s", e.Key, e.AccountID)
}

func (e *DuplicateKeyError) Unwrap() error {
	return ErrDuplicateIdempotencyKey
}

// LabelError reports a label that cannot be parsed into a fiscal period.
type LabelError struct {
	Label  string
	Reason string
}

func (e *LabelError) Error() string {
	return fmt.Sprintf("invalid fiscal year label %q: %s", e.Label, e.Reason)
}

func (e *LabelError) Unwrap() error {
	return ErrInvalidFiscalLabel
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidFiscalLabel)
}
