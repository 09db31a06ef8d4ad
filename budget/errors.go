/*
errors.go - Error taxonomy of the budget engine

PURPOSE:
  Every operation fails with one of the sentinels below, possibly wrapped
  in a structured error carrying the ids involved. Callers test with
  errors.Is; the HTTP layer maps the categories to status codes.

ERROR CATEGORIES:
  1. Workflow    - ErrInvalidTransition, ErrUnauthorized, ErrNotResubmittable
  2. Year gating - ErrYearLocked, ErrYearClosed, ErrAlreadyLocked, ErrAlreadyClosed,
                   ErrNotLocked, ErrActiveYearExists, ErrInvalidStatusChange
  3. Validation  - ErrInvalidAmount, ErrInvalidRange, ErrInvalidLabel, ErrInvalidInput,
                   ErrInvalidDecision, ErrInactive
  4. Uniqueness  - ErrDuplicateYear, ErrDuplicateCode, ErrDuplicateBill,
                   ErrDuplicateAllocation, ErrReferenced
  5. Money       - ErrOverspend, ErrDivisionGuard (internal)

SEE ALSO:
  - generic/errors.go: Ledger-level errors
  - api/handlers.go: Status code mapping
*/
package budget

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	ErrNotFound = errors.New("not found")

	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnauthorized      = errors.New("role not authorized for this operation")
	ErrNotResubmittable  = errors.New("expenditure already resubmitted")
	ErrInvalidDecision   = errors.New("unknown decision")

	ErrYearLocked          = errors.New("financial year is locked")
	ErrYearClosed          = errors.New("financial year is closed")
	ErrAlreadyLocked       = errors.New("financial year already locked")
	ErrAlreadyClosed       = errors.New("financial year already closed")
	ErrNotLocked           = errors.New("financial year must be locked before closing")
	ErrActiveYearExists    = errors.New("another financial year is already active")
	ErrInvalidStatusChange = errors.New("invalid financial year status change")

	ErrDuplicateYear       = errors.New("financial year label already exists")
	ErrDuplicateCode       = errors.New("code already in use")
	ErrDuplicateBill       = errors.New("bill number already submitted for this department")
	ErrDuplicateAllocation = errors.New("allocation already exists for department, head and year")
	ErrReferenced          = errors.New("record is referenced and cannot be deleted")

	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidRange  = errors.New("end date must be after start date")
	ErrInvalidLabel  = errors.New("invalid financial year label")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInactive      = errors.New("record is inactive")

	ErrOverspend = errors.New("amount exceeds remaining allocation")

	// ErrDivisionGuard signals a zero denominator. Aggregation maps it to 0
	// and never returns it to callers.
	ErrDivisionGuard = errors.New("division by zero")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// TransitionError reports a decision that the current status does not accept.
type TransitionError struct {
	ExpenditureID ExpenditureID
	From          ExpenditureStatus
	Action        string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s expenditure %s in status %s", e.Action, e.ExpenditureID, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// AuthorizationError reports which roles would have been accepted.
type AuthorizationError struct {
	Role      Role
	Operation string
	Allowed   []Role
}

func (e *AuthorizationError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, r := range e.Allowed {
		allowed[i] = string(r)
	}
	return fmt.Sprintf("role %q cannot %s (allowed: %s)", e.Role, e.Operation, strings.Join(allowed, ", "))
}

func (e *AuthorizationError) Unwrap() error { return ErrUnauthorized }

// YearStateError reports a year whose status forbids the operation.
type YearStateError struct {
	YearID    YearID
	Label     string
	Status    YearStatus
	Operation string
	Err       error
}

func (e *YearStateError) Error() string {
	return fmt.Sprintf("%s: financial year %s is %s: %v", e.Operation, e.Label, e.Status, e.Err)
}

func (e *YearStateError) Unwrap() error { return e.Err }

// OverspendError reports the shortfall on an allocation.
type OverspendError struct {
	AllocationID AllocationID
	Remaining    decimal.Decimal
	Requested    decimal.Decimal
}

func (e *OverspendError) Error() string {
	return fmt.Sprintf("allocation %s has %s remaining, requested %s",
		e.AllocationID, e.Remaining.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *OverspendError) Unwrap() error { return ErrOverspend }

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	if e.Err == nil {
		return ErrInvalidInput
	}
	return e.Err
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func notFound(kind string, id any) error {
	return fmt.Errorf("%s %v: %w", kind, id, ErrNotFound)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsForbidden(err error) bool { return errors.Is(err, ErrUnauthorized) }

// IsConflict returns true for errors caused by the current state of a record
// rather than by the request itself.
func IsConflict(err error) bool {
	for _, target := range []error{
		ErrInvalidTransition, ErrNotResubmittable,
		ErrYearLocked, ErrYearClosed, ErrAlreadyLocked, ErrAlreadyClosed, ErrNotLocked,
		ErrActiveYearExists, ErrInvalidStatusChange,
		ErrDuplicateYear, ErrDuplicateCode, ErrDuplicateBill, ErrDuplicateAllocation,
		ErrReferenced, ErrOverspend, ErrInactive,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsClientError returns true if the request itself is malformed.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidLabel) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidDecision)
}
