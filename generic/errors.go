/*
errors.go - Centralized error taxonomy for the payroll engine

PURPOSE:
  All error categories in one place for consistency and discoverability.
  Callers classify with errors.Is against the category sentinels; the
  structured errors carry context and unwrap to their category.

ERROR CATEGORIES:
  1. Conflict          - Overlapping interval, duplicate run, lock not acquired
  2. NotFound          - No compensation / run / proration coverage
  3. InvalidTransition - Payroll run status change off the state machine
  4. Validation        - Malformed input, rejected before any lock or tx
  5. Unavailable       - Lock backend or store down (fails closed)

PROPAGATION:
  Nothing in the engine recovers locally. The only local cleanup is lock
  release on every exit path of a locked section.

SEE ALSO:
  - lock/lock.go: ErrLockNotAcquired, unavailable backend wrapping
  - payroll/compensation.go: OverlapError
  - api/handlers.go: category to HTTP status mapping
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// CATEGORY SENTINELS - Use with errors.Is()
// =============================================================================

var (
	ErrConflict          = errors.New("conflict")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrValidation        = errors.New("validation failed")
	ErrUnavailable       = errors.New("backend unavailable")
)

// =============================================================================
// SPECIFIC SENTINELS - Each wraps exactly one category
// =============================================================================

var (
	// ErrOverlappingCompensation is returned when a bounded interval already
	// covers the requested valid_from.
	ErrOverlappingCompensation = fmt.Errorf("overlapping compensation period: %w", ErrConflict)

	// ErrDuplicateRun is returned when (employee, month) already has a run.
	ErrDuplicateRun = fmt.Errorf("payroll run already exists for this month: %w", ErrConflict)

	// ErrLockNotAcquired is returned when the retry budget is exhausted.
	ErrLockNotAcquired = fmt.Errorf("lock not acquired: %w", ErrConflict)

	// ErrConcurrentModification is returned when a conditional update lost a race.
	ErrConcurrentModification = fmt.Errorf("concurrent modification detected: %w", ErrConflict)

	// ErrNoCompensation is returned when a month has zero coverage.
	ErrNoCompensation = fmt.Errorf("no compensation found for the specified period: %w", ErrNotFound)

	// ErrRunNotFound is returned for an unknown run id.
	ErrRunNotFound = fmt.Errorf("payroll run not found: %w", ErrNotFound)

	// ErrUserNotFound is returned by user lookups.
	ErrUserNotFound = fmt.Errorf("user not found: %w", ErrNotFound)
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// OverlapError describes the interval that blocked a compensation write.
type OverlapError struct {
	EmployeeID   int64
	ValidFrom    Date
	ExistingID   int64
	ExistingFrom Date
	ExistingTo   *Date
}

func (e *OverlapError) Error() string {
	to := "open"
	if e.ExistingTo != nil {
		to = e.ExistingTo.String()
	}
	return fmt.Sprintf("overlapping compensation period: %s collides with compensation %d [%s, %s) for employee %d",
		e.ValidFrom, e.ExistingID, e.ExistingFrom, to, e.EmployeeID)
}

func (e *OverlapError) Unwrap() error { return ErrOverlappingCompensation }

// DuplicateRunError names the run that already exists.
type DuplicateRunError struct {
	EmployeeID    int64
	Month         Date
	ExistingRunID int64
}

func (e *DuplicateRunError) Error() string {
	return fmt.Sprintf("payroll run already exists for employee %d month %s (run %d)",
		e.EmployeeID, e.Month.MonthKey(), e.ExistingRunID)
}

func (e *DuplicateRunError) Unwrap() error { return ErrDuplicateRun }

// InvalidTransitionError describes a rejected status change.
type InvalidTransitionError struct {
	RunID  int64
	From   string
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.Action)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// ValidationError describes one rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Unavailable wraps a backend failure into the Unavailable category.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsConflict(err error) bool          { return errors.Is(err, ErrConflict) }
func IsNotFound(err error) bool          { return errors.Is(err, ErrNotFound) }
func IsInvalidTransition(err error) bool { return errors.Is(err, ErrInvalidTransition) }
func IsValidation(err error) bool        { return errors.Is(err, ErrValidation) }
func IsUnavailable(err error) bool       { return errors.Is(err, ErrUnavailable) }

// IsRetryable returns true if the error might succeed on retry without the
// caller changing its input.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrLockNotAcquired) ||
		errors.Is(err, ErrConcurrentModification)
}
