/*
errors.go - Centralized error types for the incentive engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Store backends and the API layer wrap or match these errors.

ERROR CATEGORIES:
  1. Reference errors  - A referenced record does not exist
  2. Data errors       - A stored record cannot be interpreted
  3. Store errors      - Document-level conflicts

  Domain-negative outcomes ("no tasks", "deadline expired", ...) are NOT
  errors. They are ordinary Evaluation values with a message.

USAGE:
  if errors.Is(err, incentive.ErrObjectiveNotFound) {
      // 404
  }

SEE ALSO:
  - evaluator.go: Which errors escape an evaluation
  - api/handlers.go: HTTP status mapping
*/
package incentive

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDocumentNotFound is returned by a DocumentStore when no document has
	// the requested collection/id.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDocumentExists is returned by DocumentStore.Create when the id is taken.
	ErrDocumentExists = errors.New("document already exists")

	// ErrConcurrentModification is returned when a read-modify-write lost a race
	// and gave up.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrObjectiveNotFound is returned when a referenced objective doesn't exist.
	ErrObjectiveNotFound = errors.New("objective not found")

	// ErrIncentiveNotFound is returned when a referenced incentive doesn't exist.
	// The evaluator folds it into a zero result instead of failing.
	ErrIncentiveNotFound = errors.New("incentive not found")

	// ErrTaskNotFound is returned when a referenced task doesn't exist.
	ErrTaskNotFound = errors.New("task not found")

	// ErrSettlementNotFound is returned when an objective has not been settled.
	ErrSettlementNotFound = errors.New("settlement not found")

	// ErrAlreadySettled is returned when recording a second settlement for
	// the same objective.
	ErrAlreadySettled = errors.New("objective already settled")

	// ErrMalformedIncentive is returned when a stored incentive cannot be
	// interpreted (unknown type, unparseable monetary value).
	ErrMalformedIncentive = errors.New("malformed incentive")

	// ErrInvalidObjective is returned when an objective fails validation.
	ErrInvalidObjective = errors.New("invalid objective")

	// ErrInvalidTask is returned when a task fails validation.
	ErrInvalidTask = errors.New("invalid task")

	// ErrInvalidIncentive is returned when a submitted incentive fails
	// validation. Stored incentives that fail the same checks are
	// ErrMalformedIncentive instead.
	ErrInvalidIncentive = errors.New("invalid incentive")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// MalformedValueError reports a monetary incentive whose value is not a number.
type MalformedValueError struct {
	IncentiveID IncentiveID
	Value       string
}

func (e *MalformedValueError) Error() string {
	if e.IncentiveID == "" {
		return fmt.Sprintf("malformed incentive: monetary value %q is not a number", e.Value)
	}
	return fmt.Sprintf("malformed incentive %s: monetary value %q is not a number",
		e.IncentiveID, e.Value)
}

func (e *MalformedValueError) Unwrap() error {
	return ErrMalformedIncentive
}

// ValidationError names the field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
	kind   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s %s", e.kind, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.kind
}

// InvalidObjective builds a validation error for an objective field.
func InvalidObjective(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason, kind: ErrInvalidObjective}
}

// InvalidTask builds a validation error for a task field.
func InvalidTask(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason, kind: ErrInvalidTask}
}

// InvalidIncentive builds a validation error for a submitted incentive.
func InvalidIncentive(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason, kind: ErrInvalidIncentive}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObjectiveNotFound) ||
		errors.Is(err, ErrIncentiveNotFound) ||
		errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrSettlementNotFound) ||
		errors.Is(err, ErrDocumentNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidObjective) ||
		errors.Is(err, ErrInvalidTask) ||
		errors.Is(err, ErrInvalidIncentive)
}

// IsConflict returns true if the write collided with existing data.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDocumentExists) ||
		errors.Is(err, ErrAlreadySettled)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
