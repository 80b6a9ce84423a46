/*
errors.go - Centralized sentinel errors for the engine

PURPOSE:
  All sentinel errors in one place for consistency and discoverability.
  The attendance package defines structured errors carrying context
  (record IDs, fields, conflicting runs) that unwrap to these sentinels,
  so callers can branch with errors.Is without importing domain types.

ERROR CATEGORIES:
  1. Data errors - Incomplete events, missing policies
  2. Workflow errors - Duplicate corrections, invalid transitions
  3. Lock errors - Locked records, batch lock conflicts
  4. Store errors - Missing rows, idempotency

USAGE:
  if errors.Is(err, generic.ErrLockConflict) {
      // whole batch was rejected, nothing changed
  }

SEE ALSO:
  - attendance/errors.go: Structured errors wrapping these sentinels
  - api/handlers.go: HTTP status mapping
*/
package generic

import "errors"

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrIncompleteData is returned when a closed day has a check-in with
	// no matching check-out. Recoverable by a manual correction.
	ErrIncompleteData = errors.New("incomplete attendance data")

	// ErrPolicyMissing is returned when no policy is assigned to the
	// employee for the work date.
	ErrPolicyMissing = errors.New("no applicable policy")

	// ErrDuplicateCorrection is returned when a pending correction already
	// exists for the same record and field.
	ErrDuplicateCorrection = errors.New("duplicate pending correction")

	// ErrRecordLocked is returned when a workflow action would mutate a
	// record that is locked into a payroll run.
	ErrRecordLocked = errors.New("record is locked")

	// ErrLockConflict is returned when a batch lock cannot be applied.
	// No record in the batch is changed.
	ErrLockConflict = errors.New("payroll lock conflict")

	// ErrAlreadyLocked is returned when the pipeline is invoked on a locked
	// record. This indicates an ordering bug in the caller.
	ErrAlreadyLocked = errors.New("pipeline invoked on locked record")

	// ErrInvalidTransition is returned when a state machine action is not
	// allowed from the current state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrDuplicateIdempotencyKey is returned when a ledger entry with the
	// same idempotency key already exists. Expected on retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrNotFound is returned when a referenced row doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsConflict returns true if the request conflicts with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateCorrection) ||
		errors.Is(err, ErrRecordLocked) ||
		errors.Is(err, ErrLockConflict) ||
		errors.Is(err, ErrAlreadyLocked) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsUnprocessable returns true if the input data cannot be classified
// until an administrator or employee fixes it.
func IsUnprocessable(err error) bool {
	return errors.Is(err, ErrIncompleteData) ||
		errors.Is(err, ErrPolicyMissing)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
