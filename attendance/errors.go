package attendance

import (
	"fmt"
	"strings"

	"github.com/warp/attendance-engine/generic"
)

// =============================================================================
// STRUCTURED ERRORS - Carry context, unwrap to generic sentinels
// =============================================================================

// IncompleteDataError: a session was opened but never closed on a closed day.
type IncompleteDataError struct {
	EmployeeID EmployeeID
	Date       generic.Date
	Missing    EventKind
}

func (e *IncompleteDataError) Error() string {
	return fmt.Sprintf("incomplete data for %s on %s: missing %s", e.EmployeeID, e.Date, e.Missing)
}

func (e *IncompleteDataError) Unwrap() error { return generic.ErrIncompleteData }

// PolicyMissingError: no policy assignment covers the employee on the date.
type PolicyMissingError struct {
	EmployeeID EmployeeID
	Date       generic.Date
}

func (e *PolicyMissingError) Error() string {
	return fmt.Sprintf("no policy assigned to %s on %s", e.EmployeeID, e.Date)
}

func (e *PolicyMissingError) Unwrap() error { return generic.ErrPolicyMissing }

// DuplicateCorrectionError: another pending correction targets the same field.
type DuplicateCorrectionError struct {
	RecordID   RecordID
	Field      CorrectionField
	ExistingID CorrectionID
}

func (e *DuplicateCorrectionError) Error() string {
	return fmt.Sprintf("record %s already has pending correction %s for %s", e.RecordID, e.ExistingID, e.Field)
}

func (e *DuplicateCorrectionError) Unwrap() error { return generic.ErrDuplicateCorrection }

// RecordLockedError: a workflow action targeted a locked record.
type RecordLockedError struct {
	RecordID     RecordID
	PayrollRunID PayrollRunID
}

func (e *RecordLockedError) Error() string {
	return fmt.Sprintf("record %s is locked by payroll run %s", e.RecordID, e.PayrollRunID)
}

func (e *RecordLockedError) Unwrap() error { return generic.ErrRecordLocked }

// AlreadyLockedError: the pipeline was invoked on a locked record. This is
// an ordering bug in the caller, not a user error.
type AlreadyLockedError struct {
	RecordID     RecordID
	PayrollRunID PayrollRunID
}

func (e *AlreadyLockedError) Error() string {
	return fmt.Sprintf("invariant violation: pipeline invoked on record %s locked by run %s", e.RecordID, e.PayrollRunID)
}

func (e *AlreadyLockedError) Unwrap() error { return generic.ErrAlreadyLocked }

// LockConflictReason explains why one record blocks a batch lock.
type LockConflictReason string

const (
	ConflictLockedByOtherRun  LockConflictReason = "locked_by_other_run"
	ConflictPendingCorrection LockConflictReason = "pending_correction"
	ConflictRecordNotFound    LockConflictReason = "record_not_found"
	ConflictNotAggregated     LockConflictReason = "not_aggregated"
	ConflictProvisional       LockConflictReason = "provisional"
	ConflictIncomplete        LockConflictReason = "incomplete"

	ConflictTimesheetNotApproved LockConflictReason = "timesheet_not_approved"
)

type LockConflict struct {
	RecordID     RecordID           `json:"record_id"`
	Reason       LockConflictReason `json:"reason"`
	PayrollRunID PayrollRunID       `json:"payroll_run_id,omitempty"`
}

// LockConflictError: the batch lock was rejected as a whole.
type LockConflictError struct {
	PayrollRunID PayrollRunID
	Conflicts    []LockConflict
}

func (e *LockConflictError) Error() string {
	ids := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		ids[i] = fmt.Sprintf("%s (%s)", c.RecordID, c.Reason)
	}
	return fmt.Sprintf("payroll run %s: lock rejected, conflicting records: %s", e.PayrollRunID, strings.Join(ids, ", "))
}

func (e *LockConflictError) Unwrap() error { return generic.ErrLockConflict }

// ConflictingIDs lists the record IDs that blocked the lock.
func (e *LockConflictError) ConflictingIDs() []RecordID {
	ids := make([]RecordID, len(e.Conflicts))
	for i, c := range e.Conflicts {
		ids[i] = c.RecordID
	}
	return ids
}

// TransitionError: a state machine action is not allowed from the current state.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot move from %s to %s", e.Entity, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return generic.ErrInvalidTransition }

// NotFoundError: a referenced row doesn't exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }

func (e *NotFoundError) Unwrap() error { return generic.ErrNotFound }
