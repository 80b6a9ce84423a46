/*
timesheet.go - Timesheet approval on a daily record

PURPOSE:
  A manager signs off the day before it goes to payroll. Policies with
  RequireTimesheetApproval keep unapproved records out of Lock.

STATES:
  pending  → approved | rejected
  rejected → approved
  approved → rejected

  A re-run keeps the decision. Applying a correction or superseding a
  locked record changes the times that were signed off, so the
  timesheet goes back to pending.
*/
package attendance

import (
	"fmt"
	"strings"
	"time"

	"github.com/warp/attendance-engine/generic"
)

type TimesheetStatus string

const (
	TimesheetPending  TimesheetStatus = "pending"
	TimesheetApproved TimesheetStatus = "approved"
	TimesheetRejected TimesheetStatus = "rejected"
)

type TimesheetApproval struct {
	Status          TimesheetStatus `json:"status"`
	Required        bool            `json:"required"` // Policy requires approval before lock
	ReviewedBy      string          `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time      `json:"reviewed_at,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
}

func pendingTimesheet(required bool) TimesheetApproval {
	return TimesheetApproval{Status: TimesheetPending, Required: required}
}

// Blocking reports whether the timesheet keeps the record out of payroll.
func (t TimesheetApproval) Blocking() bool {
	return t.Required && t.Status != TimesheetApproved
}

func (t *TimesheetApproval) transition(id RecordID, to TimesheetStatus, allowed ...TimesheetStatus) error {
	for _, from := range allowed {
		if t.Status == from {
			t.Status = to
			return nil
		}
	}
	return &TransitionError{Entity: "timesheet", ID: string(id), From: string(t.Status), To: string(to)}
}

// Approve moves pending|rejected → approved.
func (t *TimesheetApproval) Approve(id RecordID, actor, notes string, at time.Time) error {
	if err := t.transition(id, TimesheetApproved, TimesheetPending, TimesheetRejected); err != nil {
		return err
	}
	t.ReviewedBy, t.ReviewedAt, t.Notes, t.RejectionReason = actor, &at, notes, ""
	return nil
}

// Reject moves pending|approved → rejected. A reason is required.
func (t *TimesheetApproval) Reject(id RecordID, actor, reason string, at time.Time) error {
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("%w: rejecting a timesheet needs a reason", generic.ErrInvalidInput)
	}
	if err := t.transition(id, TimesheetRejected, TimesheetPending, TimesheetApproved); err != nil {
		return err
	}
	t.ReviewedBy, t.ReviewedAt, t.RejectionReason = actor, &at, reason
	return nil
}
