package attendance

import (
	"fmt"
	"strings"
	"time"

	"github.com/warp/attendance-engine/generic"
)

// =============================================================================
// CORRECTION WORKFLOW - pending → approved → applied | pending → rejected
// =============================================================================

type CorrectionField string

const (
	FieldCheckIn  CorrectionField = "check_in"
	FieldCheckOut CorrectionField = "check_out"
)

func (f CorrectionField) Valid() bool { return f == FieldCheckIn || f == FieldCheckOut }

type CorrectionType string

const (
	CorrectionMissedCheckIn  CorrectionType = "missed_checkin"
	CorrectionMissedCheckOut CorrectionType = "missed_checkout"
	CorrectionWrongTime      CorrectionType = "wrong_time"
	CorrectionWrongLocation  CorrectionType = "wrong_location"
	CorrectionOther          CorrectionType = "other"
)

func (t CorrectionType) Valid() bool {
	switch t {
	case CorrectionMissedCheckIn, CorrectionMissedCheckOut, CorrectionWrongTime, CorrectionWrongLocation, CorrectionOther:
		return true
	}
	return false
}

type CorrectionStatus string

const (
	CorrectionPending  CorrectionStatus = "pending"
	CorrectionApproved CorrectionStatus = "approved"
	CorrectionRejected CorrectionStatus = "rejected"
	CorrectionApplied  CorrectionStatus = "applied"
)

// CorrectionRequest proposes a new value for one time field of an unlocked
// record. Approval alone changes nothing; Apply re-runs the pipeline with
// the proposed value as an override.
type CorrectionRequest struct {
	ID         CorrectionID     `json:"id"`
	RecordID   RecordID         `json:"record_id"`
	EmployeeID EmployeeID       `json:"employee_id"`
	Date       generic.Date     `json:"date"`
	Type       CorrectionType   `json:"type"`
	Field      CorrectionField  `json:"field"`
	Original   *time.Time       `json:"original_value,omitempty"`
	Proposed   time.Time        `json:"proposed_value"`
	Reason     string           `json:"justification"`
	Status     CorrectionStatus `json:"status"`

	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`

	ReviewedBy  string     `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	ReviewNotes string     `json:"review_notes,omitempty"`

	AppliedAt       *time.Time `json:"applied_at,omitempty"`
	AppliedRecordID RecordID   `json:"applied_record_id,omitempty"`
}

// Validate checks the fields a requester must supply.
func (c CorrectionRequest) Validate() error {
	var problems []string
	if c.RecordID == "" {
		problems = append(problems, "record_id is required")
	}
	if !c.Field.Valid() {
		problems = append(problems, fmt.Sprintf("field must be %s or %s", FieldCheckIn, FieldCheckOut))
	}
	if c.Type != "" && !c.Type.Valid() {
		problems = append(problems, fmt.Sprintf("unknown correction type %q", c.Type))
	}
	if c.Proposed.IsZero() {
		problems = append(problems, "proposed_value is required")
	}
	if strings.TrimSpace(c.Reason) == "" {
		problems = append(problems, "justification is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", generic.ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}

func (c *CorrectionRequest) transition(to CorrectionStatus, from CorrectionStatus) error {
	if c.Status != from {
		return &TransitionError{Entity: "correction", ID: string(c.ID), From: string(c.Status), To: string(to)}
	}
	c.Status = to
	return nil
}

func (c *CorrectionRequest) Approve(actor, notes string, at time.Time) error {
	if err := c.transition(CorrectionApproved, CorrectionPending); err != nil {
		return err
	}
	c.ReviewedBy, c.ReviewedAt, c.ReviewNotes = actor, &at, notes
	return nil
}

func (c *CorrectionRequest) Reject(actor, reason string, at time.Time) error {
	if err := c.transition(CorrectionRejected, CorrectionPending); err != nil {
		return err
	}
	c.ReviewedBy, c.ReviewedAt, c.ReviewNotes = actor, &at, reason
	return nil
}

// MarkApplied records that the correction produced recordID.
func (c *CorrectionRequest) MarkApplied(recordID RecordID, at time.Time) error {
	if err := c.transition(CorrectionApplied, CorrectionApproved); err != nil {
		return err
	}
	c.AppliedAt, c.AppliedRecordID = &at, recordID
	return nil
}

// Override is an applied correction as seen by EventIntake.
type Override struct {
	CorrectionID CorrectionID
	Field        CorrectionField
	At           time.Time
}

func (c CorrectionRequest) Override() Override {
	return Override{CorrectionID: c.ID, Field: c.Field, At: c.Proposed}
}

// OverridesFrom collects overrides from applied corrections, oldest first,
// so a later correction of the same field wins.
func OverridesFrom(corrections []CorrectionRequest) []Override {
	var out []Override
	for _, c := range corrections {
		if c.Status == CorrectionApplied {
			out = append(out, c.Override())
		}
	}
	return out
}
