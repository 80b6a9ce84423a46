package attendance

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/attendance-engine/generic"
)

// =============================================================================
// VIOLATION CODES
// =============================================================================

type ViolationCode string

const (
	CodeDailyHours          ViolationCode = "DAILY_HOURS_EXCEEDED"
	CodeBreakRequirement    ViolationCode = "BREAK_REQUIREMENT_NOT_MET"
	CodeExcessiveOvertime   ViolationCode = "EXCESSIVE_OVERTIME"
	CodeInsufficientRest    ViolationCode = "INSUFFICIENT_REST"
	CodeWeeklyRest          ViolationCode = "WEEKLY_REST_DENIED"
	CodeRamadanHours        ViolationCode = "RAMADAN_HOURS_EXCEEDED"
	CodeLateArrival         ViolationCode = "LATE_ARRIVAL"
	CodeEarlyDeparture      ViolationCode = "EARLY_DEPARTURE"
	CodeUnauthorizedAbsence ViolationCode = "UNAUTHORIZED_ABSENCE"
)

// ViolationCodes lists every code the rule set can raise, in rule order.
var ViolationCodes = []ViolationCode{
	CodeDailyHours,
	CodeBreakRequirement,
	CodeExcessiveOvertime,
	CodeInsufficientRest,
	CodeWeeklyRest,
	CodeRamadanHours,
	CodeLateArrival,
	CodeEarlyDeparture,
	CodeUnauthorizedAbsence,
}

func (c ViolationCode) Valid() bool {
	for _, v := range ViolationCodes {
		if v == c {
			return true
		}
	}
	return false
}

// =============================================================================
// VIOLATION STATUS
// =============================================================================

type ViolationStatus string

const (
	ViolationDetected      ViolationStatus = "detected"
	ViolationPendingReview ViolationStatus = "pending_review"
	ViolationConfirmed     ViolationStatus = "confirmed"
	ViolationDismissed     ViolationStatus = "dismissed"
	ViolationAppealed      ViolationStatus = "appealed"
	ViolationUpheld        ViolationStatus = "upheld"
	ViolationOverturned    ViolationStatus = "overturned"
	ViolationModified      ViolationStatus = "modified"
)

type AppealDecision string

const (
	AppealUpheld     AppealDecision = "upheld"
	AppealOverturned AppealDecision = "overturned"
	AppealModified   AppealDecision = "modified"
)

// ViolationDetails records what the rule measured.
type ViolationDetails struct {
	Actual int64  `json:"actual"`
	Limit  int64  `json:"limit"`
	Unit   string `json:"unit"` // "minutes" or "days"
	Note   string `json:"note,omitempty"`
}

// Violation is one detected rule breach on one record.
type Violation struct {
	ID           ViolationID
	Code         ViolationCode
	Rule         string
	Severity     Severity
	OffenseCount int // Prior confirmed offenses of Code in the rolling window
	Penalty      Penalty
	Details      ViolationDetails
	Status       ViolationStatus
	AutoDetected bool
	DetectedOn   generic.Date

	ReviewedBy  string
	ReviewedAt  *time.Time
	ReviewNotes string

	AppealReason   string
	AppealedAt     *time.Time
	AppealDecision AppealDecision
	DecidedBy      string
	DecidedAt      *time.Time
}

// Effective reports whether the violation's penalty applies to payroll.
// An appealed violation stays effective until the appeal is decided.
func (v Violation) Effective() bool {
	switch v.Status {
	case ViolationConfirmed, ViolationAppealed, ViolationUpheld, ViolationModified:
		return true
	default:
		return false
	}
}

// Decided reports whether a reviewer has ruled on the violation. Decided
// violations are never replaced by re-running the engine.
func (v Violation) Decided() bool {
	return v.Status != ViolationDetected && v.Status != ViolationPendingReview
}

// =============================================================================
// REVIEW TRANSITIONS
// =============================================================================

func (v *Violation) transition(to ViolationStatus, allowed ...ViolationStatus) error {
	for _, from := range allowed {
		if v.Status == from {
			v.Status = to
			return nil
		}
	}
	return &TransitionError{Entity: "violation", ID: string(v.ID), From: string(v.Status), To: string(to)}
}

// MarkForReview moves detected → pending_review.
func (v *Violation) MarkForReview(actor string, at time.Time) error {
	if err := v.transition(ViolationPendingReview, ViolationDetected); err != nil {
		return err
	}
	v.ReviewedBy, v.ReviewedAt = actor, &at
	return nil
}

// Confirm moves detected|pending_review → confirmed.
func (v *Violation) Confirm(actor, notes string, at time.Time) error {
	if err := v.transition(ViolationConfirmed, ViolationDetected, ViolationPendingReview); err != nil {
		return err
	}
	v.ReviewedBy, v.ReviewedAt, v.ReviewNotes = actor, &at, notes
	return nil
}

// Dismiss moves detected|pending_review → dismissed.
func (v *Violation) Dismiss(actor, reason string, at time.Time) error {
	if err := v.transition(ViolationDismissed, ViolationDetected, ViolationPendingReview); err != nil {
		return err
	}
	v.ReviewedBy, v.ReviewedAt, v.ReviewNotes = actor, &at, reason
	return nil
}

// Appeal moves confirmed → appealed.
func (v *Violation) Appeal(reason string, at time.Time) error {
	if err := v.transition(ViolationAppealed, ViolationConfirmed); err != nil {
		return err
	}
	v.AppealReason, v.AppealedAt = reason, &at
	return nil
}

// Decide records the appeal outcome. A modified decision replaces the
// penalty and may lower the severity.
func (v *Violation) Decide(decision AppealDecision, actor string, penalty Penalty, severity Severity, at time.Time) error {
	var to ViolationStatus
	switch decision {
	case AppealUpheld:
		to = ViolationUpheld
	case AppealOverturned:
		to = ViolationOverturned
	case AppealModified:
		if penalty == nil {
			return fmt.Errorf("%w: modified appeal decision needs a penalty", generic.ErrInvalidInput)
		}
		to = ViolationModified
	default:
		return fmt.Errorf("%w: unknown appeal decision %q", generic.ErrInvalidInput, decision)
	}
	if err := v.transition(to, ViolationAppealed); err != nil {
		return err
	}
	v.AppealDecision, v.DecidedBy, v.DecidedAt = decision, actor, &at
	if decision == AppealModified {
		v.Penalty = penalty
		if severity.Valid() {
			v.Severity = severity
		}
	}
	return nil
}

// =============================================================================
// JSON - Penalty is an interface, so it travels as a PenaltySpec
// =============================================================================

type violationJSON struct {
	ID             ViolationID      `json:"id"`
	Code           ViolationCode    `json:"code"`
	Rule           string           `json:"rule"`
	Severity       Severity         `json:"severity"`
	OffenseCount   int              `json:"offense_count"`
	Penalty        PenaltySpec      `json:"penalty"`
	Details        ViolationDetails `json:"details"`
	Status         ViolationStatus  `json:"status"`
	AutoDetected   bool             `json:"auto_detected"`
	DetectedOn     generic.Date     `json:"detected_on"`
	ReviewedBy     string           `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time       `json:"reviewed_at,omitempty"`
	ReviewNotes    string           `json:"review_notes,omitempty"`
	AppealReason   string           `json:"appeal_reason,omitempty"`
	AppealedAt     *time.Time       `json:"appealed_at,omitempty"`
	AppealDecision AppealDecision   `json:"appeal_decision,omitempty"`
	DecidedBy      string           `json:"decided_by,omitempty"`
	DecidedAt      *time.Time       `json:"decided_at,omitempty"`
}

func (v Violation) MarshalJSON() ([]byte, error) {
	return json.Marshal(violationJSON{
		ID: v.ID, Code: v.Code, Rule: v.Rule, Severity: v.Severity,
		OffenseCount: v.OffenseCount, Penalty: SpecOf(v.Penalty), Details: v.Details,
		Status: v.Status, AutoDetected: v.AutoDetected, DetectedOn: v.DetectedOn,
		ReviewedBy: v.ReviewedBy, ReviewedAt: v.ReviewedAt, ReviewNotes: v.ReviewNotes,
		AppealReason: v.AppealReason, AppealedAt: v.AppealedAt, AppealDecision: v.AppealDecision,
		DecidedBy: v.DecidedBy, DecidedAt: v.DecidedAt,
	})
}

func (v *Violation) UnmarshalJSON(b []byte) error {
	var j violationJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	penalty, err := j.Penalty.Penalty()
	if err != nil {
		return err
	}
	*v = Violation{
		ID: j.ID, Code: j.Code, Rule: j.Rule, Severity: j.Severity,
		OffenseCount: j.OffenseCount, Penalty: penalty, Details: j.Details,
		Status: j.Status, AutoDetected: j.AutoDetected, DetectedOn: j.DetectedOn,
		ReviewedBy: j.ReviewedBy, ReviewedAt: j.ReviewedAt, ReviewNotes: j.ReviewNotes,
		AppealReason: j.AppealReason, AppealedAt: j.AppealedAt, AppealDecision: j.AppealDecision,
		DecidedBy: j.DecidedBy, DecidedAt: j.DecidedAt,
	}
	return nil
}
