/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Records, corrections
  and summaries already carry JSON tags and are returned as they are;
  the types here cover request bodies and the reference data whose
  domain types don't serialize the way clients expect.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Events:       SubmitEventRequest, EventDTO, SubmitEventResponse
  Pipeline:     ProcessRequest, ProcessResponse, UnitResultDTO
  Records:      NotesRequest, ActorRequest, ApproveOvertimeRequest
  Violations:   ViolationActionRequest
  Corrections:  SubmitCorrectionRequest
  Payroll:      LockRequest, LockConflictResponse
  Reference:    EmployeeDTO, AssignmentDTO, HolidayDTO, LeaveDTO, RamadanDTO
  Scenarios:    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers and the service, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/policy.go: PolicyJSON type
*/
package api

import (
	"time"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// EVENTS
// =============================================================================

type SubmitEventRequest struct {
	ID         string               `json:"id,omitempty"`
	EmployeeID string               `json:"employee_id"`
	Kind       string               `json:"kind"`
	Timestamp  time.Time            `json:"timestamp"`
	Method     string               `json:"method,omitempty"`
	Location   *attendance.Location `json:"location,omitempty"`
	Confidence *float64             `json:"confidence,omitempty"`
	BreakType  string               `json:"break_type,omitempty"`
}

type EventDTO struct {
	ID         string               `json:"id"`
	EmployeeID string               `json:"employee_id"`
	Kind       string               `json:"kind"`
	Timestamp  time.Time            `json:"timestamp"`
	Method     string               `json:"method"`
	Location   *attendance.Location `json:"location,omitempty"`
	Confidence *float64             `json:"confidence,omitempty"`
	BreakType  string               `json:"break_type,omitempty"`
	ReceivedAt time.Time            `json:"received_at"`
	Seq        int64                `json:"seq"`
}

type SubmitEventResponse struct {
	Event    EventDTO `json:"event"`
	Accepted bool     `json:"accepted"` // false = duplicate of Event
}

// =============================================================================
// PIPELINE
// =============================================================================

// ProcessRequest names units directly, or expands employee_ids x [from, to].
// An empty employee_ids with a date range means every employee.
type ProcessRequest struct {
	Units       []attendance.Unit `json:"units,omitempty"`
	EmployeeIDs []string          `json:"employee_ids,omitempty"`
	From        string            `json:"from,omitempty"`
	To          string            `json:"to,omitempty"`
}

type UnitResultDTO struct {
	EmployeeID string `json:"employee_id"`
	Date       string `json:"date"`
	RecordID   string `json:"record_id,omitempty"`
	Status     string `json:"status,omitempty"`
	Error      string `json:"error,omitempty"`
}

type ProcessResponse struct {
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Skipped   int             `json:"skipped"`
	Results   []UnitResultDTO `json:"results"`
}

// =============================================================================
// RECORD ACTIONS
// =============================================================================

type NotesRequest struct {
	Actor         string  `json:"actor"`
	EmployeeNotes *string `json:"employee_notes,omitempty"`
	ManagerNotes  *string `json:"manager_notes,omitempty"`
	Flagged       *bool   `json:"flagged,omitempty"`
	FlagReason    string  `json:"flag_reason,omitempty"`
}

// ActorRequest is the body of actions that only need who and why.
type ActorRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

type ApproveOvertimeRequest struct {
	Actor   string `json:"actor"`
	Minutes int    `json:"minutes"`
}

type ViolationActionRequest struct {
	Actor    string                  `json:"actor"`
	Notes    string                  `json:"notes,omitempty"`
	Reason   string                  `json:"reason,omitempty"` // Appeal reason
	Decision string                  `json:"decision,omitempty"`
	Penalty  *attendance.PenaltySpec `json:"penalty,omitempty"`
	Severity string                  `json:"severity,omitempty"`
}

type SubmitCorrectionRequest struct {
	Field         string    `json:"field"`
	Type          string    `json:"correction_type,omitempty"`
	ProposedValue time.Time `json:"proposed_value"`
	Justification string    `json:"justification"`
	RequestedBy   string    `json:"requested_by"`
}

// =============================================================================
// PAYROLL
// =============================================================================

type LockRequest struct {
	PayrollRunID string   `json:"payroll_run_id"`
	RecordIDs    []string `json:"record_ids"`
	Actor        string   `json:"actor"`
}

// LockConflictResponse is the 409 body of a rejected batch lock.
type LockConflictResponse struct {
	Error     string                    `json:"error"`
	Details   string                    `json:"details,omitempty"`
	Conflicts []attendance.LockConflict `json:"conflicts"`
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

// EmployeeDTO represents an employee in API requests and responses.
type EmployeeDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Department string `json:"department,omitempty"`
	Region     string `json:"region,omitempty"`
	HireDate   string `json:"hire_date,omitempty"`
	HourlyRate string `json:"hourly_rate"`
	Currency   string `json:"currency"`
}

type AssignmentDTO struct {
	ID            string `json:"id"`
	EmployeeID    string `json:"employee_id"`
	PolicyID      string `json:"policy_id"`
	EffectiveFrom string `json:"effective_from"`
	EffectiveTo   string `json:"effective_to,omitempty"`
}

type HolidayDTO struct {
	ID        string `json:"id"`
	Region    string `json:"region"`
	Date      string `json:"date"`
	Name      string `json:"name"`
	Type      string `json:"type,omitempty"`
	Recurring bool   `json:"recurring"`
}

type LeaveDTO struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employee_id"`
	Type       string `json:"type"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
}

type RamadanDTO struct {
	Region    string `json:"region"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
