/*
store.go - Interfaces the engine consumes

PURPOSE:
  The engine owns records and corrections; everything else (employees,
  leave, calendars, policies, raw events) belongs to external services and
  is read through the narrow interfaces below. All reads for one unit
  happen before the pipeline runs, so the pipeline itself never blocks.

INTERFACES:
  RecordStore:       Attendance records (current revision per day + history)
  CorrectionStore:   Correction requests
  TxStore:           Both of the above, with all-or-nothing transactions
  EventStore:        Raw events with ingestion sequence numbers
  PolicyStore:       Policies and dated assignments
  EmployeeDirectory: Employee identity and pay rates
  LeaveProvider:     Approved leave coverage
  Calendar:          Holidays and Ramadan periods per region

IMPLEMENTATIONS:
  - store/memory: In-memory, for tests and demos
  - store/sqlite: SQLite, for the server

SEE ALSO:
  - service.go: The only consumer
*/
package attendance

import (
	"context"
	"time"

	"github.com/warp/attendance-engine/generic"
)

// =============================================================================
// RECORDS & CORRECTIONS
// =============================================================================

// RecordFilter selects current record revisions. Zero fields match everything.
type RecordFilter struct {
	EmployeeID    EmployeeID
	Period        *generic.Period
	Status        Status
	HasViolations *bool
	Locked        *bool
	PayrollRunID  PayrollRunID
}

func (f RecordFilter) Matches(r Record) bool {
	if f.EmployeeID != "" && r.EmployeeID != f.EmployeeID {
		return false
	}
	if f.Period != nil && !f.Period.Contains(r.Date()) {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.HasViolations != nil && (len(r.Violations) > 0) != *f.HasViolations {
		return false
	}
	if f.Locked != nil && r.Lock.Locked != *f.Locked {
		return false
	}
	if f.PayrollRunID != "" && r.Lock.PayrollRunID != f.PayrollRunID {
		return false
	}
	return true
}

type RecordStore interface {
	// GetRecord returns any revision by ID, or a NotFoundError.
	GetRecord(ctx context.Context, id RecordID) (*Record, error)

	// CurrentRecord returns the highest revision for the day, or a
	// NotFoundError.
	CurrentRecord(ctx context.Context, employeeID EmployeeID, date generic.Date) (*Record, error)

	// SaveRecord inserts or replaces the record with the same ID.
	SaveRecord(ctx context.Context, r Record) error

	// QueryRecords returns current revisions matching the filter, ordered
	// by date then employee.
	QueryRecords(ctx context.Context, f RecordFilter) ([]Record, error)
}

type CorrectionStore interface {
	SaveCorrection(ctx context.Context, c CorrectionRequest) error
	GetCorrection(ctx context.Context, id CorrectionID) (*CorrectionRequest, error)

	// PendingCorrections returns pending corrections for the record, or
	// all pending corrections when recordID is empty.
	PendingCorrections(ctx context.Context, recordID RecordID) ([]CorrectionRequest, error)

	// CorrectionsFor returns every correction for the employee's day,
	// oldest first.
	CorrectionsFor(ctx context.Context, employeeID EmployeeID, date generic.Date) ([]CorrectionRequest, error)
}

// Tx is the view of the store inside a transaction.
type Tx interface {
	RecordStore
	CorrectionStore
}

// TxStore runs fn atomically: either every write fn made is committed or
// none is.
type TxStore interface {
	Tx
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// =============================================================================
// EXTERNAL COLLABORATORS
// =============================================================================

type EventStore interface {
	// AppendEvent stores e and assigns its Seq.
	AppendEvent(ctx context.Context, e Event) (Event, error)

	// EventsBetween returns the employee's events with At in [from, to),
	// ordered by At then Seq.
	EventsBetween(ctx context.Context, employeeID EmployeeID, from, to time.Time) ([]Event, error)
}

type PolicyStore interface {
	GetPolicy(ctx context.Context, id PolicyID) (*Policy, error)
	AssignmentsFor(ctx context.Context, employeeID EmployeeID) ([]PolicyAssignment, error)
}

type EmployeeDirectory interface {
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
}

// Leave is an approved absence range, inclusive.
type Leave struct {
	ID         string       `json:"id"`
	EmployeeID EmployeeID   `json:"employee_id"`
	Type       string       `json:"type"`
	Start      generic.Date `json:"start_date"`
	End        generic.Date `json:"end_date"`
}

func (l Leave) Covers(d generic.Date) bool {
	return generic.Period{Start: l.Start, End: l.End}.Contains(d)
}

type LeaveProvider interface {
	// ApprovedLeave returns the leave covering the date, or nil.
	ApprovedLeave(ctx context.Context, employeeID EmployeeID, date generic.Date) (*Leave, error)
}

// RamadanPeriod is the Ramadan month for a region and year.
type RamadanPeriod struct {
	Region string       `json:"region"`
	Start  generic.Date `json:"start_date"`
	End    generic.Date `json:"end_date"`
}

// DayOf returns the 1-based day of Ramadan, or 0 outside the period.
func (r RamadanPeriod) DayOf(d generic.Date) int {
	if !(generic.Period{Start: r.Start, End: r.End}).Contains(d) {
		return 0
	}
	return generic.DaysBetween(r.Start, d) + 1
}

type Calendar interface {
	// HolidayOn returns the holiday on the date for the region, or nil.
	HolidayOn(ctx context.Context, region string, date generic.Date) (*generic.Holiday, error)

	// RamadanOn returns the Ramadan period covering the date, or nil.
	RamadanOn(ctx context.Context, region string, date generic.Date) (*RamadanPeriod, error)
}

// ResolvePolicy returns the policy in force for the employee on date. The
// assignment with the latest EffectiveFrom wins.
func ResolvePolicy(ctx context.Context, ps PolicyStore, employeeID EmployeeID, date generic.Date) (*Policy, error) {
	assignments, err := ps.AssignmentsFor(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	var best *PolicyAssignment
	for i := range assignments {
		a := assignments[i]
		if !a.IsActive(date) {
			continue
		}
		if best == nil || a.EffectiveFrom.After(best.EffectiveFrom) {
			best = &a
		}
	}
	if best == nil {
		return nil, &PolicyMissingError{EmployeeID: employeeID, Date: date}
	}
	p, err := ps.GetPolicy(ctx, best.PolicyID)
	if err != nil {
		if generic.IsNotFound(err) {
			return nil, &PolicyMissingError{EmployeeID: employeeID, Date: date}
		}
		return nil, err
	}
	return p, nil
}
