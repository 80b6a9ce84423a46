// Package attendance implements the attendance classification, labor-law
// compliance and payroll-aggregation engine on top of the generic package.
package attendance

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/attendance-engine/generic"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID = generic.EntityID

type (
	RecordID     string
	PolicyID     string
	PayrollRunID string
	ViolationID  string
	CorrectionID string
	EventID      string
)

// =============================================================================
// STATUS - One stored status per record
// =============================================================================

type Status string

const (
	StatusOnLeave        Status = "on_leave"
	StatusHoliday        Status = "holiday"
	StatusWeekend        Status = "weekend"
	StatusAbsent         Status = "absent"
	StatusLate           Status = "late"
	StatusEarlyDeparture Status = "early_departure"
	StatusHalfDay        Status = "half_day"
	StatusPresent        Status = "present"

	// StatusIncomplete is outside the precedence order. It marks a closed
	// day with a check-in but no check-out, kept so a correction can target
	// it. It is never priced or locked.
	StatusIncomplete Status = "incomplete"
)

// StatusPrecedence lists every status, highest precedence first.
var StatusPrecedence = []Status{
	StatusOnLeave,
	StatusHoliday,
	StatusWeekend,
	StatusAbsent,
	StatusLate,
	StatusEarlyDeparture,
	StatusHalfDay,
	StatusPresent,
}

func (s Status) Valid() bool {
	if s == StatusIncomplete {
		return true
	}
	for _, v := range StatusPrecedence {
		if v == s {
			return true
		}
	}
	return false
}

// IsScheduledDay reports whether the status belongs to a day the employee
// was expected to work.
func (s Status) IsScheduledDay() bool {
	switch s {
	case StatusOnLeave, StatusHoliday, StatusWeekend:
		return false
	default:
		return true
	}
}

// Attended reports whether the employee showed up on a scheduled day.
func (s Status) Attended() bool {
	switch s {
	case StatusPresent, StatusLate, StatusEarlyDeparture, StatusHalfDay, StatusIncomplete:
		return true
	default:
		return false
	}
}

// =============================================================================
// SEVERITY - Shared by lateness categories and violations
// =============================================================================

type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// Rank orders severities: minor < moderate < severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityMinor:
		return 1
	case SeverityModerate:
		return 2
	case SeveritySevere:
		return 3
	default:
		return 0
	}
}

func (s Severity) Valid() bool { return s.Rank() > 0 }

func maxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// =============================================================================
// RAW EVENTS
// =============================================================================

type EventKind string

const (
	EventCheckIn    EventKind = "check_in"
	EventCheckOut   EventKind = "check_out"
	EventBreakStart EventKind = "break_start"
	EventBreakEnd   EventKind = "break_end"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventCheckIn, EventCheckOut, EventBreakStart, EventBreakEnd:
		return true
	}
	return false
}

type CheckMethod string

const (
	MethodBiometric CheckMethod = "biometric"
	MethodMobile    CheckMethod = "mobile"
	MethodManual    CheckMethod = "manual"
	MethodWeb       CheckMethod = "web"
	MethodCard      CheckMethod = "card_swipe"
)

func (m CheckMethod) Valid() bool {
	switch m {
	case MethodBiometric, MethodMobile, MethodManual, MethodWeb, MethodCard:
		return true
	}
	return false
}

type LocationType string

const (
	LocationOffice     LocationType = "office"
	LocationRemote     LocationType = "remote"
	LocationClientSite LocationType = "client_site"
	LocationCourt      LocationType = "court"
	LocationField      LocationType = "field"
	LocationOther      LocationType = "other"
)

type Location struct {
	Type      LocationType `json:"type"`
	Name      string       `json:"name,omitempty"`
	Latitude  *float64     `json:"latitude,omitempty"`
	Longitude *float64     `json:"longitude,omitempty"`
	DeviceID  string       `json:"device_id,omitempty"`
	IPAddress string       `json:"ip_address,omitempty"`
}

type BreakType string

const (
	BreakLunch    BreakType = "lunch"
	BreakPrayer   BreakType = "prayer"
	BreakRest     BreakType = "rest"
	BreakSmoke    BreakType = "smoke"
	BreakPersonal BreakType = "personal"
	BreakMeeting  BreakType = "meeting"
	BreakOther    BreakType = "other"
)

// Event is one check-in, check-out or break boundary. Immutable once stored.
type Event struct {
	ID         EventID
	EmployeeID EmployeeID
	Kind       EventKind
	At         time.Time
	Method     CheckMethod
	Location   *Location
	Confidence *float64  // Biometric verification confidence, 0..1
	BreakType  BreakType // Break events only
	ReceivedAt time.Time
	Seq        int64 // Ingestion order, assigned by the store
}

// =============================================================================
// POLICY - Labor policy in force for an employee on a date
// =============================================================================

// CategoryThresholds classify minutes beyond grace into severities.
type CategoryThresholds struct {
	MinorMax    generic.Minutes // <= MinorMax is minor
	ModerateMax generic.Minutes // <= ModerateMax is moderate, above is severe
}

func (t CategoryThresholds) Categorize(over generic.Minutes) Severity {
	switch {
	case over <= t.MinorMax:
		return SeverityMinor
	case over <= t.ModerateMax:
		return SeverityModerate
	default:
		return SeveritySevere
	}
}

type BreakRequirement struct {
	Type               BreakType
	MinMinutes         generic.Minutes
	Paid               bool
	AfterWorkedMinutes generic.Minutes // Required once worked time reaches this
}

type RamadanRule struct {
	Enabled          bool
	ScheduledMinutes generic.Minutes
}

type Limits struct {
	MaxDailyMinutes             generic.Minutes
	MaxDailyOvertimeMinutes     generic.Minutes
	MinRestBetweenShiftsMinutes generic.Minutes
	MaxConsecutiveWorkDays      int
}

// EscalationStep is the outcome of the n-th offense of a rule.
type EscalationStep struct {
	Severity Severity
	Penalty  Penalty
}

type Policy struct {
	ID       PolicyID
	Name     string
	Timezone string
	// Currency fixed-amount deductions are written in. Empty accepts any
	// single currency.
	Currency generic.Currency

	ScheduledCheckIn   generic.ClockTime
	ScheduledCheckOut  generic.ClockTime
	ScheduledMinutes   generic.Minutes
	GracePeriodMinutes generic.Minutes
	LateThresholds     CategoryThresholds

	OvertimeMultiplier        decimal.Decimal
	HolidayOvertimeMultiplier decimal.Decimal
	RequireOvertimeApproval   bool
	// RequireTimesheetApproval keeps a record out of payroll until its
	// timesheet is approved.
	RequireTimesheetApproval bool

	Breaks         []BreakRequirement
	WeeklyRestDays []time.Weekday
	Ramadan        RamadanRule
	Limits         Limits

	OffenseWindowDays int
	Escalation        map[ViolationCode][]EscalationStep

	DeductLateness       bool
	DeductEarlyDeparture bool
	DeductAbsence        bool
}

// Location returns the policy time zone, UTC when unset or unknown.
func (p Policy) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (p Policy) IsRestDay(d time.Weekday) bool {
	for _, w := range p.WeeklyRestDays {
		if w == d {
			return true
		}
	}
	return false
}

// BreakPaid reports whether breaks of type t are paid. Break types the
// policy doesn't mention are unpaid.
func (p Policy) BreakPaid(t BreakType) bool {
	for _, b := range p.Breaks {
		if b.Type == t {
			return b.Paid
		}
	}
	return false
}

// EscalationFor returns the escalation table for code, falling back to
// the built-in default table.
func (p Policy) EscalationFor(code ViolationCode) []EscalationStep {
	if steps, ok := p.Escalation[code]; ok && len(steps) > 0 {
		return steps
	}
	return DefaultEscalation(code)
}

// PolicyAssignment links an employee to a policy from a date onwards.
// Policy changes are prospective: a new assignment starts on a later date,
// it never rewrites the past.
type PolicyAssignment struct {
	ID            string
	EmployeeID    EmployeeID
	PolicyID      PolicyID
	EffectiveFrom generic.Date
	EffectiveTo   *generic.Date // nil = still active
}

// IsActive returns true if the assignment is active on d.
func (pa PolicyAssignment) IsActive(d generic.Date) bool {
	if d.Before(pa.EffectiveFrom) {
		return false
	}
	if pa.EffectiveTo != nil && d.After(*pa.EffectiveTo) {
		return false
	}
	return true
}

// =============================================================================
// EMPLOYEE & RATES
// =============================================================================

type Employee struct {
	ID         EmployeeID
	Name       string
	Email      string
	Department string
	Region     string
	HireDate   generic.Date
	HourlyRate generic.Money
}

// PayRates prices one record.
type PayRates struct {
	HourlyRate generic.Money
}

func (e Employee) Rates() PayRates { return PayRates{HourlyRate: e.HourlyRate} }
