package attendance

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/warp/attendance-engine/generic"
)

// =============================================================================
// DAY SUB-RECORDS
// =============================================================================

type LateArrival struct {
	IsLate              bool            `json:"is_late"`
	LateMinutes         generic.Minutes `json:"late_minutes"`
	Category            Severity        `json:"category"`
	GracePeriodMinutes  generic.Minutes `json:"grace_period_minutes"`
	WithinGracePeriod   bool            `json:"within_grace_period"`
	ActualLateMinutes   generic.Minutes `json:"actual_late_minutes"`
	Excused             bool            `json:"excused"`
	ExcusedBy           string          `json:"excused_by,omitempty"`
	ExcusedAt           *time.Time      `json:"excused_at,omitempty"`
	ExcuseReason        string          `json:"excuse_reason,omitempty"`
	DeductionApplicable bool            `json:"deduction_applicable"`
	DeductionMinutes    generic.Minutes `json:"deduction_minutes"`
}

type EarlyDeparture struct {
	IsEarlyDeparture    bool            `json:"is_early_departure"`
	EarlyMinutes        generic.Minutes `json:"early_minutes"`
	Category            Severity        `json:"category"`
	ActualEarlyMinutes  generic.Minutes `json:"actual_early_minutes"`
	Approved            bool            `json:"approved"`
	ApprovedBy          string          `json:"approved_by,omitempty"`
	ApprovedAt          *time.Time      `json:"approved_at,omitempty"`
	DeductionApplicable bool            `json:"deduction_applicable"`
	DeductionMinutes    generic.Minutes `json:"deduction_minutes"`
}

type AbsenceReason string

const (
	AbsenceSick            AbsenceReason = "sick"
	AbsenceFamilyEmergency AbsenceReason = "family_emergency"
	AbsencePersonal        AbsenceReason = "personal"
	AbsenceUnknown         AbsenceReason = "unknown"
	AbsenceOther           AbsenceReason = "other"
)

type Absence struct {
	IsAbsent            bool          `json:"is_absent"`
	Type                string        `json:"type"` // full_day
	ReasonCategory      AbsenceReason `json:"reason_category"`
	Authorized          bool          `json:"authorized"`
	DeductionApplicable bool          `json:"deduction_applicable"`
	DeductionDays       int           `json:"deduction_days"`
}

type BreakRecord struct {
	Type       BreakType       `json:"type"`
	Start      time.Time       `json:"start"`
	End        time.Time       `json:"end"`
	Minutes    generic.Minutes `json:"minutes"`
	Paid       bool            `json:"paid"`
	Authorized bool            `json:"authorized"`
}

// =============================================================================
// CLASSIFIED DAY - DayClassifier output
// =============================================================================

type DateInfo struct {
	WorkDate    generic.Date        `json:"work_date"`
	DayOfWeek   string              `json:"day_of_week"`
	WeekNumber  int                 `json:"week_number"`
	MonthNumber int                 `json:"month_number"`
	Year        int                 `json:"year"`
	IsWeekend   bool                `json:"is_weekend"`
	IsHoliday   bool                `json:"is_holiday"`
	HolidayName string              `json:"holiday_name,omitempty"`
	HolidayType generic.HolidayType `json:"holiday_type,omitempty"`
	IsRamadan   bool                `json:"is_ramadan"`
	RamadanDay  int                 `json:"ramadan_day,omitempty"`
}

type Schedule struct {
	CheckIn          *time.Time      `json:"check_in,omitempty"`
	CheckOut         *time.Time      `json:"check_out,omitempty"`
	ScheduledMinutes generic.Minutes `json:"scheduled_minutes"`
	RamadanSchedule  bool            `json:"ramadan_schedule"`
}

type ClassifiedDay struct {
	EmployeeID EmployeeID `json:"employee_id"`
	PolicyID   PolicyID   `json:"policy_id"`
	DateInfo   DateInfo   `json:"date_info"`
	Schedule   Schedule   `json:"schedule"`

	CheckIn        *time.Time  `json:"check_in,omitempty"`
	CheckOut       *time.Time  `json:"check_out,omitempty"`
	CheckInMethod  CheckMethod `json:"check_in_method,omitempty"`
	CheckOutMethod CheckMethod `json:"check_out_method,omitempty"`

	WorkedMinutes   generic.Minutes `json:"worked_minutes"`
	RegularMinutes  generic.Minutes `json:"regular_minutes"`
	OvertimeMinutes generic.Minutes `json:"overtime_minutes"`

	Status         Status          `json:"status"`
	Provisional    bool            `json:"provisional"`
	LeaveRequestID string          `json:"leave_request_id,omitempty"`
	LateArrival    *LateArrival    `json:"late_arrival,omitempty"`
	EarlyDeparture *EarlyDeparture `json:"early_departure,omitempty"`
	Absence        *Absence        `json:"absence,omitempty"`
	Breaks         []BreakRecord   `json:"breaks"`
	Missing        EventKind       `json:"missing,omitempty"` // Set on incomplete days
}

func (d ClassifiedDay) Date() generic.Date { return d.DateInfo.WorkDate }

// =============================================================================
// COMPLIANCE SUMMARY
// =============================================================================

type ComplianceCheckType string

const (
	CheckDailyHours        ComplianceCheckType = "daily_hours"
	CheckBreakRequirement  ComplianceCheckType = "break_requirement"
	CheckOvertimeLimits    ComplianceCheckType = "overtime_limits"
	CheckRestBetweenShifts ComplianceCheckType = "rest_between_shifts"
	CheckWeeklyRest        ComplianceCheckType = "weekly_rest"
	CheckRamadanHours      ComplianceCheckType = "ramadan_hours"
)

type ComplianceCheck struct {
	Type      ComplianceCheckType `json:"type"`
	Required  bool                `json:"required"`
	Actual    int64               `json:"actual"`
	Limit     int64               `json:"limit"`
	Unit      string              `json:"unit"`
	Compliant bool                `json:"compliant"`
	Note      string              `json:"note,omitempty"`
}

type OverallCompliance string

const (
	Compliant           OverallCompliance = "compliant"
	ComplianceWarning   OverallCompliance = "warning"
	ComplianceViolation OverallCompliance = "violation"
)

type ComplianceSummary struct {
	Checks  []ComplianceCheck `json:"checks"`
	Overall OverallCompliance `json:"overall"`
}

// Check returns the check of type t, if evaluated.
func (s ComplianceSummary) Check(t ComplianceCheckType) (ComplianceCheck, bool) {
	for _, c := range s.Checks {
		if c.Type == t {
			return c, true
		}
	}
	return ComplianceCheck{}, false
}

// =============================================================================
// PAYROLL LINE - PayrollAggregator output
// =============================================================================

type PayrollHours struct {
	RegularMinutes      generic.Minutes `json:"regular_minutes"`
	OvertimeMinutes     generic.Minutes `json:"overtime_minutes"`
	PaidBreakMinutes    generic.Minutes `json:"paid_break_minutes"`
	UnpaidBreakMinutes  generic.Minutes `json:"unpaid_break_minutes"`
	TotalPayableMinutes generic.Minutes `json:"total_payable_minutes"`
}

type ViolationDeduction struct {
	ViolationID ViolationID   `json:"violation_id"`
	Code        ViolationCode `json:"code"`
	Amount      generic.Money `json:"amount"`
}

type PayrollDeductions struct {
	Late           generic.Money        `json:"late"`
	Absence        generic.Money        `json:"absence"`
	EarlyDeparture generic.Money        `json:"early_departure"`
	Violations     generic.Money        `json:"violations"`
	Total          generic.Money        `json:"total"`
	ByViolation    []ViolationDeduction `json:"by_violation,omitempty"`
}

type OvertimePay struct {
	Minutes    generic.Minutes `json:"minutes"`
	HourlyRate generic.Money   `json:"hourly_rate"`
	Multiplier string          `json:"multiplier"`
	Amount     generic.Money   `json:"amount"`
}

type PayrollLine struct {
	Hours      PayrollHours      `json:"hours"`
	GrossPay   generic.Money     `json:"gross_pay"`
	Overtime   OvertimePay       `json:"overtime"`
	Deductions PayrollDeductions `json:"deductions"`
}

// =============================================================================
// RECORD - The persisted attendance day
// =============================================================================

type OvertimeApproval struct {
	ApprovedMinutes generic.Minutes `json:"approved_minutes"`
	ApprovedBy      string          `json:"approved_by"`
	ApprovedAt      time.Time       `json:"approved_at"`
}

type LockInfo struct {
	Locked       bool         `json:"locked"`
	PayrollRunID PayrollRunID `json:"payroll_run_id,omitempty"`
	LockedAt     *time.Time   `json:"locked_at,omitempty"`
	LockedBy     string       `json:"locked_by,omitempty"`
}

// Notes may change even after the record is locked.
type Notes struct {
	EmployeeNotes string     `json:"employee_notes,omitempty"`
	ManagerNotes  string     `json:"manager_notes,omitempty"`
	SystemNotes   string     `json:"system_notes,omitempty"`
	Flagged       bool       `json:"flagged"`
	FlagReason    string     `json:"flag_reason,omitempty"`
	FlaggedBy     string     `json:"flagged_by,omitempty"`
	FlaggedAt     *time.Time `json:"flagged_at,omitempty"`
}

// Record is one attendance day. Once Lock.Locked is true no field outside
// Notes changes; corrections go into a new revision whose SupersedesID
// points at the locked record.
type Record struct {
	ID           RecordID `json:"id"`
	Revision     int      `json:"revision"`
	SupersedesID RecordID `json:"supersedes_id,omitempty"`

	ClassifiedDay

	Violations       []Violation        `json:"violations"`
	Compliance       *ComplianceSummary `json:"compliance,omitempty"`
	OvertimeApproval *OvertimeApproval  `json:"overtime_approval,omitempty"`
	Timesheet        TimesheetApproval  `json:"timesheet"`
	Payroll          *PayrollLine       `json:"payroll,omitempty"`
	Lock             LockInfo           `json:"lock"`
	Notes            Notes              `json:"notes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation returns a pointer into r.Violations for in-place review.
func (r *Record) Violation(id ViolationID) (*Violation, bool) {
	for i := range r.Violations {
		if r.Violations[i].ID == id {
			return &r.Violations[i], true
		}
	}
	return nil, false
}

// recordNamespace scopes name-based record IDs.
var recordNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("attendance-record"))

// NewRecordID derives a stable record ID from employee, date and revision,
// so reprocessing the same day always targets the same record.
func NewRecordID(employeeID EmployeeID, date generic.Date, revision int) RecordID {
	name := fmt.Sprintf("%s|%s|%d", employeeID, date, revision)
	return RecordID(uuid.NewSHA1(recordNamespace, []byte(name)).String())
}

// violationID is stable per record and code.
func violationID(recordID RecordID, code ViolationCode) ViolationID {
	sum := sha256.Sum256([]byte(string(recordID) + "|" + string(code)))
	return ViolationID(fmt.Sprintf("vio-%x", sum[:8]))
}

// Clone returns a copy that shares no mutable state with r. Stores hand
// out clones so callers can't edit persisted records in place.
func (r Record) Clone() Record {
	out := r
	out.CheckIn = cloneTime(r.CheckIn)
	out.CheckOut = cloneTime(r.CheckOut)
	out.Schedule.CheckIn = cloneTime(r.Schedule.CheckIn)
	out.Schedule.CheckOut = cloneTime(r.Schedule.CheckOut)
	if r.LateArrival != nil {
		la := *r.LateArrival
		la.ExcusedAt = cloneTime(la.ExcusedAt)
		out.LateArrival = &la
	}
	if r.EarlyDeparture != nil {
		ed := *r.EarlyDeparture
		ed.ApprovedAt = cloneTime(ed.ApprovedAt)
		out.EarlyDeparture = &ed
	}
	if r.Absence != nil {
		a := *r.Absence
		out.Absence = &a
	}
	out.Timesheet.ReviewedAt = cloneTime(r.Timesheet.ReviewedAt)
	if r.Breaks != nil {
		out.Breaks = append([]BreakRecord(nil), r.Breaks...)
	}
	if r.Violations != nil {
		out.Violations = make([]Violation, len(r.Violations))
		for i, v := range r.Violations {
			v.ReviewedAt = cloneTime(v.ReviewedAt)
			v.AppealedAt = cloneTime(v.AppealedAt)
			v.DecidedAt = cloneTime(v.DecidedAt)
			out.Violations[i] = v
		}
	}
	if r.Compliance != nil {
		c := *r.Compliance
		c.Checks = append([]ComplianceCheck(nil), c.Checks...)
		out.Compliance = &c
	}
	if r.OvertimeApproval != nil {
		oa := *r.OvertimeApproval
		out.OvertimeApproval = &oa
	}
	if r.Payroll != nil {
		pl := *r.Payroll
		pl.Deductions.ByViolation = append([]ViolationDeduction(nil), pl.Deductions.ByViolation...)
		out.Payroll = &pl
	}
	out.Lock.LockedAt = cloneTime(r.Lock.LockedAt)
	out.Notes.FlaggedAt = cloneTime(r.Notes.FlaggedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
