/*
rules.go - ViolationEngine: classified day → scored violations

PURPOSE:
  Runs a fixed, ordered list of pure rules over a classified day. Each
  rule sees only (day, policy, history), never another rule's output.
  The engine then scores each finding against the policy escalation
  table and stable-sorts the result: severity descending, code ascending.

RULES (evaluation order):
  DAILY_HOURS_EXCEEDED       worked > Limits.MaxDailyMinutes
  BREAK_REQUIREMENT_NOT_MET  required break shorter than its minimum
  EXCESSIVE_OVERTIME         overtime > Limits.MaxDailyOvertimeMinutes
  INSUFFICIENT_REST          check-in too soon after previous check-out
  WEEKLY_REST_DENIED         consecutive days worked > MaxConsecutiveWorkDays
  RAMADAN_HOURS_EXCEEDED     worked > Ramadan scheduled minutes
  LATE_ARRIVAL               late beyond grace, not excused
  EARLY_DEPARTURE            early beyond grace, not approved
  UNAUTHORIZED_ABSENCE       absent on a closed working day

ESCALATION:
  History.OffenseCounts[code] is the number of prior confirmed offenses
  in the rolling window. Step min(count, len-1) of the table gives the
  penalty; the severity is the highest severity of steps 0..count, so a
  later offense is never scored lower than an earlier one.

PENALTIES:
  Violations carry unpriced penalties (percent, days, warning, amount).
  payroll.go turns them into money.

SEE ALSO:
  - compliance.go: The compliance summary built from the same pass
  - violation.go: Violation type and review transitions
*/
package attendance

import (
	"fmt"
	"sort"
	"time"

	"github.com/warp/attendance-engine/generic"
)

// History is the per-employee context a rule may need beyond the day.
// It is fetched once per unit before the pipeline runs.
type History struct {
	OffenseCounts         map[ViolationCode]int
	PreviousCheckOut      *time.Time
	ConsecutiveDaysWorked int // Days with worked time immediately before the date
}

// finding is a rule's raw result before scoring.
type finding struct {
	details ViolationDetails
	floor   Severity // Minimum severity regardless of offense count
}

type rule struct {
	code  ViolationCode
	name  string
	check ComplianceCheckType // Empty for attendance rules with no check
	eval  func(day ClassifiedDay, p Policy, h History) (*ComplianceCheck, *finding)
}

// rules is the fixed evaluation order.
var rules = []rule{
	{CodeDailyHours, "daily_hours_limit", CheckDailyHours, dailyHoursRule},
	{CodeBreakRequirement, "break_requirement", CheckBreakRequirement, breakRule},
	{CodeExcessiveOvertime, "overtime_limit", CheckOvertimeLimits, overtimeRule},
	{CodeInsufficientRest, "rest_between_shifts", CheckRestBetweenShifts, restRule},
	{CodeWeeklyRest, "weekly_rest", CheckWeeklyRest, weeklyRestRule},
	{CodeRamadanHours, "ramadan_hours", CheckRamadanHours, ramadanRule},
	{CodeLateArrival, "late_arrival", "", lateRule},
	{CodeEarlyDeparture, "early_departure", "", earlyRule},
	{CodeUnauthorizedAbsence, "unauthorized_absence", "", absenceRule},
}

// Evaluate runs every rule and returns the sorted violations and the
// compliance summary. Violation IDs are left empty; the pipeline stamps
// them once the record ID is known.
func Evaluate(day ClassifiedDay, p Policy, h History) ([]Violation, ComplianceSummary) {
	violations := []Violation{}
	summary := ComplianceSummary{Checks: []ComplianceCheck{}}
	worst := map[ComplianceCheckType]Severity{}

	for _, r := range rules {
		check, f := r.eval(day, p, h)
		if check != nil {
			summary.Checks = append(summary.Checks, *check)
		}
		if f == nil {
			continue
		}
		v := score(r, f, p, h, day.Date())
		violations = append(violations, v)
		if r.check != "" {
			worst[r.check] = maxSeverity(worst[r.check], v.Severity)
		}
	}

	SortViolations(violations)
	summary.Overall = overall(summary.Checks, worst)
	return violations, summary
}

// SortViolations orders by severity descending, then code ascending.
func SortViolations(vs []Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].Severity.Rank() != vs[j].Severity.Rank() {
			return vs[i].Severity.Rank() > vs[j].Severity.Rank()
		}
		return vs[i].Code < vs[j].Code
	})
}

func score(r rule, f *finding, p Policy, h History, date generic.Date) Violation {
	count := h.OffenseCounts[r.code]
	step, severity := Escalate(p.EscalationFor(r.code), count)
	return Violation{
		Code:         r.code,
		Rule:         r.name,
		Severity:     maxSeverity(severity, f.floor),
		OffenseCount: count,
		Penalty:      step.Penalty,
		Details:      f.details,
		Status:       ViolationDetected,
		AutoDetected: true,
		DetectedOn:   date,
	}
}

// Escalate picks the step for a prior offense count and the running
// maximum severity up to it.
func Escalate(steps []EscalationStep, priorCount int) (EscalationStep, Severity) {
	if len(steps) == 0 {
		return EscalationStep{Severity: SeverityMinor, Penalty: WarningPenalty{}}, SeverityMinor
	}
	idx := priorCount
	if idx < 0 {
		idx = 0
	}
	if idx > len(steps)-1 {
		idx = len(steps) - 1
	}
	severity := SeverityMinor
	for _, s := range steps[:idx+1] {
		severity = maxSeverity(severity, s.Severity)
	}
	return steps[idx], severity
}

// =============================================================================
// RULES
// =============================================================================

func minutesCheck(t ComplianceCheckType, required bool, actual, limit generic.Minutes, compliant bool) *ComplianceCheck {
	return &ComplianceCheck{Type: t, Required: required, Actual: int64(actual), Limit: int64(limit), Unit: "minutes", Compliant: compliant}
}

func dailyHoursRule(day ClassifiedDay, p Policy, _ History) (*ComplianceCheck, *finding) {
	limit := p.Limits.MaxDailyMinutes
	if limit <= 0 {
		return nil, nil
	}
	over := day.WorkedMinutes > limit
	check := minutesCheck(CheckDailyHours, day.WorkedMinutes > 0, day.WorkedMinutes, limit, !over)
	if !over {
		return check, nil
	}
	return check, &finding{details: ViolationDetails{Actual: int64(day.WorkedMinutes), Limit: int64(limit), Unit: "minutes"}}
}

func breakRule(day ClassifiedDay, p Policy, _ History) (*ComplianceCheck, *finding) {
	var (
		check    *ComplianceCheck
		violated *finding
	)
	for _, req := range p.Breaks {
		if req.MinMinutes <= 0 || day.WorkedMinutes == 0 || day.WorkedMinutes < req.AfterWorkedMinutes {
			continue
		}
		var taken generic.Minutes
		for _, b := range day.Breaks {
			if b.Type == req.Type {
				taken += b.Minutes
			}
		}
		ok := taken >= req.MinMinutes
		if check == nil || (!ok && check.Compliant) {
			check = minutesCheck(CheckBreakRequirement, true, taken, req.MinMinutes, ok)
			check.Note = string(req.Type)
		}
		if !ok && violated == nil {
			violated = &finding{details: ViolationDetails{
				Actual: int64(taken), Limit: int64(req.MinMinutes), Unit: "minutes",
				Note: fmt.Sprintf("%s break", req.Type),
			}}
		}
	}
	if check == nil {
		return &ComplianceCheck{Type: CheckBreakRequirement, Unit: "minutes", Compliant: true}, nil
	}
	return check, violated
}

func overtimeRule(day ClassifiedDay, p Policy, _ History) (*ComplianceCheck, *finding) {
	limit := p.Limits.MaxDailyOvertimeMinutes
	if limit <= 0 {
		return nil, nil
	}
	over := day.OvertimeMinutes > limit
	check := minutesCheck(CheckOvertimeLimits, day.OvertimeMinutes > 0, day.OvertimeMinutes, limit, !over)
	if !over {
		return check, nil
	}
	return check, &finding{details: ViolationDetails{Actual: int64(day.OvertimeMinutes), Limit: int64(limit), Unit: "minutes"}}
}

func restRule(day ClassifiedDay, p Policy, h History) (*ComplianceCheck, *finding) {
	limit := p.Limits.MinRestBetweenShiftsMinutes
	if limit <= 0 {
		return nil, nil
	}
	if h.PreviousCheckOut == nil || day.CheckIn == nil {
		return minutesCheck(CheckRestBetweenShifts, false, 0, limit, true), nil
	}
	rest := generic.MinutesBetween(*h.PreviousCheckOut, *day.CheckIn)
	short := rest < limit
	check := minutesCheck(CheckRestBetweenShifts, true, rest, limit, !short)
	if !short {
		return check, nil
	}
	return check, &finding{details: ViolationDetails{Actual: int64(rest), Limit: int64(limit), Unit: "minutes"}}
}

func weeklyRestRule(day ClassifiedDay, p Policy, h History) (*ComplianceCheck, *finding) {
	limit := p.Limits.MaxConsecutiveWorkDays
	if limit <= 0 {
		return nil, nil
	}
	run := h.ConsecutiveDaysWorked
	if day.WorkedMinutes > 0 {
		run++
	}
	denied := day.WorkedMinutes > 0 && run > limit
	check := &ComplianceCheck{Type: CheckWeeklyRest, Required: true, Actual: int64(run), Limit: int64(limit), Unit: "days", Compliant: !denied}
	if !denied {
		return check, nil
	}
	return check, &finding{details: ViolationDetails{Actual: int64(run), Limit: int64(limit), Unit: "days"}}
}

func ramadanRule(day ClassifiedDay, p Policy, _ History) (*ComplianceCheck, *finding) {
	if !day.DateInfo.IsRamadan || !p.Ramadan.Enabled || p.Ramadan.ScheduledMinutes <= 0 {
		return nil, nil
	}
	limit := p.Ramadan.ScheduledMinutes
	over := day.WorkedMinutes > limit
	check := minutesCheck(CheckRamadanHours, day.WorkedMinutes > 0, day.WorkedMinutes, limit, !over)
	if !over {
		return check, nil
	}
	return check, &finding{details: ViolationDetails{Actual: int64(day.WorkedMinutes), Limit: int64(limit), Unit: "minutes"}}
}

func lateRule(day ClassifiedDay, _ Policy, _ History) (*ComplianceCheck, *finding) {
	la := day.LateArrival
	if la == nil || la.ActualLateMinutes == 0 || la.Excused {
		return nil, nil
	}
	return nil, &finding{
		details: ViolationDetails{Actual: int64(la.ActualLateMinutes), Limit: int64(la.GracePeriodMinutes), Unit: "minutes"},
		floor:   la.Category,
	}
}

func earlyRule(day ClassifiedDay, p Policy, _ History) (*ComplianceCheck, *finding) {
	ed := day.EarlyDeparture
	if ed == nil || ed.ActualEarlyMinutes == 0 || ed.Approved {
		return nil, nil
	}
	return nil, &finding{
		details: ViolationDetails{Actual: int64(ed.ActualEarlyMinutes), Limit: int64(p.GracePeriodMinutes), Unit: "minutes"},
		floor:   ed.Category,
	}
}

func absenceRule(day ClassifiedDay, _ Policy, _ History) (*ComplianceCheck, *finding) {
	a := day.Absence
	if a == nil || !a.IsAbsent || a.Authorized || day.Provisional {
		return nil, nil
	}
	return nil, &finding{details: ViolationDetails{Actual: int64(a.DeductionDays), Limit: 0, Unit: "days", Note: string(a.ReasonCategory)}}
}
