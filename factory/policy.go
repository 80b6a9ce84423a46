/*
Package factory provides JSON to Go policy conversion.

PURPOSE:
  Converts JSON policy definitions into attendance.Policy values. HR can
  define working hours, grace periods, break rules and escalation tables
  in JSON; the factory validates them and fills in defaults from the
  standard policy.

JSON SCHEMA:
  {
    "id": "office-riyadh",
    "name": "Riyadh Office",
    "timezone": "Asia/Riyadh",
    "schedule": {"check_in": "08:00", "check_out": "16:00"},
    "grace_period_minutes": 10,
    "late_thresholds": {"minor_max": 15, "moderate_max": 60},
    "overtime": {"multiplier": "1.5", "holiday_multiplier": "2.0", "require_approval": false},
    "breaks": [
      {"type": "lunch", "min_minutes": 30, "paid": false, "after_worked_minutes": 300},
      {"type": "prayer", "paid": true}
    ],
    "weekly_rest_days": ["friday", "saturday"],
    "ramadan": {"enabled": true, "scheduled_minutes": 360},
    "limits": {
      "max_daily_minutes": 600,
      "max_daily_overtime_minutes": 120,
      "min_rest_between_shifts_minutes": 660,
      "max_consecutive_work_days": 6
    },
    "offense_window_days": 90,
    "escalation": {
      "LATE_ARRIVAL": [
        {"severity": "minor", "penalty": {"type": "warning"}},
        {"severity": "moderate", "penalty": {"type": "percentage", "percent": "5"}},
        {"severity": "severe", "penalty": {"type": "days_suspension", "days": 1}}
      ]
    },
    "deductions": {"lateness": true, "early_departure": true, "absence": true}
  }

DEFAULTS:
  Every omitted field keeps the value of attendance.StandardPolicy. An
  omitted escalation table falls back to attendance.DefaultEscalation.

VALIDATION:
  - Clock times are HH:MM, weekdays are English day names
  - Lateness thresholds: 0 <= minor_max <= moderate_max
  - Multipliers >= 1
  - Escalation tables never decrease in severity

USAGE:
  f := factory.NewPolicyFactory()
  policy, err := f.ParsePolicy(jsonString)

SEE ALSO:
  - attendance/types.go: Policy type definition
  - attendance/policies.go: Go-based policy configurations
*/
package factory

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of a policy.
type PolicyJSON struct {
	ID                 string                      `json:"id"`
	Name               string                      `json:"name"`
	Timezone           string                      `json:"timezone,omitempty"`
	Currency           string                      `json:"currency,omitempty"`
	Schedule           *ScheduleJSON               `json:"schedule,omitempty"`
	GracePeriodMinutes *int                        `json:"grace_period_minutes,omitempty"`
	LateThresholds     *ThresholdsJSON             `json:"late_thresholds,omitempty"`
	Overtime           *OvertimeJSON               `json:"overtime,omitempty"`
	Breaks             []BreakJSON                 `json:"breaks,omitempty"`
	WeeklyRestDays     []string                    `json:"weekly_rest_days,omitempty"`
	Ramadan            *RamadanJSON                `json:"ramadan,omitempty"`
	Limits             *LimitsJSON                 `json:"limits,omitempty"`
	OffenseWindowDays  *int                        `json:"offense_window_days,omitempty"`
	Escalation         map[string][]EscalationJSON `json:"escalation,omitempty"`
	Deductions         *DeductionsJSON             `json:"deductions,omitempty"`

	RequireTimesheetApproval bool `json:"require_timesheet_approval,omitempty"`
}

type ScheduleJSON struct {
	CheckIn          string `json:"check_in"`
	CheckOut         string `json:"check_out"`
	ScheduledMinutes int    `json:"scheduled_minutes,omitempty"` // Default: check_out - check_in
}

type ThresholdsJSON struct {
	MinorMax    int `json:"minor_max"`
	ModerateMax int `json:"moderate_max"`
}

type OvertimeJSON struct {
	Multiplier        *decimal.Decimal `json:"multiplier,omitempty"`
	HolidayMultiplier *decimal.Decimal `json:"holiday_multiplier,omitempty"`
	RequireApproval   bool             `json:"require_approval,omitempty"`
}

type BreakJSON struct {
	Type               string `json:"type"`
	MinMinutes         int    `json:"min_minutes,omitempty"`
	Paid               bool   `json:"paid,omitempty"`
	AfterWorkedMinutes int    `json:"after_worked_minutes,omitempty"`
}

type RamadanJSON struct {
	Enabled          bool `json:"enabled"`
	ScheduledMinutes int  `json:"scheduled_minutes,omitempty"`
}

type LimitsJSON struct {
	MaxDailyMinutes             int `json:"max_daily_minutes"`
	MaxDailyOvertimeMinutes     int `json:"max_daily_overtime_minutes"`
	MinRestBetweenShiftsMinutes int `json:"min_rest_between_shifts_minutes"`
	MaxConsecutiveWorkDays      int `json:"max_consecutive_work_days"`
}

type EscalationJSON struct {
	Severity string                 `json:"severity"`
	Penalty  attendance.PenaltySpec `json:"penalty"`
}

type DeductionsJSON struct {
	Lateness       bool `json:"lateness"`
	EarlyDeparture bool `json:"early_departure"`
	Absence        bool `json:"absence"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts JSON policies to Go structs.
type PolicyFactory struct{}

func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy parses a JSON string into a Policy.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (*attendance.Policy, error) {
	var pj PolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, fmt.Errorf("%w: failed to parse policy JSON: %v", generic.ErrInvalidInput, err)
	}
	return f.FromJSON(pj)
}

// FromJSON converts PolicyJSON to attendance.Policy, starting from the
// standard policy for every omitted field.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (*attendance.Policy, error) {
	if pj.ID == "" {
		return nil, invalid("policy id is required")
	}
	p := attendance.StandardPolicy(attendance.PolicyID(pj.ID))
	if pj.Name != "" {
		p.Name = pj.Name
	}
	if pj.Timezone != "" {
		if _, err := time.LoadLocation(pj.Timezone); err != nil {
			return nil, invalid("unknown timezone %q", pj.Timezone)
		}
		p.Timezone = pj.Timezone
	}
	if pj.Currency != "" {
		p.Currency = generic.Currency(strings.ToUpper(strings.TrimSpace(pj.Currency)))
	}
	p.RequireTimesheetApproval = pj.RequireTimesheetApproval

	if s := pj.Schedule; s != nil {
		in, err := generic.ParseClockTime(s.CheckIn)
		if err != nil {
			return nil, invalid("schedule.check_in: %v", err)
		}
		out, err := generic.ParseClockTime(s.CheckOut)
		if err != nil {
			return nil, invalid("schedule.check_out: %v", err)
		}
		shift := attendance.ShiftPolicy(p.ID, in, out)
		p.ScheduledCheckIn, p.ScheduledCheckOut, p.ScheduledMinutes = in, out, shift.ScheduledMinutes
		if s.ScheduledMinutes > 0 {
			p.ScheduledMinutes = generic.Minutes(s.ScheduledMinutes)
		}
	}

	if pj.GracePeriodMinutes != nil {
		if *pj.GracePeriodMinutes < 0 {
			return nil, invalid("grace_period_minutes must be >= 0")
		}
		p.GracePeriodMinutes = generic.Minutes(*pj.GracePeriodMinutes)
	}
	if t := pj.LateThresholds; t != nil {
		if t.MinorMax < 0 || t.ModerateMax < t.MinorMax {
			return nil, invalid("late_thresholds need 0 <= minor_max <= moderate_max")
		}
		p.LateThresholds = attendance.CategoryThresholds{
			MinorMax:    generic.Minutes(t.MinorMax),
			ModerateMax: generic.Minutes(t.ModerateMax),
		}
	}

	if o := pj.Overtime; o != nil {
		one := decimal.NewFromInt(1)
		if o.Multiplier != nil {
			if o.Multiplier.LessThan(one) {
				return nil, invalid("overtime.multiplier must be >= 1")
			}
			p.OvertimeMultiplier = *o.Multiplier
		}
		if o.HolidayMultiplier != nil {
			if o.HolidayMultiplier.LessThan(one) {
				return nil, invalid("overtime.holiday_multiplier must be >= 1")
			}
			p.HolidayOvertimeMultiplier = *o.HolidayMultiplier
		}
		p.RequireOvertimeApproval = o.RequireApproval
	}

	if pj.Breaks != nil {
		p.Breaks = nil
		for _, bj := range pj.Breaks {
			if bj.Type == "" || bj.MinMinutes < 0 || bj.AfterWorkedMinutes < 0 {
				return nil, invalid("break %q: type required, minutes must be >= 0", bj.Type)
			}
			p.Breaks = append(p.Breaks, attendance.BreakRequirement{
				Type:               attendance.BreakType(bj.Type),
				MinMinutes:         generic.Minutes(bj.MinMinutes),
				Paid:               bj.Paid,
				AfterWorkedMinutes: generic.Minutes(bj.AfterWorkedMinutes),
			})
		}
	}

	if pj.WeeklyRestDays != nil {
		days, err := parseWeekdays(pj.WeeklyRestDays)
		if err != nil {
			return nil, err
		}
		p.WeeklyRestDays = days
	}

	if r := pj.Ramadan; r != nil {
		p.Ramadan.Enabled = r.Enabled
		if r.ScheduledMinutes > 0 {
			p.Ramadan.ScheduledMinutes = generic.Minutes(r.ScheduledMinutes)
		}
	}

	if l := pj.Limits; l != nil {
		if l.MaxDailyMinutes < 0 || l.MaxDailyOvertimeMinutes < 0 || l.MinRestBetweenShiftsMinutes < 0 || l.MaxConsecutiveWorkDays < 0 {
			return nil, invalid("limits must be >= 0")
		}
		p.Limits = attendance.Limits{
			MaxDailyMinutes:             generic.Minutes(l.MaxDailyMinutes),
			MaxDailyOvertimeMinutes:     generic.Minutes(l.MaxDailyOvertimeMinutes),
			MinRestBetweenShiftsMinutes: generic.Minutes(l.MinRestBetweenShiftsMinutes),
			MaxConsecutiveWorkDays:      l.MaxConsecutiveWorkDays,
		}
	}

	if pj.OffenseWindowDays != nil {
		if *pj.OffenseWindowDays <= 0 {
			return nil, invalid("offense_window_days must be > 0")
		}
		p.OffenseWindowDays = *pj.OffenseWindowDays
	}

	for code, steps := range pj.Escalation {
		table, err := parseEscalation(attendance.ViolationCode(code), steps)
		if err != nil {
			return nil, err
		}
		p.Escalation[attendance.ViolationCode(code)] = table
	}
	if err := checkDeductionCurrency(&p); err != nil {
		return nil, err
	}

	if d := pj.Deductions; d != nil {
		p.DeductLateness = d.Lateness
		p.DeductEarlyDeparture = d.EarlyDeparture
		p.DeductAbsence = d.Absence
	}

	return &p, nil
}

// ToJSON converts a Policy to PolicyJSON. FromJSON(ToJSON(p)) rebuilds p.
func (f *PolicyFactory) ToJSON(p *attendance.Policy) PolicyJSON {
	grace := int(p.GracePeriodMinutes)
	window := p.OffenseWindowDays
	mult, holiday := p.OvertimeMultiplier, p.HolidayOvertimeMultiplier

	pj := PolicyJSON{
		ID:       string(p.ID),
		Name:     p.Name,
		Timezone: p.Timezone,
		Currency: string(p.Currency),
		Schedule: &ScheduleJSON{
			CheckIn:          p.ScheduledCheckIn.String(),
			CheckOut:         p.ScheduledCheckOut.String(),
			ScheduledMinutes: int(p.ScheduledMinutes),
		},
		GracePeriodMinutes: &grace,
		LateThresholds: &ThresholdsJSON{
			MinorMax:    int(p.LateThresholds.MinorMax),
			ModerateMax: int(p.LateThresholds.ModerateMax),
		},
		Overtime: &OvertimeJSON{
			Multiplier:        &mult,
			HolidayMultiplier: &holiday,
			RequireApproval:   p.RequireOvertimeApproval,
		},
		Breaks:         []BreakJSON{},
		WeeklyRestDays: []string{},
		Ramadan: &RamadanJSON{
			Enabled:          p.Ramadan.Enabled,
			ScheduledMinutes: int(p.Ramadan.ScheduledMinutes),
		},
		Limits: &LimitsJSON{
			MaxDailyMinutes:             int(p.Limits.MaxDailyMinutes),
			MaxDailyOvertimeMinutes:     int(p.Limits.MaxDailyOvertimeMinutes),
			MinRestBetweenShiftsMinutes: int(p.Limits.MinRestBetweenShiftsMinutes),
			MaxConsecutiveWorkDays:      p.Limits.MaxConsecutiveWorkDays,
		},
		OffenseWindowDays: &window,
		Deductions: &DeductionsJSON{
			Lateness:       p.DeductLateness,
			EarlyDeparture: p.DeductEarlyDeparture,
			Absence:        p.DeductAbsence,
		},
		RequireTimesheetApproval: p.RequireTimesheetApproval,
	}

	for _, b := range p.Breaks {
		pj.Breaks = append(pj.Breaks, BreakJSON{
			Type:               string(b.Type),
			MinMinutes:         int(b.MinMinutes),
			Paid:               b.Paid,
			AfterWorkedMinutes: int(b.AfterWorkedMinutes),
		})
	}
	for _, d := range p.WeeklyRestDays {
		pj.WeeklyRestDays = append(pj.WeeklyRestDays, strings.ToLower(d.String()))
	}
	if len(p.Escalation) > 0 {
		pj.Escalation = make(map[string][]EscalationJSON, len(p.Escalation))
		for code, steps := range p.Escalation {
			var out []EscalationJSON
			for _, s := range steps {
				out = append(out, EscalationJSON{Severity: string(s.Severity), Penalty: attendance.SpecOf(s.Penalty)})
			}
			pj.Escalation[string(code)] = out
		}
	}
	return pj
}

// MarshalPolicy is ToJSON followed by json.Marshal.
func (f *PolicyFactory) MarshalPolicy(p *attendance.Policy) ([]byte, error) {
	return json.Marshal(f.ToJSON(p))
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", generic.ErrInvalidInput, fmt.Sprintf(format, args...))
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseWeekdays(names []string) ([]time.Weekday, error) {
	seen := make(map[time.Weekday]bool)
	var out []time.Weekday
	for _, n := range names {
		d, ok := weekdays[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, invalid("unknown weekday %q", n)
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// parseEscalation builds one rule's table. Severity may stay level or
// rise from one step to the next, never drop.
func parseEscalation(code attendance.ViolationCode, steps []EscalationJSON) ([]attendance.EscalationStep, error) {
	if !code.Valid() {
		return nil, invalid("escalation: unknown violation code %q", code)
	}
	if len(steps) == 0 {
		return nil, invalid("escalation %s: at least one step required", code)
	}
	out := make([]attendance.EscalationStep, 0, len(steps))
	for i, sj := range steps {
		sev := attendance.Severity(sj.Severity)
		if !sev.Valid() {
			return nil, invalid("escalation %s step %d: unknown severity %q", code, i+1, sj.Severity)
		}
		if i > 0 && sev.Rank() < out[i-1].Severity.Rank() {
			return nil, invalid("escalation %s step %d: severity %s is below previous step %s", code, i+1, sev, out[i-1].Severity)
		}
		pen, err := sj.Penalty.Penalty()
		if err != nil {
			return nil, fmt.Errorf("escalation %s step %d: %w", code, i+1, err)
		}
		out = append(out, attendance.EscalationStep{Severity: sev, Penalty: pen})
	}
	return out, nil
}

// checkDeductionCurrency makes every fixed-amount penalty agree on one
// currency: the policy's when set, otherwise the first one found. The
// first currency seen becomes the policy currency.
func checkDeductionCurrency(p *attendance.Policy) error {
	codes := make([]string, 0, len(p.Escalation))
	for code := range p.Escalation {
		codes = append(codes, string(code))
	}
	sort.Strings(codes)

	for _, code := range codes {
		for i, step := range p.Escalation[attendance.ViolationCode(code)] {
			d, ok := step.Penalty.(attendance.DeductionPenalty)
			if !ok {
				continue
			}
			switch {
			case p.Currency == "":
				p.Currency = d.Amount.Currency
			case d.Amount.Currency != p.Currency:
				return invalid("escalation %s step %d: deduction currency %s does not match policy currency %s",
					code, i+1, d.Amount.Currency, p.Currency)
			}
		}
	}
	return nil
}
