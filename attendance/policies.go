/*
policies.go - Pre-built labor policy configurations

PURPOSE:
  Provides ready-to-use policies for common working patterns, plus the
  fallback escalation tables used when a policy leaves a rule's table
  unset. These are convenience constructors; factory/policy.go builds
  policies from JSON for everything else.

AVAILABLE POLICIES:
  StandardPolicy:   08:00-16:00, Sunday-Thursday, Ramadan hours enabled
  FlexiblePolicy:   Longer grace, no lateness deductions
  ShiftPolicy:      Custom shift window (overnight allowed)

DEFAULTS:
  Grace period            10 minutes
  Lateness thresholds     minor <= 15, moderate <= 60, severe above
  Overtime multipliers    1.5 regular, 2.0 holiday / rest day
  Weekly rest             Friday + Saturday
  Ramadan scheduled day   6 hours
  Offense window          90 days

ESCALATION:
  The n-th confirmed offense of a rule inside the offense window uses
  step n of the rule's table; offenses beyond the table reuse the last
  step. Tables never decrease in severity.

EXAMPLE:
  p := attendance.StandardPolicy("std")
  p.GracePeriodMinutes = 5
  p.Escalation[attendance.CodeLateArrival] = []attendance.EscalationStep{
      {Severity: attendance.SeverityMinor, Penalty: attendance.WarningPenalty{}},
      {Severity: attendance.SeveritySevere, Penalty: attendance.Percent("10")},
  }

SEE ALSO:
  - types.go: Policy definition
  - rules.go: Where escalation is applied
  - factory/policy.go: JSON-based policy creation
*/
package attendance

import (
	"time"

	"github.com/warp/attendance-engine/generic"
)

const (
	DefaultGraceMinutes       generic.Minutes = 10
	DefaultMinorMaxMinutes    generic.Minutes = 15
	DefaultModerateMaxMinutes generic.Minutes = 60
	DefaultOffenseWindowDays                  = 90
)

// DefaultThresholds are the lateness/early-departure category fallbacks.
var DefaultThresholds = CategoryThresholds{MinorMax: DefaultMinorMaxMinutes, ModerateMax: DefaultModerateMaxMinutes}

// =============================================================================
// COMMON POLICIES
// =============================================================================

// StandardPolicy returns an 8-hour day shift with an unpaid lunch break
// and a paid prayer break.
func StandardPolicy(id PolicyID) Policy {
	return Policy{
		ID:                 id,
		Name:               "Standard Day Shift",
		Timezone:           "UTC",
		ScheduledCheckIn:   generic.NewClockTime(8, 0),
		ScheduledCheckOut:  generic.NewClockTime(16, 0),
		ScheduledMinutes:   480,
		GracePeriodMinutes: DefaultGraceMinutes,
		LateThresholds:     DefaultThresholds,

		OvertimeMultiplier:        generic.MustParseDecimal("1.5"),
		HolidayOvertimeMultiplier: generic.MustParseDecimal("2.0"),

		Breaks: []BreakRequirement{
			{Type: BreakLunch, MinMinutes: 30, Paid: false, AfterWorkedMinutes: 300},
			{Type: BreakPrayer, MinMinutes: 0, Paid: true},
		},
		WeeklyRestDays: []time.Weekday{time.Friday, time.Saturday},
		Ramadan:        RamadanRule{Enabled: true, ScheduledMinutes: 360},
		Limits: Limits{
			MaxDailyMinutes:             600,
			MaxDailyOvertimeMinutes:     120,
			MinRestBetweenShiftsMinutes: 660,
			MaxConsecutiveWorkDays:      6,
		},

		OffenseWindowDays: DefaultOffenseWindowDays,
		Escalation:        map[ViolationCode][]EscalationStep{},

		DeductLateness:       true,
		DeductEarlyDeparture: true,
		DeductAbsence:        true,
	}
}

// FlexiblePolicy tolerates 30 minutes either side and never deducts for
// lateness or early departure. Absence is still deducted.
func FlexiblePolicy(id PolicyID) Policy {
	p := StandardPolicy(id)
	p.Name = "Flexible Hours"
	p.GracePeriodMinutes = 30
	p.DeductLateness = false
	p.DeductEarlyDeparture = false
	return p
}

// ShiftPolicy returns a standard policy moved to a custom shift window.
// A check-out earlier than the check-in means the shift ends the next day.
func ShiftPolicy(id PolicyID, checkIn, checkOut generic.ClockTime) Policy {
	p := StandardPolicy(id)
	p.Name = "Shift " + checkIn.String() + "-" + checkOut.String()
	p.ScheduledCheckIn = checkIn
	p.ScheduledCheckOut = checkOut
	span := generic.Minutes(checkOut - checkIn)
	if span <= 0 {
		span += 24 * 60
	}
	p.ScheduledMinutes = span
	return p
}

// =============================================================================
// DEFAULT ESCALATION TABLES
// =============================================================================

// DefaultEscalation returns the fallback table for code. Rules that
// protect the employee (hours, rest, breaks) only warn; attendance rules
// escalate to pay deductions.
func DefaultEscalation(code ViolationCode) []EscalationStep {
	switch code {
	case CodeExcessiveOvertime:
		return []EscalationStep{
			{Severity: SeverityMinor, Penalty: Percent("10")},
			{Severity: SeverityModerate, Penalty: Percent("25")},
			{Severity: SeveritySevere, Penalty: SuspensionPenalty{Days: 1}},
		}
	case CodeLateArrival, CodeEarlyDeparture:
		return []EscalationStep{
			{Severity: SeverityMinor, Penalty: WarningPenalty{}},
			{Severity: SeverityModerate, Penalty: Percent("5")},
			{Severity: SeveritySevere, Penalty: Percent("10")},
		}
	case CodeUnauthorizedAbsence:
		return []EscalationStep{
			{Severity: SeverityModerate, Penalty: WarningPenalty{}},
			{Severity: SeveritySevere, Penalty: SuspensionPenalty{Days: 1}},
		}
	default:
		return []EscalationStep{
			{Severity: SeverityMinor, Penalty: WarningPenalty{}},
			{Severity: SeverityModerate, Penalty: WarningPenalty{}},
			{Severity: SeveritySevere, Penalty: WarningPenalty{}},
		}
	}
}
