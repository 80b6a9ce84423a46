package factory_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/factory"
	"github.com/warp/attendance-engine/generic"
)

const riyadhPolicy = `{
	"id": "office-riyadh",
	"name": "Riyadh Office",
	"timezone": "Asia/Riyadh",
	"schedule": {"check_in": "07:30", "check_out": "15:30"},
	"grace_period_minutes": 5,
	"late_thresholds": {"minor_max": 10, "moderate_max": 45},
	"overtime": {"multiplier": "1.25", "holiday_multiplier": "2.5", "require_approval": true},
	"breaks": [
		{"type": "lunch", "min_minutes": 45, "paid": false, "after_worked_minutes": 240},
		{"type": "prayer", "paid": true}
	],
	"weekly_rest_days": ["Saturday", "friday"],
	"ramadan": {"enabled": true, "scheduled_minutes": 300},
	"limits": {
		"max_daily_minutes": 660,
		"max_daily_overtime_minutes": 180,
		"min_rest_between_shifts_minutes": 600,
		"max_consecutive_work_days": 5
	},
	"offense_window_days": 60,
	"escalation": {
		"LATE_ARRIVAL": [
			{"severity": "minor", "penalty": {"type": "warning"}},
			{"severity": "moderate", "penalty": {"type": "percentage", "percent": "5"}},
			{"severity": "severe", "penalty": {"type": "days_suspension", "days": 1}}
		]
	},
	"deductions": {"lateness": true, "early_departure": false, "absence": true}
}`

// =============================================================================
// PARSING
// =============================================================================

func TestParsePolicy_FullDocument(t *testing.T) {
	f := factory.NewPolicyFactory()

	// WHEN
	p, err := f.ParsePolicy(riyadhPolicy)
	require.NoError(t, err)

	// THEN: Every field lands on the policy
	assert.Equal(t, attendance.PolicyID("office-riyadh"), p.ID)
	assert.Equal(t, "Riyadh Office", p.Name)
	assert.Equal(t, "Asia/Riyadh", p.Location().String())
	assert.Equal(t, generic.NewClockTime(7, 30), p.ScheduledCheckIn)
	assert.Equal(t, generic.NewClockTime(15, 30), p.ScheduledCheckOut)
	assert.Equal(t, generic.Minutes(480), p.ScheduledMinutes)
	assert.Equal(t, generic.Minutes(5), p.GracePeriodMinutes)
	assert.Equal(t, generic.Minutes(10), p.LateThresholds.MinorMax)
	assert.Equal(t, generic.Minutes(45), p.LateThresholds.ModerateMax)
	assert.True(t, p.OvertimeMultiplier.Equal(decimal.RequireFromString("1.25")))
	assert.True(t, p.HolidayOvertimeMultiplier.Equal(decimal.RequireFromString("2.5")))
	assert.True(t, p.RequireOvertimeApproval)
	require.Len(t, p.Breaks, 2)
	assert.Equal(t, generic.Minutes(45), p.Breaks[0].MinMinutes)
	assert.True(t, p.BreakPaid(attendance.BreakType("prayer")))
	assert.Equal(t, []time.Weekday{time.Friday, time.Saturday}, p.WeeklyRestDays)
	assert.Equal(t, generic.Minutes(300), p.Ramadan.ScheduledMinutes)
	assert.Equal(t, generic.Minutes(660), p.Limits.MaxDailyMinutes)
	assert.Equal(t, 5, p.Limits.MaxConsecutiveWorkDays)
	assert.Equal(t, 60, p.OffenseWindowDays)
	assert.False(t, p.DeductEarlyDeparture)

	steps := p.EscalationFor(attendance.CodeLateArrival)
	require.Len(t, steps, 3)
	assert.Equal(t, attendance.SuspensionPenalty{Days: 1}, steps[2].Penalty)
}

func TestParsePolicy_OmittedFieldsKeepStandardValues(t *testing.T) {
	f := factory.NewPolicyFactory()
	std := attendance.StandardPolicy("minimal")

	// GIVEN: Only an id
	p, err := f.ParsePolicy(`{"id": "minimal"}`)
	require.NoError(t, err)

	// THEN
	assert.Equal(t, std.ScheduledCheckIn, p.ScheduledCheckIn)
	assert.Equal(t, std.GracePeriodMinutes, p.GracePeriodMinutes)
	assert.Equal(t, std.LateThresholds, p.LateThresholds)
	assert.Equal(t, std.WeeklyRestDays, p.WeeklyRestDays)
	assert.Equal(t, std.Limits, p.Limits)
	assert.Equal(t, std.OffenseWindowDays, p.OffenseWindowDays)
	assert.Equal(t, attendance.DefaultEscalation(attendance.CodeExcessiveOvertime), p.EscalationFor(attendance.CodeExcessiveOvertime))
}

func TestParsePolicy_OvernightShift(t *testing.T) {
	f := factory.NewPolicyFactory()

	p, err := f.ParsePolicy(`{"id": "night", "schedule": {"check_in": "22:00", "check_out": "06:00"}}`)
	require.NoError(t, err)

	assert.Equal(t, generic.Minutes(480), p.ScheduledMinutes)
}

func TestParsePolicy_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"malformed json", `{"id": `},
		{"missing id", `{"name": "x"}`},
		{"unknown timezone", `{"id": "p", "timezone": "Mars/Olympus"}`},
		{"bad clock time", `{"id": "p", "schedule": {"check_in": "8am", "check_out": "16:00"}}`},
		{"negative grace", `{"id": "p", "grace_period_minutes": -1}`},
		{"thresholds out of order", `{"id": "p", "late_thresholds": {"minor_max": 30, "moderate_max": 15}}`},
		{"multiplier below one", `{"id": "p", "overtime": {"multiplier": "0.5"}}`},
		{"break without type", `{"id": "p", "breaks": [{"min_minutes": 30}]}`},
		{"unknown weekday", `{"id": "p", "weekly_rest_days": ["funday"]}`},
		{"negative limit", `{"id": "p", "limits": {"max_daily_minutes": -1}}`},
		{"zero offense window", `{"id": "p", "offense_window_days": 0}`},
		{"unknown violation code", `{"id": "p", "escalation": {"NAPPING": [{"severity": "minor", "penalty": {"type": "warning"}}]}}`},
		{"empty escalation", `{"id": "p", "escalation": {"LATE_ARRIVAL": []}}`},
		{"unknown severity", `{"id": "p", "escalation": {"LATE_ARRIVAL": [{"severity": "catastrophic", "penalty": {"type": "warning"}}]}}`},
		{"severity decreases", `{"id": "p", "escalation": {"LATE_ARRIVAL": [
			{"severity": "severe", "penalty": {"type": "warning"}},
			{"severity": "minor", "penalty": {"type": "warning"}}
		]}}`},
		{"percentage without percent", `{"id": "p", "escalation": {"LATE_ARRIVAL": [{"severity": "minor", "penalty": {"type": "percentage"}}]}}`},
		{"percentage over 100", `{"id": "p", "escalation": {"LATE_ARRIVAL": [{"severity": "minor", "penalty": {"type": "percentage", "percent": "150"}}]}}`},
		{"unknown penalty", `{"id": "p", "escalation": {"LATE_ARRIVAL": [{"severity": "minor", "penalty": {"type": "flogging"}}]}}`},
		{"deduction without currency", `{"id": "p", "escalation": {"LATE_ARRIVAL": [{"severity": "minor", "penalty": {"type": "deduction", "amount": "25"}}]}}`},
		{"deduction currency differs from policy", `{"id": "p", "currency": "AED", "escalation": {"LATE_ARRIVAL": [
			{"severity": "minor", "penalty": {"type": "deduction", "amount": "25", "currency": "USD"}}
		]}}`},
		{"deduction currencies disagree", `{"id": "p", "escalation": {
			"LATE_ARRIVAL": [{"severity": "minor", "penalty": {"type": "deduction", "amount": "25", "currency": "AED"}}],
			"EARLY_DEPARTURE": [{"severity": "minor", "penalty": {"type": "deduction", "amount": "25", "currency": "SAR"}}]
		}}`},
	}

	f := factory.NewPolicyFactory()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParsePolicy(tt.json)
			require.Error(t, err)
			assert.ErrorIs(t, err, generic.ErrInvalidInput)
		})
	}
}

// =============================================================================
// ROUND TRIP
// =============================================================================

func TestToJSON_RebuildsPolicy(t *testing.T) {
	f := factory.NewPolicyFactory()

	// GIVEN: A parsed policy with a custom escalation table
	original, err := f.ParsePolicy(riyadhPolicy)
	require.NoError(t, err)

	// WHEN: It is serialized and parsed again
	data, err := f.MarshalPolicy(original)
	require.NoError(t, err)
	rebuilt, err := f.ParsePolicy(string(data))
	require.NoError(t, err)

	// THEN
	assert.Equal(t, original.ScheduledCheckIn, rebuilt.ScheduledCheckIn)
	assert.Equal(t, original.ScheduledMinutes, rebuilt.ScheduledMinutes)
	assert.Equal(t, original.LateThresholds, rebuilt.LateThresholds)
	assert.True(t, original.OvertimeMultiplier.Equal(rebuilt.OvertimeMultiplier))
	assert.Equal(t, original.Breaks, rebuilt.Breaks)
	assert.Equal(t, original.WeeklyRestDays, rebuilt.WeeklyRestDays)
	assert.Equal(t, original.Limits, rebuilt.Limits)
	assert.Equal(t, original.DeductEarlyDeparture, rebuilt.DeductEarlyDeparture)
	assert.Equal(t, original.EscalationFor(attendance.CodeLateArrival), rebuilt.EscalationFor(attendance.CodeLateArrival))
}

func TestToJSON_WeekdaysAreLowercaseNames(t *testing.T) {
	f := factory.NewPolicyFactory()
	p := attendance.StandardPolicy("std")

	data, err := f.MarshalPolicy(&p)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, []any{"friday", "saturday"}, raw["weekly_rest_days"])
	assert.Equal(t, "std", raw["id"])
}

// =============================================================================
// CURRENCY AND TIMESHEETS
// =============================================================================

func TestParsePolicy_DeductionCurrencyAdoptedByPolicy(t *testing.T) {
	f := factory.NewPolicyFactory()

	// GIVEN: No policy currency, one fixed deduction in AED
	p, err := f.ParsePolicy(`{"id": "p", "escalation": {"LATE_ARRIVAL": [
		{"severity": "minor", "penalty": {"type": "deduction", "amount": "25", "currency": "AED"}}
	]}}`)
	require.NoError(t, err)

	// THEN: The policy prices in AED and the penalty keeps its currency
	assert.Equal(t, generic.Currency("AED"), p.Currency)
	steps := p.EscalationFor(attendance.CodeLateArrival)
	require.Len(t, steps, 1)
	assert.Equal(t, generic.Currency("AED"), steps[0].Penalty.(attendance.DeductionPenalty).Amount.Currency)
}

func TestToJSON_KeepsCurrencyAndTimesheetApproval(t *testing.T) {
	f := factory.NewPolicyFactory()

	// GIVEN
	original, err := f.ParsePolicy(`{"id": "p", "currency": "aed", "require_timesheet_approval": true}`)
	require.NoError(t, err)
	assert.Equal(t, generic.Currency("AED"), original.Currency)
	assert.True(t, original.RequireTimesheetApproval)

	// WHEN
	data, err := f.MarshalPolicy(original)
	require.NoError(t, err)
	rebuilt, err := f.ParsePolicy(string(data))
	require.NoError(t, err)

	// THEN
	assert.Equal(t, original.Currency, rebuilt.Currency)
	assert.True(t, rebuilt.RequireTimesheetApproval)
}
