/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the database with realistic
  data for testing and demos. Each scenario creates employees, policies,
  assignments and raw events for the last few working days, then runs
  the pipeline over them.

AVAILABLE SCENARIOS:
  regular-week:     On time, late within grace, late beyond grace, early exit
  absence-leave:    Unexplained absence next to approved leave and a holiday
  overtime:         Long days breaching the daily overtime limit
  ramadan:          Reduced Ramadan schedule on a shift policy
  payroll-lock:     A processed week, already locked for one payroll run

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create policies via factory
 3. Create employees and assign policies
 4. Submit raw events through intake (duplicates included on purpose)
 5. Process every (employee, day) unit

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "regular-week"}

NOTE:
  Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ProcessRecords, LockRecords
  - factory/policy.go: Policy JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/generic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "regular-week",
		Name:        "Regular Week",
		Description: "On-time, grace-period, late and early-departure days on the standard shift",
	},
	{
		ID:          "absence-leave",
		Name:        "Absence & Leave",
		Description: "Unexplained absence next to approved leave and a public holiday",
	},
	{
		ID:          "overtime",
		Name:        "Overtime",
		Description: "Long days that exceed the daily overtime limit, with one approved",
	},
	{
		ID:          "ramadan",
		Name:        "Ramadan Schedule",
		Description: "Six-hour Ramadan days on a 07:00-15:00 shift policy",
	},
	{
		ID:          "payroll-lock",
		Name:        "Payroll Lock",
		Description: "A processed week locked for a payroll run, ready for a supersede",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "regular-week":
		load = h.loadRegularWeekScenario
	case "absence-leave":
		load = h.loadAbsenceLeaveScenario
	case "overtime":
		load = h.loadOvertimeScenario
	case "ramadan":
		load = h.loadRamadanScenario
	case "payroll-lock":
		load = h.loadPayrollLockScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

const standardPolicyJSON = `{
  "id": "standard",
  "name": "Standard Day Shift",
  "timezone": "Asia/Dubai",
  "schedule": {"check_in": "08:00", "check_out": "16:00"},
  "grace_period_minutes": 10,
  "late_thresholds": {"minor_max": 15, "moderate_max": 60},
  "weekly_rest_days": ["friday", "saturday"],
  "offense_window_days": 90
}`

func (h *Handler) loadRegularWeekScenario(ctx context.Context) error {
	policy, err := h.createPolicyFromJSON(ctx, standardPolicyJSON)
	if err != nil {
		return err
	}
	if err := h.seedEmployee(ctx, "emp-001", "Sarah Ahmed", "operations", "45.00", policy.ID); err != nil {
		return err
	}

	days := recentWorkdays(*policy, 5)
	shifts := []struct{ in, out generic.ClockTime }{
		{generic.NewClockTime(8, 0), generic.NewClockTime(16, 0)},   // on time
		{generic.NewClockTime(8, 7), generic.NewClockTime(16, 5)},   // within grace
		{generic.NewClockTime(8, 25), generic.NewClockTime(16, 30)}, // late, minor
		{generic.NewClockTime(8, 0), generic.NewClockTime(14, 30)},  // early departure
		{generic.NewClockTime(9, 30), generic.NewClockTime(17, 0)},  // late, severe
	}
	for i, d := range days {
		if err := h.seedShift(ctx, "emp-001", *policy, d, shifts[i].in, shifts[i].out, true); err != nil {
			return err
		}
	}

	// Second device reading two seconds after the first
	first := generic.NewClockTime(8, 0).On(days[0], policy.Location())
	if _, _, err := h.Service.SubmitEvent(ctx, attendance.Event{
		EmployeeID: "emp-001",
		Kind:       attendance.EventCheckIn,
		At:         first.Add(2 * time.Second),
		Method:     attendance.MethodCard,
	}); err != nil {
		return err
	}

	return h.processDays(ctx, []attendance.EmployeeID{"emp-001"}, days)
}

func (h *Handler) loadAbsenceLeaveScenario(ctx context.Context) error {
	policy, err := h.createPolicyFromJSON(ctx, standardPolicyJSON)
	if err != nil {
		return err
	}
	if err := h.seedEmployee(ctx, "emp-002", "Omar Khalil", "finance", "60.00", policy.ID); err != nil {
		return err
	}

	days := recentWorkdays(*policy, 5)
	if err := h.Store.SaveLeave(ctx, attendance.Leave{
		ID:         "leave-001",
		EmployeeID: "emp-002",
		Type:       "annual",
		Start:      days[1],
		End:        days[1],
	}); err != nil {
		return err
	}
	if err := h.Store.SaveHoliday(ctx, generic.Holiday{
		ID:     "holiday-demo",
		Region: "AE",
		Date:   days[2],
		Name:   "Company Day",
		Type:   generic.HolidayOther,
	}); err != nil {
		return err
	}

	// days[3] has no events at all: unexplained absence
	for _, d := range []generic.Date{days[0], days[4]} {
		if err := h.seedShift(ctx, "emp-002", *policy, d, generic.NewClockTime(7, 55), generic.NewClockTime(16, 2), true); err != nil {
			return err
		}
	}
	return h.processDays(ctx, []attendance.EmployeeID{"emp-002"}, days)
}

func (h *Handler) loadOvertimeScenario(ctx context.Context) error {
	policy, err := h.createPolicyFromJSON(ctx, `{
  "id": "overtime-approval",
  "name": "Day Shift, Approved Overtime",
  "timezone": "Asia/Dubai",
  "schedule": {"check_in": "08:00", "check_out": "16:00"},
  "overtime": {"multiplier": "1.25", "holiday_multiplier": "1.5", "require_approval": true},
  "limits": {
    "max_daily_minutes": 600,
    "max_daily_overtime_minutes": 120,
    "min_rest_between_shifts_minutes": 660,
    "max_consecutive_work_days": 6
  },
  "escalation": {
    "EXCESSIVE_OVERTIME": [
      {"severity": "moderate", "penalty": {"type": "percentage", "percent": "10"}}
    ]
  }
}`)
	if err != nil {
		return err
	}
	if err := h.seedEmployee(ctx, "emp-003", "Priya Nair", "logistics", "50.00", policy.ID); err != nil {
		return err
	}

	days := recentWorkdays(*policy, 3)
	for _, d := range days {
		if err := h.seedShift(ctx, "emp-003", *policy, d, generic.NewClockTime(7, 0), generic.NewClockTime(19, 30), true); err != nil {
			return err
		}
	}
	if err := h.processDays(ctx, []attendance.EmployeeID{"emp-003"}, days); err != nil {
		return err
	}

	rec, err := h.Store.CurrentRecord(ctx, "emp-003", days[len(days)-1])
	if err != nil {
		return err
	}
	_, err = h.Service.ApproveOvertime(ctx, rec.ID, 120, "manager-demo")
	return err
}

func (h *Handler) loadRamadanScenario(ctx context.Context) error {
	policy, err := h.createPolicyFromJSON(ctx, `{
  "id": "early-shift",
  "name": "Early Shift",
  "timezone": "Asia/Dubai",
  "schedule": {"check_in": "07:00", "check_out": "15:00"},
  "ramadan": {"enabled": true, "scheduled_minutes": 360}
}`)
	if err != nil {
		return err
	}
	if err := h.seedEmployee(ctx, "emp-004", "Yusuf Rahman", "maintenance", "38.50", policy.ID); err != nil {
		return err
	}

	days := recentWorkdays(*policy, 4)
	if err := h.Store.SaveRamadan(ctx, attendance.RamadanPeriod{
		Region: "AE",
		Start:  days[0].AddDays(-10),
		End:    days[len(days)-1].AddDays(19),
	}); err != nil {
		return err
	}
	for _, d := range days {
		if err := h.seedShift(ctx, "emp-004", *policy, d, generic.NewClockTime(7, 0), generic.NewClockTime(13, 30), false); err != nil {
			return err
		}
	}
	return h.processDays(ctx, []attendance.EmployeeID{"emp-004"}, days)
}

func (h *Handler) loadPayrollLockScenario(ctx context.Context) error {
	if err := h.loadRegularWeekScenario(ctx); err != nil {
		return err
	}

	records, err := h.Service.ListRecords(ctx, attendance.RecordFilter{EmployeeID: "emp-001"})
	if err != nil {
		return err
	}
	ids := make([]attendance.RecordID, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	_, err = h.Service.Lock(ctx, ids, "payroll-demo-01", "payroll-admin")
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) createPolicyFromJSON(ctx context.Context, jsonStr string) (*attendance.Policy, error) {
	policy, err := h.PolicyFactory.ParsePolicy(jsonStr)
	if err != nil {
		return nil, err
	}
	if err := h.Store.SavePolicy(ctx, *policy); err != nil {
		return nil, err
	}
	return policy, nil
}

func (h *Handler) seedEmployee(ctx context.Context, id attendance.EmployeeID, name, dept, rate string, policyID attendance.PolicyID) error {
	hired := generic.NewDate(time.Now().Year()-1, time.January, 1)
	emp := attendance.Employee{
		ID:         id,
		Name:       name,
		Email:      fmt.Sprintf("%s@example.com", id),
		Department: dept,
		Region:     "AE",
		HireDate:   hired,
		HourlyRate: generic.NewMoney(decimal.RequireFromString(rate), "AED"),
	}
	if err := h.Store.SaveEmployee(ctx, emp); err != nil {
		return err
	}
	return h.Store.SaveAssignment(ctx, attendance.PolicyAssignment{
		ID:            fmt.Sprintf("assign-%s", id),
		EmployeeID:    id,
		PolicyID:      policyID,
		EffectiveFrom: hired,
	})
}

// seedShift submits check-in and check-out events, plus a 12:30 lunch
// break when lunch is set.
func (h *Handler) seedShift(ctx context.Context, id attendance.EmployeeID, p attendance.Policy, d generic.Date, in, out generic.ClockTime, lunch bool) error {
	loc := p.Location()
	events := []attendance.Event{
		{EmployeeID: id, Kind: attendance.EventCheckIn, At: in.On(d, loc), Method: attendance.MethodBiometric},
	}
	if lunch {
		events = append(events,
			attendance.Event{EmployeeID: id, Kind: attendance.EventBreakStart, At: generic.NewClockTime(12, 30).On(d, loc), Method: attendance.MethodMobile, BreakType: attendance.BreakLunch},
			attendance.Event{EmployeeID: id, Kind: attendance.EventBreakEnd, At: generic.NewClockTime(13, 5).On(d, loc), Method: attendance.MethodMobile, BreakType: attendance.BreakLunch},
		)
	}
	events = append(events, attendance.Event{EmployeeID: id, Kind: attendance.EventCheckOut, At: out.On(d, loc), Method: attendance.MethodBiometric})

	for _, e := range events {
		if _, _, err := h.Service.SubmitEvent(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) processDays(ctx context.Context, ids []attendance.EmployeeID, days []generic.Date) error {
	units := make([]attendance.Unit, 0, len(ids)*len(days))
	for _, id := range ids {
		for _, d := range days {
			units = append(units, attendance.Unit{EmployeeID: id, Date: d})
		}
	}
	result := h.Service.ProcessBatch(ctx, units)
	for _, u := range units {
		if res := result.Results[u]; res.Err != nil {
			return fmt.Errorf("process %s: %w", u, res.Err)
		}
	}
	return nil
}

// recentWorkdays returns the last n scheduled working days before today,
// oldest first.
func recentWorkdays(p attendance.Policy, n int) []generic.Date {
	days := make([]generic.Date, 0, n)
	d := generic.DateOf(time.Now(), p.Location()).AddDays(-1)
	for len(days) < n {
		if !p.IsRestDay(d.Weekday()) {
			days = append([]generic.Date{d}, days...)
		}
		d = d.AddDays(-1)
	}
	return days
}
