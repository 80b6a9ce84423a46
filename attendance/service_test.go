package attendance_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/generic"
	genstore "github.com/warp/attendance-engine/generic/store"
	"github.com/warp/attendance-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// fixedNow is a Thursday, after every closed test date.
var fixedNow = time.Date(2026, time.March, 19, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store  *memory.Store
	ledger generic.Ledger
	svc    *attendance.Service
	policy attendance.Policy
}

func newFixture(t *testing.T, mutate ...func(p *attendance.Policy)) *fixture {
	t.Helper()

	st := memory.New()
	p := testPolicy()
	for _, m := range mutate {
		m(&p)
	}
	st.SavePolicy(p)
	st.SaveEmployee(attendance.Employee{
		ID:         "emp-1",
		Name:       "Aisha Rahman",
		Department: "Legal",
		Region:     "AE",
		HireDate:   generic.NewDate(2025, time.January, 1),
		HourlyRate: aed("50"),
	})
	st.Assign(attendance.PolicyAssignment{
		ID:            "assign-1",
		EmployeeID:    "emp-1",
		PolicyID:      p.ID,
		EffectiveFrom: generic.NewDate(2025, time.January, 1),
	})

	mem := genstore.NewMemory()
	ledger := generic.NewLedger(mem)
	svc := attendance.NewService(attendance.Deps{
		Records:   st,
		Events:    st,
		Policies:  st,
		Employees: st,
		Leaves:    st,
		Calendar:  st,
		Ledger:    ledger,
		Audit:     mem,
	}, attendance.Options{
		Workers: 4,
		Clock:   func() time.Time { return fixedNow },
	})
	return &fixture{store: st, ledger: ledger, svc: svc, policy: p}
}

func (f *fixture) submit(t *testing.T, kind attendance.EventKind, when time.Time, bt attendance.BreakType) attendance.Event {
	t.Helper()
	e, accepted, err := f.svc.SubmitEvent(context.Background(), attendance.Event{
		EmployeeID: "emp-1",
		Kind:       kind,
		At:         when,
		Method:     attendance.MethodBiometric,
		BreakType:  bt,
	})
	require.NoError(t, err)
	require.True(t, accepted)
	return e
}

// work records a shift on d with an optional lunch starting 12:30.
func (f *fixture) work(t *testing.T, d generic.Date, inH, inM, outH, outM, lunch int) {
	t.Helper()
	for _, e := range shift(d, inH, inM, outH, outM, lunch).Events {
		f.submit(t, e.Kind, e.At, e.BreakType)
	}
}

func (f *fixture) process(t *testing.T, d generic.Date) *attendance.Record {
	t.Helper()
	rec, err := f.svc.ProcessDay(context.Background(), "emp-1", d)
	require.NoError(t, err)
	return rec
}

func violationOf(t *testing.T, rec *attendance.Record, code attendance.ViolationCode) attendance.Violation {
	t.Helper()
	for _, v := range rec.Violations {
		if v.Code == code {
			return v
		}
	}
	t.Fatalf("record %s has no %s violation (has %v)", rec.ID, code, codes(rec.Violations))
	return attendance.Violation{}
}

// =============================================================================
// EVENT INTAKE
// =============================================================================

func TestService_SubmitEvent_DuplicateFromSecondDevice_KeepsFirst(t *testing.T) {
	// GIVEN: A check-in at 08:00:00 from a biometric reader
	// WHEN: The card reader reports the same check-in at 08:00:02
	// THEN: The second event is not stored; the first one is returned

	f := newFixture(t)
	ctx := context.Background()
	first := f.submit(t, attendance.EventCheckIn, at(monday, 8, 0), "")

	got, accepted, err := f.svc.SubmitEvent(ctx, attendance.Event{
		EmployeeID: "emp-1",
		Kind:       attendance.EventCheckIn,
		At:         at(monday, 8, 0).Add(2 * time.Second),
		Method:     attendance.MethodCard,
	})

	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Equal(t, first.ID, got.ID)

	start, end := attendance.DayWindow(f.policy, monday)
	stored, err := f.store.EventsBetween(ctx, "emp-1", start, end)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestService_SubmitEvent_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.SubmitEvent(ctx, attendance.Event{EmployeeID: "emp-1", Kind: "lunch", At: at(monday, 8, 0)})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, _, err = f.svc.SubmitEvent(ctx, attendance.Event{EmployeeID: "emp-1", Kind: attendance.EventCheckIn})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	bad := 1.5
	_, _, err = f.svc.SubmitEvent(ctx, attendance.Event{EmployeeID: "emp-1", Kind: attendance.EventCheckIn, At: at(monday, 8, 0), Confidence: &bad})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, _, err = f.svc.SubmitEvent(ctx, attendance.Event{EmployeeID: "emp-404", Kind: attendance.EventCheckIn, At: at(monday, 8, 0)})
	assert.True(t, generic.IsNotFound(err))
}

func TestService_SubmitEvent_DefaultsToManual(t *testing.T) {
	f := newFixture(t)

	e, accepted, err := f.svc.SubmitEvent(context.Background(), attendance.Event{
		EmployeeID: "emp-1",
		Kind:       attendance.EventCheckIn,
		At:         at(monday, 8, 0),
	})

	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, attendance.MethodManual, e.Method)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, fixedNow, e.ReceivedAt)
}

// =============================================================================
// PIPELINE
// =============================================================================

func TestService_ProcessDay_Scenarios(t *testing.T) {
	tests := []struct {
		name   string
		in     [2]int // check-in hour, minute; zero value = no events
		status attendance.Status
		codes  []attendance.ViolationCode
	}{
		{"inside grace", [2]int{8, 7}, attendance.StatusPresent, nil},
		{"late past grace", [2]int{8, 25}, attendance.StatusLate, []attendance.ViolationCode{attendance.CodeLateArrival}},
		{"no events", [2]int{}, attendance.StatusAbsent, []attendance.ViolationCode{attendance.CodeUnauthorizedAbsence}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.in != [2]int{} {
				f.work(t, monday, tt.in[0], tt.in[1], 16, 0, 30)
			}

			rec := f.process(t, monday)

			assert.Equal(t, tt.status, rec.Status)
			assert.ElementsMatch(t, tt.codes, codes(rec.Violations))
			assert.Equal(t, attendance.NewRecordID("emp-1", monday, 1), rec.ID)
			assert.Equal(t, 1, rec.Revision)
			require.NotNil(t, rec.Payroll)
			require.NotNil(t, rec.Compliance)
		})
	}
}

func TestService_ProcessDay_AbsentDeductsDayPay(t *testing.T) {
	f := newFixture(t)

	rec := f.process(t, monday)

	require.NotNil(t, rec.Absence)
	assert.Equal(t, attendance.AbsenceUnknown, rec.Absence.ReasonCategory)
	assert.Equal(t, "400.00", rec.Payroll.Deductions.Absence.Value.StringFixed(2))
	assert.Equal(t, "400.00", rec.Payroll.Deductions.Total.Value.StringFixed(2))
}

func TestService_ProcessDay_Deterministic(t *testing.T) {
	// GIVEN: A processed day
	// WHEN: Processing it again with unchanged inputs
	// THEN: Same record ID and identical classification, violations,
	//       compliance and payroll

	f := newFixture(t)
	f.work(t, monday, 7, 40, 19, 0, 0)

	first := f.process(t, monday)
	second := f.process(t, monday)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Revision, second.Revision)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, first.ClassifiedDay, second.ClassifiedDay)
	assert.Equal(t, first.Violations, second.Violations)
	assert.Equal(t, first.Compliance, second.Compliance)
	assert.Equal(t, first.Payroll, second.Payroll)
}

func TestService_ProcessDay_OpenToday_Provisional(t *testing.T) {
	f := newFixture(t)
	today := generic.DateOf(fixedNow, time.UTC)
	f.submit(t, attendance.EventCheckIn, at(today, 8, 0), "")

	rec := f.process(t, today)

	assert.True(t, rec.Provisional)
	assert.Equal(t, generic.Minutes(240), rec.WorkedMinutes)
	assert.Nil(t, rec.CheckOut)
}

func TestService_ProcessDay_MissingCheckOut_IncompleteData(t *testing.T) {
	// GIVEN: A check-in with no check-out on a closed day
	// WHEN: Processing
	// THEN: IncompleteDataError, and an unpriced incomplete record is stored

	f := newFixture(t)
	f.submit(t, attendance.EventCheckIn, at(monday, 8, 0), "")

	rec, err := f.svc.ProcessDay(context.Background(), "emp-1", monday)

	var incomplete *attendance.IncompleteDataError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, monday, incomplete.Date)
	require.NotNil(t, rec)
	assert.Equal(t, attendance.StatusIncomplete, rec.Status)
	assert.Equal(t, attendance.EventCheckOut, rec.Missing)
	assert.Nil(t, rec.Payroll)
	assert.Empty(t, rec.Violations)

	stored, err := f.store.CurrentRecord(context.Background(), "emp-1", monday)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, stored.ID)
	assert.Equal(t, attendance.StatusIncomplete, stored.Status)
}

func TestService_IncompleteDay_MissedCheckOutCorrection(t *testing.T) {
	// GIVEN: Monday with a check-in at 08:00 and no check-out
	// WHEN: The employee files a missed check-out for 16:00, a manager
	//       approves it and it is applied
	// THEN: The same record is classified and priced, and can be locked

	f := newFixture(t)
	ctx := context.Background()
	f.submit(t, attendance.EventCheckIn, at(monday, 8, 0), "")

	rec, err := f.svc.ProcessDay(ctx, "emp-1", monday)
	require.ErrorIs(t, err, generic.ErrIncompleteData)
	require.NotNil(t, rec)

	// The placeholder never reaches payroll
	_, err = f.svc.Lock(ctx, []attendance.RecordID{rec.ID}, "run-1", "payroll")
	var conflict *attendance.LockConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, attendance.ConflictIncomplete, conflict.Conflicts[0].Reason)

	c, err := f.svc.SubmitCorrection(ctx, attendance.CorrectionRequest{
		RecordID:    rec.ID,
		Field:       attendance.FieldCheckOut,
		Proposed:    at(monday, 16, 0),
		Reason:      "forgot to badge out",
		RequestedBy: "emp-1",
	})
	require.NoError(t, err)
	assert.Equal(t, attendance.CorrectionMissedCheckOut, c.Type)
	assert.Nil(t, c.Original)

	_, err = f.svc.ApproveCorrection(ctx, c.ID, "mgr-1", "")
	require.NoError(t, err)
	applied, c, err := f.svc.ApplyCorrection(ctx, c.ID, "mgr-1")
	require.NoError(t, err)

	assert.Equal(t, rec.ID, applied.ID)
	assert.Equal(t, attendance.StatusPresent, applied.Status)
	assert.Empty(t, applied.Missing)
	require.NotNil(t, applied.Payroll)
	assert.Equal(t, "400.00", applied.Payroll.GrossPay.Value.StringFixed(2))
	assert.Equal(t, attendance.CorrectionApplied, c.Status)

	// A later run keeps the corrected check-out
	again := f.process(t, monday)
	assert.Equal(t, attendance.StatusPresent, again.Status)
	assert.Equal(t, at(monday, 16, 0), *again.CheckOut)

	locked, err := f.svc.Lock(ctx, []attendance.RecordID{rec.ID}, "run-1", "payroll")
	require.NoError(t, err)
	assert.Equal(t, 1, locked.NewlyLocked)
}

func TestService_ProcessDay_NoPolicy(t *testing.T) {
	f := newFixture(t)
	f.store.SaveEmployee(attendance.Employee{ID: "emp-2", Name: "Omar", HourlyRate: aed("40")})

	_, err := f.svc.ProcessDay(context.Background(), "emp-2", monday)

	var missing *attendance.PolicyMissingError
	assert.ErrorAs(t, err, &missing)
	assert.ErrorIs(t, err, generic.ErrPolicyMissing)
}

func TestService_ProcessDay_CalendarAndLeave(t *testing.T) {
	f := newFixture(t)
	tuesday, wednesday := monday.AddDays(1), monday.AddDays(2)
	f.store.AddHoliday(generic.Holiday{ID: "h1", Region: "AE", Date: tuesday, Name: "National Day", Type: generic.HolidayNational})
	f.store.AddLeave(attendance.Leave{ID: "leave-1", EmployeeID: "emp-1", Type: "annual", Start: wednesday, End: wednesday})

	holiday := f.process(t, tuesday)
	leave := f.process(t, wednesday)

	assert.Equal(t, attendance.StatusHoliday, holiday.Status)
	assert.Empty(t, holiday.Violations)
	assert.Equal(t, attendance.StatusOnLeave, leave.Status)
	assert.Equal(t, "leave-1", leave.LeaveRequestID)
	assert.Empty(t, leave.Violations)
	assert.True(t, leave.Payroll.Deductions.Total.IsZero())
}

func TestService_ProcessDay_RestBetweenShiftsUsesPreviousDay(t *testing.T) {
	f := newFixture(t)
	tuesday := monday.AddDays(1)
	f.work(t, monday, 14, 0, 23, 0, 0)
	f.work(t, tuesday, 8, 0, 16, 0, 30)

	f.process(t, monday)
	rec := f.process(t, tuesday)

	v := violationOf(t, rec, attendance.CodeInsufficientRest)
	assert.Equal(t, int64(540), v.Details.Actual)
}

// =============================================================================
// EXCEPTIONS - Excuse, approval, notes
// =============================================================================

func TestService_ExcuseLate_RemovesViolationAndDeduction(t *testing.T) {
	// GIVEN: A late day with a lateness deduction
	// WHEN: A manager excuses the lateness
	// THEN: No LATE_ARRIVAL violation, no late deduction, and the excuse
	//       survives reprocessing

	f := newFixture(t)
	f.work(t, monday, 8, 25, 16, 0, 30)
	rec := f.process(t, monday)
	require.False(t, rec.Payroll.Deductions.Late.IsZero())

	rec, err := f.svc.ExcuseLate(context.Background(), rec.ID, "mgr-1", "hospital visit")
	require.NoError(t, err)

	assert.True(t, rec.LateArrival.Excused)
	assert.Equal(t, "mgr-1", rec.LateArrival.ExcusedBy)
	assert.Empty(t, rec.Violations)
	assert.True(t, rec.Payroll.Deductions.Late.IsZero())

	again := f.process(t, monday)
	assert.True(t, again.LateArrival.Excused)
	assert.Empty(t, again.Violations)
}

func TestService_ExcuseLate_NotLate(t *testing.T) {
	f := newFixture(t)
	f.work(t, monday, 8, 0, 16, 0, 30)
	rec := f.process(t, monday)

	_, err := f.svc.ExcuseLate(context.Background(), rec.ID, "mgr-1", "n/a")

	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestService_ApproveEarlyDeparture(t *testing.T) {
	f := newFixture(t)
	f.work(t, monday, 8, 0, 15, 0, 30)
	rec := f.process(t, monday)
	violationOf(t, rec, attendance.CodeEarlyDeparture)

	rec, err := f.svc.ApproveEarlyDeparture(context.Background(), rec.ID, "mgr-1")
	require.NoError(t, err)

	assert.True(t, rec.EarlyDeparture.Approved)
	assert.Empty(t, rec.Violations)
	assert.True(t, rec.Payroll.Deductions.EarlyDeparture.IsZero())
}

func TestService_ApproveOvertime_CappedAtWorked(t *testing.T) {
	f := newFixture(t, func(p *attendance.Policy) { p.RequireOvertimeApproval = true })
	f.work(t, monday, 8, 0, 18, 30, 30)
	rec := f.process(t, monday)
	require.Equal(t, generic.Minutes(120), rec.OvertimeMinutes)
	require.Equal(t, generic.Minutes(0), rec.Payroll.Overtime.Minutes)

	rec, err := f.svc.ApproveOvertime(context.Background(), rec.ID, 500, "mgr-1")
	require.NoError(t, err)

	assert.Equal(t, generic.Minutes(120), rec.OvertimeApproval.ApprovedMinutes)
	assert.Equal(t, generic.Minutes(120), rec.Payroll.Overtime.Minutes)

	_, err = f.svc.ApproveOvertime(context.Background(), rec.ID, -1, "mgr-1")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestService_UpdateNotes_AllowedOnLockedRecord(t *testing.T) {
	f := newFixture(t)
	f.work(t, monday, 8, 0, 16, 0, 30)
	rec := f.process(t, monday)
	_, err := f.svc.Lock(context.Background(), []attendance.RecordID{rec.ID}, "run-1", "payroll")
	require.NoError(t, err)

	note, flagged := "left badge at home", true
	updated, err := f.svc.UpdateNotes(context.Background(), rec.ID, attendance.NotesUpdate{
		EmployeeNotes: &note,
		Flagged:       &flagged,
		FlagReason:    "check with security",
	}, "mgr-1")
	require.NoError(t, err)

	assert.Equal(t, note, updated.Notes.EmployeeNotes)
	assert.True(t, updated.Notes.Flagged)
	assert.Equal(t, "mgr-1", updated.Notes.FlaggedBy)
	assert.True(t, updated.Lock.Locked)
	assert.Equal(t, rec.Payroll, updated.Payroll)
}

// =============================================================================
// TIMESHEET APPROVAL
// =============================================================================

func TestService_Timesheet_ApproveAndReject(t *testing.T) {
	// GIVEN: A processed Monday with a pending timesheet
	// WHEN: A manager rejects it, then approves it
	// THEN: Each decision is kept, and survives reprocessing

	f := newFixture(t)
	ctx := context.Background()
	f.work(t, monday, 8, 0, 16, 0, 30)
	rec := f.process(t, monday)
	assert.Equal(t, attendance.TimesheetPending, rec.Timesheet.Status)
	assert.False(t, rec.Timesheet.Required)

	_, err := f.svc.RejectTimesheet(ctx, rec.ID, "mgr-1", " ")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	rejected, err := f.svc.RejectTimesheet(ctx, rec.ID, "mgr-1", "lunch not recorded")
	require.NoError(t, err)
	assert.Equal(t, attendance.TimesheetRejected, rejected.Timesheet.Status)
	assert.Equal(t, "lunch not recorded", rejected.Timesheet.RejectionReason)

	approved, err := f.svc.ApproveTimesheet(ctx, rec.ID, "mgr-1", "checked with employee")
	require.NoError(t, err)
	assert.Equal(t, attendance.TimesheetApproved, approved.Timesheet.Status)
	assert.Equal(t, "mgr-1", approved.Timesheet.ReviewedBy)
	assert.Empty(t, approved.Timesheet.RejectionReason)
	assert.Equal(t, rec.Payroll, approved.Payroll)

	_, err = f.svc.ApproveTimesheet(ctx, rec.ID, "mgr-1", "")
	var terr *attendance.TransitionError
	assert.ErrorAs(t, err, &terr)

	again := f.process(t, monday)
	assert.Equal(t, attendance.TimesheetApproved, again.Timesheet.Status)

	_, err = f.svc.Lock(ctx, []attendance.RecordID{rec.ID}, "run-1", "payroll")
	require.NoError(t, err)
	_, err = f.svc.RejectTimesheet(ctx, rec.ID, "mgr-1", "too late")
	var locked *attendance.RecordLockedError
	assert.ErrorAs(t, err, &locked)

	// A new revision needs a new sign-off
	next, err := f.svc.Supersede(ctx, rec.ID, "hr-1", "late leave approval")
	require.NoError(t, err)
	assert.Equal(t, attendance.TimesheetPending, next.Timesheet.Status)
}

func TestService_Lock_TimesheetApprovalRequired(t *testing.T) {
	// GIVEN: A policy that requires timesheet approval and three days
	// WHEN: Locking before and after approving them
	// THEN: Unapproved days block the batch; approved ones lock

	f := newFixture(t, func(p *attendance.Policy) { p.RequireTimesheetApproval = true })
	ctx := context.Background()
	ids := processWeek(t, f)

	_, err := f.svc.Lock(ctx, ids, "run-1", "payroll")
	var conflict *attendance.LockConflictError
	require.ErrorAs(t, err, &conflict)
	assert.ElementsMatch(t, ids, conflict.ConflictingIDs())
	for _, c := range conflict.Conflicts {
		assert.Equal(t, attendance.ConflictTimesheetNotApproved, c.Reason)
	}

	for _, id := range ids {
		rec, err := f.svc.ApproveTimesheet(ctx, id, "mgr-1", "")
		require.NoError(t, err)
		assert.True(t, rec.Timesheet.Required)
	}

	result, err := f.svc.Lock(ctx, ids, "run-1", "payroll")
	require.NoError(t, err)
	assert.Equal(t, 3, result.NewlyLocked)
}

func TestService_ApplyCorrection_ResetsTimesheet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.work(t, monday, 8, 40, 16, 0, 30)
	rec := f.process(t, monday)
	_, err := f.svc.ApproveTimesheet(ctx, rec.ID, "mgr-1", "")
	require.NoError(t, err)

	c, err := f.svc.SubmitCorrection(ctx, attendance.CorrectionRequest{
		RecordID: rec.ID, Field: attendance.FieldCheckIn, Proposed: at(monday, 8, 0), Reason: "reader was offline",
	})
	require.NoError(t, err)
	_, err = f.svc.ApproveCorrection(ctx, c.ID, "mgr-1", "")
	require.NoError(t, err)
	applied, _, err := f.svc.ApplyCorrection(ctx, c.ID, "mgr-1")
	require.NoError(t, err)

	assert.Equal(t, attendance.TimesheetPending, applied.Timesheet.Status)
	assert.Empty(t, applied.Timesheet.ReviewedBy)
}

func TestService_Timesheet_IncompleteRecordRefused(t *testing.T) {
	f := newFixture(t)
	f.submit(t, attendance.EventCheckIn, at(monday, 8, 0), "")
	rec, err := f.svc.ProcessDay(context.Background(), "emp-1", monday)
	require.Error(t, err)

	_, err = f.svc.ApproveTimesheet(context.Background(), rec.ID, "mgr-1", "")

	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

// =============================================================================
// VIOLATION REVIEW & ESCALATION
// =============================================================================

func TestService_ConfirmedOffense_EscalatesNextDay(t *testing.T) {
	// GIVEN: A late arrival on Monday that a reviewer confirms
	// WHEN: Tuesday is late too
	// THEN: Tuesday's violation sees one prior offense and escalates;
	//       overturning Monday on appeal drops the count again

	f := newFixture(t)
	ctx := context.Background()
	tuesday := monday.AddDays(1)
	f.work(t, monday, 8, 15, 16, 0, 30)
	f.work(t, tuesday, 8, 15, 16, 0, 30)

	mon := f.process(t, monday)
	late := violationOf(t, mon, attendance.CodeLateArrival)
	mon, err := f.svc.ReviewViolation(ctx, mon.ID, late.ID, attendance.ReviewInput{Action: attendance.ActionConfirm, Actor: "mgr-1"})
	require.NoError(t, err)
	assert.Equal(t, attendance.ViolationConfirmed, violationOf(t, mon, attendance.CodeLateArrival).Status)

	count, err := f.ledger.CountInWindow(ctx, "emp-1", string(attendance.CodeLateArrival), generic.RollingWindow(tuesday, 90))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	tue := violationOf(t, f.process(t, tuesday), attendance.CodeLateArrival)
	assert.Equal(t, 1, tue.OffenseCount)
	assert.Equal(t, attendance.SeverityModerate, tue.Severity)
	assert.Equal(t, attendance.PenaltyPercentage, tue.Penalty.Type())

	_, err = f.svc.ReviewViolation(ctx, mon.ID, late.ID, attendance.ReviewInput{Action: attendance.ActionAppeal, Notes: "train delayed"})
	require.NoError(t, err)
	mon, err = f.svc.ReviewViolation(ctx, mon.ID, late.ID, attendance.ReviewInput{Action: attendance.ActionDecide, Actor: "hr-1", Decision: attendance.AppealOverturned})
	require.NoError(t, err)
	assert.Equal(t, attendance.ViolationOverturned, violationOf(t, mon, attendance.CodeLateArrival).Status)

	tue = violationOf(t, f.process(t, tuesday), attendance.CodeLateArrival)
	assert.Equal(t, 0, tue.OffenseCount)
	assert.Equal(t, attendance.SeverityMinor, tue.Severity)
}

func TestService_DecidedViolation_SurvivesReprocessing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.work(t, monday, 8, 30, 16, 0, 30)
	rec := f.process(t, monday)
	late := violationOf(t, rec, attendance.CodeLateArrival)

	_, err := f.svc.ReviewViolation(ctx, rec.ID, late.ID, attendance.ReviewInput{Action: attendance.ActionDismiss, Actor: "mgr-1", Notes: "system clock drift"})
	require.NoError(t, err)

	again := f.process(t, monday)
	got := violationOf(t, again, attendance.CodeLateArrival)
	assert.Equal(t, attendance.ViolationDismissed, got.Status)
	assert.Equal(t, "system clock drift", got.ReviewNotes)
	assert.Len(t, again.Violations, 1)
}

func TestService_ReviewViolation_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.work(t, monday, 8, 30, 16, 0, 30)
	rec := f.process(t, monday)
	late := violationOf(t, rec, attendance.CodeLateArrival)

	_, err := f.svc.ReviewViolation(ctx, rec.ID, "vio-missing", attendance.ReviewInput{Action: attendance.ActionConfirm})
	assert.True(t, generic.IsNotFound(err))

	_, err = f.svc.ReviewViolation(ctx, rec.ID, late.ID, attendance.ReviewInput{Action: attendance.ActionAppeal})
	var terr *attendance.TransitionError
	assert.ErrorAs(t, err, &terr)

	_, err = f.svc.ReviewViolation(ctx, rec.ID, late.ID, attendance.ReviewInput{Action: "escalate"})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

// flakyLedger fails the next n appends, then delegates.
type flakyLedger struct {
	generic.Ledger
	mu       sync.Mutex
	failures int
}

func (l *flakyLedger) Append(ctx context.Context, e generic.Entry) error {
	l.mu.Lock()
	fail := l.failures > 0
	if fail {
		l.failures--
	}
	l.mu.Unlock()
	if fail {
		return errors.New("ledger unavailable")
	}
	return l.Ledger.Append(ctx, e)
}

// withLedger returns a second service over the fixture's stores that
// writes offenses to ledger.
func (f *fixture) withLedger(ledger generic.Ledger) *attendance.Service {
	return attendance.NewService(attendance.Deps{
		Records:   f.store,
		Events:    f.store,
		Policies:  f.store,
		Employees: f.store,
		Leaves:    f.store,
		Calendar:  f.store,
		Ledger:    ledger,
		Audit:     genstore.NewMemory(),
	}, attendance.Options{Clock: func() time.Time { return fixedNow }})
}

func TestService_ReviewViolation_LedgerFailure_RetryCountsOnce(t *testing.T) {
	// GIVEN: A late arrival and an offense ledger that fails once
	// WHEN: The confirm fails on the ledger append and is repeated twice
	// THEN: The violation stays confirmed and the offense counts exactly once

	f := newFixture(t)
	ctx := context.Background()
	flaky := &flakyLedger{Ledger: f.ledger, failures: 1}
	svc := f.withLedger(flaky)
	f.work(t, monday, 8, 30, 16, 0, 30)
	rec := f.process(t, monday)
	late := violationOf(t, rec, attendance.CodeLateArrival)
	confirm := attendance.ReviewInput{Action: attendance.ActionConfirm, Actor: "mgr-1"}

	_, err := svc.ReviewViolation(ctx, rec.ID, late.ID, confirm)
	require.Error(t, err)
	stored, err := svc.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.ViolationConfirmed, violationOf(t, stored, attendance.CodeLateArrival).Status)

	window := generic.RollingWindow(monday.AddDays(1), 90)
	count, err := f.ledger.CountInWindow(ctx, "emp-1", string(attendance.CodeLateArrival), window)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	for i := 0; i < 2; i++ {
		got, err := svc.ReviewViolation(ctx, rec.ID, late.ID, confirm)
		require.NoError(t, err)
		assert.Equal(t, attendance.ViolationConfirmed, violationOf(t, got, attendance.CodeLateArrival).Status)
	}

	count, err = f.ledger.CountInWindow(ctx, "emp-1", string(attendance.CodeLateArrival), window)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// A different action on the confirmed violation is still a transition error
	_, err = svc.ReviewViolation(ctx, rec.ID, late.ID, attendance.ReviewInput{Action: attendance.ActionDismiss, Actor: "mgr-1"})
	var terr *attendance.TransitionError
	assert.ErrorAs(t, err, &terr)
}

func TestService_ReviewViolation_RepeatedDecisionReversesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.work(t, monday, 8, 30, 16, 0, 30)
	rec := f.process(t, monday)
	late := violationOf(t, rec, attendance.CodeLateArrival)

	for _, in := range []attendance.ReviewInput{
		{Action: attendance.ActionConfirm, Actor: "mgr-1"},
		{Action: attendance.ActionAppeal, Notes: "train delayed"},
		{Action: attendance.ActionDecide, Actor: "hr-1", Decision: attendance.AppealOverturned},
		{Action: attendance.ActionDecide, Actor: "hr-1", Decision: attendance.AppealOverturned},
	} {
		_, err := f.svc.ReviewViolation(ctx, rec.ID, late.ID, in)
		require.NoError(t, err)
	}

	entries, err := f.ledger.Entries(ctx, "emp-1", string(attendance.CodeLateArrival), monday, monday)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// Deciding differently after the fact is refused
	_, err = f.svc.ReviewViolation(ctx, rec.ID, late.ID, attendance.ReviewInput{Action: attendance.ActionDecide, Actor: "hr-1", Decision: attendance.AppealUpheld})
	var terr *attendance.TransitionError
	assert.ErrorAs(t, err, &terr)
}

func TestService_ConfirmedExcessiveOvertime_DeductsTenPercent(t *testing.T) {
	// GIVEN: 07:00-19:30 with lunch (720 worked, 240 overtime) at 50/h
	// WHEN: The excessive-overtime violation is confirmed
	// THEN: 10% of gross (700.00) is deducted

	f := newFixture(t)
	f.work(t, monday, 7, 0, 19, 30, 30)
	rec := f.process(t, monday)
	require.Equal(t, "700.00", rec.Payroll.GrossPay.Value.StringFixed(2))
	require.True(t, rec.Payroll.Deductions.Violations.IsZero())

	ot := violationOf(t, rec, attendance.CodeExcessiveOvertime)
	rec, err := f.svc.ReviewViolation(context.Background(), rec.ID, ot.ID, attendance.ReviewInput{Action: attendance.ActionConfirm, Actor: "mgr-1"})
	require.NoError(t, err)

	assert.Equal(t, "70.00", rec.Payroll.Deductions.Violations.Value.StringFixed(2))
	assert.Equal(t, "70.00", rec.Payroll.Deductions.Total.Value.StringFixed(2))
}

// =============================================================================
// CORRECTIONS
// =============================================================================

func TestService_CorrectionWorkflow(t *testing.T) {
	// GIVEN: A late check-in at 08:40
	// WHEN: A correction to 08:00 is submitted, approved and applied
	// THEN: The record is re-run as present and the correction is applied

	f := newFixture(t)
	ctx := context.Background()
	f.work(t, monday, 8, 40, 16, 0, 30)
	rec := f.process(t, monday)
	require.Equal(t, attendance.StatusLate, rec.Status)

	c, err := f.svc.SubmitCorrection(ctx, attendance.CorrectionRequest{
		RecordID:    rec.ID,
		Field:       attendance.FieldCheckIn,
		Proposed:    at(monday, 8, 0),
		Reason:      "reader was offline",
		RequestedBy: "emp-1",
	})
	require.NoError(t, err)
	assert.Equal(t, attendance.CorrectionPending, c.Status)
	assert.Equal(t, attendance.CorrectionWrongTime, c.Type)
	require.NotNil(t, c.Original)
	assert.Equal(t, at(monday, 8, 40), *c.Original)

	// Approval alone changes nothing
	_, _, err = f.svc.ApplyCorrection(ctx, c.ID, "mgr-1")
	var terr *attendance.TransitionError
	require.ErrorAs(t, err, &terr)

	_, err = f.svc.ApproveCorrection(ctx, c.ID, "mgr-1", "ok")
	require.NoError(t, err)
	unchanged, err := f.svc.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusLate, unchanged.Status)

	applied, c, err := f.svc.ApplyCorrection(ctx, c.ID, "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusPresent, applied.Status)
	assert.Equal(t, rec.ID, applied.ID)
	assert.Equal(t, attendance.CorrectionApplied, c.Status)
	assert.Equal(t, rec.ID, c.AppliedRecordID)

	// Reprocessing keeps the applied correction
	again := f.process(t, monday)
	assert.Equal(t, attendance.StatusPresent, again.Status)
	assert.Equal(t, attendance.MethodManual, again.CheckInMethod)

	pending, err := f.svc.PendingCorrections(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestService_SubmitCorrection_DuplicatePendingSameField(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.work(t, monday, 8, 40, 16, 0, 30)
	rec := f.process(t, monday)

	req := attendance.CorrectionRequest{RecordID: rec.ID, Field: attendance.FieldCheckIn, Proposed: at(monday, 8, 0), Reason: "offline"}
	first, err := f.svc.SubmitCorrection(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.SubmitCorrection(ctx, req)
	var dup *attendance.DuplicateCorrectionError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.ExistingID)

	// A different field is fine
	req.Field, req.Proposed = attendance.FieldCheckOut, at(monday, 16, 30)
	_, err = f.svc.SubmitCorrection(ctx, req)
	assert.NoError(t, err)
}

func TestService_SubmitCorrection_Validation(t *testing.T) {
	f := newFixture(t)
	f.work(t, monday, 8, 0, 16, 0, 30)
	rec := f.process(t, monday)

	_, err := f.svc.SubmitCorrection(context.Background(), attendance.CorrectionRequest{RecordID: rec.ID, Field: "break", Proposed: at(monday, 8, 0)})

	assert.ErrorIs(t, err, generic.ErrInvalidInput)
	assert.Contains(t, err.Error(), "justification is required")
}

func TestService_RejectCorrection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.work(t, monday, 8, 40, 16, 0, 30)
	rec := f.process(t, monday)
	c, err := f.svc.SubmitCorrection(ctx, attendance.CorrectionRequest{RecordID: rec.ID, Field: attendance.FieldCheckIn, Proposed: at(monday, 8, 0), Reason: "offline"})
	require.NoError(t, err)

	c, err = f.svc.RejectCorrection(ctx, c.ID, "mgr-1", "camera shows 08:40")
	require.NoError(t, err)
	assert.Equal(t, attendance.CorrectionRejected, c.Status)

	_, err = f.svc.ApproveCorrection(ctx, c.ID, "mgr-1", "")
	var terr *attendance.TransitionError
	assert.ErrorAs(t, err, &terr)
}

func TestService_ApplyCorrection_LockedRecord(t *testing.T) {
	// GIVEN: An approved correction whose record was locked before apply
	// WHEN: Applying
	// THEN: RecordLockedError; the correction stays approved

	f := newFixture(t)
	ctx := context.Background()
	f.work(t, monday, 8, 40, 16, 0, 30)
	rec := f.process(t, monday)
	c, err := f.svc.SubmitCorrection(ctx, attendance.CorrectionRequest{RecordID: rec.ID, Field: attendance.FieldCheckIn, Proposed: at(monday, 8, 0), Reason: "offline"})
	require.NoError(t, err)
	_, err = f.svc.ApproveCorrection(ctx, c.ID, "mgr-1", "")
	require.NoError(t, err)
	_, err = f.svc.Lock(ctx, []attendance.RecordID{rec.ID}, "run-1", "payroll")
	require.NoError(t, err)

	_, _, err = f.svc.ApplyCorrection(ctx, c.ID, "mgr-1")

	var locked *attendance.RecordLockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, attendance.PayrollRunID("run-1"), locked.PayrollRunID)
	got, err := f.svc.GetCorrection(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.CorrectionApproved, got.Status)
}

// =============================================================================
// PAYROLL LOCK
// =============================================================================

func processWeek(t *testing.T, f *fixture) []attendance.RecordID {
	t.Helper()
	var ids []attendance.RecordID
	for i := 0; i < 3; i++ {
		d := monday.AddDays(i)
		f.work(t, d, 8, 0, 16, 0, 30)
		ids = append(ids, f.process(t, d).ID)
	}
	return ids
}

func TestService_Lock_OneLockedByOtherRun_RejectsBatch(t *testing.T) {
	// GIVEN: Three records, one already locked under run-1
	// WHEN: Locking all three under run-2
	// THEN: The batch is rejected naming that record; nothing changes

	f := newFixture(t)
	ctx := context.Background()
	ids := processWeek(t, f)
	_, err := f.svc.Lock(ctx, ids[:1], "run-1", "payroll")
	require.NoError(t, err)

	_, err = f.svc.Lock(ctx, ids, "run-2", "payroll")

	var conflict *attendance.LockConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []attendance.RecordID{ids[0]}, conflict.ConflictingIDs())
	assert.Equal(t, attendance.ConflictLockedByOtherRun, conflict.Conflicts[0].Reason)
	assert.Equal(t, attendance.PayrollRunID("run-1"), conflict.Conflicts[0].PayrollRunID)
	assert.ErrorIs(t, err, generic.ErrLockConflict)

	for _, id := range ids[1:] {
		rec, err := f.svc.GetRecord(ctx, id)
		require.NoError(t, err)
		assert.False(t, rec.Lock.Locked)
	}
	first, err := f.svc.GetRecord(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, attendance.PayrollRunID("run-1"), first.Lock.PayrollRunID)
}

func TestService_Lock_SameRunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := processWeek(t, f)

	first, err := f.svc.Lock(ctx, ids, "run-1", "payroll")
	require.NoError(t, err)
	assert.Equal(t, 3, first.NewlyLocked)

	second, err := f.svc.Lock(ctx, append(ids, ids[0]), "run-1", "payroll")
	require.NoError(t, err)
	assert.Equal(t, 0, second.NewlyLocked)
	assert.Equal(t, 3, second.AlreadyLocked)
	require.Len(t, second.Records, len(first.Records))
	for i := range first.Records {
		assert.Equal(t, first.Records[i].RecordID, second.Records[i].RecordID)
		assert.True(t, first.Records[i].LockedAt.Equal(second.Records[i].LockedAt))
		assert.True(t, first.Records[i].Newly)
		assert.False(t, second.Records[i].Newly)
	}
}

func TestService_Lock_Conflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := processWeek(t, f)

	_, err := f.svc.SubmitCorrection(ctx, attendance.CorrectionRequest{RecordID: ids[1], Field: attendance.FieldCheckOut, Proposed: at(monday.AddDays(1), 17, 0), Reason: "stayed late"})
	require.NoError(t, err)

	today := generic.DateOf(fixedNow, time.UTC)
	f.submit(t, attendance.EventCheckIn, at(today, 8, 0), "")
	provisional := f.process(t, today)

	_, err = f.svc.Lock(ctx, []attendance.RecordID{ids[0], ids[1], provisional.ID, "missing"}, "run-1", "payroll")

	var conflict *attendance.LockConflictError
	require.ErrorAs(t, err, &conflict)
	reasons := map[attendance.RecordID]attendance.LockConflictReason{}
	for _, c := range conflict.Conflicts {
		reasons[c.RecordID] = c.Reason
	}
	assert.Equal(t, map[attendance.RecordID]attendance.LockConflictReason{
		ids[1]:         attendance.ConflictPendingCorrection,
		provisional.ID: attendance.ConflictProvisional,
		"missing":      attendance.ConflictRecordNotFound,
	}, reasons)

	rec, err := f.svc.GetRecord(ctx, ids[0])
	require.NoError(t, err)
	assert.False(t, rec.Lock.Locked)
}

func TestService_Lock_ConcurrentRunsOverlappingRecords(t *testing.T) {
	// GIVEN: Four days; run-A wants {0, 2, 3}, run-B wants {1, 2, 3}
	// WHEN: Both lock concurrently while day 2 is reprocessed and the late
	//       arrival on day 3 is confirmed
	// THEN: One run owns every shared record and its own, the other run
	//       locked nothing, and the review either landed or was refused

	for i := 0; i < 20; i++ {
		f := newFixture(t)
		ctx := context.Background()
		var ids []attendance.RecordID
		for d := 0; d < 4; d++ {
			day := monday.AddDays(d)
			if d == 3 {
				f.work(t, day, 8, 30, 16, 0, 30)
			} else {
				f.work(t, day, 8, 0, 16, 0, 30)
			}
			ids = append(ids, f.process(t, day).ID)
		}
		late := violationOf(t, f.process(t, monday.AddDays(3)), attendance.CodeLateArrival)

		runs := map[attendance.PayrollRunID][]attendance.RecordID{
			"run-A": {ids[0], ids[2], ids[3]},
			"run-B": {ids[1], ids[2], ids[3]},
		}
		var (
			wg        sync.WaitGroup
			start     = make(chan struct{})
			mu        sync.Mutex
			lockErrs  = map[attendance.PayrollRunID]error{}
			processed error
			reviewed  error
		)
		for run, set := range runs {
			wg.Add(1)
			go func(run attendance.PayrollRunID, set []attendance.RecordID) {
				defer wg.Done()
				<-start
				_, err := f.svc.Lock(ctx, set, run, "payroll")
				mu.Lock()
				lockErrs[run] = err
				mu.Unlock()
			}(run, set)
		}
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, processed = f.svc.ProcessDay(ctx, "emp-1", monday.AddDays(2))
		}()
		go func() {
			defer wg.Done()
			<-start
			_, reviewed = f.svc.ReviewViolation(ctx, ids[3], late.ID, attendance.ReviewInput{Action: attendance.ActionConfirm, Actor: "mgr-1"})
		}()
		close(start)
		wg.Wait()

		var winner, loser attendance.PayrollRunID
		switch {
		case lockErrs["run-A"] == nil && lockErrs["run-B"] != nil:
			winner, loser = "run-A", "run-B"
		case lockErrs["run-B"] == nil && lockErrs["run-A"] != nil:
			winner, loser = "run-B", "run-A"
		default:
			t.Fatalf("iteration %d: want exactly one run to lock, got A=%v B=%v", i, lockErrs["run-A"], lockErrs["run-B"])
		}
		var conflict *attendance.LockConflictError
		require.ErrorAs(t, lockErrs[loser], &conflict)
		for _, c := range conflict.Conflicts {
			assert.Equal(t, attendance.ConflictLockedByOtherRun, c.Reason)
			assert.Equal(t, winner, c.PayrollRunID)
		}

		for _, id := range runs[winner] {
			rec, err := f.svc.GetRecord(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, winner, rec.Lock.PayrollRunID, "iteration %d record %s", i, id)
		}
		for _, id := range runs[loser] {
			if id == ids[2] || id == ids[3] {
				continue
			}
			rec, err := f.svc.GetRecord(ctx, id)
			require.NoError(t, err)
			assert.False(t, rec.Lock.Locked, "iteration %d: %s locked by the losing run", i, id)
		}

		if processed != nil {
			var already *attendance.AlreadyLockedError
			assert.ErrorAs(t, processed, &already)
		}
		day3, err := f.svc.GetRecord(ctx, ids[3])
		require.NoError(t, err)
		count, err := f.ledger.CountInWindow(ctx, "emp-1", string(attendance.CodeLateArrival), generic.RollingWindow(monday.AddDays(4), 90))
		require.NoError(t, err)
		if reviewed == nil {
			assert.Equal(t, attendance.ViolationConfirmed, violationOf(t, day3, attendance.CodeLateArrival).Status)
			assert.Equal(t, 1, count)
		} else {
			var locked *attendance.RecordLockedError
			assert.ErrorAs(t, reviewed, &locked)
			assert.Equal(t, attendance.ViolationDetected, violationOf(t, day3, attendance.CodeLateArrival).Status)
			assert.Equal(t, 0, count)
		}
	}
}

func TestService_Lock_InvalidInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Lock(context.Background(), nil, "run-1", "payroll")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, err = f.svc.Lock(context.Background(), []attendance.RecordID{"r1"}, "", "payroll")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestService_LockedRecord_Frozen(t *testing.T) {
	// GIVEN: A locked record
	// WHEN: Reprocessing, excusing or correcting it
	// THEN: Every path refuses and the record is unchanged

	f := newFixture(t)
	ctx := context.Background()
	f.work(t, monday, 8, 30, 16, 0, 30)
	rec := f.process(t, monday)
	_, err := f.svc.Lock(ctx, []attendance.RecordID{rec.ID}, "run-1", "payroll")
	require.NoError(t, err)
	before, err := f.svc.GetRecord(ctx, rec.ID)
	require.NoError(t, err)

	_, err = f.svc.ProcessDay(ctx, "emp-1", monday)
	var already *attendance.AlreadyLockedError
	assert.ErrorAs(t, err, &already)

	_, err = f.svc.ExcuseLate(ctx, rec.ID, "mgr-1", "late train")
	var locked *attendance.RecordLockedError
	assert.ErrorAs(t, err, &locked)

	_, err = f.svc.SubmitCorrection(ctx, attendance.CorrectionRequest{RecordID: rec.ID, Field: attendance.FieldCheckIn, Proposed: at(monday, 8, 0), Reason: "offline"})
	assert.ErrorAs(t, err, &locked)

	late := violationOf(t, before, attendance.CodeLateArrival)
	_, err = f.svc.ReviewViolation(ctx, rec.ID, late.ID, attendance.ReviewInput{Action: attendance.ActionConfirm})
	assert.ErrorAs(t, err, &locked)

	after, err := f.svc.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

// =============================================================================
// SUPERSESSION
// =============================================================================

func TestService_Supersede(t *testing.T) {
	// GIVEN: A locked record
	// WHEN: Superseding it
	// THEN: Revision 2 points at the locked record, which stays locked

	f := newFixture(t)
	ctx := context.Background()
	f.work(t, monday, 8, 0, 16, 0, 30)
	rec := f.process(t, monday)
	_, err := f.svc.Lock(ctx, []attendance.RecordID{rec.ID}, "run-1", "payroll")
	require.NoError(t, err)

	next, err := f.svc.Supersede(ctx, rec.ID, "hr-1", "late leave approval")
	require.NoError(t, err)

	assert.Equal(t, 2, next.Revision)
	assert.Equal(t, rec.ID, next.SupersedesID)
	assert.Equal(t, attendance.NewRecordID("emp-1", monday, 2), next.ID)
	assert.False(t, next.Lock.Locked)
	assert.True(t, strings.HasPrefix(next.Notes.SystemNotes, "supersedes "+string(rec.ID)))

	old, err := f.svc.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, old.Lock.Locked)

	current, err := f.store.CurrentRecord(ctx, "emp-1", monday)
	require.NoError(t, err)
	assert.Equal(t, next.ID, current.ID)

	var terr *attendance.TransitionError
	_, err = f.svc.Supersede(ctx, rec.ID, "hr-1", "")
	assert.ErrorAs(t, err, &terr, "only the current revision can be superseded")
	_, err = f.svc.Supersede(ctx, next.ID, "hr-1", "")
	assert.ErrorAs(t, err, &terr, "unlocked records cannot be superseded")

	// Processing the day now targets the new revision
	again := f.process(t, monday)
	assert.Equal(t, next.ID, again.ID)
}

// =============================================================================
// BATCH
// =============================================================================

func TestService_ProcessBatch(t *testing.T) {
	// GIVEN: Three closed days, one of them locked, and a repeated unit
	// WHEN: Processing the batch
	// THEN: Units run once each; the locked day fails, the rest succeed

	f := newFixture(t)
	ctx := context.Background()
	ids := processWeek(t, f)
	_, err := f.svc.Lock(ctx, ids[2:], "run-1", "payroll")
	require.NoError(t, err)

	units := []attendance.Unit{
		{EmployeeID: "emp-1", Date: monday},
		{EmployeeID: "emp-1", Date: monday.AddDays(1)},
		{EmployeeID: "emp-1", Date: monday},
		{EmployeeID: "emp-1", Date: monday.AddDays(2)},
	}
	result := f.svc.ProcessBatch(ctx, units)

	assert.Len(t, result.Results, 3)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	var locked *attendance.AlreadyLockedError
	assert.ErrorAs(t, result.Results[units[3]].Err, &locked)
	assert.NotNil(t, result.Results[units[0]].Record)
}

func TestService_ProcessBatch_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := f.svc.ProcessBatch(ctx, []attendance.Unit{
		{EmployeeID: "emp-1", Date: monday},
		{EmployeeID: "emp-1", Date: monday.AddDays(1)},
	})

	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 0, result.Succeeded)
	for _, r := range result.Results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

// =============================================================================
// SUMMARIES
// =============================================================================

func TestService_Summaries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.work(t, monday, 8, 0, 16, 0, 30)
	f.work(t, monday.AddDays(1), 8, 30, 16, 0, 30)
	for i := 0; i < 3; i++ {
		f.process(t, monday.AddDays(i))
	}

	daily, err := f.svc.DailySummary(ctx, monday.AddDays(1))
	require.NoError(t, err)
	assert.Equal(t, 1, daily.TotalEmployees)
	assert.Equal(t, 1, daily.Late)
	assert.Equal(t, 1, daily.Present)

	period := generic.Period{Start: monday, End: monday.AddDays(2)}
	emp, err := f.svc.EmployeeSummary(ctx, "emp-1", period)
	require.NoError(t, err)
	assert.Equal(t, 3, emp.WorkDays)
	assert.Equal(t, 2, emp.PresentDays)
	assert.Equal(t, 1, emp.AbsentDays)
	assert.Equal(t, 1, emp.LateDays)
	assert.Equal(t, "66.67", emp.AttendanceRate.StringFixed(2))
	assert.Equal(t, "50.00", emp.PunctualityRate.StringFixed(2))

	report, err := f.svc.ComplianceReport(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Records)
	assert.Equal(t, 1, report.ViolationsByCode[attendance.CodeLateArrival])
	assert.Equal(t, 1, report.ViolationsByCode[attendance.CodeUnauthorizedAbsence])

	_, err = f.svc.EmployeeSummary(ctx, "emp-1", generic.Period{Start: monday, End: monday.AddDays(-1)})
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
}
