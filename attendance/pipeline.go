/*
pipeline.go - Per-unit pipeline and concurrent batch processing

PURPOSE:
  A unit is one (employee, work date). For each unit the service fetches
  every external input once, under FetchTimeout, then runs the strict
  pipeline:

    EventIntake → DayClassifier → ViolationEngine → PayrollAggregator

  The pipeline body does no I/O. Units are independent and a batch runs
  them concurrently with no ordering guarantee between units.

RE-RUNS:
  Re-running a unit rebuilds the record from its inputs. Reviewer state
  survives the rebuild: excused lateness, approved early departures,
  overtime approvals, notes, and every violation a reviewer has decided.
  With unchanged inputs the rebuilt record is identical to the stored one.

FAILURES:
  A failing unit never aborts the batch; the batch result maps every
  unit to its record or its error. Cancelling the context only stops new
  units from being submitted; units already running finish.

SEE ALSO:
  - service.go: Commands that re-run units
  - locks.go: Per-day serialization
*/
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/warp/attendance-engine/generic"
	"golang.org/x/sync/errgroup"
)

// historyLookbackDays bounds the record scan for rest and consecutive-day
// checks.
const historyLookbackDays = 31

type Unit struct {
	EmployeeID EmployeeID   `json:"employee_id"`
	Date       generic.Date `json:"date"`
}

func (u Unit) String() string { return fmt.Sprintf("%s@%s", u.EmployeeID, u.Date) }

type UnitResult struct {
	Unit   Unit
	Record *Record
	Err    error
}

// BatchResult maps every submitted unit to its outcome. Units never
// submitted because the context was cancelled carry the context error.
type BatchResult struct {
	Results   map[Unit]UnitResult
	Succeeded int
	Failed    int
	Skipped   int
}

// unitInputs is everything the pure pipeline needs for one unit.
type unitInputs struct {
	employee  Employee
	policy    Policy
	day       DayContext
	events    []Event
	overrides []Override
	history   History
	prev      *Record
}

type runOpts struct {
	prev      *Record   // Use instead of the stored current revision
	extra     *Override // Approved correction being applied
	supersede bool      // Build a new revision on top of a locked one
}

// =============================================================================
// BATCH
// =============================================================================

// ProcessBatch runs every unit through the pipeline with at most Workers
// units in flight.
func (s *Service) ProcessBatch(ctx context.Context, units []Unit) BatchResult {
	result := BatchResult{Results: make(map[Unit]UnitResult, len(units))}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(s.workers)

	seen := make(map[Unit]bool, len(units))
	for _, u := range units {
		if seen[u] {
			continue
		}
		seen[u] = true

		if ctx.Err() != nil {
			result.Results[u] = UnitResult{Unit: u, Err: ctx.Err()}
			result.Skipped++
			continue
		}

		u := u // per-iteration copy; go.mod targets go 1.21 (pre-loopvar semantics)
		g.Go(func() error {
			// In-flight units run to completion even if ctx is cancelled.
			rec, err := s.ProcessDay(context.WithoutCancel(ctx), u.EmployeeID, u.Date)
			mu.Lock()
			defer mu.Unlock()
			result.Results[u] = UnitResult{Unit: u, Record: rec, Err: err}
			if err != nil {
				if !isUnitError(err) {
					log.Printf("[Pipeline] %s: %v", u, err)
				}
				result.Failed++
			} else {
				result.Succeeded++
			}
			return nil
		})
	}
	_ = g.Wait()

	if result.Failed > 0 || result.Skipped > 0 {
		log.Printf("[Pipeline] batch of %d units: %d ok, %d failed, %d skipped",
			len(seen), result.Succeeded, result.Failed, result.Skipped)
	}
	return result
}

// ProcessDay classifies, evaluates and prices one unit and stores the
// result as the current revision. A closed day with a check-in and no
// check-out is stored as an incomplete placeholder and returned along
// with the IncompleteDataError, so a missed_checkout correction has a
// record to attach to.
func (s *Service) ProcessDay(ctx context.Context, employeeID EmployeeID, date generic.Date) (*Record, error) {
	unlock := s.locks.Lock(dayKey(employeeID, date))
	defer unlock()

	rec, err := s.recompute(ctx, employeeID, date, runOpts{})
	var incomplete *IncompleteDataError
	if err != nil && (!errors.As(err, &incomplete) || rec.ID == "") {
		return nil, err
	}
	if err := s.store.SaveRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("save record %s: %w", rec.ID, err)
	}
	s.audit(ctx, generic.AuditRecordProcessed, "system", employeeID, string(rec.ID), map[string]any{
		"status":   rec.Status,
		"revision": rec.Revision,
	})
	if incomplete != nil {
		return &rec, incomplete
	}
	return &rec, nil
}

// recompute fetches inputs and runs the pipeline without saving. The
// caller must hold the day lock.
func (s *Service) recompute(ctx context.Context, employeeID EmployeeID, date generic.Date, opts runOpts) (Record, error) {
	in, err := s.fetchInputs(ctx, employeeID, date, opts)
	if err != nil {
		return Record{}, err
	}
	if in.prev != nil && in.prev.Lock.Locked && !opts.supersede {
		err := &AlreadyLockedError{RecordID: in.prev.ID, PayrollRunID: in.prev.Lock.PayrollRunID}
		log.Printf("[Pipeline] INVARIANT VIOLATION: %v", err)
		return Record{}, err
	}
	return build(in, s.intake, opts.supersede, s.now())
}

// fetchInputs performs every external read for the unit, bounded by
// FetchTimeout.
func (s *Service) fetchInputs(ctx context.Context, employeeID EmployeeID, date generic.Date, opts runOpts) (*unitInputs, error) {
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	emp, err := s.employees.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("fetch employee %s: %w", employeeID, err)
	}
	policy, err := ResolvePolicy(ctx, s.policies, employeeID, date)
	if err != nil {
		return nil, err
	}

	in := &unitInputs{employee: *emp, policy: *policy}

	holiday, err := s.calendar.HolidayOn(ctx, emp.Region, date)
	if err != nil {
		return nil, fmt.Errorf("fetch holidays: %w", err)
	}
	ramadan, err := s.calendar.RamadanOn(ctx, emp.Region, date)
	if err != nil {
		return nil, fmt.Errorf("fetch ramadan calendar: %w", err)
	}
	leave, err := s.leaves.ApprovedLeave(ctx, employeeID, date)
	if err != nil {
		return nil, fmt.Errorf("fetch leave: %w", err)
	}

	now := s.now()
	today := generic.DateOf(now, policy.Location())
	in.day = DayContext{
		Date:    date,
		Holiday: holiday,
		Ramadan: ramadan,
		Leave:   leave,
		Open:    !date.Before(today),
		Now:     now,
	}

	start, end := DayWindow(*policy, date)
	if in.events, err = s.events.EventsBetween(ctx, employeeID, start, end); err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}

	corrections, err := s.store.CorrectionsFor(ctx, employeeID, date)
	if err != nil {
		return nil, fmt.Errorf("fetch corrections: %w", err)
	}
	in.overrides = OverridesFrom(corrections)
	if opts.extra != nil {
		in.overrides = append(in.overrides, *opts.extra)
	}

	if opts.prev != nil {
		in.prev = opts.prev
	} else {
		prev, err := s.store.CurrentRecord(ctx, employeeID, date)
		switch {
		case err == nil:
			in.prev = prev
		case !generic.IsNotFound(err):
			return nil, fmt.Errorf("fetch current record: %w", err)
		}
	}

	if in.history, err = s.fetchHistory(ctx, employeeID, date, *policy); err != nil {
		return nil, err
	}
	return in, nil
}

func (s *Service) fetchHistory(ctx context.Context, employeeID EmployeeID, date generic.Date, p Policy) (History, error) {
	window := p.OffenseWindowDays
	if window <= 0 {
		window = DefaultOffenseWindowDays
	}
	raw, err := s.ledger.CountsInWindow(ctx, employeeID, generic.RollingWindow(date, window))
	if err != nil {
		return History{}, fmt.Errorf("fetch offense counts: %w", err)
	}
	h := History{OffenseCounts: make(map[ViolationCode]int, len(raw))}
	for code, n := range raw {
		h.OffenseCounts[ViolationCode(code)] = n
	}

	lookback := generic.RollingWindow(date, historyLookbackDays)
	recent, err := s.store.QueryRecords(ctx, RecordFilter{EmployeeID: employeeID, Period: &lookback})
	if err != nil {
		return History{}, fmt.Errorf("fetch recent records: %w", err)
	}
	byDate := make(map[generic.Date]Record, len(recent))
	for _, r := range recent {
		byDate[r.Date()] = r
		if r.CheckOut != nil && (h.PreviousCheckOut == nil || r.CheckOut.After(*h.PreviousCheckOut)) {
			at := *r.CheckOut
			h.PreviousCheckOut = &at
		}
	}
	for d := date.AddDays(-1); ; d = d.AddDays(-1) {
		r, ok := byDate[d]
		if !ok || r.WorkedMinutes == 0 {
			break
		}
		h.ConsecutiveDaysWorked++
	}
	return h, nil
}

// =============================================================================
// PURE PIPELINE
// =============================================================================

// build runs intake, classification, evaluation and pricing for one unit.
// A closed day with an unclosed session yields the unpriced incomplete
// placeholder together with the IncompleteDataError.
func build(in *unitInputs, intake *Intake, supersede bool, now time.Time) (Record, error) {
	emp, date := in.employee.ID, in.day.Date

	stream := intake.Stream(emp, date, in.policy, in.events)
	stream = ApplyOverrides(stream, in.overrides)

	day, err := Classify(stream, in.policy, in.day)
	var incomplete *IncompleteDataError
	switch {
	case errors.As(err, &incomplete):
		day = IncompleteDay(stream, in.policy, in.day, incomplete.Missing)
	case err != nil:
		return Record{}, err
	}

	rec := Record{
		Revision:      1,
		ClassifiedDay: day,
		Timesheet:     pendingTimesheet(in.policy.RequireTimesheetApproval),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.prev != nil {
		carryForward(in.prev, &rec)
		if supersede {
			rec.Revision = in.prev.Revision + 1
			rec.SupersedesID = in.prev.ID
			rec.Timesheet = pendingTimesheet(in.policy.RequireTimesheetApproval)
		} else {
			rec.Revision = in.prev.Revision
			rec.SupersedesID = in.prev.SupersedesID
			rec.CreatedAt = in.prev.CreatedAt
		}
	}
	rec.ID = NewRecordID(emp, date, rec.Revision)

	if incomplete != nil {
		var prev []Violation
		if in.prev != nil {
			prev = in.prev.Violations
		}
		rec.Violations = mergeViolations(prev, nil)
		return rec, incomplete
	}

	fresh, summary := Evaluate(rec.ClassifiedDay, in.policy, in.history)
	for i := range fresh {
		fresh[i].ID = violationID(rec.ID, fresh[i].Code)
	}
	if in.prev != nil {
		fresh = mergeViolations(in.prev.Violations, fresh)
	}
	rec.Violations = fresh
	summary = RegradeCompliance(summary, rec.Violations)
	rec.Compliance = &summary

	line, err := Aggregate(rec, in.policy, in.employee.Rates())
	if err != nil {
		return Record{}, err
	}
	rec.Payroll = &line
	return rec, nil
}

// carryForward copies reviewer decisions from the previous revision. The
// timesheet decision carries over, the requirement follows the policy.
func carryForward(prev *Record, next *Record) {
	next.Notes = prev.Notes
	next.OvertimeApproval = prev.OvertimeApproval
	if prev.Timesheet.Status != "" {
		required := next.Timesheet.Required
		next.Timesheet = prev.Timesheet
		next.Timesheet.Required = required
	}

	if p, n := prev.LateArrival, next.LateArrival; p != nil && n != nil && p.Excused {
		n.Excused, n.ExcusedBy, n.ExcusedAt, n.ExcuseReason = true, p.ExcusedBy, p.ExcusedAt, p.ExcuseReason
		n.DeductionApplicable = false
	}
	if p, n := prev.EarlyDeparture, next.EarlyDeparture; p != nil && n != nil && p.Approved {
		n.Approved, n.ApprovedBy, n.ApprovedAt = true, p.ApprovedBy, p.ApprovedAt
		n.DeductionApplicable = false
	}
}

// mergeViolations keeps every decided violation as it is and drops fresh
// findings for codes a reviewer already ruled on. A fresh finding for a
// code under review keeps its review state.
func mergeViolations(prev, fresh []Violation) []Violation {
	decided := make(map[ViolationCode]bool)
	reviewing := make(map[ViolationCode]Violation)
	out := make([]Violation, 0, len(prev)+len(fresh))

	for _, v := range prev {
		switch {
		case v.Decided():
			decided[v.Code] = true
			out = append(out, v)
		case v.Status == ViolationPendingReview:
			reviewing[v.Code] = v
		}
	}
	for _, v := range fresh {
		if decided[v.Code] {
			continue
		}
		if r, ok := reviewing[v.Code]; ok {
			v.ID = r.ID
			v.Status = r.Status
			v.ReviewedBy, v.ReviewedAt, v.ReviewNotes = r.ReviewedBy, r.ReviewedAt, r.ReviewNotes
		}
		out = append(out, v)
	}
	SortViolations(out)
	return out
}

// isUnitError reports whether err is a per-unit data problem rather than
// an infrastructure failure.
func isUnitError(err error) bool {
	var locked *AlreadyLockedError
	return generic.IsUnprocessable(err) || errors.As(err, &locked)
}
