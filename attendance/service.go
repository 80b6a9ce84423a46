/*
service.go - Attendance service: the engine's command and query surface

PURPOSE:
  Service owns the attendance records and wires the pure components
  (intake, classifier, rules, payroll) to the stores. Every command that
  changes a day holds that day's lock, so pipeline re-runs, reviewer
  actions and payroll locking never interleave on the same record.

COMMANDS:
  SubmitEvent             Store a raw event (duplicates are discarded)
  ProcessDay/Batch        Run the pipeline (pipeline.go)
  UpdateNotes             Notes and flags, allowed on locked records
  ExcuseLate              Waive the lateness deduction and violation
  ApproveEarlyDeparture   Waive the early-departure deduction and violation
  ApproveOvertime         Approve overtime minutes for payment
  Approve/RejectTimesheet Manager sign-off before payroll
  ReviewViolation         review / confirm / dismiss / appeal / decide
  SubmitCorrection        Propose a new check-in or check-out time
  Approve/Reject/ApplyCorrection
  Lock                    All-or-nothing payroll lock of a batch
  Supersede               New revision on top of a locked record

LOCKED RECORDS:
  Once locked, nothing outside Notes changes. Commands other than
  UpdateNotes fail with RecordLockedError; a correction needs Supersede
  first, which creates revision n+1 and leaves the locked record as is.

SEE ALSO:
  - pipeline.go: Per-unit pipeline and batches
  - summary.go: Read-side rollups
*/
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/attendance-engine/generic"
)

const (
	DefaultWorkers      = 8
	DefaultFetchTimeout = 5 * time.Second
)

// Deps are the stores and collaborators the service reads and writes.
type Deps struct {
	Records   TxStore
	Events    EventStore
	Policies  PolicyStore
	Employees EmployeeDirectory
	Leaves    LeaveProvider
	Calendar  Calendar
	Ledger    generic.Ledger
	Audit     generic.AuditLog
}

type Options struct {
	Workers            int
	FetchTimeout       time.Duration
	DuplicateTolerance time.Duration
	Clock              func() time.Time
}

type Service struct {
	store     TxStore
	events    EventStore
	policies  PolicyStore
	employees EmployeeDirectory
	leaves    LeaveProvider
	calendar  Calendar
	ledger    generic.Ledger
	auditLog  generic.AuditLog

	intake       *Intake
	clock        func() time.Time
	workers      int
	fetchTimeout time.Duration
	locks        *keyedMutex
}

func NewService(deps Deps, opts Options) *Service {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{
		store:        deps.Records,
		events:       deps.Events,
		policies:     deps.Policies,
		employees:    deps.Employees,
		leaves:       deps.Leaves,
		calendar:     deps.Calendar,
		ledger:       deps.Ledger,
		auditLog:     deps.Audit,
		intake:       NewIntake(opts.DuplicateTolerance),
		clock:        opts.Clock,
		workers:      opts.Workers,
		fetchTimeout: opts.FetchTimeout,
		locks:        newKeyedMutex(),
	}
}

func (s *Service) now() time.Time { return s.clock().UTC() }

func (s *Service) audit(ctx context.Context, action generic.AuditAction, actor string, employeeID EmployeeID, target string, payload map[string]any) {
	if s.auditLog == nil {
		return
	}
	err := s.auditLog.AppendAudit(ctx, generic.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: s.now(),
		ActorID:   actor,
		Action:    action,
		EntityID:  employeeID,
		TargetID:  target,
		Payload:   payload,
	})
	if err != nil {
		log.Printf("[Audit] failed to record %s on %s: %v", action, target, err)
	}
}

// =============================================================================
// EVENTS
// =============================================================================

// SubmitEvent stores a raw event. A duplicate of an already stored event
// is discarded and the stored one is returned with accepted=false.
func (s *Service) SubmitEvent(ctx context.Context, e Event) (stored Event, accepted bool, err error) {
	if err := validateEvent(e); err != nil {
		return Event{}, false, err
	}
	if _, err := s.employees.GetEmployee(ctx, e.EmployeeID); err != nil {
		return Event{}, false, err
	}
	if e.Method == "" {
		e.Method = MethodManual
	}

	unlock := s.locks.Lock(eventKey(e.EmployeeID))
	defer unlock()

	tol := s.intake.Tolerance
	nearby, err := s.events.EventsBetween(ctx, e.EmployeeID, e.At.Add(-tol), e.At.Add(tol+time.Nanosecond))
	if err != nil {
		return Event{}, false, fmt.Errorf("load nearby events: %w", err)
	}
	if ok, dup := s.intake.Accept(nearby, e); !ok {
		return *dup, false, nil
	}

	if e.ID == "" {
		e.ID = EventID(uuid.NewString())
	}
	e.ReceivedAt = s.now()
	stored, err = s.events.AppendEvent(ctx, e)
	if err != nil {
		return Event{}, false, fmt.Errorf("append event: %w", err)
	}
	return stored, true, nil
}

func validateEvent(e Event) error {
	var problems []string
	if e.EmployeeID == "" {
		problems = append(problems, "employee_id is required")
	}
	if !e.Kind.Valid() {
		problems = append(problems, fmt.Sprintf("unknown event kind %q", e.Kind))
	}
	if e.At.IsZero() {
		problems = append(problems, "timestamp is required")
	}
	if e.Method != "" && !e.Method.Valid() {
		problems = append(problems, fmt.Sprintf("unknown check method %q", e.Method))
	}
	if e.Confidence != nil && (*e.Confidence < 0 || *e.Confidence > 1) {
		problems = append(problems, "confidence must be in [0,1]")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", generic.ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) GetRecord(ctx context.Context, id RecordID) (*Record, error) {
	return s.store.GetRecord(ctx, id)
}

func (s *Service) ListRecords(ctx context.Context, f RecordFilter) ([]Record, error) {
	if f.Period != nil {
		if err := f.Period.Validate(); err != nil {
			return nil, err
		}
	}
	return s.store.QueryRecords(ctx, f)
}

func (s *Service) GetCorrection(ctx context.Context, id CorrectionID) (*CorrectionRequest, error) {
	return s.store.GetCorrection(ctx, id)
}

func (s *Service) PendingCorrections(ctx context.Context) ([]CorrectionRequest, error) {
	return s.store.PendingCorrections(ctx, "")
}

// =============================================================================
// RECORD AMENDMENTS
// =============================================================================

// withDay loads the record, takes its day lock and re-reads it under the
// lock before calling fn.
func (s *Service) withDay(ctx context.Context, id RecordID, fn func(rec *Record) error) error {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(dayKey(rec.EmployeeID, rec.Date()))
	defer unlock()

	rec, err = s.store.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	return fn(rec)
}

// amend applies mutate to an unlocked record, re-runs its pipeline and
// saves the result.
func (s *Service) amend(ctx context.Context, id RecordID, mutate func(rec *Record) error) (*Record, error) {
	var out Record
	err := s.withDay(ctx, id, func(rec *Record) error {
		if rec.Lock.Locked {
			return &RecordLockedError{RecordID: rec.ID, PayrollRunID: rec.Lock.PayrollRunID}
		}
		if err := mutate(rec); err != nil {
			return err
		}
		next, err := s.recompute(ctx, rec.EmployeeID, rec.Date(), runOpts{prev: rec})
		if err != nil {
			return err
		}
		if err := s.store.SaveRecord(ctx, next); err != nil {
			return fmt.Errorf("save record %s: %w", next.ID, err)
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// NotesUpdate changes only the fields that are set.
type NotesUpdate struct {
	EmployeeNotes *string
	ManagerNotes  *string
	Flagged       *bool
	FlagReason    string
}

// UpdateNotes edits notes and flags. Allowed on locked records.
func (s *Service) UpdateNotes(ctx context.Context, id RecordID, u NotesUpdate, actor string) (*Record, error) {
	var out Record
	err := s.withDay(ctx, id, func(rec *Record) error {
		if u.EmployeeNotes != nil {
			rec.Notes.EmployeeNotes = *u.EmployeeNotes
		}
		if u.ManagerNotes != nil {
			rec.Notes.ManagerNotes = *u.ManagerNotes
		}
		if u.Flagged != nil {
			now := s.now()
			rec.Notes.Flagged = *u.Flagged
			if *u.Flagged {
				rec.Notes.FlagReason, rec.Notes.FlaggedBy, rec.Notes.FlaggedAt = u.FlagReason, actor, &now
			} else {
				rec.Notes.FlagReason, rec.Notes.FlaggedBy, rec.Notes.FlaggedAt = "", "", nil
			}
		}
		if !rec.Lock.Locked {
			rec.UpdatedAt = s.now()
		}
		if err := s.store.SaveRecord(ctx, *rec); err != nil {
			return err
		}
		out = *rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) ExcuseLate(ctx context.Context, id RecordID, actor, reason string) (*Record, error) {
	rec, err := s.amend(ctx, id, func(rec *Record) error {
		if rec.LateArrival == nil {
			return fmt.Errorf("%w: record %s has no late arrival to excuse", generic.ErrInvalidInput, rec.ID)
		}
		now := s.now()
		la := rec.LateArrival
		la.Excused, la.ExcusedBy, la.ExcusedAt, la.ExcuseReason = true, actor, &now, reason
		return nil
	})
	if err == nil {
		s.audit(ctx, generic.AuditExceptionApproved, actor, rec.EmployeeID, string(rec.ID), map[string]any{"exception": "late_arrival", "reason": reason})
	}
	return rec, err
}

func (s *Service) ApproveEarlyDeparture(ctx context.Context, id RecordID, actor string) (*Record, error) {
	rec, err := s.amend(ctx, id, func(rec *Record) error {
		if rec.EarlyDeparture == nil {
			return fmt.Errorf("%w: record %s has no early departure to approve", generic.ErrInvalidInput, rec.ID)
		}
		now := s.now()
		ed := rec.EarlyDeparture
		ed.Approved, ed.ApprovedBy, ed.ApprovedAt = true, actor, &now
		return nil
	})
	if err == nil {
		s.audit(ctx, generic.AuditExceptionApproved, actor, rec.EmployeeID, string(rec.ID), map[string]any{"exception": "early_departure"})
	}
	return rec, err
}

// ApproveOvertime approves up to minutes of the record's overtime for
// payment. Approving more than was worked approves what was worked.
func (s *Service) ApproveOvertime(ctx context.Context, id RecordID, minutes generic.Minutes, actor string) (*Record, error) {
	if minutes < 0 {
		return nil, fmt.Errorf("%w: approved minutes must not be negative", generic.ErrInvalidInput)
	}
	rec, err := s.amend(ctx, id, func(rec *Record) error {
		rec.OvertimeApproval = &OvertimeApproval{
			ApprovedMinutes: minutes.Min(rec.OvertimeMinutes),
			ApprovedBy:      actor,
			ApprovedAt:      s.now(),
		}
		return nil
	})
	if err == nil {
		s.audit(ctx, generic.AuditExceptionApproved, actor, rec.EmployeeID, string(rec.ID), map[string]any{"exception": "overtime", "minutes": int64(minutes)})
	}
	return rec, err
}

// =============================================================================
// TIMESHEET APPROVAL
// =============================================================================

// ApproveTimesheet signs off an unlocked record. Pricing is unchanged.
func (s *Service) ApproveTimesheet(ctx context.Context, id RecordID, actor, notes string) (*Record, error) {
	return s.reviewTimesheet(ctx, id, actor, generic.AuditTimesheetApproved, nil, func(t *TimesheetApproval, now time.Time) error {
		return t.Approve(id, actor, notes, now)
	})
}

func (s *Service) RejectTimesheet(ctx context.Context, id RecordID, actor, reason string) (*Record, error) {
	return s.reviewTimesheet(ctx, id, actor, generic.AuditTimesheetRejected, map[string]any{"reason": reason}, func(t *TimesheetApproval, now time.Time) error {
		return t.Reject(id, actor, reason, now)
	})
}

func (s *Service) reviewTimesheet(ctx context.Context, id RecordID, actor string, action generic.AuditAction, payload map[string]any, fn func(t *TimesheetApproval, now time.Time) error) (*Record, error) {
	var out Record
	err := s.withDay(ctx, id, func(rec *Record) error {
		if rec.Lock.Locked {
			return &RecordLockedError{RecordID: rec.ID, PayrollRunID: rec.Lock.PayrollRunID}
		}
		if rec.Status == StatusIncomplete {
			return fmt.Errorf("%w: record %s is incomplete, apply a correction first", generic.ErrInvalidInput, rec.ID)
		}
		now := s.now()
		if err := fn(&rec.Timesheet, now); err != nil {
			return err
		}
		rec.UpdatedAt = now
		if err := s.store.SaveRecord(ctx, *rec); err != nil {
			return fmt.Errorf("save record %s: %w", rec.ID, err)
		}
		out = *rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, action, actor, out.EmployeeID, string(out.ID), payload)
	return &out, nil
}

// =============================================================================
// VIOLATION REVIEW
// =============================================================================

type ReviewAction string

const (
	ActionMarkForReview ReviewAction = "review"
	ActionConfirm       ReviewAction = "confirm"
	ActionDismiss       ReviewAction = "dismiss"
	ActionAppeal        ReviewAction = "appeal"
	ActionDecide        ReviewAction = "decide"
)

type ReviewInput struct {
	Action   ReviewAction
	Actor    string
	Notes    string // Review notes, dismissal or appeal reason
	Decision AppealDecision
	Penalty  Penalty  // Replacement penalty for a modified decision
	Severity Severity // Optional replacement severity for a modified decision
}

// ReviewViolation moves one violation through its review states, keeps
// the offense ledger in step and re-prices the record.
//
// Repeating a confirm or decide on a violation that already reached that
// status is a replay: the transition is skipped and the ledger entry is
// appended again under its key, so a retry after a failed append still
// counts the offense once.
func (s *Service) ReviewViolation(ctx context.Context, recordID RecordID, violationID ViolationID, in ReviewInput) (*Record, error) {
	var reviewed Violation
	replay := false
	rec, err := s.amend(ctx, recordID, func(rec *Record) error {
		v, ok := rec.Violation(violationID)
		if !ok {
			return &NotFoundError{Kind: "violation", ID: string(violationID)}
		}
		if replayOf(*v, in) {
			replay = true
			reviewed = *v
			return nil
		}
		now := s.now()
		var err error
		switch in.Action {
		case ActionMarkForReview:
			err = v.MarkForReview(in.Actor, now)
		case ActionConfirm:
			err = v.Confirm(in.Actor, in.Notes, now)
		case ActionDismiss:
			err = v.Dismiss(in.Actor, in.Notes, now)
		case ActionAppeal:
			err = v.Appeal(in.Notes, now)
		case ActionDecide:
			err = v.Decide(in.Decision, in.Actor, in.Penalty, in.Severity, now)
		default:
			err = fmt.Errorf("%w: unknown review action %q", generic.ErrInvalidInput, in.Action)
		}
		reviewed = *v
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.recordOffense(ctx, rec, reviewed, in.Actor); err != nil {
		log.Printf("[Review] violation %s is %s but the ledger append failed, repeat %s to retry: %v", reviewed.ID, reviewed.Status, in.Action, err)
		return nil, err
	}
	if replay {
		return rec, nil
	}
	s.audit(ctx, generic.AuditViolationReviewed, in.Actor, rec.EmployeeID, string(rec.ID), map[string]any{
		"violation_id": reviewed.ID,
		"action":       in.Action,
		"status":       reviewed.Status,
	})
	return rec, nil
}

// replayOf reports whether in asks for the status v already holds, for
// the actions that write to the offense ledger.
func replayOf(v Violation, in ReviewInput) bool {
	switch in.Action {
	case ActionConfirm:
		return v.Status == ViolationConfirmed
	case ActionDecide:
		return v.AppealDecision != "" && v.AppealDecision == in.Decision
	}
	return false
}

// recordOffense appends to the offense ledger. Confirmations count +1;
// an overturned appeal appends a -1 reversal. Keys make retries no-ops.
func (s *Service) recordOffense(ctx context.Context, rec *Record, v Violation, actor string) error {
	var entry generic.Entry
	switch v.Status {
	case ViolationConfirmed, ViolationUpheld, ViolationModified:
		entry = generic.Entry{Delta: 1, Type: generic.EntryOffense, IdempotencyKey: "offense|" + string(v.ID)}
	case ViolationOverturned:
		entry = generic.Entry{Delta: -1, Type: generic.EntryReversal, IdempotencyKey: "reversal|" + string(v.ID), Reason: "appeal overturned"}
	default:
		return nil
	}
	entry.ID = generic.EntryID(uuid.NewString())
	entry.EntityID = rec.EmployeeID
	entry.Code = string(v.Code)
	entry.EffectiveAt = v.DetectedOn
	entry.ReferenceID = string(v.ID)
	entry.CreatedBy = actor
	entry.CreatedAt = s.now()

	err := s.ledger.Append(ctx, entry)
	if errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
		return nil
	}
	return err
}

// =============================================================================
// CORRECTIONS
// =============================================================================

// SubmitCorrection opens a pending correction on an unlocked record.
func (s *Service) SubmitCorrection(ctx context.Context, c CorrectionRequest) (*CorrectionRequest, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	err := s.withDay(ctx, c.RecordID, func(rec *Record) error {
		if rec.Lock.Locked {
			return &RecordLockedError{RecordID: rec.ID, PayrollRunID: rec.Lock.PayrollRunID}
		}
		pending, err := s.store.PendingCorrections(ctx, rec.ID)
		if err != nil {
			return err
		}
		for _, p := range pending {
			if p.Field == c.Field {
				return &DuplicateCorrectionError{RecordID: rec.ID, Field: c.Field, ExistingID: p.ID}
			}
		}

		c.ID = CorrectionID(uuid.NewString())
		c.EmployeeID, c.Date = rec.EmployeeID, rec.Date()
		c.Status = CorrectionPending
		c.RequestedAt = s.now()
		c.Original = rec.CheckIn
		if c.Field == FieldCheckOut {
			c.Original = rec.CheckOut
		}
		if c.Type == "" {
			c.Type = defaultCorrectionType(c.Field, c.Original)
		}
		return s.store.SaveCorrection(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, generic.AuditCorrectionSubmitted, c.RequestedBy, c.EmployeeID, string(c.ID), map[string]any{"field": c.Field})
	return &c, nil
}

func defaultCorrectionType(f CorrectionField, original *time.Time) CorrectionType {
	switch {
	case original != nil:
		return CorrectionWrongTime
	case f == FieldCheckIn:
		return CorrectionMissedCheckIn
	default:
		return CorrectionMissedCheckOut
	}
}

// withCorrection loads the correction and holds its day lock around fn.
func (s *Service) withCorrection(ctx context.Context, id CorrectionID, fn func(c *CorrectionRequest) error) (*CorrectionRequest, error) {
	c, err := s.store.GetCorrection(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(dayKey(c.EmployeeID, c.Date))
	defer unlock()

	if c, err = s.store.GetCorrection(ctx, id); err != nil {
		return nil, err
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	return c, nil
}

// ApproveCorrection moves pending → approved. The record is unchanged
// until ApplyCorrection.
func (s *Service) ApproveCorrection(ctx context.Context, id CorrectionID, actor, notes string) (*CorrectionRequest, error) {
	c, err := s.withCorrection(ctx, id, func(c *CorrectionRequest) error {
		if err := c.Approve(actor, notes, s.now()); err != nil {
			return err
		}
		return s.store.SaveCorrection(ctx, *c)
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, generic.AuditCorrectionApproved, actor, c.EmployeeID, string(c.ID), nil)
	return c, nil
}

func (s *Service) RejectCorrection(ctx context.Context, id CorrectionID, actor, reason string) (*CorrectionRequest, error) {
	c, err := s.withCorrection(ctx, id, func(c *CorrectionRequest) error {
		if err := c.Reject(actor, reason, s.now()); err != nil {
			return err
		}
		return s.store.SaveCorrection(ctx, *c)
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, generic.AuditCorrectionRejected, actor, c.EmployeeID, string(c.ID), map[string]any{"reason": reason})
	return c, nil
}

// ApplyCorrection re-runs the day with the approved correction as an
// override. On a locked day it fails with RecordLockedError and the
// correction stays approved.
func (s *Service) ApplyCorrection(ctx context.Context, id CorrectionID, actor string) (*Record, *CorrectionRequest, error) {
	var rec Record
	c, err := s.withCorrection(ctx, id, func(c *CorrectionRequest) error {
		if c.Status != CorrectionApproved {
			return &TransitionError{Entity: "correction", ID: string(c.ID), From: string(c.Status), To: string(CorrectionApplied)}
		}
		current, err := s.store.CurrentRecord(ctx, c.EmployeeID, c.Date)
		if err != nil {
			return err
		}
		if current.Lock.Locked {
			return &RecordLockedError{RecordID: current.ID, PayrollRunID: current.Lock.PayrollRunID}
		}

		override := c.Override()
		next, err := s.recompute(ctx, c.EmployeeID, c.Date, runOpts{prev: current, extra: &override})
		if err != nil {
			return err
		}
		next.Timesheet = pendingTimesheet(next.Timesheet.Required)
		if err := c.MarkApplied(next.ID, s.now()); err != nil {
			return err
		}
		rec = next
		return s.store.WithTx(ctx, func(tx Tx) error {
			if err := tx.SaveRecord(ctx, next); err != nil {
				return err
			}
			return tx.SaveCorrection(ctx, *c)
		})
	})
	if err != nil {
		return nil, nil, err
	}
	s.audit(ctx, generic.AuditCorrectionApplied, actor, c.EmployeeID, string(c.ID), map[string]any{"record_id": rec.ID})
	return &rec, c, nil
}

// =============================================================================
// PAYROLL LOCK
// =============================================================================

// LockedRecord is one record held by the run. Newly is true only for the
// call that locked it.
type LockedRecord struct {
	RecordID RecordID  `json:"record_id"`
	LockedAt time.Time `json:"locked_at"`
	Newly    bool      `json:"newly_locked"`
}

// LockResult lists every requested record the run now holds. Records and
// their LockedAt are the same on every retry; NewlyLocked and AlreadyLocked
// count what this call changed, so a retry reports all records as already
// locked.
type LockResult struct {
	PayrollRunID  PayrollRunID   `json:"payroll_run_id"`
	Records       []LockedRecord `json:"records"`
	NewlyLocked   int            `json:"newly_locked"`
	AlreadyLocked int            `json:"already_locked"`
}

// Lock locks every record for the payroll run, or none. A record blocks
// the batch if it is unknown, locked by another run, has a pending
// correction, is incomplete, was never priced, is still provisional, or
// waits on timesheet approval the policy requires. Records already locked
// by the same run are accepted as they are, so a retry locks the same set
// at the same time.
func (s *Service) Lock(ctx context.Context, ids []RecordID, runID PayrollRunID, actor string) (*LockResult, error) {
	if runID == "" {
		return nil, fmt.Errorf("%w: payroll_run_id is required", generic.ErrInvalidInput)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: record_ids must not be empty", generic.ErrInvalidInput)
	}
	ids = uniqueRecordIDs(ids)

	var keys []string
	for _, id := range ids {
		rec, err := s.store.GetRecord(ctx, id)
		switch {
		case err == nil:
			keys = append(keys, dayKey(rec.EmployeeID, rec.Date()))
		case !generic.IsNotFound(err):
			return nil, err
		}
	}
	unlock := s.locks.Lock(keys...)
	defer unlock()

	now := s.now()
	result := &LockResult{PayrollRunID: runID}
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var conflicts []LockConflict
		var toLock []Record
		result.Records = result.Records[:0]

		for _, id := range ids {
			rec, err := tx.GetRecord(ctx, id)
			if err != nil {
				if generic.IsNotFound(err) {
					conflicts = append(conflicts, LockConflict{RecordID: id, Reason: ConflictRecordNotFound})
					continue
				}
				return err
			}
			if rec.Lock.Locked {
				if rec.Lock.PayrollRunID == runID {
					result.Records = append(result.Records, LockedRecord{RecordID: id, LockedAt: *rec.Lock.LockedAt})
					continue
				}
				conflicts = append(conflicts, LockConflict{RecordID: id, Reason: ConflictLockedByOtherRun, PayrollRunID: rec.Lock.PayrollRunID})
				continue
			}
			pending, err := tx.PendingCorrections(ctx, id)
			if err != nil {
				return err
			}
			switch {
			case len(pending) > 0:
				conflicts = append(conflicts, LockConflict{RecordID: id, Reason: ConflictPendingCorrection})
			case rec.Status == StatusIncomplete:
				conflicts = append(conflicts, LockConflict{RecordID: id, Reason: ConflictIncomplete})
			case rec.Payroll == nil:
				conflicts = append(conflicts, LockConflict{RecordID: id, Reason: ConflictNotAggregated})
			case rec.Provisional:
				conflicts = append(conflicts, LockConflict{RecordID: id, Reason: ConflictProvisional})
			case rec.Timesheet.Blocking():
				conflicts = append(conflicts, LockConflict{RecordID: id, Reason: ConflictTimesheetNotApproved})
			default:
				toLock = append(toLock, *rec)
			}
		}

		if len(conflicts) > 0 {
			return &LockConflictError{PayrollRunID: runID, Conflicts: conflicts}
		}

		for _, rec := range toLock {
			rec.Lock = LockInfo{Locked: true, PayrollRunID: runID, LockedAt: &now, LockedBy: actor}
			if err := tx.SaveRecord(ctx, rec); err != nil {
				return err
			}
			result.Records = append(result.Records, LockedRecord{RecordID: rec.ID, LockedAt: now, Newly: true})
		}
		return nil
	})
	if err != nil {
		var conflict *LockConflictError
		if errors.As(err, &conflict) {
			log.Printf("[Payroll] run %s: lock rejected, %d conflicting records", runID, len(conflict.Conflicts))
		}
		return nil, err
	}

	sort.Slice(result.Records, func(i, j int) bool { return result.Records[i].RecordID < result.Records[j].RecordID })
	for _, r := range result.Records {
		if r.Newly {
			result.NewlyLocked++
		} else {
			result.AlreadyLocked++
		}
	}
	if result.NewlyLocked > 0 {
		log.Printf("[Payroll] run %s: locked %d records (%d already locked)", runID, result.NewlyLocked, result.AlreadyLocked)
		s.audit(ctx, generic.AuditRecordsLocked, actor, "", string(runID), map[string]any{"records": result.NewlyLocked})
	}
	return result, nil
}

func uniqueRecordIDs(ids []RecordID) []RecordID {
	seen := make(map[RecordID]bool, len(ids))
	out := make([]RecordID, 0, len(ids))
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// =============================================================================
// SUPERSESSION
// =============================================================================

// Supersede creates an unlocked revision n+1 of a locked record, re-run
// from current inputs. The locked record is left untouched.
func (s *Service) Supersede(ctx context.Context, id RecordID, actor, reason string) (*Record, error) {
	var out Record
	err := s.withDay(ctx, id, func(rec *Record) error {
		if !rec.Lock.Locked {
			return &TransitionError{Entity: "record", ID: string(rec.ID), From: "unlocked", To: "superseded"}
		}
		current, err := s.store.CurrentRecord(ctx, rec.EmployeeID, rec.Date())
		if err != nil {
			return err
		}
		if current.ID != rec.ID {
			return &TransitionError{Entity: "record", ID: string(rec.ID), From: "superseded", To: "superseded"}
		}

		next, err := s.recompute(ctx, rec.EmployeeID, rec.Date(), runOpts{prev: rec, supersede: true})
		if err != nil {
			return err
		}
		note := fmt.Sprintf("supersedes %s (revision %d)", rec.ID, rec.Revision)
		if reason != "" {
			note += ": " + reason
		}
		next.Notes.SystemNotes = note
		if err := s.store.SaveRecord(ctx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, generic.AuditRecordSuperseded, actor, out.EmployeeID, string(out.ID), map[string]any{"supersedes": id, "reason": reason})
	return &out, nil
}
