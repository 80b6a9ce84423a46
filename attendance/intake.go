package attendance

import (
	"sort"
	"time"

	"github.com/warp/attendance-engine/generic"
)

// =============================================================================
// EVENT INTAKE - Raw events → per-employee, per-day ordered streams
// =============================================================================

// DefaultDuplicateTolerance is how close two events of the same kind must be
// to count as the same punch (e.g. two readers firing for one tap).
const DefaultDuplicateTolerance = 5 * time.Second

// dayWindowLead is how long before the scheduled check-in a work day starts.
// Events from [check-in − lead, check-in − lead + 24h) belong to the day, so
// overnight check-outs attach to the shift they close.
const dayWindowLead = 4 * time.Hour

// EventStream is one employee's deduplicated events for one work date,
// ordered by timestamp.
type EventStream struct {
	EmployeeID EmployeeID
	Date       generic.Date
	Events     []Event
}

type Intake struct {
	Tolerance time.Duration
}

func NewIntake(tolerance time.Duration) *Intake {
	if tolerance <= 0 {
		tolerance = DefaultDuplicateTolerance
	}
	return &Intake{Tolerance: tolerance}
}

// IsDuplicate reports whether b repeats a: same employee, same kind, and
// timestamps within tolerance.
func (in *Intake) IsDuplicate(a, b Event) bool {
	if a.EmployeeID != b.EmployeeID || a.Kind != b.Kind {
		return false
	}
	d := a.At.Sub(b.At)
	if d < 0 {
		d = -d
	}
	return d <= in.Tolerance
}

// Accept reports whether e should be stored given the events already
// stored. The first-seen event wins; a later duplicate is discarded.
func (in *Intake) Accept(existing []Event, e Event) (bool, *Event) {
	for i := range existing {
		if in.IsDuplicate(existing[i], e) {
			return false, &existing[i]
		}
	}
	return true, nil
}

// Dedupe drops duplicates, keeping the first-seen event. Events are
// considered in ingestion order (Seq, then slice order).
func (in *Intake) Dedupe(events []Event) []Event {
	ordered := make([]Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	kept := make([]Event, 0, len(ordered))
	for _, e := range ordered {
		if ok, _ := in.Accept(kept, e); ok {
			kept = append(kept, e)
		}
	}
	return kept
}

// DayWindow returns the [start, end) instants whose events belong to date
// under policy p.
func DayWindow(p Policy, date generic.Date) (time.Time, time.Time) {
	start := p.ScheduledCheckIn.On(date, p.Location()).Add(-dayWindowLead)
	return start, start.Add(24 * time.Hour)
}

// Stream builds the ordered stream for one employee and work date. Events
// outside the day window or for other employees are ignored.
func (in *Intake) Stream(employeeID EmployeeID, date generic.Date, p Policy, events []Event) EventStream {
	start, end := DayWindow(p, date)

	var mine []Event
	for _, e := range events {
		if e.EmployeeID != employeeID || !e.Kind.Valid() {
			continue
		}
		if e.At.Before(start) || !e.At.Before(end) {
			continue
		}
		mine = append(mine, e)
	}

	kept := in.Dedupe(mine)
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].At.Before(kept[j].At) })

	return EventStream{EmployeeID: employeeID, Date: date, Events: kept}
}

// ApplyOverrides returns a copy of the stream with approved corrections
// applied: a check-in override replaces the first check-in (or adds one),
// a check-out override replaces the last check-out (or adds one).
func ApplyOverrides(s EventStream, overrides []Override) EventStream {
	if len(overrides) == 0 {
		return s
	}
	events := make([]Event, len(s.Events))
	copy(events, s.Events)

	for _, o := range overrides {
		manual := Event{
			ID:         EventID("correction-" + string(o.CorrectionID)),
			EmployeeID: s.EmployeeID,
			At:         o.At,
			Method:     MethodManual,
		}
		switch o.Field {
		case FieldCheckIn:
			manual.Kind = EventCheckIn
			idx := -1
			for i := range events {
				if events[i].Kind == EventCheckIn {
					idx = i
					break
				}
			}
			if idx >= 0 {
				events[idx] = manual
			} else {
				events = append(events, manual)
			}
		case FieldCheckOut:
			manual.Kind = EventCheckOut
			idx := -1
			for i := len(events) - 1; i >= 0; i-- {
				if events[i].Kind == EventCheckOut {
					idx = i
					break
				}
			}
			if idx >= 0 {
				events[idx] = manual
			} else {
				events = append(events, manual)
			}
		}
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].At.Before(events[j].At) })
	return EventStream{EmployeeID: s.EmployeeID, Date: s.Date, Events: events}
}
