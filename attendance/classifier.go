/*
classifier.go - DayClassifier: event stream + policy → classified day

PURPOSE:
  Turns one employee's ordered events for one work date into a status,
  minute-based hours and the lateness / early-departure / absence
  sub-records. Classification is a pure function of its inputs.

STATUS PRECEDENCE (first match wins):
  on_leave > holiday > weekend > absent > late > early_departure >
  half_day > present

  Leave, holiday and weekend days are non-working days: nothing is
  scheduled, every worked minute is overtime and no lateness, early
  departure or absence is recorded.

HOURS:
  worked   = Σ(check-out − check-in) − Σ(unpaid breaks)
  regular  = min(worked, scheduled)
  overtime = max(0, worked − scheduled)

  Ramadan replaces the scheduled minutes and moves the scheduled end.

LATENESS (early departure is symmetric against the scheduled end):
  lateMinutes       = max(0, checkIn − scheduledCheckIn)
  withinGracePeriod = lateMinutes <= grace
  actualLateMinutes = max(0, lateMinutes − grace)

OPEN DAYS:
  A session with no check-out fails with IncompleteDataError unless the
  date is the current open day, in which case the session is measured up
  to Now and the result is marked provisional. IncompleteDay builds the
  placeholder stored for a failed closed day.

SEE ALSO:
  - intake.go: Produces the ordered stream
  - rules.go: Consumes the classified day
*/
package attendance

import (
	"time"

	"github.com/warp/attendance-engine/generic"
)

// DayContext is everything about the date that doesn't come from events.
type DayContext struct {
	Date    generic.Date
	Holiday *generic.Holiday
	Ramadan *RamadanPeriod
	Leave   *Leave
	Open    bool      // Date is today in the policy time zone
	Now     time.Time // Used to measure open sessions
}

type session struct {
	in, out   time.Time
	outMethod CheckMethod
	open      bool // Measured up to DayContext.Now
}

// Classify produces the ClassifiedDay for one employee and date.
func Classify(stream EventStream, p Policy, day DayContext) (ClassifiedDay, error) {
	loc := p.Location()
	out := ClassifiedDay{
		EmployeeID: stream.EmployeeID,
		PolicyID:   p.ID,
		DateInfo:   dateInfo(p, day),
		Breaks:     []BreakRecord{},
	}

	nonWorking := day.Leave != nil || day.Holiday != nil || out.DateInfo.IsWeekend
	if !nonWorking {
		out.Schedule = schedule(p, day, loc)
	}

	sessions, breaks, err := walk(stream, p, day)
	if err != nil {
		return ClassifiedDay{}, err
	}
	out.Breaks = breaks

	var sessionMinutes, unpaid generic.Minutes
	for _, s := range sessions {
		sessionMinutes += generic.MinutesBetween(s.in, s.out)
	}
	for _, b := range breaks {
		if !b.Paid {
			unpaid += b.Minutes
		}
	}
	out.WorkedMinutes = (sessionMinutes - unpaid).Max(0)
	out.RegularMinutes = out.WorkedMinutes.Min(out.Schedule.ScheduledMinutes)
	out.OvertimeMinutes = (out.WorkedMinutes - out.Schedule.ScheduledMinutes).Max(0)

	openSession := false
	if len(sessions) > 0 {
		first, last := sessions[0], sessions[len(sessions)-1]
		out.CheckIn = &first.in
		out.CheckInMethod = checkInMethod(stream, first.in)
		openSession = last.open
		if !openSession {
			out.CheckOut = &last.out
			out.CheckOutMethod = last.outMethod
		}
	}
	out.Provisional = day.Open && (openSession || len(sessions) == 0)

	switch {
	case day.Leave != nil:
		out.Status = StatusOnLeave
		out.LeaveRequestID = day.Leave.ID
		return out, nil
	case day.Holiday != nil:
		out.Status = StatusHoliday
		return out, nil
	case out.DateInfo.IsWeekend:
		out.Status = StatusWeekend
		return out, nil
	case len(sessions) == 0:
		out.Status = StatusAbsent
		out.Absence = &Absence{
			IsAbsent:            true,
			Type:                "full_day",
			ReasonCategory:      AbsenceUnknown,
			Authorized:          false,
			DeductionApplicable: p.DeductAbsence && !out.Provisional,
			DeductionDays:       1,
		}
		return out, nil
	}

	out.LateArrival = assessLateness(p, *out.Schedule.CheckIn, *out.CheckIn)
	if out.CheckOut != nil {
		out.EarlyDeparture = assessEarlyDeparture(p, *out.Schedule.CheckOut, *out.CheckOut)
	}

	switch {
	case out.LateArrival != nil:
		out.Status = StatusLate
	case out.EarlyDeparture != nil:
		out.Status = StatusEarlyDeparture
	case !out.Provisional && out.WorkedMinutes*2 < out.Schedule.ScheduledMinutes:
		out.Status = StatusHalfDay
	default:
		out.Status = StatusPresent
	}
	return out, nil
}

// IncompleteDay is the placeholder for a closed day Classify rejected:
// the first check-in, the schedule and nothing measured.
func IncompleteDay(stream EventStream, p Policy, day DayContext, missing EventKind) ClassifiedDay {
	out := ClassifiedDay{
		EmployeeID: stream.EmployeeID,
		PolicyID:   p.ID,
		DateInfo:   dateInfo(p, day),
		Breaks:     []BreakRecord{},
		Status:     StatusIncomplete,
		Missing:    missing,
	}
	if day.Leave == nil && day.Holiday == nil && !out.DateInfo.IsWeekend {
		out.Schedule = schedule(p, day, p.Location())
	}
	for _, e := range stream.Events {
		if e.Kind == EventCheckIn {
			at := e.At
			out.CheckIn, out.CheckInMethod = &at, e.Method
			break
		}
	}
	return out
}

// walk pairs check-ins with check-outs and break starts with break ends.
// A repeated check-in inside an open session is ignored; a check-out with
// no open session is ignored.
func walk(stream EventStream, p Policy, day DayContext) ([]session, []BreakRecord, error) {
	var (
		sessions []session
		breaks   []BreakRecord
		openIn   *time.Time
		openBrk  *Event
	)

	closeBreak := func(end time.Time, endType BreakType) {
		t := openBrk.BreakType
		if t == "" {
			t = endType
		}
		if t == "" {
			t = BreakOther
		}
		if end.Before(openBrk.At) {
			end = openBrk.At
		}
		breaks = append(breaks, BreakRecord{
			Type:       t,
			Start:      openBrk.At,
			End:        end,
			Minutes:    generic.MinutesBetween(openBrk.At, end),
			Paid:       p.BreakPaid(t),
			Authorized: hasBreakRule(p, t),
		})
		openBrk = nil
	}

	for i := range stream.Events {
		e := stream.Events[i]
		switch e.Kind {
		case EventCheckIn:
			if openIn == nil {
				at := e.At
				openIn = &at
			}
		case EventCheckOut:
			if openIn == nil {
				continue
			}
			if openBrk != nil {
				closeBreak(e.At, "")
			}
			sessions = append(sessions, session{in: *openIn, out: e.At, outMethod: e.Method})
			openIn = nil
		case EventBreakStart:
			if openIn != nil && openBrk == nil {
				openBrk = &e
			}
		case EventBreakEnd:
			if openBrk != nil {
				closeBreak(e.At, e.BreakType)
			}
		}
	}

	if openIn != nil {
		if !day.Open {
			return nil, nil, &IncompleteDataError{EmployeeID: stream.EmployeeID, Date: stream.Date, Missing: EventCheckOut}
		}
		end := day.Now
		if end.Before(*openIn) {
			end = *openIn
		}
		if openBrk != nil {
			closeBreak(end, "")
		}
		sessions = append(sessions, session{in: *openIn, out: end, open: true})
	}
	return sessions, breaks, nil
}

func checkInMethod(stream EventStream, at time.Time) CheckMethod {
	for _, e := range stream.Events {
		if e.Kind == EventCheckIn && e.At.Equal(at) {
			return e.Method
		}
	}
	return ""
}

func hasBreakRule(p Policy, t BreakType) bool {
	for _, b := range p.Breaks {
		if b.Type == t {
			return true
		}
	}
	return false
}

func dateInfo(p Policy, day DayContext) DateInfo {
	d := day.Date
	info := DateInfo{
		WorkDate:    d,
		DayOfWeek:   d.Weekday().String(),
		WeekNumber:  d.ISOWeek(),
		MonthNumber: int(d.Month),
		Year:        d.Year,
		IsWeekend:   p.IsRestDay(d.Weekday()),
	}
	if day.Holiday != nil {
		info.IsHoliday = true
		info.HolidayName = day.Holiday.Name
		info.HolidayType = day.Holiday.Type
	}
	if day.Ramadan != nil {
		if n := day.Ramadan.DayOf(d); n > 0 {
			info.IsRamadan = true
			info.RamadanDay = n
		}
	}
	return info
}

func schedule(p Policy, day DayContext, loc *time.Location) Schedule {
	start := p.ScheduledCheckIn.On(day.Date, loc)
	end := p.ScheduledCheckOut.On(day.Date, loc)
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	s := Schedule{ScheduledMinutes: p.ScheduledMinutes}

	isRamadan := day.Ramadan != nil && day.Ramadan.DayOf(day.Date) > 0
	if isRamadan && p.Ramadan.Enabled && p.Ramadan.ScheduledMinutes > 0 {
		s.ScheduledMinutes = p.Ramadan.ScheduledMinutes
		s.RamadanSchedule = true
		end = start.Add(time.Duration(s.ScheduledMinutes) * time.Minute)
	}
	s.CheckIn, s.CheckOut = &start, &end
	return s
}

func thresholds(p Policy) CategoryThresholds {
	if p.LateThresholds == (CategoryThresholds{}) {
		return DefaultThresholds
	}
	return p.LateThresholds
}

// assessLateness returns nil unless the check-in is beyond grace.
func assessLateness(p Policy, scheduled, actual time.Time) *LateArrival {
	late := generic.MinutesBetween(scheduled, actual).Max(0)
	over := (late - p.GracePeriodMinutes).Max(0)
	if over == 0 {
		return nil
	}
	return &LateArrival{
		IsLate:              true,
		LateMinutes:         late,
		Category:            thresholds(p).Categorize(over),
		GracePeriodMinutes:  p.GracePeriodMinutes,
		WithinGracePeriod:   false,
		ActualLateMinutes:   over,
		DeductionApplicable: p.DeductLateness,
		DeductionMinutes:    over,
	}
}

// assessEarlyDeparture returns nil unless the check-out is more than the
// grace period before the scheduled end.
func assessEarlyDeparture(p Policy, scheduled, actual time.Time) *EarlyDeparture {
	early := generic.MinutesBetween(actual, scheduled).Max(0)
	over := (early - p.GracePeriodMinutes).Max(0)
	if over == 0 {
		return nil
	}
	return &EarlyDeparture{
		IsEarlyDeparture:    true,
		EarlyMinutes:        early,
		Category:            thresholds(p).Categorize(over),
		ActualEarlyMinutes:  over,
		DeductionApplicable: p.DeductEarlyDeparture,
		DeductionMinutes:    over,
	}
}
