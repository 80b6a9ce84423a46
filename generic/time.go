package generic

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// DATE - A calendar day (the unit attendance is recorded against)
// =============================================================================

const DateLayout = "2006-01-02"

// Date is a calendar day with no time-of-day or zone. It is comparable and
// safe to use as a map key.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC), time.UTC)
}

// DateOf returns the calendar day of t as seen in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return Date{Year: y, Month: m, Day: d}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return DateOf(t, time.UTC), nil
}

// Midnight returns the start of the day in loc.
func (d Date) Midnight(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) utc() time.Time { return d.Midnight(time.UTC) }

// Comparison
func (d Date) Before(o Date) bool        { return d.utc().Before(o.utc()) }
func (d Date) After(o Date) bool         { return d.utc().After(o.utc()) }
func (d Date) Equal(o Date) bool         { return d == o }
func (d Date) BeforeOrEqual(o Date) bool { return !d.After(o) }
func (d Date) AfterOrEqual(o Date) bool  { return !d.Before(o) }

// Arithmetic
func (d Date) AddDays(n int) Date { return DateOf(d.utc().AddDate(0, 0, n), time.UTC) }

// Properties
func (d Date) Weekday() time.Weekday { return d.utc().Weekday() }
func (d Date) IsZero() bool          { return d == Date{} }
func (d Date) String() string        { return d.utc().Format(DateLayout) }

func (d Date) ISOWeek() int {
	_, w := d.utc().ISOWeek()
	return w
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func DaysBetween(from, to Date) int { return int(to.utc().Sub(from.utc()).Hours() / 24) }

// =============================================================================
// CLOCK TIME - Time of day, used for scheduled shift boundaries
// =============================================================================

// ClockTime is minutes after midnight.
type ClockTime int

func NewClockTime(hour, minute int) ClockTime { return ClockTime(hour*60 + minute) }

// ParseClockTime parses "HH:MM".
func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q (use HH:MM): %w", s, err)
	}
	return NewClockTime(t.Hour(), t.Minute()), nil
}

// On returns the instant this clock time occurs on date d in loc.
func (c ClockTime) On(d Date, loc *time.Location) time.Time {
	return d.Midnight(loc).Add(time.Duration(c) * time.Minute)
}

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60) }

// MinutesBetween returns whole minutes from a to b, truncating seconds.
func MinutesBetween(a, b time.Time) Minutes {
	return Minutes(b.Sub(a) / time.Minute)
}

// =============================================================================
// HOLIDAY CALENDAR - Region-specific public holidays
// =============================================================================

type HolidayType string

const (
	HolidayNational  HolidayType = "national"
	HolidayReligious HolidayType = "religious"
	HolidayOther     HolidayType = "other"
)

// Holiday is a public holiday on which work is not scheduled.
type Holiday struct {
	ID        string
	Region    string // Empty string = applies to every region
	Date      Date
	Name      string
	Type      HolidayType
	Recurring bool // true = same month/day every year
}

// Matches reports whether the holiday falls on d.
func (h Holiday) Matches(d Date) bool {
	if h.Recurring {
		return h.Date.Month == d.Month && h.Date.Day == d.Day
	}
	return h.Date == d
}
