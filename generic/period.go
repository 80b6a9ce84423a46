package generic

// =============================================================================
// PERIOD - An inclusive range of calendar days
// =============================================================================

// Period is the inclusive range [Start, End]. Used for record queries,
// summaries and the rolling offense window.
type Period struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

func (p Period) Validate() error {
	if p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// Contains returns true if d is within the period [Start, End]
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Days returns all days in the period.
func (p Period) Days() []Date {
	var days []Date
	for current := p.Start; current.BeforeOrEqual(p.End); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// RollingWindow returns the trailing window of n days that ends the day
// before anchor. The anchor day itself is excluded so a day never counts
// its own offenses.
func RollingWindow(anchor Date, n int) Period {
	return Period{Start: anchor.AddDays(-n), End: anchor.AddDays(-1)}
}

// MonthPeriod returns the calendar month containing d.
func MonthPeriod(d Date) Period {
	start := Date{Year: d.Year, Month: d.Month, Day: 1}
	return Period{Start: start, End: NewDate(d.Year, d.Month+1, 1).AddDays(-1)}
}
