package generic

import "time"

// =============================================================================
// PERIOD - An inclusive date range
// =============================================================================

// Period is an inclusive [Start, End] date range. It is used both for
// booked ranges and for leave-years.
type Period struct {
	Start TimePoint
	End   TimePoint
}

// Validate rejects empty ranges.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() || p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// Contains returns true if the date is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Overlaps reports whether p and o share at least one date.
func (p Period) Overlaps(o Period) bool {
	return !p.End.Before(o.Start) && !o.End.Before(p.Start)
}

// Len is the number of calendar days in the period, both ends included.
func (p Period) Len() int {
	return DaysBetween(p.Start, p.End) + 1
}

// Days returns all days in the period as a slice of TimePoints.
func (p Period) Days() []TimePoint {
	var days []TimePoint
	current := p.Start
	for current.BeforeOrEqual(p.End) {
		days = append(days, current)
		current = current.AddDays(1)
	}
	return days
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// LEAVE-YEAR CALENDAR - Determines which leave-year a date falls into
// =============================================================================

// YearCalendar maps dates to leave-years. A StartMonth of January (or
// zero) gives calendar years; any other month gives fiscal-style years
// named after the calendar year they start in.
type YearCalendar struct {
	StartMonth time.Month
}

// CalendarYears is the January-start calendar.
var CalendarYears = YearCalendar{StartMonth: time.January}

func (c YearCalendar) startMonth() time.Month {
	if c.StartMonth < time.January || c.StartMonth > time.December {
		return time.January
	}
	return c.StartMonth
}

// YearOf returns the leave-year containing date.
func (c YearCalendar) YearOf(date TimePoint) LeaveYear {
	if date.Month() < c.startMonth() {
		return LeaveYear(date.Year() - 1)
	}
	return LeaveYear(date.Year())
}

// Period returns the dates covered by a leave-year.
func (c YearCalendar) Period(year LeaveYear) Period {
	start := NewTimePoint(int(year), c.startMonth(), 1)
	return Period{Start: start, End: start.AddYears(1).AddDays(-1)}
}
