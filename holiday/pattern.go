package holiday

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/holiday-engine/generic"
)

// =============================================================================
// WORKING PATTERN
// =============================================================================

// WorkingPattern maps weekdays to the work value of that day in the staff
// member's unit. A missing weekday or a zero value is a non-working day.
type WorkingPattern struct {
	StaffID    generic.EntityID
	Unit       generic.Unit
	PerWeekday map[time.Weekday]decimal.Decimal
	UpdatedAt  time.Time
}

// ValueOn returns the pattern value for a weekday (zero if absent).
func (p WorkingPattern) ValueOn(wd time.Weekday) decimal.Decimal {
	if v, ok := p.PerWeekday[wd]; ok {
		return v
	}
	return decimal.Zero
}

// WeeklyTotal sums the pattern over a week.
func (p WorkingPattern) WeeklyTotal() generic.Amount {
	total := decimal.Zero
	for _, v := range p.PerWeekday {
		total = total.Add(v)
	}
	return generic.NewAmountFromDecimal(total, p.Unit)
}

// ValidatePattern checks every value for the given unit: non-negative,
// and whole or half sessions when the unit is sessions.
func ValidatePattern(unit generic.Unit, perWeekday map[time.Weekday]decimal.Decimal) error {
	if !unit.Valid() {
		return &PatternValueError{Unit: unit, Reason: "unknown unit"}
	}
	for wd, v := range perWeekday {
		if wd < time.Sunday || wd > time.Saturday {
			return &PatternValueError{Weekday: wd, Value: v, Unit: unit, Reason: "unknown weekday"}
		}
		if v.IsNegative() {
			return &PatternValueError{Weekday: wd, Value: v, Unit: unit, Reason: "negative"}
		}
		if unit == generic.UnitSessions && !isHalfStep(v) {
			return &PatternValueError{Weekday: wd, Value: v, Unit: unit, Reason: "sessions must be whole or half"}
		}
		if unit == generic.UnitHours && v.GreaterThan(decimal.NewFromInt(24)) {
			return &PatternValueError{Weekday: wd, Value: v, Unit: unit, Reason: "more than 24 hours"}
		}
	}
	return nil
}

// UniformPattern gives the same value to each listed weekday.
func UniformPattern(staffID generic.EntityID, unit generic.Unit, value float64, days ...time.Weekday) WorkingPattern {
	per := make(map[time.Weekday]decimal.Decimal, len(days))
	for _, d := range days {
		per[d] = decimal.NewFromFloat(value)
	}
	return WorkingPattern{StaffID: staffID, Unit: unit, PerWeekday: per}
}

// Weekdays is Monday to Friday.
var Weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
