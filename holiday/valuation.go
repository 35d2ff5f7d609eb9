package holiday

import (
	"github.com/shopspring/decimal"

	"github.com/warp/holiday-engine/generic"
)

// =============================================================================
// BOOKING VALUATION - Pure function of (pattern, range)
// =============================================================================

// DayValue is the frozen worth of one booked date.
type DayValue struct {
	Date  generic.TimePoint
	Value generic.Amount
}

// Valuation is the result of valuing a range. PerDay holds only dates
// with a non-zero pattern value, in date order.
type Valuation struct {
	Period generic.Period
	Unit   generic.Unit
	PerDay []DayValue
	Total  generic.Amount
}

// ValueRange walks every date in [start, end], looks up the weekday in
// the pattern and keeps the dates worth more than zero. A range worth
// nothing cannot be booked and fails with ErrNoWorkingDaysInRange.
func ValueRange(pattern WorkingPattern, start, end generic.TimePoint) (Valuation, error) {
	period := generic.Period{Start: start, End: end}
	if err := period.Validate(); err != nil {
		return Valuation{}, ErrInvalidRange
	}

	v := Valuation{
		Period: period,
		Unit:   pattern.Unit,
		Total:  generic.NewAmount(0, pattern.Unit),
	}
	for _, day := range period.Days() {
		value := pattern.ValueOn(day.Weekday())
		if !value.IsPositive() {
			continue
		}
		amount := generic.NewAmountFromDecimal(value, pattern.Unit)
		v.PerDay = append(v.PerDay, DayValue{Date: day, Value: amount})
		v.Total = v.Total.Add(amount)
	}

	if !v.Total.IsPositive() {
		return Valuation{}, ErrNoWorkingDaysInRange
	}
	return v, nil
}

// YearValuation is the slice of a valuation that belongs to one leave-year.
type YearValuation struct {
	LeaveYear generic.LeaveYear
	Days      []DayValue
	Total     generic.Amount
}

// ByLeaveYear groups the per-day values by leave-year, chronologically.
// PerDay is in date order, so one pass suffices. Years in which the range
// is worth nothing never appear.
func (v Valuation) ByLeaveYear(cal generic.YearCalendar) []YearValuation {
	var out []YearValuation
	for _, d := range v.PerDay {
		year := cal.YearOf(d.Date)
		if len(out) == 0 || out[len(out)-1].LeaveYear != year {
			out = append(out, YearValuation{LeaveYear: year, Total: generic.NewAmount(0, v.Unit)})
		}
		yv := &out[len(out)-1]
		yv.Days = append(yv.Days, d)
		yv.Total = yv.Total.Add(d.Value)
	}
	return out
}

// sumDays totals day values; used when rebuilding requests from storage.
func sumDays(unit generic.Unit, days []DayValue) generic.Amount {
	total := generic.NewAmountFromDecimal(decimal.Zero, unit)
	for _, d := range days {
		total = total.Add(d.Value)
	}
	return total
}
