package holiday

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/holiday-engine/generic"
)

func d(y int, m time.Month, day int) generic.TimePoint { return generic.NewTimePoint(y, m, day) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// VALUATION
// =============================================================================

func TestValueRange(t *testing.T) {
	eightHours := UniformPattern("alice", generic.UnitHours, 8, Weekdays...)
	partTime := WorkingPattern{StaffID: "bob", Unit: generic.UnitHours, PerWeekday: map[time.Weekday]decimal.Decimal{
		time.Monday:    dec("7.5"),
		time.Wednesday: dec("4"),
		time.Friday:    decimal.Zero,
	}}
	gp := WorkingPattern{StaffID: "gp", Unit: generic.UnitSessions, PerWeekday: map[time.Weekday]decimal.Decimal{
		time.Monday:  dec("2"),
		time.Tuesday: dec("1.5"),
	}}

	tests := []struct {
		name     string
		pattern  WorkingPattern
		start    generic.TimePoint
		end      generic.TimePoint
		wantDays int
		want     string
		wantErr  error
	}{
		{"full week", eightHours, d(2025, 3, 3), d(2025, 3, 7), 5, "40", nil},
		{"two weeks with weekend", eightHours, d(2025, 3, 3), d(2025, 3, 14), 10, "80", nil},
		{"single day", eightHours, d(2025, 3, 5), d(2025, 3, 5), 1, "8", nil},
		{"part time skips zero days", partTime, d(2025, 3, 3), d(2025, 3, 9), 2, "11.5", nil},
		{"sessions", gp, d(2025, 3, 3), d(2025, 3, 9), 2, "3.5", nil},
		{"weekend only", eightHours, d(2025, 3, 8), d(2025, 3, 9), 0, "", ErrNoWorkingDaysInRange},
		{"only zero-valued day", partTime, d(2025, 3, 7), d(2025, 3, 7), 0, "", ErrNoWorkingDaysInRange},
		{"empty pattern", WorkingPattern{Unit: generic.UnitHours}, d(2025, 3, 3), d(2025, 3, 7), 0, "", ErrNoWorkingDaysInRange},
		{"reversed range", eightHours, d(2025, 3, 7), d(2025, 3, 3), 0, "", ErrInvalidRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ValueRange(tt.pattern, tt.start, tt.end)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, v.PerDay, tt.wantDays)
			assert.True(t, v.Total.Value.Equal(dec(tt.want)), "total %s", v.Total.Value)
			assert.Equal(t, tt.pattern.Unit, v.Total.Unit)
		})
	}
}

func TestValueRange_IsDeterministic(t *testing.T) {
	p := UniformPattern("alice", generic.UnitHours, 7.5, Weekdays...)
	a, err := ValueRange(p, d(2025, 1, 1), d(2025, 2, 28))
	require.NoError(t, err)
	b, err := ValueRange(p, d(2025, 1, 1), d(2025, 2, 28))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestValuation_ByLeaveYear(t *testing.T) {
	p := UniformPattern("alice", generic.UnitHours, 8, Weekdays...)

	t.Run("calendar year", func(t *testing.T) {
		v, err := ValueRange(p, d(2025, 12, 29), d(2026, 1, 2))
		require.NoError(t, err)
		years := v.ByLeaveYear(generic.CalendarYears)
		require.Len(t, years, 2)
		assert.Equal(t, generic.LeaveYear(2025), years[0].LeaveYear)
		assert.True(t, years[0].Total.Value.Equal(dec("24")))
		assert.Len(t, years[1].Days, 2)
	})

	t.Run("april leave year", func(t *testing.T) {
		v, err := ValueRange(p, d(2025, 3, 31), d(2025, 4, 4))
		require.NoError(t, err)
		years := v.ByLeaveYear(generic.YearCalendar{StartMonth: time.April})
		require.Len(t, years, 2)
		assert.Equal(t, generic.LeaveYear(2024), years[0].LeaveYear)
		assert.True(t, years[0].Total.Value.Equal(dec("8")))
		assert.True(t, years[1].Total.Value.Equal(dec("32")))
	})

	t.Run("full year across a fiscal boundary", func(t *testing.T) {
		// Thu 1 Jan 2026 .. Thu 31 Dec 2026 with April leave years.
		v, err := ValueRange(p, d(2026, 1, 1), d(2026, 12, 31))
		require.NoError(t, err)
		years := v.ByLeaveYear(generic.YearCalendar{StartMonth: time.April})
		require.Len(t, years, 2)
		assert.Equal(t, generic.LeaveYear(2025), years[0].LeaveYear)
		assert.Equal(t, generic.LeaveYear(2026), years[1].LeaveYear)
		assert.Equal(t, len(v.PerDay), len(years[0].Days)+len(years[1].Days))
		assert.True(t, years[0].Total.Add(years[1].Total).Value.Equal(v.Total.Value))
		assert.Equal(t, "2026-03-31", years[0].Days[len(years[0].Days)-1].Date.String())
		assert.Equal(t, "2026-04-01", years[1].Days[0].Date.String())
	})

	t.Run("zero-valued year is omitted", func(t *testing.T) {
		// Sat 30 Dec 2023 .. Tue 2 Jan 2024: the 2023 part is a weekend.
		v, err := ValueRange(p, d(2023, 12, 30), d(2024, 1, 2))
		require.NoError(t, err)
		years := v.ByLeaveYear(generic.CalendarYears)
		require.Len(t, years, 1)
		assert.Equal(t, generic.LeaveYear(2024), years[0].LeaveYear)
	})
}

// =============================================================================
// PATTERNS
// =============================================================================

func TestValidatePattern(t *testing.T) {
	tests := []struct {
		name    string
		unit    generic.Unit
		per     map[time.Weekday]decimal.Decimal
		wantErr bool
	}{
		{"hours", generic.UnitHours, map[time.Weekday]decimal.Decimal{time.Monday: dec("7.5")}, false},
		{"hours with minutes", generic.UnitHours, map[time.Weekday]decimal.Decimal{time.Monday: dec("9.78")}, false},
		{"zero is a day off", generic.UnitHours, map[time.Weekday]decimal.Decimal{time.Monday: decimal.Zero}, false},
		{"negative", generic.UnitHours, map[time.Weekday]decimal.Decimal{time.Monday: dec("-1")}, true},
		{"over a day", generic.UnitHours, map[time.Weekday]decimal.Decimal{time.Monday: dec("25")}, true},
		{"half session", generic.UnitSessions, map[time.Weekday]decimal.Decimal{time.Monday: dec("1.5")}, false},
		{"quarter session", generic.UnitSessions, map[time.Weekday]decimal.Decimal{time.Monday: dec("1.25")}, true},
		{"unknown unit", generic.Unit("days"), map[time.Weekday]decimal.Decimal{time.Monday: dec("1")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePattern(tt.unit, tt.per)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var pe *PatternValueError
			assert.ErrorAs(t, err, &pe)
			assert.ErrorIs(t, err, ErrInvalidPatternValue)
		})
	}
}

func TestWorkingPattern_WeeklyTotal(t *testing.T) {
	p := UniformPattern("alice", generic.UnitHours, 7.5, Weekdays...)
	assert.True(t, p.WeeklyTotal().Value.Equal(dec("37.5")))
	assert.True(t, p.ValueOn(time.Saturday).IsZero())
}

// =============================================================================
// STATE MACHINE
// =============================================================================

func TestStatus_Transitions(t *testing.T) {
	allowed := map[Status][]Status{
		StatusPending:   {StatusApproved, StatusRejected, StatusCancelled},
		StatusApproved:  {StatusCancelled},
		StatusRejected:  nil,
		StatusCancelled: nil,
	}
	all := []Status{StatusPending, StatusApproved, StatusRejected, StatusCancelled}
	for from, ok := range allowed {
		for _, to := range all {
			assert.Equal(t, contains(ok, to), from.CanTransition(to), "%s -> %s", from, to)
		}
	}
	assert.True(t, StatusRejected.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusApproved.IsTerminal())
}

func contains(list []Status, s Status) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func TestRequest_TransitionStampsTime(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r := Request{ID: "r1", Status: StatusPending}

	require.NoError(t, r.transition(StatusApproved, at))
	require.NotNil(t, r.ApprovedAt)
	assert.Equal(t, at, *r.ApprovedAt)

	err := r.transition(StatusRejected, at)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, StatusApproved, r.Status)
}

// =============================================================================
// UNITS
// =============================================================================

func TestUnitForRole(t *testing.T) {
	assert.Equal(t, generic.UnitSessions, UnitForRole("GP"))
	assert.Equal(t, generic.UnitSessions, UnitForRole(" salaried gp "))
	assert.Equal(t, generic.UnitHours, UnitForRole("Nurse"))
	assert.Equal(t, generic.UnitHours, UnitForRole("GP Assistant"))
	assert.Equal(t, generic.UnitHours, UnitForRole(""))
}
