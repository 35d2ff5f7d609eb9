package holiday

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/holiday-engine/generic"
)

// =============================================================================
// DURATION - Legacy strings normalised once, at import
// =============================================================================

// Duration is a decimal amount tagged with its unit. Legacy text such as
// "8 days, 9:47:00" is turned into a Duration exactly once, at import;
// nothing downstream re-parses the text.
type Duration struct {
	Amount decimal.Decimal
	Unit   generic.Unit
}

func (d Duration) ToAmount() generic.Amount {
	return generic.NewAmountFromDecimal(d.Amount, d.Unit)
}

func (d Duration) String() string {
	return d.Amount.String() + " " + string(d.Unit)
}

// DefaultEffectiveDayHours is what one legacy "day" is worth when no
// site-specific value is configured.
var DefaultEffectiveDayHours = decimal.RequireFromString("7.5")

var (
	legacyDaysPattern  = regexp.MustCompile(`^(\d+)\s+days?,\s*(\d+):(\d{1,2}):(\d{1,2})(?:\.\d+)?$`)
	legacyClockPattern = regexp.MustCompile(`^(\d+):(\d{1,2})(?::(\d{1,2})(?:\.\d+)?)?$`)
)

var (
	sixty      = decimal.NewFromInt(60)
	thirtySixH = decimal.NewFromInt(3600)
)

// ParseLegacyDuration converts an interval string to decimal hours,
// rounded to 2dp. Accepted forms:
//
//	"8 days, 9:47:00"  -> 8*effectiveDay + 9 + 47/60
//	"9:47:00" / "9:47" -> 9.78
//	"37.5"             -> 37.5
func ParseLegacyDuration(s string, effectiveDay decimal.Decimal) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Duration{}, fmt.Errorf("%w: empty", ErrInvalidDuration)
	}
	if !effectiveDay.IsPositive() {
		return Duration{}, fmt.Errorf("%w: effective day length must be positive", ErrInvalidDuration)
	}

	if m := legacyDaysPattern.FindStringSubmatch(s); m != nil {
		days, _ := decimal.NewFromString(m[1])
		clock, err := clockHours(m[2], m[3], m[4])
		if err != nil {
			return Duration{}, fmt.Errorf("%w: %q: %v", ErrInvalidDuration, s, err)
		}
		total := days.Mul(effectiveDay).Add(clock)
		return Duration{Amount: total.Round(2), Unit: generic.UnitHours}, nil
	}

	if h, err := ParseClockValue(s); err == nil {
		return Duration{Amount: h, Unit: generic.UnitHours}, nil
	}

	if d, err := decimal.NewFromString(s); err == nil && !d.IsNegative() {
		return Duration{Amount: d.Round(2), Unit: generic.UnitHours}, nil
	}

	return Duration{}, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
}

// ParseClockValue converts "H:MM" or "H:MM:SS" to decimal hours, rounded to 2dp.
func ParseClockValue(s string) (decimal.Decimal, error) {
	m := legacyClockPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not H:MM[:SS]", ErrInvalidDuration, s)
	}
	sec := m[3]
	if sec == "" {
		sec = "0"
	}
	h, err := clockHours(m[1], m[2], sec)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q: %v", ErrInvalidDuration, s, err)
	}
	return h.Round(2), nil
}

// ParseSessionCount parses a session amount such as "6" or "5.5". Values
// must be whole or half sessions.
func ParseSessionCount(s string) (Duration, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || d.IsNegative() || !isHalfStep(d) {
		return Duration{}, fmt.Errorf("%w: %q is not a session count", ErrInvalidDuration, s)
	}
	return Duration{Amount: d, Unit: generic.UnitSessions}, nil
}

func clockHours(h, m, s string) (decimal.Decimal, error) {
	hh, err := strconv.Atoi(h)
	if err != nil {
		return decimal.Zero, err
	}
	mm, err := strconv.Atoi(m)
	if err != nil {
		return decimal.Zero, err
	}
	ss, err := strconv.Atoi(s)
	if err != nil {
		return decimal.Zero, err
	}
	if mm > 59 || ss > 59 {
		return decimal.Zero, fmt.Errorf("minutes/seconds out of range")
	}
	return decimal.NewFromInt(int64(hh)).
		Add(decimal.NewFromInt(int64(mm)).Div(sixty)).
		Add(decimal.NewFromInt(int64(ss)).Div(thirtySixH)), nil
}

var two = decimal.NewFromInt(2)

// isHalfStep reports whether d is an integer or half-integer.
func isHalfStep(d decimal.Decimal) bool {
	doubled := d.Mul(two)
	return doubled.Equal(doubled.Truncate(0))
}
