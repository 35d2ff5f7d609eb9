package legacy

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/xuri/excelize/v2"

	"github.com/warp/holiday-engine/generic"
	"github.com/warp/holiday-engine/holiday"
)

// Workbook is the parsed content of a transfer export.
type Workbook struct {
	Staff []holiday.LegacyStaff
	Days  []holiday.LegacyDay
	// Errors holds rows that could not be read. Row is 1-based, counting
	// the header row, as a spreadsheet user would see it.
	Errors []RowError
}

type RowError struct {
	Row int
	Err error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

// Load detects the format from filename, reads the first sheet and
// parses it for siteID.
func Load(r io.Reader, filename, siteID string) (*Workbook, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return nil, err
	}
	rows, err := ReadRows(r, format)
	if err != nil {
		return nil, err
	}
	return Parse(rows, siteID)
}

// =============================================================================
// PARSING
// =============================================================================

type columns struct {
	date, staffName, value, reason       int
	name, role, entitlement, carriedOver int
	sessions, hours                      map[time.Weekday]int
}

// Parse maps the header row and reads both tables. Only a missing header
// fails the whole workbook; bad rows are collected in Workbook.Errors.
func Parse(rows [][]string, siteID string) (*Workbook, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyWorkbook
	}
	cols := mapHeader(rows[0])
	if cols.date < 0 && cols.name < 0 {
		return nil, fmt.Errorf("no Date/StaffName or Name/Role columns in header")
	}

	wb := &Workbook{}
	seen := map[string]bool{}
	for i, row := range rows[1:] {
		rowNum := i + 2

		if cols.date >= 0 {
			day, ok, err := readDay(row, cols, siteID)
			switch {
			case err != nil:
				wb.Errors = append(wb.Errors, RowError{Row: rowNum, Err: err})
			case ok:
				wb.Days = append(wb.Days, day)
			}
		}

		if cols.name >= 0 {
			staff, ok := readStaff(row, cols, siteID)
			key := strings.ToLower(staff.Name)
			if ok && !seen[key] {
				seen[key] = true
				wb.Staff = append(wb.Staff, staff)
			}
		}
	}
	return wb, nil
}

func readDay(row []string, cols columns, siteID string) (holiday.LegacyDay, bool, error) {
	rawDate := cellValue(row, cols.date)
	staffName := cellValue(row, cols.staffName)
	if rawDate == "" || staffName == "" {
		return holiday.LegacyDay{}, false, nil
	}
	date, err := ParseDate(rawDate)
	if err != nil {
		return holiday.LegacyDay{}, false, err
	}
	return holiday.LegacyDay{
		SiteID:    siteID,
		StaffName: staffName,
		Date:      date,
		Value:     cellValue(row, cols.value),
		Reason:    cellValue(row, cols.reason),
	}, true, nil
}

func readStaff(row []string, cols columns, siteID string) (holiday.LegacyStaff, bool) {
	name := cellValue(row, cols.name)
	role := cellValue(row, cols.role)
	// The export repeats its header mid-sheet; those rows carry "Role".
	if name == "" || role == "" || strings.EqualFold(role, "role") {
		return holiday.LegacyStaff{}, false
	}

	source := cols.hours
	if holiday.UnitForRole(role) == generic.UnitSessions {
		source = cols.sessions
	}
	pattern := make(map[time.Weekday]string, len(source))
	for wd, idx := range source {
		if v := cellValue(row, idx); v != "" && !strings.EqualFold(v, "nan") {
			pattern[wd] = v
		}
	}

	return holiday.LegacyStaff{
		SiteID:      siteID,
		Name:        name,
		Role:        role,
		Entitlement: cellValue(row, cols.entitlement),
		CarriedOver: cellValue(row, cols.carriedOver),
		Pattern:     pattern,
	}, true
}

func mapHeader(header []string) columns {
	cols := columns{
		date: -1, staffName: -1, value: -1, reason: -1,
		name: -1, role: -1, entitlement: -1, carriedOver: -1,
		sessions: map[time.Weekday]int{},
		hours:    map[time.Weekday]int{},
	}
	for idx, raw := range header {
		h := normalizeHeader(raw)
		switch h {
		case "date":
			cols.date = idx
		case "staffname":
			cols.staffName = idx
		case "value", "duration":
			cols.value = idx
		case "reason":
			cols.reason = idx
		case "name":
			cols.name = idx
		case "role":
			cols.role = idx
		case "entitlement":
			cols.entitlement = idx
		case "carriedover", "carryover":
			cols.carriedOver = idx
		default:
			mapPatternHeader(&cols, h, idx)
		}
	}
	return cols
}

// mapPatternHeader recognises "dr<day>hours" (sessions) and
// "staff<day>hourshhmm" (hours).
func mapPatternHeader(cols *columns, h string, idx int) {
	var target map[time.Weekday]int
	switch {
	case strings.HasPrefix(h, "dr"):
		target, h = cols.sessions, strings.TrimPrefix(h, "dr")
	case strings.HasPrefix(h, "staff"):
		target, h = cols.hours, strings.TrimPrefix(h, "staff")
	default:
		return
	}
	h = strings.TrimSuffix(h, "hhmm")
	h = strings.TrimSuffix(h, "hours")
	h = strings.TrimSuffix(h, "sessions")
	if wd, ok := holiday.ParseWeekday(h); ok {
		target[wd] = idx
	}
}

func normalizeHeader(header string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(header) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func cellValue(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// =============================================================================
// DATES
// =============================================================================

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02/01/2006",
	"2/1/2006",
	"02/01/06",
	"02-01-2006",
	"2 Jan 2006",
	"2 January 2006",
	"Mon 2 Jan 2006",
	"2006/01/02",
}

// ParseDate reads the date cell forms seen in exports: ISO text, UK
// day-first text and raw Excel serial numbers.
func ParseDate(value string) (generic.TimePoint, error) {
	value = strings.TrimSpace(value)
	if serial, err := strconv.ParseFloat(value, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return generic.TimePoint{}, fmt.Errorf("date serial %q: %w", value, err)
		}
		return generic.DateOf(t), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return generic.DateOf(t), nil
		}
	}
	return generic.TimePoint{}, fmt.Errorf("unrecognised date %q", value)
}
