package holiday

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/holiday-engine/generic"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	ErrInvalidPatternValue    = errors.New("invalid working pattern value")
	ErrNoWorkingDaysInRange   = errors.New("no working days in range")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrImportConflict         = errors.New("legacy record already imported")
	ErrOverlappingRequest     = errors.New("dates already booked")
	ErrInvalidRange           = errors.New("invalid date range")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrInvalidDuration        = errors.New("invalid duration")
	ErrStaffNotFound          = errors.New("staff member not found")
	ErrRequestNotFound        = errors.New("holiday request not found")
	ErrUnitChange             = errors.New("staff unit cannot change implicitly")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// PatternValueError names the offending weekday.
type PatternValueError struct {
	Weekday time.Weekday
	Value   decimal.Decimal
	Unit    generic.Unit
	Reason  string
}

func (e *PatternValueError) Error() string {
	return fmt.Sprintf("%v: %s %s on %s (%s)", ErrInvalidPatternValue, e.Value, e.Unit, e.Weekday, e.Reason)
}

func (e *PatternValueError) Unwrap() error {
	return ErrInvalidPatternValue
}

// TransitionError describes a lifecycle violation.
type TransitionError struct {
	RequestID string
	From      Status
	To        Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("request %s: cannot move from %s to %s", e.RequestID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidStateTransition
}

// ImportConflictError points at the request that already holds a legacy record.
type ImportConflictError struct {
	SourceRecordID string
	RequestID      string
}

func (e *ImportConflictError) Error() string {
	return fmt.Sprintf("legacy record %s already imported as %s", e.SourceRecordID, e.RequestID)
}

func (e *ImportConflictError) Unwrap() error {
	return ErrImportConflict
}

// OverlapError names the live request that already books a date.
type OverlapError struct {
	StaffID   generic.EntityID
	RequestID string
	Date      generic.TimePoint
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("%v: %s on %s by request %s", ErrOverlappingRequest, e.StaffID, e.Date, e.RequestID)
}

func (e *OverlapError) Unwrap() error {
	return ErrOverlappingRequest
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports errors caused by caller input, including the
// ledger's own client errors.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPatternValue) ||
		errors.Is(err, ErrNoWorkingDaysInRange) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidDuration) ||
		errors.Is(err, ErrUnitChange) ||
		generic.IsClientError(err)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrStaffNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		generic.IsNotFound(err)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrImportConflict) ||
		errors.Is(err, ErrOverlappingRequest)
}
