/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Amounts travel as
  decimal strings ("37.5") with their unit alongside, never as floats.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags. Handlers call
  Handler.decode, which rejects a body failing them with 400 before any
  domain call. Domain rules (patterns, balances, transitions) stay in
  package holiday.

SEE ALSO:
  - handlers.go: Uses these types
  - holiday/types.go: Domain types
*/
package api

import (
	"strings"
	"time"

	"github.com/warp/holiday-engine/generic"
	"github.com/warp/holiday-engine/holiday"
	"github.com/warp/holiday-engine/legacy"
)

// =============================================================================
// STAFF
// =============================================================================

type StaffDTO struct {
	ID        string `json:"id"`
	SiteID    string `json:"site_id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Unit      string `json:"unit"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// ProvisionStaffRequest creates or updates a staff member. The unit is
// derived from Role.
type ProvisionStaffRequest struct {
	SiteID string `json:"site_id" validate:"omitempty,max=64"`
	Name   string `json:"name" validate:"required,max=200"`
	Role   string `json:"role" validate:"required,max=100"`
}

// PatternRequest maps weekday names to values in the staff member's unit.
type PatternRequest struct {
	Weekdays map[string]string `json:"weekdays" validate:"required,dive,keys,weekday,endkeys,numeric"`
}

type PatternDTO struct {
	StaffID     string            `json:"staff_id"`
	Unit        string            `json:"unit"`
	Weekdays    map[string]string `json:"weekdays"`
	WeeklyTotal string            `json:"weekly_total"`
	UpdatedAt   string            `json:"updated_at,omitempty"`
}

// =============================================================================
// ENTITLEMENTS / BALANCE
// =============================================================================

type EntitlementRequest struct {
	Annual      string `json:"annual" validate:"required,numeric"`
	CarriedOver string `json:"carried_over" validate:"omitempty,numeric"`
}

type EntitlementDTO struct {
	StaffID     string `json:"staff_id"`
	LeaveYear   int    `json:"leave_year"`
	Unit        string `json:"unit"`
	Annual      string `json:"annual"`
	CarriedOver string `json:"carried_over"`
	Total       string `json:"total"`
}

// BalanceDTO is the derived view of one (staff, leave-year).
type BalanceDTO struct {
	StaffID     string `json:"staff_id"`
	LeaveYear   int    `json:"leave_year"`
	Unit        string `json:"unit"`
	Annual      string `json:"annual"`
	CarriedOver string `json:"carried_over"`
	Entitlement string `json:"entitlement"`
	Approved    string `json:"approved"`
	Pending     string `json:"pending"`
	Remaining   string `json:"remaining"`
}

// =============================================================================
// REQUESTS
// =============================================================================

// SubmitRequest books an inclusive date range.
type SubmitRequest struct {
	StartDate   string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate     string `json:"end_date" validate:"required,datetime=2006-01-02"`
	Reason      string `json:"reason" validate:"max=500"`
	Destination string `json:"destination" validate:"max=500"`
}

// DecisionRequest is the optional body of approve/reject/cancel.
type DecisionRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type DayDTO struct {
	Date  string `json:"date"`
	Value string `json:"value"`
}

type SegmentDTO struct {
	LeaveYear int    `json:"leave_year"`
	Amount    string `json:"amount"`
}

type RequestDTO struct {
	ID              string       `json:"id"`
	StaffID         string       `json:"staff_id"`
	SiteID          string       `json:"site_id"`
	StartDate       string       `json:"start_date"`
	EndDate         string       `json:"end_date"`
	Unit            string       `json:"unit"`
	Total           string       `json:"total"`
	Status          string       `json:"status"`
	Reason          string       `json:"reason,omitempty"`
	Destination     string       `json:"destination,omitempty"`
	Days            []DayDTO     `json:"days"`
	Segments        []SegmentDTO `json:"segments"`
	ApproverID      string       `json:"approver_id,omitempty"`
	RejectionReason string       `json:"rejection_reason,omitempty"`
	CancelledBy     string       `json:"cancelled_by,omitempty"`
	SourceRecordID  string       `json:"source_record_id,omitempty"`
	RequestedAt     string       `json:"requested_at"`
	ApprovedAt      *string      `json:"approved_at,omitempty"`
	RejectedAt      *string      `json:"rejected_at,omitempty"`
	CancelledAt     *string      `json:"cancelled_at,omitempty"`
}

// =============================================================================
// ADMIN
// =============================================================================

// RolloverRequest closes FromYear. With no StaffIDs every staff member
// of SiteID (or of every site) is rolled over.
type RolloverRequest struct {
	FromYear int      `json:"from_year" validate:"required,gte=1900,lte=9999"`
	SiteID   string   `json:"site_id"`
	StaffIDs []string `json:"staff_ids" validate:"dive,required"`
	MaxCarry *string  `json:"max_carry" validate:"omitempty,numeric"`
}

type RolloverResultDTO struct {
	StaffID     string          `json:"staff_id"`
	Entitlement *EntitlementDTO `json:"entitlement,omitempty"`
	Error       string          `json:"error,omitempty"`
}

type SchedulerStatusDTO struct {
	Enabled       bool    `json:"enabled"`
	CheckInterval string  `json:"check_interval"`
	Checks        int     `json:"checks"`
	LastCheck     *string `json:"last_check,omitempty"`
	ClosedYear    int     `json:"closed_year,omitempty"`
	Processed     int     `json:"processed"`
	Failed        int     `json:"failed"`
	LastError     string  `json:"last_error,omitempty"`
}

type RecordErrorDTO struct {
	SourceRecordID string `json:"source_record_id,omitempty"`
	StaffID        string `json:"staff_id,omitempty"`
	Row            int    `json:"row,omitempty"`
	Error          string `json:"error"`
}

type ImportReportDTO struct {
	StaffProvisioned int              `json:"staff_provisioned"`
	Records          int              `json:"records"`
	Imported         int              `json:"imported"`
	Skipped          int              `json:"skipped"`
	Errors           []RecordErrorDTO `json:"errors"`
}

// =============================================================================
// SCENARIOS / ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimestampPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTimestamp(*t)
	return &s
}

func toStaffDTO(s holiday.StaffMember) StaffDTO {
	return StaffDTO{
		ID:        string(s.ID),
		SiteID:    s.SiteID,
		Name:      s.Name,
		Role:      s.Role,
		Unit:      string(s.Unit),
		CreatedAt: formatTimestamp(s.CreatedAt),
		UpdatedAt: formatTimestamp(s.UpdatedAt),
	}
}

func toPatternDTO(p holiday.WorkingPattern) PatternDTO {
	days := make(map[string]string, len(p.PerWeekday))
	for wd, v := range p.PerWeekday {
		days[strings.ToLower(wd.String())] = v.String()
	}
	return PatternDTO{
		StaffID:     string(p.StaffID),
		Unit:        string(p.Unit),
		Weekdays:    days,
		WeeklyTotal: p.WeeklyTotal().Value.String(),
		UpdatedAt:   formatTimestamp(p.UpdatedAt),
	}
}

func toEntitlementDTO(e generic.Entitlement) EntitlementDTO {
	return EntitlementDTO{
		StaffID:     string(e.EntityID),
		LeaveYear:   int(e.LeaveYear),
		Unit:        string(e.Annual.Unit),
		Annual:      e.Annual.Value.String(),
		CarriedOver: e.CarriedOver.Value.String(),
		Total:       e.Total().Value.String(),
	}
}

func toBalanceDTO(b generic.Balance) BalanceDTO {
	return BalanceDTO{
		StaffID:     string(b.EntityID),
		LeaveYear:   int(b.LeaveYear),
		Unit:        string(b.Annual.Unit),
		Annual:      b.Annual.Value.String(),
		CarriedOver: b.CarriedOver.Value.String(),
		Entitlement: b.Entitlement().Value.String(),
		Approved:    b.Approved.Value.String(),
		Pending:     b.Pending.Value.String(),
		Remaining:   b.Remaining().Value.String(),
	}
}

func toRequestDTO(r holiday.Request) RequestDTO {
	days := make([]DayDTO, len(r.Days))
	for i, d := range r.Days {
		days[i] = DayDTO{Date: d.Date.String(), Value: d.Value.Value.String()}
	}
	segments := make([]SegmentDTO, len(r.Segments))
	for i, s := range r.Segments {
		segments[i] = SegmentDTO{LeaveYear: int(s.LeaveYear), Amount: s.Amount.Value.String()}
	}
	return RequestDTO{
		ID:              r.ID,
		StaffID:         string(r.StaffID),
		SiteID:          r.SiteID,
		StartDate:       r.Period.Start.String(),
		EndDate:         r.Period.End.String(),
		Unit:            string(r.Unit),
		Total:           r.Total().Value.String(),
		Status:          string(r.Status),
		Reason:          r.Reason,
		Destination:     r.Destination,
		Days:            days,
		Segments:        segments,
		ApproverID:      r.ApproverID,
		RejectionReason: r.RejectionReason,
		CancelledBy:     r.CancelledBy,
		SourceRecordID:  r.SourceRecordID,
		RequestedAt:     formatTimestamp(r.RequestedAt),
		ApprovedAt:      formatTimestampPtr(r.ApprovedAt),
		RejectedAt:      formatTimestampPtr(r.RejectedAt),
		CancelledAt:     formatTimestampPtr(r.CancelledAt),
	}
}

func toRequestDTOs(rs []holiday.Request) []RequestDTO {
	out := make([]RequestDTO, len(rs))
	for i, r := range rs {
		out[i] = toRequestDTO(r)
	}
	return out
}

func toRolloverResultDTOs(results []holiday.RolloverResult) []RolloverResultDTO {
	out := make([]RolloverResultDTO, len(results))
	for i, res := range results {
		out[i] = RolloverResultDTO{StaffID: string(res.StaffID)}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
			continue
		}
		ent := toEntitlementDTO(res.Entitlement)
		out[i].Entitlement = &ent
	}
	return out
}

func toSchedulerStatusDTO(s SchedulerStatus) SchedulerStatusDTO {
	return SchedulerStatusDTO{
		Enabled:       s.Enabled,
		CheckInterval: s.CheckInterval.String(),
		Checks:        s.Checks,
		LastCheck:     formatTimestampPtr(s.LastCheck),
		ClosedYear:    int(s.ClosedYear),
		Processed:     s.Processed,
		Failed:        s.Failed,
		LastError:     s.LastError,
	}
}

func toImportReportDTO(rep *legacy.Report) ImportReportDTO {
	out := ImportReportDTO{
		StaffProvisioned: len(rep.Staff),
		Records:          rep.Records,
		Imported:         rep.Result.Imported,
		Skipped:          rep.Result.Skipped,
		Errors:           []RecordErrorDTO{},
	}
	for _, e := range rep.RowErrors {
		out.Errors = append(out.Errors, RecordErrorDTO{Row: e.Row, Error: e.Err.Error()})
	}
	for _, group := range [][]holiday.RecordError{rep.StaffErrors, rep.GroupErrors, rep.Result.Errors} {
		for _, e := range group {
			out.Errors = append(out.Errors, RecordErrorDTO{SourceRecordID: e.SourceRecordID, StaffID: string(e.StaffID), Error: e.Err.Error()})
		}
	}
	return out
}
