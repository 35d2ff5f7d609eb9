package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/warp/holiday-engine/generic"
	"github.com/warp/holiday-engine/holiday"
)

// =============================================================================
// HOLIDAY REQUESTS
// =============================================================================

type requestRow struct {
	ID              string         `db:"id"`
	StaffID         string         `db:"staff_id"`
	SiteID          string         `db:"site_id"`
	StartDate       string         `db:"start_date"`
	EndDate         string         `db:"end_date"`
	Unit            string         `db:"unit"`
	Status          string         `db:"status"`
	Reason          string         `db:"reason"`
	Destination     string         `db:"destination"`
	SegmentsJSON    string         `db:"segments_json"`
	ApproverID      sql.NullString `db:"approver_id"`
	RejectionReason sql.NullString `db:"rejection_reason"`
	CancelledBy     sql.NullString `db:"cancelled_by"`
	SourceRecordID  sql.NullString `db:"source_record_id"`
	RequestedAt     string         `db:"requested_at"`
	ApprovedAt      sql.NullString `db:"approved_at"`
	RejectedAt      sql.NullString `db:"rejected_at"`
	CancelledAt     sql.NullString `db:"cancelled_at"`
	UpdatedAt       string         `db:"updated_at"`
}

// segmentJSON is the stored shape of a holiday.Segment.
type segmentJSON struct {
	LeaveYear     int    `json:"leave_year"`
	Amount        string `json:"amount"`
	ReservationID string `json:"reservation_id,omitempty"`
}

type dayRow struct {
	RequestID string `db:"request_id"`
	Date      string `db:"date"`
	Value     string `db:"value"`
	Unit      string `db:"unit"`
}

const selectRequests = `
	SELECT id, staff_id, site_id, start_date, end_date, unit, status, reason, destination,
	       segments_json, approver_id, rejection_reason, cancelled_by, source_record_id,
	       requested_at, approved_at, rejected_at, cancelled_at, updated_at
	FROM holiday_request`

// SaveRequest upserts the request. Day rows are inserted the first time
// the request is seen and never touched again.
func (s *Store) SaveRequest(ctx context.Context, r holiday.Request) error {
	segments := make([]segmentJSON, 0, len(r.Segments))
	for _, seg := range r.Segments {
		segments = append(segments, segmentJSON{
			LeaveYear:     int(seg.LeaveYear),
			Amount:        seg.Amount.Value.String(),
			ReservationID: string(seg.ReservationID),
		})
	}
	segmentsJSON, err := json.Marshal(segments)
	if err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}

	return s.WithTx(ctx, func(hs holiday.Store) error {
		q := hs.(*Store).q

		var exists int
		if err := sqlx.GetContext(ctx, q, &exists, `SELECT COUNT(*) FROM holiday_request WHERE id = ?`, r.ID); err != nil {
			return mapError("check request", err)
		}

		const upsert = `
			INSERT INTO holiday_request
			(id, staff_id, site_id, start_date, end_date, unit, status, reason, destination,
			 segments_json, approver_id, rejection_reason, cancelled_by, source_record_id,
			 requested_at, approved_at, rejected_at, cancelled_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				segments_json = excluded.segments_json,
				approver_id = excluded.approver_id,
				rejection_reason = excluded.rejection_reason,
				cancelled_by = excluded.cancelled_by,
				approved_at = excluded.approved_at,
				rejected_at = excluded.rejected_at,
				cancelled_at = excluded.cancelled_at,
				updated_at = excluded.updated_at
		`
		_, err := q.ExecContext(ctx, upsert,
			r.ID, r.StaffID, r.SiteID,
			r.Period.Start.String(), r.Period.End.String(),
			r.Unit, r.Status, r.Reason, r.Destination,
			string(segmentsJSON),
			nullString(r.ApproverID), nullString(r.RejectionReason), nullString(r.CancelledBy),
			nullString(r.SourceRecordID),
			formatTime(r.RequestedAt), nullTime(r.ApprovedAt), nullTime(r.RejectedAt), nullTime(r.CancelledAt),
			formatTime(r.UpdatedAt),
		)
		if err != nil {
			err = mapError("save request", err)
			if errors.Is(err, generic.ErrDuplicateIdempotencyKey) && r.SourceRecordID != "" {
				return &holiday.ImportConflictError{SourceRecordID: r.SourceRecordID}
			}
			return err
		}
		if exists > 0 {
			return nil
		}

		for _, d := range r.Days {
			_, err := q.ExecContext(ctx,
				`INSERT INTO holiday_request_day (request_id, date, value, unit) VALUES (?, ?, ?, ?)`,
				r.ID, d.Date.String(), d.Value.Value.String(), d.Value.Unit)
			if err != nil {
				return mapError("save request day", err)
			}
		}
		return nil
	})
}

// GetRequest returns nil, nil for an unknown id.
func (s *Store) GetRequest(ctx context.Context, id string) (*holiday.Request, error) {
	reqs, err := s.queryRequests(ctx, selectRequests+` WHERE id = ?`, id)
	if err != nil || len(reqs) == 0 {
		return nil, err
	}
	return &reqs[0], nil
}

// ListRequestsByStaff returns a staff member's requests, newest first.
func (s *Store) ListRequestsByStaff(ctx context.Context, staffID generic.EntityID) ([]holiday.Request, error) {
	return s.queryRequests(ctx, selectRequests+` WHERE staff_id = ? ORDER BY requested_at DESC, id DESC`, staffID)
}

// ListPendingRequests returns the approval queue, oldest first.
func (s *Store) ListPendingRequests(ctx context.Context, siteID string) ([]holiday.Request, error) {
	query := selectRequests + ` WHERE status = 'pending'`
	var args []any
	if siteID != "" {
		query += ` AND site_id = ?`
		args = append(args, siteID)
	}
	return s.queryRequests(ctx, query+` ORDER BY requested_at ASC, id ASC`, args...)
}

// ListActiveRequests returns pending and approved requests that end on or
// after from, earliest first.
func (s *Store) ListActiveRequests(ctx context.Context, staffID generic.EntityID, from generic.TimePoint) ([]holiday.Request, error) {
	return s.queryRequests(ctx,
		selectRequests+` WHERE staff_id = ? AND status IN ('pending', 'approved') AND end_date >= ? ORDER BY start_date ASC, id ASC`,
		staffID, from.String())
}

// FindImportedRequest looks up a request by its legacy natural key.
func (s *Store) FindImportedRequest(ctx context.Context, staffID generic.EntityID, period generic.Period, sourceRecordID string) (*holiday.Request, error) {
	reqs, err := s.queryRequests(ctx,
		selectRequests+` WHERE staff_id = ? AND start_date = ? AND end_date = ? AND source_record_id = ?`,
		staffID, period.Start.String(), period.End.String(), sourceRecordID)
	if err != nil || len(reqs) == 0 {
		return nil, err
	}
	return &reqs[0], nil
}

func (s *Store) queryRequests(ctx context.Context, query string, args ...any) ([]holiday.Request, error) {
	var rows []requestRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, query, args...); err != nil {
		return nil, mapError("query requests", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	days, err := s.loadDays(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]holiday.Request, 0, len(rows))
	for _, r := range rows {
		req, err := r.toRequest(days[r.ID])
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

func (s *Store) loadDays(ctx context.Context, requestIDs []string) (map[string][]holiday.DayValue, error) {
	query, args, err := sqlx.In(
		`SELECT request_id, date, value, unit FROM holiday_request_day WHERE request_id IN (?) ORDER BY request_id, date`,
		requestIDs)
	if err != nil {
		return nil, fmt.Errorf("build day query: %w", err)
	}
	var rows []dayRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, query, args...); err != nil {
		return nil, mapError("load request days", err)
	}

	out := make(map[string][]holiday.DayValue, len(requestIDs))
	for _, r := range rows {
		date, err := generic.ParseDate(r.Date)
		if err != nil {
			return nil, fmt.Errorf("request %s day: %w", r.RequestID, err)
		}
		value, err := parseAmount(r.Value, r.Unit)
		if err != nil {
			return nil, fmt.Errorf("request %s day %s: %w", r.RequestID, r.Date, err)
		}
		out[r.RequestID] = append(out[r.RequestID], holiday.DayValue{Date: date, Value: value})
	}
	return out, nil
}

func (r requestRow) toRequest(days []holiday.DayValue) (holiday.Request, error) {
	start, err := generic.ParseDate(r.StartDate)
	if err != nil {
		return holiday.Request{}, fmt.Errorf("request %s start: %w", r.ID, err)
	}
	end, err := generic.ParseDate(r.EndDate)
	if err != nil {
		return holiday.Request{}, fmt.Errorf("request %s end: %w", r.ID, err)
	}

	var stored []segmentJSON
	if err := json.Unmarshal([]byte(r.SegmentsJSON), &stored); err != nil {
		return holiday.Request{}, fmt.Errorf("request %s segments: %w", r.ID, err)
	}
	segments := make([]holiday.Segment, 0, len(stored))
	for _, seg := range stored {
		amount, err := parseAmount(seg.Amount, r.Unit)
		if err != nil {
			return holiday.Request{}, fmt.Errorf("request %s segment %d: %w", r.ID, seg.LeaveYear, err)
		}
		segments = append(segments, holiday.Segment{
			LeaveYear:     generic.LeaveYear(seg.LeaveYear),
			Amount:        amount,
			ReservationID: generic.ReservationID(seg.ReservationID),
		})
	}

	return holiday.Request{
		ID:              r.ID,
		StaffID:         generic.EntityID(r.StaffID),
		SiteID:          r.SiteID,
		Period:          generic.Period{Start: start, End: end},
		Unit:            generic.Unit(r.Unit),
		Status:          holiday.Status(r.Status),
		Reason:          r.Reason,
		Destination:     r.Destination,
		Days:            days,
		Segments:        segments,
		ApproverID:      r.ApproverID.String,
		RejectionReason: r.RejectionReason.String,
		CancelledBy:     r.CancelledBy.String,
		SourceRecordID:  r.SourceRecordID.String,
		RequestedAt:     parseTime(r.RequestedAt),
		ApprovedAt:      parseNullTime(r.ApprovedAt),
		RejectedAt:      parseNullTime(r.RejectedAt),
		CancelledAt:     parseNullTime(r.CancelledAt),
		UpdatedAt:       parseTime(r.UpdatedAt),
	}, nil
}
