/*
lifecycle.go - Holiday request workflow

PURPOSE:
  The Manager is the only writer of live requests. Every operation is one
  short store transaction that moves the request and the ledger together:

    Submit   pattern -> ValueRange -> Reserve per leave-year -> save pending
    Approve  Commit every reservation            -> approved
    Reject   Release every reservation           -> rejected
    Cancel   pending:  Release every reservation -> cancelled
             approved: ReverseApproved per year  -> cancelled

OVERLAP:
  A date can be charged by one live (pending or approved) request only.
  Submitting over an already booked date fails with ErrOverlappingRequest.

STATE MACHINE:
  pending  -> approved | rejected | cancelled
  approved -> cancelled
  rejected, cancelled: terminal

  Calling approve/reject/cancel on a request that already left the
  required state fails with ErrInvalidStateTransition and changes nothing.

LEAVE-YEAR SPLIT:
  A range crossing a leave-year boundary is valued once, then charged
  per year. All reservations happen in the same transaction: if any
  year is short, nothing is written.

CONCURRENCY:
  Conflicting writers on the same (staff, leave-year) are detected by the
  entitlement version check in LedgerTx.Close; the whole operation is
  retried from a fresh read (bounded, with backoff) and surfaces as
  generic.ErrContention when retries run out.
*/
package holiday

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/holiday-engine/generic"
)

// DefaultMaxRangeDays bounds a single booking when Options leaves it unset.
const DefaultMaxRangeDays = 366

// Options configures the services in this package.
type Options struct {
	Calendar generic.YearCalendar
	Retry    generic.RetryPolicy
	Logger   *zap.Logger
	Metrics  Instrumentation
	Now      func() time.Time
	// MaxRangeDays is the longest range, in calendar days, that one
	// request or imported record may cover.
	MaxRangeDays int
}

func (o Options) withDefaults() Options {
	if o.Retry.Attempts == 0 {
		o.Retry = generic.DefaultRetryPolicy
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Metrics == nil {
		o.Metrics = nopInstrumentation{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.MaxRangeDays <= 0 {
		o.MaxRangeDays = DefaultMaxRangeDays
	}
	return o
}

// checkRange rejects empty ranges and ranges longer than maxDays.
func checkRange(period generic.Period, maxDays int) error {
	if err := period.Validate(); err != nil {
		return fmt.Errorf("%w: %s..%s", ErrInvalidRange, period.Start, period.End)
	}
	if n := period.Len(); n > maxDays {
		return fmt.Errorf("%w: %s covers %d days, at most %d allowed", ErrInvalidRange, period, n, maxDays)
	}
	return nil
}

// checkOverlap fails when one of the booked dates is already charged by a
// pending or approved request of the same staff member.
func checkOverlap(ctx context.Context, st Store, staffID generic.EntityID, val Valuation) error {
	active, err := st.ListActiveRequests(ctx, staffID, val.Period.Start)
	if err != nil {
		return err
	}
	booked := make(map[string]struct{}, len(val.PerDay))
	for _, d := range val.PerDay {
		booked[d.Date.String()] = struct{}{}
	}
	for _, other := range active {
		if !other.Period.Overlaps(val.Period) {
			continue
		}
		for _, d := range other.Days {
			if _, ok := booked[d.Date.String()]; ok {
				return &OverlapError{StaffID: staffID, RequestID: other.ID, Date: d.Date}
			}
		}
	}
	return nil
}

// runner executes ledger-touching closures with retry and instrumentation.
type runner struct {
	store TxStore
	opts  Options
}

func (r runner) run(ctx context.Context, op, actor string, fn func(Store, *generic.LedgerTx) error) error {
	retry := r.opts.Retry
	retry.OnRetry = func(attempt int, err error) {
		r.opts.Metrics.LedgerRetry(op)
		r.opts.Logger.Warn("ledger conflict, retrying",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
	}

	err := retry.Do(ctx, func() error {
		return r.store.WithTx(ctx, func(st Store) error {
			lt := generic.NewLedgerTx(st, actor, r.opts.Now)
			if err := fn(st, lt); err != nil {
				return err
			}
			return lt.Close(ctx)
		})
	})

	switch {
	case err == nil:
	case errors.Is(err, generic.ErrContention):
		r.opts.Metrics.LedgerContention(op)
		r.opts.Logger.Warn("ledger contention", zap.String("op", op), zap.Error(err))
	case generic.IsConsistencyError(err):
		r.opts.Logger.Error("ledger consistency failure", zap.String("op", op), zap.String("actor", actor), zap.Error(err))
	}
	return err
}

// =============================================================================
// MANAGER
// =============================================================================

type Manager struct {
	runner
}

func NewManager(store TxStore, opts Options) *Manager {
	return &Manager{runner{store: store, opts: opts.withDefaults()}}
}

// SubmitInput is a booking as handed over by the UI collaborator.
type SubmitInput struct {
	StaffID     generic.EntityID
	Start       generic.TimePoint
	End         generic.TimePoint
	Reason      string
	Destination string
	ActorID     string
}

func (in SubmitInput) validate(maxDays int) error {
	if err := checkRange(generic.Period{Start: in.Start, End: in.End}, maxDays); err != nil {
		return err
	}
	if len(in.Reason) > MaxReasonLength {
		return fmt.Errorf("%w: reason longer than %d characters", ErrInvalidRequest, MaxReasonLength)
	}
	if len(in.Destination) > MaxReasonLength {
		return fmt.Errorf("%w: destination longer than %d characters", ErrInvalidRequest, MaxReasonLength)
	}
	return nil
}

// Submit values the range against the staff member's pattern and places a
// reservation per leave-year. The request is persisted only if every
// reservation succeeds and none of its dates is already booked.
func (m *Manager) Submit(ctx context.Context, in SubmitInput) (*Request, error) {
	if err := in.validate(m.opts.MaxRangeDays); err != nil {
		return nil, err
	}
	actor := in.ActorID
	if actor == "" {
		actor = string(in.StaffID)
	}

	var req Request
	err := m.run(ctx, "submit", actor, func(st Store, lt *generic.LedgerTx) error {
		staff, pattern, err := loadStaffPattern(ctx, st, in.StaffID)
		if err != nil {
			return err
		}
		val, err := ValueRange(pattern, in.Start, in.End)
		if err != nil {
			return err
		}
		if err := checkOverlap(ctx, st, staff.ID, val); err != nil {
			return err
		}

		now := m.opts.Now().UTC()
		req = Request{
			ID:          newID(),
			StaffID:     staff.ID,
			SiteID:      staff.SiteID,
			Period:      val.Period,
			Unit:        staff.Unit,
			Status:      StatusPending,
			Reason:      strings.TrimSpace(in.Reason),
			Destination: strings.TrimSpace(in.Destination),
			Days:        val.PerDay,
			Segments:    segmentsFrom(val.ByLeaveYear(m.opts.Calendar)),
			RequestedAt: now,
			UpdatedAt:   now,
		}
		for i, seg := range req.Segments {
			id, err := lt.Reserve(ctx, req.key(seg.LeaveYear), seg.Amount, req.ID)
			if err != nil {
				return err
			}
			req.Segments[i].ReservationID = id
		}

		if err := st.SaveRequest(ctx, req); err != nil {
			return err
		}
		return st.AppendAudit(ctx, auditEntry(now, actor, generic.AuditRequestSubmitted, req, map[string]any{
			"total": req.Total().Value.String(),
			"unit":  string(req.Unit),
		}))
	})
	if err != nil {
		m.opts.Logger.Info("holiday request refused",
			zap.String("staff_id", string(in.StaffID)), zap.Stringer("start", in.Start), zap.Stringer("end", in.End), zap.Error(err))
		return nil, err
	}

	m.opts.Metrics.RequestTransition(StatusPending)
	m.opts.Logger.Info("holiday request submitted",
		zap.String("request_id", req.ID), zap.String("staff_id", string(req.StaffID)),
		zap.Stringer("total", req.Total()), zap.Int("segments", len(req.Segments)))
	return &req, nil
}

// Approve commits every reservation of a pending request.
func (m *Manager) Approve(ctx context.Context, requestID, approverID string) (*Request, error) {
	return m.resolve(ctx, "approve", requestID, approverID, StatusApproved, func(lt *generic.LedgerTx, req *Request) error {
		for _, seg := range req.Segments {
			if err := lt.Commit(ctx, seg.ReservationID); err != nil {
				return err
			}
		}
		req.ApproverID = approverID
		return nil
	})
}

// Reject releases every reservation of a pending request.
func (m *Manager) Reject(ctx context.Context, requestID, approverID, reason string) (*Request, error) {
	if len(reason) > MaxReasonLength {
		return nil, fmt.Errorf("%w: rejection reason longer than %d characters", ErrInvalidRequest, MaxReasonLength)
	}
	return m.resolve(ctx, "reject", requestID, approverID, StatusRejected, func(lt *generic.LedgerTx, req *Request) error {
		for _, seg := range req.Segments {
			if err := lt.Release(ctx, seg.ReservationID); err != nil {
				return err
			}
		}
		req.ApproverID = approverID
		req.RejectionReason = strings.TrimSpace(reason)
		return nil
	})
}

// Cancel withdraws a pending request or gives back an approved one.
func (m *Manager) Cancel(ctx context.Context, requestID, actorID string) (*Request, error) {
	return m.resolve(ctx, "cancel", requestID, actorID, StatusCancelled, func(lt *generic.LedgerTx, req *Request) error {
		switch req.Status {
		case StatusPending:
			for _, seg := range req.Segments {
				if err := lt.Release(ctx, seg.ReservationID); err != nil {
					return err
				}
			}
		case StatusApproved:
			for _, seg := range req.Segments {
				ref := req.ID + "/" + fmt.Sprint(seg.LeaveYear)
				if err := lt.ReverseApproved(ctx, req.key(seg.LeaveYear), seg.Amount, ref); err != nil {
					return err
				}
			}
		}
		req.CancelledBy = actorID
		return nil
	})
}

// resolve runs a transition: load, check the state machine, apply the
// ledger side, save, audit.
func (m *Manager) resolve(ctx context.Context, op, requestID, actor string, next Status, apply func(*generic.LedgerTx, *Request) error) (*Request, error) {
	var req *Request
	err := m.run(ctx, op, actor, func(st Store, lt *generic.LedgerTx) error {
		var err error
		req, err = st.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req == nil {
			return fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
		}
		if !req.Status.CanTransition(next) {
			return &TransitionError{RequestID: req.ID, From: req.Status, To: next}
		}

		from := req.Status
		if err := apply(lt, req); err != nil {
			return err
		}
		now := m.opts.Now().UTC()
		if err := req.transition(next, now); err != nil {
			return err
		}
		if err := st.SaveRequest(ctx, *req); err != nil {
			return err
		}
		return st.AppendAudit(ctx, auditEntry(now, actor, auditActionFor(next), *req, map[string]any{
			"from": string(from),
		}))
	})
	if err != nil {
		return nil, err
	}

	m.opts.Metrics.RequestTransition(next)
	m.opts.Logger.Info("holiday request "+string(next),
		zap.String("request_id", req.ID), zap.String("actor", actor))
	return req, nil
}

// Get returns one request.
func (m *Manager) Get(ctx context.Context, requestID string) (*Request, error) {
	req, err := m.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}
	return req, nil
}

// History returns all requests of a staff member, newest first.
func (m *Manager) History(ctx context.Context, staffID generic.EntityID) ([]Request, error) {
	return m.store.ListRequestsByStaff(ctx, staffID)
}

// Pending returns the approval queue of a site ("" for all sites).
func (m *Manager) Pending(ctx context.Context, siteID string) ([]Request, error) {
	return m.store.ListPendingRequests(ctx, siteID)
}

// Balance projects the ledger for (staff, leave-year).
func (m *Manager) Balance(ctx context.Context, staffID generic.EntityID, year generic.LeaveYear) (generic.Balance, error) {
	var b generic.Balance
	err := m.store.WithTx(ctx, func(st Store) error {
		var err error
		b, err = generic.NewLedgerTx(st, "", m.opts.Now).Balance(ctx, generic.LedgerKey{EntityID: staffID, LeaveYear: year})
		return err
	})
	return b, err
}

// YearOf exposes the configured leave-year calendar.
func (m *Manager) YearOf(date generic.TimePoint) generic.LeaveYear {
	return m.opts.Calendar.YearOf(date)
}

// =============================================================================
// HELPERS
// =============================================================================

func loadStaffPattern(ctx context.Context, st Store, staffID generic.EntityID) (*StaffMember, WorkingPattern, error) {
	staff, err := st.GetStaff(ctx, staffID)
	if err != nil {
		return nil, WorkingPattern{}, err
	}
	if staff == nil {
		return nil, WorkingPattern{}, fmt.Errorf("%w: %s", ErrStaffNotFound, staffID)
	}
	pattern, err := st.GetPattern(ctx, staffID)
	if err != nil {
		return nil, WorkingPattern{}, err
	}
	if pattern == nil {
		// No pattern: every day is worth zero.
		return staff, WorkingPattern{StaffID: staffID, Unit: staff.Unit}, nil
	}
	return staff, *pattern, nil
}

func auditActionFor(s Status) generic.AuditAction {
	switch s {
	case StatusApproved:
		return generic.AuditRequestApproved
	case StatusRejected:
		return generic.AuditRequestRejected
	case StatusCancelled:
		return generic.AuditRequestCancelled
	default:
		return generic.AuditRequestSubmitted
	}
}

func auditEntry(at time.Time, actor string, action generic.AuditAction, req Request, payload map[string]any) generic.AuditEntry {
	return generic.AuditEntry{
		ID:        newID(),
		Timestamp: at,
		ActorID:   actor,
		Action:    action,
		EntityID:  req.StaffID,
		RequestID: req.ID,
		Payload:   payload,
	}
}

func newID() string { return uuid.NewString() }
