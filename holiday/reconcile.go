/*
reconcile.go - Historical import

PURPOSE:
  Legacy spreadsheets hold leave that was taken before the ledger existed.
  The Reconciler turns those rows into approved requests with frozen day
  values and the matching consumption movements, using the same valuation
  as live bookings.

PIPELINE:
  ProvisionLegacyStaff  staff sheet  -> staff, pattern, entitlement
  GroupLegacyDays       day rows     -> one LegacyRecord per run of days
  ImportLegacyRecords   LegacyRecord -> approved request + RecordApproved

IDEMPOTENCY:
  A record is identified by (staff, start, end, source record id). The
  request table is checked first, then every ledger movement carries an
  "import:" idempotency key derived from the same natural key. Importing
  the same file twice leaves the ledger unchanged and reports the
  records as skipped.

PARALLELISM:
  Records are partitioned by staff member. Partitions run concurrently up
  to the configured worker count; records of one staff member run in
  order, so they never contend with each other.
*/
package holiday

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/holiday-engine/generic"
)

// LegacyApprover is recorded as approver when the source has none.
const LegacyApprover = "legacy-import"

// Import outcomes, as reported to Instrumentation.
const (
	OutcomeImported = "imported"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// legacyNamespace seeds deterministic staff ids for imported staff.
var legacyNamespace = uuid.MustParse("6f1c2a4e-8b0d-5e7a-9c3f-2d4b6a8e0c1f")

// LegacyStaffID returns the id an imported staff member receives.
func LegacyStaffID(siteID, name string) generic.EntityID {
	key := siteID + "/" + strings.ToLower(strings.TrimSpace(name))
	return generic.EntityID(uuid.NewSHA1(legacyNamespace, []byte(key)).String())
}

// LegacyRecord is one approved absence from the old system.
type LegacyRecord struct {
	SourceRecordID string
	StaffID        generic.EntityID
	Start          generic.TimePoint
	End            generic.TimePoint
	Reason         string
	ApprovedBy     string
	ApprovedAt     *time.Time

	// LegacyTotal is what the old system said the absence was worth.
	// Only used to flag discrepancies.
	LegacyTotal *generic.Amount
}

func (r LegacyRecord) naturalKey() string {
	return fmt.Sprintf("%s|%s|%s|%s", r.StaffID, r.Start, r.End, r.SourceRecordID)
}

// RecordError ties a failure to its source row.
type RecordError struct {
	SourceRecordID string
	StaffID        generic.EntityID
	Err            error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %s (staff %s): %v", e.SourceRecordID, e.StaffID, e.Err)
}

func (e RecordError) Unwrap() error { return e.Err }

type ImportResult struct {
	Imported int
	Skipped  int
	Errors   []RecordError
}

// ImportOptions tunes the Reconciler.
type ImportOptions struct {
	Workers           int
	EffectiveDayHours decimal.Decimal
}

type Reconciler struct {
	runner
	workers      int
	effectiveDay decimal.Decimal
}

func NewReconciler(store TxStore, opts Options, imp ImportOptions) *Reconciler {
	if imp.Workers <= 0 {
		imp.Workers = 4
	}
	if !imp.EffectiveDayHours.IsPositive() {
		imp.EffectiveDayHours = DefaultEffectiveDayHours
	}
	return &Reconciler{
		runner:       runner{store: store, opts: opts.withDefaults()},
		workers:      imp.Workers,
		effectiveDay: imp.EffectiveDayHours,
	}
}

// =============================================================================
// IMPORT
// =============================================================================

// ImportLegacyRecords imports approved history. Per-record failures are
// collected; only context cancellation aborts the batch.
func (r *Reconciler) ImportLegacyRecords(ctx context.Context, records []LegacyRecord) (ImportResult, error) {
	partitions := make(map[generic.EntityID][]LegacyRecord)
	var order []generic.EntityID
	for _, rec := range records {
		if _, ok := partitions[rec.StaffID]; !ok {
			order = append(order, rec.StaffID)
		}
		partitions[rec.StaffID] = append(partitions[rec.StaffID], rec)
	}

	var (
		mu     sync.Mutex
		result ImportResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for _, staffID := range order {
		recs := partitions[staffID]
		g.Go(func() error {
			for _, rec := range recs {
				if err := gctx.Err(); err != nil {
					return err
				}
				outcome, err := r.importOne(gctx, rec)
				r.opts.Metrics.ImportRecord(outcome)

				mu.Lock()
				switch outcome {
				case OutcomeImported:
					result.Imported++
				case OutcomeSkipped:
					result.Skipped++
				default:
					result.Errors = append(result.Errors, RecordError{SourceRecordID: rec.SourceRecordID, StaffID: rec.StaffID, Err: err})
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	sort.Slice(result.Errors, func(i, j int) bool {
		if result.Errors[i].StaffID != result.Errors[j].StaffID {
			return result.Errors[i].StaffID < result.Errors[j].StaffID
		}
		return result.Errors[i].SourceRecordID < result.Errors[j].SourceRecordID
	})
	r.opts.Logger.Info("legacy import finished",
		zap.Int("records", len(records)), zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped), zap.Int("errors", len(result.Errors)))
	return result, nil
}

func (r *Reconciler) importOne(ctx context.Context, rec LegacyRecord) (string, error) {
	if rec.SourceRecordID == "" {
		return OutcomeFailed, fmt.Errorf("%w: source record id is required", ErrInvalidRequest)
	}
	if err := checkRange(generic.Period{Start: rec.Start, End: rec.End}, r.opts.MaxRangeDays); err != nil {
		return OutcomeFailed, err
	}
	approver := rec.ApprovedBy
	if approver == "" {
		approver = LegacyApprover
	}

	var req Request
	err := r.run(ctx, "import", approver, func(st Store, lt *generic.LedgerTx) error {
		period := generic.Period{Start: rec.Start, End: rec.End}
		existing, err := st.FindImportedRequest(ctx, rec.StaffID, period, rec.SourceRecordID)
		if err != nil {
			return err
		}
		if existing != nil {
			return &ImportConflictError{SourceRecordID: rec.SourceRecordID, RequestID: existing.ID}
		}

		staff, pattern, err := loadStaffPattern(ctx, st, rec.StaffID)
		if err != nil {
			return err
		}
		val, err := ValueRange(pattern, rec.Start, rec.End)
		if err != nil {
			return err
		}
		if err := checkOverlap(ctx, st, staff.ID, val); err != nil {
			return err
		}

		now := r.opts.Now().UTC()
		approvedAt := now
		if rec.ApprovedAt != nil {
			approvedAt = rec.ApprovedAt.UTC()
		}
		req = Request{
			ID:             newID(),
			StaffID:        staff.ID,
			SiteID:         staff.SiteID,
			Period:         val.Period,
			Unit:           staff.Unit,
			Status:         StatusApproved,
			Reason:         rec.Reason,
			Days:           val.PerDay,
			Segments:       segmentsFrom(val.ByLeaveYear(r.opts.Calendar)),
			ApproverID:     approver,
			SourceRecordID: rec.SourceRecordID,
			RequestedAt:    approvedAt,
			ApprovedAt:     &approvedAt,
			UpdatedAt:      now,
		}
		for _, seg := range req.Segments {
			ref := fmt.Sprintf("%s/%d", rec.naturalKey(), seg.LeaveYear)
			if err := lt.RecordApproved(ctx, req.key(seg.LeaveYear), seg.Amount, ref); err != nil {
				if errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
					return &ImportConflictError{SourceRecordID: rec.SourceRecordID}
				}
				return err
			}
		}

		if err := st.SaveRequest(ctx, req); err != nil {
			return err
		}
		return st.AppendAudit(ctx, auditEntry(now, approver, generic.AuditLegacyImport, req, map[string]any{
			"source_record_id": rec.SourceRecordID,
			"total":            req.Total().Value.String(),
		}))
	})

	switch {
	case err == nil:
	case errors.Is(err, ErrImportConflict):
		r.opts.Logger.Debug("legacy record already imported",
			zap.String("source_record_id", rec.SourceRecordID), zap.String("staff_id", string(rec.StaffID)))
		return OutcomeSkipped, err
	default:
		r.opts.Logger.Warn("legacy record failed",
			zap.String("source_record_id", rec.SourceRecordID), zap.String("staff_id", string(rec.StaffID)), zap.Error(err))
		return OutcomeFailed, err
	}

	if rec.LegacyTotal != nil && !rec.LegacyTotal.Equal(req.Total()) {
		r.opts.Logger.Warn("legacy total differs from valued total",
			zap.String("source_record_id", rec.SourceRecordID),
			zap.Stringer("legacy", *rec.LegacyTotal), zap.Stringer("valued", req.Total()))
	}
	return OutcomeImported, nil
}

// =============================================================================
// GROUPING
// =============================================================================

// LegacyDay is one row of the legacy per-day sheet.
type LegacyDay struct {
	SiteID    string
	StaffName string
	Date      generic.TimePoint
	Value     string
	Reason    string
}

// GroupLegacyDays folds per-day rows into records. A record covers a run
// of booked days in the same month; a working day that was not booked
// ends the run. Rows for unknown staff or with unreadable values are
// returned as errors.
func (r *Reconciler) GroupLegacyDays(ctx context.Context, days []LegacyDay) ([]LegacyRecord, []RecordError) {
	type staffDays struct {
		staff   *StaffMember
		pattern WorkingPattern
		values  map[string]decimal.Decimal
		dates   map[string]generic.TimePoint
		reason  string
	}
	byStaff := make(map[generic.EntityID]*staffDays)
	var order []generic.EntityID
	var errs []RecordError

	for _, d := range days {
		rowID := fmt.Sprintf("%s@%s", d.StaffName, d.Date)
		staff, err := r.store.FindStaffByName(ctx, d.SiteID, d.StaffName)
		if err == nil && staff == nil {
			err = fmt.Errorf("%w: %q at site %q", ErrStaffNotFound, d.StaffName, d.SiteID)
		}
		if err != nil {
			errs = append(errs, RecordError{SourceRecordID: rowID, Err: err})
			continue
		}

		sd, ok := byStaff[staff.ID]
		if !ok {
			_, pattern, err := loadStaffPattern(ctx, r.store, staff.ID)
			if err != nil {
				errs = append(errs, RecordError{SourceRecordID: rowID, StaffID: staff.ID, Err: err})
				continue
			}
			sd = &staffDays{staff: staff, pattern: pattern, values: make(map[string]decimal.Decimal), dates: make(map[string]generic.TimePoint)}
			byStaff[staff.ID] = sd
			order = append(order, staff.ID)
		}

		value, err := r.parseDayValue(staff.Unit, d.Value)
		if err != nil {
			errs = append(errs, RecordError{SourceRecordID: rowID, StaffID: staff.ID, Err: err})
			continue
		}
		if !value.IsPositive() {
			continue
		}
		day := d.Date.String()
		sd.values[day] = sd.values[day].Add(value)
		sd.dates[day] = d.Date
		if sd.reason == "" {
			sd.reason = d.Reason
		}
	}

	var records []LegacyRecord
	for _, id := range order {
		sd := byStaff[id]
		dates := make([]generic.TimePoint, 0, len(sd.dates))
		for _, date := range sd.dates {
			dates = append(dates, date)
		}
		sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

		for i := 0; i < len(dates); {
			j := i
			for j+1 < len(dates) && sameRun(sd.pattern, dates[j], dates[j+1]) {
				j++
			}
			total := decimal.Zero
			for _, date := range dates[i : j+1] {
				total = total.Add(sd.values[date.String()])
			}
			legacyTotal := generic.NewAmountFromDecimal(total, sd.staff.Unit)
			records = append(records, LegacyRecord{
				SourceRecordID: fmt.Sprintf("legacy:%s:%s", id, dates[i]),
				StaffID:        id,
				Start:          dates[i],
				End:            dates[j],
				Reason:         sd.reason,
				LegacyTotal:    &legacyTotal,
			})
			i = j + 1
		}
	}
	return records, errs
}

// sameRun reports whether next continues the run ending at prev: same
// month, and no working day in between.
func sameRun(p WorkingPattern, prev, next generic.TimePoint) bool {
	if prev.Year() != next.Year() || prev.Month() != next.Month() {
		return false
	}
	for d := prev.AddDays(1); d.Before(next); d = d.AddDays(1) {
		if p.ValueOn(d.Weekday()).IsPositive() {
			return false
		}
	}
	return true
}

// parseDayValue reads a legacy cell: clock text for hours, a half-step
// count for sessions.
func (r *Reconciler) parseDayValue(unit generic.Unit, s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return decimal.Zero, nil
	}
	if unit == generic.UnitSessions {
		d, err := ParseSessionCount(s)
		return d.Amount, err
	}
	d, err := ParseLegacyDuration(s, r.effectiveDay)
	return d.Amount, err
}

// =============================================================================
// STAFF PROVISIONING
// =============================================================================

// LegacyStaff is one row of the legacy staff sheet. Pattern values are
// "H:MM" for hourly staff and session counts for clinicians.
type LegacyStaff struct {
	SiteID      string
	Name        string
	Role        string
	Entitlement string
	CarriedOver string
	Pattern     map[time.Weekday]string
}

// ProvisionLegacyStaff creates or updates staff, their pattern and their
// entitlement for year. Running it twice yields the same state.
func (r *Reconciler) ProvisionLegacyStaff(ctx context.Context, rows []LegacyStaff, year generic.LeaveYear) ([]StaffMember, []RecordError) {
	var (
		out  []StaffMember
		errs []RecordError
	)
	for _, row := range rows {
		staff, err := r.provisionOne(ctx, row, year)
		if err != nil {
			errs = append(errs, RecordError{SourceRecordID: "staff:" + row.Name, StaffID: LegacyStaffID(row.SiteID, row.Name), Err: err})
			continue
		}
		out = append(out, staff)
	}
	r.opts.Logger.Info("legacy staff provisioned", zap.Int("staff", len(out)), zap.Int("errors", len(errs)))
	return out, errs
}

func (r *Reconciler) provisionOne(ctx context.Context, row LegacyStaff, year generic.LeaveYear) (StaffMember, error) {
	name := strings.TrimSpace(row.Name)
	if name == "" {
		return StaffMember{}, fmt.Errorf("%w: staff name is required", ErrInvalidRequest)
	}
	unit := UnitForRole(row.Role)

	per := make(map[time.Weekday]decimal.Decimal, len(row.Pattern))
	for wd, raw := range row.Pattern {
		v, err := r.parsePatternValue(unit, raw)
		if err != nil {
			return StaffMember{}, fmt.Errorf("%s pattern: %w", wd, err)
		}
		if v.IsPositive() {
			per[wd] = v
		}
	}
	if err := ValidatePattern(unit, per); err != nil {
		return StaffMember{}, err
	}
	annual, err := r.parseEntitlement(unit, row.Entitlement)
	if err != nil {
		return StaffMember{}, fmt.Errorf("entitlement: %w", err)
	}
	carried := generic.NewAmount(0, unit)
	if strings.TrimSpace(row.CarriedOver) != "" {
		if carried, err = r.parseEntitlement(unit, row.CarriedOver); err != nil {
			return StaffMember{}, fmt.Errorf("carried over: %w", err)
		}
	}

	var staff StaffMember
	err = r.run(ctx, "provision", LegacyApprover, func(st Store, lt *generic.LedgerTx) error {
		existing, err := st.FindStaffByName(ctx, row.SiteID, name)
		if err != nil {
			return err
		}
		now := r.opts.Now().UTC()
		staff = StaffMember{
			ID:        LegacyStaffID(row.SiteID, name),
			SiteID:    row.SiteID,
			Name:      name,
			Role:      strings.TrimSpace(row.Role),
			Unit:      unit,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if existing != nil {
			if existing.Unit != unit {
				return fmt.Errorf("%w: %s is measured in %s, role %q implies %s", ErrUnitChange, name, existing.Unit, row.Role, unit)
			}
			staff.ID = existing.ID
			staff.CreatedAt = existing.CreatedAt
		}
		if err := st.SaveStaff(ctx, staff); err != nil {
			return err
		}
		if err := st.SavePattern(ctx, WorkingPattern{StaffID: staff.ID, Unit: unit, PerWeekday: per, UpdatedAt: now}); err != nil {
			return err
		}
		if _, err := lt.SetEntitlement(ctx, generic.LedgerKey{EntityID: staff.ID, LeaveYear: year}, annual, carried); err != nil {
			return err
		}
		return st.AppendAudit(ctx, generic.AuditEntry{
			ID:        newID(),
			Timestamp: now,
			ActorID:   LegacyApprover,
			Action:    generic.AuditEntitlementSet,
			EntityID:  staff.ID,
			Payload: map[string]any{
				"year":         int(year),
				"annual":       annual.Value.String(),
				"carried_over": carried.Value.String(),
				"source":       "legacy",
			},
		})
	})
	return staff, err
}

func (r *Reconciler) parsePatternValue(unit generic.Unit, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	if unit == generic.UnitSessions {
		d, err := ParseSessionCount(raw)
		return d.Amount, err
	}
	if v, err := ParseClockValue(raw); err == nil {
		return v, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidDuration, raw)
	}
	return v, nil
}

func (r *Reconciler) parseEntitlement(unit generic.Unit, raw string) (generic.Amount, error) {
	if unit == generic.UnitSessions {
		d, err := ParseSessionCount(raw)
		if err != nil {
			return generic.Amount{}, err
		}
		return d.ToAmount(), nil
	}
	d, err := ParseLegacyDuration(raw, r.effectiveDay)
	if err != nil {
		return generic.Amount{}, err
	}
	return d.ToAmount(), nil
}
