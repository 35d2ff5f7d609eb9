package holiday

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/holiday-engine/generic"
)

// =============================================================================
// DIRECTORY - Staff records, working patterns and entitlements
// =============================================================================

// Directory administers the inputs the workflow reads: who the staff are,
// what their week looks like, and how much leave each year grants.
type Directory struct {
	runner
}

func NewDirectory(store TxStore, opts Options) *Directory {
	return &Directory{runner{store: store, opts: opts.withDefaults()}}
}

// ProvisionInput creates or updates a staff record.
type ProvisionInput struct {
	ID      generic.EntityID
	SiteID  string
	Name    string
	Role    string
	ActorID string
}

// Provision upserts a staff member. The unit is derived from the role and
// cannot change once the member has a ledger, since amounts already
// recorded would become meaningless.
func (d *Directory) Provision(ctx context.Context, in ProvisionInput) (*StaffMember, error) {
	if in.ID == "" || strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: staff id and name are required", ErrInvalidRequest)
	}

	var out StaffMember
	err := d.store.WithTx(ctx, func(st Store) error {
		existing, err := st.GetStaff(ctx, in.ID)
		if err != nil {
			return err
		}
		now := d.opts.Now().UTC()
		unit := UnitForRole(in.Role)

		out = StaffMember{
			ID:        in.ID,
			SiteID:    in.SiteID,
			Name:      strings.TrimSpace(in.Name),
			Role:      strings.TrimSpace(in.Role),
			Unit:      unit,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if existing != nil {
			if existing.Unit != unit {
				return fmt.Errorf("%w: %s is measured in %s, role %q implies %s",
					ErrUnitChange, in.ID, existing.Unit, in.Role, unit)
			}
			out.CreatedAt = existing.CreatedAt
		}
		return st.SaveStaff(ctx, out)
	})
	if err != nil {
		return nil, err
	}
	d.opts.Logger.Info("staff provisioned",
		zap.String("staff_id", string(out.ID)), zap.String("site_id", out.SiteID), zap.String("unit", string(out.Unit)))
	return &out, nil
}

// Staff returns one staff member.
func (d *Directory) Staff(ctx context.Context, id generic.EntityID) (*StaffMember, error) {
	s, err := d.store.GetStaff(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrStaffNotFound, id)
	}
	return s, nil
}

// List returns the staff of one site, or of every site when siteID is
// empty, ordered by name.
func (d *Directory) List(ctx context.Context, siteID string) ([]StaffMember, error) {
	return d.store.ListStaff(ctx, siteID)
}

// Pattern returns the working pattern, or an empty pattern in the staff
// member's unit when none was recorded.
func (d *Directory) Pattern(ctx context.Context, id generic.EntityID) (WorkingPattern, error) {
	_, p, err := loadStaffPattern(ctx, d.store, id)
	return p, err
}

// SetPattern replaces the working pattern. Existing requests keep the day
// values frozen at submission.
func (d *Directory) SetPattern(ctx context.Context, id generic.EntityID, perWeekday map[time.Weekday]decimal.Decimal, actor string) (WorkingPattern, error) {
	var out WorkingPattern
	err := d.store.WithTx(ctx, func(st Store) error {
		staff, err := st.GetStaff(ctx, id)
		if err != nil {
			return err
		}
		if staff == nil {
			return fmt.Errorf("%w: %s", ErrStaffNotFound, id)
		}
		if err := ValidatePattern(staff.Unit, perWeekday); err != nil {
			return err
		}

		now := d.opts.Now().UTC()
		out = WorkingPattern{StaffID: id, Unit: staff.Unit, PerWeekday: perWeekday, UpdatedAt: now}
		if err := st.SavePattern(ctx, out); err != nil {
			return err
		}

		payload := make(map[string]any, len(perWeekday))
		for wd, v := range perWeekday {
			payload[strings.ToLower(wd.String())] = v.String()
		}
		return st.AppendAudit(ctx, generic.AuditEntry{
			ID:        newID(),
			Timestamp: now,
			ActorID:   actor,
			Action:    generic.AuditPatternChanged,
			EntityID:  id,
			Payload:   payload,
		})
	})
	if err != nil {
		return WorkingPattern{}, err
	}
	d.opts.Logger.Info("working pattern changed",
		zap.String("staff_id", string(id)), zap.Stringer("weekly_total", out.WeeklyTotal()))
	return out, nil
}

// SetEntitlement records the annual allowance and carry-over for a year.
// Both amounts are given in the staff member's unit.
func (d *Directory) SetEntitlement(ctx context.Context, id generic.EntityID, year generic.LeaveYear, annual, carriedOver decimal.Decimal, actor string) (generic.Entitlement, error) {
	var ent generic.Entitlement
	err := d.run(ctx, "set_entitlement", actor, func(st Store, lt *generic.LedgerTx) error {
		staff, err := st.GetStaff(ctx, id)
		if err != nil {
			return err
		}
		if staff == nil {
			return fmt.Errorf("%w: %s", ErrStaffNotFound, id)
		}
		ent, err = lt.SetEntitlement(ctx, generic.LedgerKey{EntityID: id, LeaveYear: year},
			generic.NewAmountFromDecimal(annual, staff.Unit),
			generic.NewAmountFromDecimal(carriedOver, staff.Unit))
		if err != nil {
			return err
		}
		return st.AppendAudit(ctx, generic.AuditEntry{
			ID:        newID(),
			Timestamp: d.opts.Now().UTC(),
			ActorID:   actor,
			Action:    generic.AuditEntitlementSet,
			EntityID:  id,
			Payload: map[string]any{
				"year":         int(year),
				"annual":       ent.Annual.Value.String(),
				"carried_over": ent.CarriedOver.Value.String(),
				"unit":         string(staff.Unit),
			},
		})
	})
	return ent, err
}

// RolloverResult reports one staff member's year-end rollover.
type RolloverResult struct {
	StaffID     generic.EntityID
	Entitlement generic.Entitlement
	Err         error
}

// Rollover carries unused leave from one year into the next for every
// listed staff member, capped at maxCarry when given. Each staff member is
// a separate transaction; a failure for one does not stop the others.
func (d *Directory) Rollover(ctx context.Context, staffIDs []generic.EntityID, from generic.LeaveYear, maxCarry *decimal.Decimal, actor string) []RolloverResult {
	results := make([]RolloverResult, 0, len(staffIDs))
	for _, id := range staffIDs {
		res := RolloverResult{StaffID: id}
		res.Err = d.run(ctx, "rollover", actor, func(st Store, lt *generic.LedgerTx) error {
			staff, err := st.GetStaff(ctx, id)
			if err != nil {
				return err
			}
			if staff == nil {
				return fmt.Errorf("%w: %s", ErrStaffNotFound, id)
			}
			var limit *generic.Amount
			if maxCarry != nil {
				a := generic.NewAmountFromDecimal(*maxCarry, staff.Unit)
				limit = &a
			}
			res.Entitlement, err = lt.Rollover(ctx, generic.LedgerKey{EntityID: id, LeaveYear: from}, nil, limit)
			if err != nil {
				return err
			}
			return st.AppendAudit(ctx, generic.AuditEntry{
				ID:        newID(),
				Timestamp: d.opts.Now().UTC(),
				ActorID:   actor,
				Action:    generic.AuditRollover,
				EntityID:  id,
				Payload: map[string]any{
					"from":         int(from),
					"carried_over": res.Entitlement.CarriedOver.Value.String(),
				},
			})
		})
		if res.Err != nil {
			d.opts.Logger.Warn("rollover failed", zap.String("staff_id", string(id)), zap.Error(res.Err))
		}
		results = append(results, res)
	}
	return results
}

// RolloverDue rolls over every staff member of siteID ("" for all sites)
// who has an entitlement for from but none yet for from+1. Staff whose
// next year already exists were rolled over or set up by hand and are
// left alone.
func (d *Directory) RolloverDue(ctx context.Context, siteID string, from generic.LeaveYear, maxCarry *decimal.Decimal, actor string) ([]RolloverResult, error) {
	staff, err := d.store.ListStaff(ctx, siteID)
	if err != nil {
		return nil, err
	}

	due := make([]generic.EntityID, 0, len(staff))
	for _, s := range staff {
		closing, err := d.store.GetEntitlement(ctx, generic.LedgerKey{EntityID: s.ID, LeaveYear: from})
		if err != nil {
			return nil, err
		}
		if closing == nil {
			continue
		}
		next, err := d.store.GetEntitlement(ctx, generic.LedgerKey{EntityID: s.ID, LeaveYear: from + 1})
		if err != nil {
			return nil, err
		}
		if next == nil {
			due = append(due, s.ID)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}
	return d.Rollover(ctx, due, from, maxCarry, actor), nil
}

// YearOf exposes the configured leave-year calendar.
func (d *Directory) YearOf(date generic.TimePoint) generic.LeaveYear {
	return d.opts.Calendar.YearOf(date)
}
