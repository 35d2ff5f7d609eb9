package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/warp/holiday-engine/generic"
	"github.com/warp/holiday-engine/holiday"
)

// =============================================================================
// STAFF
// =============================================================================

type staffRow struct {
	ID        string `db:"id"`
	SiteID    string `db:"site_id"`
	Name      string `db:"name"`
	Role      string `db:"role"`
	Unit      string `db:"unit"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (r staffRow) toStaff() holiday.StaffMember {
	return holiday.StaffMember{
		ID:        generic.EntityID(r.ID),
		SiteID:    r.SiteID,
		Name:      r.Name,
		Role:      r.Role,
		Unit:      generic.Unit(r.Unit),
		CreatedAt: parseTime(r.CreatedAt),
		UpdatedAt: parseTime(r.UpdatedAt),
	}
}

const selectStaff = `SELECT id, site_id, name, role, unit, created_at, updated_at FROM staff`

// SaveStaff upserts a staff member.
func (s *Store) SaveStaff(ctx context.Context, m holiday.StaffMember) error {
	const query = `
		INSERT INTO staff (id, site_id, name, name_key, role, unit, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			site_id = excluded.site_id,
			name = excluded.name,
			name_key = excluded.name_key,
			role = excluded.role,
			unit = excluded.unit,
			updated_at = excluded.updated_at
	`
	_, err := s.q.ExecContext(ctx, query,
		m.ID, m.SiteID, m.Name, nameKey(m.Name), m.Role, m.Unit,
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt))
	return mapError("save staff", err)
}

// GetStaff returns nil, nil for an unknown id.
func (s *Store) GetStaff(ctx context.Context, id generic.EntityID) (*holiday.StaffMember, error) {
	return s.getStaff(ctx, selectStaff+` WHERE id = ?`, id)
}

// FindStaffByName matches case-insensitively within a site.
func (s *Store) FindStaffByName(ctx context.Context, siteID, name string) (*holiday.StaffMember, error) {
	return s.getStaff(ctx, selectStaff+` WHERE site_id = ? AND name_key = ? ORDER BY created_at LIMIT 1`, siteID, nameKey(name))
}

func (s *Store) getStaff(ctx context.Context, query string, args ...any) (*holiday.StaffMember, error) {
	var row staffRow
	if err := sqlx.GetContext(ctx, s.q, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError("get staff", err)
	}
	m := row.toStaff()
	return &m, nil
}

// ListStaff returns the staff of a site ("" for all), by name.
func (s *Store) ListStaff(ctx context.Context, siteID string) ([]holiday.StaffMember, error) {
	query := selectStaff
	var args []any
	if siteID != "" {
		query += ` WHERE site_id = ?`
		args = append(args, siteID)
	}
	query += ` ORDER BY name_key`

	var rows []staffRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, query, args...); err != nil {
		return nil, mapError("list staff", err)
	}
	out := make([]holiday.StaffMember, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toStaff())
	}
	return out, nil
}

// =============================================================================
// WORKING PATTERNS
// =============================================================================

type patternRow struct {
	Weekday   int    `db:"weekday"`
	Value     string `db:"value"`
	Unit      string `db:"unit"`
	UpdatedAt string `db:"updated_at"`
}

// GetPattern returns nil, nil when no weekday has been recorded.
func (s *Store) GetPattern(ctx context.Context, staffID generic.EntityID) (*holiday.WorkingPattern, error) {
	var rows []patternRow
	err := sqlx.SelectContext(ctx, s.q, &rows,
		`SELECT weekday, value, unit, updated_at FROM staff_working_pattern WHERE staff_id = ? ORDER BY weekday`,
		staffID)
	if err != nil {
		return nil, mapError("get pattern", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	p := &holiday.WorkingPattern{
		StaffID:    staffID,
		Unit:       generic.Unit(rows[0].Unit),
		PerWeekday: make(map[time.Weekday]decimal.Decimal, len(rows)),
	}
	for _, r := range rows {
		v, err := decimal.NewFromString(r.Value)
		if err != nil {
			return nil, fmt.Errorf("pattern %s weekday %d: %w", staffID, r.Weekday, err)
		}
		p.PerWeekday[time.Weekday(r.Weekday)] = v
		if t := parseTime(r.UpdatedAt); t.After(p.UpdatedAt) {
			p.UpdatedAt = t
		}
	}
	return p, nil
}

// SavePattern replaces the whole pattern. Zero-valued weekdays are kept
// as rows so the pattern still exists when every day is zero.
func (s *Store) SavePattern(ctx context.Context, p holiday.WorkingPattern) error {
	return s.WithTx(ctx, func(hs holiday.Store) error {
		q := hs.(*Store).q
		if _, err := q.ExecContext(ctx, `DELETE FROM staff_working_pattern WHERE staff_id = ?`, p.StaffID); err != nil {
			return mapError("clear pattern", err)
		}
		for wd, v := range p.PerWeekday {
			_, err := q.ExecContext(ctx,
				`INSERT INTO staff_working_pattern (staff_id, weekday, value, unit, updated_at) VALUES (?, ?, ?, ?, ?)`,
				p.StaffID, int(wd), v.String(), p.Unit, formatTime(p.UpdatedAt))
			if err != nil {
				return mapError("save pattern", err)
			}
		}
		return nil
	})
}
