package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/warp/holiday-engine/generic"
)

// =============================================================================
// AUDIT LOG (generic.AuditLog interface)
// =============================================================================

type auditRow struct {
	ID          string         `db:"id"`
	Timestamp   string         `db:"ts"`
	ActorID     string         `db:"actor_id"`
	Action      string         `db:"action"`
	StaffID     sql.NullString `db:"staff_id"`
	RequestID   sql.NullString `db:"request_id"`
	PayloadJSON sql.NullString `db:"payload_json"`
}

// AppendAudit records an audit entry.
func (s *Store) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode audit payload: %w", err)
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO audit_log (id, ts, actor_id, action, staff_id, request_id, payload_json) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, formatTime(e.Timestamp), e.ActorID, e.Action,
		nullString(string(e.EntityID)), nullString(e.RequestID), string(payload))
	return mapError("append audit", err)
}

// QueryAudit returns matching entries, newest first.
func (s *Store) QueryAudit(ctx context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.EntityID != nil {
		where = append(where, "staff_id = ?")
		args = append(args, string(*f.EntityID))
	}
	if f.RequestID != nil {
		where = append(where, "request_id = ?")
		args = append(args, *f.RequestID)
	}
	if len(f.Actions) > 0 {
		in, inArgs, err := sqlx.In("action IN (?)", f.Actions)
		if err != nil {
			return nil, fmt.Errorf("build audit query: %w", err)
		}
		where = append(where, in)
		args = append(args, inArgs...)
	}

	query := `SELECT id, ts, actor_id, action, staff_id, request_id, payload_json FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, rowid DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	var rows []auditRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, query, args...); err != nil {
		return nil, mapError("query audit", err)
	}
	out := make([]generic.AuditEntry, 0, len(rows))
	for _, r := range rows {
		e := generic.AuditEntry{
			ID:        r.ID,
			Timestamp: parseTime(r.Timestamp),
			ActorID:   r.ActorID,
			Action:    generic.AuditAction(r.Action),
			EntityID:  generic.EntityID(r.StaffID.String),
			RequestID: r.RequestID.String,
		}
		if r.PayloadJSON.Valid && r.PayloadJSON.String != "" && r.PayloadJSON.String != "null" {
			if err := json.Unmarshal([]byte(r.PayloadJSON.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("audit %s payload: %w", r.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, nil
}
