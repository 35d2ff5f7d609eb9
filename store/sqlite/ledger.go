package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/warp/holiday-engine/generic"
)

// =============================================================================
// LEDGER STORE (generic.Store interface)
// =============================================================================

type transactionRow struct {
	ID             string         `db:"id"`
	StaffID        string         `db:"staff_id"`
	LeaveYear      int            `db:"leave_year"`
	Type           string         `db:"tx_type"`
	Amount         string         `db:"amount"`
	Unit           string         `db:"unit"`
	ReservationID  sql.NullString `db:"reservation_id"`
	ReferenceID    sql.NullString `db:"reference_id"`
	Reason         sql.NullString `db:"reason"`
	IdempotencyKey sql.NullString `db:"idempotency_key"`
	CreatedBy      sql.NullString `db:"created_by"`
	CreatedAt      string         `db:"created_at"`
}

func (r transactionRow) toTransaction() (generic.Transaction, error) {
	amount, err := parseAmount(r.Amount, r.Unit)
	if err != nil {
		return generic.Transaction{}, fmt.Errorf("transaction %s: %w", r.ID, err)
	}
	return generic.Transaction{
		ID:             generic.TransactionID(r.ID),
		EntityID:       generic.EntityID(r.StaffID),
		LeaveYear:      generic.LeaveYear(r.LeaveYear),
		Type:           generic.TransactionType(r.Type),
		Amount:         amount,
		ReservationID:  generic.ReservationID(r.ReservationID.String),
		ReferenceID:    r.ReferenceID.String,
		Reason:         r.Reason.String,
		IdempotencyKey: r.IdempotencyKey.String,
		CreatedBy:      r.CreatedBy.String,
		CreatedAt:      parseTime(r.CreatedAt),
	}, nil
}

const selectTransactions = `
	SELECT id, staff_id, leave_year, tx_type, amount, unit, reservation_id,
	       reference_id, reason, idempotency_key, created_by, created_at
	FROM ledger_transactions`

// Append adds a movement to the ledger.
func (s *Store) Append(ctx context.Context, tx generic.Transaction) error {
	return appendTx(ctx, s.q, tx)
}

func appendTx(ctx context.Context, q sqlx.ExecerContext, tx generic.Transaction) error {
	const query = `
		INSERT INTO ledger_transactions
		(id, staff_id, leave_year, tx_type, amount, unit, reservation_id,
		 reference_id, reason, idempotency_key, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		tx.ID,
		tx.EntityID,
		int(tx.LeaveYear),
		tx.Type,
		tx.Amount.Value.String(),
		tx.Amount.Unit,
		nullString(string(tx.ReservationID)),
		nullString(tx.ReferenceID),
		nullString(tx.Reason),
		nullString(tx.IdempotencyKey),
		nullString(tx.CreatedBy),
		formatTime(tx.CreatedAt),
	)
	return mapError("append transaction", err)
}

// Load returns all movements for a (staff, leave-year) in insertion order.
func (s *Store) Load(ctx context.Context, key generic.LedgerKey) ([]generic.Transaction, error) {
	return s.queryTransactions(ctx,
		selectTransactions+` WHERE staff_id = ? AND leave_year = ? ORDER BY rowid ASC`,
		key.EntityID, int(key.LeaveYear))
}

// LoadByReservation returns the movements that reference a reservation.
func (s *Store) LoadByReservation(ctx context.Context, id generic.ReservationID) ([]generic.Transaction, error) {
	return s.queryTransactions(ctx,
		selectTransactions+` WHERE reservation_id = ? ORDER BY rowid ASC`,
		id)
}

// Exists checks if an idempotency key exists.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := sqlx.GetContext(ctx, s.q, &count,
		"SELECT COUNT(*) FROM ledger_transactions WHERE idempotency_key = ?", idempotencyKey)
	if err != nil {
		return false, mapError("check idempotency key", err)
	}
	return count > 0, nil
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]generic.Transaction, error) {
	var rows []transactionRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, query, args...); err != nil {
		return nil, mapError("query transactions", err)
	}
	txs := make([]generic.Transaction, 0, len(rows))
	for _, r := range rows {
		tx, err := r.toTransaction()
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// =============================================================================
// ENTITLEMENTS
// =============================================================================

type entitlementRow struct {
	StaffID     string `db:"staff_id"`
	LeaveYear   int    `db:"leave_year"`
	Annual      string `db:"annual_amount"`
	CarriedOver string `db:"carried_over_amount"`
	Unit        string `db:"unit"`
	Version     int64  `db:"version"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

// GetEntitlement returns nil, nil when no row exists.
func (s *Store) GetEntitlement(ctx context.Context, key generic.LedgerKey) (*generic.Entitlement, error) {
	const query = `
		SELECT staff_id, leave_year, annual_amount, carried_over_amount, unit, version, created_at, updated_at
		FROM entitlement
		WHERE staff_id = ? AND leave_year = ?
	`
	var row entitlementRow
	if err := sqlx.GetContext(ctx, s.q, &row, query, key.EntityID, int(key.LeaveYear)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError("get entitlement", err)
	}

	annual, err := parseAmount(row.Annual, row.Unit)
	if err != nil {
		return nil, err
	}
	carried, err := parseAmount(row.CarriedOver, row.Unit)
	if err != nil {
		return nil, err
	}
	return &generic.Entitlement{
		EntityID:    generic.EntityID(row.StaffID),
		LeaveYear:   generic.LeaveYear(row.LeaveYear),
		Annual:      annual,
		CarriedOver: carried,
		Version:     row.Version,
		CreatedAt:   parseTime(row.CreatedAt),
		UpdatedAt:   parseTime(row.UpdatedAt),
	}, nil
}

// SaveEntitlement inserts or updates the amounts; the version is untouched.
func (s *Store) SaveEntitlement(ctx context.Context, e generic.Entitlement) error {
	const query = `
		INSERT INTO entitlement
		(staff_id, leave_year, annual_amount, carried_over_amount, unit, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(staff_id, leave_year) DO UPDATE SET
			annual_amount = excluded.annual_amount,
			carried_over_amount = excluded.carried_over_amount,
			unit = excluded.unit,
			updated_at = excluded.updated_at
	`
	_, err := s.q.ExecContext(ctx, query,
		e.EntityID,
		int(e.LeaveYear),
		e.Annual.Value.String(),
		e.CarriedOver.Value.String(),
		e.Annual.Unit,
		formatTime(e.CreatedAt),
		formatTime(e.UpdatedAt),
	)
	return mapError("save entitlement", err)
}

// BumpVersion is the compare-and-swap behind optimistic concurrency.
func (s *Store) BumpVersion(ctx context.Context, key generic.LedgerKey, expected int64) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE entitlement SET version = version + 1 WHERE staff_id = ? AND leave_year = ? AND version = ?`,
		key.EntityID, int(key.LeaveYear), expected)
	if err != nil {
		return mapError("bump version", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError("bump version", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s expected version %d", generic.ErrConcurrentModification, key, expected)
	}
	return nil
}
