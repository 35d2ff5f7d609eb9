/*
Package generic provides the entitlement ledger engine.

PURPOSE:
  This package contains the unit-typed amounts, leave-year periods and the
  append-only movement log behind every balance. Nothing here knows about
  working patterns or request workflows; the holiday package builds those
  on top of the EntitlementLedger.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (e.g., 40 hours, 6 sessions)
  - Transaction: An immutable ledger movement (pending, consumption, ...)
  - Entitlement: The annual + carried-over allowance for one leave-year
  - LedgerKey: (staff, leave-year), the unit of serialization

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified, only offset
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Units travel with amounts; mixing them is an error
  4. Auditability: Every movement has a reference and an idempotency key

USAGE:
  amount := generic.NewAmount(40, generic.UnitHours)
  id, err := ledger.Reserve(ctx, "staff-1", 2025, amount)

SEE ALSO:
  - ledger.go: Reserve/Commit/Release/ReverseApproved
  - balance.go: Balance projection by replay
  - period.go: Leave-year calendar
*/
package generic

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

// Unit is the measure a staff member's leave is counted in.
type Unit string

const (
	UnitHours    Unit = "hours"
	UnitSessions Unit = "sessions"
)

// Valid reports whether u is one of the supported units.
func (u Unit) Valid() bool {
	return u == UnitHours || u == UnitSessions
}

func NewAmount(value float64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewAmountFromInt(value int, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Unit: unit}
}

func NewAmountFromDecimal(value decimal.Decimal, unit Unit) Amount {
	return Amount{Value: value, Unit: unit}
}

// ParseAmount parses a decimal string stored by a persistence layer.
func ParseAmount(value string, unit Unit) (Amount, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", value, err)
	}
	return Amount{Value: d, Unit: unit}, nil
}

func (a Amount) Zero() Amount              { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount       { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount       { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Neg() Amount               { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) IsNegative() bool          { return a.Value.IsNegative() }
func (a Amount) IsZero() bool              { return a.Value.IsZero() }
func (a Amount) IsPositive() bool          { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool    { return a.Value.LessThan(b.Value) }
func (a Amount) Equal(b Amount) bool       { return a.Unit == b.Unit && a.Value.Equal(b.Value) }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

func (a Amount) String() string {
	return a.Value.String() + " " + string(a.Unit)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntityID string
type TransactionID string
type ReservationID string

// LeaveYear identifies a leave-year by the calendar year it starts in.
// With an April start, LeaveYear 2025 runs 2025-04-01..2026-03-31.
type LeaveYear int

// LedgerKey is the unit of serialization: all ledger mutations for the
// same key are serialized, different keys proceed independently.
type LedgerKey struct {
	EntityID  EntityID
	LeaveYear LeaveYear
}

func (k LedgerKey) String() string {
	return fmt.Sprintf("%s/%d", k.EntityID, k.LeaveYear)
}

// =============================================================================
// ENTITLEMENT - The allowance for one (staff, leave-year)
// =============================================================================

// Entitlement is the persisted allowance row. Remaining balance is never
// stored here; it is recomputed from the ledger on every read.
type Entitlement struct {
	EntityID    EntityID
	LeaveYear   LeaveYear
	Annual      Amount
	CarriedOver Amount

	// Version is bumped by every ledger mutation on this key.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Total is annual + carried over.
func (e Entitlement) Total() Amount {
	return e.Annual.Add(e.CarriedOver)
}

func (e Entitlement) Key() LedgerKey {
	return LedgerKey{EntityID: e.EntityID, LeaveYear: e.LeaveYear}
}

// =============================================================================
// TRANSACTION - Atomic movement against an entitlement
// =============================================================================

type TransactionType string

const (
	TxPending     TransactionType = "pending"     // Reservation placed at submission
	TxConsumption TransactionType = "consumption" // Approved usage (commit or import)
	TxRelease     TransactionType = "release"     // Reservation dropped (reject, cancel pending)
	TxReversal    TransactionType = "reversal"    // Approved usage given back (cancel approved)
)

type Transaction struct {
	ID        TransactionID
	EntityID  EntityID
	LeaveYear LeaveYear
	Type      TransactionType

	// Amount is always positive; Type decides the direction.
	Amount Amount

	// ReservationID links pending/consumption/release movements of one
	// reservation. Imports use the request reference instead.
	ReservationID  ReservationID
	ReferenceID    string
	Reason         string
	IdempotencyKey string

	CreatedBy string
	CreatedAt time.Time
}

func (t Transaction) Key() LedgerKey {
	return LedgerKey{EntityID: t.EntityID, LeaveYear: t.LeaveYear}
}
