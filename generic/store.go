/*
store.go - Persistence interface for the ledger

PURPOSE:
  Defines the interface between the ledger and the database. The Store
  persists entitlements and the append-only movement log; different
  implementations use SQLite or in-memory storage.

KEY INTERFACES:
  Store:    Entitlement rows, movements, version counters
  TxStore:  Transactional operations (atomic multi-table writes)
  AuditLog: Who did what when

APPEND-ONLY CONTRACT:
  Movements are never updated or deleted. A rejected reservation gets a
  release movement; a cancelled approval gets a reversal movement.

IDEMPOTENCY:
  Every movement carries an idempotency key ("commit:<reservation>",
  "import:<ref>", ...). A second write with the same key is rejected,
  so a retried commit can never double-apply.

OPTIMISTIC CONCURRENCY:
  Each entitlement row has a version. A ledger transaction remembers the
  version it read for every key it touched and calls BumpVersion with it
  before committing. If another writer got there first, BumpVersion
  returns ErrConcurrentModification and the whole transaction rolls back.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: EntitlementLedger on top of Store
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Interface for ledger persistence
// =============================================================================

type Store interface {
	// Append persists a movement. Returns ErrDuplicateIdempotencyKey if the key exists.
	Append(ctx context.Context, tx Transaction) error

	// Load returns all movements for a key in insertion order.
	Load(ctx context.Context, key LedgerKey) ([]Transaction, error)

	// LoadByReservation returns the movements that reference a reservation.
	LoadByReservation(ctx context.Context, id ReservationID) ([]Transaction, error)

	// Exists checks if idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)

	// GetEntitlement returns nil, nil when no row exists.
	GetEntitlement(ctx context.Context, key LedgerKey) (*Entitlement, error)

	// SaveEntitlement inserts or updates the amounts of an entitlement row.
	// It does not change the version.
	SaveEntitlement(ctx context.Context, e Entitlement) error

	// BumpVersion increments the version if it still equals expected.
	BumpVersion(ctx context.Context, key LedgerKey, expected int64) error
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AUDIT LOG - Separate from ledger, tracks who did what when
// =============================================================================

// AuditEntry records who did what when.
type AuditEntry struct {
	ID        string
	Timestamp time.Time
	ActorID   string
	Action    AuditAction
	EntityID  EntityID
	RequestID string
	Payload   map[string]any
}

type AuditAction string

const (
	AuditRequestSubmitted AuditAction = "request_submitted"
	AuditRequestApproved  AuditAction = "request_approved"
	AuditRequestRejected  AuditAction = "request_rejected"
	AuditRequestCancelled AuditAction = "request_cancelled"
	AuditPatternChanged   AuditAction = "pattern_changed"
	AuditEntitlementSet   AuditAction = "entitlement_set"
	AuditRollover         AuditAction = "rollover"
	AuditLegacyImport     AuditAction = "legacy_import"
)

// AuditLog stores audit entries. Also append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	EntityID  *EntityID
	RequestID *string
	Actions   []AuditAction
	Limit     int
}
