package holiday

import (
	"context"

	"github.com/warp/holiday-engine/generic"
)

// =============================================================================
// STORE - Persistence for staff, patterns and requests
// =============================================================================

// Store extends the ledger store with the holiday tables. Implementations
// return nil, nil from Get/Find methods when nothing matches.
type Store interface {
	generic.Store
	generic.AuditLog

	SaveStaff(ctx context.Context, s StaffMember) error
	GetStaff(ctx context.Context, id generic.EntityID) (*StaffMember, error)
	FindStaffByName(ctx context.Context, siteID, name string) (*StaffMember, error)
	ListStaff(ctx context.Context, siteID string) ([]StaffMember, error)

	GetPattern(ctx context.Context, staffID generic.EntityID) (*WorkingPattern, error)
	SavePattern(ctx context.Context, p WorkingPattern) error

	// SaveRequest upserts the request row. Day rows are written on the
	// first save only; they are immutable afterwards.
	SaveRequest(ctx context.Context, r Request) error
	GetRequest(ctx context.Context, id string) (*Request, error)
	ListRequestsByStaff(ctx context.Context, staffID generic.EntityID) ([]Request, error)
	ListPendingRequests(ctx context.Context, siteID string) ([]Request, error)
	// ListActiveRequests returns the staff member's pending and approved
	// requests that end on or after from.
	ListActiveRequests(ctx context.Context, staffID generic.EntityID, from generic.TimePoint) ([]Request, error)

	// FindImportedRequest looks up a request by its legacy natural key.
	FindImportedRequest(ctx context.Context, staffID generic.EntityID, period generic.Period, sourceRecordID string) (*Request, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// LedgerStore adapts a TxStore for generic.EntitlementLedger, so balance
// reads and entitlement administration share the request tables' database.
func LedgerStore(s TxStore) generic.TxStore {
	return ledgerStore{TxStore: s}
}

type ledgerStore struct {
	TxStore
}

func (s ledgerStore) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	return s.TxStore.WithTx(ctx, func(st Store) error {
		return fn(st)
	})
}

// =============================================================================
// INSTRUMENTATION
// =============================================================================

// Instrumentation receives workflow events; metrics.Metrics implements it.
type Instrumentation interface {
	RequestTransition(status Status)
	LedgerRetry(op string)
	LedgerContention(op string)
	ImportRecord(outcome string)
}

type nopInstrumentation struct{}

func (nopInstrumentation) RequestTransition(Status) {}
func (nopInstrumentation) LedgerRetry(string)       {}
func (nopInstrumentation) LedgerContention(string)  {}
func (nopInstrumentation) ImportRecord(string)      {}
