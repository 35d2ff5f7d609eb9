package sqlite

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/holiday-engine/generic"
	"github.com/warp/holiday-engine/holiday"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlmock")), mock
}

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func seedStaff(t *testing.T, s *Store, id, site, name string, unit generic.Unit) {
	t.Helper()
	require.NoError(t, s.SaveStaff(context.Background(), holiday.StaffMember{
		ID: generic.EntityID(id), SiteID: site, Name: name, Role: "nurse", Unit: unit,
		CreatedAt: testNow, UpdatedAt: testNow,
	}))
}

func hours(v float64) generic.Amount { return generic.NewAmount(v, generic.UnitHours) }

// =============================================================================
// LEDGER
// =============================================================================

func TestStore_AppendAndLoad(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedStaff(t, s, "alice", "site-1", "Alice Smith", generic.UnitHours)
	key := generic.LedgerKey{EntityID: "alice", LeaveYear: 2025}

	// GIVEN: two movements for the same reservation, the second stamped
	// earlier than the first
	require.NoError(t, s.Append(ctx, generic.Transaction{
		ID: "tx-1", EntityID: "alice", LeaveYear: 2025, Type: generic.TxPending,
		Amount: hours(40), ReservationID: "res-1", IdempotencyKey: "reserve:res-1", CreatedAt: testNow,
	}))
	require.NoError(t, s.Append(ctx, generic.Transaction{
		ID: "tx-2", EntityID: "alice", LeaveYear: 2025, Type: generic.TxConsumption,
		Amount: hours(40), ReservationID: "res-1", IdempotencyKey: "commit:res-1", CreatedAt: testNow.Add(-time.Second),
	}))

	// WHEN: loading by key and by reservation
	byKey, err := s.Load(ctx, key)
	require.NoError(t, err)
	byRes, err := s.LoadByReservation(ctx, "res-1")
	require.NoError(t, err)

	// THEN: both come back in insertion order with exact amounts
	require.Len(t, byKey, 2)
	assert.Equal(t, generic.TxPending, byKey[0].Type)
	assert.Equal(t, generic.TxConsumption, byKey[1].Type)
	assert.True(t, byKey[0].Amount.Equal(hours(40)))
	require.Len(t, byRes, 2)
	assert.Equal(t, "tx-1", byRes[0].ID)
	assert.Equal(t, "tx-2", byRes[1].ID)

	exists, err := s.Exists(ctx, "commit:res-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStore_DuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedStaff(t, s, "alice", "site-1", "Alice", generic.UnitHours)

	tx := generic.Transaction{
		ID: "tx-1", EntityID: "alice", LeaveYear: 2025, Type: generic.TxConsumption,
		Amount: hours(8), IdempotencyKey: "import:x", CreatedAt: testNow,
	}
	require.NoError(t, s.Append(ctx, tx))

	tx.ID = "tx-2"
	err := s.Append(ctx, tx)
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)
}

func TestStore_EntitlementVersioning(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedStaff(t, s, "alice", "site-1", "Alice", generic.UnitHours)
	key := generic.LedgerKey{EntityID: "alice", LeaveYear: 2025}

	missing, err := s.GetEntitlement(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.SaveEntitlement(ctx, generic.Entitlement{
		EntityID: "alice", LeaveYear: 2025, Annual: hours(400), CarriedOver: hours(7.5),
		CreatedAt: testNow, UpdatedAt: testNow,
	}))

	// WHEN: bumping from the version we read
	require.NoError(t, s.BumpVersion(ctx, key, 0))

	// THEN: a second writer holding the stale version loses
	err = s.BumpVersion(ctx, key, 0)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	ent, err := s.GetEntitlement(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ent.Version)
	assert.True(t, ent.Total().Equal(hours(407.5)))
}

func TestStore_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	err := s.WithTx(ctx, func(st holiday.Store) error {
		seedStaff(t, st.(*Store), "bob", "site-1", "Bob", generic.UnitHours)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	got, err := s.GetStaff(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, got, "staff written inside a failed transaction must not persist")
}

func TestStore_ResetClearsEverything(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedStaff(t, s, "alice", "site-1", "Alice Smith", generic.UnitHours)
	require.NoError(t, s.Append(ctx, generic.Transaction{
		ID: "tx-1", EntityID: "alice", LeaveYear: 2025, Type: generic.TxPending,
		Amount: hours(8), ReservationID: "res-1", IdempotencyKey: "reserve:res-1", CreatedAt: testNow,
	}))

	require.NoError(t, s.Reset(ctx))

	staff, err := s.ListStaff(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, staff)
	txs, err := s.Load(ctx, generic.LedgerKey{EntityID: "alice", LeaveYear: 2025})
	require.NoError(t, err)
	assert.Empty(t, txs)

	// The schema survives.
	seedStaff(t, s, "alice", "site-1", "Alice Smith", generic.UnitHours)
}

// =============================================================================
// STAFF, PATTERNS, REQUESTS
// =============================================================================

func TestStore_FindStaffByNameIgnoresCase(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedStaff(t, s, "alice", "site-1", "Alice Smith", generic.UnitHours)

	got, err := s.FindStaffByName(ctx, "site-1", "  alice SMITH ")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, generic.EntityID("alice"), got.ID)

	other, err := s.FindStaffByName(ctx, "site-2", "Alice Smith")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestStore_PatternRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedStaff(t, s, "gp", "site-1", "Dr Who", generic.UnitSessions)

	require.NoError(t, s.SavePattern(ctx, holiday.WorkingPattern{
		StaffID: "gp", Unit: generic.UnitSessions, UpdatedAt: testNow,
		PerWeekday: map[time.Weekday]decimal.Decimal{
			time.Monday:  decimal.NewFromInt(2),
			time.Tuesday: decimal.RequireFromString("1.5"),
		},
	}))
	// Replacing drops days no longer present.
	require.NoError(t, s.SavePattern(ctx, holiday.WorkingPattern{
		StaffID: "gp", Unit: generic.UnitSessions, UpdatedAt: testNow,
		PerWeekday: map[time.Weekday]decimal.Decimal{time.Monday: decimal.NewFromInt(1)},
	}))

	p, err := s.GetPattern(ctx, "gp")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, generic.UnitSessions, p.Unit)
	assert.True(t, p.ValueOn(time.Monday).Equal(decimal.NewFromInt(1)))
	assert.True(t, p.ValueOn(time.Tuesday).IsZero())
}

func TestStore_RequestDaysAreWrittenOnce(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedStaff(t, s, "alice", "site-1", "Alice", generic.UnitHours)

	monday := generic.NewTimePoint(2025, time.March, 3)
	req := holiday.Request{
		ID: "req-1", StaffID: "alice", SiteID: "site-1",
		Period: generic.Period{Start: monday, End: monday.AddDays(1)},
		Unit:   generic.UnitHours, Status: holiday.StatusPending,
		Days: []holiday.DayValue{
			{Date: monday, Value: hours(8)},
			{Date: monday.AddDays(1), Value: hours(8)},
		},
		Segments:    []holiday.Segment{{LeaveYear: 2025, Amount: hours(16), ReservationID: "res-1"}},
		RequestedAt: testNow, UpdatedAt: testNow,
	}
	require.NoError(t, s.SaveRequest(ctx, req))

	// WHEN: the request is approved and saved with different days
	approvedAt := testNow.Add(time.Hour)
	req.Status = holiday.StatusApproved
	req.ApprovedAt = &approvedAt
	req.ApproverID = "manager"
	req.Days = req.Days[:1]
	require.NoError(t, s.SaveRequest(ctx, req))

	// THEN: status changed, frozen days did not
	got, err := s.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, holiday.StatusApproved, got.Status)
	assert.Equal(t, "manager", got.ApproverID)
	require.NotNil(t, got.ApprovedAt)
	assert.Len(t, got.Days, 2)
	assert.True(t, got.Total().Equal(hours(16)))
	require.Len(t, got.Segments, 1)
	assert.Equal(t, generic.ReservationID("res-1"), got.Segments[0].ReservationID)

	pending, err := s.ListPendingRequests(ctx, "site-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestStore_ImportedRequestNaturalKeyIsUnique(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedStaff(t, s, "alice", "site-1", "Alice", generic.UnitHours)

	day := generic.NewTimePoint(2025, time.January, 6)
	base := holiday.Request{
		StaffID: "alice", Period: generic.Period{Start: day, End: day},
		Unit: generic.UnitHours, Status: holiday.StatusApproved,
		Days:           []holiday.DayValue{{Date: day, Value: hours(7.5)}},
		SourceRecordID: "legacy:1", RequestedAt: testNow, UpdatedAt: testNow,
	}
	first, second := base, base
	first.ID, second.ID = "req-1", "req-2"
	require.NoError(t, s.SaveRequest(ctx, first))

	err := s.SaveRequest(ctx, second)
	assert.ErrorIs(t, err, holiday.ErrImportConflict)

	found, err := s.FindImportedRequest(ctx, "alice", base.Period, "legacy:1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "req-1", found.ID)
}

func TestStore_ListActiveRequests(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedStaff(t, s, "alice", "site-1", "Alice", generic.UnitHours)
	seedStaff(t, s, "bob", "site-1", "Bob", generic.UnitHours)

	save := func(id string, staff generic.EntityID, start generic.TimePoint, status holiday.Status) {
		t.Helper()
		require.NoError(t, s.SaveRequest(ctx, holiday.Request{
			ID: id, StaffID: staff, Period: generic.Period{Start: start, End: start.AddDays(4)},
			Unit: generic.UnitHours, Status: status,
			Days:        []holiday.DayValue{{Date: start, Value: hours(8)}},
			RequestedAt: testNow, UpdatedAt: testNow,
		}))
	}
	march := generic.NewTimePoint(2025, time.March, 3)
	save("old", "alice", march.AddDays(-28), holiday.StatusApproved)
	save("approved", "alice", march.AddDays(7), holiday.StatusApproved)
	save("pending", "alice", march, holiday.StatusPending)
	save("rejected", "alice", march, holiday.StatusRejected)
	save("cancelled", "alice", march, holiday.StatusCancelled)
	save("other-staff", "bob", march, holiday.StatusPending)

	active, err := s.ListActiveRequests(ctx, "alice", march)
	require.NoError(t, err)

	// Only live requests still running on or after the date, earliest first.
	require.Len(t, active, 2)
	assert.Equal(t, "pending", active[0].ID)
	assert.Equal(t, "approved", active[1].ID)
	assert.Len(t, active[0].Days, 1)
}

func TestStore_AuditQuery(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i, action := range []generic.AuditAction{generic.AuditRequestSubmitted, generic.AuditRequestApproved, generic.AuditPatternChanged} {
		require.NoError(t, s.AppendAudit(ctx, generic.AuditEntry{
			ID: string(action), Timestamp: testNow.Add(time.Duration(i) * time.Minute),
			ActorID: "manager", Action: action, EntityID: "alice", RequestID: "req-1",
			Payload: map[string]any{"n": i},
		}))
	}

	staff := generic.EntityID("alice")
	entries, err := s.QueryAudit(ctx, generic.AuditFilter{
		EntityID: &staff,
		Actions:  []generic.AuditAction{generic.AuditRequestSubmitted, generic.AuditRequestApproved},
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, generic.AuditRequestApproved, entries[0].Action, "newest first")
	assert.EqualValues(t, 1, entries[0].Payload["n"])
}

// =============================================================================
// ERROR MAPPING (sqlmock)
// =============================================================================

func TestStore_BumpVersionNoRowsIsConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE entitlement SET version = version + 1")).
		WithArgs("alice", int64(2025), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.BumpVersion(context.Background(), generic.LedgerKey{EntityID: "alice", LeaveYear: 2025}, 3)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_BusyDatabaseIsConcurrentModification(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO ledger_transactions").
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrBusy})

	err := s.Append(context.Background(), generic.Transaction{
		ID: "tx-1", EntityID: "alice", LeaveYear: 2025, Type: generic.TxPending, Amount: hours(8),
	})
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
	assert.True(t, generic.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UniqueViolationIsDuplicateKey(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO ledger_transactions").
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique})

	err := s.Append(context.Background(), generic.Transaction{
		ID: "tx-1", EntityID: "alice", LeaveYear: 2025, Type: generic.TxConsumption, Amount: hours(8), IdempotencyKey: "import:x",
	})
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetEntitlementWrapsQueryErrors(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .* FROM entitlement").
		WillReturnError(assert.AnError)

	_, err := s.GetEntitlement(context.Background(), generic.LedgerKey{EntityID: "alice", LeaveYear: 2025})
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "get entitlement")
}
