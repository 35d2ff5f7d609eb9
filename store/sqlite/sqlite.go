/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements holiday.TxStore (and through it generic.TxStore and
  generic.AuditLog) on one SQLite database, so a request, its frozen days
  and its ledger movements always commit together.

INTERFACES IMPLEMENTED:
  generic.Store:    Entitlements, movements, version counters
  generic.AuditLog: Audit trail
  holiday.Store:    Staff, working patterns, requests

KEY TABLES:
  staff, staff_working_pattern   who books, in which unit, on which days
  entitlement                    allowance per (staff, leave-year) + version
  ledger_transactions            append-only movements
  holiday_request(_day)          bookings and their frozen day values
  audit_log                      who did what when

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE is ever issued against ledger_transactions or
  holiday_request_day. Corrections are new movements. The one exception
  is Reset, which wipes every table for demo scenarios.

CONCURRENCY:
  There is no process lock. SQLite serializes writers itself: every
  transaction starts with BEGIN IMMEDIATE (_txlock=immediate) and waits
  up to _busy_timeout for the write lock. A writer that still cannot get
  the lock fails with generic.ErrConcurrentModification, which the
  services retry. Conflicts between interleaved read-modify-write cycles
  are caught by BumpVersion.

  Inside WithTx every query goes through the transaction. Touching the
  pool from inside the callback would wait on the lock held by the
  transaction itself.

MIGRATION:
  Versioned SQL files under migrations/ are embedded and applied with
  golang-migrate on Open. cmd/migrate exposes up/down/version.

USAGE:
  store, err := sqlite.Open("./data/holiday.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - generic/store.go: Ledger interfaces
  - holiday/store.go: Domain interfaces
  - generic/store/memory.go: In-memory ledger store for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/holiday-engine/generic"
	"github.com/warp/holiday-engine/holiday"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const busyTimeoutMillis = 5000

// Store implements holiday.TxStore. A Store returned by Open runs each
// call on the pool; the Store handed to a WithTx callback is bound to
// that transaction.
type Store struct {
	db *sqlx.DB
	q  sqlx.ExtContext
	tx *sqlx.Tx
}

var (
	_ holiday.TxStore  = (*Store)(nil)
	_ generic.AuditLog = (*Store)(nil)
)

// Open opens (creating if needed) the database at path and applies all
// pending migrations. Use ":memory:" for a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := Migrate(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return New(db), nil
}

// New wraps an already-migrated connection.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, q: db}
}

// DSN adds the pragmas the store relies on to a file path.
func DSN(path string) string {
	return fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=%d", path, busyTimeoutMillis)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying pool for health checks.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// =============================================================================
// MIGRATIONS
// =============================================================================

// NewMigrator builds a golang-migrate instance over the embedded files.
// Closing it closes db as well.
func NewMigrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", src, "sqlite3", driver)
}

// Migrate applies every pending up migration.
func Migrate(db *sql.DB) error {
	m, err := NewMigrator(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// =============================================================================
// TRANSACTIONS (holiday.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction. Nested calls reuse
// the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(holiday.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapError("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(&Store{db: s.db, q: tx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError("commit transaction", err)
	}
	return nil
}

// resetOrder deletes children before parents.
var resetOrder = []string{
	"audit_log",
	"holiday_request_day",
	"holiday_request",
	"ledger_transactions",
	"entitlement",
	"staff_working_pattern",
	"staff",
}

// Reset clears all data. Development and demo use only.
func (s *Store) Reset(ctx context.Context) error {
	return s.WithTx(ctx, func(hs holiday.Store) error {
		q := hs.(*Store).q
		for _, table := range resetOrder {
			if _, err := q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return mapError("reset "+table, err)
			}
		}
		return nil
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// mapError translates driver errors into the ledger's taxonomy. A busy
// or locked database is a concurrent writer; a unique violation on a
// movement is a replayed idempotency key.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch {
		case se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%s: %w: %v", op, generic.ErrConcurrentModification, err)
		case se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%s: %w: %v", op, generic.ErrDuplicateIdempotencyKey, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func parseAmount(value, unit string) (generic.Amount, error) {
	return generic.ParseAmount(value, generic.Unit(unit))
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
