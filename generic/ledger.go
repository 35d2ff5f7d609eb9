/*
ledger.go - Entitlement ledger with serializable per-key mutations

PURPOSE:
  The EntitlementLedger owns the balance of every (staff, leave-year).
  Balances are never stored: each read replays the entitlement row plus
  its append-only movements (see balance.go).

OPERATIONS:
  GetBalance       read-only projection
  Reserve          remaining >= amount ? +pending : InsufficientBalance
  Commit           pending -> approved for one reservation
  Release          drop one pending reservation
  ReverseApproved  give back approved amount (cancel after approval)
  RecordApproved   approved usage without a reservation (historical import)
  SetEntitlement   administrator sets annual / carried over
  Rollover         carry unused balance into the next leave-year

SERIALIZATION:
  Every mutation runs inside a LedgerTx. The LedgerTx remembers the
  entitlement version it first read for each key it touches and bumps
  those versions right before the store transaction commits:

    read version v  ->  compute  ->  append movements  ->  UPDATE ... WHERE version = v

  A concurrent writer on the same key makes the bump fail with
  ErrConcurrentModification, the store transaction rolls back and
  RetryPolicy runs the whole closure again from a fresh read. Keys of
  different staff never touch the same row, so they never conflict.

COMPOSITION:
  Callers that need ledger movements and their own rows in one atomic
  write (the holiday lifecycle) open the store transaction themselves
  and build a LedgerTx on it with NewLedgerTx.

SEE ALSO:
  - balance.go: Projection
  - holiday/lifecycle.go: Request workflow on top of LedgerTx
*/
package generic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// RETRY POLICY - Bounded retry on version conflicts
// =============================================================================

type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration

	// OnRetry is called before each retry, after a conflicted attempt.
	OnRetry func(attempt int, err error)
}

var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Backoff: 25 * time.Millisecond}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempts are used up. Exhaustion is reported as ErrContention.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if !IsRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		if err := sleep(ctx, p.Backoff<<(attempt-1)); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrContention, attempts, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// =============================================================================
// LEDGER TX - Mutations bound to one store transaction
// =============================================================================

type LedgerTx struct {
	store Store
	actor string
	now   func() time.Time

	versions map[LedgerKey]int64
	dirty    []LedgerKey
}

// NewLedgerTx binds ledger operations to a store, which should be the
// transactional view handed out by WithTx.
func NewLedgerTx(store Store, actor string, now func() time.Time) *LedgerTx {
	if now == nil {
		now = time.Now
	}
	return &LedgerTx{
		store:    store,
		actor:    actor,
		now:      now,
		versions: make(map[LedgerKey]int64),
	}
}

func (lt *LedgerTx) entitlement(ctx context.Context, key LedgerKey) (*Entitlement, error) {
	ent, err := lt.store.GetEntitlement(ctx, key)
	if err != nil {
		return nil, err
	}
	if ent == nil {
		return nil, fmt.Errorf("%s: %w", key, ErrEntitlementNotFound)
	}
	if _, seen := lt.versions[key]; !seen {
		lt.versions[key] = ent.Version
	}
	return ent, nil
}

func (lt *LedgerTx) project(ctx context.Context, key LedgerKey) (Projection, error) {
	ent, err := lt.entitlement(ctx, key)
	if err != nil {
		return Projection{}, err
	}
	txs, err := lt.store.Load(ctx, key)
	if err != nil {
		return Projection{}, err
	}
	return Project(*ent, txs), nil
}

func (lt *LedgerTx) markDirty(key LedgerKey) {
	for _, k := range lt.dirty {
		if k == key {
			return
		}
	}
	lt.dirty = append(lt.dirty, key)
}

func (lt *LedgerTx) append(ctx context.Context, tx Transaction) error {
	tx.ID = TransactionID(uuid.NewString())
	tx.CreatedBy = lt.actor
	tx.CreatedAt = lt.now().UTC()
	if err := lt.store.Append(ctx, tx); err != nil {
		return err
	}
	lt.markDirty(tx.Key())
	return nil
}

// Balance returns the current projection for key.
func (lt *LedgerTx) Balance(ctx context.Context, key LedgerKey) (Balance, error) {
	proj, err := lt.project(ctx, key)
	if err != nil {
		return Balance{}, err
	}
	return proj.Balance, nil
}

// Reserve places a pending hold of amount against key. ref is stored on
// the movement for traceability (usually the request id).
func (lt *LedgerTx) Reserve(ctx context.Context, key LedgerKey, amount Amount, ref string) (ReservationID, error) {
	if !amount.IsPositive() {
		return "", ErrInvalidAmount
	}
	proj, err := lt.project(ctx, key)
	if err != nil {
		return "", err
	}
	if err := checkUnit(proj.Balance, amount); err != nil {
		return "", err
	}

	remaining := proj.Balance.Remaining()
	if amount.GreaterThan(remaining) {
		return "", &InsufficientBalanceError{
			EntityID:  key.EntityID,
			LeaveYear: key.LeaveYear,
			Available: remaining,
			Requested: amount,
			Shortfall: amount.Sub(remaining),
		}
	}

	id := ReservationID(uuid.NewString())
	err = lt.append(ctx, Transaction{
		EntityID:       key.EntityID,
		LeaveYear:      key.LeaveYear,
		Type:           TxPending,
		Amount:         amount,
		ReservationID:  id,
		ReferenceID:    ref,
		Reason:         "reserve",
		IdempotencyKey: "reserve:" + string(id),
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// resolve finds a pending reservation or fails with ErrUnknownReservation.
func (lt *LedgerTx) resolve(ctx context.Context, id ReservationID, op string) (*Reservation, error) {
	txs, err := lt.store.LoadByReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, &ReservationError{ReservationID: id, Op: op}
	}
	proj, err := lt.project(ctx, txs[0].Key())
	if err != nil {
		return nil, err
	}
	r, ok := proj.Reservations[id]
	if !ok || r.State != ReservationPending {
		return nil, &ReservationError{ReservationID: id, Op: op}
	}
	return r, nil
}

// Commit moves a reservation from pending to approved.
func (lt *LedgerTx) Commit(ctx context.Context, id ReservationID) error {
	r, err := lt.resolve(ctx, id, "commit")
	if err != nil {
		return err
	}
	return lt.append(ctx, Transaction{
		EntityID:       r.Key.EntityID,
		LeaveYear:      r.Key.LeaveYear,
		Type:           TxConsumption,
		Amount:         r.Amount,
		ReservationID:  id,
		Reason:         "commit",
		IdempotencyKey: "commit:" + string(id),
	})
}

// Release drops a pending reservation without approving it.
func (lt *LedgerTx) Release(ctx context.Context, id ReservationID) error {
	r, err := lt.resolve(ctx, id, "release")
	if err != nil {
		return err
	}
	return lt.append(ctx, Transaction{
		EntityID:       r.Key.EntityID,
		LeaveYear:      r.Key.LeaveYear,
		Type:           TxRelease,
		Amount:         r.Amount,
		ReservationID:  id,
		Reason:         "release",
		IdempotencyKey: "release:" + string(id),
	})
}

// ReverseApproved decrements approved by amount. ref makes the reversal
// idempotent: reversing the same ref twice fails with ErrDuplicateIdempotencyKey.
func (lt *LedgerTx) ReverseApproved(ctx context.Context, key LedgerKey, amount Amount, ref string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	proj, err := lt.project(ctx, key)
	if err != nil {
		return err
	}
	if err := checkUnit(proj.Balance, amount); err != nil {
		return err
	}
	if amount.GreaterThan(proj.Balance.Approved) {
		return &ReversalError{
			EntityID:  key.EntityID,
			LeaveYear: key.LeaveYear,
			Approved:  proj.Balance.Approved,
			Requested: amount,
		}
	}
	if ref == "" {
		ref = uuid.NewString()
	}
	return lt.append(ctx, Transaction{
		EntityID:       key.EntityID,
		LeaveYear:      key.LeaveYear,
		Type:           TxReversal,
		Amount:         amount,
		ReferenceID:    ref,
		Reason:         "reverse approved",
		IdempotencyKey: "reverse:" + ref,
	})
}

// RecordApproved books approved usage directly, for leave that was taken
// before the ledger existed. It still refuses to push approved + pending
// past the entitlement.
func (lt *LedgerTx) RecordApproved(ctx context.Context, key LedgerKey, amount Amount, ref string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	exists, err := lt.store.Exists(ctx, "import:"+ref)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateIdempotencyKey
	}

	proj, err := lt.project(ctx, key)
	if err != nil {
		return err
	}
	if err := checkUnit(proj.Balance, amount); err != nil {
		return err
	}
	remaining := proj.Balance.Remaining()
	if amount.GreaterThan(remaining) {
		return &InsufficientBalanceError{
			EntityID:  key.EntityID,
			LeaveYear: key.LeaveYear,
			Available: remaining,
			Requested: amount,
			Shortfall: amount.Sub(remaining),
		}
	}
	return lt.append(ctx, Transaction{
		EntityID:       key.EntityID,
		LeaveYear:      key.LeaveYear,
		Type:           TxConsumption,
		Amount:         amount,
		ReferenceID:    ref,
		Reason:         "historical import",
		IdempotencyKey: "import:" + ref,
	})
}

// SetEntitlement creates or updates the allowance for key. Lowering it
// below what is already approved or pending is refused.
func (lt *LedgerTx) SetEntitlement(ctx context.Context, key LedgerKey, annual, carriedOver Amount) (Entitlement, error) {
	if annual.IsNegative() || carriedOver.IsNegative() {
		return Entitlement{}, ErrInvalidAmount
	}
	if !annual.Unit.Valid() || carriedOver.Unit != annual.Unit {
		return Entitlement{}, ErrUnitMismatch
	}

	now := lt.now().UTC()
	ent, err := lt.store.GetEntitlement(ctx, key)
	if err != nil {
		return Entitlement{}, err
	}

	if ent == nil {
		ent = &Entitlement{EntityID: key.EntityID, LeaveYear: key.LeaveYear, CreatedAt: now}
		lt.versions[key] = 0
	} else {
		if _, seen := lt.versions[key]; !seen {
			lt.versions[key] = ent.Version
		}
		txs, err := lt.store.Load(ctx, key)
		if err != nil {
			return Entitlement{}, err
		}
		used := Project(*ent, txs).Balance
		if len(txs) > 0 && ent.Annual.Unit != annual.Unit {
			return Entitlement{}, ErrUnitMismatch
		}
		committed := used.Approved.Add(used.Pending)
		total := annual.Add(carriedOver)
		if committed.GreaterThan(total) {
			return Entitlement{}, &InsufficientBalanceError{
				EntityID:  key.EntityID,
				LeaveYear: key.LeaveYear,
				Available: total,
				Requested: committed,
				Shortfall: committed.Sub(total),
			}
		}
	}

	ent.Annual = annual
	ent.CarriedOver = carriedOver
	ent.UpdatedAt = now
	if err := lt.store.SaveEntitlement(ctx, *ent); err != nil {
		return Entitlement{}, err
	}
	lt.markDirty(key)
	return *ent, nil
}

// Rollover carries the unused balance of key into the following
// leave-year, capped at maxCarry when given. The next year's annual
// amount is kept if the row exists, else nextAnnual, else this year's.
// Running it again recomputes the carry-over from the current balance.
func (lt *LedgerTx) Rollover(ctx context.Context, key LedgerKey, nextAnnual, maxCarry *Amount) (Entitlement, error) {
	proj, err := lt.project(ctx, key)
	if err != nil {
		return Entitlement{}, err
	}
	b := proj.Balance

	carry := b.Remaining()
	if carry.IsNegative() {
		carry = carry.Zero()
	}
	if maxCarry != nil {
		if maxCarry.Unit != carry.Unit {
			return Entitlement{}, ErrUnitMismatch
		}
		carry = carry.Min(*maxCarry)
	}

	next := LedgerKey{EntityID: key.EntityID, LeaveYear: key.LeaveYear + 1}
	existing, err := lt.store.GetEntitlement(ctx, next)
	if err != nil {
		return Entitlement{}, err
	}

	annual := b.Annual
	switch {
	case existing != nil:
		annual = existing.Annual
	case nextAnnual != nil:
		annual = *nextAnnual
	}
	return lt.SetEntitlement(ctx, next, annual, carry)
}

// Close bumps the version of every key this LedgerTx wrote to. It must
// be the last call before the surrounding store transaction commits.
func (lt *LedgerTx) Close(ctx context.Context) error {
	for _, key := range lt.dirty {
		if err := lt.store.BumpVersion(ctx, key, lt.versions[key]); err != nil {
			return err
		}
	}
	lt.dirty = nil
	return nil
}

func checkUnit(b Balance, amount Amount) error {
	if b.Annual.Unit != amount.Unit {
		return fmt.Errorf("%w: entitlement in %s, amount in %s", ErrUnitMismatch, b.Annual.Unit, amount.Unit)
	}
	return nil
}

// =============================================================================
// ENTITLEMENT LEDGER - Standalone entry points
// =============================================================================

type EntitlementLedger struct {
	Store TxStore
	Retry RetryPolicy
	Now   func() time.Time
}

func NewLedger(store TxStore) *EntitlementLedger {
	return &EntitlementLedger{Store: store, Retry: DefaultRetryPolicy, Now: time.Now}
}

// Update runs fn in a store transaction with a fresh LedgerTx, retrying
// the whole closure on version conflicts.
func (l *EntitlementLedger) Update(ctx context.Context, actor string, fn func(*LedgerTx) error) error {
	return l.Retry.Do(ctx, func() error {
		return l.Store.WithTx(ctx, func(st Store) error {
			lt := NewLedgerTx(st, actor, l.Now)
			if err := fn(lt); err != nil {
				return err
			}
			return lt.Close(ctx)
		})
	})
}

func (l *EntitlementLedger) GetBalance(ctx context.Context, entityID EntityID, year LeaveYear) (Balance, error) {
	var b Balance
	err := l.Store.WithTx(ctx, func(st Store) error {
		var err error
		b, err = NewLedgerTx(st, "", l.Now).Balance(ctx, LedgerKey{EntityID: entityID, LeaveYear: year})
		return err
	})
	return b, err
}

func (l *EntitlementLedger) Reserve(ctx context.Context, entityID EntityID, year LeaveYear, amount Amount) (ReservationID, error) {
	var id ReservationID
	err := l.Update(ctx, "", func(lt *LedgerTx) error {
		var err error
		id, err = lt.Reserve(ctx, LedgerKey{EntityID: entityID, LeaveYear: year}, amount, "")
		return err
	})
	return id, err
}

func (l *EntitlementLedger) Commit(ctx context.Context, id ReservationID) error {
	return l.Update(ctx, "", func(lt *LedgerTx) error {
		return lt.Commit(ctx, id)
	})
}

func (l *EntitlementLedger) Release(ctx context.Context, id ReservationID) error {
	return l.Update(ctx, "", func(lt *LedgerTx) error {
		return lt.Release(ctx, id)
	})
}

func (l *EntitlementLedger) ReverseApproved(ctx context.Context, entityID EntityID, year LeaveYear, amount Amount) error {
	return l.Update(ctx, "", func(lt *LedgerTx) error {
		return lt.ReverseApproved(ctx, LedgerKey{EntityID: entityID, LeaveYear: year}, amount, "")
	})
}

func (l *EntitlementLedger) SetEntitlement(ctx context.Context, actor string, entityID EntityID, year LeaveYear, annual, carriedOver Amount) (Entitlement, error) {
	var ent Entitlement
	err := l.Update(ctx, actor, func(lt *LedgerTx) error {
		var err error
		ent, err = lt.SetEntitlement(ctx, LedgerKey{EntityID: entityID, LeaveYear: year}, annual, carriedOver)
		return err
	})
	return ent, err
}

func (l *EntitlementLedger) Rollover(ctx context.Context, actor string, entityID EntityID, from LeaveYear, nextAnnual, maxCarry *Amount) (Entitlement, error) {
	var ent Entitlement
	err := l.Update(ctx, actor, func(lt *LedgerTx) error {
		var err error
		ent, err = lt.Rollover(ctx, LedgerKey{EntityID: entityID, LeaveYear: from}, nextAnnual, maxCarry)
		return err
	})
	if errors.Is(err, ErrEntitlementNotFound) {
		return Entitlement{}, fmt.Errorf("rollover from %d: %w", from, err)
	}
	return ent, err
}
