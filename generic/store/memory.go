// Package store provides Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/warp/holiday-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a generic.TxStore held in maps. WithTx holds the store lock
// for the duration of fn, so it serializes all transactions; use the
// SQLite store when per-key concurrency matters.
type Memory struct {
	mu           sync.RWMutex
	transactions map[generic.LedgerKey][]generic.Transaction
	entitlements map[generic.LedgerKey]generic.Entitlement
	idempotency  map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[generic.LedgerKey][]generic.Transaction),
		entitlements: make(map[generic.LedgerKey]generic.Entitlement),
		idempotency:  make(map[string]bool),
	}
}

var _ generic.TxStore = (*Memory)(nil)

func (m *Memory) Append(_ context.Context, tx generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Memory) appendLocked(tx generic.Transaction) error {
	if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
		return generic.ErrDuplicateIdempotencyKey
	}
	k := tx.Key()
	m.transactions[k] = append(m.transactions[k], tx)
	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) Load(_ context.Context, key generic.LedgerKey) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadLocked(key), nil
}

func (m *Memory) loadLocked(key generic.LedgerKey) []generic.Transaction {
	result := make([]generic.Transaction, len(m.transactions[key]))
	copy(result, m.transactions[key])
	return result
}

func (m *Memory) LoadByReservation(_ context.Context, id generic.ReservationID) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadByReservationLocked(id), nil
}

func (m *Memory) loadByReservationLocked(id generic.ReservationID) []generic.Transaction {
	var result []generic.Transaction
	for _, txs := range m.transactions {
		for _, tx := range txs {
			if tx.ReservationID == id {
				result = append(result, tx)
			}
		}
	}
	return result
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

func (m *Memory) GetEntitlement(_ context.Context, key generic.LedgerKey) (*generic.Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getEntitlementLocked(key), nil
}

func (m *Memory) getEntitlementLocked(key generic.LedgerKey) *generic.Entitlement {
	e, ok := m.entitlements[key]
	if !ok {
		return nil
	}
	return &e
}

func (m *Memory) SaveEntitlement(_ context.Context, e generic.Entitlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveEntitlementLocked(e)
	return nil
}

func (m *Memory) saveEntitlementLocked(e generic.Entitlement) {
	if existing, ok := m.entitlements[e.Key()]; ok {
		e.Version = existing.Version
		e.CreatedAt = existing.CreatedAt
	} else {
		e.Version = 0
	}
	m.entitlements[e.Key()] = e
}

func (m *Memory) BumpVersion(_ context.Context, key generic.LedgerKey, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bumpVersionLocked(key, expected)
}

func (m *Memory) bumpVersionLocked(key generic.LedgerKey, expected int64) error {
	e, ok := m.entitlements[key]
	if !ok || e.Version != expected {
		return generic.ErrConcurrentModification
	}
	e.Version++
	m.entitlements[key] = e
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(generic.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txMemoryView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	transactions map[generic.LedgerKey][]generic.Transaction
	entitlements map[generic.LedgerKey]generic.Entitlement
	idempotency  map[string]bool
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		transactions: make(map[generic.LedgerKey][]generic.Transaction, len(m.transactions)),
		entitlements: make(map[generic.LedgerKey]generic.Entitlement, len(m.entitlements)),
		idempotency:  make(map[string]bool, len(m.idempotency)),
	}
	for k, v := range m.transactions {
		s.transactions[k] = append([]generic.Transaction{}, v...)
	}
	for k, v := range m.entitlements {
		s.entitlements[k] = v
	}
	for k, v := range m.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.transactions = s.transactions
	m.entitlements = s.entitlements
	m.idempotency = s.idempotency
}

// txMemoryView is handed to WithTx callbacks; the parent lock is already held.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) Append(_ context.Context, tx generic.Transaction) error {
	return tv.parent.appendLocked(tx)
}

func (tv *txMemoryView) Load(_ context.Context, key generic.LedgerKey) ([]generic.Transaction, error) {
	return tv.parent.loadLocked(key), nil
}

func (tv *txMemoryView) LoadByReservation(_ context.Context, id generic.ReservationID) ([]generic.Transaction, error) {
	return tv.parent.loadByReservationLocked(id), nil
}

func (tv *txMemoryView) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	return tv.parent.idempotency[idempotencyKey], nil
}

func (tv *txMemoryView) GetEntitlement(_ context.Context, key generic.LedgerKey) (*generic.Entitlement, error) {
	return tv.parent.getEntitlementLocked(key), nil
}

func (tv *txMemoryView) SaveEntitlement(_ context.Context, e generic.Entitlement) error {
	tv.parent.saveEntitlementLocked(e)
	return nil
}

func (tv *txMemoryView) BumpVersion(_ context.Context, key generic.LedgerKey, expected int64) error {
	return tv.parent.bumpVersionLocked(key, expected)
}
