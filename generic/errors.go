/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All ledger error types in one place for consistency and discoverability.
  The holiday package wraps these with request context and adds its own
  workflow errors.

ERROR CATEGORIES:
  1. Client errors - The caller asked for something the balance can't give
  2. Consistency errors - A reservation or reversal that should not exist;
     these indicate a bug in the caller, not bad user input
  3. Concurrency errors - Version conflicts (retried) and contention
     (retries exhausted)

USAGE:
  if errors.Is(err, generic.ErrInsufficientBalance) {
      var ibe *generic.InsufficientBalanceError
      errors.As(err, &ibe)
      ...
  }

SEE ALSO:
  - ledger.go: Uses these errors
  - holiday/errors.go: Workflow errors
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInsufficientBalance is returned when a reservation exceeds the remaining balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrUnknownReservation is returned when committing or releasing a
	// reservation that does not exist or was already resolved.
	ErrUnknownReservation = errors.New("unknown reservation")

	// ErrReversalExceedsApproved is returned when reversing more than was approved.
	ErrReversalExceedsApproved = errors.New("reversal exceeds approved amount")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrContention is returned when retries on a conflicted key are exhausted.
	ErrContention = errors.New("ledger contention: retries exhausted")

	// ErrEntitlementNotFound is returned when no entitlement exists for (staff, leave-year).
	ErrEntitlementNotFound = errors.New("entitlement not found")

	// ErrUnitMismatch is returned when an amount's unit differs from the entitlement's.
	ErrUnitMismatch = errors.New("unit mismatch")

	// ErrInvalidAmount is returned for zero or negative movement amounts.
	ErrInvalidAmount = errors.New("invalid amount: must be positive")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	EntityID  EntityID
	LeaveYear LeaveYear
	Available Amount
	Requested Amount
	Shortfall Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s in %d: available %v, requested %v, shortfall %v",
		e.EntityID, e.LeaveYear, e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// ReservationError names the reservation a commit/release could not resolve.
type ReservationError struct {
	ReservationID ReservationID
	Op            string
}

func (e *ReservationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ReservationID, ErrUnknownReservation)
}

func (e *ReservationError) Unwrap() error {
	return ErrUnknownReservation
}

// ReversalError provides details about an over-reversal.
type ReversalError struct {
	EntityID  EntityID
	LeaveYear LeaveYear
	Approved  Amount
	Requested Amount
}

func (e *ReversalError) Error() string {
	return fmt.Sprintf("reverse %v for %s in %d: only %v approved",
		e.Requested, e.EntityID, e.LeaveYear, e.Approved)
}

func (e *ReversalError) Unwrap() error {
	return ErrReversalExceedsApproved
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrUnitMismatch) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntitlementNotFound)
}

// IsConsistencyError returns true for errors that mean ledger state and
// request state disagree. Callers log these distinctly.
func IsConsistencyError(err error) bool {
	return errors.Is(err, ErrUnknownReservation) ||
		errors.Is(err, ErrReversalExceedsApproved)
}
