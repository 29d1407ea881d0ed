/*
errors.go - Centralized error types for the ledger engine

ERROR CATEGORIES:
  1. Input errors     - malformed or out-of-range amounts (ValidationError)
  2. State errors     - operation not legal for the current status
  3. Monetary guards  - overshoot, negative net pay, allocation shortfall
  4. Store errors     - missing records, optimistic-lock conflicts

Every structured error unwraps to a sentinel so callers can classify with
errors.Is without losing the detail carried by the concrete type.
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all malformed-input failures.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidState is returned when an operation is not legal for the
	// record's current status (e.g. paying a cancelled debt).
	ErrInvalidState = errors.New("operation not allowed in current state")

	// ErrAmountExceedsBalance is returned when a payment or adjustment would
	// push a debt balance below zero. Overshoot indicates a caller bug and is
	// never clamped silently.
	ErrAmountExceedsBalance = errors.New("amount exceeds remaining balance")

	// ErrNegativeNetPay is returned when a deduction would make net pay negative.
	ErrNegativeNetPay = errors.New("net pay would be negative")

	// ErrAllocationShortfall is returned when requested debt deduction exceeds
	// the worker's total open debt. The allocatable portion is still applied.
	ErrAllocationShortfall = errors.New("requested deduction exceeds open debt")

	// ErrConcurrentModification is returned after a bounded retry when two
	// operations race on the same record.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is the store-level signal behind ErrConcurrentModification.
	// Services retry once on it; callers should not see it directly.
	ErrVersionConflict = errors.New("version conflict")

	// ErrReversalNotLatest is returned when the reversal target is not the most
	// recent money-affecting history row for its debt. Reversals are last-in
	// first-out, not arbitrary undo.
	ErrReversalNotLatest = errors.New("reversal target is not the latest entry")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InvalidStateError describes which transition was refused.
type InvalidStateError struct {
	Record    string // "debt" or "payment"
	ID        string
	Status    string
	Operation string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s is %s: %s not allowed", e.Record, e.ID, e.Status, e.Operation)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// AmountExceedsBalanceError carries the overshoot details.
type AmountExceedsBalanceError struct {
	DebtID    DebtID
	Balance   Money
	Requested Money
}

func (e *AmountExceedsBalanceError) Error() string {
	return fmt.Sprintf("debt %s: requested %v exceeds balance %v", e.DebtID, e.Requested, e.Balance)
}

func (e *AmountExceedsBalanceError) Unwrap() error { return ErrAmountExceedsBalance }

// NegativeNetPayError names the deduction field that broke the invariant.
type NegativeNetPayError struct {
	PaymentID PaymentID
	Field     string
	NetPay    Money
}

func (e *NegativeNetPayError) Error() string {
	return fmt.Sprintf("payment %s: %s would leave net pay at %v", e.PaymentID, e.Field, e.NetPay)
}

func (e *NegativeNetPayError) Unwrap() error { return ErrNegativeNetPay }

// AllocationShortfallError reports how much of the requested capacity could
// not be matched against real debt.
type AllocationShortfallError struct {
	WorkerID    WorkerID
	Requested   Money
	Allocated   Money
	Unallocated Money
}

func (e *AllocationShortfallError) Error() string {
	return fmt.Sprintf("worker %s: requested %v, only %v allocatable (%v unallocated)",
		e.WorkerID, e.Requested, e.Allocated, e.Unallocated)
}

func (e *AllocationShortfallError) Unwrap() error { return ErrAllocationShortfall }

// NotFoundError identifies the missing record.
type NotFoundError struct {
	Record string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Record, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConcurrentModificationError is surfaced after the bounded retry gives up.
type ConcurrentModificationError struct {
	Record string
	ID     string
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("%s %s modified concurrently, retry exhausted", e.Record, e.ID)
}

func (e *ConcurrentModificationError) Unwrap() error { return ErrConcurrentModification }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the failure is the caller's fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrAmountExceedsBalance) ||
		errors.Is(err, ErrNegativeNetPay) ||
		errors.Is(err, ErrAllocationShortfall) ||
		errors.Is(err, ErrReversalNotLatest)
}

// IsConflict reports state or concurrency conflicts (HTTP 409 territory).
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsNotFound reports a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether the operation might succeed if reissued.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
