/*
payment.go - PaymentProcessor, the single mutator of a payment record

PURPOSE:
  Owns the payment arithmetic (netPay = gross - manual - other - debt) and
  the payment status machine, and coordinates debt deduction as an atomic
  side effect.

STATE MACHINE:
  pending -> processing -> completed
  pending | processing | partially_paid -> cancelled
  pending -> partially_paid   (debt deduction only partially realizable)
  pending -> completed        (payment with no debt deduction)

FINALIZE ORDER:
  deductions -> debt application -> process. The manual and other
  deduction fields freeze the moment debt deductions are applied, so the
  recorded deduction breakdown can never drift from the net-pay arithmetic.

ATOMICITY:
  ApplyDebtDeduction runs allocator + per-debt application + the payment
  update inside one store transaction. A failure on the Nth debt rolls back
  every prior application in the call. Cancellation likewise reverses all
  applied deductions or none.
*/
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// PaymentProcessor mutates payments through the store. Safe for concurrent use.
type PaymentProcessor struct {
	store     LedgerStore
	debts     *DebtLedger
	allocator *DeductionAllocator
	now       func() time.Time
}

func NewPaymentProcessor(store LedgerStore, debts *DebtLedger) *PaymentProcessor {
	return &PaymentProcessor{
		store:     store,
		debts:     debts,
		allocator: NewDeductionAllocator(),
		now:       time.Now,
	}
}

// WithClock overrides the time source. Tests only.
func (p *PaymentProcessor) WithClock(now func() time.Time) *PaymentProcessor {
	p.now = now
	return p
}

// =============================================================================
// CREATION
// =============================================================================

// CreatePaymentParams carries the payment-creation command.
type CreatePaymentParams struct {
	WorkerID WorkerID
	PlotID   string
	GrossPay Money
	Notes    string
}

// CreatePayment records a new wage payment in "pending".
func (p *PaymentProcessor) CreatePayment(ctx context.Context, params CreatePaymentParams) (*Payment, error) {
	if params.GrossPay.IsNegative() {
		return nil, &ValidationError{Field: "grossPay", Message: "must not be negative"}
	}
	if _, err := p.store.GetWorker(ctx, params.WorkerID); err != nil {
		return nil, err
	}

	now := p.now()
	pay := &Payment{
		ID:                 PaymentID(uuid.NewString()),
		WorkerID:           params.WorkerID,
		PlotID:             params.PlotID,
		GrossPay:           params.GrossPay,
		ManualDeduction:    Zero(),
		OtherDeductions:    Zero(),
		TotalDebtDeduction: Zero(),
		Status:             PaymentPending,
		Notes:              params.Notes,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := p.store.CreatePayment(ctx, pay); err != nil {
		return nil, err
	}
	return pay, nil
}

// Get returns a payment.
func (p *PaymentProcessor) Get(ctx context.Context, id PaymentID) (*Payment, error) {
	return p.store.GetPayment(ctx, id)
}

// History returns the payment's audit trail, oldest first.
func (p *PaymentProcessor) History(ctx context.Context, id PaymentID) ([]PaymentHistory, error) {
	if _, err := p.store.GetPayment(ctx, id); err != nil {
		return nil, err
	}
	return p.store.PaymentHistory(ctx, id)
}

// =============================================================================
// AMOUNT SETTERS
// =============================================================================

// SetGrossPay replaces the gross pay. Rejected once debt deductions are
// applied or the payment is terminal.
func (p *PaymentProcessor) SetGrossPay(ctx context.Context, id PaymentID, amount Money) (*Payment, error) {
	if amount.IsNegative() {
		return nil, &ValidationError{Field: "grossPay", Message: "must not be negative"}
	}
	return p.setAmount(ctx, id, "gross_pay", func(pay *Payment) (Money, *Money) {
		return pay.GrossPay, &pay.GrossPay
	}, amount)
}

// SetManualDeduction replaces the manual deduction.
func (p *PaymentProcessor) SetManualDeduction(ctx context.Context, id PaymentID, amount Money) (*Payment, error) {
	if amount.IsNegative() {
		return nil, &ValidationError{Field: "manualDeduction", Message: "must not be negative"}
	}
	return p.setAmount(ctx, id, "manual_deduction", func(pay *Payment) (Money, *Money) {
		return pay.ManualDeduction, &pay.ManualDeduction
	}, amount)
}

// SetOtherDeductions replaces the other-deductions bucket.
func (p *PaymentProcessor) SetOtherDeductions(ctx context.Context, id PaymentID, amount Money) (*Payment, error) {
	if amount.IsNegative() {
		return nil, &ValidationError{Field: "otherDeductions", Message: "must not be negative"}
	}
	return p.setAmount(ctx, id, "other_deductions", func(pay *Payment) (Money, *Money) {
		return pay.OtherDeductions, &pay.OtherDeductions
	}, amount)
}

// UpdateDeductions sets manual and/or other deductions in one transaction.
// Nil means "leave unchanged". Validation happens against the combined
// result before anything persists.
func (p *PaymentProcessor) UpdateDeductions(ctx context.Context, id PaymentID, manual, other *Money) (*Payment, error) {
	if manual == nil && other == nil {
		return nil, &ValidationError{Field: "deductions", Message: "nothing to update"}
	}
	if manual != nil && manual.IsNegative() {
		return nil, &ValidationError{Field: "manualDeduction", Message: "must not be negative"}
	}
	if other != nil && other.IsNegative() {
		return nil, &ValidationError{Field: "otherDeductions", Message: "must not be negative"}
	}

	return p.mutatePayment(ctx, id, func(s LedgerStore, pay *Payment) error {
		if err := p.deductionsMutable(pay, "update deductions"); err != nil {
			return err
		}
		now := p.now()
		if manual != nil {
			old := pay.ManualDeduction
			pay.ManualDeduction = *manual
			if pay.NetPay().IsNegative() {
				return &NegativeNetPayError{PaymentID: pay.ID, Field: "manualDeduction", NetPay: pay.NetPay()}
			}
			if err := p.appendFieldChange(ctx, s, pay, "manual_deduction", old.String(), manual.String(), now); err != nil {
				return err
			}
		}
		if other != nil {
			old := pay.OtherDeductions
			pay.OtherDeductions = *other
			if pay.NetPay().IsNegative() {
				return &NegativeNetPayError{PaymentID: pay.ID, Field: "otherDeductions", NetPay: pay.NetPay()}
			}
			if err := p.appendFieldChange(ctx, s, pay, "other_deductions", old.String(), other.String(), now); err != nil {
				return err
			}
		}
		pay.UpdatedAt = now
		return nil
	})
}

func (p *PaymentProcessor) setAmount(ctx context.Context, id PaymentID, field string, pick func(*Payment) (Money, *Money), amount Money) (*Payment, error) {
	return p.mutatePayment(ctx, id, func(s LedgerStore, pay *Payment) error {
		if err := p.deductionsMutable(pay, "set "+field); err != nil {
			return err
		}
		old, slot := pick(pay)
		*slot = amount
		if pay.NetPay().IsNegative() {
			return &NegativeNetPayError{PaymentID: pay.ID, Field: field, NetPay: pay.NetPay()}
		}
		now := p.now()
		pay.UpdatedAt = now
		return p.appendFieldChange(ctx, s, pay, field, old.String(), amount.String(), now)
	})
}

// deductionsMutable enforces the finalize order: amounts freeze once debt
// deductions are applied.
func (p *PaymentProcessor) deductionsMutable(pay *Payment, op string) error {
	if pay.terminal() {
		return &InvalidStateError{Record: "payment", ID: string(pay.ID), Status: string(pay.Status), Operation: op}
	}
	if pay.DeductionsApplied() {
		return &InvalidStateError{Record: "payment", ID: string(pay.ID), Status: string(pay.Status), Operation: op + " after debt deductions applied"}
	}
	return nil
}

// =============================================================================
// DEBT DEDUCTION - atomic across payment and debts
// =============================================================================

// DebtDeductionResult reports what ApplyDebtDeduction actually did.
type DebtDeductionResult struct {
	Payment     *Payment
	Applied     []DebtDeduction
	Unallocated Money
}

// ApplyDebtDeduction allocates requested capacity across the worker's open
// debts (oldest due first) and applies each slice inside one transaction.
// If any single application fails, everything in the call rolls back and
// TotalDebtDeduction is left unchanged.
//
// When open debt covers only part of the request, the allocatable part is
// applied and the payment moves to partially_paid; the remainder comes back
// in the result. When no open debt exists at all, nothing is applied and
// AllocationShortfallError is returned.
func (p *PaymentProcessor) ApplyDebtDeduction(ctx context.Context, id PaymentID, requested Money) (*DebtDeductionResult, error) {
	if !requested.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}

	var result *DebtDeductionResult
	pay, err := p.mutatePayment(ctx, id, func(s LedgerStore, pay *Payment) error {
		if pay.terminal() {
			return &InvalidStateError{Record: "payment", ID: string(pay.ID), Status: string(pay.Status), Operation: "apply debt deduction"}
		}
		if pay.DeductionsApplied() {
			return &InvalidStateError{Record: "payment", ID: string(pay.ID), Status: string(pay.Status), Operation: "apply debt deduction twice"}
		}

		// Net pay guard runs before any debt is touched.
		after := pay.NetPay().Sub(requested)
		if after.IsNegative() {
			return &NegativeNetPayError{PaymentID: pay.ID, Field: "totalDebtDeduction", NetPay: after}
		}

		open, err := s.ListOpenDebts(ctx, pay.WorkerID)
		if err != nil {
			return err
		}
		plan, err := p.allocator.Allocate(requested, open)
		if err != nil {
			return err
		}
		if !plan.Allocated.IsPositive() {
			return &AllocationShortfallError{
				WorkerID:    pay.WorkerID,
				Requested:   requested,
				Allocated:   Zero(),
				Unallocated: requested,
			}
		}

		// Apply in allocator order. The order is deterministic, so two
		// payments hitting overlapping debt sets mutate in the same
		// sequence and cannot deadlock.
		now := p.now()
		for _, alloc := range plan.Allocations {
			d, err := s.GetDebt(ctx, alloc.DebtID)
			if err != nil {
				return err
			}
			v := d.Version
			if err := p.debts.applyPaymentLocked(ctx, s, d, alloc.Amount, "debt_deduction", string(pay.ID), "wage deduction"); err != nil {
				return err
			}
			if err := s.SaveDebt(ctx, d, v); err != nil {
				return err
			}
			pay.DeductionBreakdown = append(pay.DeductionBreakdown, DebtDeduction{
				DebtID:        alloc.DebtID,
				AmountApplied: alloc.Amount,
			})
		}

		pay.TotalDebtDeduction = plan.Allocated
		oldStatus := pay.Status
		if plan.Unallocated.IsPositive() {
			pay.Status = PaymentPartiallyPaid
		} else {
			pay.Status = PaymentProcessing
		}
		pay.UpdatedAt = now

		if err := p.appendFieldChange(ctx, s, pay, "debt_deduction", "0.00", plan.Allocated.String(), now); err != nil {
			return err
		}
		if err := p.appendStatusChange(ctx, s, pay, oldStatus, pay.Status, "debt deduction applied", now); err != nil {
			return err
		}

		result = &DebtDeductionResult{
			Applied:     pay.DeductionBreakdown,
			Unallocated: plan.Unallocated,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Payment = pay
	return result, nil
}

// =============================================================================
// PROCESS AND CANCEL
// =============================================================================

// Process marks the payment disbursed. Allowed from pending (no debt
// deduction), processing, or partially_paid. The finalize order is enforced
// structurally: amount fields are frozen from the moment debt deductions
// are applied, so netPay here is always final.
func (p *PaymentProcessor) Process(ctx context.Context, id PaymentID, paymentDate time.Time, method, reference string) (*Payment, error) {
	return p.mutatePayment(ctx, id, func(s LedgerStore, pay *Payment) error {
		if pay.terminal() {
			return &InvalidStateError{Record: "payment", ID: string(pay.ID), Status: string(pay.Status), Operation: "process"}
		}
		now := p.now()
		if paymentDate.IsZero() {
			paymentDate = now
		}
		oldStatus := pay.Status
		pay.Status = PaymentCompleted
		pay.PaymentDate = &paymentDate
		pay.Method = method
		pay.Reference = reference
		pay.UpdatedAt = now
		return p.appendStatusChange(ctx, s, pay, oldStatus, pay.Status, "processed", now)
	})
}

// Cancel voids the payment. Applied debt deductions are reversed first, in
// reverse application order, inside the same transaction; a cancelled
// payment must not leave phantom repayments in the debt ledger. If any
// reversal is impossible (a later event already touched the debt), the
// whole cancellation fails and nothing changes.
func (p *PaymentProcessor) Cancel(ctx context.Context, id PaymentID, reason string) (*Payment, error) {
	return p.mutatePayment(ctx, id, func(s LedgerStore, pay *Payment) error {
		if pay.terminal() {
			return &InvalidStateError{Record: "payment", ID: string(pay.ID), Status: string(pay.Status), Operation: "cancel"}
		}
		now := p.now()

		for i := len(pay.DeductionBreakdown) - 1; i >= 0; i-- {
			ded := pay.DeductionBreakdown[i]
			d, err := s.GetDebt(ctx, ded.DebtID)
			if err != nil {
				return err
			}
			rows, err := s.DebtHistory(ctx, ded.DebtID)
			if err != nil {
				return err
			}
			target, err := findDeductionRow(rows, pay.ID, ded.AmountApplied)
			if err != nil {
				return err
			}
			v := d.Version
			if err := p.debts.reverseLocked(ctx, s, d, rows, target, "payment "+string(pay.ID)+" cancelled: "+reason); err != nil {
				return err
			}
			if err := s.SaveDebt(ctx, d, v); err != nil {
				return err
			}
		}

		oldStatus := pay.Status
		pay.Status = PaymentCancelled
		pay.UpdatedAt = now
		return p.appendStatusChange(ctx, s, pay, oldStatus, pay.Status, "cancelled: "+reason, now)
	})
}

// findDeductionRow locates the debt-history row a deduction wrote, matched
// by the payment reference and amount.
func findDeductionRow(rows []DebtHistory, paymentID PaymentID, amount Money) (HistoryID, error) {
	for i := len(rows) - 1; i >= 0; i-- {
		h := rows[i]
		if h.Type == DebtTxPayment && h.Reference == string(paymentID) && h.Amount.Equal(amount) {
			return h.ID, nil
		}
	}
	return "", &NotFoundError{Record: "deduction history row for payment", ID: string(paymentID)}
}

// =============================================================================
// HISTORY HELPERS
// =============================================================================

func (p *PaymentProcessor) appendFieldChange(ctx context.Context, s LedgerStore, pay *Payment, field, oldVal, newVal string, at time.Time) error {
	return s.AppendPaymentHistory(ctx, PaymentHistory{
		ID:        HistoryID(uuid.NewString()),
		PaymentID: pay.ID,
		Field:     field,
		OldValue:  oldVal,
		NewValue:  newVal,
		CreatedAt: at,
	})
}

func (p *PaymentProcessor) appendStatusChange(ctx context.Context, s LedgerStore, pay *Payment, oldStatus, newStatus PaymentStatus, reason string, at time.Time) error {
	return s.AppendPaymentHistory(ctx, PaymentHistory{
		ID:        HistoryID(uuid.NewString()),
		PaymentID: pay.ID,
		Field:     "status",
		OldValue:  string(oldStatus),
		NewValue:  string(newStatus),
		Reason:    reason,
		CreatedAt: at,
	})
}

// =============================================================================
// MUTATION HELPER - optimistic read-modify-write, one retry
// =============================================================================

func (p *PaymentProcessor) mutatePayment(ctx context.Context, id PaymentID, fn func(LedgerStore, *Payment) error) (*Payment, error) {
	var out *Payment
	attempt := func() error {
		return p.store.WithTx(ctx, func(s LedgerStore) error {
			pay, err := s.GetPayment(ctx, id)
			if err != nil {
				return err
			}
			v := pay.Version
			if err := fn(s, pay); err != nil {
				return err
			}
			if err := s.SavePayment(ctx, pay, v); err != nil {
				return err
			}
			out = pay
			return nil
		})
	}

	err := attempt()
	if errors.Is(err, ErrVersionConflict) {
		err = attempt()
		if errors.Is(err, ErrVersionConflict) {
			return nil, &ConcurrentModificationError{Record: "payment", ID: string(id)}
		}
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}
