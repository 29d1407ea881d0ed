/*
debt.go - DebtLedger, the single mutator of a debt record

PURPOSE:
  Owns one debt's lifecycle: creation, interest, payments, adjustments,
  reversals, cancellation. Every balance change appends a history row in
  the same store transaction that saves the debt, so record and audit trail
  cannot diverge.

STATE MACHINE (stored status):
  pending -> partially_paid -> paid     (forward only, on payment)
  pending | partially_paid -> cancelled (explicit, irreversible)

  "overdue" is not stored; Debt.StatusAt derives it from DueDate at read
  time so it can never go stale.

FAILURE SEMANTICS:
  - Interest and payment application on a paid/cancelled debt are no-ops.
  - Any other operation on a terminal debt fails with InvalidStateError.
  - Amounts exceeding the balance fail with AmountExceedsBalanceError;
    silent clamping would mask double-counting bugs in callers.

CONCURRENCY:
  Each mutation is an optimistic read-modify-write on one debt: load,
  mutate, save with the version read. On conflict the whole mutation is
  re-run once against fresh state, then ConcurrentModificationError.
*/
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// errNoChange signals a documented no-op: nothing to save, nothing to append.
var errNoChange = errors.New("no change")

// DebtLedger mutates debts through the store. Safe for concurrent use.
type DebtLedger struct {
	store     LedgerStore
	debtLimit Money // per-worker ceiling for CheckDebtLimit; zero = unlimited
	now       func() time.Time
}

func NewDebtLedger(store LedgerStore) *DebtLedger {
	return &DebtLedger{store: store, now: time.Now}
}

// WithDebtLimit sets the per-worker debt ceiling used by CheckDebtLimit.
func (l *DebtLedger) WithDebtLimit(limit Money) *DebtLedger {
	l.debtLimit = limit
	return l
}

// WithClock overrides the time source. Tests only.
func (l *DebtLedger) WithClock(now func() time.Time) *DebtLedger {
	l.now = now
	return l
}

// =============================================================================
// CREATION
// =============================================================================

// CreateDebtParams carries the debt-incurrence command.
type CreateDebtParams struct {
	WorkerID     WorkerID
	Amount       Money
	InterestRate decimal.Decimal
	Method       InterestMethod
	CompoundFreq CompoundFrequency
	Term         PaymentTerm
	DueDate      *time.Time
	DateIncurred time.Time
	Notes        string
}

// CreateDebt records a new obligation in "pending".
// DueDate falls back to the payment term's preset when omitted.
func (l *DebtLedger) CreateDebt(ctx context.Context, p CreateDebtParams) (*Debt, error) {
	if !p.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	if p.InterestRate.IsNegative() {
		return nil, &ValidationError{Field: "interestRate", Message: "must not be negative"}
	}
	if _, err := l.store.GetWorker(ctx, p.WorkerID); err != nil {
		return nil, err
	}

	now := l.now()
	incurred := p.DateIncurred
	if incurred.IsZero() {
		incurred = now
	}
	due := p.DueDate
	if due == nil {
		due = p.Term.DueDateFrom(incurred)
	}
	method := p.Method
	if method == "" {
		method = InterestSimple
	}

	d := &Debt{
		ID:             DebtID(uuid.NewString()),
		WorkerID:       p.WorkerID,
		OriginalAmount: p.Amount,
		InterestRate:   p.InterestRate,
		InterestMethod: method,
		CompoundFreq:   p.CompoundFreq,
		TotalInterest:  Zero(),
		TotalPaid:      Zero(),
		Status:         DebtPending,
		PaymentTerm:    p.Term,
		DateIncurred:   incurred,
		DueDate:        due,
		Notes:          p.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := l.store.CreateDebt(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Get returns the debt with its derived status filled in.
func (l *DebtLedger) Get(ctx context.Context, id DebtID) (*Debt, error) {
	return l.store.GetDebt(ctx, id)
}

// History returns the debt's audit trail, oldest first.
func (l *DebtLedger) History(ctx context.Context, id DebtID) ([]DebtHistory, error) {
	if _, err := l.store.GetDebt(ctx, id); err != nil {
		return nil, err
	}
	return l.store.DebtHistory(ctx, id)
}

// =============================================================================
// INTEREST
// =============================================================================

// AccrueInterest computes interest on the outstanding balance from the last
// payment date (or date incurred) up to asOf and adds it to TotalInterest.
// No-op on paid/cancelled debts, on a zero rate, and when no full day has
// elapsed.
func (l *DebtLedger) AccrueInterest(ctx context.Context, id DebtID, asOf time.Time) (*Debt, error) {
	return l.mutateDebt(ctx, id, func(s LedgerStore, d *Debt) error {
		if !d.Open() {
			return errNoChange
		}
		since := d.DateIncurred
		if d.LastPayment != nil {
			since = *d.LastPayment
		}
		days := int(asOf.Sub(since).Hours() / 24)
		if days <= 0 || d.InterestRate.IsZero() {
			return errNoChange
		}

		amount, err := Interest(d.Balance(), d.InterestRate, days, d.InterestMethod, d.CompoundFreq)
		if err != nil {
			return err
		}
		if amount.IsZero() {
			return errNoChange
		}
		return l.addInterestLocked(ctx, s, d, amount, "accrual as of "+asOf.Format("2006-01-02"))
	})
}

// AddInterest adds an explicit interest amount, e.g. a manually assessed
// charge. No-op target states mirror AccrueInterest.
func (l *DebtLedger) AddInterest(ctx context.Context, id DebtID, amount Money, notes string) (*Debt, error) {
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	return l.mutateDebt(ctx, id, func(s LedgerStore, d *Debt) error {
		if !d.Open() {
			return errNoChange
		}
		return l.addInterestLocked(ctx, s, d, amount, notes)
	})
}

func (l *DebtLedger) addInterestLocked(ctx context.Context, s LedgerStore, d *Debt, amount Money, notes string) error {
	prev := d.Balance()
	d.TotalInterest = d.TotalInterest.Add(amount)
	now := l.now()
	d.UpdatedAt = now

	h := DebtHistory{
		ID:              HistoryID(uuid.NewString()),
		DebtID:          d.ID,
		Type:            DebtTxInterest,
		Amount:          amount,
		Delta:           amount,
		PreviousBalance: prev,
		NewBalance:      d.Balance(),
		Notes:           notes,
		CreatedAt:       now,
	}
	if err := h.validate(); err != nil {
		return err
	}
	return s.AppendDebtHistory(ctx, h)
}

// =============================================================================
// PAYMENTS
// =============================================================================

// ApplyPayment applies amount against the balance. The debt moves to
// partially_paid, or paid when the balance reaches zero. Overshoot is a
// caller bug and fails; no-op on terminal debts.
func (l *DebtLedger) ApplyPayment(ctx context.Context, id DebtID, amount Money, method, reference, notes string) (*Debt, error) {
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	return l.mutateDebt(ctx, id, func(s LedgerStore, d *Debt) error {
		if !d.Open() {
			return errNoChange
		}
		return l.applyPaymentLocked(ctx, s, d, amount, method, reference, notes)
	})
}

// applyPaymentLocked is the shared core used by ApplyPayment and by the
// payment processor inside its own transaction.
func (l *DebtLedger) applyPaymentLocked(ctx context.Context, s LedgerStore, d *Debt, amount Money, method, reference, notes string) error {
	bal := d.Balance()
	if amount.GreaterThan(bal) {
		return &AmountExceedsBalanceError{DebtID: d.ID, Balance: bal, Requested: amount}
	}

	now := l.now()
	d.TotalPaid = d.TotalPaid.Add(amount)
	d.LastPayment = &now
	d.UpdatedAt = now
	if d.Balance().IsZero() {
		d.Status = DebtPaid
	} else {
		d.Status = DebtPartiallyPaid
	}

	h := DebtHistory{
		ID:              HistoryID(uuid.NewString()),
		DebtID:          d.ID,
		Type:            DebtTxPayment,
		Amount:          amount,
		Delta:           amount.Neg(),
		PreviousBalance: bal,
		NewBalance:      d.Balance(),
		Method:          method,
		Reference:       reference,
		Notes:           notes,
		CreatedAt:       now,
	}
	if err := h.validate(); err != nil {
		return err
	}
	return s.AppendDebtHistory(ctx, h)
}

// =============================================================================
// ADJUSTMENTS AND REVERSALS
// =============================================================================

// Adjust applies a signed correction. Positive amounts record as added
// charges (TotalInterest), negative amounts as non-cash credits (TotalPaid),
// so the balance identity original + interest - paid keeps holding.
func (l *DebtLedger) Adjust(ctx context.Context, id DebtID, amount Money, reason string) (*Debt, error) {
	if amount.IsZero() {
		return nil, &ValidationError{Field: "amount", Message: "must be non-zero"}
	}
	return l.mutateDebt(ctx, id, func(s LedgerStore, d *Debt) error {
		if !d.Open() {
			return &InvalidStateError{Record: "debt", ID: string(d.ID), Status: string(d.Status), Operation: "adjust"}
		}
		bal := d.Balance()
		if amount.IsNegative() && amount.Neg().GreaterThan(bal) {
			return &AmountExceedsBalanceError{DebtID: d.ID, Balance: bal, Requested: amount.Neg()}
		}

		now := l.now()
		if amount.IsPositive() {
			d.TotalInterest = d.TotalInterest.Add(amount)
		} else {
			d.TotalPaid = d.TotalPaid.Add(amount.Neg())
			if d.Balance().IsZero() {
				d.Status = DebtPaid
			} else {
				d.Status = DebtPartiallyPaid
			}
		}
		d.UpdatedAt = now

		h := DebtHistory{
			ID:              HistoryID(uuid.NewString()),
			DebtID:          d.ID,
			Type:            DebtTxAdjustment,
			Amount:          Money{Value: amount.Value.Abs()},
			Delta:           amount,
			PreviousBalance: bal,
			NewBalance:      d.Balance(),
			Notes:           reason,
			CreatedAt:       now,
		}
		if err := h.validate(); err != nil {
			return err
		}
		return s.AppendDebtHistory(ctx, h)
	})
}

// Reverse undoes a previous payment or interest row by appending its inverse.
// The target must be the most recent money-affecting row for the debt:
// reversals are last-in first-out, not arbitrary undo, so the restored
// balance can be re-derived from history rather than merely negated.
func (l *DebtLedger) Reverse(ctx context.Context, id DebtID, historyID HistoryID, reason string) (*Debt, error) {
	return l.mutateDebt(ctx, id, func(s LedgerStore, d *Debt) error {
		if d.Status == DebtCancelled {
			return &InvalidStateError{Record: "debt", ID: string(d.ID), Status: string(d.Status), Operation: "reverse"}
		}
		rows, err := s.DebtHistory(ctx, d.ID)
		if err != nil {
			return err
		}
		return l.reverseLocked(ctx, s, d, rows, historyID, reason)
	})
}

func (l *DebtLedger) reverseLocked(ctx context.Context, s LedgerStore, d *Debt, rows []DebtHistory, historyID HistoryID, reason string) error {
	var target *DebtHistory
	for i := range rows {
		if rows[i].ID == historyID {
			target = &rows[i]
		}
	}
	if target == nil {
		return &NotFoundError{Record: "debt history", ID: string(historyID)}
	}

	// Ordering rule: nothing money-affecting may have been written after
	// the target, otherwise reapplying its inverse would not land on the
	// recorded pre-entry balance.
	for i := len(rows) - 1; i >= 0; i-- {
		if !rows[i].moneyAffecting() {
			continue
		}
		if rows[i].ID != target.ID {
			return ErrReversalNotLatest
		}
		break
	}

	now := l.now()
	bal := d.Balance()
	var h DebtHistory
	switch target.Type {
	case DebtTxPayment:
		d.TotalPaid = d.TotalPaid.Sub(target.Amount)
		h = DebtHistory{
			Type:   DebtTxRefund,
			Amount: target.Amount,
			Delta:  target.Amount,
		}
		if d.TotalPaid.IsZero() {
			d.Status = DebtPending
		} else {
			d.Status = DebtPartiallyPaid
		}
	case DebtTxInterest:
		d.TotalInterest = d.TotalInterest.Sub(target.Amount)
		h = DebtHistory{
			Type:   DebtTxAdjustment,
			Amount: target.Amount,
			Delta:  target.Amount.Neg(),
		}
	default:
		return &ValidationError{Field: "historyId", Message: "only payment and interest rows can be reversed"}
	}

	// Re-derive, don't negate: the restored balance must equal what history
	// says the balance was before the target entry.
	if !d.Balance().Equal(target.PreviousBalance) {
		return &ValidationError{Field: "historyId", Message: "restored balance does not match recorded pre-entry balance"}
	}

	h.ID = HistoryID(uuid.NewString())
	h.DebtID = d.ID
	h.PreviousBalance = bal
	h.NewBalance = d.Balance()
	h.Reference = string(target.ID)
	h.Notes = reason
	h.CreatedAt = now
	d.UpdatedAt = now

	if err := h.validate(); err != nil {
		return err
	}
	return s.AppendDebtHistory(ctx, h)
}

// Cancel freezes the debt. The remaining balance is not forgiven; the debt
// simply stops participating in deduction allocation. Irreversible.
func (l *DebtLedger) Cancel(ctx context.Context, id DebtID, reason string) (*Debt, error) {
	return l.mutateDebt(ctx, id, func(s LedgerStore, d *Debt) error {
		if !d.Open() {
			return &InvalidStateError{Record: "debt", ID: string(d.ID), Status: string(d.Status), Operation: "cancel"}
		}
		now := l.now()
		bal := d.Balance()
		d.Status = DebtCancelled
		d.UpdatedAt = now

		// Zero-delta row keeps the cancellation in the audit trail without
		// pretending money moved.
		h := DebtHistory{
			ID:              HistoryID(uuid.NewString()),
			DebtID:          d.ID,
			Type:            DebtTxAdjustment,
			Amount:          Zero(),
			Delta:           Zero(),
			PreviousBalance: bal,
			NewBalance:      bal,
			Notes:           "cancelled: " + reason,
			CreatedAt:       now,
		}
		return s.AppendDebtHistory(ctx, h)
	})
}

// =============================================================================
// DEBT LIMIT
// =============================================================================

// DebtLimitCheck answers checkDebtLimit.
type DebtLimitCheck struct {
	IsWithinLimit  bool
	RemainingLimit Money
}

// CheckDebtLimit compares a proposed new debt against the configured
// per-worker ceiling, given the worker's current open balances.
// A zero limit means no ceiling is enforced.
func (l *DebtLedger) CheckDebtLimit(ctx context.Context, workerID WorkerID, proposed Money) (*DebtLimitCheck, error) {
	if proposed.IsNegative() {
		return nil, &ValidationError{Field: "proposedAmount", Message: "must not be negative"}
	}
	if _, err := l.store.GetWorker(ctx, workerID); err != nil {
		return nil, err
	}
	if l.debtLimit.IsZero() {
		return &DebtLimitCheck{IsWithinLimit: true, RemainingLimit: Zero()}, nil
	}

	open, err := l.store.ListOpenDebts(ctx, workerID)
	if err != nil {
		return nil, err
	}
	outstanding := Zero()
	for _, d := range open {
		outstanding = outstanding.Add(d.Balance())
	}

	remaining := l.debtLimit.Sub(outstanding)
	if remaining.IsNegative() {
		remaining = Zero()
	}
	return &DebtLimitCheck{
		IsWithinLimit:  !proposed.GreaterThan(remaining),
		RemainingLimit: remaining,
	}, nil
}

// =============================================================================
// MUTATION HELPER - optimistic read-modify-write, one retry
// =============================================================================

func (l *DebtLedger) mutateDebt(ctx context.Context, id DebtID, fn func(LedgerStore, *Debt) error) (*Debt, error) {
	var out *Debt
	attempt := func() error {
		return l.store.WithTx(ctx, func(s LedgerStore) error {
			d, err := s.GetDebt(ctx, id)
			if err != nil {
				return err
			}
			v := d.Version
			if err := fn(s, d); err != nil {
				if errors.Is(err, errNoChange) {
					out = d
					return nil
				}
				return err
			}
			if err := s.SaveDebt(ctx, d, v); err != nil {
				return err
			}
			out = d
			return nil
		})
	}

	err := attempt()
	if errors.Is(err, ErrVersionConflict) {
		err = attempt()
		if errors.Is(err, ErrVersionConflict) {
			return nil, &ConcurrentModificationError{Record: "debt", ID: string(id)}
		}
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}
