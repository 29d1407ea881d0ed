/*
reconcile.go - BalanceReconciler, owner of worker summary fields

PURPOSE:
  Recomputes a worker's totalDebt / totalPaid / currentBalance from the
  append-only debt histories. The cached fields on the worker row are pure
  projections: no other component writes them, which is what eliminates the
  drift bugs of independently updated running totals.

CANONICAL DEFINITIONS:
  totalDebt      = sum of replayed balances of non-cancelled, unpaid debts
  totalPaid      = sum of debt-history payment amounts minus refunds
                   (debt-side repayments; payment-side net pay stays a
                   report view, not an alternate truth)
  currentBalance = totalDebt (the worker's outstanding obligation)

IDEMPOTENCE:
  Reconciliation is a full replace, not a merge. Running it twice with no
  intervening mutation produces identical output, and overlapping runs are
  safe because the last writer's fresh computation wins.

DRIFT DETECTION:
  Each debt's balance is replayed from its history rows and compared to the
  stored field arithmetic. A mismatch is reported, not papered over.
*/
package ledger

import (
	"context"
	"errors"
	"time"
)

// WorkerSummary is the reconciler's output.
type WorkerSummary struct {
	WorkerID       WorkerID
	TotalDebt      Money
	TotalPaid      Money
	CurrentBalance Money
	ReconciledAt   time.Time

	// Drift lists debts whose stored fields disagree with their history.
	Drift []DebtDrift
}

// DebtDrift reports one inconsistency between a debt record and its history.
type DebtDrift struct {
	DebtID   DebtID
	Stored   Money
	Replayed Money
}

// BalanceReconciler recomputes and persists worker summaries.
type BalanceReconciler struct {
	store LedgerStore
	now   func() time.Time
}

func NewBalanceReconciler(store LedgerStore) *BalanceReconciler {
	return &BalanceReconciler{store: store, now: time.Now}
}

// WithClock overrides the time source. Tests only.
func (r *BalanceReconciler) WithClock(now func() time.Time) *BalanceReconciler {
	r.now = now
	return r
}

// Reconcile recomputes the worker's summary from history and replaces the
// cached fields on the worker row.
func (r *BalanceReconciler) Reconcile(ctx context.Context, workerID WorkerID) (*WorkerSummary, error) {
	summary, err := r.Compute(ctx, workerID)
	if err != nil {
		return nil, err
	}

	// Replace, never merge. A version conflict here means another reconciler
	// run just wrote a fresh computation; recompute once and write again.
	err = r.persist(ctx, workerID, summary)
	if errors.Is(err, ErrVersionConflict) {
		summary, err = r.Compute(ctx, workerID)
		if err != nil {
			return nil, err
		}
		err = r.persist(ctx, workerID, summary)
		if errors.Is(err, ErrVersionConflict) {
			return nil, &ConcurrentModificationError{Record: "worker", ID: string(workerID)}
		}
	}
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// Compute derives the summary without persisting it. Deterministic over the
// store's current contents.
func (r *BalanceReconciler) Compute(ctx context.Context, workerID WorkerID) (*WorkerSummary, error) {
	if _, err := r.store.GetWorker(ctx, workerID); err != nil {
		return nil, err
	}
	debts, err := r.store.ListDebtsByWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}

	summary := &WorkerSummary{
		WorkerID:  workerID,
		TotalDebt: Zero(),
		TotalPaid: Zero(),
	}
	for _, d := range debts {
		rows, err := r.store.DebtHistory(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		replayed := replayBalance(d.OriginalAmount, rows)

		if !replayed.Equal(d.Balance()) {
			summary.Drift = append(summary.Drift, DebtDrift{
				DebtID:   d.ID,
				Stored:   d.Balance(),
				Replayed: replayed,
			})
		}

		for _, h := range rows {
			switch h.Type {
			case DebtTxPayment:
				summary.TotalPaid = summary.TotalPaid.Add(h.Amount)
			case DebtTxRefund:
				summary.TotalPaid = summary.TotalPaid.Sub(h.Amount)
			}
		}

		if d.Open() {
			summary.TotalDebt = summary.TotalDebt.Add(replayed)
		}
	}
	summary.CurrentBalance = summary.TotalDebt
	summary.ReconciledAt = r.now()
	return summary, nil
}

func (r *BalanceReconciler) persist(ctx context.Context, workerID WorkerID, s *WorkerSummary) error {
	w, err := r.store.GetWorker(ctx, workerID)
	if err != nil {
		return err
	}
	v := w.Version
	w.TotalDebt = s.TotalDebt
	w.TotalPaid = s.TotalPaid
	w.CurrentBalance = s.CurrentBalance
	at := s.ReconciledAt
	w.ReconciledAt = &at
	return r.store.SaveWorkerSummary(ctx, w, v)
}

// replayBalance folds a debt's history rows over its principal. This is the
// authoritative balance: the stored field arithmetic must agree with it.
func replayBalance(original Money, rows []DebtHistory) Money {
	balance := original
	for _, h := range rows {
		balance = balance.Add(h.Delta)
	}
	return balance
}
