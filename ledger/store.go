/*
store.go - Persistence boundary for debts, payments, workers, and histories

PURPOSE:
  Defines the interface between ledger logic and the database. The store
  provides atomic read-modify-write on a single debt or payment plus its
  history rows, and nothing more clever than that: policy lives in the
  services (debt.go, payment.go), not here.

APPEND-ONLY CONTRACT:
  History rows have Append* and list methods only. No update, no delete.
  Corrections are refund rows written through DebtLedger.Reverse.

OPTIMISTIC CONCURRENCY:
  SaveDebt/SavePayment/SaveWorker take the version the caller read.
  A mismatch returns ErrVersionConflict; services retry once and then
  surface ConcurrentModificationError (bounded retry, no livelock).

ATOMIC SEQUENCES:
  WithTx runs a function against a transactional view of the store.
  An error rolls back every write made inside the function. This is how
  applyDebtDeduction and payment cancellation stay all-or-nothing.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite with WAL, for production
*/
package ledger

import "context"

// DebtStore persists debts and their append-only history.
type DebtStore interface {
	CreateDebt(ctx context.Context, d *Debt) error

	// GetDebt returns nil, *NotFoundError when the id is unknown.
	GetDebt(ctx context.Context, id DebtID) (*Debt, error)

	// SaveDebt persists a mutated debt iff the stored version still equals
	// expectedVersion, then bumps the version. Returns ErrVersionConflict
	// otherwise.
	SaveDebt(ctx context.Context, d *Debt, expectedVersion int64) error

	// ListOpenDebts returns a worker's non-paid, non-cancelled debts.
	// Order is unspecified; the allocator sorts.
	ListOpenDebts(ctx context.Context, workerID WorkerID) ([]*Debt, error)

	// ListDebtsByWorker returns every debt for the worker, any status.
	ListDebtsByWorker(ctx context.Context, workerID WorkerID) ([]*Debt, error)

	// AppendDebtHistory writes one immutable audit row.
	AppendDebtHistory(ctx context.Context, h DebtHistory) error

	// DebtHistory returns a debt's rows in write order (oldest first).
	DebtHistory(ctx context.Context, id DebtID) ([]DebtHistory, error)
}

// PaymentStore persists payments and their append-only history.
type PaymentStore interface {
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)
	SavePayment(ctx context.Context, p *Payment, expectedVersion int64) error
	ListPaymentsByWorker(ctx context.Context, workerID WorkerID) ([]*Payment, error)

	AppendPaymentHistory(ctx context.Context, h PaymentHistory) error
	PaymentHistory(ctx context.Context, id PaymentID) ([]PaymentHistory, error)
}

// WorkerStore persists workers. Summary fields on the worker row are written
// only through SaveWorkerSummary, and only the reconciler calls it.
type WorkerStore interface {
	CreateWorker(ctx context.Context, w *Worker) error
	GetWorker(ctx context.Context, id WorkerID) (*Worker, error)

	// SaveWorkerSummary replaces the cached summary fields wholesale.
	// Full recomputation replaces, never merges, so overlapping reconciler
	// runs are safe: the last writer's fresh computation wins.
	SaveWorkerSummary(ctx context.Context, w *Worker, expectedVersion int64) error
}

// LedgerStore is the full persistence boundary.
type LedgerStore interface {
	DebtStore
	PaymentStore
	WorkerStore

	// WithTx executes fn against a transactional view. If fn returns an
	// error every write inside it is rolled back.
	WithTx(ctx context.Context, fn func(LedgerStore) error) error
}
