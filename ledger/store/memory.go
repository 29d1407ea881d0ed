// Package store provides an in-memory LedgerStore for tests and development.
package store

import (
	"context"
	"sync"

	"github.com/sakahan/farm-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.LedgerStore with maps and a single mutex.
// WithTx is simulated with a full snapshot restored on error, which gives
// the same all-or-nothing semantics the SQLite store gets from real
// transactions.
type Memory struct {
	mu sync.RWMutex

	// txMu serializes WithTx against every operation that does not go
	// through the transaction's view. A write landing mid-transaction would
	// otherwise be erased by that transaction's rollback snapshot, and a
	// read would see uncommitted state.
	txMu sync.Mutex

	debts          map[ledger.DebtID]*ledger.Debt
	payments       map[ledger.PaymentID]*ledger.Payment
	workers        map[ledger.WorkerID]*ledger.Worker
	debtHistory    map[ledger.DebtID][]ledger.DebtHistory
	paymentHistory map[ledger.PaymentID][]ledger.PaymentHistory
}

func NewMemory() *Memory {
	return &Memory{
		debts:          make(map[ledger.DebtID]*ledger.Debt),
		payments:       make(map[ledger.PaymentID]*ledger.Payment),
		workers:        make(map[ledger.WorkerID]*ledger.Worker),
		debtHistory:    make(map[ledger.DebtID][]ledger.DebtHistory),
		paymentHistory: make(map[ledger.PaymentID][]ledger.PaymentHistory),
	}
}

// The exported methods take txMu so they cannot interleave with an
// in-flight WithTx; the unexported variants are what the transaction's
// view calls (the transaction already holds txMu).

// =============================================================================
// DEBTS
// =============================================================================

func (m *Memory) CreateDebt(ctx context.Context, d *ledger.Debt) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.createDebt(ctx, d)
}

func (m *Memory) createDebt(_ context.Context, d *ledger.Debt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.debts[d.ID]; ok {
		return &ledger.ValidationError{Field: "id", Message: "debt already exists"}
	}
	cp := *d
	cp.Version = 1
	m.debts[d.ID] = &cp
	d.Version = 1
	return nil
}

func (m *Memory) GetDebt(ctx context.Context, id ledger.DebtID) (*ledger.Debt, error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.getDebt(ctx, id)
}

func (m *Memory) getDebt(_ context.Context, id ledger.DebtID) (*ledger.Debt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.debts[id]
	if !ok {
		return nil, &ledger.NotFoundError{Record: "debt", ID: string(id)}
	}
	cp := *d
	return &cp, nil
}

func (m *Memory) SaveDebt(ctx context.Context, d *ledger.Debt, expectedVersion int64) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.saveDebt(ctx, d, expectedVersion)
}

func (m *Memory) saveDebt(_ context.Context, d *ledger.Debt, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.debts[d.ID]
	if !ok {
		return &ledger.NotFoundError{Record: "debt", ID: string(d.ID)}
	}
	if stored.Version != expectedVersion {
		return ledger.ErrVersionConflict
	}
	cp := *d
	cp.Version = expectedVersion + 1
	m.debts[d.ID] = &cp
	d.Version = cp.Version
	return nil
}

func (m *Memory) ListOpenDebts(ctx context.Context, workerID ledger.WorkerID) ([]*ledger.Debt, error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.listOpenDebts(ctx, workerID)
}

func (m *Memory) listOpenDebts(_ context.Context, workerID ledger.WorkerID) ([]*ledger.Debt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ledger.Debt
	for _, d := range m.debts {
		if d.WorkerID == workerID && d.Open() {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) ListDebtsByWorker(ctx context.Context, workerID ledger.WorkerID) ([]*ledger.Debt, error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.listDebtsByWorker(ctx, workerID)
}

func (m *Memory) listDebtsByWorker(_ context.Context, workerID ledger.WorkerID) ([]*ledger.Debt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ledger.Debt
	for _, d := range m.debts {
		if d.WorkerID == workerID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) AppendDebtHistory(ctx context.Context, h ledger.DebtHistory) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.appendDebtHistory(ctx, h)
}

func (m *Memory) appendDebtHistory(_ context.Context, h ledger.DebtHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debtHistory[h.DebtID] = append(m.debtHistory[h.DebtID], h)
	return nil
}

func (m *Memory) DebtHistory(ctx context.Context, id ledger.DebtID) ([]ledger.DebtHistory, error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.debtHistoryRows(ctx, id)
}

func (m *Memory) debtHistoryRows(_ context.Context, id ledger.DebtID) ([]ledger.DebtHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.debtHistory[id]
	out := make([]ledger.DebtHistory, len(rows))
	copy(out, rows)
	return out, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (m *Memory) CreatePayment(ctx context.Context, p *ledger.Payment) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.createPayment(ctx, p)
}

func (m *Memory) createPayment(_ context.Context, p *ledger.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.ID]; ok {
		return &ledger.ValidationError{Field: "id", Message: "payment already exists"}
	}
	cp := clonePayment(p)
	cp.Version = 1
	m.payments[p.ID] = cp
	p.Version = 1
	return nil
}

func (m *Memory) GetPayment(ctx context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.getPayment(ctx, id)
}

func (m *Memory) getPayment(_ context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, &ledger.NotFoundError{Record: "payment", ID: string(id)}
	}
	return clonePayment(p), nil
}

func (m *Memory) SavePayment(ctx context.Context, p *ledger.Payment, expectedVersion int64) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.savePayment(ctx, p, expectedVersion)
}

func (m *Memory) savePayment(_ context.Context, p *ledger.Payment, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.payments[p.ID]
	if !ok {
		return &ledger.NotFoundError{Record: "payment", ID: string(p.ID)}
	}
	if stored.Version != expectedVersion {
		return ledger.ErrVersionConflict
	}
	cp := clonePayment(p)
	cp.Version = expectedVersion + 1
	m.payments[p.ID] = cp
	p.Version = cp.Version
	return nil
}

func (m *Memory) ListPaymentsByWorker(ctx context.Context, workerID ledger.WorkerID) ([]*ledger.Payment, error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.listPaymentsByWorker(ctx, workerID)
}

func (m *Memory) listPaymentsByWorker(_ context.Context, workerID ledger.WorkerID) ([]*ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ledger.Payment
	for _, p := range m.payments {
		if p.WorkerID == workerID {
			out = append(out, clonePayment(p))
		}
	}
	return out, nil
}

func (m *Memory) AppendPaymentHistory(ctx context.Context, h ledger.PaymentHistory) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.appendPaymentHistory(ctx, h)
}

func (m *Memory) appendPaymentHistory(_ context.Context, h ledger.PaymentHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paymentHistory[h.PaymentID] = append(m.paymentHistory[h.PaymentID], h)
	return nil
}

func (m *Memory) PaymentHistory(ctx context.Context, id ledger.PaymentID) ([]ledger.PaymentHistory, error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.paymentHistoryRows(ctx, id)
}

func (m *Memory) paymentHistoryRows(_ context.Context, id ledger.PaymentID) ([]ledger.PaymentHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.paymentHistory[id]
	out := make([]ledger.PaymentHistory, len(rows))
	copy(out, rows)
	return out, nil
}

// clonePayment deep-copies the breakdown slice so callers cannot alias
// stored state.
func clonePayment(p *ledger.Payment) *ledger.Payment {
	cp := *p
	cp.DeductionBreakdown = append([]ledger.DebtDeduction(nil), p.DeductionBreakdown...)
	return &cp
}

// =============================================================================
// WORKERS
// =============================================================================

func (m *Memory) CreateWorker(ctx context.Context, w *ledger.Worker) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.createWorker(ctx, w)
}

func (m *Memory) createWorker(_ context.Context, w *ledger.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workers[w.ID]; ok {
		return &ledger.ValidationError{Field: "id", Message: "worker already exists"}
	}
	cp := *w
	cp.Version = 1
	m.workers[w.ID] = &cp
	w.Version = 1
	return nil
}

func (m *Memory) GetWorker(ctx context.Context, id ledger.WorkerID) (*ledger.Worker, error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.getWorker(ctx, id)
}

func (m *Memory) getWorker(_ context.Context, id ledger.WorkerID) (*ledger.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[id]
	if !ok {
		return nil, &ledger.NotFoundError{Record: "worker", ID: string(id)}
	}
	cp := *w
	return &cp, nil
}

func (m *Memory) SaveWorkerSummary(ctx context.Context, w *ledger.Worker, expectedVersion int64) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.saveWorkerSummary(ctx, w, expectedVersion)
}

func (m *Memory) saveWorkerSummary(_ context.Context, w *ledger.Worker, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.workers[w.ID]
	if !ok {
		return &ledger.NotFoundError{Record: "worker", ID: string(w.ID)}
	}
	if stored.Version != expectedVersion {
		return ledger.ErrVersionConflict
	}
	cp := *w
	cp.Version = expectedVersion + 1
	m.workers[w.ID] = &cp
	w.Version = cp.Version
	return nil
}

// =============================================================================
// TRANSACTIONS - snapshot and restore
// =============================================================================

// WithTx executes fn against a view of the store. On error the snapshot
// taken at entry is restored, so every write inside fn disappears. txMu is
// held for the whole transaction, so no other operation can slip a write
// under the snapshot or observe uncommitted state.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.LedgerStore) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snap := m.snapshot()
	m.mu.Unlock()

	view := &txView{parent: m}
	if err := fn(view); err != nil {
		m.mu.Lock()
		m.restore(snap)
		m.mu.Unlock()
		return err
	}
	return nil
}

type memorySnapshot struct {
	debts          map[ledger.DebtID]*ledger.Debt
	payments       map[ledger.PaymentID]*ledger.Payment
	workers        map[ledger.WorkerID]*ledger.Worker
	debtHistory    map[ledger.DebtID][]ledger.DebtHistory
	paymentHistory map[ledger.PaymentID][]ledger.PaymentHistory
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		debts:          make(map[ledger.DebtID]*ledger.Debt, len(m.debts)),
		payments:       make(map[ledger.PaymentID]*ledger.Payment, len(m.payments)),
		workers:        make(map[ledger.WorkerID]*ledger.Worker, len(m.workers)),
		debtHistory:    make(map[ledger.DebtID][]ledger.DebtHistory, len(m.debtHistory)),
		paymentHistory: make(map[ledger.PaymentID][]ledger.PaymentHistory, len(m.paymentHistory)),
	}
	for k, v := range m.debts {
		cp := *v
		s.debts[k] = &cp
	}
	for k, v := range m.payments {
		s.payments[k] = clonePayment(v)
	}
	for k, v := range m.workers {
		cp := *v
		s.workers[k] = &cp
	}
	for k, v := range m.debtHistory {
		s.debtHistory[k] = append([]ledger.DebtHistory(nil), v...)
	}
	for k, v := range m.paymentHistory {
		s.paymentHistory[k] = append([]ledger.PaymentHistory(nil), v...)
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.debts = s.debts
	m.payments = s.payments
	m.workers = s.workers
	m.debtHistory = s.debtHistory
	m.paymentHistory = s.paymentHistory
}

// txView calls the parent's unexported operations: the transaction already
// holds txMu, and the parent's entry snapshot provides the rollback.
type txView struct {
	parent *Memory
}

func (v *txView) CreateDebt(ctx context.Context, d *ledger.Debt) error {
	return v.parent.createDebt(ctx, d)
}
func (v *txView) GetDebt(ctx context.Context, id ledger.DebtID) (*ledger.Debt, error) {
	return v.parent.getDebt(ctx, id)
}
func (v *txView) SaveDebt(ctx context.Context, d *ledger.Debt, ev int64) error {
	return v.parent.saveDebt(ctx, d, ev)
}
func (v *txView) ListOpenDebts(ctx context.Context, w ledger.WorkerID) ([]*ledger.Debt, error) {
	return v.parent.listOpenDebts(ctx, w)
}
func (v *txView) ListDebtsByWorker(ctx context.Context, w ledger.WorkerID) ([]*ledger.Debt, error) {
	return v.parent.listDebtsByWorker(ctx, w)
}
func (v *txView) AppendDebtHistory(ctx context.Context, h ledger.DebtHistory) error {
	return v.parent.appendDebtHistory(ctx, h)
}
func (v *txView) DebtHistory(ctx context.Context, id ledger.DebtID) ([]ledger.DebtHistory, error) {
	return v.parent.debtHistoryRows(ctx, id)
}
func (v *txView) CreatePayment(ctx context.Context, p *ledger.Payment) error {
	return v.parent.createPayment(ctx, p)
}
func (v *txView) GetPayment(ctx context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	return v.parent.getPayment(ctx, id)
}
func (v *txView) SavePayment(ctx context.Context, p *ledger.Payment, ev int64) error {
	return v.parent.savePayment(ctx, p, ev)
}
func (v *txView) ListPaymentsByWorker(ctx context.Context, w ledger.WorkerID) ([]*ledger.Payment, error) {
	return v.parent.listPaymentsByWorker(ctx, w)
}
func (v *txView) AppendPaymentHistory(ctx context.Context, h ledger.PaymentHistory) error {
	return v.parent.appendPaymentHistory(ctx, h)
}
func (v *txView) PaymentHistory(ctx context.Context, id ledger.PaymentID) ([]ledger.PaymentHistory, error) {
	return v.parent.paymentHistoryRows(ctx, id)
}
func (v *txView) CreateWorker(ctx context.Context, w *ledger.Worker) error {
	return v.parent.createWorker(ctx, w)
}
func (v *txView) GetWorker(ctx context.Context, id ledger.WorkerID) (*ledger.Worker, error) {
	return v.parent.getWorker(ctx, id)
}
func (v *txView) SaveWorkerSummary(ctx context.Context, w *ledger.Worker, ev int64) error {
	return v.parent.saveWorkerSummary(ctx, w, ev)
}

// WithTx on a view runs fn against the same view: nested participation in
// the outer transaction, matching the SQLite store's behavior.
func (v *txView) WithTx(ctx context.Context, fn func(ledger.LedgerStore) error) error {
	return fn(v)
}
