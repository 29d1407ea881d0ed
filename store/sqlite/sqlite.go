/*
Package sqlite provides the SQLite-backed LedgerStore.

PURPOSE:
  Implements the full persistence boundary (debts, payments, workers, and
  their append-only histories) on SQLite. The same patterns apply to
  PostgreSQL; only SQL dialect details differ.

APPEND-ONLY ENFORCEMENT:
  There are no UPDATE or DELETE statements against debt_history or
  payment_history. Corrections are refund rows written by the services.

OPTIMISTIC CONCURRENCY:
  debts, payments, and workers carry a version column. Saves run
  "UPDATE ... SET version = version + 1 WHERE id = ? AND version = ?" and
  report ErrVersionConflict when no row matches, which the services turn
  into a bounded retry.

TRANSACTIONS:
  WithTx wraps fn in one BEGIN/COMMIT. The fn receives a store view bound
  to the transaction, so a failure on the Nth debt of a deduction rolls
  back every earlier write in the call.

WAL MODE:
  The database opens with WAL so readers do not block the single writer.

MIGRATION:
  Schema is auto-migrated on New(). For production, a versioned migration
  tool would take over.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/sakahan/farm-ledger/ledger"
)

// dbtx is the subset of *sql.DB and *sql.Tx the store uses.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements ledger.LedgerStore using SQLite.
type Store struct {
	db *sql.DB
	q  dbtx // *sql.DB normally, *sql.Tx inside WithTx
}

// New opens (or creates) the database at path. Use ":memory:" for tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// storms under concurrent ledger mutations.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, q: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		plot_id TEXT,
		total_debt TEXT NOT NULL DEFAULT '0',
		total_paid TEXT NOT NULL DEFAULT '0',
		current_balance TEXT NOT NULL DEFAULT '0',
		reconciled_at TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS debts (
		id TEXT PRIMARY KEY,
		worker_id TEXT NOT NULL REFERENCES workers(id),
		original_amount TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		interest_method TEXT NOT NULL,
		compound_freq TEXT,
		total_interest TEXT NOT NULL,
		total_paid TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_term TEXT,
		date_incurred TEXT NOT NULL,
		due_date TEXT,
		last_payment TEXT,
		notes TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_debts_worker
		ON debts(worker_id);
	CREATE INDEX IF NOT EXISTS idx_debts_worker_status
		ON debts(worker_id, status);

	-- Append-only ledger of balance-affecting debt events.
	CREATE TABLE IF NOT EXISTS debt_history (
		id TEXT PRIMARY KEY,
		debt_id TEXT NOT NULL REFERENCES debts(id),
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		delta TEXT NOT NULL,
		previous_balance TEXT NOT NULL,
		new_balance TEXT NOT NULL,
		method TEXT,
		reference TEXT,
		notes TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_debt_history_debt
		ON debt_history(debt_id);
	CREATE INDEX IF NOT EXISTS idx_debt_history_reference
		ON debt_history(reference) WHERE reference IS NOT NULL;

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		worker_id TEXT NOT NULL REFERENCES workers(id),
		plot_id TEXT,
		gross_pay TEXT NOT NULL,
		manual_deduction TEXT NOT NULL,
		other_deductions TEXT NOT NULL,
		total_debt_deduction TEXT NOT NULL,
		status TEXT NOT NULL,
		breakdown_json TEXT NOT NULL DEFAULT '[]',
		payment_date TEXT,
		method TEXT,
		reference TEXT,
		notes TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_worker
		ON payments(worker_id);

	-- Append-only audit of payment field and status changes.
	CREATE TABLE IF NOT EXISTS payment_history (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL REFERENCES payments(id),
		field TEXT NOT NULL,
		old_value TEXT,
		new_value TEXT,
		reason TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payment_history_payment
		ON payment_history(payment_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn inside one database transaction. A nested call joins the
// outer transaction instead of opening a second one.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.LedgerStore) error) error {
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	view := &Store{db: s.db, q: tx}
	if err := fn(view); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// =============================================================================
// TIME AND MONEY ENCODING
// =============================================================================

func encodeTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func decodeTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := decodeTime(s.String)
	return &t
}

func decodeMoney(s string) ledger.Money { return ledger.ParseMoney(s) }

func decodeDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// DEBTS
// =============================================================================

func (s *Store) CreateDebt(ctx context.Context, d *ledger.Debt) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO debts (id, worker_id, original_amount, interest_rate, interest_method,
			compound_freq, total_interest, total_paid, status, payment_term,
			date_incurred, due_date, last_payment, notes, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		string(d.ID), string(d.WorkerID),
		d.OriginalAmount.Value.String(), d.InterestRate.String(), string(d.InterestMethod),
		string(d.CompoundFreq), d.TotalInterest.Value.String(), d.TotalPaid.Value.String(),
		string(d.Status), string(d.PaymentTerm),
		encodeTime(d.DateIncurred), encodeTimePtr(d.DueDate), encodeTimePtr(d.LastPayment),
		d.Notes, encodeTime(d.CreatedAt), encodeTime(d.UpdatedAt),
	)
	if err != nil {
		return err
	}
	d.Version = 1
	return nil
}

const debtColumns = `id, worker_id, original_amount, interest_rate, interest_method,
	compound_freq, total_interest, total_paid, status, payment_term,
	date_incurred, due_date, last_payment, notes, version, created_at, updated_at`

func scanDebt(row interface{ Scan(...any) error }) (*ledger.Debt, error) {
	var (
		d                                 ledger.Debt
		id, workerID                      string
		original, rate, interest, paid    string
		method, freq, status, term, notes sql.NullString
		incurred, createdAt, updatedAt    string
		dueDate, lastPayment              sql.NullString
	)
	err := row.Scan(&id, &workerID, &original, &rate, &method, &freq,
		&interest, &paid, &status, &term, &incurred, &dueDate, &lastPayment,
		&notes, &d.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	d.ID = ledger.DebtID(id)
	d.WorkerID = ledger.WorkerID(workerID)
	d.OriginalAmount = decodeMoney(original)
	d.InterestRate = decodeDecimal(rate)
	d.InterestMethod = ledger.InterestMethod(method.String)
	d.CompoundFreq = ledger.CompoundFrequency(freq.String)
	d.TotalInterest = decodeMoney(interest)
	d.TotalPaid = decodeMoney(paid)
	d.Status = ledger.DebtStatus(status.String)
	d.PaymentTerm = ledger.PaymentTerm(term.String)
	d.DateIncurred = decodeTime(incurred)
	d.DueDate = decodeTimePtr(dueDate)
	d.LastPayment = decodeTimePtr(lastPayment)
	d.Notes = notes.String
	d.CreatedAt = decodeTime(createdAt)
	d.UpdatedAt = decodeTime(updatedAt)
	return &d, nil
}

func (s *Store) GetDebt(ctx context.Context, id ledger.DebtID) (*ledger.Debt, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+debtColumns+` FROM debts WHERE id = ?`, string(id))
	d, err := scanDebt(row)
	if err == sql.ErrNoRows {
		return nil, &ledger.NotFoundError{Record: "debt", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) SaveDebt(ctx context.Context, d *ledger.Debt, expectedVersion int64) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE debts
		SET total_interest = ?, total_paid = ?, status = ?, due_date = ?,
			last_payment = ?, notes = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		d.TotalInterest.Value.String(), d.TotalPaid.Value.String(), string(d.Status),
		encodeTimePtr(d.DueDate), encodeTimePtr(d.LastPayment), d.Notes,
		encodeTime(d.UpdatedAt), string(d.ID), expectedVersion,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing row from a stale version.
		if _, err := s.GetDebt(ctx, d.ID); err != nil {
			return err
		}
		return ledger.ErrVersionConflict
	}
	d.Version = expectedVersion + 1
	return nil
}

func (s *Store) listDebts(ctx context.Context, query string, args ...any) ([]*ledger.Debt, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ledger.Debt
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) ListOpenDebts(ctx context.Context, workerID ledger.WorkerID) ([]*ledger.Debt, error) {
	return s.listDebts(ctx, `SELECT `+debtColumns+` FROM debts
		WHERE worker_id = ? AND status NOT IN ('paid', 'cancelled')`, string(workerID))
}

func (s *Store) ListDebtsByWorker(ctx context.Context, workerID ledger.WorkerID) ([]*ledger.Debt, error) {
	return s.listDebts(ctx, `SELECT `+debtColumns+` FROM debts
		WHERE worker_id = ? ORDER BY date_incurred`, string(workerID))
}

func (s *Store) AppendDebtHistory(ctx context.Context, h ledger.DebtHistory) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO debt_history (id, debt_id, tx_type, amount, delta,
			previous_balance, new_balance, method, reference, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(h.ID), string(h.DebtID), string(h.Type),
		h.Amount.Value.String(), h.Delta.Value.String(),
		h.PreviousBalance.Value.String(), h.NewBalance.Value.String(),
		h.Method, h.Reference, h.Notes, encodeTime(h.CreatedAt),
	)
	return err
}

func (s *Store) DebtHistory(ctx context.Context, id ledger.DebtID) ([]ledger.DebtHistory, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, debt_id, tx_type, amount, delta, previous_balance, new_balance,
			method, reference, notes, created_at
		FROM debt_history WHERE debt_id = ? ORDER BY rowid`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.DebtHistory
	for rows.Next() {
		var (
			h                         ledger.DebtHistory
			hid, debtID, txType       string
			amount, delta, prev, next string
			method, ref, notes        sql.NullString
			createdAt                 string
		)
		if err := rows.Scan(&hid, &debtID, &txType, &amount, &delta, &prev, &next,
			&method, &ref, &notes, &createdAt); err != nil {
			return nil, err
		}
		h.ID = ledger.HistoryID(hid)
		h.DebtID = ledger.DebtID(debtID)
		h.Type = ledger.DebtTxType(txType)
		h.Amount = decodeMoney(amount)
		h.Delta = decodeMoney(delta)
		h.PreviousBalance = decodeMoney(prev)
		h.NewBalance = decodeMoney(next)
		h.Method = method.String
		h.Reference = ref.String
		h.Notes = notes.String
		h.CreatedAt = decodeTime(createdAt)
		out = append(out, h)
	}
	return out, rows.Err()
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (s *Store) CreatePayment(ctx context.Context, p *ledger.Payment) error {
	breakdown, err := json.Marshal(breakdownJSON(p.DeductionBreakdown))
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO payments (id, worker_id, plot_id, gross_pay, manual_deduction,
			other_deductions, total_debt_deduction, status, breakdown_json,
			payment_date, method, reference, notes, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		string(p.ID), string(p.WorkerID), p.PlotID,
		p.GrossPay.Value.String(), p.ManualDeduction.Value.String(),
		p.OtherDeductions.Value.String(), p.TotalDebtDeduction.Value.String(),
		string(p.Status), string(breakdown),
		encodeTimePtr(p.PaymentDate), p.Method, p.Reference, p.Notes,
		encodeTime(p.CreatedAt), encodeTime(p.UpdatedAt),
	)
	if err != nil {
		return err
	}
	p.Version = 1
	return nil
}

// deductionJSON is the stored shape of one breakdown entry.
type deductionJSON struct {
	DebtID string `json:"debt_id"`
	Amount string `json:"amount"`
}

func breakdownJSON(b []ledger.DebtDeduction) []deductionJSON {
	out := make([]deductionJSON, len(b))
	for i, d := range b {
		out[i] = deductionJSON{DebtID: string(d.DebtID), Amount: d.AmountApplied.Value.String()}
	}
	return out
}

func breakdownFromJSON(raw string) []ledger.DebtDeduction {
	var entries []deductionJSON
	if json.Unmarshal([]byte(raw), &entries) != nil {
		return nil
	}
	out := make([]ledger.DebtDeduction, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledger.DebtDeduction{
			DebtID:        ledger.DebtID(e.DebtID),
			AmountApplied: decodeMoney(e.Amount),
		})
	}
	return out
}

const paymentColumns = `id, worker_id, plot_id, gross_pay, manual_deduction,
	other_deductions, total_debt_deduction, status, breakdown_json,
	payment_date, method, reference, notes, version, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (*ledger.Payment, error) {
	var (
		p                             ledger.Payment
		id, workerID                  string
		plotID                        sql.NullString
		gross, manual, other, debtDed string
		status, breakdown             string
		paymentDate                   sql.NullString
		method, ref, notes            sql.NullString
		createdAt, updatedAt          string
	)
	err := row.Scan(&id, &workerID, &plotID, &gross, &manual, &other, &debtDed,
		&status, &breakdown, &paymentDate, &method, &ref, &notes,
		&p.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.ID = ledger.PaymentID(id)
	p.WorkerID = ledger.WorkerID(workerID)
	p.PlotID = plotID.String
	p.GrossPay = decodeMoney(gross)
	p.ManualDeduction = decodeMoney(manual)
	p.OtherDeductions = decodeMoney(other)
	p.TotalDebtDeduction = decodeMoney(debtDed)
	p.Status = ledger.PaymentStatus(status)
	p.DeductionBreakdown = breakdownFromJSON(breakdown)
	p.PaymentDate = decodeTimePtr(paymentDate)
	p.Method = method.String
	p.Reference = ref.String
	p.Notes = notes.String
	p.CreatedAt = decodeTime(createdAt)
	p.UpdatedAt = decodeTime(updatedAt)
	return &p, nil
}

func (s *Store) GetPayment(ctx context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, string(id))
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, &ledger.NotFoundError{Record: "payment", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) SavePayment(ctx context.Context, p *ledger.Payment, expectedVersion int64) error {
	breakdown, err := json.Marshal(breakdownJSON(p.DeductionBreakdown))
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE payments
		SET gross_pay = ?, manual_deduction = ?, other_deductions = ?,
			total_debt_deduction = ?, status = ?, breakdown_json = ?,
			payment_date = ?, method = ?, reference = ?, notes = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		p.GrossPay.Value.String(), p.ManualDeduction.Value.String(),
		p.OtherDeductions.Value.String(), p.TotalDebtDeduction.Value.String(),
		string(p.Status), string(breakdown),
		encodeTimePtr(p.PaymentDate), p.Method, p.Reference, p.Notes,
		encodeTime(p.UpdatedAt), string(p.ID), expectedVersion,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetPayment(ctx, p.ID); err != nil {
			return err
		}
		return ledger.ErrVersionConflict
	}
	p.Version = expectedVersion + 1
	return nil
}

func (s *Store) ListPaymentsByWorker(ctx context.Context, workerID ledger.WorkerID) ([]*ledger.Payment, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE worker_id = ? ORDER BY created_at`, string(workerID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ledger.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) AppendPaymentHistory(ctx context.Context, h ledger.PaymentHistory) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO payment_history (id, payment_id, field, old_value, new_value, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(h.ID), string(h.PaymentID), h.Field, h.OldValue, h.NewValue, h.Reason,
		encodeTime(h.CreatedAt),
	)
	return err
}

func (s *Store) PaymentHistory(ctx context.Context, id ledger.PaymentID) ([]ledger.PaymentHistory, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, payment_id, field, old_value, new_value, reason, created_at
		FROM payment_history WHERE payment_id = ? ORDER BY rowid`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.PaymentHistory
	for rows.Next() {
		var (
			h                  ledger.PaymentHistory
			hid, paymentID     string
			oldV, newV, reason sql.NullString
			field, createdAt   string
		)
		if err := rows.Scan(&hid, &paymentID, &field, &oldV, &newV, &reason, &createdAt); err != nil {
			return nil, err
		}
		h.ID = ledger.HistoryID(hid)
		h.PaymentID = ledger.PaymentID(paymentID)
		h.Field = field
		h.OldValue = oldV.String
		h.NewValue = newV.String
		h.Reason = reason.String
		h.CreatedAt = decodeTime(createdAt)
		out = append(out, h)
	}
	return out, rows.Err()
}

// =============================================================================
// WORKERS
// =============================================================================

func (s *Store) CreateWorker(ctx context.Context, w *ledger.Worker) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO workers (id, name, plot_id, total_debt, total_paid,
			current_balance, reconciled_at, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		string(w.ID), w.Name, w.PlotID,
		w.TotalDebt.Value.String(), w.TotalPaid.Value.String(),
		w.CurrentBalance.Value.String(), encodeTimePtr(w.ReconciledAt),
		encodeTime(w.CreatedAt),
	)
	if err != nil {
		return err
	}
	w.Version = 1
	return nil
}

func (s *Store) GetWorker(ctx context.Context, id ledger.WorkerID) (*ledger.Worker, error) {
	var (
		w                   ledger.Worker
		wid, name           string
		plotID              sql.NullString
		debt, paid, balance string
		reconciledAt        sql.NullString
		createdAt           string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, name, plot_id, total_debt, total_paid, current_balance,
			reconciled_at, version, created_at
		FROM workers WHERE id = ?`, string(id)).
		Scan(&wid, &name, &plotID, &debt, &paid, &balance, &reconciledAt, &w.Version, &createdAt)
	if err == sql.ErrNoRows {
		return nil, &ledger.NotFoundError{Record: "worker", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	w.ID = ledger.WorkerID(wid)
	w.Name = name
	w.PlotID = plotID.String
	w.TotalDebt = decodeMoney(debt)
	w.TotalPaid = decodeMoney(paid)
	w.CurrentBalance = decodeMoney(balance)
	w.ReconciledAt = decodeTimePtr(reconciledAt)
	w.CreatedAt = decodeTime(createdAt)
	return &w, nil
}

func (s *Store) SaveWorkerSummary(ctx context.Context, w *ledger.Worker, expectedVersion int64) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE workers
		SET total_debt = ?, total_paid = ?, current_balance = ?,
			reconciled_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		w.TotalDebt.Value.String(), w.TotalPaid.Value.String(),
		w.CurrentBalance.Value.String(), encodeTimePtr(w.ReconciledAt),
		string(w.ID), expectedVersion,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetWorker(ctx, w.ID); err != nil {
			return err
		}
		return ledger.ErrVersionConflict
	}
	w.Version = expectedVersion + 1
	return nil
}
