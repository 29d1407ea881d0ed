package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakahan/farm-ledger/ledger"
	"github.com/sakahan/farm-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedWorker(t *testing.T, s *sqlite.Store) *ledger.Worker {
	t.Helper()
	w := ledger.NewWorker("Amara", "plot-7")
	require.NoError(t, s.CreateWorker(context.Background(), w))
	return w
}

func seedDebt(t *testing.T, s *sqlite.Store, workerID ledger.WorkerID) *ledger.Debt {
	t.Helper()
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	due := now.AddDate(0, 0, 15)
	d := &ledger.Debt{
		ID:             ledger.DebtID("debt-" + string(workerID)),
		WorkerID:       workerID,
		OriginalAmount: ledger.ParseMoney("500"),
		InterestMethod: ledger.InterestSimple,
		TotalInterest:  ledger.Zero(),
		TotalPaid:      ledger.Zero(),
		Status:         ledger.DebtPending,
		PaymentTerm:    ledger.TermSemiMonthly,
		DateIncurred:   now,
		DueDate:        &due,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, s.CreateDebt(context.Background(), d))
	return d
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestSQLite_DebtRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w := seedWorker(t, s)
	d := seedDebt(t, s, w.ID)

	got, err := s.GetDebt(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, d.WorkerID, got.WorkerID)
	assert.True(t, got.OriginalAmount.Equal(d.OriginalAmount))
	assert.Equal(t, ledger.TermSemiMonthly, got.PaymentTerm)
	require.NotNil(t, got.DueDate)
	assert.True(t, got.DueDate.Equal(*d.DueDate))
	assert.Nil(t, got.LastPayment)
	assert.Equal(t, int64(1), got.Version)
}

func TestSQLite_GetDebt_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetDebt(context.Background(), "missing")
	assert.True(t, ledger.IsNotFound(err))
}

func TestSQLite_PaymentRoundTrip_WithBreakdown(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w := seedWorker(t, s)

	now := time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC)
	p := &ledger.Payment{
		ID:                 "pay-1",
		WorkerID:           w.ID,
		PlotID:             "plot-7",
		GrossPay:           ledger.ParseMoney("1000"),
		ManualDeduction:    ledger.ParseMoney("50"),
		OtherDeductions:    ledger.Zero(),
		TotalDebtDeduction: ledger.ParseMoney("300"),
		Status:             ledger.PaymentProcessing,
		DeductionBreakdown: []ledger.DebtDeduction{
			{DebtID: "debt-a", AmountApplied: ledger.ParseMoney("200")},
			{DebtID: "debt-b", AmountApplied: ledger.ParseMoney("100")},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreatePayment(ctx, p))

	got, err := s.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "650.00", got.NetPay().String())
	require.Len(t, got.DeductionBreakdown, 2)
	assert.Equal(t, ledger.DebtID("debt-a"), got.DeductionBreakdown[0].DebtID)
	assert.Equal(t, "200.00", got.DeductionBreakdown[0].AmountApplied.String())
}

// =============================================================================
// OPTIMISTIC CONCURRENCY
// =============================================================================

func TestSQLite_SaveDebt_VersionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w := seedWorker(t, s)
	d := seedDebt(t, s, w.ID)

	first, err := s.GetDebt(ctx, d.ID)
	require.NoError(t, err)
	second, err := s.GetDebt(ctx, d.ID)
	require.NoError(t, err)

	first.TotalPaid = ledger.ParseMoney("100")
	require.NoError(t, s.SaveDebt(ctx, first, first.Version))
	assert.Equal(t, int64(2), first.Version)

	second.TotalPaid = ledger.ParseMoney("200")
	err = s.SaveDebt(ctx, second, second.Version)
	assert.ErrorIs(t, err, ledger.ErrVersionConflict)

	got, err := s.GetDebt(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", got.TotalPaid.String())
}

func TestSQLite_SaveDebt_MissingRowIsNotFound(t *testing.T) {
	s := newTestStore(t)

	ghost := seedDebtValue("ghost")
	err := s.SaveDebt(context.Background(), &ghost, 1)
	assert.True(t, ledger.IsNotFound(err), "missing row must read as not-found, not version conflict, got %v", err)
}

func seedDebtValue(id string) ledger.Debt {
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	return ledger.Debt{
		ID:             ledger.DebtID(id),
		WorkerID:       "worker-x",
		OriginalAmount: ledger.ParseMoney("10"),
		TotalInterest:  ledger.Zero(),
		TotalPaid:      ledger.Zero(),
		Status:         ledger.DebtPending,
		DateIncurred:   now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// =============================================================================
// HISTORY
// =============================================================================

func TestSQLite_DebtHistory_WriteOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w := seedWorker(t, s)
	d := seedDebt(t, s, w.ID)

	base := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)
	amounts := []string{"100", "50", "25"}
	balance := d.OriginalAmount
	for i, a := range amounts {
		amt := ledger.ParseMoney(a)
		next := balance.Sub(amt)
		require.NoError(t, s.AppendDebtHistory(ctx, ledger.DebtHistory{
			ID:              ledger.HistoryID("row-" + a),
			DebtID:          d.ID,
			Type:            ledger.DebtTxPayment,
			Amount:          amt,
			Delta:           amt.Neg(),
			PreviousBalance: balance,
			NewBalance:      next,
			Method:          "cash",
			CreatedAt:       base.AddDate(0, 0, i),
		}))
		balance = next
	}

	rows, err := s.DebtHistory(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, ledger.HistoryID("row-100"), rows[0].ID)
	assert.Equal(t, ledger.HistoryID("row-25"), rows[2].ID)
	assert.Equal(t, "-50.00", rows[1].Delta.String())
	assert.Equal(t, "400.00", rows[1].PreviousBalance.String())
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestSQLite_WithTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w := seedWorker(t, s)
	d := seedDebt(t, s, w.ID)

	err := s.WithTx(ctx, func(tx ledger.LedgerStore) error {
		got, err := tx.GetDebt(ctx, d.ID)
		require.NoError(t, err)
		got.TotalPaid = ledger.ParseMoney("100")
		require.NoError(t, tx.SaveDebt(ctx, got, got.Version))
		require.NoError(t, tx.AppendDebtHistory(ctx, ledger.DebtHistory{
			ID: "row-1", DebtID: d.ID, Type: ledger.DebtTxAdjustment,
			Amount: ledger.Zero(), Delta: ledger.Zero(),
			PreviousBalance: ledger.Zero(), NewBalance: ledger.Zero(),
		}))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	got, err := s.GetDebt(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalPaid.IsZero())
	assert.Equal(t, int64(1), got.Version)

	rows, err := s.DebtHistory(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSQLite_WithTx_CommitsOnSuccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w := seedWorker(t, s)
	d := seedDebt(t, s, w.ID)

	err := s.WithTx(ctx, func(tx ledger.LedgerStore) error {
		got, err := tx.GetDebt(ctx, d.ID)
		if err != nil {
			return err
		}
		got.TotalPaid = ledger.ParseMoney("100")
		return tx.SaveDebt(ctx, got, got.Version)
	})
	require.NoError(t, err)

	got, err := s.GetDebt(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", got.TotalPaid.String())
	assert.Equal(t, int64(2), got.Version)
}

func TestSQLite_WithTx_NestedJoinsOuter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w := seedWorker(t, s)
	d := seedDebt(t, s, w.ID)

	err := s.WithTx(ctx, func(tx ledger.LedgerStore) error {
		inner := tx.WithTx(ctx, func(tx2 ledger.LedgerStore) error {
			got, err := tx2.GetDebt(ctx, d.ID)
			if err != nil {
				return err
			}
			got.TotalPaid = ledger.ParseMoney("50")
			return tx2.SaveDebt(ctx, got, got.Version)
		})
		require.NoError(t, inner)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	got, err := s.GetDebt(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalPaid.IsZero(), "nested write must roll back with the outer tx")
}

// =============================================================================
// WORKERS
// =============================================================================

func TestSQLite_WorkerSummaryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w := seedWorker(t, s)

	w.TotalDebt = ledger.ParseMoney("780")
	w.TotalPaid = ledger.ParseMoney("650")
	w.CurrentBalance = ledger.ParseMoney("780")
	at := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	w.ReconciledAt = &at
	require.NoError(t, s.SaveWorkerSummary(ctx, w, w.Version))

	got, err := s.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "780.00", got.TotalDebt.String())
	assert.Equal(t, "650.00", got.TotalPaid.String())
	require.NotNil(t, got.ReconciledAt)
	assert.True(t, got.ReconciledAt.Equal(at))
	assert.Equal(t, int64(2), got.Version)
}

// =============================================================================
// END TO END - the full engine on the SQLite store
// =============================================================================

func TestSQLite_EngineEndToEnd(t *testing.T) {
	// The whole deduction flow against real SQL: create debts, apply a
	// payment's deduction, cancel it, reconcile.

	s := newTestStore(t)
	ctx := context.Background()
	w := seedWorker(t, s)

	debts := ledger.NewDebtLedger(s)
	payments := ledger.NewPaymentProcessor(s, debts)

	dueA := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	dueB := dueA.AddDate(0, 1, 0)
	debtA, err := debts.CreateDebt(ctx, ledger.CreateDebtParams{WorkerID: w.ID, Amount: ledger.ParseMoney("300"), DueDate: &dueA})
	require.NoError(t, err)
	_, err = debts.CreateDebt(ctx, ledger.CreateDebtParams{WorkerID: w.ID, Amount: ledger.ParseMoney("500"), DueDate: &dueB})
	require.NoError(t, err)

	p, err := payments.CreatePayment(ctx, ledger.CreatePaymentParams{WorkerID: w.ID, GrossPay: ledger.ParseMoney("1000")})
	require.NoError(t, err)

	result, err := payments.ApplyDebtDeduction(ctx, p.ID, ledger.ParseMoney("600"))
	require.NoError(t, err)
	assert.Equal(t, "400.00", result.Payment.NetPay().String())

	gotA, err := debts.Get(ctx, debtA.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.DebtPaid, gotA.Status)

	_, err = payments.Cancel(ctx, p.ID, "entered twice")
	require.NoError(t, err)

	gotA, err = debts.Get(ctx, debtA.ID)
	require.NoError(t, err)
	assert.Equal(t, "300.00", gotA.Balance().String())

	summary, err := ledger.NewBalanceReconciler(s).Reconcile(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "800.00", summary.TotalDebt.String())
	assert.True(t, summary.TotalPaid.IsZero())
	assert.Empty(t, summary.Drift)
}
