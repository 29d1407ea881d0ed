package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sakahan/farm-ledger/api"
	"github.com/sakahan/farm-ledger/ledger"
	"github.com/sakahan/farm-ledger/ledger/store"
	"github.com/sakahan/farm-ledger/observability"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mem := store.NewMemory()
	debts := ledger.NewDebtLedger(mem).WithDebtLimit(ledger.ParseMoney("5000"))
	payments := ledger.NewPaymentProcessor(mem, debts)
	reconciler := ledger.NewBalanceReconciler(mem)

	h := api.NewHandler(mem, debts, payments, reconciler, zap.NewNop(), observability.NewMetrics())
	srv := httptest.NewServer(api.NewRouter(h, []string{"*"}))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body string, out any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader([]byte("{}"))
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func createWorker(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	var worker struct {
		ID string `json:"id"`
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/workers", `{"name":"Amara","plot_id":"plot-7"}`, &worker)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, worker.ID)
	return worker.ID
}

func createDebt(t *testing.T, srv *httptest.Server, workerID, amount string) api.DebtDTO {
	t.Helper()
	var debt api.DebtDTO
	body := fmt.Sprintf(`{"worker_id":%q,"amount":%q}`, workerID, amount)
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/debts", body, &debt)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return debt
}

// =============================================================================
// DEBT LIFECYCLE
// =============================================================================

func TestAPI_DebtLifecycle(t *testing.T) {
	srv := newTestServer(t)
	workerID := createWorker(t, srv)

	debt := createDebt(t, srv, workerID, "1000")
	assert.Equal(t, "pending", debt.Status)
	assert.Equal(t, "1000.00", debt.Balance)

	// Partial repayment.
	var afterPayment api.DebtDTO
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/debts/"+debt.ID+"/payments",
		`{"amount":"400","method":"cash"}`, &afterPayment)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "600.00", afterPayment.Balance)
	assert.Equal(t, "partially_paid", afterPayment.Status)

	// Statement shows the row with chained balances.
	var rows []api.DebtHistoryDTO
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/debts/"+debt.ID+"/history", "", &rows)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, rows, 1)
	assert.Equal(t, "payment", rows[0].Type)
	assert.Equal(t, "1000.00", rows[0].PreviousBalance)
	assert.Equal(t, "600.00", rows[0].NewBalance)

	// Settle.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/debts/"+debt.ID+"/payments",
		`{"amount":"600"}`, &afterPayment)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paid", afterPayment.Status)
	assert.Equal(t, "0.00", afterPayment.Balance)
}

func TestAPI_Debt_ErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	workerID := createWorker(t, srv)
	debt := createDebt(t, srv, workerID, "500")

	// Overshoot: 400.
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/debts/"+debt.ID+"/payments", `{"amount":"700"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown debt: 404.
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/debts/no-such-debt", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Missing amount fails struct validation: 400.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/debts", fmt.Sprintf(`{"worker_id":%q}`, workerID), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Cancelling twice: first 200, then 409.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/debts/"+debt.ID+"/cancel", `{"reason":"left"}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/debts/"+debt.ID+"/cancel", `{"reason":"again"}`, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_MalformedMoneyRejected(t *testing.T) {
	// Amounts that do not parse are a 400, never coerced to zero.

	srv := newTestServer(t)
	workerID := createWorker(t, srv)

	body := fmt.Sprintf(`{"worker_id":%q,"gross_pay":"lots"}`, workerID)
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/payments", body, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// No zero-gross payment was created.
	var payments []api.PaymentDTO
	doJSON(t, http.MethodGet, srv.URL+"/api/workers/"+workerID+"/payments", "", &payments)
	assert.Empty(t, payments)

	var payment api.PaymentDTO
	body = fmt.Sprintf(`{"worker_id":%q,"gross_pay":"1000"}`, workerID)
	doJSON(t, http.MethodPost, srv.URL+"/api/payments", body, &payment)

	resp = doJSON(t, http.MethodPut, srv.URL+"/api/payments/"+payment.ID+"/deductions",
		`{"manual_deduction":"two hundred"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// The payment is untouched: net pay intact, no audit rows.
	var got api.PaymentDTO
	doJSON(t, http.MethodGet, srv.URL+"/api/payments/"+payment.ID, "", &got)
	assert.Equal(t, "1000.00", got.NetPay)
	var rows []api.PaymentHistoryDTO
	doJSON(t, http.MethodGet, srv.URL+"/api/payments/"+payment.ID+"/history", "", &rows)
	assert.Empty(t, rows)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/debts",
		fmt.Sprintf(`{"worker_id":%q,"amount":"five"}`, workerID), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/payments/"+payment.ID+"/debt-deduction",
		`{"amount":"??"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Debt_AdjustAndReverse(t *testing.T) {
	srv := newTestServer(t)
	workerID := createWorker(t, srv)
	debt := createDebt(t, srv, workerID, "1000")

	var adjusted api.DebtDTO
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/debts/"+debt.ID+"/adjustments",
		`{"amount":"50","reason":"lost tool"}`, &adjusted)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1050.00", adjusted.Balance)

	// Add interest, then reverse it via its history row.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/debts/"+debt.ID+"/interest",
		`{"amount":"25","notes":"late fee"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rows []api.DebtHistoryDTO
	doJSON(t, http.MethodGet, srv.URL+"/api/debts/"+debt.ID+"/history", "", &rows)
	require.Len(t, rows, 2)

	var reversed api.DebtDTO
	body := fmt.Sprintf(`{"history_id":%q,"reason":"fee waived"}`, rows[1].ID)
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/debts/"+debt.ID+"/reverse", body, &reversed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1050.00", reversed.Balance)

	// Reversing the older adjustment row now fails the ordering rule: 400.
	body = fmt.Sprintf(`{"history_id":%q,"reason":"undo"}`, rows[0].ID)
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/debts/"+debt.ID+"/reverse", body, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// PAYMENT FLOW
// =============================================================================

func TestAPI_PaymentFlow_WithDebtDeduction(t *testing.T) {
	srv := newTestServer(t)
	workerID := createWorker(t, srv)
	createDebt(t, srv, workerID, "300")
	createDebt(t, srv, workerID, "500")

	var payment api.PaymentDTO
	body := fmt.Sprintf(`{"worker_id":%q,"gross_pay":"1000"}`, workerID)
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/payments", body, &payment)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "1000.00", payment.NetPay)

	// Manual deduction first; the finalize order freezes it later.
	resp = doJSON(t, http.MethodPut, srv.URL+"/api/payments/"+payment.ID+"/deductions",
		`{"manual_deduction":"100"}`, &payment)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "900.00", payment.NetPay)

	var result api.DebtDeductionResponse
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/payments/"+payment.ID+"/debt-deduction",
		`{"amount":"600"}`, &result)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "600.00", result.Payment.TotalDebtDeduction)
	assert.Equal(t, "300.00", result.Payment.NetPay)
	assert.Equal(t, "0.00", result.Unallocated)
	require.Len(t, result.Applied, 2)

	// Amounts are frozen now: 409.
	resp = doJSON(t, http.MethodPut, srv.URL+"/api/payments/"+payment.ID+"/deductions",
		`{"manual_deduction":"0"}`, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Process.
	var processed api.PaymentDTO
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/payments/"+payment.ID+"/process",
		`{"payment_date":"2026-07-15","method":"bank_transfer"}`, &processed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", processed.Status)
}

func TestAPI_Payment_NegativeNetPay(t *testing.T) {
	srv := newTestServer(t)
	workerID := createWorker(t, srv)

	var payment api.PaymentDTO
	body := fmt.Sprintf(`{"worker_id":%q,"gross_pay":"1000"}`, workerID)
	doJSON(t, http.MethodPost, srv.URL+"/api/payments", body, &payment)

	resp := doJSON(t, http.MethodPut, srv.URL+"/api/payments/"+payment.ID+"/deductions",
		`{"manual_deduction":"200","other_deductions":"900"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Nothing stuck.
	var got api.PaymentDTO
	doJSON(t, http.MethodGet, srv.URL+"/api/payments/"+payment.ID, "", &got)
	assert.Equal(t, "1000.00", got.NetPay)
}

func TestAPI_Payment_CancelReversesDeductions(t *testing.T) {
	srv := newTestServer(t)
	workerID := createWorker(t, srv)
	debt := createDebt(t, srv, workerID, "300")

	var payment api.PaymentDTO
	body := fmt.Sprintf(`{"worker_id":%q,"gross_pay":"1000"}`, workerID)
	doJSON(t, http.MethodPost, srv.URL+"/api/payments", body, &payment)
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/payments/"+payment.ID+"/debt-deduction",
		`{"amount":"300"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cancelled api.PaymentDTO
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/payments/"+payment.ID+"/cancel",
		`{"reason":"duplicate"}`, &cancelled)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancelled", cancelled.Status)

	var gotDebt api.DebtDTO
	doJSON(t, http.MethodGet, srv.URL+"/api/debts/"+debt.ID, "", &gotDebt)
	assert.Equal(t, "300.00", gotDebt.Balance)
}

// =============================================================================
// WORKER SUMMARY AND UTILITIES
// =============================================================================

func TestAPI_ReconcileAndWorkerViews(t *testing.T) {
	srv := newTestServer(t)
	workerID := createWorker(t, srv)
	debt := createDebt(t, srv, workerID, "1000")

	doJSON(t, http.MethodPost, srv.URL+"/api/debts/"+debt.ID+"/payments", `{"amount":"250"}`, nil)

	var summary api.SummaryDTO
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/workers/"+workerID+"/reconcile", "", &summary)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "750.00", summary.TotalDebt)
	assert.Equal(t, "250.00", summary.TotalPaid)
	assert.Empty(t, summary.Drift)

	// The worker view carries the cached projection.
	var worker api.WorkerDTO
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/workers/"+workerID, "", &worker)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "750.00", worker.CurrentBalance)
	require.NotNil(t, worker.ReconciledAt)

	var debts []api.DebtDTO
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/workers/"+workerID+"/debts", "", &debts)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, debts, 1)
}

func TestAPI_DebtLimit(t *testing.T) {
	srv := newTestServer(t)
	workerID := createWorker(t, srv)
	createDebt(t, srv, workerID, "4800")

	var check api.DebtLimitDTO
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/workers/"+workerID+"/debt-limit?amount=500", "", &check)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, check.IsWithinLimit)
	assert.Equal(t, "200.00", check.RemainingLimit)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/workers/"+workerID+"/debt-limit?amount=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_CalculateInterest(t *testing.T) {
	srv := newTestServer(t)

	var result api.InterestDTO
	resp := doJSON(t, http.MethodGet,
		srv.URL+"/api/interest/calculate?principal=1000&rate=12&days=30&method=simple", "", &result)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "9.86", result.Interest)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/interest/calculate?principal=x&rate=12&days=30", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// OBSERVABILITY
// =============================================================================

func TestAPI_MetricsRecorded(t *testing.T) {
	mem := store.NewMemory()
	debts := ledger.NewDebtLedger(mem)
	payments := ledger.NewPaymentProcessor(mem, debts)
	reconciler := ledger.NewBalanceReconciler(mem)
	metrics := observability.NewMetrics()

	h := api.NewHandler(mem, debts, payments, reconciler, zap.NewNop(), metrics)
	srv := httptest.NewServer(api.NewRouter(h, []string{"*"}))
	t.Cleanup(srv.Close)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/debts/no-such-debt", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// The request landed in the latency histogram under its route pattern,
	// and the rejected lookup counted as a not_found ledger error.
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.RequestDuration))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.LedgerErrors.WithLabelValues("not_found")))
}

func TestAPI_Healthz(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
