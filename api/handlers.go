/*
handlers.go - HTTP API handlers for the worker financial ledger

PURPOSE:
  Exposes the ledger via REST API. Handles HTTP request/response, JSON
  serialization and input validation, and delegates to the ledger services.

ENDPOINTS:
  Workers:
    POST   /api/workers                       Register worker
    GET    /api/workers/{id}                  Worker + cached summary
    GET    /api/workers/{id}/debts            All debts for a worker
    GET    /api/workers/{id}/payments         All payments for a worker
    POST   /api/workers/{id}/reconcile        Recompute summary from history
    GET    /api/workers/{id}/debt-limit       Debt ceiling precheck

  Debts:
    POST   /api/debts                         Record debt
    GET    /api/debts/{id}                    Debt + derived status
    GET    /api/debts/{id}/history            Statement (audit trail)
    POST   /api/debts/{id}/payments           Apply direct repayment
    POST   /api/debts/{id}/interest           Add explicit interest
    POST   /api/debts/{id}/accrue             Accrue interest to a date
    POST   /api/debts/{id}/adjustments        Signed manual correction
    POST   /api/debts/{id}/reverse            Undo latest money-affecting row
    POST   /api/debts/{id}/cancel             Cancel (irreversible)

  Payments:
    POST   /api/payments                      Record wage payment
    GET    /api/payments/{id}                 Payment + derived net pay
    GET    /api/payments/{id}/history         Audit trail
    PUT    /api/payments/{id}/deductions      Set manual/other deductions
    POST   /api/payments/{id}/debt-deduction  Allocate against open debts
    POST   /api/payments/{id}/process         Finalize
    POST   /api/payments/{id}/cancel          Cancel, reversing deductions

  Utility:
    GET    /api/interest/calculate            Standalone interest calculation

ERROR HANDLING:
  Errors map to JSON with status derived from the ledger error kind:
  - 400: validation, overshoot, negative net pay, allocation shortfall
  - 404: unknown record
  - 409: invalid state transition, concurrent modification
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - ledger/: The services these handlers delegate to
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sakahan/farm-ledger/ledger"
	"github.com/sakahan/farm-ledger/observability"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      ledger.LedgerStore
	Debts      *ledger.DebtLedger
	Payments   *ledger.PaymentProcessor
	Reconciler *ledger.BalanceReconciler

	Logger  *zap.Logger
	Metrics *observability.Metrics

	validate *validator.Validate
	now      func() time.Time
}

// NewHandler wires the handler with its services.
func NewHandler(store ledger.LedgerStore, debts *ledger.DebtLedger, payments *ledger.PaymentProcessor, reconciler *ledger.BalanceReconciler, logger *zap.Logger, metrics *observability.Metrics) *Handler {
	return &Handler{
		Store:      store,
		Debts:      debts,
		Payments:   payments,
		Reconciler: reconciler,
		Logger:     logger,
		Metrics:    metrics,
		validate:   validator.New(),
		now:        time.Now,
	}
}

// WithClock overrides the time source used for derived statuses. Tests only.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

// decodeValid decodes the body into req and runs struct validation.
func (h *Handler) decodeValid(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// decodeMoney parses a money field from user input. Malformed amounts are a
// 400, never coerced to zero.
func decodeMoney(w http.ResponseWriter, field, raw string) (ledger.Money, bool) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+field, err)
		return ledger.Money{}, false
	}
	return ledger.Money{Value: d}, true
}

// =============================================================================
// WORKER HANDLERS
// =============================================================================

// CreateWorker registers a worker.
func (h *Handler) CreateWorker(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkerRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	worker := ledger.NewWorker(req.Name, req.PlotID)
	if err := h.Store.CreateWorker(r.Context(), worker); err != nil {
		h.writeLedgerError(w, "create worker", err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkerDTO(worker))
}

// GetWorker returns a worker and its cached summary.
func (h *Handler) GetWorker(w http.ResponseWriter, r *http.Request) {
	worker, err := h.Store.GetWorker(r.Context(), ledger.WorkerID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, "get worker", err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkerDTO(worker))
}

// ListWorkerDebts returns every debt for a worker, any status.
func (h *Handler) ListWorkerDebts(w http.ResponseWriter, r *http.Request) {
	id := ledger.WorkerID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetWorker(r.Context(), id); err != nil {
		h.writeLedgerError(w, "list worker debts", err)
		return
	}
	debts, err := h.Store.ListDebtsByWorker(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, "list worker debts", err)
		return
	}

	dtos := make([]DebtDTO, len(debts))
	for i, d := range debts {
		dtos[i] = h.toDebtDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListWorkerPayments returns every payment for a worker.
func (h *Handler) ListWorkerPayments(w http.ResponseWriter, r *http.Request) {
	id := ledger.WorkerID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetWorker(r.Context(), id); err != nil {
		h.writeLedgerError(w, "list worker payments", err)
		return
	}
	payments, err := h.Store.ListPaymentsByWorker(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, "list worker payments", err)
		return
	}

	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ReconcileWorker recomputes the worker's summary from history.
func (h *Handler) ReconcileWorker(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Reconciler.Reconcile(r.Context(), ledger.WorkerID(chi.URLParam(r, "id")))
	h.Metrics.ObserveOp("reconcile", err)
	if err != nil {
		h.writeLedgerError(w, "reconcile worker", err)
		return
	}
	if len(summary.Drift) > 0 {
		h.Logger.Warn("reconciliation found drift",
			zap.String("worker_id", string(summary.WorkerID)),
			zap.Int("debts", len(summary.Drift)))
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(summary))
}

// CheckDebtLimit prechecks a proposed debt against the configured ceiling.
// GET /api/workers/{id}/debt-limit?amount=150.00
func (h *Handler) CheckDebtLimit(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("amount")
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount query parameter", err)
		return
	}

	check, err := h.Debts.CheckDebtLimit(r.Context(), ledger.WorkerID(chi.URLParam(r, "id")), ledger.Money{Value: amount})
	if err != nil {
		h.writeLedgerError(w, "check debt limit", err)
		return
	}
	writeJSON(w, http.StatusOK, DebtLimitDTO{
		IsWithinLimit:  check.IsWithinLimit,
		RemainingLimit: check.RemainingLimit.String(),
	})
}

// =============================================================================
// DEBT HANDLERS
// =============================================================================

// CreateDebt records a new obligation.
func (h *Handler) CreateDebt(w http.ResponseWriter, r *http.Request) {
	var req CreateDebtRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	rate := decimal.Zero
	if req.InterestRate != "" {
		var err error
		rate, err = decimal.NewFromString(req.InterestRate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid interest_rate", err)
			return
		}
	}

	amount, ok := decodeMoney(w, "amount", req.Amount)
	if !ok {
		return
	}

	params := ledger.CreateDebtParams{
		WorkerID:     ledger.WorkerID(req.WorkerID),
		Amount:       amount,
		InterestRate: rate,
		Method:       ledger.InterestMethod(req.Method),
		CompoundFreq: ledger.CompoundFrequency(req.CompoundFreq),
		Term:         ledger.PaymentTerm(req.PaymentTerm),
		Notes:        req.Notes,
	}
	if req.DueDate != nil {
		due, err := time.Parse(dateLayout, *req.DueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid due_date format (use YYYY-MM-DD)", err)
			return
		}
		params.DueDate = &due
	}
	if req.DateIncurred != nil {
		incurred, err := time.Parse(dateLayout, *req.DateIncurred)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date_incurred format (use YYYY-MM-DD)", err)
			return
		}
		params.DateIncurred = incurred
	}

	debt, err := h.Debts.CreateDebt(r.Context(), params)
	h.Metrics.ObserveOp("create_debt", err)
	if err != nil {
		h.writeLedgerError(w, "create debt", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toDebtDTO(debt))
}

// GetDebt returns a debt with its derived status.
func (h *Handler) GetDebt(w http.ResponseWriter, r *http.Request) {
	debt, err := h.Debts.Get(r.Context(), ledger.DebtID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, "get debt", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toDebtDTO(debt))
}

// GetDebtHistory returns the debt statement, oldest first.
func (h *Handler) GetDebtHistory(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Debts.History(r.Context(), ledger.DebtID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, "get debt history", err)
		return
	}

	dtos := make([]DebtHistoryDTO, len(rows))
	for i, row := range rows {
		dtos[i] = toDebtHistoryDTO(row)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApplyDebtPayment applies a direct repayment to one debt.
func (h *Handler) ApplyDebtPayment(w http.ResponseWriter, r *http.Request) {
	var req ApplyPaymentRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	amount, ok := decodeMoney(w, "amount", req.Amount)
	if !ok {
		return
	}

	debt, err := h.Debts.ApplyPayment(r.Context(), ledger.DebtID(chi.URLParam(r, "id")),
		amount, req.Method, req.Reference, req.Notes)
	h.Metrics.ObserveOp("apply_payment", err)
	if err != nil {
		h.writeLedgerError(w, "apply payment", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toDebtDTO(debt))
}

// AddDebtInterest adds an explicit interest charge.
func (h *Handler) AddDebtInterest(w http.ResponseWriter, r *http.Request) {
	var req AddInterestRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	amount, ok := decodeMoney(w, "amount", req.Amount)
	if !ok {
		return
	}

	debt, err := h.Debts.AddInterest(r.Context(), ledger.DebtID(chi.URLParam(r, "id")),
		amount, req.Notes)
	h.Metrics.ObserveOp("add_interest", err)
	if err != nil {
		h.writeLedgerError(w, "add interest", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toDebtDTO(debt))
}

// AccrueDebtInterest accrues interest up to a date (default: now).
func (h *Handler) AccrueDebtInterest(w http.ResponseWriter, r *http.Request) {
	var req AccrueInterestRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	asOf := h.now()
	if req.AsOf != nil {
		parsed, err := time.Parse(dateLayout, *req.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
			return
		}
		asOf = parsed
	}

	debt, err := h.Debts.AccrueInterest(r.Context(), ledger.DebtID(chi.URLParam(r, "id")), asOf)
	h.Metrics.ObserveOp("accrue_interest", err)
	if err != nil {
		h.writeLedgerError(w, "accrue interest", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toDebtDTO(debt))
}

// AdjustDebt applies a signed manual correction.
func (h *Handler) AdjustDebt(w http.ResponseWriter, r *http.Request) {
	var req AdjustDebtRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	amount, ok := decodeMoney(w, "amount", req.Amount)
	if !ok {
		return
	}

	debt, err := h.Debts.Adjust(r.Context(), ledger.DebtID(chi.URLParam(r, "id")),
		amount, req.Reason)
	h.Metrics.ObserveOp("adjust_debt", err)
	if err != nil {
		h.writeLedgerError(w, "adjust debt", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toDebtDTO(debt))
}

// ReverseDebtEntry undoes the most recent money-affecting history row.
func (h *Handler) ReverseDebtEntry(w http.ResponseWriter, r *http.Request) {
	var req ReverseRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	debt, err := h.Debts.Reverse(r.Context(), ledger.DebtID(chi.URLParam(r, "id")),
		ledger.HistoryID(req.HistoryID), req.Reason)
	h.Metrics.ObserveOp("reverse", err)
	if err != nil {
		h.writeLedgerError(w, "reverse debt entry", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toDebtDTO(debt))
}

// CancelDebt cancels an open debt. Irreversible.
func (h *Handler) CancelDebt(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	debt, err := h.Debts.Cancel(r.Context(), ledger.DebtID(chi.URLParam(r, "id")), req.Reason)
	h.Metrics.ObserveOp("cancel_debt", err)
	if err != nil {
		h.writeLedgerError(w, "cancel debt", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toDebtDTO(debt))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// CreatePayment records a wage payment.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	gross, ok := decodeMoney(w, "gross_pay", req.GrossPay)
	if !ok {
		return
	}

	payment, err := h.Payments.CreatePayment(r.Context(), ledger.CreatePaymentParams{
		WorkerID: ledger.WorkerID(req.WorkerID),
		PlotID:   req.PlotID,
		GrossPay: gross,
		Notes:    req.Notes,
	})
	h.Metrics.ObserveOp("create_payment", err)
	if err != nil {
		h.writeLedgerError(w, "create payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(payment))
}

// GetPayment returns a payment with its derived net pay.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.Payments.Get(r.Context(), ledger.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, "get payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(payment))
}

// GetPaymentHistory returns the payment's audit trail, oldest first.
func (h *Handler) GetPaymentHistory(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Payments.History(r.Context(), ledger.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, "get payment history", err)
		return
	}

	dtos := make([]PaymentHistoryDTO, len(rows))
	for i, row := range rows {
		dtos[i] = toPaymentHistoryDTO(row)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpdateDeductions sets manual/other deductions. Omitted fields are
// left unchanged.
func (h *Handler) UpdateDeductions(w http.ResponseWriter, r *http.Request) {
	var req UpdateDeductionsRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	if req.ManualDeduction == nil && req.OtherDeductions == nil {
		writeError(w, http.StatusBadRequest, "At least one of manual_deduction, other_deductions is required", nil)
		return
	}

	var manual, other *ledger.Money
	if req.ManualDeduction != nil {
		m, ok := decodeMoney(w, "manual_deduction", *req.ManualDeduction)
		if !ok {
			return
		}
		manual = &m
	}
	if req.OtherDeductions != nil {
		o, ok := decodeMoney(w, "other_deductions", *req.OtherDeductions)
		if !ok {
			return
		}
		other = &o
	}

	payment, err := h.Payments.UpdateDeductions(r.Context(), ledger.PaymentID(chi.URLParam(r, "id")), manual, other)
	h.Metrics.ObserveOp("update_deductions", err)
	if err != nil {
		h.writeLedgerError(w, "update deductions", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(payment))
}

// ApplyDebtDeduction allocates deduction capacity across the worker's open
// debts inside one transaction.
func (h *Handler) ApplyDebtDeduction(w http.ResponseWriter, r *http.Request) {
	var req DebtDeductionRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	amount, ok := decodeMoney(w, "amount", req.Amount)
	if !ok {
		return
	}

	result, err := h.Payments.ApplyDebtDeduction(r.Context(), ledger.PaymentID(chi.URLParam(r, "id")), amount)
	h.Metrics.ObserveOp("debt_deduction", err)
	if err != nil {
		h.writeLedgerError(w, "apply debt deduction", err)
		return
	}

	applied := make([]DebtDeductionDTO, len(result.Applied))
	for i, a := range result.Applied {
		applied[i] = DebtDeductionDTO{DebtID: string(a.DebtID), AmountApplied: a.AmountApplied.String()}
	}
	writeJSON(w, http.StatusOK, DebtDeductionResponse{
		Payment:     toPaymentDTO(result.Payment),
		Applied:     applied,
		Unallocated: result.Unallocated.String(),
	})
}

// ProcessPayment finalizes a payment.
func (h *Handler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	var req ProcessPaymentRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	date := h.now()
	if req.PaymentDate != nil {
		parsed, err := time.Parse(dateLayout, *req.PaymentDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid payment_date format (use YYYY-MM-DD)", err)
			return
		}
		date = parsed
	}

	payment, err := h.Payments.Process(r.Context(), ledger.PaymentID(chi.URLParam(r, "id")), date, req.Method, req.Reference)
	h.Metrics.ObserveOp("process_payment", err)
	if err != nil {
		h.writeLedgerError(w, "process payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(payment))
}

// CancelPayment cancels a payment, reversing any applied debt deductions.
func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	payment, err := h.Payments.Cancel(r.Context(), ledger.PaymentID(chi.URLParam(r, "id")), req.Reason)
	h.Metrics.ObserveOp("cancel_payment", err)
	if err != nil {
		h.writeLedgerError(w, "cancel payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(payment))
}

// =============================================================================
// INTEREST CALCULATOR
// =============================================================================

// CalculateInterest runs the interest formula without touching any record.
// GET /api/interest/calculate?principal=1000&rate=12&days=30&method=simple
func (h *Handler) CalculateInterest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	principal, err := decimal.NewFromString(q.Get("principal"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid principal", err)
		return
	}
	rate, err := decimal.NewFromString(q.Get("rate"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rate", err)
		return
	}
	days, err := strconv.Atoi(q.Get("days"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid days", err)
		return
	}
	method := ledger.InterestMethod(q.Get("method"))
	if method == "" {
		method = ledger.InterestSimple
	}
	freq := ledger.CompoundFrequency(q.Get("frequency"))

	interest, err := ledger.Interest(ledger.Money{Value: principal}, rate, days, method, freq)
	if err != nil {
		h.writeLedgerError(w, "calculate interest", err)
		return
	}

	writeJSON(w, http.StatusOK, InterestDTO{
		Principal: ledger.Money{Value: principal}.String(),
		Rate:      rate.String(),
		Days:      days,
		Method:    string(method),
		Interest:  interest.String(),
	})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerError maps a ledger error to an HTTP status by its kind.
func (h *Handler) writeLedgerError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	kind := "internal"
	switch {
	case ledger.IsClientError(err):
		status = http.StatusBadRequest
		kind = "client"
	case ledger.IsNotFound(err):
		status = http.StatusNotFound
		kind = "not_found"
	case ledger.IsConflict(err):
		status = http.StatusConflict
		kind = "conflict"
		if errors.Is(err, ledger.ErrConcurrentModification) {
			h.Metrics.VersionConflicts.Inc()
		}
	}
	h.Metrics.ObserveError(kind)

	if status == http.StatusInternalServerError {
		h.Logger.Error("ledger operation failed", zap.String("op", op), zap.Error(err))
	} else {
		h.Logger.Debug("ledger operation rejected", zap.String("op", op), zap.Error(err))
	}
	writeError(w, status, "Failed to "+op, err)
}
