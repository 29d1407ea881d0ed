/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY ON THE WIRE:
  All money fields are decimal strings ("1234.50"), never JSON numbers.
  Float64 would reintroduce the rounding drift the ledger exists to avoid.

VALIDATION:
  Request structs carry validator/v10 tags; handlers run the shared
  validator before touching the ledger. Semantic checks (balance limits,
  state transitions) stay in the ledger services.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain model these convert from
*/
package api

import (
	"time"

	"github.com/sakahan/farm-ledger/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateWorkerRequest registers a worker.
type CreateWorkerRequest struct {
	Name   string `json:"name" validate:"required"`
	PlotID string `json:"plot_id"`
}

// CreateDebtRequest records a new obligation against a worker.
type CreateDebtRequest struct {
	WorkerID     string  `json:"worker_id" validate:"required"`
	Amount       string  `json:"amount" validate:"required"`
	InterestRate string  `json:"interest_rate"`
	Method       string  `json:"interest_method" validate:"omitempty,oneof=simple compound"`
	CompoundFreq string  `json:"compound_frequency" validate:"omitempty,oneof=daily weekly monthly"`
	PaymentTerm  string  `json:"payment_term" validate:"omitempty,oneof=weekly semi_monthly monthly"`
	DueDate      *string `json:"due_date,omitempty"`      // YYYY-MM-DD
	DateIncurred *string `json:"date_incurred,omitempty"` // YYYY-MM-DD
	Notes        string  `json:"notes"`
}

// ApplyPaymentRequest applies a repayment directly to one debt.
type ApplyPaymentRequest struct {
	Amount    string `json:"amount" validate:"required"`
	Method    string `json:"method"`
	Reference string `json:"reference"`
	Notes     string `json:"notes"`
}

// AddInterestRequest adds an explicit interest charge.
type AddInterestRequest struct {
	Amount string `json:"amount" validate:"required"`
	Notes  string `json:"notes"`
}

// AccrueInterestRequest accrues interest up to a date (default: now).
type AccrueInterestRequest struct {
	AsOf *string `json:"as_of,omitempty"` // YYYY-MM-DD
}

// AdjustDebtRequest applies a signed manual correction.
type AdjustDebtRequest struct {
	Amount string `json:"amount" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

// ReverseRequest undoes the most recent money-affecting history row.
type ReverseRequest struct {
	HistoryID string `json:"history_id" validate:"required"`
	Reason    string `json:"reason" validate:"required"`
}

// CancelRequest cancels a debt or payment.
type CancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// CreatePaymentRequest records a wage payment.
type CreatePaymentRequest struct {
	WorkerID string `json:"worker_id" validate:"required"`
	PlotID   string `json:"plot_id"`
	GrossPay string `json:"gross_pay" validate:"required"`
	Notes    string `json:"notes"`
}

// UpdateDeductionsRequest sets manual/other deductions. Omitted fields are
// left unchanged.
type UpdateDeductionsRequest struct {
	ManualDeduction *string `json:"manual_deduction,omitempty"`
	OtherDeductions *string `json:"other_deductions,omitempty"`
}

// DebtDeductionRequest allocates deduction capacity across open debts.
type DebtDeductionRequest struct {
	Amount string `json:"amount" validate:"required"`
}

// ProcessPaymentRequest finalizes a payment.
type ProcessPaymentRequest struct {
	PaymentDate *string `json:"payment_date,omitempty"` // YYYY-MM-DD, default today
	Method      string  `json:"method"`
	Reference   string  `json:"reference"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// WorkerDTO includes the cached summary written by the reconciler.
type WorkerDTO struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	PlotID         string  `json:"plot_id,omitempty"`
	TotalDebt      string  `json:"total_debt"`
	TotalPaid      string  `json:"total_paid"`
	CurrentBalance string  `json:"current_balance"`
	ReconciledAt   *string `json:"reconciled_at,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

// DebtDTO reports a debt with its derived balance and status.
type DebtDTO struct {
	ID             string  `json:"id"`
	WorkerID       string  `json:"worker_id"`
	OriginalAmount string  `json:"original_amount"`
	InterestRate   string  `json:"interest_rate"`
	InterestMethod string  `json:"interest_method"`
	CompoundFreq   string  `json:"compound_frequency,omitempty"`
	TotalInterest  string  `json:"total_interest"`
	TotalPaid      string  `json:"total_paid"`
	Balance        string  `json:"balance"`
	Status         string  `json:"status"` // derived; may read "overdue"
	PaymentTerm    string  `json:"payment_term,omitempty"`
	DateIncurred   string  `json:"date_incurred"`
	DueDate        *string `json:"due_date,omitempty"`
	LastPayment    *string `json:"last_payment,omitempty"`
	Notes          string  `json:"notes,omitempty"`
	Version        int64   `json:"version"`
}

// DebtHistoryDTO is one row of a debt statement.
type DebtHistoryDTO struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Amount          string `json:"amount"`
	Delta           string `json:"delta"`
	PreviousBalance string `json:"previous_balance"`
	NewBalance      string `json:"new_balance"`
	Method          string `json:"method,omitempty"`
	Reference       string `json:"reference,omitempty"`
	Notes           string `json:"notes,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// PaymentDTO reports a payment with its derived net pay.
type PaymentDTO struct {
	ID                 string             `json:"id"`
	WorkerID           string             `json:"worker_id"`
	PlotID             string             `json:"plot_id,omitempty"`
	GrossPay           string             `json:"gross_pay"`
	ManualDeduction    string             `json:"manual_deduction"`
	OtherDeductions    string             `json:"other_deductions"`
	TotalDebtDeduction string             `json:"total_debt_deduction"`
	NetPay             string             `json:"net_pay"`
	Status             string             `json:"status"`
	DeductionBreakdown []DebtDeductionDTO `json:"deduction_breakdown,omitempty"`
	PaymentDate        *string            `json:"payment_date,omitempty"`
	Method             string             `json:"method,omitempty"`
	Reference          string             `json:"reference,omitempty"`
	Notes              string             `json:"notes,omitempty"`
	Version            int64              `json:"version"`
}

// DebtDeductionDTO is one slice of applied deduction capacity.
type DebtDeductionDTO struct {
	DebtID        string `json:"debt_id"`
	AmountApplied string `json:"amount_applied"`
}

// DebtDeductionResponse is returned by the debt-deduction endpoint.
type DebtDeductionResponse struct {
	Payment     PaymentDTO         `json:"payment"`
	Applied     []DebtDeductionDTO `json:"applied"`
	Unallocated string             `json:"unallocated"`
}

// PaymentHistoryDTO is one audit row of a payment.
type PaymentHistoryDTO struct {
	ID        string `json:"id"`
	Field     string `json:"field"`
	OldValue  string `json:"old_value"`
	NewValue  string `json:"new_value"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"created_at"`
}

// SummaryDTO is the reconciler's output.
type SummaryDTO struct {
	WorkerID       string     `json:"worker_id"`
	TotalDebt      string     `json:"total_debt"`
	TotalPaid      string     `json:"total_paid"`
	CurrentBalance string     `json:"current_balance"`
	ReconciledAt   string     `json:"reconciled_at"`
	Drift          []DriftDTO `json:"drift,omitempty"`
}

// DriftDTO flags a debt whose stored fields disagree with its history.
type DriftDTO struct {
	DebtID   string `json:"debt_id"`
	Stored   string `json:"stored"`
	Replayed string `json:"replayed"`
}

// DebtLimitDTO is the debt-limit precheck result. RemainingLimit is zero
// when no ceiling is configured.
type DebtLimitDTO struct {
	IsWithinLimit  bool   `json:"is_within_limit"`
	RemainingLimit string `json:"remaining_limit"`
}

// InterestDTO is the standalone interest calculation result.
type InterestDTO struct {
	Principal string `json:"principal"`
	Rate      string `json:"rate"`
	Days      int    `json:"days"`
	Method    string `json:"method"`
	Interest  string `json:"interest"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

const dateLayout = "2006-01-02"

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func toWorkerDTO(w *ledger.Worker) WorkerDTO {
	return WorkerDTO{
		ID:             string(w.ID),
		Name:           w.Name,
		PlotID:         w.PlotID,
		TotalDebt:      w.TotalDebt.String(),
		TotalPaid:      w.TotalPaid.String(),
		CurrentBalance: w.CurrentBalance.String(),
		ReconciledAt:   fmtTimePtr(w.ReconciledAt),
		CreatedAt:      w.CreatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) toDebtDTO(d *ledger.Debt) DebtDTO {
	return DebtDTO{
		ID:             string(d.ID),
		WorkerID:       string(d.WorkerID),
		OriginalAmount: d.OriginalAmount.String(),
		InterestRate:   d.InterestRate.String(),
		InterestMethod: string(d.InterestMethod),
		CompoundFreq:   string(d.CompoundFreq),
		TotalInterest:  d.TotalInterest.String(),
		TotalPaid:      d.TotalPaid.String(),
		Balance:        d.Balance().String(),
		Status:         string(d.StatusAt(h.now())),
		PaymentTerm:    string(d.PaymentTerm),
		DateIncurred:   d.DateIncurred.Format(dateLayout),
		DueDate:        fmtDatePtr(d.DueDate),
		LastPayment:    fmtTimePtr(d.LastPayment),
		Notes:          d.Notes,
		Version:        d.Version,
	}
}

func fmtDatePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}

func toDebtHistoryDTO(row ledger.DebtHistory) DebtHistoryDTO {
	return DebtHistoryDTO{
		ID:              string(row.ID),
		Type:            string(row.Type),
		Amount:          row.Amount.String(),
		Delta:           row.Delta.String(),
		PreviousBalance: row.PreviousBalance.String(),
		NewBalance:      row.NewBalance.String(),
		Method:          row.Method,
		Reference:       row.Reference,
		Notes:           row.Notes,
		CreatedAt:       row.CreatedAt.Format(time.RFC3339),
	}
}

func toPaymentDTO(p *ledger.Payment) PaymentDTO {
	breakdown := make([]DebtDeductionDTO, len(p.DeductionBreakdown))
	for i, d := range p.DeductionBreakdown {
		breakdown[i] = DebtDeductionDTO{
			DebtID:        string(d.DebtID),
			AmountApplied: d.AmountApplied.String(),
		}
	}
	dto := PaymentDTO{
		ID:                 string(p.ID),
		WorkerID:           string(p.WorkerID),
		PlotID:             p.PlotID,
		GrossPay:           p.GrossPay.String(),
		ManualDeduction:    p.ManualDeduction.String(),
		OtherDeductions:    p.OtherDeductions.String(),
		TotalDebtDeduction: p.TotalDebtDeduction.String(),
		NetPay:             p.NetPay().String(),
		Status:             string(p.Status),
		Method:             p.Method,
		Reference:          p.Reference,
		Notes:              p.Notes,
		Version:            p.Version,
	}
	if len(breakdown) > 0 {
		dto.DeductionBreakdown = breakdown
	}
	dto.PaymentDate = fmtDatePtr(p.PaymentDate)
	return dto
}

func toPaymentHistoryDTO(row ledger.PaymentHistory) PaymentHistoryDTO {
	return PaymentHistoryDTO{
		ID:        string(row.ID),
		Field:     row.Field,
		OldValue:  row.OldValue,
		NewValue:  row.NewValue,
		Reason:    row.Reason,
		CreatedAt: row.CreatedAt.Format(time.RFC3339),
	}
}

func toSummaryDTO(s *ledger.WorkerSummary) SummaryDTO {
	drift := make([]DriftDTO, len(s.Drift))
	for i, d := range s.Drift {
		drift[i] = DriftDTO{
			DebtID:   string(d.DebtID),
			Stored:   d.Stored.String(),
			Replayed: d.Replayed.String(),
		}
	}
	dto := SummaryDTO{
		WorkerID:       string(s.WorkerID),
		TotalDebt:      s.TotalDebt.String(),
		TotalPaid:      s.TotalPaid.String(),
		CurrentBalance: s.CurrentBalance.String(),
		ReconciledAt:   s.ReconciledAt.Format(time.RFC3339),
	}
	if len(drift) > 0 {
		dto.Drift = drift
	}
	return dto
}
