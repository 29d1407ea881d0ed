/*
Package ledger implements the worker financial ledger: debts with accruing
interest, wage payments with deductions, and the append-only history that
makes every balance reproducible.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: an exact decimal amount (never float64 inside the engine)
  - Debt: a worker obligation with principal, interest, and shrinking balance
  - Payment: a wage disbursement reduced by deductions to a net payable
  - DebtHistory / PaymentHistory: immutable audit rows, one per change

DESIGN PRINCIPLES:
  1. Histories are append-only. Corrections happen via refund rows, not edits.
  2. Balances are arithmetic over recorded fields and are re-derivable from
     history at any time (see reconcile.go).
  3. Worker summary fields are projections. Only the reconciler writes them.

SEE ALSO:
  - debt.go:       DebtLedger, the only mutator of a debt
  - payment.go:    PaymentProcessor, the only mutator of a payment
  - store.go:      persistence boundary
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Exact decimal amount
// =============================================================================

// Money is a currency amount. Single currency, two display decimals.
type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value)}
}

func NewMoneyFromInt(value int64) Money {
	return Money{Value: decimal.NewFromInt(value)}
}

// ParseMoney parses a decimal string from a trusted source (stored rows,
// fixtures). Invalid input yields zero; user-facing input must be parsed
// with decimal.NewFromString and rejected on error.
func ParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{Value: decimal.Zero}
	}
	return Money{Value: d}
}

func Zero() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(b Money) Money        { return Money{Value: m.Value.Add(b.Value)} }
func (m Money) Sub(b Money) Money        { return Money{Value: m.Value.Sub(b.Value)} }
func (m Money) Neg() Money               { return Money{Value: m.Value.Neg()} }
func (m Money) Mul(s decimal.Decimal) Money { return Money{Value: m.Value.Mul(s)} }
func (m Money) IsZero() bool             { return m.Value.IsZero() }
func (m Money) IsNegative() bool         { return m.Value.IsNegative() }
func (m Money) IsPositive() bool         { return m.Value.IsPositive() }
func (m Money) GreaterThan(b Money) bool { return m.Value.GreaterThan(b.Value) }
func (m Money) LessThan(b Money) bool    { return m.Value.LessThan(b.Value) }
func (m Money) Equal(b Money) bool       { return m.Value.Equal(b.Value) }
func (m Money) Min(b Money) Money        { if m.LessThan(b) { return m }; return b }

// Round2 rounds to two decimals, half away from zero. This is the single
// rounding rule for the whole ledger (interest, statements, API output).
func (m Money) Round2() Money { return Money{Value: m.Value.Round(2)} }

func (m Money) String() string { return m.Value.StringFixed(2) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type DebtID string
type PaymentID string
type WorkerID string
type HistoryID string

// =============================================================================
// DEBT
// =============================================================================

type DebtStatus string

const (
	DebtPending       DebtStatus = "pending"
	DebtPartiallyPaid DebtStatus = "partially_paid"
	DebtPaid          DebtStatus = "paid"
	DebtCancelled     DebtStatus = "cancelled"

	// DebtOverdue is derived at read time from DueDate vs. the clock.
	// It is never stored; see Debt.StatusAt.
	DebtOverdue DebtStatus = "overdue"
)

// PaymentTerm is a preset that supplies a default due date when the caller
// does not give one explicitly.
type PaymentTerm string

const (
	TermNone       PaymentTerm = ""
	TermWeekly     PaymentTerm = "weekly"
	TermSemiMonthly PaymentTerm = "semi_monthly" // 15 days
	TermMonthly    PaymentTerm = "monthly"
)

// DueDateFrom returns the default due date for a debt incurred at the given
// time, or nil when the term carries no deadline.
func (t PaymentTerm) DueDateFrom(incurred time.Time) *time.Time {
	var due time.Time
	switch t {
	case TermWeekly:
		due = incurred.AddDate(0, 0, 7)
	case TermSemiMonthly:
		due = incurred.AddDate(0, 0, 15)
	case TermMonthly:
		due = incurred.AddDate(0, 1, 0)
	default:
		return nil
	}
	return &due
}

// Debt is a worker's obligation. OriginalAmount is immutable; TotalInterest
// and TotalPaid only grow through DebtLedger operations (refunds shrink
// TotalPaid, but always through a recorded history row).
//
// INVARIANT: Balance() >= 0 at all times. Operations that would overshoot
// fail with AmountExceedsBalanceError instead of clamping.
type Debt struct {
	ID       DebtID
	WorkerID WorkerID

	OriginalAmount Money
	InterestRate   decimal.Decimal // annual percentage, >= 0
	InterestMethod InterestMethod
	CompoundFreq   CompoundFrequency
	TotalInterest  Money
	TotalPaid      Money

	Status       DebtStatus // stored progression only, never "overdue"
	PaymentTerm  PaymentTerm
	DateIncurred time.Time
	DueDate      *time.Time
	LastPayment  *time.Time
	Notes        string

	// Version supports optimistic concurrency in the store (see store.go).
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Balance is always derived, never stored independently.
func (d *Debt) Balance() Money {
	return d.OriginalAmount.Add(d.TotalInterest).Sub(d.TotalPaid)
}

// Open reports whether the debt can still absorb payments.
func (d *Debt) Open() bool {
	return d.Status != DebtPaid && d.Status != DebtCancelled
}

// StatusAt derives the externally visible status at a point in time.
// A debt past its due date with balance remaining reads as overdue;
// the stored status keeps only the payment progression.
func (d *Debt) StatusAt(now time.Time) DebtStatus {
	if d.Open() && d.DueDate != nil && now.After(*d.DueDate) && d.Balance().IsPositive() {
		return DebtOverdue
	}
	return d.Status
}

// =============================================================================
// DEBT HISTORY - Append-only audit trail
// =============================================================================

type DebtTxType string

const (
	DebtTxPayment    DebtTxType = "payment"
	DebtTxAdjustment DebtTxType = "adjustment"
	DebtTxInterest   DebtTxType = "interest"
	DebtTxRefund     DebtTxType = "refund"
)

// DebtHistory records one balance-affecting event. Immutable once written.
//
// Sign convention: Amount is always positive; the transaction type carries
// the direction. For "payment" the balance shrinks, for "interest" and
// "refund" it grows, and "adjustment" uses Delta for its signed effect.
type DebtHistory struct {
	ID     HistoryID
	DebtID DebtID

	Type            DebtTxType
	Amount          Money
	Delta           Money // signed effect on balance; redundant but explicit
	PreviousBalance Money
	NewBalance      Money

	Method    string
	Reference string
	Notes     string
	CreatedAt time.Time
}

// moneyAffecting reports whether the row moved the balance. All current row
// types do; the distinction matters for the reversal ordering rule.
func (h DebtHistory) moneyAffecting() bool {
	return !h.Delta.IsZero()
}

// validate checks the arithmetic relation the audit trail promises:
// NewBalance = PreviousBalance + Delta, with Delta consistent with Type.
func (h DebtHistory) validate() error {
	if !h.NewBalance.Equal(h.PreviousBalance.Add(h.Delta)) {
		return &ValidationError{Field: "newBalance", Message: "history row balances do not chain"}
	}
	switch h.Type {
	case DebtTxPayment:
		if !h.Delta.Equal(h.Amount.Neg()) {
			return &ValidationError{Field: "delta", Message: "payment must decrease balance by amount"}
		}
	case DebtTxInterest, DebtTxRefund:
		if !h.Delta.Equal(h.Amount) {
			return &ValidationError{Field: "delta", Message: string(h.Type) + " must increase balance by amount"}
		}
	case DebtTxAdjustment:
		// signed by nature
	default:
		return &ValidationError{Field: "type", Message: "unknown history type"}
	}
	if h.NewBalance.IsNegative() {
		return &ValidationError{Field: "newBalance", Message: "balance may not go negative"}
	}
	return nil
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "pending"
	PaymentProcessing    PaymentStatus = "processing"
	PaymentCompleted     PaymentStatus = "completed"
	PaymentCancelled     PaymentStatus = "cancelled"
	PaymentPartiallyPaid PaymentStatus = "partially_paid"
)

// DebtDeduction is one slice of a payment's debt-deduction capacity applied
// to a specific debt. The breakdown mirrors the DebtHistory rows created as
// a side effect of applying the deduction.
type DebtDeduction struct {
	DebtID        DebtID
	AmountApplied Money
}

// Payment is a wage disbursement. NetPay is derived, never stored.
//
// INVARIANT: NetPay() >= 0. Setters that would violate it fail with
// NegativeNetPayError naming the offending field.
type Payment struct {
	ID       PaymentID
	WorkerID WorkerID
	PlotID   string

	GrossPay           Money
	ManualDeduction    Money
	OtherDeductions    Money
	TotalDebtDeduction Money

	Status             PaymentStatus
	DeductionBreakdown []DebtDeduction

	PaymentDate *time.Time
	Method      string
	Reference   string
	Notes       string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p *Payment) NetPay() Money {
	return p.GrossPay.Sub(p.ManualDeduction).Sub(p.OtherDeductions).Sub(p.TotalDebtDeduction)
}

// DeductionsApplied reports whether debt deductions have been realized.
// Once true, the manual/other deduction fields are frozen so the recorded
// breakdown cannot drift from the payment arithmetic.
func (p *Payment) DeductionsApplied() bool {
	return len(p.DeductionBreakdown) > 0
}

func (p *Payment) terminal() bool {
	return p.Status == PaymentCompleted || p.Status == PaymentCancelled
}

// =============================================================================
// PAYMENT HISTORY - Append-only audit trail
// =============================================================================

// PaymentHistory records one change to a payment's amounts or status,
// capturing old and new values. Symmetric to DebtHistory.
type PaymentHistory struct {
	ID        HistoryID
	PaymentID PaymentID

	Field     string // "gross_pay", "manual_deduction", "other_deductions", "debt_deduction", "status"
	OldValue  string
	NewValue  string
	Reason    string
	CreatedAt time.Time
}

// =============================================================================
// WORKER - Summary fields are projections, owned by the reconciler
// =============================================================================

// Worker carries identity plus cached financial summary fields. The summary
// is recomputed from history by BalanceReconciler; nothing else writes it.
type Worker struct {
	ID     WorkerID
	Name   string
	PlotID string

	TotalDebt      Money
	TotalPaid      Money
	CurrentBalance Money
	ReconciledAt   *time.Time

	Version   int64
	CreatedAt time.Time
}

// NewWorker creates a worker with zeroed summary fields.
func NewWorker(name, plotID string) *Worker {
	return &Worker{
		ID:             WorkerID(uuid.NewString()),
		Name:           name,
		PlotID:         plotID,
		TotalDebt:      Zero(),
		TotalPaid:      Zero(),
		CurrentBalance: Zero(),
		CreatedAt:      time.Now(),
	}
}
