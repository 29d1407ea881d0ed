package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakahan/farm-ledger/ledger"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

func openDebt(id string, balance string, due *time.Time, incurred time.Time) *ledger.Debt {
	return &ledger.Debt{
		ID:             ledger.DebtID(id),
		OriginalAmount: money(balance),
		TotalInterest:  ledger.Zero(),
		TotalPaid:      ledger.Zero(),
		Status:         ledger.DebtPending,
		DueDate:        due,
		DateIncurred:   incurred,
	}
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

// =============================================================================
// ORDERING POLICY
// =============================================================================

func TestAllocate_EarliestDueFirst(t *testing.T) {
	// GIVEN: two open debts, 300 (due earlier) and 500
	// WHEN: allocating 600
	// THEN: 300 to the earlier-due debt, 300 to the later one

	incurred := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	a := openDebt("debt-a", "300", datePtr(2026, time.February, 1), incurred)
	b := openDebt("debt-b", "500", datePtr(2026, time.March, 1), incurred)

	// Input order deliberately reversed; the allocator sorts.
	plan, err := ledger.NewDeductionAllocator().Allocate(money("600"), []*ledger.Debt{b, a})
	require.NoError(t, err)

	require.Len(t, plan.Allocations, 2)
	assert.Equal(t, ledger.DebtID("debt-a"), plan.Allocations[0].DebtID)
	assert.Equal(t, "300.00", plan.Allocations[0].Amount.String())
	assert.Equal(t, ledger.DebtID("debt-b"), plan.Allocations[1].DebtID)
	assert.Equal(t, "300.00", plan.Allocations[1].Amount.String())
	assert.Equal(t, "600.00", plan.Allocated.String())
	assert.True(t, plan.Unallocated.IsZero())
}

func TestAllocate_NilDueDateSortsLast(t *testing.T) {
	incurred := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	noDue := openDebt("debt-nodue", "100", nil, incurred)
	due := openDebt("debt-due", "100", datePtr(2026, time.June, 1), incurred.AddDate(0, 1, 0))

	plan, err := ledger.NewDeductionAllocator().Allocate(money("150"), []*ledger.Debt{noDue, due})
	require.NoError(t, err)

	require.Len(t, plan.Allocations, 2)
	assert.Equal(t, ledger.DebtID("debt-due"), plan.Allocations[0].DebtID)
	assert.Equal(t, ledger.DebtID("debt-nodue"), plan.Allocations[1].DebtID)
	assert.Equal(t, "50.00", plan.Allocations[1].Amount.String())
}

func TestAllocate_TieBreaksByDateIncurredThenID(t *testing.T) {
	due := datePtr(2026, time.June, 1)
	older := openDebt("debt-z", "100", due, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))
	newer := openDebt("debt-a", "100", due, time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC))

	plan, err := ledger.NewDeductionAllocator().Allocate(money("100"), []*ledger.Debt{newer, older})
	require.NoError(t, err)
	require.Len(t, plan.Allocations, 1)
	assert.Equal(t, ledger.DebtID("debt-z"), plan.Allocations[0].DebtID, "older incurrence wins despite larger ID")

	// Identical due date and incurrence date: ID orders.
	sameDay := openDebt("debt-b", "100", due, older.DateIncurred)
	plan, err = ledger.NewDeductionAllocator().Allocate(money("100"), []*ledger.Debt{sameDay, older})
	require.NoError(t, err)
	assert.Equal(t, ledger.DebtID("debt-b"), plan.Allocations[0].DebtID)
}

func TestAllocate_Deterministic(t *testing.T) {
	// The same debts and capacity must always produce the same ordered plan,
	// regardless of input order.

	incurred := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	debts := []*ledger.Debt{
		openDebt("d1", "200", datePtr(2026, time.April, 1), incurred),
		openDebt("d2", "150", nil, incurred.AddDate(0, 0, 3)),
		openDebt("d3", "400", datePtr(2026, time.February, 15), incurred.AddDate(0, 0, 1)),
		openDebt("d4", "50", datePtr(2026, time.February, 15), incurred.AddDate(0, 0, 2)),
	}

	alloc := ledger.NewDeductionAllocator()
	first, err := alloc.Allocate(money("500"), debts)
	require.NoError(t, err)

	reversed := []*ledger.Debt{debts[3], debts[2], debts[1], debts[0]}
	second, err := alloc.Allocate(money("500"), reversed)
	require.NoError(t, err)

	require.Equal(t, len(first.Allocations), len(second.Allocations))
	for i := range first.Allocations {
		assert.Equal(t, first.Allocations[i].DebtID, second.Allocations[i].DebtID)
		assert.True(t, first.Allocations[i].Amount.Equal(second.Allocations[i].Amount))
	}
}

// =============================================================================
// CAPACITY AND SHORTFALL
// =============================================================================

func TestAllocate_Shortfall(t *testing.T) {
	// Open debt smaller than requested capacity: remainder is reported,
	// never silently discarded.

	incurred := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	only := openDebt("debt-a", "120", nil, incurred)

	plan, err := ledger.NewDeductionAllocator().Allocate(money("500"), []*ledger.Debt{only})
	require.NoError(t, err)
	assert.Equal(t, "120.00", plan.Allocated.String())
	assert.Equal(t, "380.00", plan.Unallocated.String())
}

func TestAllocate_SkipsClosedAndZeroBalanceDebts(t *testing.T) {
	incurred := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	paid := openDebt("debt-paid", "100", nil, incurred)
	paid.Status = ledger.DebtPaid
	cancelled := openDebt("debt-cancelled", "100", nil, incurred)
	cancelled.Status = ledger.DebtCancelled
	settled := openDebt("debt-settled", "100", nil, incurred)
	settled.TotalPaid = money("100")
	live := openDebt("debt-live", "100", nil, incurred)

	plan, err := ledger.NewDeductionAllocator().Allocate(money("400"), []*ledger.Debt{paid, cancelled, settled, live})
	require.NoError(t, err)
	require.Len(t, plan.Allocations, 1)
	assert.Equal(t, ledger.DebtID("debt-live"), plan.Allocations[0].DebtID)
	assert.Equal(t, "300.00", plan.Unallocated.String())
}

func TestAllocate_RejectsNonPositiveCapacity(t *testing.T) {
	alloc := ledger.NewDeductionAllocator()

	_, err := alloc.Allocate(money("0"), nil)
	var vErr *ledger.ValidationError
	require.ErrorAs(t, err, &vErr)

	_, err = alloc.Allocate(money("-10"), nil)
	require.ErrorAs(t, err, &vErr)
}
