/*
allocation.go - Deduction allocation policy

PURPOSE:
  Decides which open debts absorb a payment's debt-deduction capacity and
  in what order. Pure decision logic: the allocator never mutates a debt,
  which keeps the policy testable apart from ledger mutation.

POLICY (explicit, not incidental):
  1. Order open debts by due date ascending - earliest, i.e. most overdue,
     first. Debts without a due date sort last.
  2. Ties break by date incurred ascending - oldest first.
  3. Allocate greedily: each debt takes min(remaining capacity, balance)
     until capacity or debts run out.

  The same inputs always produce the same ordered allocation. The payment
  processor also mutates debts in exactly this order, which doubles as the
  deterministic lock order that prevents deadlocks between two payments
  targeting overlapping debt sets.

SHORTFALL:
  When total open debt is smaller than the requested capacity, the unused
  remainder is reported back to the caller rather than silently discarded;
  over-requesting beyond real debt is a caller error.
*/
package ledger

import "sort"

// Allocation is the decision for a single debt.
type Allocation struct {
	DebtID DebtID
	Amount Money
}

// AllocationPlan is the full decision for one deduction request.
type AllocationPlan struct {
	Allocations []Allocation
	Requested   Money
	Allocated   Money
	Unallocated Money
}

// DeductionAllocator orders debts and splits capacity. Stateless.
type DeductionAllocator struct{}

func NewDeductionAllocator() *DeductionAllocator { return &DeductionAllocator{} }

// Allocate splits capacity across the open debts. Cancelled and paid debts
// must already be filtered out by the caller (ListOpenDebts does this).
func (a *DeductionAllocator) Allocate(capacity Money, debts []*Debt) (*AllocationPlan, error) {
	if !capacity.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}

	ordered := make([]*Debt, 0, len(debts))
	for _, d := range debts {
		if d.Open() && d.Balance().IsPositive() {
			ordered = append(ordered, d)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return allocationLess(ordered[i], ordered[j])
	})

	plan := &AllocationPlan{Requested: capacity, Allocated: Zero()}
	remaining := capacity
	for _, d := range ordered {
		if !remaining.IsPositive() {
			break
		}
		take := remaining.Min(d.Balance())
		plan.Allocations = append(plan.Allocations, Allocation{DebtID: d.ID, Amount: take})
		plan.Allocated = plan.Allocated.Add(take)
		remaining = remaining.Sub(take)
	}
	plan.Unallocated = remaining
	return plan, nil
}

// allocationLess is the canonical deduction order: due date ascending
// (nil due dates last), then date incurred ascending, then ID for a total
// order when clocks collide.
func allocationLess(a, b *Debt) bool {
	switch {
	case a.DueDate != nil && b.DueDate != nil:
		if !a.DueDate.Equal(*b.DueDate) {
			return a.DueDate.Before(*b.DueDate)
		}
	case a.DueDate != nil:
		return true
	case b.DueDate != nil:
		return false
	}
	if !a.DateIncurred.Equal(b.DateIncurred) {
		return a.DateIncurred.Before(b.DateIncurred)
	}
	return a.ID < b.ID
}
