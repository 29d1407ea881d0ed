/*
interest.go - Pure interest computation

PURPOSE:
  Deterministic interest for a principal over elapsed days. No state, no
  clock, no store access. Determinism is what makes recalculation during a
  dispute reproduce the original figures exactly.

METHODS:
  simple:   principal * rate/100 * days/365
  compound: per-period compounding; the number of whole periods is
            days / periodLength, REMAINDER DAYS IGNORED. This is the
            documented rounding rule, tested at period boundaries.

ROUNDING:
  Results are rounded to 2 decimals, half away from zero, as the final step.
  Intermediate arithmetic stays at full decimal precision.
*/
package ledger

import (
	"github.com/shopspring/decimal"
)

type InterestMethod string

const (
	InterestSimple   InterestMethod = "simple"
	InterestCompound InterestMethod = "compound"
)

type CompoundFrequency string

const (
	CompoundDaily   CompoundFrequency = "daily"
	CompoundWeekly  CompoundFrequency = "weekly"
	CompoundMonthly CompoundFrequency = "monthly" // 30-day periods
)

// periodDays returns the length of one compounding period in days.
func (f CompoundFrequency) periodDays() int {
	switch f {
	case CompoundWeekly:
		return 7
	case CompoundMonthly:
		return 30
	default:
		return 1
	}
}

var daysPerYear = decimal.NewFromInt(365)
var hundred = decimal.NewFromInt(100)

// Interest computes accrued interest for a principal at an annual percentage
// rate over the given number of elapsed days.
//
// Inputs are validated here because this function is also exposed directly
// through the calculateInterest command.
func Interest(principal Money, rate decimal.Decimal, days int, method InterestMethod, freq CompoundFrequency) (Money, error) {
	if principal.IsNegative() {
		return Zero(), &ValidationError{Field: "principal", Message: "must not be negative"}
	}
	if rate.IsNegative() {
		return Zero(), &ValidationError{Field: "rate", Message: "must not be negative"}
	}
	if days < 0 {
		return Zero(), &ValidationError{Field: "days", Message: "must not be negative"}
	}

	switch method {
	case InterestSimple:
		return simpleInterest(principal, rate, days), nil
	case InterestCompound:
		return compoundInterest(principal, rate, days, freq), nil
	default:
		return Zero(), &ValidationError{Field: "method", Message: "unknown interest method"}
	}
}

func simpleInterest(principal Money, rate decimal.Decimal, days int) Money {
	// principal * rate/100 * days/365
	factor := rate.Div(hundred).Mul(decimal.NewFromInt(int64(days))).Div(daysPerYear)
	return principal.Mul(factor).Round2()
}

func compoundInterest(principal Money, rate decimal.Decimal, days int, freq CompoundFrequency) Money {
	periodLen := freq.periodDays()
	periods := days / periodLen // whole periods only; remainder days ignored
	if periods == 0 {
		return Zero()
	}

	// Per-period rate scales the annual rate by the period's share of a year.
	periodRate := rate.Div(hundred).Mul(decimal.NewFromInt(int64(periodLen))).Div(daysPerYear)
	growth := decimal.NewFromInt(1).Add(periodRate).Pow(decimal.NewFromInt(int64(periods)))

	total := principal.Mul(growth)
	return total.Sub(principal).Round2()
}
