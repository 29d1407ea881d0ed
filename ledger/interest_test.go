package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakahan/farm-ledger/ledger"
)

func money(s string) ledger.Money {
	return ledger.ParseMoney(s)
}

func rate(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// =============================================================================
// SIMPLE INTEREST
// =============================================================================

func TestInterest_Simple_ThirtyDays(t *testing.T) {
	// GIVEN: 1000.00 principal at 12% annual
	// WHEN: 30 days elapse
	// THEN: interest = 1000 * 0.12 * 30/365 = 9.8630... -> 9.86

	got, err := ledger.Interest(money("1000"), rate("12"), 30, ledger.InterestSimple, "")
	require.NoError(t, err)
	assert.Equal(t, "9.86", got.String())
}

func TestInterest_Simple_FullYear(t *testing.T) {
	got, err := ledger.Interest(money("1000"), rate("12"), 365, ledger.InterestSimple, "")
	require.NoError(t, err)
	assert.Equal(t, "120.00", got.String())
}

func TestInterest_Simple_ZeroInputs(t *testing.T) {
	// Zero days, zero rate, and zero principal all yield zero interest.
	for name, tc := range map[string]struct {
		principal string
		rate      string
		days      int
	}{
		"zero days":      {"1000", "12", 0},
		"zero rate":      {"1000", "0", 30},
		"zero principal": {"0", "12", 30},
	} {
		t.Run(name, func(t *testing.T) {
			got, err := ledger.Interest(money(tc.principal), rate(tc.rate), tc.days, ledger.InterestSimple, "")
			require.NoError(t, err)
			assert.True(t, got.IsZero(), "expected zero, got %s", got)
		})
	}
}

func TestInterest_Simple_RoundsHalfAwayFromZero(t *testing.T) {
	// 100 * 0.10 * 18/365 = 0.49315... -> 0.49
	got, err := ledger.Interest(money("100"), rate("10"), 18, ledger.InterestSimple, "")
	require.NoError(t, err)
	assert.Equal(t, "0.49", got.String())
}

// =============================================================================
// COMPOUND INTEREST - whole periods only, remainder days ignored
// =============================================================================

func TestInterest_Compound_OneMonthlyPeriod(t *testing.T) {
	// One 30-day period at 12% annual: same figure as 30 days simple.
	got, err := ledger.Interest(money("1000"), rate("12"), 30, ledger.InterestCompound, ledger.CompoundMonthly)
	require.NoError(t, err)
	assert.Equal(t, "9.86", got.String())
}

func TestInterest_Compound_TwoMonthlyPeriods(t *testing.T) {
	// periodRate = 0.12 * 30/365; interest = 1000 * ((1+r)^2 - 1)
	got, err := ledger.Interest(money("1000"), rate("12"), 60, ledger.InterestCompound, ledger.CompoundMonthly)
	require.NoError(t, err)
	assert.Equal(t, "19.82", got.String())
}

func TestInterest_Compound_RemainderDaysIgnored(t *testing.T) {
	// GIVEN: 59 elapsed days with monthly (30-day) compounding
	// WHEN: computing interest
	// THEN: only one whole period counts; the 29 remainder days accrue nothing

	at59, err := ledger.Interest(money("1000"), rate("12"), 59, ledger.InterestCompound, ledger.CompoundMonthly)
	require.NoError(t, err)
	at30, err := ledger.Interest(money("1000"), rate("12"), 30, ledger.InterestCompound, ledger.CompoundMonthly)
	require.NoError(t, err)

	assert.True(t, at59.Equal(at30), "59 days should equal 30 days: %s vs %s", at59, at30)
}

func TestInterest_Compound_BelowOnePeriod(t *testing.T) {
	got, err := ledger.Interest(money("1000"), rate("12"), 29, ledger.InterestCompound, ledger.CompoundMonthly)
	require.NoError(t, err)
	assert.True(t, got.IsZero(), "less than one period should accrue nothing, got %s", got)
}

func TestInterest_Compound_WeeklyExceedsSimple(t *testing.T) {
	// Compounding over many periods must exceed simple interest for the
	// same span.
	compound, err := ledger.Interest(money("1000"), rate("12"), 364, ledger.InterestCompound, ledger.CompoundWeekly)
	require.NoError(t, err)
	simple, err := ledger.Interest(money("1000"), rate("12"), 364, ledger.InterestSimple, "")
	require.NoError(t, err)

	assert.True(t, compound.GreaterThan(simple), "compound %s should exceed simple %s", compound, simple)
}

// =============================================================================
// INPUT VALIDATION
// =============================================================================

func TestInterest_RejectsInvalidInputs(t *testing.T) {
	cases := map[string]struct {
		principal string
		rate      string
		days      int
		method    ledger.InterestMethod
	}{
		"negative principal": {"-1", "12", 30, ledger.InterestSimple},
		"negative rate":      {"1000", "-12", 30, ledger.InterestSimple},
		"negative days":      {"1000", "12", -1, ledger.InterestSimple},
		"unknown method":     {"1000", "12", 30, "hyperbolic"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ledger.Interest(money(tc.principal), rate(tc.rate), tc.days, tc.method, "")
			require.Error(t, err)
			var vErr *ledger.ValidationError
			assert.ErrorAs(t, err, &vErr)
		})
	}
}
