// Package money holds the decimal helpers shared by every amount in the engine.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Places is the number of fractional digits stored for an amount.
const Places = 2

var (
	// Max is the largest amount a NUMERIC(18,2) column can hold.
	Max = decimal.RequireFromString("9999999999999999.99")
	// Min is the smallest amount a NUMERIC(18,2) column can hold.
	Min = Max.Neg()
)

// Zero is the zero amount.
var Zero = decimal.Zero

// Round rounds half away from zero to two places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Clamp saturates d to the representable range and reports whether it had to.
func Clamp(d decimal.Decimal) (decimal.Decimal, bool) {
	switch {
	case d.GreaterThan(Max):
		return Max, true
	case d.LessThan(Min):
		return Min, true
	}
	return d, false
}

// Settle rounds then clamps, the final step before an amount is stored.
func Settle(d decimal.Decimal) (decimal.Decimal, bool) {
	return Clamp(Round(d))
}

// Percent returns base * pct / 100 without intermediate rounding.
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Shift(-2)
}

// Sum adds amounts exactly.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Parse reads a decimal string such as "1500.50".
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return d, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
