package id

import (
	"fmt"

	clierr "github.com/ggonzalez94/mercata-mcp/internal/errors"
	"github.com/shopspring/decimal"
)

// USDSTDecimals is the fixed precision of the marketplace stable token and of
// collateral and borrow values.
const USDSTDecimals = 18

// ToBaseUnits scales a human amount to an integer base-unit string. Fractional
// base units are truncated.
func ToBaseUnits(amount float64, decimals int) (string, error) {
	if decimals < 0 {
		return "", clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}
	d := decimal.NewFromFloat(amount)
	if d.IsNegative() {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("amount must be non-negative, got %v", amount))
	}
	return d.Shift(int32(decimals)).Truncate(0).String(), nil
}

// FromBaseUnits converts stored base units to the human amount.
func FromBaseUnits(baseUnits decimal.Decimal, decimals int) decimal.Decimal {
	return baseUnits.Shift(-int32(decimals))
}

// FormatBaseUnits renders base units as a human amount with a fixed number of places.
func FormatBaseUnits(baseUnits decimal.Decimal, decimals int, places int32) string {
	return FromBaseUnits(baseUnits, decimals).StringFixed(places)
}

// FloorCents rounds a value down to two decimal places.
func FloorCents(v decimal.Decimal) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	return v.Mul(hundred).Floor().Div(hundred)
}
