// Package money holds fixed-point helpers. Amounts are persisted as int64
// minor units (two decimal places); intermediate math runs on exact decimals.
package money

import (
	"github.com/shopspring/decimal"
)

// MinorUnitScale is the number of decimal places in a minor unit.
const MinorUnitScale = 2

var hundred = decimal.NewFromInt(100)

// FromMinor converts minor units to a decimal major amount.
func FromMinor(amount int64) decimal.Decimal {
	return decimal.New(amount, -MinorUnitScale)
}

// ToMinor rounds a major amount half away from zero and returns minor units.
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Round(MinorUnitScale).Shift(MinorUnitScale).IntPart()
}

// Percent returns amount * pct / 100 without rounding.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred)
}

// PercentInRange reports whether pct lies within [0, 100].
func PercentInRange(pct decimal.Decimal) bool {
	return !pct.IsNegative() && pct.LessThanOrEqual(hundred)
}
