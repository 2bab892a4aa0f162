package gateway

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// minorUnitFactor is the number of minor units per major unit. Providers
// exchange amounts in cents; the canonical model uses decimal major units.
var minorUnitFactor = decimal.NewFromInt(100)

// ToMinorUnits converts a canonical major-unit amount to provider minor
// units. It fails on amounts with sub-minor-unit precision (e.g. 9.999)
// rather than rounding silently.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	minor := amount.Mul(minorUnitFactor)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %s has sub-minor-unit precision", amount.String())
	}
	return minor.IntPart(), nil
}

// FromMinorUnits converts a provider minor-unit amount to the canonical
// major-unit decimal. Exact: FromMinorUnits(n) == n/100 with no float
// arithmetic involved.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(minorUnitFactor)
}
