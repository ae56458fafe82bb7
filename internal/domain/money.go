package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

var minorPerMajor = decimal.NewFromInt(100)

// ToMinorUnits converts a major-unit amount to the integer the gateway transacts in.
// Sub-minor fractions are rounded half away from zero.
func ToMinorUnits(major decimal.Decimal) int64 {
	return major.Mul(minorPerMajor).Round(0).IntPart()
}

func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// NormalizeCurrency validates an ISO-4217 code and returns its canonical upper-case form.
func NormalizeCurrency(code string) (string, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("unsupported currency %q: %w", code, err)
	}
	return unit.String(), nil
}
