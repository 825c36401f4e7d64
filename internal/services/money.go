package services

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// DefaultCurrency is used when requests omit a currency.
const DefaultCurrency = "USD"

const defaultMinorUnitScale = 2

// MaxItemPriceCents caps a single line price. With the item and quantity caps the subtotal stays far
// below the int64 range even after tax.
const MaxItemPriceCents int64 = 1_000_000_000_000

var (
	maxMinorUnits = decimal.NewFromInt(math.MaxInt64)
	minMinorUnits = decimal.NewFromInt(math.MinInt64)
)

// NormalizeCurrency upper-cases a currency code and falls back to DefaultCurrency when empty. Unknown
// ISO codes are rejected.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return DefaultCurrency, nil
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("%w: unsupported currency %q", ErrOrderInvalidInput, code)
	}
	return unit.String(), nil
}

// MinorUnitScale returns the number of decimal places of the currency's minor unit.
func MinorUnitScale(code string) int32 {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return defaultMinorUnitScale
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// ToMinorUnits converts a major-unit amount, rounding half away from zero at the currency's scale.
// Amounts outside the int64 range saturate so validation rejects them instead of seeing a wrapped
// value.
func ToMinorUnits(amount decimal.Decimal, code string) int64 {
	return clampMinorUnits(amount.Shift(MinorUnitScale(code)).Round(0))
}

func clampMinorUnits(d decimal.Decimal) int64 {
	switch {
	case d.GreaterThan(maxMinorUnits):
		return math.MaxInt64
	case d.LessThan(minMinorUnits):
		return math.MinInt64
	default:
		return d.IntPart()
	}
}

// FromMinorUnits converts minor units back to a major-unit decimal.
func FromMinorUnits(minor int64, code string) decimal.Decimal {
	return decimal.New(minor, -MinorUnitScale(code))
}

// FormatMajor renders minor units as a fixed-point major-unit string, e.g. 5000 USD as "50.00".
func FormatMajor(minor int64, code string) string {
	return FromMinorUnits(minor, code).StringFixed(MinorUnitScale(code))
}
