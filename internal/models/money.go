package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorUnits is the number of decimal places stored in *_cents fields.
const MinorUnits = 2

// ParseAmount converts a decimal string ("12.5", "-3.07") to minor units.
// More than MinorUnits fractional digits is an error rather than rounding.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	shifted := d.Shift(MinorUnits)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("invalid amount %q: at most %d decimal places", s, MinorUnits)
	}
	return shifted.IntPart(), nil
}

// FormatAmount renders minor units as a fixed two-decimal string.
func FormatAmount(cents int64) string {
	return decimal.New(cents, -MinorUnits).StringFixed(MinorUnits)
}
