package external

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Conversion factors to inches, the canonical unit.
var (
	mmToInches = decimal.RequireFromString("0.0393701")
	thousand   = decimal.NewFromInt(1000)
)

// snowWaterRatio is the fraction of linear snow depth counted as rain.
var snowWaterRatio = decimal.RequireFromString("0.1")

// MillimetersToInches converts a millimetre amount to inches at full
// precision.
func MillimetersToInches(mm decimal.Decimal) decimal.Decimal {
	return mm.Mul(mmToInches)
}

// ToInches converts a value tagged with a WMO unit code (as used by
// api.weather.gov, e.g. "wmoUnit:mm") to inches.
func ToInches(value decimal.Decimal, unitCode string) (decimal.Decimal, error) {
	unit := strings.TrimPrefix(strings.TrimPrefix(unitCode, "wmoUnit:"), "unit:")
	switch unit {
	case "mm":
		return MillimetersToInches(value), nil
	case "m":
		return MillimetersToInches(value.Mul(thousand)), nil
	case "in":
		return value, nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported precipitation unit %q", unitCode)
	}
}
