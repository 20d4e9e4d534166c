package calculator

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Extrema scans values and returns the lowest and highest.
func Extrema(values []decimal.Decimal) (low, high decimal.Decimal, err error) {
	if len(values) == 0 {
		return decimal.Zero, decimal.Zero, errors.New("no values provided")
	}
	low, high = values[0], values[0]
	for _, v := range values[1:] {
		if v.LessThan(low) {
			low = v
		}
		if v.GreaterThan(high) {
			high = v
		}
	}
	return low, high, nil
}
