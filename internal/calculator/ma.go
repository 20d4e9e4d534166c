package calculator

import (
	"errors"

	"github.com/shopspring/decimal"
)

// PricePlaces is the number of decimal places prices and averages are rounded to.
const PricePlaces = 2

// CalculateSMA computes the simple moving average of the last period prices.
// The result is not rounded.
func CalculateSMA(prices []decimal.Decimal, period int) (decimal.Decimal, error) {
	if period <= 0 {
		return decimal.Zero, errors.New("period must be positive")
	}
	if len(prices) < period {
		return decimal.Zero, errors.New("not enough data for SMA calculation")
	}
	return Mean(prices[len(prices)-period:])
}

// Mean returns the arithmetic mean of values.
func Mean(values []decimal.Decimal) (decimal.Decimal, error) {
	if len(values) == 0 {
		return decimal.Zero, errors.New("no values provided")
	}
	return decimal.Sum(values[0], values[1:]...).Div(decimal.NewFromInt(int64(len(values)))), nil
}

// RelativeDeviation returns (value - base) / base.
func RelativeDeviation(value, base decimal.Decimal) (decimal.Decimal, error) {
	if base.IsZero() {
		return decimal.Zero, errors.New("base must be non-zero")
	}
	return value.Sub(base).Div(base), nil
}
