package calculator

import (
	"errors"
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// Quantile returns the q-quantile of values, interpolating linearly between
// the two nearest ranks.
func Quantile(values []decimal.Decimal, q float64) (decimal.Decimal, error) {
	if len(values) == 0 {
		return decimal.Zero, errors.New("no values provided")
	}
	if q < 0 || q > 1 {
		return decimal.Zero, errors.New("quantile must be within [0, 1]")
	}
	sorted := append([]decimal.Decimal(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	pos := decimal.NewFromFloat(q).Mul(decimal.NewFromInt(int64(len(sorted) - 1)))
	lo := int(pos.IntPart())
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1], nil
	}
	frac := pos.Sub(decimal.NewFromInt(int64(lo)))
	return sorted[lo].Add(sorted[lo+1].Sub(sorted[lo]).Mul(frac)), nil
}

// StdDev returns the sample standard deviation of values (n-1 denominator).
// The square root is taken in float64.
func StdDev(values []decimal.Decimal) (decimal.Decimal, error) {
	if len(values) < 2 {
		return decimal.Zero, errors.New("at least two values required")
	}
	mean, err := Mean(values)
	if err != nil {
		return decimal.Zero, err
	}
	var ss decimal.Decimal
	for _, v := range values {
		d := v.Sub(mean)
		ss = ss.Add(d.Mul(d))
	}
	variance := ss.Div(decimal.NewFromInt(int64(len(values) - 1)))
	return decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64())), nil
}
