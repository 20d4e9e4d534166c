package analysis

import (
	"sort"

	"github.com/baebong3/fruitbasket-legal/internal/calculator"
	"github.com/baebong3/fruitbasket-legal/internal/model"
)

// PriceRanges returns the low/high spread of every series in aggs, widest
// relative spread first. RangePct is zero when the mean is not positive.
func PriceRanges(aggs []model.Aggregate) []model.PriceRange {
	keys, groups := groupSeries(aggs)
	out := make([]model.PriceRange, 0, len(keys))
	for _, k := range keys {
		s := groups[k]
		mean, err := calculator.Mean(avgs(s))
		if err != nil {
			continue
		}
		mean = mean.Round(calculator.PricePlaces)
		low, high := spread(s)
		r := model.PriceRange{
			ItemCode:   k.ItemCode,
			MarketCode: k.MarketCode,
			Days:       len(s),
			Min:        low,
			Max:        high,
			Mean:       mean,
			Range:      high.Sub(low),
		}
		if mean.IsPositive() {
			r.RangePct = r.Range.Div(mean).Mul(hundred).Round(percentPlaces)
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RangePct.GreaterThan(out[j].RangePct) })
	return out
}
