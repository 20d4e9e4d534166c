package compare

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/baebong3/fruitbasket-legal/internal/calculator"
	"github.com/baebong3/fruitbasket-legal/internal/model"
)

type seasonalKey struct {
	item, market, monthDay string
}

// CompareSeasonal compares the same item (and market) on the same day of
// year across years, using the cross-market formula keyed by year instead
// of market. Groups spanning fewer than two years are omitted. When a year
// appears more than once in a group, the last entry wins.
func CompareSeasonal(aggs []model.Aggregate) []model.SeasonalComparison {
	groups := make(map[seasonalKey]map[int]model.Aggregate)
	for _, a := range aggs {
		k := seasonalKey{a.ItemCode, a.MarketCode, a.Date.Format("01-02")}
		if groups[k] == nil {
			groups[k] = make(map[int]model.Aggregate)
		}
		groups[k][a.Date.Year()] = a
	}

	keys := make([]seasonalKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.item != b.item {
			return a.item < b.item
		}
		if a.market != b.market {
			return a.market < b.market
		}
		return a.monthDay < b.monthDay
	})

	var out []model.SeasonalComparison
	for _, k := range keys {
		years := groups[k]
		if len(years) < 2 {
			continue
		}
		order := make([]int, 0, len(years))
		avgs := make([]decimal.Decimal, 0, len(years))
		for y, a := range years {
			order = append(order, y)
			avgs = append(avgs, a.Avg)
		}
		sort.Ints(order)
		mean, err := calculator.Mean(avgs)
		if err != nil || !mean.IsPositive() {
			continue
		}
		for _, y := range order {
			a := years[y]
			dev, _ := calculator.RelativeDeviation(a.Avg, mean)
			out = append(out, model.SeasonalComparison{
				ItemCode:      k.item,
				MarketCode:    k.market,
				MonthDay:      k.monthDay,
				Year:          y,
				Season:        model.SeasonOf(a.Date),
				Avg:           a.Avg,
				CrossYearMean: mean.Round(calculator.PricePlaces),
				Deviation:     dev.Round(deviationPlaces),
			})
		}
	}
	return out
}
