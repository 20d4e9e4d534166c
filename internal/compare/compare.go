package compare

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/baebong3/fruitbasket-legal/internal/calculator"
	"github.com/baebong3/fruitbasket-legal/internal/model"
)

const deviationPlaces = 4

// Compare computes each market's deviation from the cross-market mean.
// aggs must share one item and date with one entry per market. Fewer than
// two markets yields an empty result.
func Compare(aggs []model.Aggregate) []model.MarketComparison {
	if len(aggs) < 2 {
		return nil
	}
	avgs := make([]decimal.Decimal, len(aggs))
	for i, a := range aggs {
		avgs[i] = a.Avg
	}
	mean, err := calculator.Mean(avgs)
	if err != nil || !mean.IsPositive() {
		return nil
	}

	out := make([]model.MarketComparison, 0, len(aggs))
	for _, a := range aggs {
		dev, _ := calculator.RelativeDeviation(a.Avg, mean)
		out = append(out, model.MarketComparison{
			ItemCode:        a.ItemCode,
			Date:            a.Date,
			MarketCode:      a.MarketCode,
			MarketAvg:       a.Avg,
			CrossMarketMean: mean.Round(calculator.PricePlaces),
			Deviation:       dev.Round(deviationPlaces),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketCode < out[j].MarketCode })
	return out
}

type itemDate struct {
	item string
	date time.Time
}

// CompareAll groups market-level aggregates by (item, date) and compares
// each group. Item-level aggregates are ignored.
func CompareAll(aggs []model.Aggregate) []model.MarketComparison {
	groups := make(map[itemDate][]model.Aggregate)
	var keys []itemDate
	for _, a := range aggs {
		if a.MarketCode == model.AllMarkets {
			continue
		}
		k := itemDate{a.ItemCode, a.Date}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], a)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].item != keys[j].item {
			return keys[i].item < keys[j].item
		}
		return keys[i].date.Before(keys[j].date)
	})

	var out []model.MarketComparison
	for _, k := range keys {
		out = append(out, Compare(groups[k])...)
	}
	return out
}
