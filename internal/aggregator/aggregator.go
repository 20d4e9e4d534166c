package aggregator

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/baebong3/fruitbasket-legal/internal/calculator"
	"github.com/baebong3/fruitbasket-legal/internal/model"
)

type groupKey struct {
	item, market string
	date         time.Time
}

// Aggregate groups records by (item, date), or by (item, market, date) when
// byMarket is set, and summarises each group. The output does not depend on
// input order and is sorted by (item, market, date).
func Aggregate(records []model.NormalizedRecord, byMarket bool) []model.Aggregate {
	groups := make(map[groupKey][]decimal.Decimal)
	for _, r := range records {
		k := groupKey{item: r.ItemCode, date: r.Date}
		if byMarket {
			k.market = r.MarketCode
		}
		groups[k] = append(groups[k], r.Price)
	}

	out := make([]model.Aggregate, 0, len(groups))
	for k, prices := range groups {
		mean, err := calculator.Mean(prices)
		if err != nil {
			continue
		}
		low, high, _ := calculator.Extrema(prices)
		out = append(out, model.Aggregate{
			ItemCode:   k.item,
			MarketCode: k.market,
			Date:       k.date,
			Avg:        mean.Round(calculator.PricePlaces),
			Min:        low,
			Max:        high,
			Count:      len(prices),
		})
	}
	Sort(out)
	return out
}

// Sort orders aggregates by (item, market, date).
func Sort(aggs []model.Aggregate) {
	sort.Slice(aggs, func(i, j int) bool {
		a, b := aggs[i], aggs[j]
		if a.ItemCode != b.ItemCode {
			return a.ItemCode < b.ItemCode
		}
		if a.MarketCode != b.MarketCode {
			return a.MarketCode < b.MarketCode
		}
		return a.Date.Before(b.Date)
	})
}

// Both returns the item-level aggregates followed by the market-level ones.
func Both(records []model.NormalizedRecord) (items, markets []model.Aggregate) {
	return Aggregate(records, false), Aggregate(records, true)
}
