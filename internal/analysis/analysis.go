// Package analysis computes long-range statistics over committed daily
// aggregates: price spread, outliers, month-of-year patterns and yearly
// direction. Every function is pure; series are keyed by item and market,
// so item-level rows (market "") form their own series.
package analysis

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/baebong3/fruitbasket-legal/internal/model"
)

// percentPlaces is the rounding applied to percentages.
const percentPlaces = 1

var hundred = decimal.NewFromInt(100)

// groupSeries splits aggs into series ordered by item then market, each
// sorted by date.
func groupSeries(aggs []model.Aggregate) ([]model.SeriesKey, map[model.SeriesKey][]model.Aggregate) {
	groups := make(map[model.SeriesKey][]model.Aggregate)
	for _, a := range aggs {
		groups[a.SeriesKey()] = append(groups[a.SeriesKey()], a)
	}
	keys := make([]model.SeriesKey, 0, len(groups))
	for k, s := range groups {
		keys = append(keys, k)
		sort.SliceStable(s, func(i, j int) bool { return s[i].Date.Before(s[j].Date) })
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ItemCode != keys[j].ItemCode {
			return keys[i].ItemCode < keys[j].ItemCode
		}
		return keys[i].MarketCode < keys[j].MarketCode
	})
	return keys, groups
}

// percentOf returns (value - base) / base × 100. ok is false for a
// non-positive base.
func percentOf(value, base decimal.Decimal) (decimal.Decimal, bool) {
	if !base.IsPositive() {
		return decimal.Zero, false
	}
	return value.Sub(base).Div(base).Mul(hundred).Round(percentPlaces), true
}

func avgs(s []model.Aggregate) []decimal.Decimal {
	out := make([]decimal.Decimal, len(s))
	for i, a := range s {
		out[i] = a.Avg
	}
	return out
}

// spread returns the lowest Min and highest Max across s.
func spread(s []model.Aggregate) (low, high decimal.Decimal) {
	low, high = s[0].Min, s[0].Max
	for _, a := range s[1:] {
		if a.Min.LessThan(low) {
			low = a.Min
		}
		if a.Max.GreaterThan(high) {
			high = a.Max
		}
	}
	return low, high
}
