package analysis

import (
	"github.com/shopspring/decimal"

	"github.com/baebong3/fruitbasket-legal/internal/calculator"
	"github.com/baebong3/fruitbasket-legal/internal/model"
)

// trendBand is how far the last year must move from the first to count as
// rising or falling.
var trendBand = decimal.RequireFromString("0.1")

// YearlyTrends returns one row per series and calendar year. YoYChange
// compares each year with the previous year present in the data. Every row
// of a series carries the same Direction: rising when the last year's
// average is more than 10% above the first, falling when more than 10%
// below, flat otherwise, and insufficient with a single year.
func YearlyTrends(aggs []model.Aggregate) []model.YearlyTrend {
	keys, groups := groupSeries(aggs)
	var out []model.YearlyTrend
	for _, k := range keys {
		var years [][]model.Aggregate
		for _, a := range groups[k] {
			if n := len(years); n > 0 && years[n-1][0].Date.Year() == a.Date.Year() {
				years[n-1] = append(years[n-1], a)
				continue
			}
			years = append(years, []model.Aggregate{a})
		}

		rows := make([]model.YearlyTrend, 0, len(years))
		for i, s := range years {
			mean, _ := calculator.Mean(avgs(s))
			low, high := spread(s)
			row := model.YearlyTrend{
				ItemCode:   k.ItemCode,
				MarketCode: k.MarketCode,
				Year:       s[0].Date.Year(),
				Days:       len(s),
				Avg:        mean.Round(calculator.PricePlaces),
				Min:        low,
				Max:        high,
			}
			if i > 0 {
				if pct, ok := percentOf(row.Avg, rows[i-1].Avg); ok {
					row.YoYChange = decimal.NewNullDecimal(pct)
				}
			}
			rows = append(rows, row)
		}

		dir := direction(rows[0].Avg, rows[len(rows)-1].Avg, len(rows))
		for i := range rows {
			rows[i].Direction = dir
		}
		out = append(out, rows...)
	}
	return out
}

func direction(first, last decimal.Decimal, years int) model.TrendDirection {
	if years < 2 {
		return model.DirectionInsufficient
	}
	one := decimal.NewFromInt(1)
	switch {
	case last.GreaterThan(first.Mul(one.Add(trendBand))):
		return model.DirectionRising
	case last.LessThan(first.Mul(one.Sub(trendBand))):
		return model.DirectionFalling
	default:
		return model.DirectionFlat
	}
}
