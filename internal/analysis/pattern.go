package analysis

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/baebong3/fruitbasket-legal/internal/calculator"
	"github.com/baebong3/fruitbasket-legal/internal/model"
)

var seasonOrder = []model.Season{model.SeasonSpring, model.SeasonSummer, model.SeasonAutumn, model.SeasonWinter}

type monthStat struct {
	avg, min, max decimal.Decimal
}

// SeasonalPatterns profiles each series by calendar month, pooling the same
// month across years. A season's average is the mean of its monthly
// averages. Peak and low months are picked by monthly average with ties
// going to the earlier month; GapPct is the peak's rise over the low.
func SeasonalPatterns(aggs []model.Aggregate) []model.SeasonalPattern {
	keys, groups := groupSeries(aggs)
	out := make([]model.SeasonalPattern, 0, len(keys))
	for _, k := range keys {
		byMonth := make(map[time.Month][]model.Aggregate)
		for _, a := range groups[k] {
			byMonth[a.Date.Month()] = append(byMonth[a.Date.Month()], a)
		}

		months := make(map[time.Month]monthStat, len(byMonth))
		p := model.SeasonalPattern{ItemCode: k.ItemCode, MarketCode: k.MarketCode}
		first := true
		for m := time.January; m <= time.December; m++ {
			s, ok := byMonth[m]
			if !ok {
				continue
			}
			mean, _ := calculator.Mean(avgs(s))
			low, high := spread(s)
			ms := monthStat{avg: mean.Round(calculator.PricePlaces), min: low, max: high}
			months[m] = ms
			if first || ms.avg.GreaterThan(p.PeakPrice) {
				p.PeakMonth, p.PeakPrice = m, ms.avg
			}
			if first || ms.avg.LessThan(p.LowPrice) {
				p.LowMonth, p.LowPrice = m, ms.avg
			}
			first = false
		}
		if first {
			continue
		}

		for _, season := range seasonOrder {
			var st *model.SeasonStat
			var monthAvgs []decimal.Decimal
			for m := time.January; m <= time.December; m++ {
				ms, ok := months[m]
				if !ok || model.SeasonOfMonth(m) != season {
					continue
				}
				monthAvgs = append(monthAvgs, ms.avg)
				if st == nil {
					st = &model.SeasonStat{Season: season, Min: ms.min, Max: ms.max}
					continue
				}
				if ms.min.LessThan(st.Min) {
					st.Min = ms.min
				}
				if ms.max.GreaterThan(st.Max) {
					st.Max = ms.max
				}
			}
			if st == nil {
				continue
			}
			mean, _ := calculator.Mean(monthAvgs)
			st.Avg = mean.Round(calculator.PricePlaces)
			p.Seasons = append(p.Seasons, *st)
		}

		p.GapPct, _ = percentOf(p.PeakPrice, p.LowPrice)
		out = append(out, p)
	}
	return out
}
