package analysis

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/baebong3/fruitbasket-legal/internal/calculator"
	"github.com/baebong3/fruitbasket-legal/internal/model"
)

// Default thresholds: the IQR fence multiplier and the |z| cutoff.
const (
	DefaultIQRMultiplier = 1.5
	DefaultZThreshold    = 2.0
)

// minOutlierDays is the shortest series that is tested for outliers.
const minOutlierDays = 3

const zPlaces = 2

// Outliers flags days whose average lies outside the fences of its series.
//
// With OutlierIQR the fences are Q1 - k·IQR and Q3 + k·IQR; with
// OutlierZScore they are mean ± k·σ (sample σ), so a day is flagged when
// |z| > k. Series shorter than three days, and z-score series with no
// variance, are skipped. The result is ordered by price, highest first.
func Outliers(aggs []model.Aggregate, method model.OutlierMethod, k float64) ([]model.Outlier, error) {
	if k <= 0 {
		return nil, eris.Errorf("analysis: outlier threshold must be positive, got %v", k)
	}
	if method != model.OutlierIQR && method != model.OutlierZScore {
		return nil, eris.Errorf("analysis: unknown outlier method %q", method)
	}
	mult := decimal.NewFromFloat(k)

	keys, groups := groupSeries(aggs)
	var out []model.Outlier
	for _, key := range keys {
		s := groups[key]
		if len(s) < minOutlierDays {
			continue
		}
		prices := avgs(s)

		var lower, upper, mean, sd decimal.Decimal
		switch method {
		case model.OutlierIQR:
			q1, _ := calculator.Quantile(prices, 0.25)
			q3, _ := calculator.Quantile(prices, 0.75)
			fence := q3.Sub(q1).Mul(mult)
			lower, upper = q1.Sub(fence), q3.Add(fence)
		case model.OutlierZScore:
			mean, _ = calculator.Mean(prices)
			sd, _ = calculator.StdDev(prices)
			if sd.IsZero() {
				continue
			}
			lower, upper = mean.Sub(sd.Mul(mult)), mean.Add(sd.Mul(mult))
		}

		for _, a := range s {
			if !a.Avg.LessThan(lower) && !a.Avg.GreaterThan(upper) {
				continue
			}
			o := model.Outlier{
				ItemCode:   a.ItemCode,
				MarketCode: a.MarketCode,
				Date:       a.Date,
				Price:      a.Avg,
				Method:     method,
				Side:       model.OutlierHigh,
				Lower:      lower.Round(calculator.PricePlaces),
				Upper:      upper.Round(calculator.PricePlaces),
			}
			if a.Avg.LessThan(lower) {
				o.Side = model.OutlierLow
			}
			if method == model.OutlierZScore {
				o.ZScore = a.Avg.Sub(mean).Div(sd).Round(zPlaces)
			}
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Price.GreaterThan(out[j].Price) })
	return out, nil
}

// AllOutliers runs both methods with their default thresholds.
func AllOutliers(aggs []model.Aggregate) []model.Outlier {
	iqr, _ := Outliers(aggs, model.OutlierIQR, DefaultIQRMultiplier)
	z, _ := Outliers(aggs, model.OutlierZScore, DefaultZThreshold)
	return append(iqr, z...)
}
