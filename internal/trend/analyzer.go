package trend

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/baebong3/fruitbasket-legal/internal/calculator"
	"github.com/baebong3/fruitbasket-legal/internal/model"
)

// DefaultWindow is the number of prior daily aggregates in the moving average.
const DefaultWindow = 7

// DefaultAnomalyThreshold flags averages more than 20% away from the moving average.
var DefaultAnomalyThreshold = decimal.RequireFromString("0.20")

// ErrInsufficientHistory means fewer than Window prior aggregates exist.
// It is reported as a label, never as a run failure.
var ErrInsufficientHistory = errors.New("trend: insufficient history")

// Analyzer classifies aggregates against their trailing moving average.
// The anomaly threshold and the level table are tuned independently.
type Analyzer struct {
	Window           int
	AnomalyThreshold decimal.Decimal
	Levels           []Level
}

// NewAnalyzer returns an Analyzer, filling unset values with defaults.
func NewAnalyzer(window int, threshold decimal.Decimal, levels []Level) *Analyzer {
	if window <= 0 {
		window = DefaultWindow
	}
	if !threshold.IsPositive() {
		threshold = DefaultAnomalyThreshold
	}
	if len(levels) == 0 {
		levels = DefaultLevels
	}
	return &Analyzer{Window: window, AnomalyThreshold: threshold, Levels: levels}
}

// MovingAverage returns the mean of the last Window history entries dated
// strictly before current, and how many prior entries exist.
func (a *Analyzer) MovingAverage(current model.Aggregate, history []model.Aggregate) (decimal.Decimal, int, error) {
	prior := make([]decimal.Decimal, 0, len(history))
	for _, h := range history {
		if h.Date.Before(current.Date) {
			prior = append(prior, h.Avg)
		}
	}
	if len(prior) < a.Window {
		return decimal.Zero, len(prior), ErrInsufficientHistory
	}
	ma, err := calculator.CalculateSMA(prior, a.Window)
	return ma, len(prior), err
}

// Analyze classifies current against history, which must be ordered
// most-recent-last. history is not modified.
func (a *Analyzer) Analyze(current model.Aggregate, history []model.Aggregate) model.TrendResult {
	res := model.TrendResult{
		ItemCode:   current.ItemCode,
		MarketCode: current.MarketCode,
		Date:       current.Date,
		Avg:        current.Avg,
	}

	ma, n, err := a.MovingAverage(current, history)
	res.HistoryDays = n
	if err != nil || !ma.IsPositive() {
		res.Label = model.LabelInsufficientHistory
		return res
	}

	deviation, _ := calculator.RelativeDeviation(current.Avg, ma)
	res.Anomaly = deviation.Abs().GreaterThan(a.AnomalyThreshold)

	ratio := current.Avg.Div(ma)
	res.Label = Classify(a.Levels, ratio)
	res.MovingAverage = ma.Round(calculator.PricePlaces)
	res.Ratio = ratio.Round(4)
	res.Deviation = deviation.Round(4)
	return res
}

// AnalyzeSeries analyses every aggregate of one series. Each aggregate sees
// prior plus the series entries dated before it; on a date present in both,
// the series entry wins. Results are in date order.
func (a *Analyzer) AnalyzeSeries(series, prior []model.Aggregate) []model.TrendResult {
	byDate := make(map[int64]model.Aggregate, len(series)+len(prior))
	for _, h := range prior {
		byDate[h.Date.Unix()] = h
	}
	for _, s := range series {
		byDate[s.Date.Unix()] = s
	}
	merged := make([]model.Aggregate, 0, len(byDate))
	for _, v := range byDate {
		merged = append(merged, v)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Date.Before(merged[j].Date) })

	ordered := append([]model.Aggregate(nil), series...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Date.Before(ordered[j].Date) })

	out := make([]model.TrendResult, 0, len(ordered))
	for _, cur := range ordered {
		out = append(out, a.Analyze(cur, merged))
	}
	return out
}
