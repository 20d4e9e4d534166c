package trend

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baebong3/fruitbasket-legal/internal/model"
)

var day0 = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func agg(offset int, avg string) model.Aggregate {
	return model.Aggregate{
		ItemCode: "111",
		Date:     day0.AddDate(0, 0, offset),
		Avg:      decimal.RequireFromString(avg),
		Count:    1,
	}
}

func flatHistory(days int, avg string) []model.Aggregate {
	out := make([]model.Aggregate, days)
	for i := range out {
		out[i] = agg(i-days, avg)
	}
	return out
}

func defaultAnalyzer() *Analyzer {
	return NewAnalyzer(0, decimal.Zero, nil)
}

func TestAnalyze_SurgeScenario(t *testing.T) {
	res := defaultAnalyzer().Analyze(agg(0, "66000"), flatHistory(7, "50000"))

	assert.Equal(t, model.LabelSurge, res.Label)
	assert.True(t, res.Anomaly)
	assert.Equal(t, "50000", res.MovingAverage.String())
	assert.Equal(t, "1.32", res.Ratio.String())
	assert.Equal(t, "0.32", res.Deviation.String())
	assert.Equal(t, 7, res.HistoryDays)
}

func TestAnalyze_Boundaries(t *testing.T) {
	tests := []struct {
		avg   string
		label model.TrendLabel
	}{
		{"100000", model.LabelSurge},
		{"65000", model.LabelSurge}, // 1.30
		{"64999", model.LabelHigh},
		{"55000", model.LabelHigh}, // 1.10
		{"54999", model.LabelNormal},
		{"50000", model.LabelNormal},
		{"40001", model.LabelNormal},
		{"40000", model.LabelCheap}, // 0.80
		{"30001", model.LabelCheap},
		{"30000", model.LabelDrop}, // 0.60
		{"1", model.LabelDrop},
	}
	a := defaultAnalyzer()
	hist := flatHistory(7, "50000")
	for _, tt := range tests {
		res := a.Analyze(agg(0, tt.avg), hist)
		assert.Equal(t, tt.label, res.Label, "avg %s", tt.avg)
	}
}

func TestAnalyze_AnomalyIndependentOfLabel(t *testing.T) {
	a := defaultAnalyzer()
	hist := flatHistory(7, "50000")

	high := a.Analyze(agg(0, "58000"), hist) // +16%
	assert.Equal(t, model.LabelHigh, high.Label)
	assert.False(t, high.Anomaly)

	edge := a.Analyze(agg(0, "60000"), hist) // exactly +20%
	assert.False(t, edge.Anomaly)

	cheap := a.Analyze(agg(0, "39000"), hist) // -22%
	assert.Equal(t, model.LabelCheap, cheap.Label)
	assert.True(t, cheap.Anomaly)

	strict := NewAnalyzer(7, decimal.RequireFromString("0.05"), nil)
	res := strict.Analyze(agg(0, "53000"), hist)
	assert.Equal(t, model.LabelNormal, res.Label)
	assert.True(t, res.Anomaly)
}

func TestAnalyze_InsufficientHistory(t *testing.T) {
	a := defaultAnalyzer()
	for n := 0; n < 7; n++ {
		res := a.Analyze(agg(0, "66000"), flatHistory(n, "50000"))
		assert.Equal(t, model.LabelInsufficientHistory, res.Label, "n=%d", n)
		assert.False(t, res.Anomaly)
		assert.True(t, res.MovingAverage.IsZero())
		assert.Equal(t, n, res.HistoryDays)
	}
	res := a.Analyze(agg(0, "66000"), flatHistory(7, "50000"))
	assert.True(t, res.Label.Classified())
}

func TestAnalyze_IgnoresCurrentAndLaterEntries(t *testing.T) {
	hist := append(flatHistory(6, "50000"), agg(0, "66000"), agg(1, "70000"))
	res := defaultAnalyzer().Analyze(agg(0, "66000"), hist)
	assert.Equal(t, model.LabelInsufficientHistory, res.Label)
}

func TestAnalyze_UsesTrailingWindow(t *testing.T) {
	hist := append(flatHistory(3, "10"), flatHistory(7, "50000")...)
	// Re-date so the ten entries are consecutive days before day0.
	for i := range hist {
		hist[i].Date = day0.AddDate(0, 0, i-len(hist))
	}
	res := defaultAnalyzer().Analyze(agg(0, "50000"), hist)
	assert.Equal(t, "50000", res.MovingAverage.String())
	assert.Equal(t, 10, res.HistoryDays)
}

func TestAnalyze_DoesNotMutateHistory(t *testing.T) {
	hist := flatHistory(7, "50000")
	before := append([]model.Aggregate(nil), hist...)
	defaultAnalyzer().Analyze(agg(0, "66000"), hist)
	assert.Equal(t, before, hist)
}

func TestAnalyze_TotalOverPositiveRatios(t *testing.T) {
	a := defaultAnalyzer()
	hist := flatHistory(7, "1000")
	for avg := int64(1); avg <= 3000; avg += 7 {
		res := a.Analyze(agg(0, decimal.NewFromInt(avg).String()), hist)
		switch res.Label {
		case model.LabelSurge, model.LabelHigh, model.LabelNormal, model.LabelCheap, model.LabelDrop:
		default:
			t.Fatalf("avg %d: unexpected label %q", avg, res.Label)
		}
	}
}

func TestAnalyzeSeries_UsesEarlierRunDates(t *testing.T) {
	prior := flatHistory(6, "50000")
	series := []model.Aggregate{agg(1, "66000"), agg(0, "50000")}

	out := defaultAnalyzer().AnalyzeSeries(series, prior)
	require.Len(t, out, 2)
	assert.True(t, out[0].Date.Equal(day0))
	assert.Equal(t, model.LabelInsufficientHistory, out[0].Label)
	assert.Equal(t, model.LabelSurge, out[1].Label)
	assert.True(t, out[1].Anomaly)
}

func TestClassify_CustomLevels(t *testing.T) {
	levels, err := LevelsFromConfig([]LevelConfig{
		{Bound: 1.5, Inclusive: true, Label: "surge"},
		{Bound: 0.5, Inclusive: false, Label: "normal"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.LabelSurge, Classify(levels, decimal.RequireFromString("1.5")))
	assert.Equal(t, model.LabelNormal, Classify(levels, decimal.RequireFromString("1.4")))
	assert.Equal(t, model.LabelDrop, Classify(levels, decimal.RequireFromString("0.5")))
}

func TestLevelsFromConfig_Rejects(t *testing.T) {
	_, err := LevelsFromConfig([]LevelConfig{{Bound: 1, Label: "sideways"}})
	assert.Error(t, err)

	_, err = LevelsFromConfig([]LevelConfig{{Bound: 1, Label: "high"}, {Bound: 1.2, Label: "surge"}})
	assert.Error(t, err)

	levels, err := LevelsFromConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultLevels, levels)
}
