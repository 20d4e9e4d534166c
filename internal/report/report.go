// Package report exports pipeline output to an Excel workbook.
package report

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/baebong3/fruitbasket-legal/internal/analysis"
	"github.com/baebong3/fruitbasket-legal/internal/calculator"
	"github.com/baebong3/fruitbasket-legal/internal/compare"
	"github.com/baebong3/fruitbasket-legal/internal/model"
	"github.com/baebong3/fruitbasket-legal/internal/store"
)

// Sheet names, in workbook order.
const (
	SheetSummary    = "Summary"
	SheetAggregates = "Aggregates"
	SheetStats      = "Stats"
	SheetTrends     = "Trends"
	SheetAnomalies  = "Anomalies"
	SheetMarkets    = "Markets"
	SheetSeasonal   = "Seasonal"
	SheetRanges     = "Ranges"
	SheetOutliers   = "Outliers"
	SheetPatterns   = "Patterns"
	SheetYearly     = "Yearly"
)

// Workbook is the data one export writes. Run is optional.
type Workbook struct {
	Run         *model.RunReport
	Aggregates  []model.Aggregate
	Trends      []model.TrendResult
	Comparisons []model.MarketComparison
	Seasonal    []model.SeasonalComparison

	Ranges   []model.PriceRange
	Outliers []model.Outlier
	Patterns []model.SeasonalPattern
	Yearly   []model.YearlyTrend
}

// WithAnalyses fills the long-range sheets from w.Aggregates.
func (w Workbook) WithAnalyses() Workbook {
	w.Ranges = analysis.PriceRanges(w.Aggregates)
	w.Outliers = analysis.AllOutliers(w.Aggregates)
	w.Patterns = analysis.SeasonalPatterns(w.Aggregates)
	w.Yearly = analysis.YearlyTrends(w.Aggregates)
	return w
}

// ItemStats summarises one item over the exported range.
type ItemStats struct {
	ItemCode string
	Days     int
	Mean     decimal.Decimal
	Low      decimal.Decimal
	High     decimal.Decimal
}

// Stats computes per-item statistics over the item-level aggregates.
func Stats(aggs []model.Aggregate) []ItemStats {
	byItem := make(map[string][]decimal.Decimal)
	for _, a := range aggs {
		if a.MarketCode == model.AllMarkets {
			byItem[a.ItemCode] = append(byItem[a.ItemCode], a.Avg)
		}
	}
	out := make([]ItemStats, 0, len(byItem))
	for item, avgs := range byItem {
		mean, err := calculator.Mean(avgs)
		if err != nil {
			continue
		}
		low, high, _ := calculator.Extrema(avgs)
		out = append(out, ItemStats{
			ItemCode: item,
			Days:     len(avgs),
			Mean:     mean.Round(calculator.PricePlaces),
			Low:      low,
			High:     high,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemCode < out[j].ItemCode })
	return out
}

func num(d decimal.Decimal) float64 { return d.InexactFloat64() }

func day(t time.Time) string { return t.Format(model.DateLayout) }

func market(code string) string {
	if code == model.AllMarkets {
		return "all"
	}
	return code
}

// Build lays the workbook out in a new excelize file.
func Build(w Workbook) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), SheetSummary); err != nil {
		f.Close()
		return nil, eris.Wrap(err, "report: rename first sheet")
	}

	sheets := []struct {
		name   string
		header []any
		rows   [][]any
	}{
		{SheetSummary, []any{"Field", "Value"}, summaryRows(w.Run)},
		{SheetAggregates, []any{"Item", "Market", "Date", "Avg", "Min", "Max", "Count"}, aggregateRows(w.Aggregates)},
		{SheetStats, []any{"Item", "Days", "Mean", "Low", "High"}, statsRows(Stats(w.Aggregates))},
		{SheetTrends, []any{"Item", "Market", "Date", "Avg", "MA", "Ratio", "Deviation", "Label", "Anomaly", "History days"}, trendRows(w.Trends, false)},
		{SheetAnomalies, []any{"Item", "Market", "Date", "Avg", "MA", "Ratio", "Deviation", "Label", "Anomaly", "History days"}, trendRows(w.Trends, true)},
		{SheetMarkets, []any{"Item", "Date", "Market", "Market avg", "Cross-market mean", "Deviation"}, comparisonRows(w.Comparisons)},
		{SheetSeasonal, []any{"Item", "Market", "Month-day", "Year", "Season", "Avg", "Cross-year mean", "Deviation"}, seasonalRows(w.Seasonal)},
		{SheetRanges, []any{"Item", "Market", "Days", "Min", "Max", "Mean", "Range", "Range %"}, rangeRows(w.Ranges)},
		{SheetOutliers, []any{"Item", "Market", "Date", "Price", "Method", "Side", "Lower", "Upper", "Z-score"}, outlierRows(w.Outliers)},
		{SheetPatterns, []any{"Item", "Market", "Season", "Avg", "Min", "Max", "Peak month", "Peak price", "Low month", "Low price", "Gap %"}, patternRows(w.Patterns)},
		{SheetYearly, []any{"Item", "Market", "Year", "Days", "Avg", "Min", "Max", "YoY %", "Direction"}, yearlyRows(w.Yearly)},
	}
	for _, s := range sheets {
		if s.name != SheetSummary {
			if _, err := f.NewSheet(s.name); err != nil {
				f.Close()
				return nil, eris.Wrapf(err, "report: create sheet %s", s.name)
			}
		}
		if err := writeRows(f, s.name, append([][]any{s.header}, s.rows...)); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return eris.Wrap(err, "report: cell name")
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return eris.Wrapf(err, "report: write %s row %d", sheet, i+1)
		}
	}
	return nil
}

func summaryRows(rep *model.RunReport) [][]any {
	if rep == nil {
		return nil
	}
	return [][]any{
		{"Run ID", rep.RunID},
		{"Interval", rep.Interval},
		{"Outcome", rep.Outcome()},
		{"Started", rep.StartedAt.Format(time.RFC3339)},
		{"Finished", rep.FinishedAt.Format(time.RFC3339)},
		{"Pages fetched", rep.PagesFetched},
		{"Raw records", rep.RawCount},
		{"Cleaned records", rep.CleanedCount},
		{"Normalized records", rep.Normalized},
		{"Aggregates", rep.Aggregates},
		{"Anomalies", len(rep.Anomalies)},
		{"Dropped", rep.Drops.String()},
	}
}

func aggregateRows(aggs []model.Aggregate) [][]any {
	rows := make([][]any, 0, len(aggs))
	for _, a := range aggs {
		rows = append(rows, []any{a.ItemCode, market(a.MarketCode), day(a.Date), num(a.Avg), num(a.Min), num(a.Max), a.Count})
	}
	return rows
}

func statsRows(stats []ItemStats) [][]any {
	rows := make([][]any, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, []any{s.ItemCode, s.Days, num(s.Mean), num(s.Low), num(s.High)})
	}
	return rows
}

func trendRows(trends []model.TrendResult, anomaliesOnly bool) [][]any {
	var rows [][]any
	for _, t := range trends {
		if anomaliesOnly && !t.Anomaly {
			continue
		}
		rows = append(rows, []any{
			t.ItemCode, market(t.MarketCode), day(t.Date), num(t.Avg), num(t.MovingAverage),
			num(t.Ratio), num(t.Deviation), string(t.Label), t.Anomaly, t.HistoryDays,
		})
	}
	return rows
}

func comparisonRows(cs []model.MarketComparison) [][]any {
	rows := make([][]any, 0, len(cs))
	for _, c := range cs {
		rows = append(rows, []any{c.ItemCode, day(c.Date), c.MarketCode, num(c.MarketAvg), num(c.CrossMarketMean), num(c.Deviation)})
	}
	return rows
}

func seasonalRows(ss []model.SeasonalComparison) [][]any {
	rows := make([][]any, 0, len(ss))
	for _, s := range ss {
		rows = append(rows, []any{s.ItemCode, market(s.MarketCode), s.MonthDay, s.Year, string(s.Season), num(s.Avg), num(s.CrossYearMean), num(s.Deviation)})
	}
	return rows
}

func rangeRows(rs []model.PriceRange) [][]any {
	rows := make([][]any, 0, len(rs))
	for _, r := range rs {
		rows = append(rows, []any{r.ItemCode, market(r.MarketCode), r.Days, num(r.Min), num(r.Max), num(r.Mean), num(r.Range), num(r.RangePct)})
	}
	return rows
}

func outlierRows(outs []model.Outlier) [][]any {
	rows := make([][]any, 0, len(outs))
	for _, o := range outs {
		var z any
		if o.Method == model.OutlierZScore {
			z = num(o.ZScore)
		}
		rows = append(rows, []any{
			o.ItemCode, market(o.MarketCode), day(o.Date), num(o.Price),
			string(o.Method), string(o.Side), num(o.Lower), num(o.Upper), z,
		})
	}
	return rows
}

// patternRows writes one row per season; the month columns repeat per series.
func patternRows(ps []model.SeasonalPattern) [][]any {
	var rows [][]any
	for _, p := range ps {
		for _, s := range p.Seasons {
			rows = append(rows, []any{
				p.ItemCode, market(p.MarketCode), string(s.Season), num(s.Avg), num(s.Min), num(s.Max),
				int(p.PeakMonth), num(p.PeakPrice), int(p.LowMonth), num(p.LowPrice), num(p.GapPct),
			})
		}
	}
	return rows
}

func yearlyRows(ys []model.YearlyTrend) [][]any {
	rows := make([][]any, 0, len(ys))
	for _, y := range ys {
		var yoy any
		if y.YoYChange.Valid {
			yoy = num(y.YoYChange.Decimal)
		}
		rows = append(rows, []any{y.ItemCode, market(y.MarketCode), y.Year, y.Days, num(y.Avg), num(y.Min), num(y.Max), yoy, string(y.Direction)})
	}
	return rows
}

// Save builds the workbook and writes it to path, creating parent directories.
func Save(path string, w Workbook) error {
	f, err := Build(w)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "report: create %s", filepath.Dir(path))
	}
	if err := f.SaveAs(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

// Export writes everything committed between from and to (inclusive).
func Export(ctx context.Context, st store.Store, from, to time.Time, path string) error {
	f := store.Filter{From: from, To: to}
	aggs, err := st.ListAggregates(ctx, f)
	if err != nil {
		return eris.Wrap(err, "report: load aggregates")
	}
	trends, err := st.ListTrends(ctx, f)
	if err != nil {
		return eris.Wrap(err, "report: load trends")
	}
	return Save(path, Workbook{
		Aggregates:  aggs,
		Trends:      trends,
		Comparisons: compare.CompareAll(aggs),
		Seasonal:    compare.CompareSeasonal(aggs),
	}.WithAnalyses())
}

// Exporter writes one workbook per completed run into Dir.
type Exporter struct {
	Dir string
}

// Path returns the workbook path for interval.
func (e *Exporter) Path(interval string) string {
	return filepath.Join(e.Dir, "agri-"+interval+".xlsx")
}

func (e *Exporter) RunFinished(_ context.Context, rep *model.RunReport, aggs []model.Aggregate) error {
	if rep.State != model.StateCompleted {
		return nil
	}
	path := e.Path(rep.Interval)
	if err := Save(path, Workbook{
		Run:         rep,
		Aggregates:  aggs,
		Trends:      rep.Trends,
		Comparisons: rep.Comparisons,
		Seasonal:    rep.Seasonal,
	}.WithAnalyses()); err != nil {
		return err
	}
	zap.L().Info("report: workbook written", zap.String("path", path))
	return nil
}
