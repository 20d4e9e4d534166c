package notifier

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/baebong3/fruitbasket-legal/internal/model"
)

// Announce reports whether a run is worth telling anyone about. Runs turned
// away at the marker check did no work.
func Announce(rep *model.RunReport) bool {
	return !(rep.State == model.StateAborted && len(rep.Transitions) <= 2)
}

func outcomeIcon(rep *model.RunReport) string {
	switch rep.Outcome() {
	case string(model.StateCompleted):
		return "✅"
	case "completed_with_losses":
		return "⚠️"
	default:
		return "❌"
	}
}

// FormatRunSummary formats a run report into a Telegram message.
func FormatRunSummary(rep *model.RunReport) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("%s <b>Price run %s</b> | %s\n\n", outcomeIcon(rep), rep.Interval, rep.Outcome()))
	b.WriteString(fmt.Sprintf("Pages: %d fetched", rep.PagesFetched))
	if n := pageFailureTotal(rep); n > 0 {
		b.WriteString(fmt.Sprintf(", %d skipped", n))
	}
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Records: %d raw → %d cleaned → %d normalized\n", rep.RawCount, rep.CleanedCount, rep.Normalized))
	b.WriteString(fmt.Sprintf("Aggregates: %d | Trends: %d | Anomalies: %d\n", rep.Aggregates, len(rep.Trends), len(rep.Anomalies)))
	if len(rep.Drops) > 0 {
		b.WriteString(fmt.Sprintf("Dropped: %s\n", html.EscapeString(rep.Drops.String())))
	}
	if rep.Error != "" {
		b.WriteString(fmt.Sprintf("\nError: <code>%s</code>\n", html.EscapeString(rep.Error)))
	}
	b.WriteString(fmt.Sprintf("\nRun %s in %s", rep.RunID, rep.Duration().Round(time.Millisecond)))
	return b.String()
}

func pageFailureTotal(rep *model.RunReport) int {
	n := 0
	for _, v := range rep.PageFailures {
		n += v
	}
	return n
}

var labelIcon = map[model.TrendLabel]string{
	model.LabelSurge:  "🔺",
	model.LabelHigh:   "↗️",
	model.LabelNormal: "➖",
	model.LabelCheap:  "↘️",
	model.LabelDrop:   "🔻",
}

// FormatAnomalies lists anomalous trends, largest deviation first.
func FormatAnomalies(interval string, anomalies []model.TrendResult, limit int) string {
	sorted := append([]model.TrendResult(nil), anomalies...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Deviation.Abs().GreaterThan(sorted[j].Deviation.Abs())
	})

	var b strings.Builder
	b.WriteString(fmt.Sprintf("🚨 <b>Price anomalies %s</b> (%d)\n\n", interval, len(anomalies)))
	for i, t := range sorted {
		if limit > 0 && i == limit {
			b.WriteString(fmt.Sprintf("… and %d more\n", len(sorted)-limit))
			break
		}
		market := t.MarketCode
		if market == model.AllMarkets {
			market = "all"
		}
		b.WriteString(fmt.Sprintf("%s %s @ %s: %s vs MA %s (%s%%) %s\n",
			labelIcon[t.Label], t.ItemCode, market,
			t.Avg.StringFixed(0), t.MovingAverage.StringFixed(0),
			t.Deviation.Shift(2).StringFixed(1), t.Label))
	}
	return b.String()
}

// FormatMarkers renders recent run markers for the /status command.
func FormatMarkers(markers []model.RunMarker) string {
	if len(markers) == 0 {
		return "No runs recorded yet."
	}
	var b strings.Builder
	b.WriteString("📋 <b>Recent runs</b>\n\n")
	for _, m := range markers {
		b.WriteString(fmt.Sprintf("%s  %-11s  %s\n", m.Interval, m.Status, m.UpdatedAt.Format("01-02 15:04")))
	}
	return b.String()
}

// FormatHelp lists the supported commands.
func FormatHelp() string {
	return "Commands:\n• /status - recent runs\n• /run [YYYY-MM-DD] - run the pipeline for a day (default today)"
}
