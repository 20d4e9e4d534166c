package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/baebong3/fruitbasket-legal/internal/model"
	"github.com/baebong3/fruitbasket-legal/internal/runlog"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent run markers and run outcomes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := initStore(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "init store")
		}
		defer st.Close() //nolint:errcheck

		markers, err := st.ListRunMarkers(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "list run markers")
		}
		journal, err := runlog.Open(cfg.RunLog.Path, cfg.RunLog.Capacity)
		if err != nil {
			return err
		}
		return writeStatus(os.Stdout, markers, journal)
	},
}

func writeStatus(out io.Writer, markers []model.RunMarker, journal *runlog.Journal) error {
	if len(markers) == 0 {
		_, err := fmt.Fprintln(out, "No runs recorded yet.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INTERVAL\tMARKER\tOUTCOME\tPAGES\tAGGREGATES\tANOMALIES\tDROPS\tUPDATED")
	for _, m := range markers {
		outcome, pages, aggs, anomalies, drops := "-", "-", "-", "-", "-"
		if e, ok := journal.Last(m.Interval); ok && e.RunID == m.RunID {
			outcome = e.Outcome
			pages = fmt.Sprint(e.PagesFetched)
			aggs = fmt.Sprint(e.Aggregates)
			anomalies = fmt.Sprint(e.Anomalies)
			drops = fmt.Sprint(e.Drops.Total())
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			m.Interval, m.Status, outcome, pages, aggs, anomalies, drops,
			m.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func init() {
	statusCmd.Flags().Int("limit", 20, "maximum markers to list")
}
