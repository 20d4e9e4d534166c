package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/baebong3/fruitbasket-legal/internal/report"
	"github.com/baebong3/fruitbasket-legal/internal/transform"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export committed aggregates and trends to an Excel workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		fromStr, _ := cmd.Flags().GetString("from")
		toStr, _ := cmd.Flags().GetString("to")
		out, _ := cmd.Flags().GetString("out")
		from, ok := transform.ParseDate(fromStr)
		if !ok {
			return eris.Errorf("invalid --from %q", fromStr)
		}
		to, ok := transform.ParseDate(toStr)
		if !ok {
			return eris.Errorf("invalid --to %q", toStr)
		}
		if to.Before(from) {
			return eris.Errorf("--to %s is before --from %s", toStr, fromStr)
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "init store")
		}
		defer st.Close() //nolint:errcheck

		if out == "" {
			out = fmt.Sprintf("agri-%s_%s.xlsx", fromStr, toStr)
		}
		if err := report.Export(ctx, st, from, to, out); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Wrote", out)
		return nil
	},
}

func init() {
	reportCmd.Flags().String("from", "", "first date (YYYY-MM-DD)")
	reportCmd.Flags().String("to", "", "last date (YYYY-MM-DD)")
	reportCmd.Flags().String("out", "", "output path (default agri-<from>_<to>.xlsx)")
	_ = reportCmd.MarkFlagRequired("from")
	_ = reportCmd.MarkFlagRequired("to")
}
