package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/baebong3/fruitbasket-legal/internal/pipeline"
	"github.com/baebong3/fruitbasket-legal/internal/transform"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once for a single day",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		dateStr, _ := cmd.Flags().GetString("date")
		date, ok := transform.ParseDate(dateStr)
		if !ok {
			return eris.Errorf("invalid --date %q, expected YYYY-MM-DD", dateStr)
		}
		notify, _ := cmd.Flags().GetBool("notify")

		e, err := initEnv(ctx, cfg, notify)
		if err != nil {
			return err
		}
		defer e.Close()

		rep, runErr := e.Orch.Run(ctx, date)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return eris.Wrap(err, "encode report")
		}

		var dup *pipeline.DuplicateRunError
		if errors.As(runErr, &dup) {
			fmt.Fprintf(os.Stderr, "%s already handled, nothing to do.\n", dup.Interval)
			return nil
		}
		return runErr
	},
}

func init() {
	runCmd.Flags().String("date", "", "interval date (YYYY-MM-DD)")
	runCmd.Flags().Bool("notify", false, "send Telegram and Kafka notifications")
	_ = runCmd.MarkFlagRequired("date")
}
