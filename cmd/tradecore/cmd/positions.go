package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradecore/eventlog"
	"github.com/rustyeddy/tradecore/ledger"
)

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "List open positions from the event log",
	Long: `Recovers the materialized view from the event log and prints every
open position. Read-only; safe to run while the daemon is down.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		elog, err := eventlog.NewSQLite(cfg.Ledger.DBPath)
		if err != nil {
			return err
		}
		defer elog.Close()

		led, err := ledger.New(cmd.Context(), elog, ledger.WithCheckpoints(elog))
		if err != nil {
			return err
		}

		open := led.ListOpenPositions()
		if len(open) == 0 {
			fmt.Println("no open positions")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSYMBOL\tSIDE\tQTY\tENTRY\tOPENED\tFLAGS")
		for _, p := range open {
			flags := ""
			if p.External {
				flags += "external "
			}
			if p.ManualReview {
				flags += "review"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%v\t%s\t%s\n",
				p.ID, p.Symbol, p.Side, p.Quantity, p.EntryPrice,
				p.OpenedAt.Format(time.RFC3339), flags)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(positionsCmd)
}
