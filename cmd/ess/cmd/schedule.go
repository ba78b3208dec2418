package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/esslab/ess/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Show and validate configured sync schedules",
	Long: `Show the cron schedule of every configured account and flag
invalid expressions. Schedules only run under 'ess serve'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(cfg.Accounts) == 0 {
			fmt.Println("No accounts configured.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSCHEDULE\tENABLED\tSTATUS")
		fmt.Fprintln(w, "──\t────────\t───────\t──────")

		invalid := 0
		for _, acc := range cfg.Accounts {
			status := "ok"
			switch {
			case acc.Schedule == "":
				status = "manual only"
			default:
				if err := scheduler.ValidateCronExpr(acc.Schedule); err != nil {
					status = fmt.Sprintf("invalid: %v", err)
					invalid++
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", acc.ID, acc.Schedule, acc.Enabled, status)
		}
		w.Flush()

		if invalid > 0 {
			return fmt.Errorf("%d invalid schedule(s) in %s", invalid, cfg.ConfigFilePath())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
