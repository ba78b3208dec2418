package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/esslab/ess/internal/store"
)

var (
	listLimit  int
	listOffset int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List messages, newest first",
	Long: `List stored messages without text ranking, newest first.

Examples:
  ess list --folder inbox --unread
  ess list --account work --after 2026-01-01 -n 50`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := searchFilters()
		if err != nil {
			return err
		}
		f.Limit = listLimit
		f.Offset = listOffset

		svc, closer, err := openQuery()
		if err != nil {
			return err
		}
		defer closer()

		emails, err := svc.List(f)
		if err != nil {
			return fmt.Errorf("list: %w", err)
		}

		if len(emails) == 0 {
			fmt.Println("No messages found.")
			return nil
		}
		if searchJSON {
			return outputJSON(emails)
		}
		outputEmailTable(emails)
		return nil
	},
}

func outputEmailTable(emails []*store.Email) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tFROM\tFOLDER\tSUBJECT")
	fmt.Fprintln(w, "──\t────\t────\t──────\t───────")

	for _, e := range emails {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			e.ReceivedAt.Local().Format("2006-01-02 15:04"),
			truncate(e.FromAddress, 30),
			e.Folder,
			truncate(e.Subject, 50),
		)
	}

	w.Flush()
	fmt.Printf("\nShowing %d messages\n", len(emails))
}

func init() {
	rootCmd.AddCommand(listCmd)
	addFilterFlags(listCmd)
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum number of results")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Skip first N results")
}
