package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store and index statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closer, err := openQuery()
		if err != nil {
			return err
		}
		defer closer()

		stats, err := svc.Stats()
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}

		if statsJSON {
			return outputJSON(stats)
		}

		fmt.Println("Store:")
		fmt.Printf("  Accounts:  %d\n", stats.Store.AccountCount)
		fmt.Printf("  Messages:  %d (%d unread)\n", stats.Store.EmailCount, stats.Store.UnreadCount)
		fmt.Printf("  Threads:   %d\n", stats.Store.ThreadCount)
		fmt.Printf("  Contacts:  %d\n", stats.Store.ContactCount)
		fmt.Printf("  Size:      %s\n", formatSize(stats.Store.DatabaseSize))
		if len(stats.Store.PerAccount) > 0 {
			fmt.Println("Per account:")
			ids := make([]string, 0, len(stats.Store.PerAccount))
			for id := range stats.Store.PerAccount {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Printf("  %-10s %d\n", id, stats.Store.PerAccount[id])
			}
		}
		fmt.Println("Index:")
		fmt.Printf("  Documents: %d\n", stats.Index.DocCount)
		fmt.Printf("  Size:      %s\n", formatSize(stats.Index.SizeBytes))
		if stats.Store.EmailCount != stats.Index.DocCount {
			fmt.Printf("\nStore and index counts differ; run 'ess reindex' to rebuild.\n")
		}
		return nil
	},
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)

	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1fG", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1fM", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1fK", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output as JSON")
}
