package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var threadJSON bool

var threadCmd = &cobra.Command{
	Use:   "thread <id>",
	Short: "Show the conversation containing a message",
	Long: `Show every message in the conversation containing the given message,
oldest first. A message without conversation grouping shows just itself.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closer, err := openQuery()
		if err != nil {
			return err
		}
		defer closer()

		msgs, err := svc.Thread(args[0])
		if err != nil {
			return fmt.Errorf("thread %s: %w", args[0], err)
		}

		if threadJSON {
			return outputJSON(msgs)
		}
		for i, e := range msgs {
			if i > 0 {
				fmt.Println("────────────────────────────────────────")
			}
			printEmail(e)
		}
		fmt.Printf("\n%d messages in thread\n", len(msgs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(threadCmd)
	threadCmd.Flags().BoolVar(&threadJSON, "json", false, "Output as JSON")
}
