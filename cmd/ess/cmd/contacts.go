package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	contactsLimit   int
	contactsJSON    bool
	contactsRebuild bool
)

var contactsCmd = &cobra.Command{
	Use:   "contacts [query]",
	Short: "List contacts derived from senders",
	Long: `List contacts derived from message senders, ordered by message
volume. An optional query matches addresses and display names.

With --rebuild, contact counts are recomputed from scratch from the
stored messages before listing.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		if contactsRebuild {
			if err := s.RebuildContacts(); err != nil {
				return fmt.Errorf("rebuild contacts: %w", err)
			}
		}

		query := ""
		if len(args) == 1 {
			query = args[0]
		}

		contacts, err := s.ListContacts(query, contactsLimit)
		if err != nil {
			return fmt.Errorf("list contacts: %w", err)
		}

		if len(contacts) == 0 {
			fmt.Println("No contacts found.")
			return nil
		}
		if contactsJSON {
			return outputJSON(contacts)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ADDRESS\tNAME\tMESSAGES\tLAST SEEN")
		fmt.Fprintln(w, "───────\t────\t────────\t─────────")
		for _, c := range contacts {
			lastSeen := ""
			if !c.LastSeen.IsZero() {
				lastSeen = c.LastSeen.Local().Format("2006-01-02")
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
				truncate(c.EmailAddress, 40),
				truncate(c.DisplayName, 30),
				c.MessageCount,
				lastSeen,
			)
		}
		w.Flush()
		fmt.Printf("\n%d contacts\n", len(contacts))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(contactsCmd)
	contactsCmd.Flags().IntVarP(&contactsLimit, "limit", "n", 50, "Maximum number of contacts")
	contactsCmd.Flags().BoolVar(&contactsJSON, "json", false, "Output as JSON")
	contactsCmd.Flags().BoolVar(&contactsRebuild, "rebuild", false, "Recompute contacts from stored messages first")
}
