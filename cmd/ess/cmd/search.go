package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/esslab/ess/internal/search"
)

var (
	searchScope   string
	searchAccount string
	searchFolder  string
	searchFrom    string
	searchTo      string
	searchAfter   string
	searchBefore  string
	searchUnread  bool
	searchLimit   int
	searchOffset  int
	searchJSON    bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search across synced accounts",
	Long: `Search all synced mail with ranked full-text matching.

The query uses FTS syntax: bare words match anywhere, "quoted phrases"
match exactly, OR combines alternatives, and word* matches prefixes.
Structured filters narrow the candidate set before ranking.

Examples:
  ess search quarterly report
  ess search --scope professional --from alice@example.com budget
  ess search --folder inbox --unread --after 2026-01-01 invoice
  ess search '"exact phrase" OR approximate'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		queryStr := strings.Join(args, " ")

		f, err := searchFilters()
		if err != nil {
			return err
		}
		f.Limit = searchLimit
		f.Offset = searchOffset

		svc, closer, err := openQuery()
		if err != nil {
			return err
		}
		defer closer()

		results, err := svc.Search(queryStr, f)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}

		if len(results) == 0 {
			fmt.Println("No messages found.")
			return nil
		}
		if searchJSON {
			return outputJSON(results)
		}
		outputSearchTable(results)
		return nil
	},
}

// searchFilters converts the shared filter flags into query filters.
func searchFilters() (search.Filters, error) {
	scope, err := search.ParseScope(searchScope)
	if err != nil {
		return search.Filters{}, err
	}
	f := search.Filters{
		Scope:      scope,
		AccountID:  searchAccount,
		Folder:     searchFolder,
		From:       searchFrom,
		To:         searchTo,
		UnreadOnly: searchUnread,
	}
	if searchAfter != "" {
		t, err := time.Parse("2006-01-02", searchAfter)
		if err != nil {
			return f, fmt.Errorf("invalid after date: %w", err)
		}
		f.Since = t
	}
	if searchBefore != "" {
		t, err := time.Parse("2006-01-02", searchBefore)
		if err != nil {
			return f, fmt.Errorf("invalid before date: %w", err)
		}
		f.Until = t
	}
	return f, nil
}

func outputSearchTable(results []*search.Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tFROM\tSUBJECT")
	fmt.Fprintln(w, "──\t────\t────\t───────")

	for _, r := range results {
		e := r.Email
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.ID,
			e.ReceivedAt.Local().Format("2006-01-02"),
			truncate(e.FromAddress, 30),
			truncate(e.Subject, 50),
		)
		if r.Snippet != "" {
			fmt.Fprintf(w, "\t\t\t%s\n", truncate(r.Snippet, 80))
		}
	}

	w.Flush()
	fmt.Printf("\nShowing %d results\n", len(results))
}

// addFilterFlags registers the shared filter flags on a command. The flag
// variables are shared, so only one filtered command runs per invocation.
func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&searchScope, "scope", "all", "Account scope: all, professional, or personal")
	cmd.Flags().StringVar(&searchAccount, "account", "", "Restrict to one account ID")
	cmd.Flags().StringVar(&searchFolder, "folder", "", "Restrict to a folder (inbox, sent, archive, ...)")
	cmd.Flags().StringVar(&searchFrom, "from", "", "Filter by sender address")
	cmd.Flags().StringVar(&searchTo, "to", "", "Filter by recipient address")
	cmd.Flags().StringVar(&searchAfter, "after", "", "Only messages after date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&searchBefore, "before", "", "Only messages before date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&searchUnread, "unread", false, "Only unread messages")
	cmd.Flags().BoolVar(&searchJSON, "json", false, "Output as JSON")
}

func init() {
	rootCmd.AddCommand(searchCmd)
	addFilterFlags(searchCmd)
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "Maximum number of results")
	searchCmd.Flags().IntVar(&searchOffset, "offset", 0, "Skip first N results")
}
