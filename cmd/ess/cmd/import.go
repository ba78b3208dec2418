package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var importPath string

var importCmd = &cobra.Command{
	Use:   "import <account>",
	Short: "Import messages from a local JSON archive",
	Long: `Import a directory of JSON message files into the given account.

Each *.json file holds one message, either bare or wrapped in an
{"email": {...}} envelope. Files are imported in name order; malformed
files are skipped with a warning. Re-importing the same directory is
idempotent.

The account's archive_path from config.toml is used unless --path
overrides it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		acc := cfg.Account(args[0])
		if acc == nil {
			return fmt.Errorf("unknown account %q (check config.toml)", args[0])
		}
		if importPath != "" {
			acc.ArchivePath = importPath
		}
		if acc.ArchivePath == "" {
			return fmt.Errorf("account %s has no archive_path; set it in config.toml or pass --path", acc.ID)
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()
		ix, err := openIndex()
		if err != nil {
			return err
		}
		defer ix.Close()

		syncer := newSyncer(s, ix)
		acct := connectorAccount(acc)

		// Always walk the whole directory; unchanged files resolve to no-ops.
		if err := syncer.ResetCursors(cmd.Context(), acct, "archive"); err != nil {
			return fmt.Errorf("reset cursors for %s: %w", acc.ID, err)
		}

		report, err := syncer.SyncAccount(cmd.Context(), acct, "archive")
		if err != nil {
			return fmt.Errorf("import %s: %w", acc.ID, err)
		}

		fmt.Printf("%s: %d imported, %d updated\n",
			report.AccountID, report.Added(), report.Updated())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringVar(&importPath, "path", "", "Archive directory (overrides config archive_path)")
}
