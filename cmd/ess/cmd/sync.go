package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/esslab/ess/internal/config"
	essync "github.com/esslab/ess/internal/sync"
)

var syncFull bool

var syncCmd = &cobra.Command{
	Use:   "sync [account]",
	Short: "Sync one account or all enabled accounts",
	Long: `Pull changes from each account's source into the local store and
search index. The first sync of an account enumerates everything; later
syncs apply only changes since the saved cursor.

With --full, saved cursors are dropped first and the source is
re-enumerated from scratch. Existing messages are left in place; unchanged
messages are recognized and skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var accounts []config.Account
		if len(args) == 1 {
			acc := cfg.Account(args[0])
			if acc == nil {
				return fmt.Errorf("unknown account %q (check config.toml)", args[0])
			}
			accounts = []config.Account{*acc}
		} else {
			accounts = cfg.EnabledAccounts()
			if len(accounts) == 0 {
				return fmt.Errorf("no enabled accounts configured")
			}
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

		return syncAccounts(cmd.Context(), newSyncer(s, ix), accounts)
	},
}

// syncAccounts syncs each account in turn. One account failing, including a
// configuration failure before any network call, must not stop the rest;
// failures are collected and reported together at the end.
func syncAccounts(ctx context.Context, syncer *essync.Syncer, accounts []config.Account) error {
	var failed []string
	for _, acc := range accounts {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		acct := connectorAccount(&acc)
		if syncFull {
			if err := syncer.ResetCursors(ctx, acct, acc.Connector); err != nil {
				fmt.Printf("%s: reset cursors failed: %v\n", acc.ID, err)
				failed = append(failed, acc.ID)
				continue
			}
		}

		report, err := syncer.SyncAccount(ctx, acct, acc.Connector)
		if err != nil {
			fmt.Printf("%s: sync failed: %v\n", acc.ID, err)
			failed = append(failed, acc.ID)
			continue
		}

		fmt.Printf("%s: %d added, %d updated, %d deleted (%s)\n",
			report.AccountID, report.Added(), report.Updated(), report.Deleted(),
			report.Duration.Round(time.Millisecond))
		for _, sr := range report.Scopes {
			if sr.Reenumerated {
				fmt.Printf("  %s: cursor expired, re-enumerated\n", sr.Scope.Label)
			}
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("sync failed for %s", strings.Join(failed, ", "))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "Drop cursors and re-enumerate from scratch")
}
