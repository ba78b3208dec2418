package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/esslab/ess/internal/store"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage registered accounts",
}

var (
	addAccountEmail string
	addAccountType  string
	addAccountName  string
)

var addAccountCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Register an account in the store",
	Long: `Register an account in the canonical store. Connector settings and
credentials stay in config.toml (or the environment); the store only
records identity and sync state.

The ID must match an [[accounts]] entry in config.toml for sync to
pick it up.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		cfgAcc := cfg.Account(id)
		if cfgAcc == nil {
			fmt.Fprintf(os.Stderr, "Warning: %s has no [[accounts]] entry in %s; sync will not find it.\n",
				id, cfg.ConfigFilePath())
		}

		email := addAccountEmail
		accType := addAccountType
		if cfgAcc != nil {
			if email == "" {
				email = cfgAcc.Email
			}
			if accType == "" {
				accType = cfgAcc.Type
			}
		}
		if email == "" {
			return fmt.Errorf("no email address for %s; pass --email or add it to config.toml", id)
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.UpsertAccount(&store.Account{
			AccountID:    id,
			EmailAddress: email,
			DisplayName:  addAccountName,
			AccountType:  accType,
			Enabled:      true,
		}); err != nil {
			return err
		}

		fmt.Printf("Registered account %s (%s)\n", id, email)
		return nil
	},
}

var listAccountsJSON bool

var listAccountsCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		accounts, err := s.ListAccounts()
		if err != nil {
			return err
		}

		if len(accounts) == 0 {
			fmt.Println("No accounts registered. Run 'ess sync' or 'ess accounts add'.")
			return nil
		}
		if listAccountsJSON {
			return outputJSON(accounts)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tEMAIL\tTYPE\tENABLED\tLAST SYNC")
		fmt.Fprintln(w, "──\t─────\t────\t───────\t─────────")
		for _, a := range accounts {
			lastSync := "never"
			if !a.LastSync.IsZero() {
				lastSync = a.LastSync.Local().Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n",
				a.AccountID, a.EmailAddress, a.AccountType, a.Enabled, lastSync)
		}
		w.Flush()
		return nil
	},
}

var removeAccountCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an account and all its messages",
	Long: `Remove an account from the store. All of its messages and sync
cursors are deleted; the search index drops its documents on the next
reindex.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		if _, err := s.GetAccount(args[0]); err != nil {
			return fmt.Errorf("account %s: %w", args[0], err)
		}

		count, err := s.CountEmails(args[0])
		if err != nil {
			return err
		}
		if err := s.DeleteAccount(args[0]); err != nil {
			return err
		}

		fmt.Printf("Removed account %s (%d messages). Run 'ess reindex' to drop its index documents.\n",
			args[0], count)
		return nil
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "sync-status",
	Short: "Show per-account sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		accounts, err := s.ListAccounts()
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			fmt.Println("No accounts registered.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMESSAGES\tLAST SYNC\tSCHEDULE")
		fmt.Fprintln(w, "──\t────────\t─────────\t────────")
		for _, a := range accounts {
			count, err := s.CountEmails(a.AccountID)
			if err != nil {
				return err
			}
			lastSync := "never"
			if !a.LastSync.IsZero() {
				lastSync = a.LastSync.Local().Format("2006-01-02 15:04")
			}
			schedule := ""
			if cfgAcc := cfg.Account(a.AccountID); cfgAcc != nil {
				schedule = cfgAcc.Schedule
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", a.AccountID, count, lastSync, schedule)
		}
		w.Flush()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(addAccountCmd)
	accountsCmd.AddCommand(listAccountsCmd)
	accountsCmd.AddCommand(removeAccountCmd)
	accountsCmd.AddCommand(syncStatusCmd)

	addAccountCmd.Flags().StringVar(&addAccountEmail, "email", "", "Mailbox address")
	addAccountCmd.Flags().StringVar(&addAccountType, "type", "", "Account type: professional or personal")
	addAccountCmd.Flags().StringVar(&addAccountName, "name", "", "Display name")
	listAccountsCmd.Flags().BoolVar(&listAccountsJSON, "json", false, "Output as JSON")
}
