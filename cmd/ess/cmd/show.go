package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/esslab/ess/internal/store"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one message in full",
	Long: `Show a single message by its ID (account/source-message-id),
including recipients, folder, flags, and the full body text.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closer, err := openQuery()
		if err != nil {
			return err
		}
		defer closer()

		email, err := svc.Show(args[0])
		if err != nil {
			return fmt.Errorf("show %s: %w", args[0], err)
		}

		if showJSON {
			return outputJSON(email)
		}
		printEmail(email)
		return nil
	},
}

func printEmail(e *store.Email) {
	fmt.Printf("ID:      %s\n", e.ID)
	fmt.Printf("Date:    %s\n", e.ReceivedAt.Local().Format(time.RFC1123))
	from := e.FromAddress
	if e.FromName != "" {
		from = fmt.Sprintf("%s <%s>", e.FromName, e.FromAddress)
	}
	fmt.Printf("From:    %s\n", from)
	if len(e.ToAddresses) > 0 {
		fmt.Printf("To:      %s\n", strings.Join(e.ToAddresses, ", "))
	}
	if len(e.CcAddresses) > 0 {
		fmt.Printf("Cc:      %s\n", strings.Join(e.CcAddresses, ", "))
	}
	fmt.Printf("Subject: %s\n", e.Subject)
	fmt.Printf("Folder:  %s", e.Folder)
	if !e.IsRead {
		fmt.Print("  (unread)")
	}
	if e.FlagStatus == "flagged" {
		fmt.Print("  (flagged)")
	}
	fmt.Println()
	if len(e.Categories) > 0 {
		fmt.Printf("Labels:  %s\n", strings.Join(e.Categories, ", "))
	}
	if e.HasAttachments {
		fmt.Println("Attachments: yes")
	}

	body := e.BodyText
	if body == "" {
		body = e.BodyPreview
	}
	if body != "" {
		fmt.Println()
		fmt.Println(body)
	}
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output as JSON")
}
