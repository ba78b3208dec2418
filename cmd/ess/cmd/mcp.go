package cmd

import (
	"github.com/spf13/cobra"

	mcpserver "github.com/esslab/ess/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run MCP server for assistant integration",
	Long: `Start an MCP (Model Context Protocol) server over stdio.

This lets an MCP client query your mail with tools like ess_search,
ess_recent, ess_thread, ess_contacts, and ess_stats.

Add to your client config:
  {
    "mcpServers": {
      "ess": {
        "command": "ess",
        "args": ["mcp"]
      }
    }
  }`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closer, err := openQuery()
		if err != nil {
			return err
		}
		defer closer()

		return mcpserver.Serve(cmd.Context(), svc)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
