package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Tool name constants.
const (
	ToolSearch   = "ess_search"
	ToolRecent   = "ess_recent"
	ToolThread   = "ess_thread"
	ToolContacts = "ess_contacts"
	ToolStats    = "ess_stats"
)

// Common argument helpers for recurring tool option definitions.

func withLimit(defaultDesc string) mcp.ToolOption {
	return mcp.WithNumber("limit",
		mcp.Description("Maximum results to return (default "+defaultDesc+")"),
	)
}

func withOffset() mcp.ToolOption {
	return mcp.WithNumber("offset",
		mcp.Description("Number of results to skip for pagination (default 0)"),
	)
}

func withScope() mcp.ToolOption {
	return mcp.WithString("scope",
		mcp.Description("Account class to cover (default all)"),
		mcp.Enum("all", "professional", "personal"),
	)
}

func withAfter() mcp.ToolOption {
	return mcp.WithString("after",
		mcp.Description("Only messages after this date (YYYY-MM-DD)"),
	)
}

func withBefore() mcp.ToolOption {
	return mcp.WithString("before",
		mcp.Description("Only messages before this date (YYYY-MM-DD)"),
	)
}

// Serve creates an MCP server exposing the mail query tools and serves over
// stdio. It blocks until stdin is closed or the context is cancelled.
func Serve(ctx context.Context, q Querier) error {
	s := server.NewMCPServer(
		"ess",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	h := &handlers{query: q}

	s.AddTool(searchTool(), h.search)
	s.AddTool(recentTool(), h.recent)
	s.AddTool(threadTool(), h.thread)
	s.AddTool(contactsTool(), h.contacts)
	s.AddTool(statsTool(), h.stats)

	stdio := server.NewStdioServer(s)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func searchTool() mcp.Tool {
	return mcp.NewTool(ToolSearch,
		mcp.WithDescription("Full-text search across all synced mail accounts. Results are ranked and include a snippet around the first match."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Full-text query (FTS syntax: phrases in quotes, OR, prefix*)"),
		),
		withScope(),
		mcp.WithString("account",
			mcp.Description("Restrict to one account ID"),
		),
		mcp.WithString("folder",
			mcp.Description("Restrict to a folder (inbox, sent, archive, drafts, trash, spam)"),
		),
		mcp.WithString("from",
			mcp.Description("Filter by sender email address"),
		),
		mcp.WithString("to",
			mcp.Description("Filter by recipient email address"),
		),
		withAfter(),
		withBefore(),
		mcp.WithBoolean("unread",
			mcp.Description("Only unread messages"),
		),
		withLimit("20"),
		withOffset(),
	)
}

func recentTool() mcp.Tool {
	return mcp.NewTool(ToolRecent,
		mcp.WithDescription("List recent messages, newest first, with optional filters. No text ranking."),
		mcp.WithReadOnlyHintAnnotation(true),
		withScope(),
		mcp.WithString("account",
			mcp.Description("Restrict to one account ID"),
		),
		mcp.WithString("folder",
			mcp.Description("Restrict to a folder"),
		),
		mcp.WithString("from",
			mcp.Description("Filter by sender email address"),
		),
		withAfter(),
		withBefore(),
		mcp.WithBoolean("unread",
			mcp.Description("Only unread messages"),
		),
		withLimit("20"),
		withOffset(),
	)
}

func threadTool() mcp.Tool {
	return mcp.NewTool(ToolThread,
		mcp.WithDescription("Get the full conversation containing a message, oldest first. Use the id field from search or recent results."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Message ID (account/source-message-id)"),
		),
	)
}

func contactsTool() mcp.Tool {
	return mcp.NewTool(ToolContacts,
		mcp.WithDescription("List contacts derived from message senders, ordered by message volume."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("query",
			mcp.Description("Substring match on address or display name"),
		),
		withLimit("50"),
	)
}

func statsTool() mcp.Tool {
	return mcp.NewTool(ToolStats,
		mcp.WithDescription("Get store and index overview: accounts, message counts, contact count, index document count and size."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}
