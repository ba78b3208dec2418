// Package mcp exposes the mail query surface as MCP tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/esslab/ess/internal/search"
	"github.com/esslab/ess/internal/store"
)

const maxLimit = 500

// Querier is the read surface the tools need. *search.Service satisfies it.
type Querier interface {
	Search(query string, f search.Filters) ([]*search.Result, error)
	List(f search.Filters) ([]*store.Email, error)
	Thread(id string) ([]*store.Email, error)
	Contacts(query string, limit int) ([]*store.Contact, error)
	Stats() (*search.Stats, error)
}

type handlers struct {
	query Querier
}

// getDateArg extracts an optional date (YYYY-MM-DD) from the arguments map.
// Absent or empty values return the zero time.
func getDateArg(args map[string]any, key string) (time.Time, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s date %q: expected YYYY-MM-DD", key, v)
	}
	return t, nil
}

// buildFilters translates common tool arguments into query filters.
func buildFilters(args map[string]any) (search.Filters, error) {
	scope, err := search.ParseScope(stringArg(args, "scope"))
	if err != nil {
		return search.Filters{}, err
	}

	f := search.Filters{
		Scope:     scope,
		AccountID: stringArg(args, "account"),
		Folder:    stringArg(args, "folder"),
		From:      stringArg(args, "from"),
		To:        stringArg(args, "to"),
		Limit:     limitArg(args, "limit", 20),
		Offset:    limitArg(args, "offset", 0),
	}
	if v, ok := args["unread"].(bool); ok && v {
		f.UnreadOnly = true
	}
	if f.Since, err = getDateArg(args, "after"); err != nil {
		return f, err
	}
	if f.Until, err = getDateArg(args, "before"); err != nil {
		return f, err
	}
	return f, nil
}

func (h *handlers) search(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	queryStr := stringArg(args, "query")
	if queryStr == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}

	f, err := buildFilters(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	results, err := h.query.Search(queryStr, f)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	return jsonResult(results)
}

func (h *handlers) recent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f, err := buildFilters(req.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	emails, err := h.query.List(f)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}

	return jsonResult(emails)
}

func (h *handlers) thread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := stringArg(req.GetArguments(), "id")
	if id == "" {
		return mcp.NewToolResultError("id parameter is required"), nil
	}

	msgs, err := h.query.Thread(id)
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("message not found: %s", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("thread failed: %v", err)), nil
	}

	return jsonResult(msgs)
}

func (h *handlers) contacts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	contacts, err := h.query.Contacts(stringArg(args, "query"), limitArg(args, "limit", 50))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("contacts failed: %v", err)), nil
	}

	return jsonResult(contacts)
}

func (h *handlers) stats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := h.query.Stats()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stats failed: %v", err)), nil
	}

	return jsonResult(stats)
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// limitArg extracts a non-negative integer from a map, with a default.
// JSON numbers arrive as float64. Clamps to maxLimit to prevent excessive
// result sets.
func limitArg(args map[string]any, key string, def int) int {
	v, ok := args[key].(float64)
	if !ok {
		return def
	}
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if math.IsInf(v, 1) || v > float64(maxLimit) {
		return maxLimit
	}
	return int(v)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal error: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
