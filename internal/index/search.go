package index

import (
	"fmt"
	"strings"
	"time"
)

// Filters restrict a search to a subset of documents. They are applied as
// SQL predicates alongside the FTS match, so a limited result set is the
// top-N of the filtered population, not a post-filtered page.
type Filters struct {
	AccountType string
	AccountID   string
	Folder      string
	FromAddress string
	Since       time.Time
	Until       time.Time
	UnreadOnly  bool
}

// Hit is one search result. Score is a relevance value where larger is
// better; hits come back in descending score order.
type Hit struct {
	EmailID string
	Score   float64
}

// Field weights: subject matches outrank sender-name matches, which outrank
// body matches. Column order matches the FTS table definition.
const bm25Weights = "5.0, 3.0, 1.0, 1.0"

// Search runs a ranked full-text query. An empty query returns the most
// recent documents matching the filters instead of a relevance ranking.
// Without the fts5 module the query degrades to an unranked LIKE scan over
// the same documents.
func (ix *Index) Search(query string, f Filters, limit, offset int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var where []string
	var args []any

	match := ftsQuery(query)
	ranked := match != "" && ix.fts

	var sql string
	switch {
	case ranked:
		sql = `SELECT d.email_id, -bm25(docs_fts, ` + bm25Weights + `) AS score
			FROM docs_fts JOIN docs d ON d.rowid = docs_fts.rowid`
		where = append(where, "docs_fts MATCH ?")
		args = append(args, match)
	case match != "":
		sql = `SELECT d.email_id, 0.0 AS score FROM docs d`
		for _, term := range strings.Fields(query) {
			pattern := "%" + escapeLike(term) + "%"
			where = append(where, `(d.subject LIKE ? ESCAPE '\' OR d.from_name LIKE ? ESCAPE '\'
				OR d.from_address LIKE ? ESCAPE '\' OR d.body LIKE ? ESCAPE '\')`)
			args = append(args, pattern, pattern, pattern, pattern)
		}
	default:
		sql = `SELECT d.email_id, 0.0 AS score FROM docs d`
	}

	if f.AccountType != "" {
		where = append(where, "d.account_type = ?")
		args = append(args, f.AccountType)
	}
	if f.AccountID != "" {
		where = append(where, "d.account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.Folder != "" {
		where = append(where, "d.folder = ?")
		args = append(args, strings.ToLower(f.Folder))
	}
	if f.FromAddress != "" {
		where = append(where, "d.from_address = ?")
		args = append(args, strings.ToLower(strings.TrimSpace(f.FromAddress)))
	}
	if !f.Since.IsZero() {
		where = append(where, "d.received_at >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339))
	}
	if !f.Until.IsZero() {
		where = append(where, "d.received_at < ?")
		args = append(args, f.Until.UTC().Format(time.RFC3339))
	}
	if f.UnreadOnly {
		where = append(where, "d.is_read = 0")
	}

	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	if ranked {
		sql += " ORDER BY score DESC, d.received_at DESC"
	} else {
		sql += " ORDER BY d.received_at DESC"
	}
	sql += " LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := ix.db.Query(sql, args...)
	if err != nil {
		return nil, fmt.Errorf("index search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.EmailID, &h.Score); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits: %w", err)
	}
	return hits, nil
}

// escapeLike neutralizes LIKE wildcards in a user term.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}

// ftsQuery converts free text into an FTS5 MATCH expression. Each
// whitespace-separated term becomes a quoted token; terms are ANDed.
// Quoting keeps user input from being parsed as FTS syntax.
func ftsQuery(text string) string {
	terms := strings.Fields(text)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.ReplaceAll(term, `"`, `""`)
		quoted = append(quoted, `"`+term+`"`)
	}
	return strings.Join(quoted, " ")
}
