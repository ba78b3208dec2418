// Package index maintains the full-text search index for ess.
//
// The index lives in its own directory, separate from the canonical store,
// and holds only data derived from it: dropping the directory and running a
// rebuild always produces an equivalent index. Writes go through a single
// Writer guarded by a lock file; readers see committed state only.
package index

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/esslab/ess/internal/store"
	"github.com/esslab/ess/internal/textutil"
)

//go:embed schema.sql schema_fts.sql
var schemaFS embed.FS

// ErrIndexLocked is returned when another process holds the index writer.
var ErrIndexLocked = errors.New("index locked by another writer")

const (
	dbFileName   = "index.db"
	lockFileName = "writer.lock"

	sqliteParams = "?_journal_mode=WAL&_busy_timeout=5000"
)

// Index is a handle on the search index directory. It is safe for
// concurrent readers; writing requires AcquireWriter.
type Index struct {
	db  *sql.DB
	dir string
	fts bool // FTS5 module available in this SQLite build
}

// Open opens or creates the index in dir. When the SQLite build lacks the
// fts5 module the index still opens: documents land in the docs table and
// search falls back to a slower LIKE scan. Building with -tags fts5
// restores ranked full-text search without a reindex.
func Open(dir string) (*Index, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	dbPath := filepath.Join(dir, dbFileName)
	db, err := sql.Open("sqlite3", dbPath+sqliteParams)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping index database: %w", err)
	}

	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("read index schema: %w", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		db.Close()
		return nil, fmt.Errorf("init index schema: %w", err)
	}

	ix := &Index{db: db, dir: dir}

	var hadFTS int
	_ = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'docs_fts'`).Scan(&hadFTS)

	ftsSchema, err := schemaFS.ReadFile("schema_fts.sql")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("read fts schema: %w", err)
	}
	if _, err := db.Exec(string(ftsSchema)); err != nil {
		if !isSQLiteError(err, "no such module: fts5") {
			db.Close()
			return nil, fmt.Errorf("init fts schema: %w", err)
		}
	} else {
		ix.fts = true
		if hadFTS == 0 {
			// Documents may predate the FTS table when an earlier binary ran
			// without fts5. Backfill the external-content index from docs.
			if _, err := db.Exec(`INSERT INTO docs_fts(docs_fts) VALUES('rebuild')`); err != nil {
				db.Close()
				return nil, fmt.Errorf("backfill fts index: %w", err)
			}
		}
	}

	return ix, nil
}

// FTSAvailable reports whether ranked full-text search is active. False
// means the SQLite build has no fts5 module and Search degrades to LIKE.
func (ix *Index) FTSAvailable() bool {
	return ix.fts
}

// Close closes the index database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Dir returns the directory owned by the index.
func (ix *Index) Dir() string {
	return ix.dir
}

func isSQLiteError(err error, substr string) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return strings.Contains(sqliteErr.Error(), substr)
	}
	var sqliteErrPtr *sqlite3.Error
	if errors.As(err, &sqliteErrPtr) && sqliteErrPtr != nil {
		return strings.Contains(sqliteErrPtr.Error(), substr)
	}
	return false
}

// Document is the unit stored in the index. Every field is derived from a
// canonical store email.
type Document struct {
	EmailID     string
	AccountID   string
	AccountType string
	Folder      string
	FromAddress string
	FromName    string
	Subject     string
	Body        string
	ReceivedAt  string // RFC 3339 UTC
	IsRead      bool
}

// DocumentFromEmail maps a store email to its index document. The body
// prefers extracted plain text, then HTML converted to text, then the
// preview.
func DocumentFromEmail(e *store.Email, accountType string) Document {
	body := e.BodyText
	if body == "" && e.BodyHTML != "" {
		body = textutil.HTMLToText(e.BodyHTML)
	}
	if body == "" {
		body = e.BodyPreview
	}
	return Document{
		EmailID:     e.ID,
		AccountID:   e.AccountID,
		AccountType: accountType,
		Folder:      strings.ToLower(e.Folder),
		FromAddress: strings.ToLower(e.FromAddress),
		FromName:    e.FromName,
		Subject:     e.Subject,
		Body:        body,
		ReceivedAt:  e.ReceivedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		IsRead:      e.IsRead,
	}
}

// Stats holds index statistics.
type Stats struct {
	DocCount  int64 `json:"doc_count"`
	SizeBytes int64 `json:"size_bytes"`
}

// GetStats returns document count and on-disk size of the index directory.
func (ix *Index) GetStats() (*Stats, error) {
	stats := &Stats{}
	if err := ix.db.QueryRow(`SELECT COUNT(*) FROM docs`).Scan(&stats.DocCount); err != nil {
		return nil, fmt.Errorf("count docs: %w", err)
	}

	entries, err := os.ReadDir(ix.dir)
	if err != nil {
		return stats, nil
	}
	for _, entry := range entries {
		if info, err := entry.Info(); err == nil && !entry.IsDir() {
			stats.SizeBytes += info.Size()
		}
	}
	return stats, nil
}
