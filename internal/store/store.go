// Package store provides the canonical SQLite database for ess.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaFS embed.FS

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store provides database operations for ess.
type Store struct {
	db     *sql.DB
	dbPath string
}

const defaultSQLiteParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"

// timeFormat is the canonical timestamp format used in the database.
const timeFormat = time.RFC3339

// isSQLiteError checks if err is a sqlite3.Error with a message containing substr.
// Handles both value (sqlite3.Error) and pointer (*sqlite3.Error) forms.
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

// Open opens or creates the database at the given path.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dbPath + defaultSQLiteParams
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx executes fn within a database transaction. If fn returns an error,
// the transaction is rolled back; otherwise it is committed.
func (s *Store) WithTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// InitSchema initializes the database schema.
// This creates all tables if they don't exist.
func (s *Store) InitSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("read schema.sql: %w", err)
	}

	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("execute schema.sql: %w", err)
	}

	// Databases created before the name_seen column exist without it; the
	// CREATE IF NOT EXISTS above does not add columns to existing tables.
	var hasNameSeen int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('contacts') WHERE name = 'name_seen'`).Scan(&hasNameSeen)
	if hasNameSeen == 0 {
		if _, err := s.db.Exec(`ALTER TABLE contacts ADD COLUMN name_seen TEXT`); err != nil {
			return fmt.Errorf("add contacts.name_seen: %w", err)
		}
	}

	return nil
}

// Stats holds database statistics.
type Stats struct {
	EmailCount   int64            `json:"email_count"`
	AccountCount int64            `json:"account_count"`
	ContactCount int64            `json:"contact_count"`
	ThreadCount  int64            `json:"thread_count"`
	UnreadCount  int64            `json:"unread_count"`
	DatabaseSize int64            `json:"database_size"`
	PerAccount   map[string]int64 `json:"emails_per_account,omitempty"`
}

// GetStats returns statistics about the database.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}

	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM emails", &stats.EmailCount},
		{"SELECT COUNT(*) FROM accounts", &stats.AccountCount},
		{"SELECT COUNT(*) FROM contacts", &stats.ContactCount},
		{"SELECT COUNT(DISTINCT conversation_id) FROM emails WHERE conversation_id IS NOT NULL", &stats.ThreadCount},
		{"SELECT COUNT(*) FROM emails WHERE is_read = 0", &stats.UnreadCount},
	}

	for _, q := range queries {
		if err := s.db.QueryRow(q.query).Scan(q.dest); err != nil {
			if isSQLiteError(err, "no such table") {
				continue
			}
			return nil, fmt.Errorf("get stats %q: %w", q.query, err)
		}
	}

	rows, err := s.db.Query("SELECT account_id, COUNT(*) FROM emails GROUP BY account_id")
	if err != nil {
		if !isSQLiteError(err, "no such table") {
			return nil, fmt.Errorf("get per-account stats: %w", err)
		}
	} else {
		defer rows.Close()
		stats.PerAccount = make(map[string]int64)
		for rows.Next() {
			var accountID string
			var count int64
			if err := rows.Scan(&accountID, &count); err != nil {
				return nil, fmt.Errorf("scan per-account stats: %w", err)
			}
			stats.PerAccount[accountID] = count
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("per-account stats: %w", err)
		}
	}

	if info, err := os.Stat(s.dbPath); err == nil {
		stats.DatabaseSize = info.Size()
	}

	return stats, nil
}

// formatTime renders t in the canonical database format, UTC.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// parseTime parses a canonical database timestamp, tolerating the older
// space-separated form for rows written by earlier versions.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(timeFormat, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}
