package index

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Writer applies index mutations. Upserts and deletes are buffered in
// memory and become visible to readers only when Commit runs; a crash
// before Commit leaves the index at its previous committed state.
//
// Only one Writer may exist per index directory across all processes,
// enforced by a lock file.
type Writer struct {
	ix       *Index
	lockPath string
	pending  []op
	closed   bool
}

type op struct {
	doc    *Document // nil for deletes
	delete string    // email_id to delete
}

// AcquireWriter claims exclusive write access to the index. If another
// writer holds the lock, it fails immediately with ErrIndexLocked rather
// than waiting.
func (ix *Index) AcquireWriter() (*Writer, error) {
	lockPath := filepath.Join(ix.dir, lockFileName)

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w (lock file %s)", ErrIndexLocked, lockPath)
		}
		return nil, fmt.Errorf("create index lock: %w", err)
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	f.Close()

	return &Writer{ix: ix, lockPath: lockPath}, nil
}

// ForceUnlock removes a leftover lock file. Only for recovery after a crash;
// removing the lock under a live writer corrupts single-writer guarantees.
func (ix *Index) ForceUnlock() error {
	err := os.Remove(filepath.Join(ix.dir, lockFileName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove index lock: %w", err)
	}
	return nil
}

// Upsert buffers an add-or-replace of a document.
func (w *Writer) Upsert(doc Document) {
	w.pending = append(w.pending, op{doc: &doc})
}

// Delete buffers a removal by email ID. Deleting an absent ID is a no-op.
func (w *Writer) Delete(emailID string) {
	w.pending = append(w.pending, op{delete: emailID})
}

// Pending returns the number of buffered operations.
func (w *Writer) Pending() int {
	return len(w.pending)
}

// Commit applies all buffered operations in a single transaction. On error
// the buffer is kept so the commit can be retried.
func (w *Writer) Commit() error {
	if len(w.pending) == 0 {
		return nil
	}

	tx, err := w.ix.db.Begin()
	if err != nil {
		return fmt.Errorf("begin index tx: %w", err)
	}

	for _, o := range w.pending {
		if o.doc != nil {
			if err := applyUpsert(tx, o.doc); err != nil {
				_ = tx.Rollback()
				return err
			}
			continue
		}
		if _, err := tx.Exec(`DELETE FROM docs WHERE email_id = ?`, o.delete); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("index delete %q: %w", o.delete, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index tx: %w", err)
	}
	w.pending = w.pending[:0]
	return nil
}

func applyUpsert(tx *sql.Tx, doc *Document) error {
	// Replace wholesale; the delete trigger keeps the FTS table in step.
	if _, err := tx.Exec(`DELETE FROM docs WHERE email_id = ?`, doc.EmailID); err != nil {
		return fmt.Errorf("index replace %q: %w", doc.EmailID, err)
	}
	_, err := tx.Exec(`
		INSERT INTO docs (email_id, account_id, account_type, folder, from_address,
		                  from_name, subject, body, received_at, is_read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.EmailID, doc.AccountID, doc.AccountType, doc.Folder, doc.FromAddress,
		doc.FromName, doc.Subject, doc.Body, doc.ReceivedAt, boolInt(doc.IsRead),
	)
	if err != nil {
		return fmt.Errorf("index upsert %q: %w", doc.EmailID, err)
	}
	return nil
}

// Rebuild drops every document and repopulates the index by streaming all
// emails from src. The whole rebuild is one transaction, so readers see
// either the old index or the complete new one.
func (w *Writer) Rebuild(src DocumentSource) error {
	tx, err := w.ix.db.Begin()
	if err != nil {
		return fmt.Errorf("begin rebuild tx: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM docs`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear index: %w", err)
	}

	err = src.ForEachDocument(func(doc Document) error {
		return applyUpsert(tx, &doc)
	})
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("rebuild index: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rebuild: %w", err)
	}
	w.pending = w.pending[:0]
	return nil
}

// DocumentSource streams documents for a rebuild.
type DocumentSource interface {
	ForEachDocument(fn func(Document) error) error
}

// Close releases the writer lock. Buffered but uncommitted operations are
// discarded.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.pending = nil
	if err := os.Remove(w.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release index lock: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
