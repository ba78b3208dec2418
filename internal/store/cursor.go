package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Sync cursors live in the sync_state key/value table. Keys follow the form
// "{connector}_cursor:{account}:{scope}"; older releases wrote un-scoped or
// display-name-scoped keys, which GetCursor migrates lazily on first read.

// GetSyncState returns the value for key, or "" when absent.
func (s *Store) GetSyncState(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get sync state %q: %w", key, err)
	}
	return value, nil
}

// SetSyncState stores a value under key in its own transaction.
func (s *Store) SetSyncState(key, value string) error {
	return s.WithTx(func(tx *sql.Tx) error {
		return SetSyncStateTx(tx, key, value)
	})
}

// SetSyncStateTx stores a value under key inside an existing transaction.
func SetSyncStateTx(tx *sql.Tx, key, value string) error {
	_, err := tx.Exec(`
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("set sync state %q: %w", key, err)
	}
	return nil
}

// DeleteSyncState removes a key. Removing a missing key is not an error.
func (s *Store) DeleteSyncState(key string) error {
	if _, err := s.db.Exec(`DELETE FROM sync_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete sync state %q: %w", key, err)
	}
	return nil
}

// GetCursor returns the cursor stored under key. When key is absent, the
// legacy keys are consulted in order; a hit is moved under key so subsequent
// reads find it directly. Returns "" when no cursor exists anywhere.
func (s *Store) GetCursor(key string, legacyKeys ...string) (string, error) {
	value, err := s.GetSyncState(key)
	if err != nil || value != "" {
		return value, err
	}

	for _, legacy := range legacyKeys {
		legacyValue, err := s.GetSyncState(legacy)
		if err != nil {
			return "", err
		}
		if legacyValue == "" {
			continue
		}

		err = s.WithTx(func(tx *sql.Tx) error {
			if err := SetSyncStateTx(tx, key, legacyValue); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM sync_state WHERE key = ?`, legacy); err != nil {
				return fmt.Errorf("remove legacy cursor %q: %w", legacy, err)
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("migrate legacy cursor: %w", err)
		}
		return legacyValue, nil
	}

	return "", nil
}

// SetCursor stores a cursor under key in its own transaction.
func (s *Store) SetCursor(key, value string) error {
	return s.SetSyncState(key, value)
}

// ClearCursor removes a cursor, forcing the next sync to re-enumerate.
func (s *Store) ClearCursor(key string) error {
	return s.DeleteSyncState(key)
}
