package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Contact is derived from email senders. Contacts are never authored
// directly; RebuildContacts can always regenerate the table from emails.
type Contact struct {
	EmailAddress string    `json:"email_address"`
	DisplayName  string    `json:"display_name,omitempty"`
	MessageCount int64     `json:"message_count"`
	FirstSeen    time.Time `json:"first_seen,omitzero"`
	LastSeen     time.Time `json:"last_seen,omitzero"`
}

// BumpContactTx records one sighting of a sender inside a batch transaction.
// The display name follows the non-empty value with the newest seenAt, not
// the last bump applied; batches may arrive in any order across scopes, and
// the result must match what RebuildContacts derives. name_seen tracks the
// timestamp the current name came from.
func BumpContactTx(tx *sql.Tx, address, displayName string, seenAt time.Time) error {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return nil
	}
	seen := formatTime(seenAt)
	var nameSeen any
	if strings.TrimSpace(displayName) != "" {
		nameSeen = seen
	}

	_, err := tx.Exec(`
		INSERT INTO contacts (email_address, display_name, message_count, first_seen, last_seen, name_seen)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(email_address) DO UPDATE SET
			message_count = message_count + 1,
			display_name  = CASE WHEN excluded.name_seen IS NOT NULL
			                      AND (name_seen IS NULL OR excluded.name_seen >= name_seen)
			                     THEN excluded.display_name ELSE display_name END,
			name_seen     = CASE WHEN excluded.name_seen IS NOT NULL
			                      AND (name_seen IS NULL OR excluded.name_seen >= name_seen)
			                     THEN excluded.name_seen ELSE name_seen END,
			first_seen    = MIN(first_seen, excluded.first_seen),
			last_seen     = MAX(last_seen, excluded.last_seen)`,
		address, nullable(displayName), seen, seen, nameSeen,
	)
	if err != nil {
		return fmt.Errorf("bump contact %q: %w", address, err)
	}
	return nil
}

// RebuildContacts recomputes the contacts table from the emails table.
// The result is identical to what incremental bumps would have produced.
func (s *Store) RebuildContacts() error {
	return s.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM contacts`); err != nil {
			return fmt.Errorf("clear contacts: %w", err)
		}
		_, err := tx.Exec(`
			INSERT INTO contacts (email_address, display_name, message_count, first_seen, last_seen, name_seen)
			SELECT lower(from_address),
			       (SELECT e2.from_name FROM emails e2
			        WHERE lower(e2.from_address) = lower(e.from_address)
			          AND e2.from_name IS NOT NULL AND e2.from_name != ''
			        ORDER BY e2.received_at DESC LIMIT 1),
			       COUNT(*),
			       MIN(received_at),
			       MAX(received_at),
			       (SELECT MAX(e2.received_at) FROM emails e2
			        WHERE lower(e2.from_address) = lower(e.from_address)
			          AND e2.from_name IS NOT NULL AND e2.from_name != '')
			FROM emails e
			WHERE from_address IS NOT NULL AND from_address != ''
			GROUP BY lower(from_address)`)
		if err != nil {
			return fmt.Errorf("rebuild contacts: %w", err)
		}
		return nil
	})
}

// ListContacts returns contacts ordered by message count. A non-empty search
// term matches against the address or display name.
func (s *Store) ListContacts(search string, limit int) ([]*Contact, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT email_address, COALESCE(display_name, ''), message_count,
		       COALESCE(first_seen, ''), COALESCE(last_seen, '')
		FROM contacts`
	var args []any
	if search = strings.TrimSpace(search); search != "" {
		query += ` WHERE email_address LIKE ? OR display_name LIKE ?`
		pattern := "%" + search + "%"
		args = append(args, pattern, pattern)
	}
	query += ` ORDER BY message_count DESC, email_address LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*Contact
	for rows.Next() {
		var c Contact
		var firstSeen, lastSeen string
		if err := rows.Scan(&c.EmailAddress, &c.DisplayName, &c.MessageCount, &firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		if firstSeen != "" {
			if c.FirstSeen, err = parseTime(firstSeen); err != nil {
				return nil, fmt.Errorf("parse first_seen: %w", err)
			}
		}
		if lastSeen != "" {
			if c.LastSeen, err = parseTime(lastSeen); err != nil {
				return nil, fmt.Errorf("parse last_seen: %w", err)
			}
		}
		contacts = append(contacts, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return contacts, nil
}
