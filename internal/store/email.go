package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Email is a canonical message row. The pair (AccountID, SourceMessageID)
// uniquely identifies a message; re-ingesting the same pair updates the
// existing row in place.
type Email struct {
	ID                string    `json:"id"`
	AccountID         string    `json:"account_id"`
	SourceMessageID   string    `json:"source_message_id"`
	InternetMessageID string    `json:"internet_message_id,omitempty"`
	ConversationID    string    `json:"conversation_id,omitempty"`
	Subject           string    `json:"subject,omitempty"`
	FromAddress       string    `json:"from_address,omitempty"`
	FromName          string    `json:"from_name,omitempty"`
	ToAddresses       []string  `json:"to_addresses,omitempty"`
	CcAddresses       []string  `json:"cc_addresses,omitempty"`
	BccAddresses      []string  `json:"bcc_addresses,omitempty"`
	BodyText          string    `json:"body_text,omitempty"`
	BodyHTML          string    `json:"body_html,omitempty"`
	BodyPreview       string    `json:"body_preview,omitempty"`
	ReceivedAt        time.Time `json:"received_at"`
	SentAt            time.Time `json:"sent_at,omitzero"`
	Importance        string    `json:"importance,omitempty"`
	IsRead            bool      `json:"is_read"`
	HasAttachments    bool      `json:"has_attachments"`
	Folder            string    `json:"folder,omitempty"`
	Categories        []string  `json:"categories,omitempty"`
	FlagStatus        string    `json:"flag_status,omitempty"`
	WebLink           string    `json:"web_link,omitempty"`
	Metadata          string    `json:"metadata,omitempty"`
}

// Effect describes what an upsert did to the store.
type Effect int

const (
	EffectUnchanged Effect = iota
	EffectInserted
	EffectUpdated
)

func (e Effect) String() string {
	switch e {
	case EffectInserted:
		return "inserted"
	case EffectUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}

// ContentHash returns a stable hash over the mutable content fields.
// Two emails with equal hashes are treated as identical for upsert purposes.
func (e *Email) ContentHash() string {
	h := sha256.New()
	fields := []string{
		e.Subject, e.FromAddress, e.FromName,
		strings.Join(e.ToAddresses, ","),
		strings.Join(e.CcAddresses, ","),
		strings.Join(e.BccAddresses, ","),
		e.BodyText, e.BodyHTML, e.BodyPreview,
		formatTime(e.ReceivedAt),
		e.Importance,
		strconv.FormatBool(e.IsRead),
		strconv.FormatBool(e.HasAttachments),
		e.Folder,
		strings.Join(e.Categories, ","),
		e.FlagStatus,
		e.ConversationID,
	}
	for _, f := range fields {
		h.Write([]byte(f))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// UpsertEmail inserts or updates a single email in its own transaction.
func (s *Store) UpsertEmail(e *Email) (Effect, error) {
	var eff Effect
	err := s.WithTx(func(tx *sql.Tx) error {
		var txErr error
		eff, txErr = UpsertEmailTx(tx, e)
		return txErr
	})
	return eff, err
}

// UpsertEmailTx inserts or updates an email inside an existing transaction.
// The row is keyed by (account_id, source_message_id): a new pair inserts,
// an existing pair with different content updates, identical content is a
// no-op. The email's ID is filled in from the stored row.
func UpsertEmailTx(tx *sql.Tx, e *Email) (Effect, error) {
	if e.AccountID == "" || e.SourceMessageID == "" {
		return EffectUnchanged, fmt.Errorf("upsert email: account_id and source_message_id are required")
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now()
	}
	if e.ID == "" {
		e.ID = e.AccountID + "/" + e.SourceMessageID
	}

	newHash := e.ContentHash()

	var existingID, existingHash string
	err := tx.QueryRow(
		`SELECT id, content_hash FROM emails WHERE account_id = ? AND source_message_id = ?`,
		e.AccountID, e.SourceMessageID,
	).Scan(&existingID, &existingHash)

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.Exec(`
			INSERT INTO emails (
				id, account_id, source_message_id, internet_message_id, conversation_id,
				subject, from_address, from_name, to_addresses, cc_addresses, bcc_addresses,
				body_text, body_html, body_preview, received_at, sent_at, importance,
				is_read, has_attachments, folder, categories, flag_status, web_link,
				metadata, content_hash, updated_at
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			e.ID, e.AccountID, e.SourceMessageID, nullable(e.InternetMessageID), nullable(e.ConversationID),
			nullable(e.Subject), nullable(e.FromAddress), nullable(e.FromName),
			jsonList(e.ToAddresses), jsonList(e.CcAddresses), jsonList(e.BccAddresses),
			nullable(e.BodyText), nullable(e.BodyHTML), nullable(e.BodyPreview),
			formatTime(e.ReceivedAt), nullableTime(e.SentAt), nullable(e.Importance),
			boolInt(e.IsRead), boolInt(e.HasAttachments), nullable(e.Folder),
			jsonList(e.Categories), nullable(e.FlagStatus), nullable(e.WebLink),
			nullable(e.Metadata), newHash, formatTime(time.Now()),
		)
		if err != nil {
			return EffectUnchanged, fmt.Errorf("insert email: %w", err)
		}
		return EffectInserted, nil

	case err != nil:
		return EffectUnchanged, fmt.Errorf("lookup email: %w", err)

	case existingHash == newHash:
		e.ID = existingID
		return EffectUnchanged, nil

	default:
		e.ID = existingID
		_, err = tx.Exec(`
			UPDATE emails SET
				internet_message_id = ?, conversation_id = ?, subject = ?,
				from_address = ?, from_name = ?, to_addresses = ?, cc_addresses = ?,
				bcc_addresses = ?, body_text = ?, body_html = ?, body_preview = ?,
				received_at = ?, sent_at = ?, importance = ?, is_read = ?,
				has_attachments = ?, folder = ?, categories = ?, flag_status = ?,
				web_link = ?, metadata = ?, content_hash = ?, updated_at = ?
			WHERE id = ?`,
			nullable(e.InternetMessageID), nullable(e.ConversationID), nullable(e.Subject),
			nullable(e.FromAddress), nullable(e.FromName),
			jsonList(e.ToAddresses), jsonList(e.CcAddresses), jsonList(e.BccAddresses),
			nullable(e.BodyText), nullable(e.BodyHTML), nullable(e.BodyPreview),
			formatTime(e.ReceivedAt), nullableTime(e.SentAt), nullable(e.Importance),
			boolInt(e.IsRead), boolInt(e.HasAttachments), nullable(e.Folder),
			jsonList(e.Categories), nullable(e.FlagStatus), nullable(e.WebLink),
			nullable(e.Metadata), newHash, formatTime(time.Now()),
			existingID,
		)
		if err != nil {
			return EffectUnchanged, fmt.Errorf("update email: %w", err)
		}
		return EffectUpdated, nil
	}
}

// DeleteEmailTx removes an email by its source identity and returns the
// deleted row's ID, or "" if no such row existed. Deleting a missing row is
// not an error.
func DeleteEmailTx(tx *sql.Tx, accountID, sourceMessageID string) (string, error) {
	var id string
	err := tx.QueryRow(
		`SELECT id FROM emails WHERE account_id = ? AND source_message_id = ?`,
		accountID, sourceMessageID,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup email for delete: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM emails WHERE id = ?`, id); err != nil {
		return "", fmt.Errorf("delete email: %w", err)
	}
	return id, nil
}

// DeleteEmail removes an email in its own transaction.
func (s *Store) DeleteEmail(accountID, sourceMessageID string) (string, error) {
	var id string
	err := s.WithTx(func(tx *sql.Tx) error {
		var txErr error
		id, txErr = DeleteEmailTx(tx, accountID, sourceMessageID)
		return txErr
	})
	return id, err
}

const emailColumns = `
	id, account_id, source_message_id,
	COALESCE(internet_message_id, ''), COALESCE(conversation_id, ''),
	COALESCE(subject, ''), COALESCE(from_address, ''), COALESCE(from_name, ''),
	to_addresses, cc_addresses, bcc_addresses,
	COALESCE(body_text, ''), COALESCE(body_html, ''), COALESCE(body_preview, ''),
	received_at, COALESCE(sent_at, ''), COALESCE(importance, ''),
	is_read, has_attachments, COALESCE(folder, ''), categories,
	COALESCE(flag_status, ''), COALESCE(web_link, ''), COALESCE(metadata, '')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmail(row rowScanner) (*Email, error) {
	var e Email
	var toJSON, ccJSON, bccJSON, catJSON string
	var receivedAt, sentAt string
	var isRead, hasAttachments int

	err := row.Scan(
		&e.ID, &e.AccountID, &e.SourceMessageID,
		&e.InternetMessageID, &e.ConversationID,
		&e.Subject, &e.FromAddress, &e.FromName,
		&toJSON, &ccJSON, &bccJSON,
		&e.BodyText, &e.BodyHTML, &e.BodyPreview,
		&receivedAt, &sentAt, &e.Importance,
		&isRead, &hasAttachments, &e.Folder, &catJSON,
		&e.FlagStatus, &e.WebLink, &e.Metadata,
	)
	if err != nil {
		return nil, err
	}

	e.IsRead = isRead != 0
	e.HasAttachments = hasAttachments != 0
	e.ToAddresses = fromJSONList(toJSON)
	e.CcAddresses = fromJSONList(ccJSON)
	e.BccAddresses = fromJSONList(bccJSON)
	e.Categories = fromJSONList(catJSON)

	if e.ReceivedAt, err = parseTime(receivedAt); err != nil {
		return nil, fmt.Errorf("parse received_at %q: %w", receivedAt, err)
	}
	if sentAt != "" {
		if e.SentAt, err = parseTime(sentAt); err != nil {
			return nil, fmt.Errorf("parse sent_at %q: %w", sentAt, err)
		}
	}

	return &e, nil
}

// GetEmail returns an email by its store ID.
func (s *Store) GetEmail(id string) (*Email, error) {
	row := s.db.QueryRow(`SELECT `+emailColumns+` FROM emails WHERE id = ?`, id)
	e, err := scanEmail(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get email: %w", err)
	}
	return e, nil
}

// GetEmailBySource returns an email by its (account, source message) identity.
func (s *Store) GetEmailBySource(accountID, sourceMessageID string) (*Email, error) {
	row := s.db.QueryRow(
		`SELECT `+emailColumns+` FROM emails WHERE account_id = ? AND source_message_id = ?`,
		accountID, sourceMessageID,
	)
	e, err := scanEmail(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get email by source: %w", err)
	}
	return e, nil
}

// Filter narrows ListEmails results. Zero values mean "no constraint".
type Filter struct {
	AccountID   string
	AccountType string
	Folder      string
	From        string
	To          string
	Since       time.Time
	Until       time.Time
	UnreadOnly  bool
	Limit       int
	Offset      int
}

// ListEmails returns emails matching the filter, newest first.
func (s *Store) ListEmails(f Filter) ([]*Email, error) {
	var where []string
	var args []any

	query := `SELECT ` + prefixColumns(emailColumns, "e.") + ` FROM emails e`
	if f.AccountType != "" {
		query += ` JOIN accounts a ON a.account_id = e.account_id`
		where = append(where, "a.account_type = ?")
		args = append(args, f.AccountType)
	}

	if f.AccountID != "" {
		where = append(where, "e.account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.Folder != "" {
		where = append(where, "e.folder = ?")
		args = append(args, strings.ToLower(f.Folder))
	}
	if f.From != "" {
		where = append(where, "e.from_address = ?")
		args = append(args, strings.ToLower(strings.TrimSpace(f.From)))
	}
	if f.To != "" {
		addr := strings.ToLower(strings.TrimSpace(f.To))
		where = append(where, "(instr(e.to_addresses, ?) > 0 OR instr(e.cc_addresses, ?) > 0 OR instr(e.bcc_addresses, ?) > 0)")
		args = append(args, addr, addr, addr)
	}
	if !f.Since.IsZero() {
		where = append(where, "e.received_at >= ?")
		args = append(args, formatTime(f.Since))
	}
	if !f.Until.IsZero() {
		where = append(where, "e.received_at < ?")
		args = append(args, formatTime(f.Until))
	}
	if f.UnreadOnly {
		where = append(where, "e.is_read = 0")
	}

	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY e.received_at DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	return s.queryEmails(query, args...)
}

// prefixColumns qualifies bare column references with a table alias.
// COALESCE-wrapped columns get the alias inside the function call.
func prefixColumns(cols, prefix string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, "COALESCE(") {
			parts[i] = strings.Replace(p, "COALESCE(", "COALESCE("+prefix, 1)
		} else {
			parts[i] = prefix + p
		}
	}
	return strings.Join(parts, ", ")
}

// GetThread returns all emails in a conversation, oldest first.
func (s *Store) GetThread(conversationID string) ([]*Email, error) {
	return s.queryEmails(
		`SELECT `+emailColumns+` FROM emails WHERE conversation_id = ? ORDER BY received_at ASC`,
		conversationID,
	)
}

// ForEachEmail streams every email to fn, ordered by received_at descending.
// Used to rebuild the search index from the store alone.
func (s *Store) ForEachEmail(fn func(*Email) error) error {
	rows, err := s.db.Query(`SELECT ` + emailColumns + ` FROM emails ORDER BY received_at DESC`)
	if err != nil {
		return fmt.Errorf("iterate emails: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return fmt.Errorf("scan email: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CountEmails returns the number of emails, optionally restricted to one account.
func (s *Store) CountEmails(accountID string) (int64, error) {
	var n int64
	var err error
	if accountID == "" {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM emails`).Scan(&n)
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM emails WHERE account_id = ?`, accountID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count emails: %w", err)
	}
	return n, nil
}

func (s *Store) queryEmails(query string, args ...any) ([]*Email, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query emails: %w", err)
	}
	defer rows.Close()

	var emails []*Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		emails = append(emails, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate emails: %w", err)
	}
	return emails, nil
}

func jsonList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func fromJSONList(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
