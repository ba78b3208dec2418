package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Account is a registered mail account. AccountID is case-normalized on
// write; Config holds connector settings as JSON and must never contain
// secrets (credentials live in config or the environment only).
type Account struct {
	AccountID    string    `json:"account_id"`
	EmailAddress string    `json:"email_address"`
	DisplayName  string    `json:"display_name,omitempty"`
	TenantID     string    `json:"tenant_id,omitempty"`
	AccountType  string    `json:"account_type"`
	Enabled      bool      `json:"enabled"`
	LastSync     time.Time `json:"last_sync,omitzero"`
	Config       string    `json:"config,omitempty"`
}

// UpsertAccount inserts or updates an account row.
func (s *Store) UpsertAccount(a *Account) error {
	a.AccountID = strings.ToLower(strings.TrimSpace(a.AccountID))
	if a.AccountID == "" {
		return fmt.Errorf("upsert account: account_id is required")
	}
	if a.AccountType == "" {
		a.AccountType = "professional"
	}

	_, err := s.db.Exec(`
		INSERT INTO accounts (account_id, email_address, display_name, tenant_id, account_type, enabled, config)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			email_address = excluded.email_address,
			display_name  = excluded.display_name,
			tenant_id     = excluded.tenant_id,
			account_type  = excluded.account_type,
			enabled       = excluded.enabled,
			config        = excluded.config`,
		a.AccountID, a.EmailAddress, nullable(a.DisplayName), nullable(a.TenantID),
		a.AccountType, boolInt(a.Enabled), nullable(a.Config),
	)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

// GetAccount returns an account by ID, or ErrNotFound.
func (s *Store) GetAccount(accountID string) (*Account, error) {
	accountID = strings.ToLower(strings.TrimSpace(accountID))
	row := s.db.QueryRow(`
		SELECT account_id, email_address, COALESCE(display_name, ''), COALESCE(tenant_id, ''),
		       account_type, enabled, COALESCE(last_sync, ''), COALESCE(config, '')
		FROM accounts WHERE account_id = ?`, accountID)

	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// ListAccounts returns all accounts ordered by ID.
func (s *Store) ListAccounts() ([]*Account, error) {
	rows, err := s.db.Query(`
		SELECT account_id, email_address, COALESCE(display_name, ''), COALESCE(tenant_id, ''),
		       account_type, enabled, COALESCE(last_sync, ''), COALESCE(config, '')
		FROM accounts ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

// DeleteAccount removes an account. Emails cascade via the foreign key;
// cursors for the account are cleared explicitly since sync_state keys are
// not relational.
func (s *Store) DeleteAccount(accountID string) error {
	accountID = strings.ToLower(strings.TrimSpace(accountID))
	return s.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM accounts WHERE account_id = ?`, accountID); err != nil {
			return fmt.Errorf("delete account: %w", err)
		}
		if _, err := tx.Exec(
			`DELETE FROM sync_state WHERE key LIKE '%_cursor:' || ? || ':%' OR key LIKE '%_cursor:' || ?`,
			accountID, accountID,
		); err != nil {
			return fmt.Errorf("clear account cursors: %w", err)
		}
		return nil
	})
}

// TouchAccountSync records a completed sync for the account.
func (s *Store) TouchAccountSync(accountID string, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE accounts SET last_sync = ? WHERE account_id = ?`,
		formatTime(at), strings.ToLower(strings.TrimSpace(accountID)),
	)
	if err != nil {
		return fmt.Errorf("touch account sync: %w", err)
	}
	return nil
}

func scanAccount(row rowScanner) (*Account, error) {
	var a Account
	var enabled int
	var lastSync string

	err := row.Scan(
		&a.AccountID, &a.EmailAddress, &a.DisplayName, &a.TenantID,
		&a.AccountType, &enabled, &lastSync, &a.Config,
	)
	if err != nil {
		return nil, err
	}

	a.Enabled = enabled != 0
	if lastSync != "" {
		if a.LastSync, err = parseTime(lastSync); err != nil {
			return nil, fmt.Errorf("parse last_sync %q: %w", lastSync, err)
		}
	}
	return &a, nil
}
