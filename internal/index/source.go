package index

import (
	"fmt"

	"github.com/esslab/ess/internal/store"
)

// StoreSource adapts the canonical store into a DocumentSource for rebuilds.
type StoreSource struct {
	Store *store.Store
}

// ForEachDocument streams every stored email as an index document, resolving
// each email's account type from the accounts table.
func (s StoreSource) ForEachDocument(fn func(Document) error) error {
	accounts, err := s.Store.ListAccounts()
	if err != nil {
		return fmt.Errorf("list accounts for rebuild: %w", err)
	}
	types := make(map[string]string, len(accounts))
	for _, a := range accounts {
		types[a.AccountID] = a.AccountType
	}

	return s.Store.ForEachEmail(func(e *store.Email) error {
		accountType := types[e.AccountID]
		if accountType == "" {
			accountType = "professional"
		}
		return fn(DocumentFromEmail(e, accountType))
	})
}
