// Package search is the read side of ess: ranked full-text search over the
// index hydrated from the canonical store, plus listing, message and thread
// retrieval, and combined statistics.
package search

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/esslab/ess/internal/index"
	"github.com/esslab/ess/internal/store"
)

// Scope selects which account class a query covers.
type Scope string

const (
	ScopeAll          Scope = "all"
	ScopeProfessional Scope = "professional"
	ScopePersonal     Scope = "personal"
)

// ParseScope normalizes a scope string. "pro" is accepted as shorthand for
// professional; empty means all.
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return ScopeAll, nil
	case "professional", "pro", "work":
		return ScopeProfessional, nil
	case "personal":
		return ScopePersonal, nil
	default:
		return "", fmt.Errorf("unknown scope %q (use all, professional, or personal)", s)
	}
}

// Filters restrict a search or listing.
type Filters struct {
	Scope      Scope
	AccountID  string
	Folder     string
	From       string
	To         string
	Since      time.Time
	Until      time.Time
	UnreadOnly bool
	Limit      int
	Offset     int
}

func (f Filters) indexFilters() index.Filters {
	ixf := index.Filters{
		AccountID:   f.AccountID,
		Folder:      f.Folder,
		FromAddress: f.From,
		Since:       f.Since,
		Until:       f.Until,
		UnreadOnly:  f.UnreadOnly,
	}
	if f.Scope == ScopeProfessional || f.Scope == ScopePersonal {
		ixf.AccountType = string(f.Scope)
	}
	return ixf
}

// Result is one search hit hydrated from the store.
type Result struct {
	Email   *store.Email `json:"email"`
	Score   float64      `json:"score"`
	Snippet string       `json:"snippet,omitempty"`
}

// Service answers read queries against the store and index.
type Service struct {
	store *store.Store
	index *index.Index
}

// New creates a search service.
func New(st *store.Store, ix *index.Index) *Service {
	return &Service{store: st, index: ix}
}

// Search runs a ranked query. Hits come from the index; each is hydrated
// from the canonical store, which remains the source of truth. An index
// entry whose email has since vanished from the store is dropped from the
// results rather than surfaced as an error.
func (s *Service) Search(query string, f Filters) ([]*Result, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	// The to filter lives only in the store, so overfetch when it is set
	// and trim after hydration.
	fetch := limit
	if f.To != "" {
		fetch = limit * 4
	}

	hits, err := s.index.Search(query, f.indexFilters(), fetch, f.Offset)
	if err != nil {
		return nil, err
	}

	toAddr := strings.ToLower(strings.TrimSpace(f.To))
	results := make([]*Result, 0, len(hits))
	for _, hit := range hits {
		email, err := s.store.GetEmail(hit.EmailID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if toAddr != "" && !hasAddress(email.ToAddresses, toAddr) {
			continue
		}
		results = append(results, &Result{
			Email:   email,
			Score:   hit.Score,
			Snippet: snippetFor(email, query),
		})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

func snippetFor(e *store.Email, query string) string {
	body := e.BodyText
	if body == "" {
		body = e.BodyPreview
	}
	return BuildSnippet(body, query)
}

func hasAddress(addrs []string, want string) bool {
	for _, a := range addrs {
		if strings.ToLower(a) == want {
			return true
		}
	}
	return false
}

// List returns emails straight from the store, newest first.
func (s *Service) List(f Filters) ([]*store.Email, error) {
	sf := store.Filter{
		AccountID:  f.AccountID,
		Folder:     f.Folder,
		From:       f.From,
		To:         f.To,
		Since:      f.Since,
		Until:      f.Until,
		UnreadOnly: f.UnreadOnly,
		Limit:      f.Limit,
		Offset:     f.Offset,
	}
	if f.Scope == ScopeProfessional || f.Scope == ScopePersonal {
		sf.AccountType = string(f.Scope)
	}
	return s.store.ListEmails(sf)
}

// Show returns one email by its ID ("account/source-message-id").
func (s *Service) Show(id string) (*store.Email, error) {
	return s.store.GetEmail(id)
}

// Thread returns the conversation containing the given email, oldest first.
func (s *Service) Thread(id string) ([]*store.Email, error) {
	email, err := s.store.GetEmail(id)
	if err != nil {
		return nil, err
	}
	if email.ConversationID == "" {
		return []*store.Email{email}, nil
	}
	return s.store.GetThread(email.ConversationID)
}

// Contacts returns derived contacts ordered by message volume.
func (s *Service) Contacts(query string, limit int) ([]*store.Contact, error) {
	return s.store.ListContacts(query, limit)
}

// Stats combines store and index statistics.
type Stats struct {
	Store *store.Stats `json:"store"`
	Index *index.Stats `json:"index"`
}

// Stats reports counts and sizes for both halves of the system.
func (s *Service) Stats() (*Stats, error) {
	st, err := s.store.GetStats()
	if err != nil {
		return nil, err
	}
	ix, err := s.index.GetStats()
	if err != nil {
		return nil, err
	}
	return &Stats{Store: st, Index: ix}, nil
}
