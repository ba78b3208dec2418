package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/esslab/ess/internal/scheduler"
	"github.com/esslab/ess/internal/search"
	"github.com/esslab/ess/internal/store"
)

// AccountInfo represents an account in list responses.
type AccountInfo struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	Type        string `json:"type,omitempty"`
	Connector   string `json:"connector,omitempty"`
	LastSyncAt  string `json:"last_sync_at,omitempty"`
	NextSyncAt  string `json:"next_sync_at,omitempty"`
	Schedule    string `json:"schedule,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// SchedulerStatusResponse represents scheduler status.
type SchedulerStatusResponse struct {
	Running  bool                      `json:"running"`
	Accounts []scheduler.AccountStatus `json:"accounts"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// queryFilters builds search filters from common query parameters.
func queryFilters(r *http.Request) (search.Filters, error) {
	q := r.URL.Query()

	scope, err := search.ParseScope(q.Get("scope"))
	if err != nil {
		return search.Filters{}, err
	}

	f := search.Filters{
		Scope:      scope,
		AccountID:  q.Get("account"),
		Folder:     q.Get("folder"),
		From:       q.Get("from"),
		To:         q.Get("to"),
		UnreadOnly: q.Get("unread") == "true",
	}

	if v := q.Get("since"); v != "" {
		t, err := parseDateParam(v)
		if err != nil {
			return f, err
		}
		f.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := parseDateParam(v)
		if err != nil {
			return f, err
		}
		f.Until = t
	}

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	f.Limit = pageSize
	f.Offset = (page - 1) * pageSize
	return f, nil
}

func parseDateParam(v string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("dates must be RFC 3339 or YYYY-MM-DD")
}

// handleStats returns combined store and index statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.query.Stats()
	if err != nil {
		s.logger.Error("failed to get stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleListMessages returns a filtered, paginated message listing.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	f, err := queryFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}

	emails, err := s.query.List(f)
	if err != nil {
		s.logger.Error("failed to list messages", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(emails),
		"messages": emails,
	})
}

func emailIDParam(r *http.Request) string {
	return chi.URLParam(r, "account") + "/" + chi.URLParam(r, "id")
}

// handleGetMessage returns a single message.
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	email, err := s.query.Show(emailIDParam(r))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "Message not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get message", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve message")
		return
	}
	writeJSON(w, http.StatusOK, email)
}

// handleGetThread returns the conversation containing a message.
func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	thread, err := s.query.Thread(emailIDParam(r))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "Message not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get thread", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve thread")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(thread),
		"messages": thread,
	})
}

// handleSearch runs a ranked full-text query.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "Query parameter 'q' is required")
		return
	}

	f, err := queryFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}

	results, err := s.query.Search(query, f)
	if err != nil {
		s.logger.Error("search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Search failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(results),
		"results": results,
	})
}

// handleContacts returns derived contacts ordered by message volume.
func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 500 {
		limit = 50
	}

	contacts, err := s.query.Contacts(r.URL.Query().Get("q"), limit)
	if err != nil {
		s.logger.Error("failed to list contacts", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve contacts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(contacts),
		"contacts": contacts,
	})
}

// handleListAccounts returns all configured accounts with schedule status.
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	var accounts []AccountInfo

	for _, acc := range s.cfg.Accounts {
		info := AccountInfo{
			ID:          acc.ID,
			Email:       acc.Email,
			DisplayName: acc.DisplayName,
			Type:        acc.Type,
			Connector:   acc.Connector,
			Schedule:    acc.Schedule,
			Enabled:     acc.Enabled,
		}

		for _, status := range s.scheduler.Status() {
			if status.AccountID == acc.ID {
				if !status.LastRun.IsZero() {
					info.LastSyncAt = status.LastRun.UTC().Format(time.RFC3339)
				}
				if !status.NextRun.IsZero() {
					info.NextSyncAt = status.NextRun.UTC().Format(time.RFC3339)
				}
				break
			}
		}

		accounts = append(accounts, info)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": accounts,
	})
}

// handleTriggerSync manually triggers a sync for an account.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "missing_account", "Account ID is required")
		return
	}

	err := s.scheduler.TriggerSync(account)
	if err != nil {
		s.logger.Error("failed to trigger sync", "account", account, "error", err)
		writeError(w, http.StatusConflict, "sync_error", err.Error())
		return
	}

	s.logger.Info("sync triggered via API", "account", account)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": "Sync started for " + account,
	})
}

// handleSchedulerStatus returns the scheduler status.
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SchedulerStatusResponse{
		Running:  s.scheduler.IsRunning(),
		Accounts: s.scheduler.Status(),
	})
}
