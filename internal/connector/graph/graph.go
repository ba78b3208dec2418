// Package graph syncs Microsoft 365 mailboxes through the Graph API's
// per-folder delta queries.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/esslab/ess/internal/connector"
	"github.com/esslab/ess/internal/store"
)

const (
	defaultBaseURL  = "https://graph.microsoft.com/v1.0"
	defaultTokenURL = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"

	selectFields = "id,subject,from,sender,toRecipients,ccRecipients,bccRecipients," +
		"body,bodyPreview,receivedDateTime,sentDateTime,importance,isRead," +
		"hasAttachments,conversationId,internetMessageId,categories,flag,webLink"
)

// wellKnownFolders maps Graph display names to canonical folder labels.
var wellKnownFolders = map[string]string{
	"inbox":         "inbox",
	"sent items":    "sent",
	"drafts":        "drafts",
	"deleted items": "trash",
	"junk email":    "spam",
	"archive":       "archive",
	"outbox":        "outbox",
}

// excludedFolders are system folders that never sync.
var excludedFolders = map[string]bool{
	"sync issues":     true,
	"conflicts":       true,
	"local failures":  true,
	"server failures": true,
	"search folders":  true,
	"conversation history": true,
}

// Connector implements connector.Connector against Microsoft Graph using
// the client-credentials flow.
type Connector struct {
	client   *http.Client
	baseURL  string
	tokenURL string
	logger   *slog.Logger

	mu     sync.Mutex
	tokens map[string]oauth2.TokenSource
}

// Option configures the connector.
type Option func(*Connector)

// WithBaseURL overrides the Graph API endpoint.
func WithBaseURL(u string) Option {
	return func(c *Connector) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTokenURL overrides the token endpoint template. The template must
// contain one %s for the tenant ID, or no verb at all for a fixed URL.
func WithTokenURL(u string) Option {
	return func(c *Connector) { c.tokenURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Connector) { c.client = client }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Connector) { c.logger = logger }
}

// New creates a Graph connector.
func New(opts ...Option) *Connector {
	c := &Connector{
		client:   &http.Client{Timeout: 60 * time.Second},
		baseURL:  defaultBaseURL,
		tokenURL: defaultTokenURL,
		logger:   slog.Default(),
		tokens:   make(map[string]oauth2.TokenSource),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements connector.Connector.
func (c *Connector) Name() string { return "graph" }

// LegacyCursorKeys lists cursor keys written by earlier releases: folder
// label scoped, then account scoped.
func (c *Connector) LegacyCursorKeys(acct *connector.Account, scope connector.Scope) []string {
	return []string{
		fmt.Sprintf("graph_cursor:%s:%s", acct.ID, scope.Label),
		fmt.Sprintf("graph_cursor:%s", acct.ID),
	}
}

func (c *Connector) tokenSource(ctx context.Context, acct *connector.Account) (oauth2.TokenSource, error) {
	if acct.Credentials.ClientID == "" || acct.Credentials.ClientSecret == "" || acct.TenantID == "" {
		return nil, fmt.Errorf("account %s: graph credentials not configured", acct.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.tokens[acct.ID]; ok {
		return ts, nil
	}

	tokenURL := c.tokenURL
	if strings.Contains(tokenURL, "%s") {
		tokenURL = fmt.Sprintf(tokenURL, url.PathEscape(acct.TenantID))
	}
	conf := &clientcredentials.Config{
		ClientID:     acct.Credentials.ClientID,
		ClientSecret: acct.Credentials.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	ts := conf.TokenSource(context.WithoutCancel(ctx))
	c.tokens[acct.ID] = ts
	return ts, nil
}

type folderPage struct {
	Value    []folder `json:"value"`
	NextLink string   `json:"@odata.nextLink"`
}

type folder struct {
	ID               string `json:"id"`
	DisplayName      string `json:"displayName"`
	ChildFolderCount int    `json:"childFolderCount"`
}

// Scopes discovers the account's mail folders, one sync scope per folder.
// Nested folders get path labels ("projects/acme"); known system folders
// are excluded.
func (c *Connector) Scopes(ctx context.Context, acct *connector.Account) ([]connector.Scope, error) {
	top, err := c.listFolders(ctx, acct, fmt.Sprintf("%s/users/%s/mailFolders?$top=200",
		c.baseURL, url.PathEscape(acct.Email)))
	if err != nil {
		return nil, err
	}

	var scopes []connector.Scope
	for _, f := range top {
		name := strings.ToLower(strings.TrimSpace(f.DisplayName))
		if excludedFolders[name] {
			continue
		}
		label := name
		if known, ok := wellKnownFolders[name]; ok {
			label = known
		}
		scopes = append(scopes, connector.Scope{ID: f.ID, Label: label})

		if f.ChildFolderCount > 0 {
			children, err := c.listFolders(ctx, acct, fmt.Sprintf(
				"%s/users/%s/mailFolders/%s/childFolders?$top=200",
				c.baseURL, url.PathEscape(acct.Email), url.PathEscape(f.ID)))
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				childName := strings.ToLower(strings.TrimSpace(child.DisplayName))
				scopes = append(scopes, connector.Scope{
					ID:    child.ID,
					Label: label + "/" + childName,
				})
			}
		}
	}
	return scopes, nil
}

func (c *Connector) listFolders(ctx context.Context, acct *connector.Account, pageURL string) ([]folder, error) {
	var folders []folder
	for pageURL != "" {
		var page folderPage
		if err := c.getJSON(ctx, acct, pageURL, &page); err != nil {
			return nil, fmt.Errorf("list folders: %w", err)
		}
		folders = append(folders, page.Value...)
		pageURL = page.NextLink
	}
	return folders, nil
}

type messagePage struct {
	Value     []connector.WireMessage `json:"value"`
	NextLink  string                  `json:"@odata.nextLink"`
	DeltaLink string                  `json:"@odata.deltaLink"`
}

// Enumerate walks the folder's delta query from the beginning, emitting
// every live message, and returns the final delta link as the baseline
// cursor.
func (c *Connector) Enumerate(ctx context.Context, acct *connector.Account, scope connector.Scope, emit func(*store.Email) error) (string, error) {
	pageURL := fmt.Sprintf("%s/users/%s/mailFolders/%s/messages/delta?$select=%s",
		c.baseURL, url.PathEscape(acct.Email), url.PathEscape(scope.ID), selectFields)

	for {
		var page messagePage
		if err := c.getJSON(ctx, acct, pageURL, &page); err != nil {
			return "", fmt.Errorf("enumerate %s: %w", scope.Label, err)
		}
		for i := range page.Value {
			m := &page.Value[i]
			if m.Removed != nil {
				continue
			}
			if err := emit(m.ToEmail(acct.ID, scope.Label)); err != nil {
				return "", err
			}
		}
		if page.NextLink != "" {
			pageURL = page.NextLink
			continue
		}
		if page.DeltaLink == "" {
			return "", fmt.Errorf("enumerate %s: delta response carried no delta link", scope.Label)
		}
		return page.DeltaLink, nil
	}
}

// Delta fetches one page of changes since cursor. Removed messages become
// deletes; everything else is an upsert.
func (c *Connector) Delta(ctx context.Context, acct *connector.Account, scope connector.Scope, cursor string) (*connector.Batch, error) {
	var page messagePage
	if err := c.getJSON(ctx, acct, cursor, &page); err != nil {
		return nil, fmt.Errorf("delta %s: %w", scope.Label, err)
	}

	batch := &connector.Batch{}
	for i := range page.Value {
		m := &page.Value[i]
		if m.Removed != nil {
			batch.Changes = append(batch.Changes, connector.Change{DeleteID: m.ID})
			continue
		}
		batch.Changes = append(batch.Changes, connector.Change{Upsert: m.ToEmail(acct.ID, scope.Label)})
	}

	if page.NextLink != "" {
		batch.NextCursor = page.NextLink
		batch.HasMore = true
	} else {
		batch.NextCursor = page.DeltaLink
	}
	return batch, nil
}

type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// getJSON performs an authenticated GET and decodes the response,
// translating throttling and expired-cursor responses into connector
// sentinels. Error bodies are reduced to the Graph error code so nothing
// sensitive is echoed.
func (c *Connector) getJSON(ctx context.Context, acct *connector.Account, rawURL string, out any) error {
	ts, err := c.tokenSource(ctx, acct)
	if err != nil {
		return err
	}
	token, err := ts.Token()
	if err != nil {
		return fmt.Errorf("acquire graph token: %w", sanitizeOAuthError(err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	token.SetAuthHeader(req)
	req.Header.Set("Prefer", `outlook.body-content-type="text"`)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("graph request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode graph response: %w", err)
		}
		return nil

	case http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return &connector.RateLimitError{RetryAfter: retryAfter}

	case http.StatusGone:
		return connector.ErrCursorExpired
	}

	code := readErrorCode(resp.Body)
	if resp.StatusCode == http.StatusNotFound && code == "SyncStateNotFound" {
		return connector.ErrCursorExpired
	}
	if code != "" {
		return fmt.Errorf("graph returned %d (%s)", resp.StatusCode, code)
	}
	return fmt.Errorf("graph returned %d", resp.StatusCode)
}

func readErrorCode(body io.Reader) string {
	var ge graphError
	if err := json.NewDecoder(io.LimitReader(body, 1<<16)).Decode(&ge); err != nil {
		return ""
	}
	return ge.Error.Code
}

// sanitizeOAuthError strips response bodies that oauth2 embeds in
// RetrieveError, which could include echoed request parameters.
func sanitizeOAuthError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return fmt.Errorf("token endpoint returned %d", re.Response.StatusCode)
	}
	return err
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
