// Package gmailapi syncs Gmail mailboxes using the history-list watermark.
package gmailapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/esslab/ess/internal/connector"
	"github.com/esslab/ess/internal/store"
	"github.com/esslab/ess/internal/textutil"
)

const (
	defaultBaseURL  = "https://gmail.googleapis.com"
	defaultTokenURL = "https://oauth2.googleapis.com/token"

	pageSize = 100
)

// Connector implements connector.Connector against the Gmail REST API.
// The whole mailbox is one scope; the cursor is the profile historyId.
type Connector struct {
	client      *http.Client
	baseURL     string
	tokenURL    string
	logger      *slog.Logger
	limiter     *RateLimiter
	concurrency int

	mu     sync.Mutex
	tokens map[string]oauth2.TokenSource
	labels map[string]map[string]string // account -> label id -> name
}

// Option configures the connector.
type Option func(*Connector)

// WithBaseURL overrides the Gmail API endpoint.
func WithBaseURL(u string) Option {
	return func(c *Connector) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTokenURL overrides the OAuth token endpoint.
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

// WithRateLimit paces API calls at the given QPS.
func WithRateLimit(qps float64) Option {
	return func(c *Connector) { c.limiter = NewRateLimiter(qps) }
}

// WithConcurrency bounds parallel message fetches.
func WithConcurrency(n int) Option {
	return func(c *Connector) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// New creates a Gmail connector.
func New(opts ...Option) *Connector {
	c := &Connector{
		client:      &http.Client{Timeout: 60 * time.Second},
		baseURL:     defaultBaseURL,
		tokenURL:    defaultTokenURL,
		logger:      slog.Default(),
		limiter:     NewRateLimiter(defaultQPS),
		concurrency: 4,
		tokens:      make(map[string]oauth2.TokenSource),
		labels:      make(map[string]map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements connector.Connector.
func (c *Connector) Name() string { return "gmail" }

// LegacyCursorKeys lists the un-scoped cursor key written by earlier
// releases.
func (c *Connector) LegacyCursorKeys(acct *connector.Account, _ connector.Scope) []string {
	return []string{fmt.Sprintf("gmail_cursor:%s", acct.ID)}
}

func (c *Connector) tokenSource(ctx context.Context, acct *connector.Account) (oauth2.TokenSource, error) {
	cred := acct.Credentials
	if cred.ClientID == "" || cred.ClientSecret == "" || cred.RefreshToken == "" {
		return nil, fmt.Errorf("account %s: gmail credentials not configured", acct.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.tokens[acct.ID]; ok {
		return ts, nil
	}

	conf := &oauth2.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: c.tokenURL},
		Scopes:       []string{"https://www.googleapis.com/auth/gmail.readonly"},
	}
	ts := conf.TokenSource(context.WithoutCancel(ctx), &oauth2.Token{RefreshToken: cred.RefreshToken})
	c.tokens[acct.ID] = ts
	return ts, nil
}

// Scopes returns the single mailbox scope; Gmail's history watermark covers
// the whole account.
func (c *Connector) Scopes(ctx context.Context, acct *connector.Account) ([]connector.Scope, error) {
	if _, err := c.tokenSource(ctx, acct); err != nil {
		return nil, err
	}
	return []connector.Scope{{ID: "mailbox", Label: "all mail"}}, nil
}

type profileResponse struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    string `json:"historyId"`
}

type messageListResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	NextPageToken string `json:"nextPageToken"`
}

// Enumerate lists the whole mailbox, fetching message bodies with bounded
// parallelism. The profile historyId is captured before listing so changes
// that land mid-enumeration are replayed by the first delta.
func (c *Connector) Enumerate(ctx context.Context, acct *connector.Account, _ connector.Scope, emit func(*store.Email) error) (string, error) {
	var profile profileResponse
	if err := c.getJSON(ctx, acct, OpProfile, "/gmail/v1/users/me/profile", &profile); err != nil {
		return "", fmt.Errorf("gmail profile: %w", err)
	}

	if err := c.loadLabels(ctx, acct); err != nil {
		return "", err
	}

	pageToken := ""
	for {
		path := fmt.Sprintf("/gmail/v1/users/me/messages?maxResults=%d", pageSize)
		if pageToken != "" {
			path += "&pageToken=" + url.QueryEscape(pageToken)
		}
		var list messageListResponse
		if err := c.getJSON(ctx, acct, OpMessagesList, path, &list); err != nil {
			return "", fmt.Errorf("gmail list messages: %w", err)
		}

		ids := make([]string, 0, len(list.Messages))
		for _, m := range list.Messages {
			ids = append(ids, m.ID)
		}
		emails, err := c.fetchMessages(ctx, acct, ids)
		if err != nil {
			return "", err
		}
		for _, e := range emails {
			if e == nil {
				continue
			}
			if err := emit(e); err != nil {
				return "", err
			}
		}

		if list.NextPageToken == "" {
			return profile.HistoryID, nil
		}
		pageToken = list.NextPageToken
	}
}

// fetchMessages retrieves full messages in parallel, preserving input order.
// A message that vanished between list and get is skipped.
func (c *Connector) fetchMessages(ctx context.Context, acct *connector.Account, ids []string) ([]*store.Email, error) {
	emails := make([]*store.Email, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			var msg gmailMessage
			err := c.getJSON(gctx, acct, OpMessagesGet,
				"/gmail/v1/users/me/messages/"+url.PathEscape(id)+"?format=full", &msg)
			if err != nil {
				if isNotFound(err) {
					c.logger.Debug("message vanished during fetch", "message_id", id)
					return nil
				}
				return fmt.Errorf("gmail get message %s: %w", id, err)
			}
			emails[i] = c.toEmail(acct, &msg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return emails, nil
}

type historyResponse struct {
	History []struct {
		MessagesAdded []struct {
			Message struct {
				ID string `json:"id"`
			} `json:"message"`
		} `json:"messagesAdded"`
		MessagesDeleted []struct {
			Message struct {
				ID string `json:"id"`
			} `json:"message"`
		} `json:"messagesDeleted"`
		LabelsAdded []struct {
			Message struct {
				ID string `json:"id"`
			} `json:"message"`
		} `json:"labelsAdded"`
		LabelsRemoved []struct {
			Message struct {
				ID string `json:"id"`
			} `json:"message"`
		} `json:"labelsRemoved"`
	} `json:"history"`
	NextPageToken string `json:"nextPageToken"`
	HistoryID     string `json:"historyId"`
}

// Delta fetches one history page since the watermark. The cursor is either
// a bare historyId or "historyId:pageToken" while paging. A 404 means the
// watermark fell outside Gmail's retention window and the mailbox must be
// re-enumerated.
func (c *Connector) Delta(ctx context.Context, acct *connector.Account, _ connector.Scope, cursor string) (*connector.Batch, error) {
	historyID, pageToken, _ := strings.Cut(cursor, ":")

	path := fmt.Sprintf("/gmail/v1/users/me/history?startHistoryId=%s&maxResults=%d",
		url.QueryEscape(historyID), pageSize)
	if pageToken != "" {
		path += "&pageToken=" + url.QueryEscape(pageToken)
	}

	var hist historyResponse
	if err := c.getJSON(ctx, acct, OpHistoryList, path, &hist); err != nil {
		if isNotFound(err) {
			return nil, connector.ErrCursorExpired
		}
		return nil, fmt.Errorf("gmail history: %w", err)
	}

	if err := c.loadLabels(ctx, acct); err != nil {
		return nil, err
	}

	// Collapse the page into one action per message: a delete wins over
	// earlier changes, anything else needs a fresh fetch.
	deleted := make(map[string]bool)
	var fetchOrder []string
	needsFetch := make(map[string]bool)
	touch := func(id string) {
		if !needsFetch[id] {
			needsFetch[id] = true
			fetchOrder = append(fetchOrder, id)
		}
		delete(deleted, id)
	}
	for _, h := range hist.History {
		for _, a := range h.MessagesAdded {
			touch(a.Message.ID)
		}
		for _, l := range h.LabelsAdded {
			touch(l.Message.ID)
		}
		for _, l := range h.LabelsRemoved {
			touch(l.Message.ID)
		}
		for _, d := range h.MessagesDeleted {
			deleted[d.Message.ID] = true
			if needsFetch[d.Message.ID] {
				needsFetch[d.Message.ID] = false
			}
		}
	}

	batch := &connector.Batch{}

	var toFetch []string
	for _, id := range fetchOrder {
		if needsFetch[id] && !deleted[id] {
			toFetch = append(toFetch, id)
		}
	}
	emails, err := c.fetchMessages(ctx, acct, toFetch)
	if err != nil {
		return nil, err
	}
	for i, e := range emails {
		if e == nil {
			// Vanished since the history entry: treat as deleted.
			batch.Changes = append(batch.Changes, connector.Change{DeleteID: toFetch[i]})
			continue
		}
		batch.Changes = append(batch.Changes, connector.Change{Upsert: e})
	}
	for id := range deleted {
		batch.Changes = append(batch.Changes, connector.Change{DeleteID: id})
	}

	if hist.NextPageToken != "" {
		batch.NextCursor = historyID + ":" + hist.NextPageToken
		batch.HasMore = true
	} else {
		next := hist.HistoryID
		if next == "" {
			next = historyID
		}
		batch.NextCursor = next
	}
	return batch, nil
}

type labelListResponse struct {
	Labels []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"labels"`
}

func (c *Connector) loadLabels(ctx context.Context, acct *connector.Account) error {
	c.mu.Lock()
	_, cached := c.labels[acct.ID]
	c.mu.Unlock()
	if cached {
		return nil
	}

	var list labelListResponse
	if err := c.getJSON(ctx, acct, OpLabelsList, "/gmail/v1/users/me/labels", &list); err != nil {
		return fmt.Errorf("gmail labels: %w", err)
	}

	names := make(map[string]string, len(list.Labels))
	for _, l := range list.Labels {
		if l.Type == "user" {
			names[l.ID] = l.Name
		}
	}

	c.mu.Lock()
	c.labels[acct.ID] = names
	c.mu.Unlock()
	return nil
}

// getJSON performs a rate-limited, authenticated GET against the API.
func (c *Connector) getJSON(ctx context.Context, acct *connector.Account, op Operation, path string, out any) error {
	ts, err := c.tokenSource(ctx, acct)
	if err != nil {
		return err
	}
	if err := c.limiter.Acquire(ctx, op); err != nil {
		return err
	}
	token, err := ts.Token()
	if err != nil {
		return fmt.Errorf("acquire gmail token: %w", sanitizeOAuthError(err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	token.SetAuthHeader(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("gmail request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode gmail response: %w", err)
		}
		return nil

	case http.StatusTooManyRequests, http.StatusForbidden:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		if retryAfter > 0 {
			c.limiter.Throttle(retryAfter)
		} else {
			c.limiter.Throttle(30 * time.Second)
		}
		return &connector.RateLimitError{RetryAfter: retryAfter}

	case http.StatusNotFound:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<14))
		return errNotFound

	default:
		return fmt.Errorf("gmail returned %d", resp.StatusCode)
	}
}

var errNotFound = errors.New("gmail: not found")

func isNotFound(err error) bool {
	return errors.Is(err, errNotFound)
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

// gmailMessage is the wire shape of users.messages.get.
type gmailMessage struct {
	ID           string     `json:"id"`
	ThreadID     string     `json:"threadId"`
	LabelIDs     []string   `json:"labelIds"`
	Snippet      string     `json:"snippet"`
	InternalDate string     `json:"internalDate"` // epoch millis as string
	Payload      *gmailPart `json:"payload"`
}

type gmailPart struct {
	MimeType string        `json:"mimeType"`
	Headers  []gmailHeader `json:"headers"`
	Body     *gmailBody    `json:"body"`
	Parts    []gmailPart   `json:"parts"`
}

type gmailHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type gmailBody struct {
	Data string `json:"data"`
}

// toEmail normalizes a Gmail message into the canonical store shape.
func (c *Connector) toEmail(acct *connector.Account, m *gmailMessage) *store.Email {
	e := &store.Email{
		AccountID:       acct.ID,
		SourceMessageID: m.ID,
		ConversationID:  m.ThreadID,
		BodyPreview:     textutil.EnsureUTF8(m.Snippet),
	}

	if m.Payload != nil {
		e.Subject = textutil.EnsureUTF8(header(m.Payload.Headers, "Subject"))
		e.InternetMessageID = header(m.Payload.Headers, "Message-ID")

		if raw := header(m.Payload.Headers, "From"); raw != "" {
			if a, err := mail.ParseAddress(raw); err == nil {
				e.FromAddress = connector.NormalizeAddress(a.Address)
				e.FromName = strings.TrimSpace(a.Name)
			} else {
				e.FromAddress = connector.NormalizeAddress(raw)
			}
		}
		e.ToAddresses = connector.ParseAddressList(header(m.Payload.Headers, "To"))
		e.CcAddresses = connector.ParseAddressList(header(m.Payload.Headers, "Cc"))

		text, html := extractBodies(m.Payload)
		e.BodyText = textutil.EnsureUTF8(text)
		e.BodyHTML = textutil.EnsureUTF8(html)
		if e.BodyText == "" && e.BodyHTML != "" {
			e.BodyText = textutil.HTMLToText(e.BodyHTML)
		}
	}

	if ms, err := strconv.ParseInt(m.InternalDate, 10, 64); err == nil && ms > 0 {
		e.ReceivedAt = time.UnixMilli(ms).UTC()
	} else {
		e.ReceivedAt = time.Now().UTC()
	}

	e.Folder, e.IsRead, e.FlagStatus, e.Categories = c.mapLabels(acct.ID, m.LabelIDs)
	e.HasAttachments = hasAttachmentParts(m.Payload)
	return e
}

func header(headers []gmailHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return strings.TrimSpace(h.Value)
		}
	}
	return ""
}

// extractBodies walks the MIME part tree for the first text/plain and
// text/html bodies.
func extractBodies(p *gmailPart) (text, html string) {
	if p == nil {
		return "", ""
	}
	if p.Body != nil && p.Body.Data != "" {
		if decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(p.Body.Data); err == nil {
			switch {
			case strings.HasPrefix(p.MimeType, "text/plain") && text == "":
				text = string(decoded)
			case strings.HasPrefix(p.MimeType, "text/html") && html == "":
				html = string(decoded)
			}
		}
	}
	for i := range p.Parts {
		t, h := extractBodies(&p.Parts[i])
		if text == "" {
			text = t
		}
		if html == "" {
			html = h
		}
	}
	return text, html
}

func hasAttachmentParts(p *gmailPart) bool {
	if p == nil {
		return false
	}
	for i := range p.Parts {
		part := &p.Parts[i]
		if header(part.Headers, "Content-Disposition") != "" &&
			strings.HasPrefix(strings.ToLower(header(part.Headers, "Content-Disposition")), "attachment") {
			return true
		}
		if hasAttachmentParts(part) {
			return true
		}
	}
	return false
}

// mapLabels folds Gmail label IDs into a folder, read state, flag status,
// and user-label categories.
func (c *Connector) mapLabels(accountID string, labelIDs []string) (folder string, isRead bool, flagStatus string, categories []string) {
	c.mu.Lock()
	names := c.labels[accountID]
	c.mu.Unlock()

	folder = "archive"
	isRead = true
	for _, id := range labelIDs {
		switch id {
		case "INBOX":
			folder = "inbox"
		case "SENT":
			folder = "sent"
		case "TRASH":
			folder = "trash"
		case "SPAM":
			folder = "spam"
		case "DRAFT":
			folder = "drafts"
		case "UNREAD":
			isRead = false
		case "STARRED":
			flagStatus = "flagged"
		default:
			if name, ok := names[id]; ok {
				categories = append(categories, name)
			}
		}
	}
	return folder, isRead, flagStatus, categories
}
