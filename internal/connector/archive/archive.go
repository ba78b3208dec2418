// Package archive imports one-shot JSON mailbox exports. Each message is a
// single *.json file in Graph wire shape, optionally wrapped in an
// {"email": {...}} envelope.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/esslab/ess/internal/connector"
	"github.com/esslab/ess/internal/store"
)

// Connector implements connector.Connector for local JSON archives. It has
// no change feed: Enumerate imports everything and Delta always returns
// ErrImportOnly.
type Connector struct {
	logger *slog.Logger
}

// Option configures the connector.
type Option func(*Connector)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Connector) { c.logger = logger }
}

// New creates an archive connector.
func New(opts ...Option) *Connector {
	c := &Connector{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements connector.Connector.
func (c *Connector) Name() string { return "archive" }

// Scopes returns the single archive scope after checking the path exists.
func (c *Connector) Scopes(_ context.Context, acct *connector.Account) ([]connector.Scope, error) {
	if acct.ArchivePath == "" {
		return nil, fmt.Errorf("account %s: archive path not configured", acct.ID)
	}
	info, err := os.Stat(acct.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("archive path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("archive path %s is not a directory", acct.ArchivePath)
	}
	return []connector.Scope{{ID: "archive", Label: "archive"}}, nil
}

// envelope tolerates both bare wire messages and the {"email": {...}}
// wrapper some exporters produce.
type envelope struct {
	Email *connector.WireMessage `json:"email"`
}

// Enumerate walks the archive directory in sorted order and emits each
// parseable message. Malformed files are logged and skipped so one bad
// export cannot abort the import. The returned cursor is empty: archives
// have no change feed.
func (c *Connector) Enumerate(ctx context.Context, acct *connector.Account, _ connector.Scope, emit func(*store.Email) error) (string, error) {
	entries, err := os.ReadDir(acct.ArchivePath)
	if err != nil {
		return "", fmt.Errorf("read archive dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	imported, skipped := 0, 0
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		path := filepath.Join(acct.ArchivePath, name)
		email, err := c.readMessage(path)
		if err != nil {
			c.logger.Warn("skipping malformed archive file", "file", name, "error", err)
			skipped++
			continue
		}
		email.AccountID = acct.ID
		if err := emit(email); err != nil {
			return "", err
		}
		imported++
	}

	c.logger.Info("archive import complete",
		"account", acct.ID, "imported", imported, "skipped", skipped)
	return "", nil
}

func (c *Connector) readMessage(path string) (*store.Email, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	msg := env.Email
	if msg == nil {
		msg = &connector.WireMessage{}
		if err := json.Unmarshal(data, msg); err != nil {
			return nil, fmt.Errorf("parse: %w", err)
		}
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("message has no id")
	}

	return msg.ToEmail("", "archive"), nil
}

// Delta implements connector.Connector. Archives are import-only.
func (c *Connector) Delta(context.Context, *connector.Account, connector.Scope, string) (*connector.Batch, error) {
	return nil, connector.ErrImportOnly
}
