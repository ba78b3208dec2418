// Package connector defines the contract between mail sources and the sync
// orchestrator. A connector enumerates a mailbox into the canonical store's
// email shape and produces incremental change batches against an opaque
// cursor; the orchestrator owns persistence, cursors, and the index.
package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/esslab/ess/internal/store"
)

// Sentinel errors connectors surface to the orchestrator.
var (
	// ErrCursorExpired means the source no longer honors the saved cursor.
	// The orchestrator reacts by re-enumerating the scope from scratch.
	ErrCursorExpired = errors.New("sync cursor expired")

	// ErrRateLimited marks transient throttling. Use RateLimitError to
	// carry a server-provided retry delay.
	ErrRateLimited = errors.New("rate limited")

	// ErrImportOnly is returned from Delta by one-shot sources that have
	// no change feed.
	ErrImportOnly = errors.New("connector does not support incremental sync")
)

// RateLimitError wraps ErrRateLimited with an optional server-provided
// retry delay. errors.Is(err, ErrRateLimited) matches it.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Credentials holds secrets a connector needs to authenticate. The String
// methods render a redacted form so the values cannot leak through logs or
// wrapped errors.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

func (Credentials) String() string   { return "credentials(redacted)" }
func (Credentials) GoString() string { return "connector.Credentials{redacted}" }

// Account is the runtime identity a connector syncs. Credentials come from
// config or the environment, never from the store.
type Account struct {
	ID          string
	Email       string
	Type        string // "professional" or "personal"
	TenantID    string
	ArchivePath string
	Credentials Credentials
}

// Scope is an independently-cursored subdivision of an account: a folder
// for delta-token sources, the whole mailbox for watermark sources.
type Scope struct {
	ID    string // stable identifier used in cursor keys
	Label string // human-readable name
}

// Change is a single mailbox mutation. Exactly one field is set.
type Change struct {
	Upsert   *store.Email
	DeleteID string // source message ID to remove
}

// Batch is one page of changes plus the cursor that, once the batch is
// durably applied, resumes after it.
type Batch struct {
	Changes    []Change
	NextCursor string
	HasMore    bool
}

// Connector is the uniform surface every mail source implements.
type Connector interface {
	// Name identifies the connector ("graph", "gmail", "archive") and
	// prefixes its cursor keys.
	Name() string

	// Scopes discovers the account's sync scopes.
	Scopes(ctx context.Context, acct *Account) ([]Scope, error)

	// Enumerate streams the scope's full current state through emit and
	// returns the cursor that captures the state at enumeration time.
	// An empty cursor means the source has no change feed.
	Enumerate(ctx context.Context, acct *Account, scope Scope, emit func(*store.Email) error) (string, error)

	// Delta fetches one batch of changes since cursor.
	Delta(ctx context.Context, acct *Account, scope Scope, cursor string) (*Batch, error)
}

// LegacyCursorKeyer is implemented by connectors whose earlier releases
// stored cursors under different keys. The orchestrator migrates them
// lazily on first read.
type LegacyCursorKeyer interface {
	LegacyCursorKeys(acct *Account, scope Scope) []string
}

// Registry maps connector names to implementations.
type Registry struct {
	connectors map[string]Connector
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register adds a connector under its name. Registering the same name twice
// replaces the earlier entry.
func (r *Registry) Register(c Connector) {
	r.connectors[strings.ToLower(c.Name())] = c
}

// Get returns the connector with the given name (case-insensitive).
func (r *Registry) Get(name string) (Connector, error) {
	c, ok := r.connectors[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown connector %q", name)
	}
	return c, nil
}

// Names returns the registered connector names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	return names
}
