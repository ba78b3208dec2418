// Package sync orchestrates account synchronization: it drives connectors,
// applies their changes to the canonical store in transactional batches,
// keeps the search index in step, and owns cursor persistence. Connectors
// never touch storage; the orchestrator never talks to mail APIs.
package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/esslab/ess/internal/connector"
	"github.com/esslab/ess/internal/index"
	"github.com/esslab/ess/internal/store"
)

// Options tune orchestrator behavior.
type Options struct {
	// BatchSize bounds how many changes one store transaction applies.
	BatchSize int

	// MaxRetries bounds retries after rate-limit responses.
	MaxRetries int

	// RetryDelay is the base backoff delay, doubled per attempt.
	RetryDelay time.Duration
}

// DefaultOptions returns the standard orchestrator tuning.
func DefaultOptions() Options {
	return Options{
		BatchSize:  200,
		MaxRetries: 5,
		RetryDelay: time.Second,
	}
}

// Syncer drives connector sync for accounts.
type Syncer struct {
	store    *store.Store
	index    *index.Index
	registry *connector.Registry
	logger   *slog.Logger
	opts     Options
}

// New creates a Syncer.
func New(st *store.Store, ix *index.Index, reg *connector.Registry, logger *slog.Logger, opts Options) *Syncer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultOptions().MaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultOptions().RetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{store: st, index: ix, registry: reg, logger: logger, opts: opts}
}

// ScopeResult summarizes one scope's sync.
type ScopeResult struct {
	Scope        connector.Scope `json:"scope"`
	Added        int             `json:"added"`
	Updated      int             `json:"updated"`
	Deleted      int             `json:"deleted"`
	Reenumerated bool            `json:"reenumerated,omitempty"`
}

// Report summarizes one account sync.
type Report struct {
	AccountID string        `json:"account_id"`
	Connector string        `json:"connector"`
	Scopes    []ScopeResult `json:"scopes"`
	Duration  time.Duration `json:"duration"`
}

// Added returns the total messages added across scopes.
func (r *Report) Added() int {
	n := 0
	for _, s := range r.Scopes {
		n += s.Added
	}
	return n
}

// Updated returns the total messages updated across scopes.
func (r *Report) Updated() int {
	n := 0
	for _, s := range r.Scopes {
		n += s.Updated
	}
	return n
}

// Deleted returns the total messages deleted across scopes.
func (r *Report) Deleted() int {
	n := 0
	for _, s := range r.Scopes {
		n += s.Deleted
	}
	return n
}

// SyncAccount syncs one account with the named connector. It acquires the
// single index writer up front; a concurrent sync against the same index
// fails immediately with index.ErrIndexLocked.
func (s *Syncer) SyncAccount(ctx context.Context, acct *connector.Account, connectorName string) (*Report, error) {
	conn, err := s.registry.Get(connectorName)
	if err != nil {
		return nil, err
	}

	w, err := s.index.AcquireWriter()
	if err != nil {
		return nil, err
	}
	defer w.Close()

	if err := s.store.UpsertAccount(&store.Account{
		AccountID:    acct.ID,
		EmailAddress: acct.Email,
		TenantID:     acct.TenantID,
		AccountType:  acct.Type,
		Enabled:      true,
	}); err != nil {
		return nil, err
	}

	scopes, err := conn.Scopes(ctx, acct)
	if err != nil {
		return nil, fmt.Errorf("discover scopes: %w", err)
	}

	start := time.Now()
	report := &Report{AccountID: acct.ID, Connector: conn.Name()}
	for _, scope := range scopes {
		res, err := s.syncScope(ctx, conn, acct, scope, w)
		if err != nil {
			return report, fmt.Errorf("sync %s scope %s: %w", acct.ID, scope.Label, err)
		}
		report.Scopes = append(report.Scopes, *res)
	}
	report.Duration = time.Since(start)

	if err := s.store.TouchAccountSync(acct.ID, time.Now()); err != nil {
		return report, err
	}

	s.logger.Info("account sync complete",
		"account", acct.ID, "connector", conn.Name(),
		"added", report.Added(), "updated", report.Updated(), "deleted", report.Deleted(),
		"duration", report.Duration.Round(time.Millisecond))
	return report, nil
}

// ResetCursors drops every scope cursor for the account so the next sync
// re-enumerates from scratch. The store and index keep their contents;
// idempotent upserts make the re-enumeration converge without duplicates.
func (s *Syncer) ResetCursors(ctx context.Context, acct *connector.Account, connectorName string) error {
	conn, err := s.registry.Get(connectorName)
	if err != nil {
		return err
	}
	scopes, err := conn.Scopes(ctx, acct)
	if err != nil {
		return fmt.Errorf("discover scopes: %w", err)
	}
	for _, scope := range scopes {
		if err := s.store.ClearCursor(cursorKey(conn, acct, scope)); err != nil {
			return err
		}
	}
	return nil
}

func cursorKey(conn connector.Connector, acct *connector.Account, scope connector.Scope) string {
	return fmt.Sprintf("%s_cursor:%s:%s", conn.Name(), acct.ID, scope.ID)
}

func legacyCursorKeys(conn connector.Connector, acct *connector.Account, scope connector.Scope) []string {
	if lk, ok := conn.(connector.LegacyCursorKeyer); ok {
		return lk.LegacyCursorKeys(acct, scope)
	}
	return nil
}

func (s *Syncer) syncScope(ctx context.Context, conn connector.Connector, acct *connector.Account, scope connector.Scope, w *index.Writer) (*ScopeResult, error) {
	res := &ScopeResult{Scope: scope}
	key := cursorKey(conn, acct, scope)

	cursor, err := s.store.GetCursor(key, legacyCursorKeys(conn, acct, scope)...)
	if err != nil {
		return nil, err
	}

	if cursor == "" {
		return res, s.enumerate(ctx, conn, acct, scope, w, key, res)
	}

	for {
		batch, err := s.deltaWithRetry(ctx, conn, acct, scope, cursor)
		switch {
		case errors.Is(err, connector.ErrCursorExpired):
			s.logger.Warn("cursor expired, re-enumerating scope",
				"account", acct.ID, "scope", scope.Label)
			if err := s.store.ClearCursor(key); err != nil {
				return nil, err
			}
			res.Reenumerated = true
			return res, s.enumerate(ctx, conn, acct, scope, w, key, res)

		case errors.Is(err, connector.ErrImportOnly):
			s.logger.Debug("import-only source, skipping incremental sync",
				"account", acct.ID, "scope", scope.Label)
			return res, nil

		case err != nil:
			return nil, err
		}

		if err := s.applyBatch(acct, batch, w, res); err != nil {
			return nil, err
		}
		if batch.NextCursor != "" {
			if err := s.store.SetCursor(key, batch.NextCursor); err != nil {
				return nil, err
			}
			cursor = batch.NextCursor
		}
		if !batch.HasMore {
			return res, nil
		}
	}
}

// enumerate streams the scope's full state into the store in batched
// transactions. The baseline cursor is persisted only after the whole
// enumeration succeeds, so a partial run repeats from scratch and converges
// through idempotent upserts.
func (s *Syncer) enumerate(ctx context.Context, conn connector.Connector, acct *connector.Account, scope connector.Scope, w *index.Writer, key string, res *ScopeResult) error {
	buf := make([]*store.Email, 0, s.opts.BatchSize)

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if err := s.applyUpserts(acct, buf, w, res); err != nil {
			return err
		}
		buf = buf[:0]
		return nil
	}

	baseline, err := conn.Enumerate(ctx, acct, scope, func(e *store.Email) error {
		e.AccountID = acct.ID
		buf = append(buf, e)
		if len(buf) >= s.opts.BatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}

	if baseline != "" {
		if err := s.store.SetCursor(key, baseline); err != nil {
			return err
		}
	}
	return nil
}

// applyUpserts writes one batch of emails in a single store transaction,
// then commits the matching index mutations. Contacts are bumped on insert
// so incremental maintenance matches a full rebuild.
func (s *Syncer) applyUpserts(acct *connector.Account, emails []*store.Email, w *index.Writer, res *ScopeResult) error {
	err := s.store.WithTx(func(tx *sql.Tx) error {
		for _, e := range emails {
			eff, err := store.UpsertEmailTx(tx, e)
			if err != nil {
				return err
			}
			switch eff {
			case store.EffectInserted:
				res.Added++
				if e.FromAddress != "" {
					if err := store.BumpContactTx(tx, e.FromAddress, e.FromName, e.ReceivedAt); err != nil {
						return err
					}
				}
			case store.EffectUpdated:
				res.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, e := range emails {
		w.Upsert(index.DocumentFromEmail(e, acct.Type))
	}
	return w.Commit()
}

// indexOp is one buffered index mutation, kept in batch order.
type indexOp struct {
	doc      *index.Document
	deleteID string
}

// applyBatch applies one delta batch: store transaction first, index commit
// second, cursor persistence last. A failure at any step leaves the cursor
// untouched, so the batch is refetched and converges. Index mutations replay
// in the same order the store applied them; a delete followed by a re-add of
// the same message must leave the document indexed.
func (s *Syncer) applyBatch(acct *connector.Account, batch *connector.Batch, w *index.Writer, res *ScopeResult) error {
	var ops []indexOp

	err := s.store.WithTx(func(tx *sql.Tx) error {
		ops = ops[:0]
		for _, ch := range batch.Changes {
			if ch.DeleteID != "" {
				id, err := store.DeleteEmailTx(tx, acct.ID, ch.DeleteID)
				if err != nil {
					return err
				}
				if id != "" {
					ops = append(ops, indexOp{deleteID: id})
					res.Deleted++
				}
				continue
			}
			if ch.Upsert == nil {
				continue
			}
			ch.Upsert.AccountID = acct.ID
			eff, err := store.UpsertEmailTx(tx, ch.Upsert)
			if err != nil {
				return err
			}
			doc := index.DocumentFromEmail(ch.Upsert, acct.Type)
			ops = append(ops, indexOp{doc: &doc})
			switch eff {
			case store.EffectInserted:
				res.Added++
				if ch.Upsert.FromAddress != "" {
					if err := store.BumpContactTx(tx, ch.Upsert.FromAddress, ch.Upsert.FromName, ch.Upsert.ReceivedAt); err != nil {
						return err
					}
				}
			case store.EffectUpdated:
				res.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, op := range ops {
		if op.doc != nil {
			w.Upsert(*op.doc)
			continue
		}
		w.Delete(op.deleteID)
	}
	return w.Commit()
}

// deltaWithRetry fetches one batch, backing off on rate limiting. A
// server-provided Retry-After overrides the exponential delay.
func (s *Syncer) deltaWithRetry(ctx context.Context, conn connector.Connector, acct *connector.Account, scope connector.Scope, cursor string) (*connector.Batch, error) {
	for attempt := 0; ; attempt++ {
		batch, err := conn.Delta(ctx, acct, scope, cursor)
		if err == nil {
			return batch, nil
		}
		if !errors.Is(err, connector.ErrRateLimited) || attempt >= s.opts.MaxRetries {
			return nil, err
		}

		wait := s.backoff(attempt)
		var rle *connector.RateLimitError
		if errors.As(err, &rle) && rle.RetryAfter > 0 {
			wait = rle.RetryAfter
		}
		s.logger.Warn("rate limited, backing off",
			"account", acct.ID, "scope", scope.Label,
			"attempt", attempt+1, "wait", wait.Round(time.Millisecond))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// backoff returns the exponential delay for attempt with jitter.
func (s *Syncer) backoff(attempt int) time.Duration {
	const maxDelay = time.Minute
	d := s.opts.RetryDelay << uint(attempt)
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}
	// Up to 25% jitter spreads out synchronized retries.
	return d + time.Duration(rand.Int64N(int64(d)/4+1))
}
