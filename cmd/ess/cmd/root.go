package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/esslab/ess/internal/config"
	"github.com/esslab/ess/internal/connector"
	"github.com/esslab/ess/internal/connector/archive"
	"github.com/esslab/ess/internal/connector/gmailapi"
	"github.com/esslab/ess/internal/connector/graph"
	"github.com/esslab/ess/internal/index"
	"github.com/esslab/ess/internal/search"
	"github.com/esslab/ess/internal/store"
	essync "github.com/esslab/ess/internal/sync"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ess",
	Short: "Multi-account email sync and search",
	Long: `ess keeps a local, queryable replica of your email across multiple
accounts and sources, with full-text search over a rebuildable index.

Connectors pull mail from Microsoft Graph, the Gmail API, or local JSON
archives into a single canonical SQLite store.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if err := cfg.EnsureHomeDir(); err != nil {
			return fmt.Errorf("create data directory %s: %w", cfg.Data.DataDir, err)
		}

		return nil
	},
}

// Execute runs the root command with a background context.
// Prefer ExecuteContext for signal-aware execution.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with the given context,
// enabling graceful shutdown when the context is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// openStore opens the canonical database and ensures the schema is current.
func openStore() (*store.Store, error) {
	s, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := s.InitSchema(); err != nil {
		s.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// openIndex opens the search index directory.
func openIndex() (*index.Index, error) {
	ix, err := index.Open(cfg.IndexDir())
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if !ix.FTSAvailable() {
		logger.Warn("sqlite built without the fts5 module; search falls back to a slower unranked scan (rebuild with -tags fts5)")
	}
	return ix, nil
}

// openQuery opens the read path: store, index, and the search service over
// both. The caller closes via the returned func.
func openQuery() (*search.Service, func(), error) {
	s, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	ix, err := openIndex()
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	closer := func() {
		ix.Close()
		s.Close()
	}
	return search.New(s, ix), closer, nil
}

// buildRegistry wires every connector with config-driven tuning. API base
// URLs can be overridden through the environment for testing against fakes.
func buildRegistry() *connector.Registry {
	graphOpts := []graph.Option{graph.WithLogger(logger)}
	if v := os.Getenv("ESS_GRAPH_API_BASE"); v != "" {
		graphOpts = append(graphOpts, graph.WithBaseURL(v))
	}

	gmailOpts := []gmailapi.Option{
		gmailapi.WithLogger(logger),
		gmailapi.WithRateLimit(float64(cfg.Sync.RateLimitQPS)),
		gmailapi.WithConcurrency(cfg.Sync.FetchConcurrency),
	}
	if v := os.Getenv("ESS_GMAIL_API_BASE"); v != "" {
		gmailOpts = append(gmailOpts, gmailapi.WithBaseURL(v))
	}

	reg := connector.NewRegistry()
	reg.Register(graph.New(graphOpts...))
	reg.Register(gmailapi.New(gmailOpts...))
	reg.Register(archive.New(archive.WithLogger(logger)))
	return reg
}

// connectorAccount converts a configured account into the runtime identity
// connectors consume. Credentials travel only through this value.
func connectorAccount(acc *config.Account) *connector.Account {
	return &connector.Account{
		ID:          acc.ID,
		Email:       acc.Email,
		Type:        acc.Type,
		TenantID:    acc.TenantID,
		ArchivePath: acc.ArchivePath,
		Credentials: connector.Credentials{
			ClientID:     acc.ClientID,
			ClientSecret: acc.ClientSecret,
			RefreshToken: acc.RefreshToken,
		},
	}
}

// newSyncer builds the orchestrator over an open store and index.
func newSyncer(s *store.Store, ix *index.Index) *essync.Syncer {
	opts := essync.DefaultOptions()
	if cfg.Sync.BatchSize > 0 {
		opts.BatchSize = cfg.Sync.BatchSize
	}
	if cfg.Sync.MaxRetries > 0 {
		opts.MaxRetries = cfg.Sync.MaxRetries
	}
	return essync.New(s, ix, buildRegistry(), logger, opts)
}

// outputJSON pretty-prints a value to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 1 {
		return s[:max]
	}
	return s[:max-1] + "…"
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.ess/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
