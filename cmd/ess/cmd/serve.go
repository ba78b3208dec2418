package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/esslab/ess/internal/api"
	"github.com/esslab/ess/internal/scheduler"
	"github.com/esslab/ess/internal/search"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run ess as a daemon with scheduled sync",
	Long: `Run ess as a long-running daemon that syncs accounts on schedule
and serves the read-only HTTP API.

Configure schedules in config.toml:
  [[accounts]]
  id = "work"
  schedule = "0 2 * * *"   # 2am daily (cron format)
  enabled = true

Cron format: minute hour day-of-month month day-of-week
  Examples:
    0 2 * * *     = 2:00 AM daily
    */15 * * * *  = Every 15 minutes
    0 8,18 * * *  = 8 AM and 6 PM daily

Use Ctrl+C to stop the daemon gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Validate security posture before doing any work
	if err := cfg.Server.ValidateSecure(); err != nil {
		return err
	}

	scheduled := cfg.ScheduledAccounts()
	if len(scheduled) == 0 {
		return fmt.Errorf("no scheduled accounts configured\n\nAdd accounts to config.toml:\n\n  [[accounts]]\n  id = \"work\"\n  schedule = \"0 2 * * *\"\n  enabled = true")
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()
	ix, err := openIndex()
	if err != nil {
		return err
	}
	defer ix.Close()

	syncer := newSyncer(s, ix)
	syncFunc := func(ctx context.Context, accountID string) error {
		acc := cfg.Account(accountID)
		if acc == nil {
			return fmt.Errorf("account %s no longer in config", accountID)
		}
		report, err := syncer.SyncAccount(ctx, connectorAccount(acc), acc.Connector)
		if err != nil {
			return err
		}
		logger.Info("scheduled sync complete",
			"account", accountID,
			"added", report.Added(), "updated", report.Updated(), "deleted", report.Deleted())
		return nil
	}

	sched := scheduler.New(syncFunc).WithLogger(logger)
	count, errs := sched.AddAccountsFromConfig(cfg)
	for _, err := range errs {
		logger.Error("failed to schedule account", "error", err)
	}
	if count == 0 {
		return fmt.Errorf("no accounts could be scheduled")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sched.Start()

	apiServer := api.NewServer(cfg, search.New(s, ix), sched, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	bindAddr := cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	fmt.Printf("ess daemon started\n")
	fmt.Printf("  API server: http://%s\n", net.JoinHostPort(bindAddr, strconv.Itoa(cfg.Server.APIPort)))
	fmt.Printf("  Scheduled accounts: %d\n", count)
	fmt.Printf("  Data directory: %s\n", cfg.Data.DataDir)
	fmt.Println()

	for _, status := range sched.Status() {
		fmt.Printf("  %s: next sync at %s\n", status.AccountID, status.NextRun.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		fmt.Println("\nShutting down...")
	case err := <-serverErr:
		logger.Error("API server error", "error", err)
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}

	fmt.Println("Waiting for running syncs to complete...")
	schedCtx := sched.Stop()
	select {
	case <-schedCtx.Done():
		fmt.Println("Shutdown complete.")
	case <-time.After(30 * time.Second):
		fmt.Println("Shutdown timed out after 30 seconds.")
	}

	return nil
}
