package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/esslab/ess/internal/index"
)

var (
	reindexForce    bool
	reindexContacts bool
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the search index from the store",
	Long: `Rebuild the full-text index from scratch from the canonical store.
The index is derived data; a rebuild loses nothing and fixes any drift.

The rebuild needs the single index writer. If a previous process died
holding the lock, --force breaks it. Never use --force while another
sync is actually running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		if reindexForce {
			if err := ix.ForceUnlock(); err != nil {
				return fmt.Errorf("force unlock: %w", err)
			}
		}

		w, err := ix.AcquireWriter()
		if errors.Is(err, index.ErrIndexLocked) {
			return fmt.Errorf("%w (is a sync running? use --force only if the holder is dead)", err)
		}
		if err != nil {
			return err
		}
		defer w.Close()

		start := time.Now()
		if err := w.Rebuild(index.StoreSource{Store: s}); err != nil {
			return fmt.Errorf("rebuild index: %w", err)
		}

		if reindexContacts {
			if err := s.RebuildContacts(); err != nil {
				return fmt.Errorf("rebuild contacts: %w", err)
			}
		}

		stats, err := ix.GetStats()
		if err != nil {
			return err
		}
		fmt.Printf("Rebuilt index: %d documents in %s\n",
			stats.DocCount, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reindexCmd)
	reindexCmd.Flags().BoolVar(&reindexForce, "force", false, "Break a stale writer lock first")
	reindexCmd.Flags().BoolVar(&reindexContacts, "contacts", false, "Also recompute contacts from stored messages")
}
