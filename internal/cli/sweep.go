package cli

import (
	"fmt"
	"time"

	"newsmon/internal/config"
	"newsmon/internal/store"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete posts past the retention bounds",
	RunE:  sweepAction,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func sweepAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	ctx := cmd.Context()

	var aged, trimmed int64

	if cfg.Retention.MaxAgeDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.Retention.MaxAgeDays)
		aged, err = db.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("age sweep: %w", err)
		}
	}

	if cfg.Retention.MaxPosts > 0 {
		count, err := db.CountPosts(ctx)
		if err != nil {
			return fmt.Errorf("count posts: %w", err)
		}
		if count > cfg.Retention.MaxPosts {
			trimmed, err = db.DeleteOldest(ctx, count-cfg.Retention.MaxPosts)
			if err != nil {
				return fmt.Errorf("count sweep: %w", err)
			}
		}
	}

	remaining, err := db.CountPosts(ctx)
	if err != nil {
		return fmt.Errorf("count posts: %w", err)
	}

	fmt.Printf("Deleted %d posts older than %d days", aged, cfg.Retention.MaxAgeDays)
	if trimmed > 0 {
		fmt.Printf(" (%d more trimmed to the %d-post cap)", trimmed, cfg.Retention.MaxPosts)
	}
	fmt.Printf("; %d posts remain.\n", remaining)

	return nil
}
