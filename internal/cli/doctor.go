package cli

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"newsmon/internal/config"
	"newsmon/internal/store"

	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, credentials, and storage health",
	RunE:  doctorAction,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func doctorAction(cmd *cobra.Command, _ []string) error {
	ok := true

	// Config dir
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printCheck(false, "config directory %s", configDir)
		ok = false
	} else {
		printCheck(true, "config directory %s", configDir)
	}

	// Config file
	cfg, err := config.Load(configDir)
	if err != nil {
		printCheck(false, "config.yaml: %v", err)
		ok = false
	} else {
		printCheck(true, "config.yaml (%d default themes, retention %dd/%d posts)",
			len(cfg.Themes.Defaults), cfg.Retention.MaxAgeDays, cfg.Retention.MaxPosts)
	}

	// Gateway URL
	if cfg != nil {
		u, err := url.Parse(cfg.Transport.URL)
		switch {
		case err != nil:
			printCheck(false, "gateway url: %v", err)
			ok = false
		case u.Scheme != "ws" && u.Scheme != "wss":
			printCheck(false, "gateway url: scheme %q (want ws or wss)", u.Scheme)
			ok = false
		default:
			printCheck(true, "gateway url %s", cfg.Transport.URL)
		}
	}

	// GigaChat credentials
	if cfg != nil {
		if cfg.GigaChat.ClientID == "" || cfg.GigaChat.ClientSecret == "" {
			printCheck(false, "gigachat credentials (set %s and %s)",
				cfg.GigaChat.ClientIDEnv, cfg.GigaChat.ClientSecretEnv)
			ok = false
		} else {
			printCheck(true, "gigachat credentials")
		}
	}

	// Database
	var db *store.Store
	if cfg != nil {
		db, err = store.Open(cfg.Storage.Path)
		if err != nil {
			printCheck(false, "database: %v", err)
			ok = false
		} else {
			defer func() { _ = db.Close() }()
			printCheck(true, "database %s", cfg.Storage.Path)
		}
	}

	// Archive health (info-level, non-fatal)
	if db != nil {
		checkArchiveHealth(cmd, db)
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

func checkArchiveHealth(cmd *cobra.Command, db *store.Store) {
	ctx := cmd.Context()

	stats, err := db.GetChannelStats(ctx)
	if err != nil || len(stats) == 0 {
		return // no data yet, skip
	}

	staleThreshold := time.Now().AddDate(0, 0, -staleDays)
	fmt.Println()

	for _, cs := range stats {
		if cs.LastPost.Before(staleThreshold) {
			daysAgo := int(time.Since(cs.LastPost).Hours() / 24)
			printInfo("stale: %s — last post %d days ago", cs.ChannelTitle, daysAgo)
		}
	}
}

func printCheck(pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Printf("[INFO] %s\n", fmt.Sprintf(format, args...))
}
