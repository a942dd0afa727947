package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"newsmon/internal/config"
	"newsmon/internal/store"

	"github.com/spf13/cobra"
)

var statsFormat string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-channel archive analytics",
	RunE:  statsAction,
}

func init() {
	statsCmd.Flags().StringVar(&statsFormat, "format", "terminal", "output format: terminal, json")
	rootCmd.AddCommand(statsCmd)
}

// Channels with no posts for this long are flagged as stale.
const staleDays = 7

func statsAction(cmd *cobra.Command, _ []string) error {
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

	stats, err := db.GetChannelStats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	if len(stats) == 0 {
		if statsFormat == "json" {
			fmt.Fprintln(os.Stdout, `{"channels":[]}`)
			return nil
		}
		fmt.Fprintln(os.Stdout, "No posts found. Run 'newsmon watch' first.")
		return nil
	}

	switch statsFormat {
	case "json":
		return printStatsJSON(os.Stdout, stats)
	case "terminal", "":
		printStats(os.Stdout, stats)
		return nil
	default:
		return fmt.Errorf("unknown format %q (want terminal or json)", statsFormat)
	}
}

type jsonStatsOutput struct {
	Channels []jsonChannelStats `json:"channels"`
}

type jsonChannelStats struct {
	ChannelID string    `json:"channel_id"`
	Channel   string    `json:"channel"`
	Total     int       `json:"total"`
	LastPost  time.Time `json:"last_post"`
}

func printStatsJSON(w io.Writer, stats []store.ChannelStats) error {
	channels := make([]jsonChannelStats, 0, len(stats))
	for _, cs := range stats {
		channels = append(channels, jsonChannelStats{
			ChannelID: cs.ChannelID,
			Channel:   cs.ChannelTitle,
			Total:     cs.Total,
			LastPost:  cs.LastPost,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonStatsOutput{Channels: channels})
}

func printStats(w *os.File, stats []store.ChannelStats) {
	now := time.Now()

	totalPosts := 0
	for _, cs := range stats {
		totalPosts += cs.Total
	}

	fmt.Fprintf(w, "newsmon stats — %d posts from %d channels\n\n", totalPosts, len(stats))

	maxChan := 7 // minimum "Channel"
	for _, cs := range stats {
		if len(cs.ChannelTitle) > maxChan {
			maxChan = len(cs.ChannelTitle)
		}
	}
	if maxChan > 40 {
		maxChan = 40
	}

	fmt.Fprintf(w, "  %-*s  %5s  %s\n", maxChan, "Channel", "Posts", "Last Post")
	for _, cs := range stats {
		name := cs.ChannelTitle
		if len(name) > maxChan {
			name = name[:maxChan-1] + "…"
		}
		fmt.Fprintf(w, "  %-*s  %5d  %s\n", maxChan, name, cs.Total, cs.LastPost.Format("2006-01-02 15:04"))
	}
	fmt.Fprintln(w)

	staleThreshold := now.AddDate(0, 0, -staleDays)
	var stale []store.ChannelStats
	for _, cs := range stats {
		if cs.LastPost.Before(staleThreshold) {
			stale = append(stale, cs)
		}
	}
	if len(stale) > 0 {
		fmt.Fprintf(w, "--- Stale Channels (no posts in %d+ days) ---\n\n", staleDays)
		for _, cs := range stale {
			daysAgo := int(now.Sub(cs.LastPost).Hours() / 24)
			fmt.Fprintf(w, "  %s — last post %d days ago\n", cs.ChannelTitle, daysAgo)
		}
		fmt.Fprintln(w)
	}
}
