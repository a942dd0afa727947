package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"newsmon/internal/config"
	"newsmon/internal/gigachat"
	"newsmon/internal/monitor"
	"newsmon/internal/retention"
	"newsmon/internal/store"
	"newsmon/internal/transport"

	"github.com/spf13/cobra"
)

var watchLogLevel string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitor channels and store classified posts",
	RunE:  watchAction,
}

func init() {
	watchCmd.Flags().StringVar(&watchLogLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.AddCommand(watchCmd)
}

func watchAction(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(watchLogLevel)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	tokens, err := gigachat.NewTokenSource(cfg.GigaChat.AuthURL, cfg.GigaChat.ClientID, cfg.GigaChat.ClientSecret)
	if err != nil {
		return fmt.Errorf("create token source: %w", err)
	}
	classifier := gigachat.NewClassifier(tokens, cfg.GigaChat.APIURL, cfg.GigaChat.Model, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := transport.Dial(ctx, transport.Options{
		URL:       cfg.Transport.URL,
		Phone:     cfg.Transport.Phone,
		LoginMode: cfg.Transport.LoginMode,
		WorkDir:   cfg.Transport.WorkDir,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("connect to gateway: %w", err)
	}
	defer func() { _ = conn.Close() }()

	sweeper := retention.New(db, cfg.Retention.MaxAgeDays, cfg.Retention.MaxPosts, logger)
	go sweeper.Run(ctx, cfg.Retention.SweepInterval.Duration)

	mon := monitor.New(conn, db, classifier, sweeper, cfg.Themes.Defaults, logger)
	if err := mon.Run(ctx); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}

	logger.Info("shutting down")
	return nil
}
