package cli

import (
	"fmt"
	"strings"

	"newsmon/internal/config"
	"newsmon/internal/store"

	"github.com/spf13/cobra"
)

var themesCmd = &cobra.Command{
	Use:   "themes",
	Short: "Manage the classification vocabulary",
}

var themesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the active theme vocabulary",
	RunE:  themesListAction,
}

var themesAddCmd = &cobra.Command{
	Use:   "add <user-id> <theme>",
	Short: "Subscribe a user to a theme",
	Args:  cobra.ExactArgs(2),
	RunE:  themesAddAction,
}

func init() {
	themesCmd.AddCommand(themesListCmd)
	themesCmd.AddCommand(themesAddCmd)
	rootCmd.AddCommand(themesCmd)
}

func themesListAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	themes, err := db.DistinctThemes(cmd.Context())
	if err != nil {
		return fmt.Errorf("list themes: %w", err)
	}

	if len(themes) == 0 {
		fmt.Println("No user themes; classification uses the default vocabulary:")
		themes = cfg.Themes.Defaults
	}
	for _, theme := range themes {
		fmt.Printf("  %s\n", theme)
	}
	return nil
}

func themesAddAction(cmd *cobra.Command, args []string) error {
	userID := strings.TrimSpace(args[0])
	theme := strings.ToLower(strings.TrimSpace(args[1]))
	if userID == "" || theme == "" {
		return fmt.Errorf("user id and theme must not be empty")
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

	if err := db.AddUserTheme(cmd.Context(), userID, theme); err != nil {
		return fmt.Errorf("add theme: %w", err)
	}

	fmt.Printf("Added theme %q for user %s.\n", theme, userID)
	return nil
}
