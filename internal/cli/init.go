package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"newsmon/internal/config"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with an example config",
	RunE:  initAction,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initAction(_ *cobra.Command, _ []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	configPath := filepath.Join(configDir, config.DefaultConfigFile)
	wrote, err := writeIfNotExists(configPath, []byte(exampleConfig))
	if err != nil {
		return err
	}

	if !wrote {
		fmt.Printf("Config directory %s already initialized.\n", configDir)
	} else {
		fmt.Printf("Initialized %s.\n", configDir)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(path string, data []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# newsmon configuration

transport:
  url: "wss://gateway.example.com/ws"
  phone: "+79990000000"
  work_dir: .newsmon/session
  login_mode: phone_code   # or: qr

gigachat:
  auth_url: "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
  api_url: "https://gigachat.devices.sberbank.ru/api/v1/chat/completions"
  model: GigaChat-Pro
  client_id_env: GIGACHAT_CLIENT_ID
  client_secret_env: GIGACHAT_CLIENT_SECRET

storage:
  path: .newsmon/newsmon.db

retention:
  max_age_days: 10
  max_posts: 1000
  sweep_interval: 6h

themes:
  defaults: []
  # - "экономика"
  # - "медицина"
  # - "другое"
`
