package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

const minimalConfig = `
transport:
  url: wss://ws.example.test/events
  phone: "+79990001122"
gigachat:
  auth_url: https://auth.example.test/oauth
  api_url: https://api.example.test/chat/completions
`

func TestLoadAppliesDefaults(t *testing.T) {
	dir := writeConfig(t, minimalConfig)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Transport.LoginMode != LoginModePhoneCode {
		t.Fatalf("unexpected login mode: %s", cfg.Transport.LoginMode)
	}
	if cfg.GigaChat.Model != DefaultModel {
		t.Fatalf("unexpected model: %s", cfg.GigaChat.Model)
	}
	if cfg.Storage.Path != DefaultStoragePath {
		t.Fatalf("unexpected storage path: %s", cfg.Storage.Path)
	}
	if cfg.Retention.MaxAgeDays != DefaultMaxAgeDays {
		t.Fatalf("unexpected max_age_days: %d", cfg.Retention.MaxAgeDays)
	}
	if cfg.Retention.MaxPosts != DefaultMaxPosts {
		t.Fatalf("unexpected max_posts: %d", cfg.Retention.MaxPosts)
	}
	if cfg.Retention.SweepInterval.Duration != DefaultSweepInterval {
		t.Fatalf("unexpected sweep interval: %s", cfg.Retention.SweepInterval.Duration)
	}
	if len(cfg.Themes.Defaults) != len(DefaultThemes) {
		t.Fatalf("expected %d default themes, got %d", len(DefaultThemes), len(cfg.Themes.Defaults))
	}
	if last := cfg.Themes.Defaults[len(cfg.Themes.Defaults)-1]; last != "другое" {
		t.Fatalf("default themes must end with the sentinel, got %q", last)
	}
}

func TestLoadResolvesEnv(t *testing.T) {
	dir := writeConfig(t, minimalConfig+`
  client_id_env: NEWSMON_TEST_CLIENT_ID
  client_secret_env: NEWSMON_TEST_CLIENT_SECRET
`)

	t.Setenv("NEWSMON_TEST_CLIENT_ID", "id-123")
	t.Setenv("NEWSMON_TEST_CLIENT_SECRET", "secret-456")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.GigaChat.ClientID != "id-123" {
		t.Fatalf("unexpected client id: %s", cfg.GigaChat.ClientID)
	}
	if cfg.GigaChat.ClientSecret != "secret-456" {
		t.Fatalf("unexpected client secret: %s", cfg.GigaChat.ClientSecret)
	}
}

func TestLoadRejectsBadLoginMode(t *testing.T) {
	cfgText := strings.Replace(minimalConfig, `phone: "+79990001122"`,
		"phone: \"+79990001122\"\n  login_mode: carrier_pigeon", 1)
	dir := writeConfig(t, cfgText)

	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for unknown login mode")
	}
}

func TestLoadRequiresTransportURL(t *testing.T) {
	dir := writeConfig(t, `
transport:
  phone: "+79990001122"
gigachat:
  auth_url: https://auth.example.test/oauth
  api_url: https://api.example.test/chat/completions
`)

	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for missing transport.url")
	}
}

func TestDurationUnmarshal(t *testing.T) {
	dir := writeConfig(t, minimalConfig+`
retention:
  sweep_interval: 45m
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Retention.SweepInterval.Duration != 45*time.Minute {
		t.Fatalf("unexpected sweep interval: %s", cfg.Retention.SweepInterval.Duration)
	}
}
