// Package config loads and validates the newsmon configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile      = "config.yaml"
	DefaultStoragePath     = ".newsmon/newsmon.db"
	DefaultWorkDir         = ".newsmon/session"
	DefaultModel           = "GigaChat-Pro"
	DefaultMaxAgeDays      = 10
	DefaultMaxPosts        = 1000
	DefaultSweepInterval   = 6 * time.Hour
	DefaultClientIDEnv     = "GIGACHAT_CLIENT_ID"
	DefaultClientSecretEnv = "GIGACHAT_CLIENT_SECRET"
)

// Supported transport login modes.
const (
	LoginModePhoneCode = "phone_code"
	LoginModeQR        = "qr"
)

// DefaultThemes is the fallback vocabulary used when the user-themes
// collaborator is empty or unreachable. The last entry is the sentinel
// label for posts matching no theme.
var DefaultThemes = []string{
	"искусственный интеллект",
	"криптовалюты",
	"медицина",
	"политика",
	"экономика",
	"технологии",
	"наука",
	"образование",
	"другое",
}

// Duration wraps time.Duration for YAML unmarshaling from strings like "6h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Transport TransportConfig `yaml:"transport"`
	GigaChat  GigaChatConfig  `yaml:"gigachat"`
	Storage   StorageConfig   `yaml:"storage"`
	Retention RetentionConfig `yaml:"retention"`
	Themes    ThemesConfig    `yaml:"themes"`
}

type TransportConfig struct {
	URL       string `yaml:"url"`
	Phone     string `yaml:"phone"`
	WorkDir   string `yaml:"work_dir"`
	LoginMode string `yaml:"login_mode"`
}

type GigaChatConfig struct {
	AuthURL         string `yaml:"auth_url"`
	APIURL          string `yaml:"api_url"`
	Model           string `yaml:"model"`
	ClientIDEnv     string `yaml:"client_id_env"`
	ClientSecretEnv string `yaml:"client_secret_env"`

	// Resolved from env vars at load time.
	ClientID     string `yaml:"-"`
	ClientSecret string `yaml:"-"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type RetentionConfig struct {
	MaxAgeDays    int      `yaml:"max_age_days"`
	MaxPosts      int      `yaml:"max_posts"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

type ThemesConfig struct {
	Defaults []string `yaml:"defaults"`
}

// Load reads config.yaml from dir, applies defaults, resolves env vars, and validates.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Transport.WorkDir == "" {
		cfg.Transport.WorkDir = DefaultWorkDir
	}
	if cfg.Transport.LoginMode == "" {
		cfg.Transport.LoginMode = LoginModePhoneCode
	}
	if cfg.GigaChat.Model == "" {
		cfg.GigaChat.Model = DefaultModel
	}
	if cfg.GigaChat.ClientIDEnv == "" {
		cfg.GigaChat.ClientIDEnv = DefaultClientIDEnv
	}
	if cfg.GigaChat.ClientSecretEnv == "" {
		cfg.GigaChat.ClientSecretEnv = DefaultClientSecretEnv
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Retention.MaxAgeDays == 0 {
		cfg.Retention.MaxAgeDays = DefaultMaxAgeDays
	}
	if cfg.Retention.MaxPosts == 0 {
		cfg.Retention.MaxPosts = DefaultMaxPosts
	}
	if cfg.Retention.SweepInterval.Duration == 0 {
		cfg.Retention.SweepInterval.Duration = DefaultSweepInterval
	}
	if len(cfg.Themes.Defaults) == 0 {
		cfg.Themes.Defaults = append([]string(nil), DefaultThemes...)
	}
}

func resolveEnv(cfg *Config) {
	if cfg.GigaChat.ClientIDEnv != "" {
		cfg.GigaChat.ClientID = os.Getenv(cfg.GigaChat.ClientIDEnv)
	}
	if cfg.GigaChat.ClientSecretEnv != "" {
		cfg.GigaChat.ClientSecret = os.Getenv(cfg.GigaChat.ClientSecretEnv)
	}
}

func validate(cfg *Config) error {
	if cfg.Transport.URL == "" {
		return errors.New("transport.url is required")
	}
	if cfg.Transport.Phone == "" {
		return errors.New("transport.phone is required")
	}
	switch cfg.Transport.LoginMode {
	case LoginModePhoneCode, LoginModeQR:
		// valid
	default:
		return fmt.Errorf("transport.login_mode: unknown mode %q (want %s or %s)",
			cfg.Transport.LoginMode, LoginModePhoneCode, LoginModeQR)
	}

	if cfg.GigaChat.AuthURL == "" {
		return errors.New("gigachat.auth_url is required")
	}
	if cfg.GigaChat.APIURL == "" {
		return errors.New("gigachat.api_url is required")
	}

	if cfg.Retention.MaxAgeDays < 0 {
		return errors.New("retention.max_age_days must not be negative")
	}
	if cfg.Retention.MaxPosts < 0 {
		return errors.New("retention.max_posts must not be negative")
	}

	return nil
}
