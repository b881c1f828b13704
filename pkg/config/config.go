package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"chatgate/pkg/cache"
)

const defaultConfigFileName = "chatgate.toml"

type DBConfig struct {
	Driver      string `toml:"driver"`
	DSN         string `toml:"dsn"`
	AutoMigrate bool   `toml:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password,omitempty"`
	DB       int    `toml:"db,omitempty"`
}

type TLSConfig struct {
	Enabled  bool   `toml:"enabled"`
	Domain   string `toml:"domain"`
	Email    string `toml:"email"`
	CacheDir string `toml:"cache_dir"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`

	// Secret keys the at-rest encryption of user API keys. Changing it makes
	// previously encrypted keys unreadable (they then pass through as-is).
	Secret string `toml:"secret"`

	AdminToken string `toml:"admin_token"`

	// PaidMode enables shared-backend routing and point metering.
	PaidMode          bool   `toml:"paid_mode"`
	SharedBackendPath string `toml:"shared_backend_path"`
	PricingTablePath  string `toml:"pricing_table_path"`
	ProviderRulesPath string `toml:"provider_rules_path"`

	UpstreamTimeoutSeconds int   `toml:"upstream_timeout_seconds"`
	RateLimitPerHour       int64 `toml:"rate_limit_per_hour"`

	DB    DBConfig    `toml:"db"`
	Redis RedisConfig `toml:"redis"`
	TLS   TLSConfig   `toml:"tls"`
	Log   LogConfig   `toml:"log"`
}

func DefaultServerConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultConfigFileName
	}
	return filepath.Join(home, ".config", "chatgate", defaultConfigFileName)
}

func defaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".local", "share", "chatgate", name)
}

func NewDefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr:             ":8089",
		SharedBackendPath:      defaultDataPath("shared_backend.json"),
		PricingTablePath:       defaultDataPath("pricing.json"),
		ProviderRulesPath:      defaultDataPath("model_rules.json"),
		UpstreamTimeoutSeconds: 120,
		DB: DBConfig{
			Driver:      "sqlite",
			DSN:         defaultDataPath("chatgate.db"),
			AutoMigrate: true,
		},
		Log: LogConfig{Level: "info"},
	}
}

func LoadServerConfig(path string) (*ServerConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := NewDefaultServerConfig()
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}

func SaveServerConfig(path string, cfg *ServerConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	b, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, b, 0o600)
}

func (c *ServerConfig) normalize() {
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = ":8089"
	}
	if c.UpstreamTimeoutSeconds <= 0 {
		c.UpstreamTimeoutSeconds = 120
	}
	if strings.TrimSpace(c.DB.Driver) == "" {
		c.DB.Driver = "sqlite"
	}
}

func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.Secret) == "" {
		return fmt.Errorf("secret is required (run `chatgate init` to generate one)")
	}
	if strings.TrimSpace(c.DB.DSN) == "" {
		return fmt.Errorf("db.dsn is required")
	}
	return nil
}

// SharedBackend holds the operator-provided credentials used for metered
// requests. Loaded once at startup; there is no hot reload.
type SharedBackend struct {
	APIEndpoint string `json:"api_endpoint"`
	APIKey      string `json:"api_key"`
}

func (s SharedBackend) Complete() bool {
	return strings.TrimSpace(s.APIEndpoint) != "" && strings.TrimSpace(s.APIKey) != ""
}

// LoadSharedBackend reads the shared credentials file. A missing file is not
// an error: the deployment simply has no shared backend and metered requests
// will fail with a server-misconfigured error.
func LoadSharedBackend(path string) (SharedBackend, error) {
	var sb SharedBackend
	if strings.TrimSpace(path) == "" {
		return sb, nil
	}
	if err := cache.LoadJSON(path, &sb); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return SharedBackend{}, nil
		}
		return SharedBackend{}, fmt.Errorf("load shared backend config: %w", err)
	}
	return sb, nil
}
