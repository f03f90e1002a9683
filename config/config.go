package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

const (
	AppName        = "fleetcron-agent"
	ConfigBasename = "fleetcron.config.json"
)

type RetryConfig struct {
	Retries  int     `json:"retries" validate:"min=0,max=20"`
	DelaySec float64 `json:"delay_sec" validate:"min=0"`
	Backoff  float64 `json:"backoff" validate:"min=0"`
}

type HTTPDefaults struct {
	TimeoutSec int         `json:"timeout_sec" validate:"min=1,max=600"`
	Retry      RetryConfig `json:"retry"`
}

type NotifyConfig struct {
	// Resend email channel; Telegram settings live in the database.
	ResendAPIKey string `json:"resend_api_key" env:"FLEETCRON_RESEND_API_KEY"`
	ResendFrom   string `json:"resend_from"`
	EmailTo      string `json:"email_to" validate:"omitempty,email"`
}

// Config is an immutable snapshot of the agent configuration. The command
// watcher swaps a fresh snapshot behind an atomic pointer on reload_config;
// tick code reads exactly one snapshot per tick.
type Config struct {
	Env      string `json:"env" env:"ENV" validate:"required,oneof=local staging production"`
	LogLevel string `json:"log_level" env:"FLEETCRON_LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`

	MongoDBURI string `json:"mongodb_uri" env:"FLEETCRON_MONGODB_URI" validate:"required"`
	DBName     string `json:"db_name" env:"FLEETCRON_DB_NAME" validate:"required"`
	TZ         string `json:"tz" env:"FLEETCRON_TZ" validate:"required"`

	OrderField   string `json:"order_field" validate:"required"`
	DefaultOrder int    `json:"default_order" validate:"min=1"`
	MaxOrder     int    `json:"max_order" validate:"min=0"`
	// MaxSerial is the legacy name for MaxOrder; honored when MaxOrder is
	// absent from the file.
	MaxSerial int `json:"max_serial"`

	HTTPDefaults HTTPDefaults      `json:"http_defaults"`
	Secrets      map[string]string `json:"secrets"`

	CABundle string `json:"ca_bundle" env:"FLEETCRON_CA_BUNDLE"`

	StatusAddr  string `json:"status_addr" env:"FLEETCRON_STATUS_ADDR"`
	MetricsAddr string `json:"metrics_addr" env:"FLEETCRON_METRICS_ADDR"`

	Notify NotifyConfig `json:"notify"`
}

// SlogLevel maps the configured log level; Info when unset.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// OrderAliases returns the order-field names in read-priority order: the
// configured primary first, then the legacy aliases. Reads coalesce across
// the whole list; writes project the value to every name.
func (c *Config) OrderAliases() []string {
	aliases := []string{c.OrderField}
	for _, legacy := range []string{"order", "serial"} {
		if legacy != c.OrderField {
			aliases = append(aliases, legacy)
		}
	}
	return aliases
}

// MaxActive is the active-position cap: machines whose position exceeds it
// abandon the minute.
func (c *Config) MaxActive() int {
	if c.MaxOrder > 0 {
		return c.MaxOrder
	}
	if c.MaxSerial > 0 {
		return c.MaxSerial
	}
	return 10
}

// HomeDir returns ~/.fleetcron, creating it if needed.
func HomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	dir := filepath.Join(home, ".fleetcron")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}

// Find locates the config file: next to the executable first, then under
// ~/.fleetcron/.
func Find() (string, error) {
	if exe, err := os.Executable(); err == nil {
		local := filepath.Join(filepath.Dir(exe), ConfigBasename)
		if _, err := os.Stat(local); err == nil {
			return local, nil
		}
	}
	dir, err := HomeDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, ConfigBasename)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("config file not found at %s: %w", path, err)
	}
	return path, nil
}

// Load reads the config file from the standard locations, applies env
// overrides, fills defaults and validates.
func Load() (*Config, error) {
	path, err := Find()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads one specific config file.
func LoadFrom(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	// Env vars win over the file.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = "local"
	}
	if c.DBName == "" {
		c.DBName = "fleetcron"
	}
	if c.TZ == "" {
		c.TZ = "Asia/Seoul"
	}
	if c.OrderField == "" {
		c.OrderField = "order"
	}
	if c.DefaultOrder == 0 {
		c.DefaultOrder = 9999
	}
	if c.MaxOrder == 0 && c.MaxSerial == 0 {
		c.MaxOrder = 10
	}
	if c.HTTPDefaults.TimeoutSec == 0 {
		c.HTTPDefaults = HTTPDefaults{
			TimeoutSec: 10,
			Retry:      RetryConfig{Retries: 2, DelaySec: 3, Backoff: 1.5},
		}
	}
	if c.Secrets == nil {
		c.Secrets = map[string]string{}
	}
}
