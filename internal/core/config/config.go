package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level application config.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Contracts ContractsConfig `koanf:"contracts"`
	Delivery  DeliveryConfig  `koanf:"delivery"`
	Inbound   InboundConfig   `koanf:"inbound"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	Type         string `koanf:"type"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

// ContractsConfig points at the declarative contract files applied on boot.
type ContractsConfig struct {
	ConfigDir string `koanf:"config_dir"`
}

// DeliveryConfig tunes the outbox delivery worker.
type DeliveryConfig struct {
	Enabled       bool   `koanf:"enabled"`
	PollInterval  string `koanf:"poll_interval"`
	BatchSize     int    `koanf:"batch_size"`
	MaxAttempts   int    `koanf:"max_attempts"`
	HTTPTimeout   string `koanf:"http_timeout"`
	LockTimeout   string `koanf:"lock_timeout"`
	MaxConcurrent int    `koanf:"max_concurrent"`
}

// InboundConfig declares webhook endpoints installed at startup. Further
// endpoints can still be registered at runtime by adapters.
type InboundConfig struct {
	Endpoints []InboundEndpointConfig `koanf:"endpoints"`
}

type InboundEndpointConfig struct {
	Path            string `koanf:"path"`
	Normalizer      string `koanf:"normalizer"`
	Secret          string `koanf:"secret"`
	SignatureHeader string `koanf:"signature_header"`
	ChallengeParam  string `koanf:"challenge_param"`
}

func (c DeliveryConfig) parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid delivery.%s %q: %w", field, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("delivery.%s must be > 0", field)
	}
	return d, nil
}

// PollIntervalDuration parses the validated poll interval.
func (c DeliveryConfig) PollIntervalDuration() (time.Duration, error) {
	return c.parseDuration("poll_interval", c.PollInterval)
}

// HTTPTimeoutDuration parses the validated per-delivery timeout.
func (c DeliveryConfig) HTTPTimeoutDuration() (time.Duration, error) {
	return c.parseDuration("http_timeout", c.HTTPTimeout)
}

// LockTimeoutDuration parses the validated claim-lock expiry.
func (c DeliveryConfig) LockTimeoutDuration() (time.Duration, error) {
	return c.parseDuration("lock_timeout", c.LockTimeout)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}
	if c.Database.Type != "" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}

	if _, err := c.Delivery.PollIntervalDuration(); err != nil {
		return err
	}
	if _, err := c.Delivery.HTTPTimeoutDuration(); err != nil {
		return err
	}
	if _, err := c.Delivery.LockTimeoutDuration(); err != nil {
		return err
	}
	if c.Delivery.BatchSize <= 0 {
		return fmt.Errorf("delivery.batch_size must be > 0")
	}
	if c.Delivery.MaxAttempts <= 0 {
		return fmt.Errorf("delivery.max_attempts must be > 0")
	}
	if c.Delivery.MaxConcurrent <= 0 {
		return fmt.Errorf("delivery.max_concurrent must be > 0")
	}

	seen := make(map[string]bool, len(c.Inbound.Endpoints))
	for _, ep := range c.Inbound.Endpoints {
		if strings.TrimSpace(ep.Path) == "" {
			return fmt.Errorf("inbound endpoint path must not be empty")
		}
		if ep.Normalizer == "" {
			return fmt.Errorf("inbound endpoint %q: normalizer is required", ep.Path)
		}
		if seen[ep.Path] {
			return fmt.Errorf("inbound endpoint %q declared twice", ep.Path)
		}
		seen[ep.Path] = true
	}

	return nil
}

// Load parses config from file + env and validates it.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":             8080,
		"server.host":             "0.0.0.0",
		"server.max_body_size_mb": 1,
		"server.mode":             "release",
		"database.type":           "postgres",
		"database.dsn":            "",
		"database.max_open_conns": 25,
		"database.max_idle_conns": 25,
		"database.auto_migrate":   true,
		"contracts.config_dir":    "./config/contracts",
		"delivery.enabled":        true,
		"delivery.poll_interval":  "2s",
		"delivery.batch_size":     50,
		"delivery.max_attempts":   10,
		"delivery.http_timeout":   "10s",
		"delivery.lock_timeout":   "5m",
		"delivery.max_concurrent": 8,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("HOOKLINE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "HOOKLINE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
