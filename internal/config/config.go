// Package config loads and validates screenwatch configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Diff     DiffConfig     `mapstructure:"diff"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	RequestTimeout int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SweepConfig governs the dispatcher and per-route capture pipeline.
type SweepConfig struct {
	Concurrency    int     `mapstructure:"concurrency"`
	QueueDepth     int     `mapstructure:"queue_depth"`
	UserAgent      string  `mapstructure:"user_agent"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	HostRPS        float64 `mapstructure:"host_rps"`
	HostBurst      int     `mapstructure:"host_burst"`
}

// HeadlessConfig configures the chromedp screenshotter.
type HeadlessConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	MaxParallel    int  `mapstructure:"max_parallel"`
	NavTimeoutSec  int  `mapstructure:"nav_timeout_seconds"`
	SettleMillis   int  `mapstructure:"settle_ms"`
	ViewportWidth  int  `mapstructure:"viewport_width"`
	ViewportHeight int  `mapstructure:"viewport_height"`
}

// DiffConfig tunes change detection.
type DiffConfig struct {
	Threshold     float64 `mapstructure:"threshold"`
	ChangePercent float64 `mapstructure:"change_percent"`
}

// FetchConfig controls retrieval of previously stored screenshots.
type FetchConfig struct {
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
	UserAgent          string `mapstructure:"user_agent"`
	BreakerMaxFailures uint32 `mapstructure:"breaker_max_failures"`
	BreakerOpenSeconds int    `mapstructure:"breaker_open_seconds"`
}

// StorageConfig selects and configures the screenshot blob backend.
type StorageConfig struct {
	Backend     string         `mapstructure:"backend"`
	Prefix      string         `mapstructure:"prefix"`
	Bucket      string         `mapstructure:"bucket"`
	ContentType string         `mapstructure:"content_type"`
	Local       LocalConfig    `mapstructure:"local"`
	Supabase    SupabaseConfig `mapstructure:"supabase"`
}

// LocalConfig points the local blob store at a directory.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// SupabaseConfig holds Supabase project credentials for the storage backend.
type SupabaseConfig struct {
	URL    string `mapstructure:"url"`
	Key    string `mapstructure:"key"`
	Public bool   `mapstructure:"public"`
}

// DatabaseConfig controls access to the relational database.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for change notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCREENWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("sweep.concurrency", 2)
	v.SetDefault("sweep.queue_depth", 32)
	v.SetDefault("sweep.user_agent", "screenwatch-bot/0.1")
	v.SetDefault("sweep.timeout_seconds", 600)
	v.SetDefault("sweep.host_rps", 1.0)
	v.SetDefault("sweep.host_burst", 2)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.settle_ms", 3000)
	v.SetDefault("headless.viewport_width", 1280)
	v.SetDefault("headless.viewport_height", 800)
	v.SetDefault("diff.threshold", 0.1)
	v.SetDefault("diff.change_percent", 0.5)
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.user_agent", "screenwatch-bot/0.1")
	v.SetDefault("fetch.breaker_max_failures", 5)
	v.SetDefault("fetch.breaker_open_seconds", 30)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "screenshots")
	v.SetDefault("storage.content_type", "image/png")
	v.SetDefault("database.driver", "memory")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Sweep.Concurrency <= 0 {
		return fmt.Errorf("sweep.concurrency must be > 0")
	}
	if c.Sweep.QueueDepth < 0 {
		return fmt.Errorf("sweep.queue_depth must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Diff.Threshold < 0 || c.Diff.Threshold > 1 {
		return fmt.Errorf("diff.threshold must be within [0,1]")
	}
	if c.Diff.ChangePercent < 0 || c.Diff.ChangePercent > 100 {
		return fmt.Errorf("diff.change_percent must be within [0,100]")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "", "memory":
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	case "supabase":
		if c.Storage.Bucket == "" || c.Storage.Supabase.URL == "" || c.Storage.Supabase.Key == "" {
			return fmt.Errorf("storage.bucket, storage.supabase.url and storage.supabase.key are required for the supabase backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.Database.Driver {
	case "", "memory":
	case "postgres", "sqlite":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the %s driver", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	return nil
}

// SweepBudget bounds a whole sweep run.
func (c Config) SweepBudget() time.Duration {
	return time.Duration(c.Sweep.TimeoutSeconds) * time.Second
}

// NavTimeout bounds a single page navigation and screenshot.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}
