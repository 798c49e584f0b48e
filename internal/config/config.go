// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Sitemap   SitemapConfig   `mapstructure:"sitemap"`
	PageSpeed PageSpeedConfig `mapstructure:"pagespeed"`
	DB        DBConfig        `mapstructure:"db"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ProcessorConfig governs the poll loop and retention sweep.
type ProcessorConfig struct {
	PollIntervalSeconds    int  `mapstructure:"poll_interval_seconds"`
	RetentionHours         int  `mapstructure:"retention_hours"`
	RetentionSweepMinutes  int  `mapstructure:"retention_sweep_minutes"`
	PruneFailed            bool `mapstructure:"prune_failed"`
	ShutdownTimeoutSeconds int  `mapstructure:"shutdown_timeout_seconds"`
}

// ScannerConfig governs the site scanner.
type ScannerConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	MaxPages       int    `mapstructure:"max_pages"`
	MaxDepth       int    `mapstructure:"max_depth"`
	Concurrency    int    `mapstructure:"concurrency"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	DelayMs        int    `mapstructure:"delay_ms"`
}

// SitemapConfig governs sitemap discovery.
type SitemapConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxURLs        int `mapstructure:"max_urls"`
}

// PageSpeedConfig configures the external performance auditor.
type PageSpeedConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	Strategy       string `mapstructure:"strategy"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DBConfig controls access to the relational job store. An empty DSN selects
// the in-memory store.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ArchiveConfig selects where completed reports are archived.
type ArchiveConfig struct {
	// Backend is one of "", "memory", "local", "gcs". Empty disables archiving.
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// NotifyConfig selects the terminal notification channel.
type NotifyConfig struct {
	// Backend is one of "", "memory", "pubsub". Empty disables notifications.
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SEOSCOPE")
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
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("processor.poll_interval_seconds", 3)
	v.SetDefault("processor.retention_hours", 24)
	v.SetDefault("processor.retention_sweep_minutes", 60)
	v.SetDefault("processor.prune_failed", false)
	v.SetDefault("processor.shutdown_timeout_seconds", 120)
	v.SetDefault("scanner.user_agent", "seoscope-bot/1.0")
	v.SetDefault("scanner.max_pages", 200)
	v.SetDefault("scanner.max_depth", 8)
	v.SetDefault("scanner.concurrency", 4)
	v.SetDefault("scanner.timeout_seconds", 15)
	v.SetDefault("scanner.delay_ms", 0)
	v.SetDefault("sitemap.timeout_seconds", 10)
	v.SetDefault("sitemap.max_urls", 500)
	v.SetDefault("pagespeed.strategy", "mobile")
	v.SetDefault("pagespeed.timeout_seconds", 45)
	v.SetDefault("archive.prefix", "reports")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Processor.PollIntervalSeconds <= 0 {
		return fmt.Errorf("processor.poll_interval_seconds must be > 0")
	}
	if c.Processor.RetentionHours <= 0 {
		return fmt.Errorf("processor.retention_hours must be > 0")
	}
	if c.Scanner.MaxPages <= 0 {
		return fmt.Errorf("scanner.max_pages must be > 0")
	}
	if c.Scanner.Concurrency <= 0 {
		return fmt.Errorf("scanner.concurrency must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Archive.Backend {
	case "", "memory":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set for the local archive")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	switch c.Notify.Backend {
	case "", "memory":
	case "pubsub":
		if c.Notify.ProjectID == "" || c.Notify.TopicID == "" {
			return fmt.Errorf("notify.project_id and notify.topic_id must be set for pubsub")
		}
	default:
		return fmt.Errorf("notify.backend %q is not supported", c.Notify.Backend)
	}
	return nil
}

// PollInterval returns the processor poll interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Processor.PollIntervalSeconds) * time.Second
}

// RetentionWindow returns how long finished jobs are kept.
func (c Config) RetentionWindow() time.Duration {
	return time.Duration(c.Processor.RetentionHours) * time.Hour
}

// RetentionSweepInterval returns how often the retention sweep runs.
func (c Config) RetentionSweepInterval() time.Duration {
	return time.Duration(c.Processor.RetentionSweepMinutes) * time.Minute
}

// ServerTimeout returns the per-request HTTP timeout.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds how long shutdown waits for the in-flight job.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Processor.ShutdownTimeoutSeconds) * time.Second
}
