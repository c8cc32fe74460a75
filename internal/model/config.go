package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// SourceConfig holds settings for the scraped source site.
type SourceConfig struct {
	// BaseURL is the root URL of the source portal.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// PollIntervalSec is how often (in seconds) the poll loop asks the
	// source for the current message list.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`

	// RequestTimeoutSec bounds every single network call to the source.
	RequestTimeoutSec int `mapstructure:"request_timeout_sec" yaml:"request_timeout_sec"`

	// LoginMaxAttempts is how many times a login is retried (with
	// backoff) before the failure is surfaced to the caller.
	LoginMaxAttempts int `mapstructure:"login_max_attempts" yaml:"login_max_attempts"`

	// SessionMaxAgeMin forces a re-login after a session handle has
	// been alive this long, even if the source has not rejected it yet.
	SessionMaxAgeMin int `mapstructure:"session_max_age_min" yaml:"session_max_age_min"`
}

// TelegramConfig holds settings for the notification bot.
type TelegramConfig struct {
	// ChatIDs are the destinations every new message is forwarded to.
	ChatIDs []int64 `mapstructure:"chat_ids" yaml:"chat_ids"`

	// AdminIDs are the Telegram user IDs allowed to run query and
	// control commands. Must not be empty.
	AdminIDs []int64 `mapstructure:"admin_ids" yaml:"admin_ids"`
}

// DedupConfig controls how long delivered message IDs are remembered.
type DedupConfig struct {
	// RetentionHours is the dedup window. It must exceed the span in
	// which the source can re-show an old message.
	RetentionHours int `mapstructure:"retention_hours" yaml:"retention_hours"`

	// PruneIntervalMin is how often expired entries are removed.
	PruneIntervalMin int `mapstructure:"prune_interval_min" yaml:"prune_interval_min"`
}

// DeliveryConfig controls outbound notification retry behavior.
type DeliveryConfig struct {
	// MaxAttempts is the per-task retry budget. After this many failed
	// sends the task is dropped with a terminal-failure report.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`

	// BackoffBaseMs is the first retry delay; it doubles per attempt.
	BackoffBaseMs int `mapstructure:"backoff_base_ms" yaml:"backoff_base_ms"`

	// BackoffCapMs caps the retry delay.
	BackoffCapMs int `mapstructure:"backoff_cap_ms" yaml:"backoff_cap_ms"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// DBPath is the SQLite database file. Empty means in-memory only
	// (dedup state is lost on restart).
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// HistoryConfig bounds on-demand range queries.
type HistoryConfig struct {
	// MaxSpanDays is the largest accepted start..end range.
	MaxSpanDays int `mapstructure:"max_span_days" yaml:"max_span_days"`
}

// WebConfig holds the operational HTTP endpoint settings.
type WebConfig struct {
	// ListenAddr is the bind address for /healthz and /status.
	// Empty disables the HTTP server.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Source   SourceConfig   `mapstructure:"source" yaml:"source"`
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
	Dedup    DedupConfig    `mapstructure:"dedup" yaml:"dedup"`
	Delivery DeliveryConfig `mapstructure:"delivery" yaml:"delivery"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	History  HistoryConfig  `mapstructure:"history" yaml:"history"`
	Web      WebConfig      `mapstructure:"web" yaml:"web"`
	LogLevel string         `mapstructure:"log_level" yaml:"log_level"`
}

// PollInterval returns the poll cadence as a duration.
func (c *AppConfig) PollInterval() time.Duration {
	return time.Duration(c.Source.PollIntervalSec) * time.Second
}

// RequestTimeout returns the per-request network timeout as a duration.
func (c *AppConfig) RequestTimeout() time.Duration {
	return time.Duration(c.Source.RequestTimeoutSec) * time.Second
}

// SessionMaxAge returns the forced re-login age as a duration.
func (c *AppConfig) SessionMaxAge() time.Duration {
	return time.Duration(c.Source.SessionMaxAgeMin) * time.Minute
}

// DedupRetention returns the dedup window as a duration.
func (c *AppConfig) DedupRetention() time.Duration {
	return time.Duration(c.Dedup.RetentionHours) * time.Hour
}

// PruneInterval returns the prune cadence as a duration.
func (c *AppConfig) PruneInterval() time.Duration {
	return time.Duration(c.Dedup.PruneIntervalMin) * time.Minute
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/otpfwd/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "otpfwd", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Source: SourceConfig{
			BaseURL:           "https://www.ivasms.com",
			PollIntervalSec:   8,
			RequestTimeoutSec: 30,
			LoginMaxAttempts:  5,
			SessionMaxAgeMin:  30,
		},
		Dedup: DedupConfig{
			RetentionHours:   168,
			PruneIntervalMin: 60,
		},
		Delivery: DeliveryConfig{
			MaxAttempts:   5,
			BackoffBaseMs: 500,
			BackoffCapMs:  30000,
		},
		Storage: StorageConfig{
			DBPath: filepath.Join(filepath.Dir(DefaultConfigPath()), "otpfwd.db"),
		},
		History: HistoryConfig{
			MaxSpanDays: 31,
		},
		Web: WebConfig{
			ListenAddr: "",
		},
		LogLevel: "info",
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	def := defaultAppConfig()
	v.SetDefault("source.base_url", def.Source.BaseURL)
	v.SetDefault("source.poll_interval_sec", def.Source.PollIntervalSec)
	v.SetDefault("source.request_timeout_sec", def.Source.RequestTimeoutSec)
	v.SetDefault("source.login_max_attempts", def.Source.LoginMaxAttempts)
	v.SetDefault("source.session_max_age_min", def.Source.SessionMaxAgeMin)
	v.SetDefault("dedup.retention_hours", def.Dedup.RetentionHours)
	v.SetDefault("dedup.prune_interval_min", def.Dedup.PruneIntervalMin)
	v.SetDefault("delivery.max_attempts", def.Delivery.MaxAttempts)
	v.SetDefault("delivery.backoff_base_ms", def.Delivery.BackoffBaseMs)
	v.SetDefault("delivery.backoff_cap_ms", def.Delivery.BackoffCapMs)
	v.SetDefault("storage.db_path", def.Storage.DBPath)
	v.SetDefault("history.max_span_days", def.History.MaxSpanDays)
	v.SetDefault("web.listen_addr", def.Web.ListenAddr)
	v.SetDefault("log_level", def.LogLevel)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return def, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return def, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks settings that would otherwise fail at an awkward
// moment deep inside the pipeline. Called once at startup, where a
// configuration error is still allowed to stop the process.
func (c *AppConfig) Validate() error {
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url must not be empty")
	}
	if len(c.Telegram.ChatIDs) == 0 {
		return fmt.Errorf("telegram.chat_ids must list at least one destination")
	}
	if len(c.Telegram.AdminIDs) == 0 {
		return fmt.Errorf("telegram.admin_ids must list at least one admin")
	}
	if c.Source.PollIntervalSec <= 0 {
		return fmt.Errorf("source.poll_interval_sec must be positive")
	}
	if c.Delivery.MaxAttempts <= 0 {
		return fmt.Errorf("delivery.max_attempts must be positive")
	}
	return nil
}
