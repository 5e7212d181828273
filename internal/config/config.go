package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MinRetention is the longest lookback edge; retaining less would starve the
// week window.
const MinRetention = 8 * 24 * time.Hour

// Config represents the complete application configuration
type Config struct {
	Run        RunConfig        `mapstructure:"run"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Manifold   ManifoldConfig   `mapstructure:"manifold"`
	Metaculus  MetaculusConfig  `mapstructure:"metaculus"`
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Publish    PublishConfig    `mapstructure:"publish"`
	Mastodon   MastodonConfig   `mapstructure:"mastodon"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// RunConfig controls scheduling. A zero interval runs a single cycle and exits.
type RunConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// HTTPConfig holds request settings shared by all platform adapters
type HTTPConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryDelayBase  time.Duration `mapstructure:"retry_delay_base"`
	RequestInterval time.Duration `mapstructure:"request_interval"`
}

// ManifoldConfig holds Manifold API configuration
type ManifoldConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	BaseURL    string  `mapstructure:"base_url"`
	Limit      int     `mapstructure:"limit"`
	Referral   string  `mapstructure:"referral"`
	MinBettors int     `mapstructure:"min_bettors"`
	MinVolume  float64 `mapstructure:"min_volume"`
}

// MetaculusConfig holds Metaculus API configuration
type MetaculusConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BaseURL        string `mapstructure:"base_url"`
	Limit          int    `mapstructure:"limit"`
	MinForecasters int    `mapstructure:"min_forecasters"`
}

// PolymarketConfig holds Polymarket API configuration
type PolymarketConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	GammaAPIURL   string  `mapstructure:"gamma_api_url"`
	EventURL      string  `mapstructure:"event_url"`
	Limit         int     `mapstructure:"limit"`
	MinLiquidity  float64 `mapstructure:"min_liquidity"`
	MinVolume24hr float64 `mapstructure:"min_volume_24hr"`
}

// MonitorConfig holds change detection configuration
type MonitorConfig struct {
	Freshness      time.Duration `mapstructure:"freshness"`
	HistorySize    int           `mapstructure:"history_size"`
	EarlyTolerance time.Duration `mapstructure:"early_tolerance"`
}

// PublishConfig holds publication throttling configuration
type PublishConfig struct {
	MinSilence time.Duration `mapstructure:"min_silence"`
}

// MastodonConfig holds Mastodon posting configuration
type MastodonConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	APIEndpoint string        `mapstructure:"api_endpoint"`
	AccessToken string        `mapstructure:"access_token"`
	Visibility  string        `mapstructure:"visibility"`
	Language    string        `mapstructure:"language"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	APIEndpoint    string        `mapstructure:"api_endpoint"`
	Announce       bool          `mapstructure:"announce"` // also post announcements, not just run errors
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath    string        `mapstructure:"db_path"`
	Retention time.Duration `mapstructure:"retention"`
}

// MetricsConfig holds metrics export configuration
type MetricsConfig struct {
	TextfilePath string `mapstructure:"textfile_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads configuration from file and environment variables.
// An empty path skips the file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// MARKETWISE_MASTODON_ACCESS_TOKEN overrides mastodon.access_token
	v.SetEnvPrefix("MARKETWISE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("run.interval", "0s")

	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.retry_delay_base", "1s")
	v.SetDefault("http.request_interval", "250ms")

	v.SetDefault("manifold.enabled", true)
	v.SetDefault("manifold.base_url", "https://api.manifold.markets/v0")
	v.SetDefault("manifold.limit", 100)
	v.SetDefault("manifold.referral", "")
	v.SetDefault("manifold.min_bettors", 25)
	v.SetDefault("manifold.min_volume", 400.0)

	v.SetDefault("metaculus.enabled", true)
	v.SetDefault("metaculus.base_url", "https://www.metaculus.com/api2")
	v.SetDefault("metaculus.limit", 100)
	v.SetDefault("metaculus.min_forecasters", 30)

	v.SetDefault("polymarket.enabled", true)
	v.SetDefault("polymarket.gamma_api_url", "https://gamma-api.polymarket.com")
	v.SetDefault("polymarket.event_url", "https://polymarket.com/event/")
	v.SetDefault("polymarket.limit", 100)
	v.SetDefault("polymarket.min_liquidity", 500.0)
	v.SetDefault("polymarket.min_volume_24hr", 10.0)

	v.SetDefault("monitor.freshness", "15m")
	v.SetDefault("monitor.history_size", 30)
	v.SetDefault("monitor.early_tolerance", "10m")

	v.SetDefault("publish.min_silence", "4h")

	v.SetDefault("mastodon.enabled", false)
	v.SetDefault("mastodon.api_endpoint", "")
	v.SetDefault("mastodon.access_token", "")
	v.SetDefault("mastodon.visibility", "public")
	v.SetDefault("mastodon.language", "en")
	v.SetDefault("mastodon.timeout", "30s")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.api_endpoint", "")
	v.SetDefault("telegram.announce", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("storage.db_path", "./data/marketwise.db")
	v.SetDefault("storage.retention", "240h")

	v.SetDefault("metrics.textfile_path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Run.Interval < 0 {
		return fmt.Errorf("run.interval must not be negative")
	}
	if c.Run.Interval > 0 && c.Run.Interval < time.Minute {
		return fmt.Errorf("run.interval must be 0 or at least 1 minute")
	}

	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be positive")
	}
	if c.HTTP.MaxRetries < 1 {
		return fmt.Errorf("http.max_retries must be at least 1")
	}
	if c.HTTP.RequestInterval < 0 {
		return fmt.Errorf("http.request_interval must not be negative")
	}

	if !c.Manifold.Enabled && !c.Metaculus.Enabled && !c.Polymarket.Enabled {
		return fmt.Errorf("at least one of manifold, metaculus, polymarket must be enabled")
	}
	if c.Manifold.Enabled {
		if c.Manifold.BaseURL == "" {
			return fmt.Errorf("manifold.base_url is required")
		}
		if err := validateLimit("manifold.limit", c.Manifold.Limit); err != nil {
			return err
		}
	}
	if c.Metaculus.Enabled {
		if c.Metaculus.BaseURL == "" {
			return fmt.Errorf("metaculus.base_url is required")
		}
		if err := validateLimit("metaculus.limit", c.Metaculus.Limit); err != nil {
			return err
		}
	}
	if c.Polymarket.Enabled {
		if c.Polymarket.GammaAPIURL == "" {
			return fmt.Errorf("polymarket.gamma_api_url is required")
		}
		if c.Polymarket.EventURL == "" {
			return fmt.Errorf("polymarket.event_url is required")
		}
		if err := validateLimit("polymarket.limit", c.Polymarket.Limit); err != nil {
			return err
		}
	}

	if c.Monitor.Freshness <= 0 {
		return fmt.Errorf("monitor.freshness must be positive")
	}
	if c.Monitor.HistorySize < 1 {
		return fmt.Errorf("monitor.history_size must be at least 1")
	}
	if c.Monitor.EarlyTolerance < 0 {
		return fmt.Errorf("monitor.early_tolerance must not be negative")
	}
	if c.Publish.MinSilence < 0 {
		return fmt.Errorf("publish.min_silence must not be negative")
	}

	if c.Mastodon.Enabled {
		if c.Mastodon.APIEndpoint == "" {
			return fmt.Errorf("mastodon.api_endpoint is required when mastodon is enabled")
		}
		if c.Mastodon.AccessToken == "" {
			return fmt.Errorf("mastodon.access_token is required when mastodon is enabled")
		}
		validVisibility := map[string]bool{"public": true, "unlisted": true, "private": true, "direct": true}
		if !validVisibility[c.Mastodon.Visibility] {
			return fmt.Errorf("mastodon.visibility must be one of: public, unlisted, private, direct")
		}
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.Retention <= MinRetention {
		return fmt.Errorf("storage.retention must exceed %v", MinRetention)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	if c.Logging.File != "" && c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("logging.max_size_mb must be at least 1")
	}

	return nil
}

func validateLimit(field string, n int) error {
	if n < 1 || n > 1000 {
		return fmt.Errorf("%s must be between 1 and 1000", field)
	}
	return nil
}
