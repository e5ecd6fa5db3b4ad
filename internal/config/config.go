// Package config loads and validates pagemark configuration via Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Fallback FallbackConfig `mapstructure:"fallback"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// CrawlerConfig governs a crawl session.
type CrawlerConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
	ExpandDefault  bool          `mapstructure:"expand_default"`
}

// HTTPConfig configures the per-session HTTP client.
type HTTPConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
}

// HeadlessConfig configures the browser render strategy.
type HeadlessConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	Settle      time.Duration `mapstructure:"settle"`
	ScrollCount int           `mapstructure:"scroll_count"`
	IdleWindow  time.Duration `mapstructure:"idle_window"`
	DomainQPS   float64       `mapstructure:"domain_qps"`
}

// FallbackConfig configures the plain HTTP polling strategy.
type FallbackConfig struct {
	Settle      time.Duration `mapstructure:"settle"`
	ScrollCount int           `mapstructure:"scroll_count"`
	ScrollPause time.Duration `mapstructure:"scroll_pause"`
	WarmupLimit int           `mapstructure:"warmup_limit"`
}

// StorageConfig sets the output directory and its retention.
type StorageConfig struct {
	OutputDir       string        `mapstructure:"output_dir"`
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls OpenTelemetry span sampling.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAGEMARK")
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
	v.SetDefault("server.request_timeout", "5m")
	v.SetDefault("crawler.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.session_timeout", "4m")
	v.SetDefault("crawler.expand_default", false)
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.max_idle_conns", 100)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.nav_timeout", "45s")
	v.SetDefault("headless.settle", "2s")
	v.SetDefault("headless.scroll_count", 0)
	v.SetDefault("headless.idle_window", "500ms")
	v.SetDefault("headless.domain_qps", 0)
	v.SetDefault("fallback.settle", "8s")
	v.SetDefault("fallback.scroll_count", 5)
	v.SetDefault("fallback.scroll_pause", "1s")
	v.SetDefault("fallback.warmup_limit", 8)
	v.SetDefault("storage.output_dir", filepath.Join(os.TempDir(), "pagemark"))
	v.SetDefault("storage.retention", "24h")
	v.SetDefault("storage.cleanup_interval", "1h")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", true)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be > 0")
	}
	if c.Crawler.SessionTimeout <= 0 {
		return fmt.Errorf("crawler.session_timeout must be > 0")
	}
	// The API answers 503 once request_timeout passes, so sessions must end first.
	if c.Crawler.SessionTimeout >= c.Server.RequestTimeout {
		return fmt.Errorf("crawler.session_timeout (%s) must be shorter than server.request_timeout (%s)",
			c.Crawler.SessionTimeout, c.Server.RequestTimeout)
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.Headless.Enabled && c.Headless.NavTimeout <= 0 {
		return fmt.Errorf("headless.nav_timeout must be > 0 when headless is enabled")
	}
	if c.Headless.ScrollCount < 0 || c.Fallback.ScrollCount < 0 {
		return fmt.Errorf("scroll_count must be >= 0")
	}
	if c.Headless.Settle < 0 || c.Fallback.Settle < 0 || c.Fallback.ScrollPause < 0 {
		return fmt.Errorf("settle durations must be >= 0")
	}
	if c.Headless.DomainQPS < 0 {
		return fmt.Errorf("headless.domain_qps must be >= 0")
	}
	if c.Fallback.WarmupLimit < 0 {
		return fmt.Errorf("fallback.warmup_limit must be >= 0")
	}
	if strings.TrimSpace(c.Storage.OutputDir) == "" {
		return fmt.Errorf("storage.output_dir must be set")
	}
	if c.Storage.Retention <= 0 {
		return fmt.Errorf("storage.retention must be > 0")
	}
	if c.Storage.CleanupInterval <= 0 {
		return fmt.Errorf("storage.cleanup_interval must be > 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}
