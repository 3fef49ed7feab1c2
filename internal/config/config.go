// Package config loads and validates imagefetch configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends accepted by store.backend.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Concurrency bounds for the batch worker pool.
const (
	MinConcurrency = 1
	MaxConcurrency = 64
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Fetcher FetcherConfig `mapstructure:"fetcher"`
	Store   StoreConfig   `mapstructure:"store"`
	Batch   BatchConfig   `mapstructure:"batch"`
	Publish PublishConfig `mapstructure:"publish"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// FetcherConfig governs HTTP retrieval and the worker pool.
type FetcherConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Concurrency   int           `mapstructure:"concurrency"`
	MaxBodyBytes  int           `mapstructure:"max_body_bytes"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	// HostRPS throttles requests per host; zero disables throttling.
	HostRPS      float64  `mapstructure:"host_rps"`
	HostBurst    int      `mapstructure:"host_burst"`
	BlockedHosts []string `mapstructure:"blocked_hosts"`
}

// StoreConfig selects and configures the destination namespace.
type StoreConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// BatchConfig bounds a whole batch run. Zero deadline means none.
type BatchConfig struct {
	Deadline time.Duration `mapstructure:"deadline"`
}

// PublishConfig holds metadata for fetched-image notifications.
type PublishConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Enabled reports whether notifications go to Pub/Sub.
func (p PublishConfig) Enabled() bool {
	return p.ProjectID != "" && p.Topic != ""
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load builds a Config from disk/environment. An empty path skips the file.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("IMAGEFETCH")
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
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Every key needs a default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("fetcher.user_agent", "UbuntuFetcher/1.0")
	v.SetDefault("fetcher.timeout", "10s")
	v.SetDefault("fetcher.concurrency", 8)
	v.SetDefault("fetcher.max_body_bytes", 50*1024*1024)
	v.SetDefault("fetcher.respect_robots", false)
	v.SetDefault("fetcher.host_rps", 0.0)
	v.SetDefault("fetcher.host_burst", 1)
	v.SetDefault("fetcher.blocked_hosts", []string{})
	v.SetDefault("store.backend", BackendLocal)
	v.SetDefault("store.dir", "Fetched_Images")
	v.SetDefault("store.gcs_bucket", "")
	v.SetDefault("store.gcs_prefix", "")
	v.SetDefault("batch.deadline", "0s")
	v.SetDefault("publish.project_id", "")
	v.SetDefault("publish.topic", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.enabled", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetcher.Concurrency < MinConcurrency || c.Fetcher.Concurrency > MaxConcurrency {
		return fmt.Errorf("fetcher.concurrency must be between %d and %d", MinConcurrency, MaxConcurrency)
	}
	if c.Fetcher.Timeout <= 0 {
		return fmt.Errorf("fetcher.timeout must be > 0")
	}
	if c.Fetcher.MaxBodyBytes < 0 {
		return fmt.Errorf("fetcher.max_body_bytes must be >= 0")
	}
	if c.Fetcher.HostRPS < 0 || c.Fetcher.HostBurst < 0 {
		return fmt.Errorf("fetcher.host_rps and fetcher.host_burst must be >= 0")
	}
	if c.Batch.Deadline < 0 {
		return fmt.Errorf("batch.deadline must be >= 0")
	}
	switch c.Store.Backend {
	case BackendLocal:
		if strings.TrimSpace(c.Store.Dir) == "" {
			return fmt.Errorf("store.dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Store.GCSBucket == "" {
			return fmt.Errorf("store.gcs_bucket must be set for the gcs backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("store.backend %q must be one of local, gcs, memory", c.Store.Backend)
	}
	if c.Publish.Topic != "" && c.Publish.ProjectID == "" {
		return fmt.Errorf("publish.project_id must be set when publish.topic is set")
	}
	return nil
}

// ClampConcurrency forces n into the allowed worker range; zero selects the default of 8.
func ClampConcurrency(n int) int {
	switch {
	case n == 0:
		return 8
	case n < MinConcurrency:
		return MinConcurrency
	case n > MaxConcurrency:
		return MaxConcurrency
	default:
		return n
	}
}
