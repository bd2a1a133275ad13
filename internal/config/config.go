package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Endpoints EndpointsConfig `mapstructure:"endpoints"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Notify    NotifyConfig    `mapstructure:"notify"`

	// Warnings lists values that were out of range and replaced while loading.
	Warnings []string `mapstructure:"-"`
}

type APIConfig struct {
	Key           string `mapstructure:"key"`
	UserKey       string `mapstructure:"user_key"`
	TimeoutSec    int    `mapstructure:"timeout_sec"`
	RetryCount    int    `mapstructure:"retry_count"`
	RetryDelaySec int    `mapstructure:"retry_delay_sec"`
	RatePerSecond int    `mapstructure:"rate_per_second"`
}

type EndpointsConfig struct {
	SDK       string `mapstructure:"sdk"`
	Events    string `mapstructure:"events"`
	Auth      string `mapstructure:"auth"`
	Streaming string `mapstructure:"streaming"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c APIConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySec) * time.Second
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("api.timeout_sec", 30)
	v.SetDefault("api.retry_count", 3)
	v.SetDefault("api.retry_delay_sec", 1)
	v.SetDefault("api.rate_per_second", 10)
	v.SetDefault("endpoints.sdk", DefaultSDKEndpoint)
	v.SetDefault("endpoints.events", DefaultEventsEndpoint)
	v.SetDefault("endpoints.auth", DefaultAuthEndpoint)
	v.SetDefault("endpoints.streaming", DefaultStreamingEndpoint)
	v.SetDefault("sync.streaming_enabled", true)
	v.SetDefault("sync.push_retry_backoff_base", DefaultBackoffBase)
	v.SetDefault("sync.features_refresh_rate", DefaultFeaturesRefreshRate)
	v.SetDefault("sync.segments_refresh_rate", DefaultSegmentsRefreshRate)
	v.SetDefault("sync.telemetry_refresh_rate", DefaultTelemetryRefreshRate)
	v.SetDefault("sync.sse_connection_timeout_sec", DefaultSSEConnectionTimeout)
	v.SetDefault("sync.worker_queue_size", DefaultWorkerQueueSize)
	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.address", ":9090")
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("notify.topic", "")
	v.SetDefault("notify.priority", "default")
	v.SetDefault("notify.tags", "satellite")
	v.SetDefault("notify.token", "")

	// Environment variable support
	v.SetEnvPrefix("FLAGSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind nested keys to env vars
	_ = v.BindEnv("api.key", "FLAGSYNC_API_KEY")
	_ = v.BindEnv("api.user_key", "FLAGSYNC_USER_KEY")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Warnings = append(cfg.Warnings, cfg.Sync.normalize()...)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if c.API.Key == "" {
		errs.Missing = append(errs.Missing, "api.key (set FLAGSYNC_API_KEY env var)")
	}
	if c.API.UserKey == "" {
		errs.Missing = append(errs.Missing, "api.user_key (set FLAGSYNC_USER_KEY env var)")
	}
	if c.API.RatePerSecond < 1 {
		errs.InvalidValues = append(errs.InvalidValues, "api.rate_per_second must be >= 1")
	}
	if c.API.RetryCount < 0 {
		errs.InvalidValues = append(errs.InvalidValues, "api.retry_count must be >= 0")
	}

	validateEndpoints(errs, c.Endpoints)
	validateNotify(errs, c.Notify)

	if errs.HasErrors() {
		return errs
	}
	return nil
}
