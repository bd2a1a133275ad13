package config

import (
	"fmt"
	"time"
)

// SyncConfig parameterizes the synchronization layer: streaming enablement,
// reconnect backoff and the polling/recording intervals.
type SyncConfig struct {
	StreamingEnabled        bool `mapstructure:"streaming_enabled"`
	PushRetryBackoffBase    int  `mapstructure:"push_retry_backoff_base"`
	FeaturesRefreshRate     int  `mapstructure:"features_refresh_rate"`
	SegmentsRefreshRate     int  `mapstructure:"segments_refresh_rate"`
	TelemetryRefreshRate    int  `mapstructure:"telemetry_refresh_rate"`
	SSEConnectionTimeoutSec int  `mapstructure:"sse_connection_timeout_sec"`
	WorkerQueueSize         int  `mapstructure:"worker_queue_size"`
}

// NewSyncConfig returns a SyncConfig with default intervals. A backoff base
// outside [MinBackoffBase, MaxBackoffBase] is replaced by DefaultBackoffBase
// and reported in the returned warnings.
func NewSyncConfig(streamingEnabled bool, backoffBase int) (SyncConfig, []string) {
	cfg := SyncConfig{
		StreamingEnabled:        streamingEnabled,
		PushRetryBackoffBase:    backoffBase,
		FeaturesRefreshRate:     DefaultFeaturesRefreshRate,
		SegmentsRefreshRate:     DefaultSegmentsRefreshRate,
		TelemetryRefreshRate:    DefaultTelemetryRefreshRate,
		SSEConnectionTimeoutSec: DefaultSSEConnectionTimeout,
		WorkerQueueSize:         DefaultWorkerQueueSize,
	}
	warnings := cfg.normalize()
	return cfg, warnings
}

// ClampBackoffBase validates a reconnect backoff base in seconds. The
// second return value is a warning message, empty when base was valid.
func ClampBackoffBase(base int) (int, string) {
	if base < MinBackoffBase || base > MaxBackoffBase {
		return DefaultBackoffBase, fmt.Sprintf(
			"push_retry_backoff_base must be a value in seconds between %d and %d (30 minutes), got %d; resetting it to %d second",
			MinBackoffBase, MaxBackoffBase, base, DefaultBackoffBase)
	}
	return base, ""
}

func (c *SyncConfig) normalize() []string {
	var warnings []string

	base, warning := ClampBackoffBase(c.PushRetryBackoffBase)
	c.PushRetryBackoffBase = base
	if warning != "" {
		warnings = append(warnings, warning)
	}

	if c.FeaturesRefreshRate < 1 {
		warnings = append(warnings, fmt.Sprintf("features_refresh_rate %d is invalid; using %d", c.FeaturesRefreshRate, DefaultFeaturesRefreshRate))
		c.FeaturesRefreshRate = DefaultFeaturesRefreshRate
	}
	if c.SegmentsRefreshRate < 1 {
		warnings = append(warnings, fmt.Sprintf("segments_refresh_rate %d is invalid; using %d", c.SegmentsRefreshRate, DefaultSegmentsRefreshRate))
		c.SegmentsRefreshRate = DefaultSegmentsRefreshRate
	}
	if c.TelemetryRefreshRate < 1 {
		warnings = append(warnings, fmt.Sprintf("telemetry_refresh_rate %d is invalid; using %d", c.TelemetryRefreshRate, DefaultTelemetryRefreshRate))
		c.TelemetryRefreshRate = DefaultTelemetryRefreshRate
	}
	if c.SSEConnectionTimeoutSec < 1 {
		c.SSEConnectionTimeoutSec = DefaultSSEConnectionTimeout
	}
	if c.WorkerQueueSize < 1 {
		c.WorkerQueueSize = DefaultWorkerQueueSize
	}

	return warnings
}

func (c SyncConfig) FeaturesRefreshInterval() time.Duration {
	return time.Duration(c.FeaturesRefreshRate) * time.Second
}

func (c SyncConfig) SegmentsRefreshInterval() time.Duration {
	return time.Duration(c.SegmentsRefreshRate) * time.Second
}

func (c SyncConfig) TelemetryRefreshInterval() time.Duration {
	return time.Duration(c.TelemetryRefreshRate) * time.Second
}

func (c SyncConfig) SSEConnectionTimeout() time.Duration {
	return time.Duration(c.SSEConnectionTimeoutSec) * time.Second
}
