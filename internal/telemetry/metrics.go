// Package telemetry provides OpenTelemetry instrumentation for the
// synchronization layer.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the name used for the sync meter
const MeterName = "github.com/dgnsrekt/flagsync/sync"

// SyncMetrics holds the OpenTelemetry instruments of the sync layer. A nil
// *SyncMetrics is valid and records nothing.
type SyncMetrics struct {
	pushEvents     metric.Int64Counter
	notifications  metric.Int64Counter
	fetchDuration  metric.Float64Histogram
	pollingEnabled metric.Int64Gauge
	cachedItems    metric.Int64Gauge
	changeNumber   metric.Int64Gauge
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(MeterName)

	pushEvents, err := meter.Int64Counter(
		"flagsync_push_events_total",
		metric.WithDescription("Connectivity events emitted by the push subsystem"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	notifications, err := meter.Int64Counter(
		"flagsync_notifications_total",
		metric.WithDescription("Push notifications processed, by kind and outcome"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	fetchDuration, err := meter.Float64Histogram(
		"flagsync_fetch_duration_seconds",
		metric.WithDescription("Duration of fetches against the flag authority in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	pollingEnabled, err := meter.Int64Gauge(
		"flagsync_polling_enabled",
		metric.WithDescription("1 while periodic fetching is the active strategy"),
	)
	if err != nil {
		return nil, err
	}

	cachedItems, err := meter.Int64Gauge(
		"flagsync_cached_items",
		metric.WithDescription("Number of entries held in each local cache"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	changeNumber, err := meter.Int64Gauge(
		"flagsync_splits_change_number",
		metric.WithDescription("Change number of the local flag definitions"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		pushEvents:     pushEvents,
		notifications:  notifications,
		fetchDuration:  fetchDuration,
		pollingEnabled: pollingEnabled,
		cachedItems:    cachedItems,
		changeNumber:   changeNumber,
	}, nil
}

// RecordPushEvent counts one connectivity event
func (m *SyncMetrics) RecordPushEvent(ctx context.Context, event string) {
	if m == nil || m.pushEvents == nil {
		return
	}
	m.pushEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordNotification counts one processed notification
func (m *SyncMetrics) RecordNotification(ctx context.Context, kind string, success bool) {
	if m == nil || m.notifications == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("kind", kind),
		attribute.Bool("success", success),
	}

	m.notifications.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordFetch records the duration of a fetch for a resource
func (m *SyncMetrics) RecordFetch(ctx context.Context, resource string, duration time.Duration, success bool) {
	if m == nil || m.fetchDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("resource", resource),
		attribute.Bool("success", success),
	}

	m.fetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

func (m *SyncMetrics) RecordPollingEnabled(ctx context.Context, enabled bool) {
	if m == nil || m.pollingEnabled == nil {
		return
	}
	var v int64
	if enabled {
		v = 1
	}
	m.pollingEnabled.Record(ctx, v)
}

func (m *SyncMetrics) RecordCacheSize(ctx context.Context, cache string, size int) {
	if m == nil || m.cachedItems == nil {
		return
	}
	m.cachedItems.Record(ctx, int64(size), metric.WithAttributes(attribute.String("cache", cache)))
}

func (m *SyncMetrics) RecordChangeNumber(ctx context.Context, changeNumber int64) {
	if m == nil || m.changeNumber == nil {
		return
	}
	m.changeNumber.Record(ctx, changeNumber)
}
