package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/flagsync/internal/api"
)

// Sizer is implemented by the local caches.
type Sizer interface {
	Len() int
}

// ChangeNumberSource is implemented by the flag definitions cache.
type ChangeNumberSource interface {
	Sizer
	ChangeNumber() int64
}

// UsagePoster sends usage snapshots upstream.
type UsagePoster interface {
	PostUsage(ctx context.Context, usage api.Usage) error
}

// Recorder snapshots cache state into the sync metrics and, when a poster
// is configured, posts it to the events endpoint. Flush is called by the
// synchronizer's periodic recording job.
type Recorder struct {
	metrics  *SyncMetrics
	splits   ChangeNumberSource
	segments Sizer
	poster   UsagePoster
	logger   *zap.Logger

	streamingEvents atomic.Int64
}

func NewRecorder(metrics *SyncMetrics, splits ChangeNumberSource, segments Sizer, poster UsagePoster, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		metrics:  metrics,
		splits:   splits,
		segments: segments,
		poster:   poster,
		logger:   logger,
	}
}

// RecordStreamingEvent counts a connectivity event for the next usage post.
func (r *Recorder) RecordStreamingEvent(ctx context.Context, event string) {
	r.streamingEvents.Add(1)
	r.metrics.RecordPushEvent(ctx, event)
}

func (r *Recorder) Flush(ctx context.Context) {
	usage := api.Usage{Timestamp: time.Now().UnixMilli()}

	if r.splits != nil {
		usage.Splits = r.splits.Len()
		usage.ChangeNumber = r.splits.ChangeNumber()
		r.metrics.RecordCacheSize(ctx, "splits", usage.Splits)
		r.metrics.RecordChangeNumber(ctx, usage.ChangeNumber)
	}
	if r.segments != nil {
		usage.MySegments = r.segments.Len()
		r.metrics.RecordCacheSize(ctx, "my_segments", usage.MySegments)
	}

	if r.poster == nil {
		return
	}

	usage.StreamingEvents = r.streamingEvents.Swap(0)
	if err := r.poster.PostUsage(ctx, usage); err != nil {
		// keep the count for the next attempt
		r.streamingEvents.Add(usage.StreamingEvents)
		r.logger.Warn("posting usage", zap.Error(err))
		return
	}
	r.logger.Debug("usage posted",
		zap.Int("splits", usage.Splits),
		zap.Int("my_segments", usage.MySegments))
}
