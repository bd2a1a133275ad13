package worker

import (
	"go.uber.org/zap"

	"github.com/dgnsrekt/flagsync/internal/notification"
)

// SplitsSynchronizer fetches flag definitions up to a change number.
type SplitsSynchronizer interface {
	SynchronizeSplits(changeNumber int64)
}

// MySegmentsSynchronizer fetches the segment memberships of the user key.
type MySegmentsSynchronizer interface {
	SynchronizeMySegments()
}

// SplitKiller marks a flag as killed in the local cache.
type SplitKiller interface {
	Kill(name, defaultTreatment string, changeNumber int64) bool
}

// MySegmentsSetter replaces the local membership list.
type MySegmentsSetter interface {
	Set(names []string)
}

// NewSplitsUpdateWorker triggers an incremental fetch for every update.
func NewSplitsUpdateWorker(syncer SplitsSynchronizer, size int, logger *zap.Logger) *Queue[notification.SplitsUpdate] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return NewQueue("splits_update", size, func(u notification.SplitsUpdate) {
		logger.Debug("split update received", zap.Int64("change_number", u.ChangeNumber))
		syncer.SynchronizeSplits(u.ChangeNumber)
	}, logger)
}

// NewSplitKillWorker writes the kill into the cache right away and then
// fetches the definitions to pick up the full change.
func NewSplitKillWorker(cache SplitKiller, syncer SplitsSynchronizer, size int, logger *zap.Logger) *Queue[notification.SplitKill] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return NewQueue("split_kill", size, func(k notification.SplitKill) {
		if cache.Kill(k.FlagName, k.DefaultTreatment, k.ChangeNumber) {
			logger.Info("split killed",
				zap.String("split", k.FlagName),
				zap.String("default_treatment", k.DefaultTreatment),
				zap.Int64("change_number", k.ChangeNumber))
		}
		syncer.SynchronizeSplits(k.ChangeNumber)
	}, logger)
}

// NewMySegmentsUpdateWorker applies an embedded segment list directly or
// falls back to fetching the memberships.
func NewMySegmentsUpdateWorker(cache MySegmentsSetter, syncer MySegmentsSynchronizer, size int, logger *zap.Logger) *Queue[notification.MySegmentsUpdate] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return NewQueue("my_segments_update", size, func(u notification.MySegmentsUpdate) {
		if u.IncludesPayload {
			cache.Set(u.SegmentList)
			logger.Debug("my segments replaced from payload", zap.Int("count", len(u.SegmentList)))
			return
		}
		syncer.SynchronizeMySegments()
	}, logger)
}
