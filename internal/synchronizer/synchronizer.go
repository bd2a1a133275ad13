// Package synchronizer fetches flag definitions and segment memberships
// from the flag authority and runs the periodic fetch and record jobs.
package synchronizer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/dgnsrekt/flagsync/internal/config"
	"github.com/dgnsrekt/flagsync/internal/storage"
	"github.com/dgnsrekt/flagsync/internal/telemetry"
)

// maxSplitPages bounds one incremental fetch so a misbehaving server
// cannot keep the loop alive forever.
const maxSplitPages = 100

const destroyFlushTimeout = 5 * time.Second

// Fetcher is the subset of the REST client used here
type Fetcher interface {
	FetchSplitChanges(ctx context.Context, since int64) (*storage.SplitChange, error)
	FetchMySegments(ctx context.Context, userKey string) ([]string, error)
}

// Flusher is called by the periodic recording job
type Flusher interface {
	Flush(ctx context.Context)
}

type Synchronizer struct {
	fetcher  Fetcher
	splits   *storage.SplitsCache
	segments *storage.MySegmentsCache
	userKey  string
	cfg      config.SyncConfig
	recorder Flusher
	metrics  *telemetry.SyncMetrics
	clock    clock.WithTicker
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	splitsMu   sync.Mutex
	segmentsMu sync.Mutex

	mu         sync.Mutex
	fetchStop  chan struct{}
	recordStop chan struct{}
	destroyed  bool
	wg         sync.WaitGroup

	paused atomic.Bool
}

type Options struct {
	Fetcher  Fetcher
	Splits   *storage.SplitsCache
	Segments *storage.MySegmentsCache
	UserKey  string
	Config   config.SyncConfig
	Recorder Flusher
	Metrics  *telemetry.SyncMetrics
	Clock    clock.WithTicker
	Logger   *zap.Logger
}

func New(opts Options) *Synchronizer {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Splits == nil {
		opts.Splits = storage.NewSplitsCache()
	}
	if opts.Segments == nil {
		opts.Segments = storage.NewMySegmentsCache()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Synchronizer{
		fetcher:  opts.Fetcher,
		splits:   opts.Splits,
		segments: opts.Segments,
		userKey:  opts.UserKey,
		cfg:      opts.Config,
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		clock:    opts.Clock,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SyncAll fetches flag definitions and memberships concurrently on a
// background goroutine.
func (s *Synchronizer) SyncAll() {
	s.goTracked(func() {
		if err := s.syncAll(s.ctx); err != nil {
			s.logger.Warn("full synchronization failed", zap.Error(err))
			return
		}
		s.logger.Debug("full synchronization done",
			zap.Int64("change_number", s.splits.ChangeNumber()),
			zap.Int("splits", s.splits.Len()),
			zap.Int("my_segments", s.segments.Len()))
	})
}

func (s *Synchronizer) syncAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.fetchSplits(gctx, storage.NoChangeNumber) })
	g.Go(func() error { return s.fetchMySegments(gctx) })
	return g.Wait()
}

// SynchronizeSplits fetches definitions until the cache reaches
// changeNumber. It returns at once when the cache is already there.
func (s *Synchronizer) SynchronizeSplits(changeNumber int64) {
	if s.splits.ChangeNumber() >= changeNumber {
		s.logger.Debug("splits already up to date", zap.Int64("change_number", changeNumber))
		return
	}
	if err := s.fetchSplits(s.ctx, changeNumber); err != nil {
		s.logger.Warn("synchronizing splits", zap.Int64("target", changeNumber), zap.Error(err))
	}
}

func (s *Synchronizer) SynchronizeMySegments() {
	if err := s.fetchMySegments(s.ctx); err != nil {
		s.logger.Warn("synchronizing my segments", zap.Error(err))
	}
}

// fetchSplits pages through split changes until since == till. target is
// the change number the caller expects to reach, NoChangeNumber for any.
func (s *Synchronizer) fetchSplits(ctx context.Context, target int64) error {
	s.splitsMu.Lock()
	defer s.splitsMu.Unlock()

	if target != storage.NoChangeNumber && s.splits.ChangeNumber() >= target {
		return nil
	}

	start := s.clock.Now()
	for page := 0; page < maxSplitPages; page++ {
		since := s.splits.ChangeNumber()
		change, err := s.fetcher.FetchSplitChanges(ctx, since)
		if err != nil {
			s.metrics.RecordFetch(ctx, "splits", s.clock.Since(start), false)
			return err
		}

		updated := s.splits.Apply(*change)
		if updated > 0 {
			s.logger.Debug("splits updated", zap.Int("count", updated), zap.Int64("till", change.Till))
		}

		if change.Till <= since {
			s.metrics.RecordFetch(ctx, "splits", s.clock.Since(start), true)
			return nil
		}
	}

	s.metrics.RecordFetch(ctx, "splits", s.clock.Since(start), false)
	return fmt.Errorf("split changes did not settle after %d pages", maxSplitPages)
}

func (s *Synchronizer) fetchMySegments(ctx context.Context) error {
	s.segmentsMu.Lock()
	defer s.segmentsMu.Unlock()

	start := s.clock.Now()
	names, err := s.fetcher.FetchMySegments(ctx, s.userKey)
	s.metrics.RecordFetch(ctx, "my_segments", s.clock.Since(start), err == nil)
	if err != nil {
		return err
	}

	s.segments.Set(names)
	return nil
}

// StartPeriodicFetching starts polling both resources at their refresh
// rates. It does nothing when polling already runs.
func (s *Synchronizer) StartPeriodicFetching() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed || s.fetchStop != nil {
		return
	}
	stop := make(chan struct{})
	s.fetchStop = stop

	splitsTicker := s.clock.NewTicker(s.cfg.FeaturesRefreshInterval())
	segmentsTicker := s.clock.NewTicker(s.cfg.SegmentsRefreshInterval())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer splitsTicker.Stop()
		defer segmentsTicker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-s.ctx.Done():
				return
			case <-splitsTicker.C():
				if s.paused.Load() {
					continue
				}
				if err := s.fetchSplits(s.ctx, storage.NoChangeNumber); err != nil {
					s.logger.Warn("periodic split fetch", zap.Error(err))
				}
			case <-segmentsTicker.C():
				if s.paused.Load() {
					continue
				}
				s.SynchronizeMySegments()
			}
		}
	}()

	s.logger.Info("periodic fetching started",
		zap.Duration("splits_interval", s.cfg.FeaturesRefreshInterval()),
		zap.Duration("segments_interval", s.cfg.SegmentsRefreshInterval()))
}

func (s *Synchronizer) StopPeriodicFetching() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fetchStop == nil {
		return
	}
	close(s.fetchStop)
	s.fetchStop = nil
	s.logger.Info("periodic fetching stopped")
}

// PeriodicFetchingRunning reports whether the polling loop is active.
func (s *Synchronizer) PeriodicFetchingRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchStop != nil
}

// StartPeriodicRecording flushes the recorder at the telemetry refresh rate.
func (s *Synchronizer) StartPeriodicRecording() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed || s.recordStop != nil || s.recorder == nil {
		return
	}
	stop := make(chan struct{})
	s.recordStop = stop

	ticker := s.clock.NewTicker(s.cfg.TelemetryRefreshInterval())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-s.ctx.Done():
				return
			case <-ticker.C():
				if s.paused.Load() {
					continue
				}
				s.recorder.Flush(s.ctx)
			}
		}
	}()
}

func (s *Synchronizer) StopPeriodicRecording() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recordStop == nil {
		return
	}
	close(s.recordStop)
	s.recordStop = nil
}

// Pause suspends the periodic jobs without stopping their tickers.
func (s *Synchronizer) Pause() {
	s.paused.Store(true)
}

func (s *Synchronizer) Resume() {
	s.paused.Store(false)
}

// Destroy stops every job, cancels in-flight fetches and flushes the
// recorder one last time.
func (s *Synchronizer) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	if s.fetchStop != nil {
		close(s.fetchStop)
		s.fetchStop = nil
	}
	if s.recordStop != nil {
		close(s.recordStop)
		s.recordStop = nil
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	if s.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), destroyFlushTimeout)
		defer cancel()
		s.recorder.Flush(ctx)
	}
	s.logger.Info("synchronizer destroyed")
}

func (s *Synchronizer) goTracked(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}
