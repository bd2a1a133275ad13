package main

import (
	"fmt"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/dgnsrekt/flagsync/internal/api"
	"github.com/dgnsrekt/flagsync/internal/backoff"
	"github.com/dgnsrekt/flagsync/internal/config"
	"github.com/dgnsrekt/flagsync/internal/lifecycle"
	"github.com/dgnsrekt/flagsync/internal/notification"
	"github.com/dgnsrekt/flagsync/internal/notify"
	"github.com/dgnsrekt/flagsync/internal/push"
	"github.com/dgnsrekt/flagsync/internal/storage"
	"github.com/dgnsrekt/flagsync/internal/sync"
	"github.com/dgnsrekt/flagsync/internal/synchronizer"
	"github.com/dgnsrekt/flagsync/internal/telemetry"
	"github.com/dgnsrekt/flagsync/internal/worker"
)

// app holds the wired synchronization stack.
type app struct {
	splits    *storage.SplitsCache
	segments  *storage.MySegmentsCache
	manager   *sync.Manager
	pushMgr   *push.Manager
	events    *push.Broadcaster
	lifecycle *lifecycle.Notifier
	userKey   string
	logger    *zap.Logger

	splitsWorker   *worker.Queue[notification.SplitsUpdate]
	killWorker     *worker.Queue[notification.SplitKill]
	segmentsWorker *worker.Queue[notification.MySegmentsUpdate]
}

func newApp(cfg *config.Config, metrics *telemetry.SyncMetrics, clk clock.WithTickerAndDelayedExecution, logger *zap.Logger) (*app, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	syncCfg := cfg.Sync

	client := api.NewClient(cfg.API, cfg.Endpoints, logger.Named("api"))
	splits := storage.NewSplitsCache()
	segments := storage.NewMySegmentsCache()
	recorder := telemetry.NewRecorder(metrics, splits, segments, client, logger.Named("telemetry"))

	syncer := synchronizer.New(synchronizer.Options{
		Fetcher:  client,
		Splits:   splits,
		Segments: segments,
		UserKey:  cfg.API.UserKey,
		Config:   syncCfg,
		Recorder: recorder,
		Metrics:  metrics,
		Clock:    clk,
		Logger:   logger.Named("synchronizer"),
	})

	a := &app{
		splits:         splits,
		segments:       segments,
		lifecycle:      lifecycle.NewNotifier(logger.Named("lifecycle")),
		userKey:        cfg.API.UserKey,
		logger:         logger,
		splitsWorker:   worker.NewSplitsUpdateWorker(syncer, syncCfg.WorkerQueueSize, logger.Named("worker")),
		killWorker:     worker.NewSplitKillWorker(splits, syncer, syncCfg.WorkerQueueSize, logger.Named("worker")),
		segmentsWorker: worker.NewMySegmentsUpdateWorker(segments, syncer, syncCfg.WorkerQueueSize, logger.Named("worker")),
	}

	builder := &sync.Builder{
		Config:       &syncCfg,
		Synchronizer: syncer,
		Lifecycle:    a.lifecycle,
		Recorder:     recorder,
		Metrics:      metrics,
		Logger:       logger.Named("sync"),
	}

	if syncCfg.StreamingEnabled {
		pushLogger := logger.Named("push")
		a.events = push.NewBroadcaster(pushLogger)
		tracker := push.NewTracker(a.events, pushLogger)
		processor := notification.NewProcessor(
			notification.NewParser(),
			a.splitsWorker,
			a.segmentsWorker,
			a.killWorker,
			tracker,
			metrics,
			logger.Named("notification"),
		)

		a.pushMgr = push.NewManager(push.ManagerOptions{
			Tokens:    push.NewAuthenticator(client, cfg.API.UserKey, pushLogger),
			Connector: push.NewSSEClient(cfg.Endpoints.Streaming, syncCfg.SSEConnectionTimeout(), pushLogger),
			Frames:    push.NewSSEHandler(nil, processor, pushLogger),
			Tracker:   tracker,
			Publisher: a.events,
			Clock:     clk,
			Logger:    pushLogger,
		})

		counter := backoff.NewCounter(syncCfg.PushRetryBackoffBase, logger.Named("backoff"))
		builder.Push = a.pushMgr
		builder.Events = a.events
		builder.Timer = backoff.NewTimer(counter, clk, logger.Named("backoff"))
	}

	manager, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("building sync manager: %w", err)
	}
	a.manager = manager
	return a, nil
}

// watchStreaming sends ntfy alerts on permanent streaming failures. It
// does nothing when streaming is off or alerts are disabled.
func (a *app) watchStreaming(cfg config.NotifyConfig) {
	if a.events == nil || !cfg.Enabled {
		return
	}
	a.events.Register(notify.NewClient(cfg, a.userKey, a.logger.Named("notify")).HandleEvent)
	a.logger.Info("streaming alerts enabled", zap.String("topic", cfg.Topic))
}

func (a *app) start() {
	a.splitsWorker.Start()
	a.killWorker.Start()
	a.segmentsWorker.Start()
	a.manager.Start()
}

func (a *app) stop() {
	a.manager.Stop()
	if a.pushMgr != nil {
		a.pushMgr.Wait()
	}
	a.splitsWorker.Stop()
	a.killWorker.Stop()
	a.segmentsWorker.Stop()
	if a.events != nil {
		a.events.Close()
	}
}

// summary logs the state of the local caches.
func (a *app) summary() {
	a.logger.Info("cache state",
		zap.Int("splits", a.splits.Len()),
		zap.Int64("changeNumber", a.splits.ChangeNumber()),
		zap.Int("segments", a.segments.Len()),
		zap.Bool("polling", a.manager.PollingEnabled()),
		zap.Bool("paused", a.manager.Paused()),
	)
}
