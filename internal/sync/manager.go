// Package sync is the top-level orchestrator keeping local flag data fresh.
// It chooses between push-driven updates and periodic polling and reacts
// to connectivity events from the push subsystem.
package sync

import (
	"context"
	gosync "sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/flagsync/internal/config"
	"github.com/dgnsrekt/flagsync/internal/lifecycle"
	"github.com/dgnsrekt/flagsync/internal/push"
	"github.com/dgnsrekt/flagsync/internal/telemetry"
)

// Synchronizer performs fetches and owns the periodic jobs
type Synchronizer interface {
	SyncAll()
	StartPeriodicFetching()
	StopPeriodicFetching()
	StartPeriodicRecording()
	StopPeriodicRecording()
	Pause()
	Resume()
	Destroy()
}

// PushManager owns the streaming connection
type PushManager interface {
	Start()
	Reconnect()
	Pause()
	Resume()
	Stop()
}

// EventSource delivers connectivity events
type EventSource interface {
	Register(h push.Handler) (unregister func())
}

// ReconnectTimer schedules push reconnects with increasing delays
type ReconnectTimer interface {
	Schedule(action func()) time.Duration
	Cancel()
	ResetBackoff()
}

// EventRecorder counts connectivity events for telemetry
type EventRecorder interface {
	RecordStreamingEvent(ctx context.Context, event string)
}

// Manager decides between streaming and polling. Create it with Builder.
type Manager struct {
	cfg          config.SyncConfig
	synchronizer Synchronizer
	push         PushManager
	events       EventSource
	timer        ReconnectTimer
	lifecycle    lifecycle.Source
	recorder     EventRecorder
	metrics      *telemetry.SyncMetrics
	logger       *zap.Logger

	pollingEnabled   atomic.Bool
	paused           atomic.Bool
	streamingStopped atomic.Bool
	stopped          atomic.Bool

	mu          gosync.Mutex
	unregister  func()
	unsubscribe func()
	lifecycleWG gosync.WaitGroup
}

// Start runs a full synchronization and engages either streaming or
// polling. Periodic recording always starts. Start must be called once.
func (m *Manager) Start() {
	m.synchronizer.SyncAll()
	m.synchronizer.StartPeriodicRecording()
	m.watchLifecycle()

	if !m.cfg.StreamingEnabled {
		m.logger.Info("streaming disabled by configuration, using polling")
		m.streamingStopped.Store(true)
		m.enablePolling()
		return
	}

	m.mu.Lock()
	m.unregister = m.events.Register(m.handle)
	m.mu.Unlock()

	m.push.Start()
	m.logger.Info("sync manager started", zap.Bool("streaming", true))
}

// Pause suspends push and periodic jobs. Connectivity events are dropped
// until Resume.
func (m *Manager) Pause() {
	if m.paused.Swap(true) {
		return
	}
	if m.push != nil {
		m.push.Pause()
	}
	m.synchronizer.Pause()
	m.logger.Info("sync manager paused")
}

func (m *Manager) Resume() {
	if !m.paused.Swap(false) {
		return
	}
	if m.push != nil && !m.streamingStopped.Load() {
		m.push.Resume()
	}
	m.synchronizer.Resume()
	m.logger.Info("sync manager resumed")
}

// Stop cancels any pending reconnect, stops push and destroys the
// synchronizer. The manager cannot be used afterwards; events still being
// handled when Stop is called are dropped.
func (m *Manager) Stop() {
	if m.stopped.Swap(true) {
		return
	}

	m.mu.Lock()
	if m.timer != nil {
		m.timer.Cancel()
	}
	unregister, unsubscribe := m.unregister, m.unsubscribe
	m.unregister, m.unsubscribe = nil, nil
	m.mu.Unlock()

	if unregister != nil {
		unregister()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	m.lifecycleWG.Wait()

	if m.push != nil {
		m.push.Stop()
	}
	m.synchronizer.Destroy()
	m.logger.Info("sync manager stopped")
}

// PollingEnabled reports whether periodic fetching is the active strategy.
func (m *Manager) PollingEnabled() bool {
	return m.pollingEnabled.Load()
}

func (m *Manager) Paused() bool {
	return m.paused.Load()
}

func (m *Manager) handle(e push.Event) {
	if m.stopped.Load() {
		return
	}
	if m.paused.Load() {
		m.logger.Debug("paused, ignoring push event", zap.Stringer("event", e))
		return
	}

	m.logger.Debug("push event", zap.Stringer("event", e))
	if m.recorder != nil {
		m.recorder.RecordStreamingEvent(context.Background(), e.String())
	}

	switch e {
	case push.EventSubsystemUp:
		m.timer.Cancel()
		m.timer.ResetBackoff()
		m.synchronizer.SyncAll()
		m.disablePolling()

	case push.EventSubsystemDown:
		m.timer.Cancel()
		m.enablePolling()

	case push.EventSubsystemDisabled, push.EventNonRetryableError:
		m.stopStreaming(e)

	case push.EventRetryableError:
		m.enablePolling()
		if m.streamingStopped.Load() {
			return
		}
		// Stop cancels the timer under mu, so a reconnect is never
		// scheduled after it.
		m.mu.Lock()
		if m.stopped.Load() {
			m.mu.Unlock()
			return
		}
		delay := m.timer.Schedule(m.reconnect)
		m.mu.Unlock()
		m.logger.Info("push reconnect scheduled", zap.Duration("delay", delay))
	}
}

func (m *Manager) reconnect() {
	if m.stopped.Load() || m.paused.Load() || m.streamingStopped.Load() {
		return
	}
	m.logger.Debug("reconnecting push")
	m.push.Reconnect()
}

// stopStreaming switches to polling for the rest of the manager's life.
func (m *Manager) stopStreaming(cause push.Event) {
	m.timer.Cancel()
	m.enablePolling()
	if m.streamingStopped.Swap(true) {
		return
	}
	m.push.Stop()
	m.logger.Warn("streaming stopped permanently, polling from now on", zap.Stringer("cause", cause))
}

func (m *Manager) enablePolling() {
	if !m.pollingEnabled.CompareAndSwap(false, true) {
		return
	}
	m.synchronizer.StartPeriodicFetching()
	m.metrics.RecordPollingEnabled(context.Background(), true)
	m.logger.Info("polling enabled")
}

func (m *Manager) disablePolling() {
	if !m.pollingEnabled.CompareAndSwap(true, false) {
		return
	}
	m.synchronizer.StopPeriodicFetching()
	m.metrics.RecordPollingEnabled(context.Background(), false)
	m.logger.Info("polling disabled")
}

func (m *Manager) watchLifecycle() {
	if m.lifecycle == nil {
		return
	}

	ch, unsubscribe := m.lifecycle.Subscribe()
	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	m.lifecycleWG.Add(1)
	go func() {
		defer m.lifecycleWG.Done()
		for e := range ch {
			switch e {
			case lifecycle.Background:
				m.Pause()
			case lifecycle.Foreground:
				m.Resume()
			}
		}
	}()
}
