package push

import (
	"sync"

	"go.uber.org/zap"

	"github.com/dgnsrekt/flagsync/internal/notification"
)

const (
	channelPrimary   = "control_pri"
	channelSecondary = "control_sec"
)

// Tracker watches the control channels and turns publisher counts,
// control directives and streaming errors into connectivity events.
//
// Streaming is considered available while the combined publisher count of
// the primary and secondary control channels is above zero.
type Tracker struct {
	publisher Publisher
	logger    *zap.Logger

	mu         sync.Mutex
	publishers map[string]int
	timestamps map[string]int64
	available  bool
	paused     bool
	disabled   bool
}

func NewTracker(publisher Publisher, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		publisher: publisher,
		logger:    logger,
	}
	t.Reset()
	return t
}

// Reset restores the state of a fresh connection: one publisher on the
// primary channel and none on the secondary.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.publishers = map[string]int{channelPrimary: 1, channelSecondary: 0}
	t.timestamps = make(map[string]int64)
	t.available = true
	t.paused = false
}

// StreamingAvailable reports whether publishers are present and streaming
// is neither paused nor disabled.
func (t *Tracker) StreamingAvailable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.available && !t.paused && !t.disabled
}

func (t *Tracker) HandleOccupancy(o notification.Occupancy) {
	var channel string
	switch {
	case o.IsControlPrimary():
		channel = channelPrimary
	case o.IsControlSecondary():
		channel = channelSecondary
	default:
		t.logger.Debug("occupancy for unknown channel", zap.String("channel", o.Channel))
		return
	}

	t.mu.Lock()
	if t.disabled {
		t.mu.Unlock()
		return
	}
	if last, ok := t.timestamps[channel]; ok && o.Timestamp < last {
		t.mu.Unlock()
		t.logger.Debug("ignoring stale occupancy", zap.String("channel", channel))
		return
	}
	t.timestamps[channel] = o.Timestamp
	t.publishers[channel] = o.Publishers()

	total := t.publishers[channelPrimary] + t.publishers[channelSecondary]
	var event Event
	switch {
	case total == 0 && t.available:
		t.available = false
		if !t.paused {
			event = EventSubsystemDown
		}
	case total > 0 && !t.available:
		t.available = true
		if !t.paused {
			event = EventSubsystemUp
		}
	}
	t.mu.Unlock()

	t.logger.Debug("occupancy",
		zap.String("channel", channel),
		zap.Int("publishers", o.Publishers()),
		zap.Int("total", total))

	if event != 0 {
		t.publisher.Publish(event)
	}
}

func (t *Tracker) HandleControl(c notification.Control) {
	t.mu.Lock()
	if t.disabled {
		t.mu.Unlock()
		return
	}

	var event Event
	switch c.ControlType {
	case notification.ControlStreamingPaused:
		t.paused = true
		event = EventSubsystemDown
	case notification.ControlStreamingEnabled:
		wasPaused := t.paused
		t.paused = false
		if wasPaused && t.available {
			event = EventSubsystemUp
		}
	case notification.ControlStreamingDisabled:
		t.disabled = true
		event = EventSubsystemDisabled
	default:
		t.mu.Unlock()
		t.logger.Debug("ignoring unknown control directive")
		return
	}
	t.mu.Unlock()

	t.logger.Info("control directive received", zap.Stringer("control", c.ControlType))
	if event != 0 {
		t.publisher.Publish(event)
	}
}

func (t *Tracker) HandleStreamingError(e notification.StreamingError) {
	fields := []zap.Field{
		zap.Int("code", e.Code),
		zap.Int("status", e.HTTPStatus),
		zap.String("message", e.Message),
	}

	switch {
	case e.ShouldIgnore():
		t.logger.Debug("ignoring streaming error", fields...)
	case e.IsRetryable():
		t.logger.Info("retryable streaming error", fields...)
		t.publisher.Publish(EventRetryableError)
	default:
		t.logger.Warn("non retryable streaming error", fields...)
		t.publisher.Publish(EventNonRetryableError)
	}
}
