package push

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dgnsrekt/flagsync/internal/notification"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) snapshot() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

func occupancy(channel string, ts int64, publishers int) notification.Occupancy {
	return notification.Occupancy{
		Channel:   channel,
		Timestamp: ts,
		Metrics:   notification.OccupancyMetrics{Publishers: publishers},
	}
}

func TestTracker_DownWhenAllPublishersLeave(t *testing.T) {
	pub := &recordingPublisher{}
	tr := NewTracker(pub, nil)

	tr.HandleOccupancy(occupancy("xx_control_sec", 1, 1))
	assert.Empty(t, pub.snapshot(), "already available, no event")

	tr.HandleOccupancy(occupancy("xx_control_pri", 2, 0))
	assert.Empty(t, pub.snapshot(), "secondary still has a publisher")

	tr.HandleOccupancy(occupancy("xx_control_sec", 3, 0))
	assert.Equal(t, []Event{EventSubsystemDown}, pub.snapshot())
	assert.False(t, tr.StreamingAvailable())

	tr.HandleOccupancy(occupancy("xx_control_pri", 4, 0))
	assert.Equal(t, []Event{EventSubsystemDown}, pub.snapshot(), "down is raised once")

	tr.HandleOccupancy(occupancy("xx_control_pri", 5, 2))
	assert.Equal(t, []Event{EventSubsystemDown, EventSubsystemUp}, pub.snapshot())
	assert.True(t, tr.StreamingAvailable())
}

func TestTracker_IgnoresStaleAndForeignOccupancy(t *testing.T) {
	pub := &recordingPublisher{}
	tr := NewTracker(pub, nil)

	tr.HandleOccupancy(occupancy("xx_control_pri", 10, 0))
	assert.Equal(t, []Event{EventSubsystemDown}, pub.snapshot())

	tr.HandleOccupancy(occupancy("xx_control_pri", 9, 3))
	tr.HandleOccupancy(occupancy("xx_splits", 11, 3))
	assert.Equal(t, []Event{EventSubsystemDown}, pub.snapshot())
}

func TestTracker_Control(t *testing.T) {
	pub := &recordingPublisher{}
	tr := NewTracker(pub, nil)

	tr.HandleControl(notification.Control{ControlType: notification.ControlStreamingPaused})
	assert.Equal(t, []Event{EventSubsystemDown}, pub.snapshot())
	assert.False(t, tr.StreamingAvailable())

	// publishers coming back while paused do not bring streaming up
	tr.HandleOccupancy(occupancy("xx_control_pri", 1, 0))
	tr.HandleOccupancy(occupancy("xx_control_pri", 2, 1))
	assert.Equal(t, []Event{EventSubsystemDown}, pub.snapshot())

	tr.HandleControl(notification.Control{ControlType: notification.ControlStreamingEnabled})
	assert.Equal(t, []Event{EventSubsystemDown, EventSubsystemUp}, pub.snapshot())

	tr.HandleControl(notification.Control{ControlType: notification.ControlUnknown})
	assert.Len(t, pub.snapshot(), 2)
}

func TestTracker_DisabledIsPermanent(t *testing.T) {
	pub := &recordingPublisher{}
	tr := NewTracker(pub, nil)

	tr.HandleControl(notification.Control{ControlType: notification.ControlStreamingDisabled})
	assert.Equal(t, []Event{EventSubsystemDisabled}, pub.snapshot())

	tr.HandleControl(notification.Control{ControlType: notification.ControlStreamingEnabled})
	tr.HandleOccupancy(occupancy("xx_control_pri", 1, 0))
	tr.Reset()
	assert.Equal(t, []Event{EventSubsystemDisabled}, pub.snapshot())
	assert.False(t, tr.StreamingAvailable())
}

func TestTracker_StreamingErrors(t *testing.T) {
	pub := &recordingPublisher{}
	tr := NewTracker(pub, nil)

	tr.HandleStreamingError(notification.StreamingError{Code: 40143, HTTPStatus: 401})
	tr.HandleStreamingError(notification.StreamingError{Code: 50000, HTTPStatus: 500})
	tr.HandleStreamingError(notification.StreamingError{Code: 40001, HTTPStatus: 400})

	assert.Equal(t, []Event{EventRetryableError, EventNonRetryableError}, pub.snapshot())
}
