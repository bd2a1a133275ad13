// Package push owns the streaming connection to the flag authority and
// reports its health to the sync orchestrator as connectivity events.
package push

import "errors"

var (
	// ErrStreamingDisabled is returned when the authority turned push
	// delivery off for this key.
	ErrStreamingDisabled = errors.New("streaming disabled by server")
	ErrInvalidToken      = errors.New("invalid push token")
)

// Event is a connectivity change of the push subsystem.
type Event int

const (
	EventSubsystemUp Event = iota + 1
	EventSubsystemDown
	EventSubsystemDisabled
	EventRetryableError
	EventNonRetryableError
)

func (e Event) String() string {
	switch e {
	case EventSubsystemUp:
		return "subsystem_up"
	case EventSubsystemDown:
		return "subsystem_down"
	case EventSubsystemDisabled:
		return "subsystem_disabled"
	case EventRetryableError:
		return "retryable_error"
	case EventNonRetryableError:
		return "non_retryable_error"
	default:
		return "unknown"
	}
}
