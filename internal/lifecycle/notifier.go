// Package lifecycle delivers application foreground/background transitions
// to whoever subscribes to them.
package lifecycle

import (
	"sync"

	"go.uber.org/zap"
)

type Event int

const (
	Foreground Event = iota + 1
	Background
)

func (e Event) String() string {
	switch e {
	case Foreground:
		return "foreground"
	case Background:
		return "background"
	default:
		return "unknown"
	}
}

// Source is the subscribe side of a Notifier
type Source interface {
	Subscribe() (<-chan Event, func())
}

const subscriberBuffer = 8

// Notifier fans lifecycle events out to subscribers. A subscriber that
// falls behind loses events rather than blocking Publish.
type Notifier struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	logger *zap.Logger
}

func NewNotifier(logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		subs:   make(map[chan Event]struct{}),
		logger: logger,
	}
}

// Subscribe returns a channel of events and the function that closes it.
func (n *Notifier) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	n.mu.Lock()
	n.subs[ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, ch)
			n.mu.Unlock()
			close(ch)
		})
	}
}

func (n *Notifier) Publish(e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.subs {
		select {
		case ch <- e:
		default:
			n.logger.Warn("lifecycle subscriber full, dropping event", zap.Stringer("event", e))
		}
	}
}
