package push

import (
	"sync"

	"go.uber.org/zap"
)

// Handler receives connectivity events.
type Handler func(Event)

// Publisher is the write side of a Broadcaster.
type Publisher interface {
	Publish(Event)
}

// Broadcaster fans connectivity events out to registered handlers. Each
// handler gets its own goroutine and sees events in publish order. Publish
// never blocks, so a handler may call back into the push subsystem.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
	logger *zap.Logger
}

type subscriber struct {
	handler Handler

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
	done   chan struct{}
}

func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		subs:   make(map[uint64]*subscriber),
		logger: logger,
	}
}

// Register adds a handler and returns the function that removes it. Events
// already queued for the handler are dropped on removal.
func (b *Broadcaster) Register(h Handler) (unregister func()) {
	s := &subscriber{handler: h, done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	go s.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			s.close()
		})
	}
}

// Publish queues e for every registered handler.
func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	if len(b.subs) == 0 {
		b.logger.Debug("no subscribers for push event", zap.Stringer("event", e))
		return
	}
	for _, s := range b.subs {
		s.push(e)
	}
}

// Close removes every handler. Later publishes are ignored.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}

func (s *subscriber) push(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, e)
	s.cond.Signal()
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *subscriber) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		e := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.handler(e)
	}
}
