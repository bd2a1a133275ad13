package backoff

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// Timer runs at most one deferred action at a time, delayed by the next
// value of its Counter.
type Timer struct {
	counter *Counter
	clock   clock.WithDelayedExecution
	logger  *zap.Logger

	mu      sync.Mutex
	pending clock.Timer
	gen     uint64
}

func NewTimer(counter *Counter, clk clock.WithDelayedExecution, logger *zap.Logger) *Timer {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Timer{
		counter: counter,
		clock:   clk,
		logger:  logger,
	}
}

// Schedule arranges for action to run once after the counter's next delay.
// A still pending action from an earlier call is dropped. The chosen delay
// is returned.
func (t *Timer) Schedule(action func()) time.Duration {
	delay := t.counter.NextDelay()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending != nil {
		t.pending.Stop()
	}
	t.gen++
	gen := t.gen
	// The callback may run while the clock holds internal locks, so the
	// action always gets its own goroutine.
	t.pending = t.clock.AfterFunc(delay, func() {
		go t.fire(gen, action)
	})

	t.logger.Debug("action scheduled",
		zap.Duration("delay", delay),
		zap.Uint("attempt", t.counter.Attempt()))

	return delay
}

func (t *Timer) fire(gen uint64, action func()) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.pending = nil
	t.mu.Unlock()

	action()
}

// Cancel drops the pending action, if any. Safe to call at any time.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
		t.logger.Debug("scheduled action cancelled")
	}
	t.gen++
}

// Pending reports whether an action is waiting to fire.
func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}

// ResetBackoff restarts the delay sequence after a successful attempt.
func (t *Timer) ResetBackoff() {
	t.counter.Reset()
}
