// Package backoff computes reconnect delays for the push subsystem and
// schedules deferred reconnect attempts.
package backoff

import (
	"sync"
	"time"

	cbackoff "github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/dgnsrekt/flagsync/internal/config"
)

// MaxDelay caps every delay returned by a Counter.
const MaxDelay = config.MaxBackoffBase * time.Second

// Counter produces exponentially increasing delays: base*2, base*4, ...
// capped at MaxDelay. It is safe for concurrent use.
type Counter struct {
	mu      sync.Mutex
	base    time.Duration
	attempt uint
	exp     *cbackoff.ExponentialBackOff
}

// NewCounter creates a counter for a base expressed in seconds. A base
// outside [1, 1800] is replaced by 1 and a warning is logged.
func NewCounter(baseSeconds int, logger *zap.Logger) *Counter {
	if logger == nil {
		logger = zap.NewNop()
	}

	base, warning := config.ClampBackoffBase(baseSeconds)
	if warning != "" {
		logger.Warn("invalid reconnect backoff base", zap.String("detail", warning))
	}

	c := &Counter{base: time.Duration(base) * time.Second}
	c.exp = &cbackoff.ExponentialBackOff{
		InitialInterval:     2 * c.base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         MaxDelay,
	}
	c.exp.Reset()
	return c
}

// Base returns the validated base delay.
func (c *Counter) Base() time.Duration {
	return c.base
}

// NextDelay returns the next delay and advances the attempt counter.
func (c *Counter) NextDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.attempt++
	d := c.exp.NextBackOff()
	if d <= 0 || d > MaxDelay {
		return MaxDelay
	}
	return d
}

// Reset makes the next call to NextDelay return base*2 again.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.attempt = 0
	c.exp.Reset()
}

// Attempt returns the number of delays handed out since the last reset.
func (c *Counter) Attempt() uint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}
