// Package worker applies typed push notifications to local state. Each
// worker owns a bounded queue drained by a single goroutine.
package worker

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrQueueFull = errors.New("worker queue full")
	ErrStopped   = errors.New("worker stopped")
)

// Queue hands items to handle one at a time, in arrival order.
type Queue[T any] struct {
	name   string
	items  chan T
	handle func(T)
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	stopped bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

func NewQueue[T any](name string, size int, handle func(T), logger *zap.Logger) *Queue[T] {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue[T]{
		name:   name,
		items:  make(chan T, size),
		handle: handle,
		logger: logger.With(zap.String("worker", name)),
		quit:   make(chan struct{}),
	}
}

// Start launches the draining goroutine. Calling it again is a no-op.
func (q *Queue[T]) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running || q.stopped {
		return
	}
	q.running = true

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.run()
	}()
}

// Stop ends the goroutine after the item in progress. Items still queued
// are dropped. A stopped queue cannot be restarted.
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.quit)
	q.mu.Unlock()

	q.wg.Wait()
}

// Process enqueues item without blocking.
func (q *Queue[T]) Process(item T) error {
	q.mu.Lock()
	stopped := q.stopped
	q.mu.Unlock()
	if stopped {
		return ErrStopped
	}

	select {
	case q.items <- item:
		return nil
	default:
		q.logger.Warn("queue full, dropping update", zap.Int("capacity", cap(q.items)))
		return ErrQueueFull
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

func (q *Queue[T]) run() {
	for {
		select {
		case <-q.quit:
			return
		case item := <-q.items:
			q.safeHandle(item)
		}
	}
}

func (q *Queue[T]) safeHandle(item T) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("worker handler panicked", zap.Any("panic", r))
		}
	}()
	q.handle(item)
}
