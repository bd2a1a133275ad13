package push

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/dgnsrekt/flagsync/internal/api"
)

// tokenRefreshMargin is how long before expiry a push token is renewed.
const tokenRefreshMargin = 10 * time.Minute

const minTokenRefresh = 30 * time.Second

// TokenSource obtains push tokens
type TokenSource interface {
	Authenticate(ctx context.Context) (*AuthResult, error)
}

// StreamConnector opens a push stream and blocks until it ends
type StreamConnector interface {
	Connect(ctx context.Context, token string, channels []string, onOpen func(), onFrame FrameFunc) error
}

// FrameHandler consumes raw SSE frames
type FrameHandler interface {
	HandleFrame(event, data string)
}

// Manager owns the push connection: it authenticates, connects, renews
// the token before it expires and reports connectivity on the publisher.
type Manager struct {
	tokens    TokenSource
	connector StreamConnector
	frames    FrameHandler
	tracker   *Tracker
	publisher Publisher
	clock     clock.WithDelayedExecution
	logger    *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	gen     uint64
	refresh clock.Timer
	paused  bool
	stopped bool
	wg      sync.WaitGroup
}

type ManagerOptions struct {
	Tokens    TokenSource
	Connector StreamConnector
	Frames    FrameHandler
	Tracker   *Tracker
	Publisher Publisher
	Clock     clock.WithDelayedExecution
	Logger    *zap.Logger
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		tokens:    opts.Tokens,
		connector: opts.Connector,
		frames:    opts.Frames,
		tracker:   opts.Tracker,
		publisher: opts.Publisher,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
}

// Start connects in the background. It does nothing while a connection is
// already being made or is open, and after Stop.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || m.paused || m.cancel != nil {
		return
	}
	m.startLocked()
}

func (m *Manager) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.gen++
	gen := m.gen

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.connect(ctx, gen)
	}()
}

func (m *Manager) connect(ctx context.Context, gen uint64) {
	auth, err := m.tokens.Authenticate(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.release(gen)
		switch {
		case errors.Is(err, ErrStreamingDisabled):
			m.logger.Warn("streaming disabled for this key")
			m.publisher.Publish(EventSubsystemDisabled)
		case errors.Is(err, api.ErrUnauthorized):
			m.logger.Warn("push authentication rejected", zap.Error(err))
			m.publisher.Publish(EventNonRetryableError)
		default:
			m.logger.Info("push authentication failed", zap.Error(err))
			m.publisher.Publish(EventRetryableError)
		}
		return
	}

	if m.tracker != nil {
		m.tracker.Reset()
	}
	m.scheduleRefresh(gen, auth.Expiration)

	err = m.connector.Connect(ctx, auth.Token, auth.Channels, func() {
		m.publisher.Publish(EventSubsystemUp)
	}, m.frames.HandleFrame)
	if ctx.Err() != nil {
		return
	}
	m.release(gen)

	status := StatusCode(err)
	switch {
	case status >= http.StatusBadRequest && status < http.StatusInternalServerError:
		m.logger.Warn("stream rejected", zap.Int("status", status), zap.Error(err))
		m.publisher.Publish(EventNonRetryableError)
	default:
		m.logger.Info("stream disconnected", zap.Error(err))
		m.publisher.Publish(EventRetryableError)
	}
}

// release forgets the connection of generation gen if it is still current.
func (m *Manager) release(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.stopRefreshLocked()
}

func (m *Manager) scheduleRefresh(gen uint64, expiration time.Time) {
	if expiration.IsZero() {
		return
	}

	delay := expiration.Sub(m.clock.Now()) - tokenRefreshMargin
	if delay < minTokenRefresh {
		delay = minTokenRefresh
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.stopped {
		return
	}
	m.stopRefreshLocked()
	m.refresh = m.clock.AfterFunc(delay, func() {
		go m.refreshToken(gen)
	})
	m.logger.Debug("token refresh scheduled", zap.Duration("in", delay))
}

// Reconnect drops the current connection, if any, and connects again with
// a fresh token. A stream that reported a retryable error in-band is still
// open, so Start alone would leave it in place.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || m.paused {
		return
	}
	m.logger.Info("reconnecting push")
	m.disconnectLocked()
	m.startLocked()
}

// refreshToken reconnects with a fresh token.
func (m *Manager) refreshToken(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.stopped || m.paused {
		return
	}
	m.logger.Info("refreshing push token")
	m.disconnectLocked()
	m.startLocked()
}

func (m *Manager) stopRefreshLocked() {
	if m.refresh != nil {
		m.refresh.Stop()
		m.refresh = nil
	}
}

func (m *Manager) disconnectLocked() {
	m.stopRefreshLocked()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.gen++
}

// Pause closes the connection until Resume.
func (m *Manager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || m.paused {
		return
	}
	m.paused = true
	m.disconnectLocked()
	m.logger.Debug("push paused")
}

// Resume reconnects after Pause.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || !m.paused {
		return
	}
	m.paused = false
	if m.cancel == nil {
		m.startLocked()
	}
	m.logger.Debug("push resumed")
}

// Stop closes the connection for good. Later calls to Start are ignored.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.disconnectLocked()
	m.mu.Unlock()

	m.logger.Info("push stopped")
}

// Wait blocks until every connection goroutine returned. Only meaningful
// after Stop.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Connected reports whether a connection is being made or is open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}
