package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/launchdarkly/eventsource"
	"go.uber.org/zap"
)

// ErrStreamClosed is returned when the server ends the stream without an
// error of its own.
var ErrStreamClosed = errors.New("stream closed by server")

const (
	protocolVersion = "1.1"
	occupancyPrefix = "[?occupancy=metrics.publishers]"
)

// FrameFunc receives the SSE event name and data of every frame.
type FrameFunc func(event, data string)

type SSEClient struct {
	streamingURL string
	httpClient   *http.Client
	readTimeout  time.Duration
	logger       *zap.Logger
}

func NewSSEClient(streamingURL string, readTimeout time.Duration, logger *zap.Logger) *SSEClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSEClient{
		streamingURL: streamingURL,
		// no overall timeout: the stream is long lived and guarded by readTimeout
		httpClient:  &http.Client{},
		readTimeout: readTimeout,
		logger:      logger,
	}
}

// Connect opens the stream and blocks until it ends. onOpen runs once the
// server accepted the connection. Cancelling ctx closes the stream and
// returns nil.
func (c *SSEClient) Connect(ctx context.Context, token string, channels []string, onOpen func(), onFrame FrameFunc) error {
	streamURL, err := c.streamURL(token, channels)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	connID := uuid.NewString()
	req.Header.Set("X-Connection-Id", connID)

	errCh := make(chan error, 1)
	stream, err := eventsource.SubscribeWithRequestAndOptions(req,
		eventsource.StreamOptionHTTPClient(c.httpClient),
		eventsource.StreamOptionReadTimeout(c.readTimeout),
		eventsource.StreamOptionErrorHandler(func(err error) eventsource.StreamErrorHandlerResult {
			select {
			case errCh <- err:
			default:
			}
			return eventsource.StreamErrorHandlerResult{CloseNow: true}
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("opening stream: %w", err)
	}
	defer stream.Close()

	c.logger.Info("stream connected", zap.String("connection_id", connID), zap.Int("channels", len(channels)))
	if onOpen != nil {
		onOpen()
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("stream closed by client", zap.String("connection_id", connID))
			return nil
		case err := <-errCh:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading stream: %w", err)
		case ev, ok := <-stream.Events:
			if !ok {
				select {
				case err := <-errCh:
					return fmt.Errorf("reading stream: %w", err)
				default:
				}
				if ctx.Err() != nil {
					return nil
				}
				return ErrStreamClosed
			}
			onFrame(ev.Event(), ev.Data())
		}
	}
}

// StatusCode extracts the HTTP status of a rejected stream request, or 0.
func StatusCode(err error) int {
	var subErr eventsource.SubscriptionError
	if errors.As(err, &subErr) {
		return subErr.Code
	}
	var subErrPtr *eventsource.SubscriptionError
	if errors.As(err, &subErrPtr) && subErrPtr != nil {
		return subErrPtr.Code
	}
	return 0
}

func (c *SSEClient) streamURL(token string, channels []string) (string, error) {
	u, err := url.Parse(c.streamingURL)
	if err != nil {
		return "", fmt.Errorf("parsing streaming url: %w", err)
	}

	formatted := make([]string, 0, len(channels))
	for _, ch := range channels {
		if strings.Contains(ch, "control") {
			ch = occupancyPrefix + ch
		}
		formatted = append(formatted, ch)
	}

	q := u.Query()
	q.Set("v", protocolVersion)
	q.Set("accessToken", token)
	q.Set("channels", strings.Join(formatted, ","))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
