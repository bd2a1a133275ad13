// Package notify sends ntfy alerts when streaming stops for good.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/flagsync/internal/config"
	"github.com/dgnsrekt/flagsync/internal/push"
)

const sendTimeout = 30 * time.Second

// Client posts alerts to an ntfy topic.
type Client struct {
	httpClient *http.Client
	config     config.NotifyConfig
	userKey    string
	logger     *zap.Logger
	now        func() time.Time
}

// NewClient creates a new ntfy client.
func NewClient(cfg config.NotifyConfig, userKey string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: sendTimeout,
		},
		config:  cfg,
		userKey: userKey,
		logger:  logger,
		now:     time.Now,
	}
}

// HandleEvent is registered on the push event broadcaster. It alerts when
// streaming is disabled or rejected. Both end streaming for the life of the
// process, so there is no recovery to report. Other events are ignored.
func (c *Client) HandleEvent(e push.Event) {
	if !c.config.Enabled {
		return
	}

	var title, tags, priority string
	switch e {
	case push.EventSubsystemDisabled:
		title, tags, priority = "Streaming disabled", c.config.Tags+",warning", c.config.Priority
	case push.EventNonRetryableError:
		title, tags, priority = "Streaming stopped", c.config.Tags+",x", "high"
	default:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	_ = c.send(ctx, title, FormatStreamingMessage(c.userKey, e, c.now()), tags, priority)
}

func (c *Client) send(ctx context.Context, title, message, tags, priority string) error {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.config.Server, "/"), c.config.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send alert", zap.Error(err))
		return fmt.Errorf("sending alert: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("alert failed",
			zap.Int("status", resp.StatusCode),
			zap.String("url", url),
		)
		return fmt.Errorf("alert failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("alert sent", zap.String("title", title))
	return nil
}
