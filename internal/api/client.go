// Package api is the REST client for the flag authority.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/flagsync/internal/config"
	"github.com/dgnsrekt/flagsync/internal/storage"
)

// maxRetryDelay caps the delay between request attempts.
const maxRetryDelay = 30 * time.Second

// Client interface for testability
type Client interface {
	FetchSplitChanges(ctx context.Context, since int64) (*storage.SplitChange, error)
	FetchMySegments(ctx context.Context, userKey string) ([]string, error)
	Authenticate(ctx context.Context, userKey string) (*AuthResponse, error)
	PostUsage(ctx context.Context, usage Usage) error
}

type HTTPClient struct {
	httpClient *http.Client
	endpoints  config.EndpointsConfig
	apiKey     string
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

// AuthResponse is the body of the push authentication endpoint
type AuthResponse struct {
	PushEnabled bool   `json:"pushEnabled"`
	Token       string `json:"token"`
}

// Usage is the periodic telemetry snapshot posted to the events endpoint
type Usage struct {
	Timestamp       int64 `json:"t"`
	Splits          int   `json:"spC"`
	MySegments      int   `json:"seC"`
	ChangeNumber    int64 `json:"cn"`
	StreamingEvents int64 `json:"sE,omitempty"`
}

func NewClient(cfg config.APIConfig, endpoints config.EndpointsConfig, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := &http.Transport{
		MaxIdleConns:    100,
		MaxConnsPerHost: 10,
		IdleConnTimeout: 90 * time.Second,
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: gzhttp.Transport(transport),
			Timeout:   cfg.Timeout(),
		},
		endpoints:  endpoints,
		apiKey:     cfg.Key,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RatePerSecond*2),
		retryCount: cfg.RetryCount,
		retryDelay: cfg.RetryDelay(),
		logger:     logger,
	}
}

func (c *HTTPClient) FetchSplitChanges(ctx context.Context, since int64) (*storage.SplitChange, error) {
	u := fmt.Sprintf("%s/splitChanges?since=%s", c.endpoints.SDK, strconv.FormatInt(since, 10))

	var change storage.SplitChange
	if err := c.do(ctx, http.MethodGet, u, nil, &change); err != nil {
		return nil, fmt.Errorf("fetching split changes since %d: %w", since, err)
	}
	return &change, nil
}

func (c *HTTPClient) FetchMySegments(ctx context.Context, userKey string) ([]string, error) {
	u := fmt.Sprintf("%s/mySegments/%s", c.endpoints.SDK, url.PathEscape(userKey))

	var segments storage.MySegments
	if err := c.do(ctx, http.MethodGet, u, nil, &segments); err != nil {
		return nil, fmt.Errorf("fetching my segments: %w", err)
	}
	return segments.Names(), nil
}

func (c *HTTPClient) Authenticate(ctx context.Context, userKey string) (*AuthResponse, error) {
	u := fmt.Sprintf("%s/v2/auth?users=%s", c.endpoints.Auth, url.QueryEscape(userKey))

	var auth AuthResponse
	if err := c.do(ctx, http.MethodGet, u, nil, &auth); err != nil {
		return nil, fmt.Errorf("authenticating: %w", err)
	}
	return &auth, nil
}

func (c *HTTPClient) PostUsage(ctx context.Context, usage Usage) error {
	body, err := json.Marshal(usage)
	if err != nil {
		return fmt.Errorf("encoding usage: %w", err)
	}

	u := fmt.Sprintf("%s/metrics/usage", c.endpoints.Events)
	if err := c.do(ctx, http.MethodPost, u, body, nil); err != nil {
		return fmt.Errorf("posting usage: %w", err)
	}
	return nil
}

// do sends a request with rate limiting and retries. Transport errors, 429
// and 5xx responses are retried with exponential delay; other failures
// return immediately. out may be nil when the body is not needed.
func (c *HTTPClient) do(ctx context.Context, method, url string, body []byte, out any) error {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	c.logger.Debug("requesting", zap.String("method", method), zap.String("url", url))

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.retryDelay
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = maxRetryDelay

	attempt := 0
	var retryable bool
	respBody, err := backoff.Retry(ctx, func() ([]byte, error) {
		attempt++
		respBody, err := c.send(ctx, method, url, body)
		if err == nil {
			return respBody, nil
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		retryable = isRetryable(err)
		if !retryable {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	},
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(c.retryCount+1)),
		backoff.WithNotify(func(err error, delay time.Duration) {
			c.logger.Debug("retrying request",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if retryable {
			return fmt.Errorf("max retries exceeded: %w", err)
		}
		return err
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// send performs a single request and maps the status to an error.
func (c *HTTPClient) send(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}

	// Read body before closing for error messages
	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, &transportError{err: readErr}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode >= 500:
		return nil, &serverError{status: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
