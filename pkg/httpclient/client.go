// Package httpclient is a small HTTP client that retries rate-limited and
// failing upstream calls.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"
)

// RetryStrategy describes how a status code is retried.
type RetryStrategy int

const (
	NoRetry RetryStrategy = iota
	// ConservativeRetry retries server errors a couple of times.
	ConservativeRetry
	// SmartRetry honours Retry-After and backs off exponentially.
	SmartRetry
)

const conservativeAttempts = 2

// RetryStrategyFunc maps a status code to a strategy.
type RetryStrategyFunc func(statusCode int) RetryStrategy

// Client wraps http.Client with status-based retries.
type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	strategyFunc RetryStrategyFunc
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = timeout
	}
}

func WithMaxRetries(max int) Option {
	return func(c *Client) {
		c.maxRetries = max
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

func WithRetryStrategy(fn RetryStrategyFunc) Option {
	return func(c *Client) {
		c.strategyFunc = fn
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		client:       &http.Client{Timeout: 60 * time.Second},
		maxRetries:   3,
		baseDelay:    time.Second,
		strategyFunc: DefaultRetryStrategy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultRetryStrategy retries 429 and 503 smartly and other gateway
// errors conservatively.
func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return SmartRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return ConservativeRetry
	default:
		return NoRetry
	}
}

// Do sends req, retrying per the strategy of the response status. The
// final response is returned as-is, even on a non-2xx status; the caller
// owns its body. Waits stop when the request context is done.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 300 {
			return resp, nil
		}

		strategy := c.strategyFunc(resp.StatusCode)
		delay := c.delay(strategy, attempt, resp.Header)
		if strategy == NoRetry || attempt >= c.maxRetries || delay <= 0 {
			return resp, nil
		}

		slog.Debug("Retrying HTTP request",
			"url", req.URL.Redacted(),
			"status", resp.StatusCode,
			"attempt", attempt+1,
			"delay", delay)

		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) delay(strategy RetryStrategy, attempt int, header http.Header) time.Duration {
	switch strategy {
	case SmartRetry:
		if d := parseRetryAfter(header.Get("Retry-After")); d > 0 {
			return d
		}
		return time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
	case ConservativeRetry:
		if attempt >= conservativeAttempts {
			return 0
		}
		return time.Duration(attempt+1) * c.baseDelay
	default:
		return 0
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

// PostJSON marshals in, posts it to url and decodes a 2xx response into
// out. Non-2xx responses return *StatusError.
func (c *Client) PostJSON(ctx context.Context, url string, header http.Header, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doJSON(req, out)
}

// GetJSON fetches url and decodes a 2xx response into out.
func (c *Client) GetJSON(ctx context.Context, url string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
