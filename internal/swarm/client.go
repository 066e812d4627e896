package swarm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kheven/swarm/internal/swarm/metrics"
	"github.com/kheven/swarm/internal/swarm/rate"
)

// StatusError is recorded for responses outside the 2xx range.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Response is the part of an HTTP response a task can look at.
// The body has already been read and closed.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// Client issues requests relative to a host and records every one of them.
type Client struct {
	HTTPClient *http.Client
	Host       string
	Headers    map[string]string
	UserAgent  string
	Metrics    *metrics.Engine

	// Limiter caps the request rate across all clients sharing it.
	// Nil is unlimited.
	Limiter *rate.Limiter
}

// Get issues a GET request to path.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Do issues one request and records its outcome under method and path.
//
// Transport errors and non-2xx statuses are recorded as failures and
// returned. A request that failed because ctx was cancelled is not
// recorded: it was cut short by the run ending, not by the target.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*Response, error) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.record(method, path, time.Since(start), 0, err)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	duration := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		err = fmt.Errorf("failed to read response body: %w", err)
		c.record(method, path, duration, int64(len(data)), err)
		return nil, err
	}

	result := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		Duration:   duration,
	}

	var statusErr error
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr = &StatusError{StatusCode: resp.StatusCode}
	}
	c.record(method, path, duration, int64(len(data)), statusErr)

	return result, statusErr
}

func (c *Client) record(method, path string, d time.Duration, bytes int64, err error) {
	if c.Metrics == nil {
		return
	}
	c.Metrics.Record(metrics.Sample{
		Method:   method,
		Name:     path,
		Duration: d,
		Bytes:    bytes,
		Err:      err,
	})
}

// resolve joins path onto the host. Absolute URLs are used as given.
func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(c.Host, "/") + path
}
