// Package httpds is the HTTP client used for the BPS web API and the source
// list. Every request has a timeout and passes through an optional token
// bucket. Retries are opt-in: MaxRetries=0 means one attempt, leaving retry
// policy for whole runs to the scheduler. A retried answer carrying Retry-After
// is waited out for the advertised time, capped at MaxBackoff.
package httpds

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Config configures the HTTP datasource client.
//
// Zero values are given sensible defaults:
//   - Timeout:        30s
//   - MaxRetries:     0
//   - InitialBackoff: 200ms
//   - MaxBackoff:     5s
//   - RequestsPerSec: 0 (no throttling)
type Config struct {
	// Timeout is the per-request timeout applied at the http.Client level.
	Timeout time.Duration

	// MaxRetries is the number of retry attempts after the initial request.
	MaxRetries int

	// InitialBackoff is the base backoff duration for the first retry.
	// Each subsequent retry doubles the previous backoff up to MaxBackoff.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff duration.
	MaxBackoff time.Duration

	// RequestsPerSec enables token-bucket throttling when > 0.
	RequestsPerSec float64

	// Burst is the bucket size used with RequestsPerSec (default 1).
	Burst int

	// UserAgent is sent with every request when non-empty.
	UserAgent string

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool

	// Transport is an optional custom RoundTripper. When nil, a default
	// *http.Transport is constructed based on the TLS settings.
	Transport http.RoundTripper
}

// maxJSONBody caps how much of a JSON response GetJSON reads.
const maxJSONBody = 64 << 20

// StatusError reports a non-2xx answer.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpds: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Client is safe for concurrent use.
type Client struct {
	hc             *http.Client
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	userAgent      string
	limiter        *tokenBucket

	// after replaces time.After in tests.
	after func(time.Duration) <-chan time.Time
}

// NewClient builds a Client, filling zero Config fields with defaults.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	rt := cfg.Transport
	if rt == nil {
		rt = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}, //nolint:gosec // opt-in
		}
	}

	c := &Client{
		hc:             &http.Client{Timeout: cfg.Timeout, Transport: rt},
		maxRetries:     max(cfg.MaxRetries, 0),
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		userAgent:      cfg.UserAgent,
		after:          time.After,
	}
	if cfg.RequestsPerSec > 0 {
		c.limiter = newTokenBucket(cfg.RequestsPerSec, cfg.Burst)
	}
	return c
}

// Get fetches url. Transport errors, 429 and 5xx answers are retried up to
// MaxRetries times; the last answer is returned whatever its status. The
// caller closes the body.
func (c *Client) Get(ctx context.Context, url string, headers http.Header) (*http.Response, error) {
	if url == "" {
		return nil, fmt.Errorf("httpds: empty url")
	}
	for attempt := 0; ; attempt++ {
		resp, err := c.once(ctx, url, headers)
		final := attempt >= c.maxRetries
		switch {
		case err != nil && (final || ctx.Err() != nil):
			return nil, err
		case err == nil && (final || !isRetryableStatus(resp.StatusCode)):
			return resp, nil
		}

		delay := backoffDuration(c.initialBackoff, attempt, c.maxBackoff)
		if resp != nil {
			if ra, ok := retryAfter(resp.Header.Get("Retry-After"), c.maxBackoff); ok {
				delay = ra
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		if err := c.wait(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) once(ctx context.Context, url string, headers http.Header) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("httpds: build request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.hc.Do(req)
}

// GetJSON decodes a 2xx body into v. Non-2xx answers yield *StatusError.
// The body is drained and closed before returning.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	resp, err := c.Get(ctx, url, http.Header{"Accept": {"application/json"}})
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		return &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONBody)).Decode(v); err != nil {
		return fmt.Errorf("httpds: decode json: %w", err)
	}
	return nil
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code/100 == 5
}

// backoffDuration doubles initial per retry (attempt is 0-based) up to limit.
func backoffDuration(initial time.Duration, attempt int, limit time.Duration) time.Duration {
	if attempt > 30 {
		return limit
	}
	if d := initial << attempt; d > 0 && d < limit {
		return d
	}
	return limit
}

// retryAfter parses a delay-seconds Retry-After value, capped at limit.
// HTTP-date values are ignored.
func retryAfter(v string, limit time.Duration) (time.Duration, bool) {
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return min(time.Duration(secs)*time.Second, limit), true
}

func (c *Client) wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.after(d):
		return nil
	}
}
