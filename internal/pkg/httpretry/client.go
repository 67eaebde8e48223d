// Package httpretry provides an HTTP client with automatic retry logic,
// exponential backoff, jitter and a per-attempt timeout for calls to
// external services.
package httpretry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/ignite/catalog-enricher/internal/pkg/logger"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *Client satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ErrExhausted is returned when every attempt failed with a retryable error.
var ErrExhausted = errors.New("httpretry: retry attempts exhausted")

// StatusError records an HTTP status returned by the remote side.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Body)
}

// Policy controls how many attempts are made and how long to wait between them.
type Policy struct {
	// MaxAttempts counts the first try; 1 disables retries.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// MaxJitter bounds the uniform random delay added to every backoff.
	MaxJitter time.Duration
	// AttemptTimeout bounds a single request including reading its body.
	AttemptTimeout time.Duration
}

// DefaultPolicy returns the policy used when a field is left at zero.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    4,
		BaseDelay:      1 * time.Second,
		MaxDelay:       30 * time.Second,
		MaxJitter:      500 * time.Millisecond,
		AttemptTimeout: 60 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxJitter < 0 {
		p.MaxJitter = 0
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = d.AttemptTimeout
	}
	return p
}

// Backoff returns the deterministic part of the wait before attempt k (k >= 2):
// min(MaxDelay, BaseDelay * 2^(k-2)).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}
	d := p.BaseDelay
	for i := 2; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay || d <= 0 {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Client wraps an HTTPDoer with retry logic using exponential backoff and jitter.
type Client struct {
	client HTTPDoer
	policy Policy
	log    *logger.Logger

	// sleep and jitter are replaceable in tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

// NewClient creates a Client that wraps the given HTTPDoer.
// If client is nil, a plain http.Client is used; timeouts come from the policy.
func NewClient(client HTTPDoer, policy Policy) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		client: client,
		policy: policy.withDefaults(),
		log:    logger.With("component", "httpretry"),
		sleep:  sleepContext,
		jitter: randomJitter,
	}
}

// Policy returns the effective policy.
func (c *Client) Policy() Policy { return c.policy }

// Do executes the HTTP request with retry logic.
//
// Network errors, attempt timeouts, 429 and every 5xx are retried. Any other
// response is returned as-is with its body fully buffered, so the caller can
// read it after the attempt's timeout context is gone. Cancellation of the
// request's own context stops retrying immediately.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	parent := req.Context()
	var lastErr error

	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if err := parent.Err(); err != nil {
			return nil, err
		}

		if attempt > 1 {
			if req.Body != nil && req.GetBody == nil {
				return nil, fmt.Errorf("httpretry: request body cannot be replayed: %w", lastErr)
			}
			delay := c.policy.Backoff(attempt) + c.jitter(c.policy.MaxJitter)
			c.log.Warn("retrying request",
				"method", req.Method,
				"host", req.URL.Host,
				"path", req.URL.Path,
				"attempt", attempt,
				"max_attempts", c.policy.MaxAttempts,
				"delay", delay,
				"cause", lastErr,
			)
			if err := c.sleep(parent, delay); err != nil {
				return nil, err
			}
		}

		resp, err := c.attempt(req)
		if err != nil {
			if parent.Err() != nil {
				return nil, parent.Err()
			}
			lastErr = err
			continue
		}

		if IsRetryableStatus(resp.StatusCode) {
			lastErr = &StatusError{StatusCode: resp.StatusCode, Body: snippet(resp)}
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, c.policy.MaxAttempts, lastErr)
}

// attempt performs one bounded request and buffers the response body.
func (c *Client) attempt(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(req.Context(), c.policy.AttemptTimeout)
	defer cancel()

	r := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("httpretry: reset request body: %w", err)
		}
		r.Body = body
	}

	resp, err := c.client.Do(r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpretry: read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return resp, nil
}

// IsRetryableStatus reports whether an HTTP status is transient:
// 429 (Too Many Requests) and every 5xx.
func IsRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= 500 && statusCode <= 599)
}

func snippet(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return string(data)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}
