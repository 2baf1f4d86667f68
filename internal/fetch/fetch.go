// Package fetch wraps outbound HTTP with bounded retry and a shared rate
// limit so no part of the pipeline can hammer the upstream source.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// RetryPolicy bounds how often a failed request is retried. Backoff doubles
// after every failed attempt.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy matches the scraper's stock configuration.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: time.Second}

// FetchError reports a request that failed after all retry attempts.
type FetchError struct {
	URL      string
	Attempts int
	Status   int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s (attempts %d): %v", e.URL, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s (attempts %d): status %d", e.URL, e.Attempts, e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client issues GET requests with retry and rate limiting applied.
type Client struct {
	http      *http.Client
	retry     RetryPolicy
	limiter   *rate.Limiter
	userAgent string
}

// New builds a Client. A nil httpClient falls back to a 30s-timeout client;
// a nil limiter disables rate limiting.
func New(httpClient *http.Client, retry RetryPolicy, limiter *rate.Limiter, userAgent string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if retry.Backoff <= 0 {
		retry.Backoff = DefaultRetryPolicy.Backoff
	}
	return &Client{http: httpClient, retry: retry, limiter: limiter, userAgent: userAgent}
}

// Get fetches url and returns the response body. Transient failures
// (network errors, 5xx, 429) are retried per the policy; other non-2xx
// statuses fail immediately. The limiter is consulted before every attempt.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	lastStatus := 0

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, &FetchError{URL: url, Attempts: attempt, Err: err}
			}
		}

		body, status, err := c.once(ctx, url)
		switch {
		case err == nil && status >= 200 && status < 300:
			return body, nil
		case err == nil && !retryableStatus(status):
			return nil, &FetchError{URL: url, Attempts: attempt, Status: status}
		case err != nil:
			lastErr = err
		default:
			lastStatus = status
			lastErr = nil
		}

		if ctx.Err() != nil {
			return nil, &FetchError{URL: url, Attempts: attempt, Status: lastStatus, Err: ctx.Err()}
		}
		if attempt < c.retry.MaxAttempts {
			backoff := c.retry.Backoff << uint(attempt-1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, &FetchError{URL: url, Attempts: attempt, Status: lastStatus, Err: ctx.Err()}
			}
		}
	}

	return nil, &FetchError{URL: url, Attempts: c.retry.MaxAttempts, Status: lastStatus, Err: lastErr}
}

func (c *Client) once(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func retryableStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}
