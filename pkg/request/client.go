package request

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"time"

	"sagipgo/pkg/config"
	"sagipgo/pkg/tracker"
	"sagipgo/pkg/version"
)

var defaultUserAgent = fmt.Sprintf("SagipGo/%s (offline map cache; +https://github.com/sagip/sagipgo)", version.Version)

// Client handles HTTP requests with retry, backoff, and tracking.
// It is safe for concurrent use; tile batches issue requests in parallel.
type Client struct {
	httpClient *http.Client
	tracker    *tracker.Tracker

	retries   int
	baseDelay time.Duration
	maxDelay  time.Duration
}

// New creates a new Client from the request configuration.
func New(cfg *config.RequestConfig, t *tracker.Tracker) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: time.Duration(cfg.Timeout)},
		tracker:    t,
		retries:    cfg.Retries,
		baseDelay:  time.Duration(cfg.Backoff.BaseDelay),
		maxDelay:   time.Duration(cfg.Backoff.MaxDelay),
	}
}

// Get performs a GET request and returns the response body.
// The service name groups the request for usage tracking.
func (c *Client) Get(ctx context.Context, u, service string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, nil, service)
}

// PostJSON performs a POST request with a JSON body and returns the response body.
func (c *Client) PostJSON(ctx context.Context, u string, body []byte, headers map[string]string, service string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if headers == nil {
		headers = map[string]string{}
	}
	if _, ok := headers["Content-Type"]; !ok {
		headers["Content-Type"] = "application/json"
	}
	return c.do(req, headers, service)
}

// Head performs a HEAD request and discards the body. Used for reachability probes.
func (c *Client) Head(ctx context.Context, u string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("api error: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) do(req *http.Request, headers map[string]string, service string) ([]byte, error) {
	uaMatch := false
	for k, v := range headers {
		req.Header.Set(k, v)
		if http.CanonicalHeaderKey(k) == "User-Agent" {
			uaMatch = true
		}
	}
	if !uaMatch {
		req.Header.Set("User-Agent", defaultUserAgent)
	}

	body, err := c.executeWithBackoff(req, service)
	if err == nil {
		c.tracker.TrackFetchSuccess(service)
	} else {
		c.tracker.TrackFetchFailure(service)
	}
	return body, err
}

// executeWithBackoff attempts the request with exponential backoff on retryable errors.
func (c *Client) executeWithBackoff(req *http.Request, service string) ([]byte, error) {
	for attempt := 0; attempt < c.retries; attempt++ {
		// Verify context is still alive before dialing
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}

		slog.Debug("Network Request", "host", req.URL.Host, "path", req.URL.Path, "attempt", attempt+1)
		resp, err := c.httpClient.Do(req)

		if err != nil {
			// Check if the error is a context cancellation from OUR side
			if req.Context().Err() != nil {
				return nil, req.Context().Err()
			}

			// Otherwise, it's a network error or server timeout
			slog.Warn("Request failed, retrying", "url", req.URL, "attempt", attempt+1, "error", err)
			c.tracker.TrackRetry(service)

			if err := c.sleepBackoff(req.Context(), attempt); err != nil {
				return nil, err
			}
			continue
		}

		// Handle Status Codes
		if resp.StatusCode == 429 || (resp.StatusCode >= 500 && resp.StatusCode < 600) {
			resp.Body.Close()
			slog.Warn("API Backoff", "status", resp.StatusCode, "url", req.URL, "attempt", attempt+1)
			c.tracker.TrackRetry(service)

			if err := c.sleepBackoff(req.Context(), attempt); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, fmt.Errorf("api error: status %d", resp.StatusCode)
		}

		// Success
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded")
}

// sleepBackoff waits out the exponential delay for the given attempt, with jitter.
func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	delay := time.Duration(math.Pow(2, float64(attempt)) * float64(c.baseDelay))
	if delay > c.maxDelay {
		delay = c.maxDelay
	}
	delay += time.Duration(rand.Float64() * 0.1 * float64(delay))

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
