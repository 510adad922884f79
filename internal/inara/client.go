// Package inara provides the HTTP plumbing shared by collaborators that
// talk to the market data source: a throttled client with the source's
// operational error taxonomy, and commodity search link assembly for status
// content.
//
// Page scraping itself is not implemented here; scanners live behind
// monitor.Scanner.
package inara

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Sentinel errors callers branch on.
var (
	// ErrBlocked means the source has blocked this address; retries will
	// fail until the operator resolves it out of band.
	ErrBlocked = errors.New("inara: access blocked")
	// ErrRateLimited is a transient 429.
	ErrRateLimited = errors.New("inara: rate limited")
)

// IsBlocked reports whether err carries an address block.
func IsBlocked(err error) bool {
	return errors.Is(err, ErrBlocked)
}

// Client is a throttled HTTP client for the data source. All requests share
// one token bucket so bursts of station pages cannot trip the source's
// abuse protection.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a client issuing at most one request per throttle
// period.
func NewClient(throttle time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if throttle <= 0 {
		throttle = time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(throttle), 1),
		logger:     logger,
	}
}

// Get fetches a page body, waiting on the shared limiter first.
func (c *Client) Get(ctx context.Context, url string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "goldwatch/2.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%s: %w", url, ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, truncate(body, 200))
	}

	text := string(body)
	if strings.Contains(text, "IP address blocked") || strings.Contains(text, "Access Temporarily Restricted") {
		return "", fmt.Errorf("%s: %w", url, ErrBlocked)
	}
	return text, nil
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
