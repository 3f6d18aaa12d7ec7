// Package openlibrary provides a rate-limited client for the Open Library API.
package openlibrary

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/stacksapp/stacks-server/internal/ratelimit"
)

const (
	// Open Library asks bulk consumers to stay under a few requests per second.
	defaultRPS   = 3.0
	defaultBurst = 5

	defaultTimeout = 30 * time.Second
	defaultBaseURL = "https://openlibrary.org"

	coversBaseURL = "https://covers.openlibrary.org"

	// Response size cap. Search responses are normally a few hundred KB.
	maxResponseBytes = 5 * 1024 * 1024
)

// Client is a rate-limited Open Library API client.
type Client struct {
	http    *http.Client
	limiter *ratelimit.KeyedRateLimiter
	baseURL string
	logger  *slog.Logger
}

// New creates a new Open Library client.
// An empty baseURL uses the public API endpoint.
func New(baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		http: &http.Client{
			Timeout: defaultTimeout,
		},
		limiter: ratelimit.New(defaultRPS, defaultBurst),
		baseURL: baseURL,
		logger:  logger,
	}
}

// Close releases resources held by the client.
func (c *Client) Close() {
	c.limiter.Stop()
}

// doRequest executes an HTTP request with rate limiting.
// Rate limiting is keyed by host so a test server and the live API don't
// share a bucket.
func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}

	if err := c.limiter.Wait(ctx, base.Host); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u := *base
	u.Path = path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Stacks/1.0")

	c.logger.Debug("openlibrary request", "path", path)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		return nil, ErrNotFound
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case http.StatusBadRequest:
		return nil, ErrBadRequest
	default:
		if resp.StatusCode >= 500 {
			return nil, ErrServer
		}
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}
