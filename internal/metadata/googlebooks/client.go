// Package googlebooks provides a client for the Google Books volumes API.
package googlebooks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://www.googleapis.com/books/v1"
	defaultTimeout = 30 * time.Second

	// Anonymous quota is roughly 1 request per second sustained.
	defaultRPS   = 1.0
	defaultBurst = 3

	maxResponseBytes = 5 * 1024 * 1024
)

// ProviderName identifies this provider in provenance fields.
const ProviderName = "googlebooks"

// Sentinel errors for Google Books API operations.
var (
	ErrNotFound    = errors.New("googlebooks: not found")
	ErrRateLimited = errors.New("googlebooks: rate limited by server")
	ErrBadRequest  = errors.New("googlebooks: bad request")
	ErrServer      = errors.New("googlebooks: server error")
)

// Client provides access to the Google Books volumes API.
type Client struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	apiKey      string
	logger      *slog.Logger
}

// NewClient creates a new Google Books client.
// An empty baseURL uses the public API endpoint; apiKey is optional.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(defaultRPS), defaultBurst),
		baseURL:     baseURL,
		apiKey:      apiKey,
		logger:      logger,
	}
}

// Close releases resources. Currently a no-op but included for interface consistency.
func (c *Client) Close() {
	// No persistent resources to close
}

// doRequest executes a rate-limited GET against the volumes API.
func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	if c.apiKey != "" {
		query.Set("key", c.apiKey)
	}

	reqURL := c.baseURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Stacks/1.0")

	c.logger.Debug("googlebooks request", "path", path)

	resp, err := c.httpClient.Do(req)
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
