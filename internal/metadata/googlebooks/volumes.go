package googlebooks

import (
	"context"
	"encoding/json/v2"
	"fmt"
	"net/url"
	"strings"
)

const searchLimit = 10

// SearchISBN queries the volumes API by ISBN.
func (c *Client) SearchISBN(ctx context.Context, isbn string) ([]Volume, error) {
	isbn = strings.TrimSpace(isbn)
	if isbn == "" {
		return nil, ErrBadRequest
	}
	return c.searchVolumes(ctx, "isbn:"+isbn)
}

// Search queries the volumes API by title and optional author using the
// structured intitle/inauthor query operators.
func (c *Client) Search(ctx context.Context, title, author string) ([]Volume, error) {
	title = strings.TrimSpace(title)
	author = strings.TrimSpace(author)
	if title == "" && author == "" {
		return nil, ErrBadRequest
	}

	var parts []string
	if title != "" {
		parts = append(parts, "intitle:"+title)
	}
	if author != "" {
		parts = append(parts, "inauthor:"+author)
	}

	return c.searchVolumes(ctx, strings.Join(parts, " "))
}

func (c *Client) searchVolumes(ctx context.Context, q string) ([]Volume, error) {
	query := url.Values{}
	query.Set("q", q)
	query.Set("maxResults", fmt.Sprintf("%d", searchLimit))
	query.Set("printType", "books")

	body, err := c.doRequest(ctx, "/volumes", query)
	if err != nil {
		return nil, fmt.Errorf("googlebooks search %q: %w", q, err)
	}

	var resp volumesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("googlebooks search %q: parse response: %w", q, err)
	}

	c.logger.Debug("googlebooks search results",
		"query", q,
		"total", resp.TotalItems,
		"returned", len(resp.Items),
	)

	return resp.Items, nil
}
