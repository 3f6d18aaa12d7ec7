package openlibrary

import (
	"context"
	"encoding/json/v2"
	"fmt"
	"net/url"
	"strings"
)

const searchLimit = 10

// searchFields trims the search response to the document fields we read.
const searchFields = "title,subtitle,author_name,first_publish_year,isbn,cover_i,language,publisher,edition_key,number_of_pages_median"

// Search queries Open Library by title and optional author.
// Results come back in Open Library's relevance order.
func (c *Client) Search(ctx context.Context, title, author string) ([]SearchDoc, error) {
	title = strings.TrimSpace(title)
	author = strings.TrimSpace(author)
	if title == "" && author == "" {
		return nil, wrapError("search", "", ErrBadRequest)
	}

	query := url.Values{}
	if title != "" {
		query.Set("title", title)
	}
	if author != "" {
		query.Set("author", author)
	}
	query.Set("limit", fmt.Sprintf("%d", searchLimit))
	query.Set("fields", searchFields)

	body, err := c.doRequest(ctx, "/search.json", query)
	if err != nil {
		return nil, wrapError("search", title, err)
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, wrapError("search", title, fmt.Errorf("parse response: %w", err))
	}

	c.logger.Debug("openlibrary search results",
		"title", title,
		"author", author,
		"found", resp.NumFound,
		"returned", len(resp.Docs),
	)

	return resp.Docs, nil
}
