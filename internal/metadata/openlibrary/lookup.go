package openlibrary

import (
	"context"
	"encoding/json/v2"
	"fmt"
	"regexp"
	"strings"
)

// ProviderName identifies this provider in provenance fields.
const ProviderName = "openlibrary"

// maxAuthorLookups bounds the secondary requests made to resolve author
// names for a single edition.
const maxAuthorLookups = 3

var isbnPattern = regexp.MustCompile(`^(\d{9}[\dX]|\d{13})$`)

// LookupISBN fetches the edition record for an ISBN.
// The edition's author keys are resolved to names with bounded follow-up
// lookups; failures there degrade to an edition without author names
// rather than failing the lookup.
func (c *Client) LookupISBN(ctx context.Context, isbn string) (*Edition, error) {
	if !isbnPattern.MatchString(isbn) {
		return nil, wrapError("lookupISBN", isbn, ErrInvalidISBN)
	}

	body, err := c.doRequest(ctx, "/isbn/"+isbn+".json", nil)
	if err != nil {
		return nil, wrapError("lookupISBN", isbn, err)
	}

	var edition Edition
	if err := json.Unmarshal(body, &edition); err != nil {
		return nil, wrapError("lookupISBN", isbn, fmt.Errorf("parse response: %w", err))
	}

	edition.AuthorNames = c.fetchAuthorNames(ctx, edition.Authors)

	c.logger.Debug("openlibrary edition resolved",
		"isbn", isbn,
		"title", edition.Title,
		"authors", len(edition.AuthorNames),
	)

	return &edition, nil
}

// fetchAuthorNames resolves author reference keys to display names.
func (c *Client) fetchAuthorNames(ctx context.Context, refs []keyRef) []string {
	var names []string
	for i, ref := range refs {
		if i >= maxAuthorLookups {
			break
		}
		key := strings.TrimSpace(ref.Key)
		if !strings.HasPrefix(key, "/authors/") {
			continue
		}

		body, err := c.doRequest(ctx, key+".json", nil)
		if err != nil {
			c.logger.Warn("openlibrary author lookup failed",
				"key", key,
				"error", err,
			)
			continue
		}

		var author authorRecord
		if err := json.Unmarshal(body, &author); err != nil {
			continue
		}
		if author.Name != "" {
			names = append(names, author.Name)
		}
	}
	return names
}
