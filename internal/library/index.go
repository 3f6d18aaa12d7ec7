package library

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/stacksapp/stacks-server/internal/errors"
	"github.com/stacksapp/stacks-server/internal/normalize"
)

// TextIndex is an in-memory Bleve index over local books, powering the
// legacy text-matching fallback for records without a stable identity.
type TextIndex struct {
	index bleve.Index
}

// NewTextIndex creates an empty in-memory index.
func NewTextIndex() (*TextIndex, error) {
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create text index: %w", err)
	}
	return &TextIndex{index: index}, nil
}

// buildIndexMapping maps the searchable and exact-match fields.
// The exact fields hold pre-normalized strings under the keyword analyzer
// so a term query means "the whole normalized string matches".
func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = simple.Name

	docMapping := bleve.NewDocumentMapping()

	titleField := bleve.NewTextFieldMapping()
	titleField.Analyzer = simple.Name
	docMapping.AddFieldMappingsAt("title", titleField)

	authorField := bleve.NewTextFieldMapping()
	authorField.Analyzer = simple.Name
	docMapping.AddFieldMappingsAt("author", authorField)

	titleExactField := bleve.NewTextFieldMapping()
	titleExactField.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt("title_exact", titleExactField)

	authorExactField := bleve.NewTextFieldMapping()
	authorExactField.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt("author_exact", authorExactField)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// Close releases the index.
func (t *TextIndex) Close() error {
	return t.index.Close()
}

// Index adds or replaces a book in the index.
func (t *TextIndex) Index(book *Book) error {
	return t.index.Index(book.ID, map[string]any{
		"title":        book.Title,
		"author":       book.Author,
		"title_exact":  normalize.Title(book.Title),
		"author_exact": normalize.Person(book.Author),
	})
}

// Delete removes a book from the index.
func (t *TextIndex) Delete(id string) error {
	return t.index.Delete(id)
}

// Match finds the book best matching a title/author pair: a normalized
// exact match first, then a fuzzy pass for typo tolerance. Returns the
// book ID of the top hit or a not found error.
func (t *TextIndex) Match(ctx context.Context, title, author string) (string, error) {
	if title == "" {
		return "", errors.Validation("title is required for text matching")
	}

	if id, err := t.search(ctx, t.exactQuery(title, author)); err == nil {
		return id, nil
	} else if !errors.Is(err, errors.ErrNotFound) {
		return "", err
	}

	return t.search(ctx, t.fuzzyQuery(title, author))
}

func (t *TextIndex) exactQuery(title, author string) query.Query {
	titleQ := bleve.NewTermQuery(normalize.Title(title))
	titleQ.SetField("title_exact")

	if author == "" {
		return titleQ
	}

	authorQ := bleve.NewTermQuery(normalize.Person(author))
	authorQ.SetField("author_exact")
	return bleve.NewConjunctionQuery(titleQ, authorQ)
}

func (t *TextIndex) fuzzyQuery(title, author string) query.Query {
	titleMatch := bleve.NewMatchQuery(title)
	titleMatch.SetField("title")
	titleMatch.SetBoost(3.0)

	titleFuzzy := bleve.NewMatchQuery(title)
	titleFuzzy.SetField("title")
	titleFuzzy.SetFuzziness(1)

	titleQ := bleve.NewDisjunctionQuery(titleMatch, titleFuzzy)
	if author == "" {
		return titleQ
	}

	authorMatch := bleve.NewMatchQuery(author)
	authorMatch.SetField("author")
	authorMatch.SetFuzziness(1)
	return bleve.NewConjunctionQuery(titleQ, authorMatch)
}

func (t *TextIndex) search(ctx context.Context, q query.Query) (string, error) {
	req := bleve.NewSearchRequestOptions(q, 1, 0, false)

	result, err := t.index.SearchInContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("execute match query: %w", err)
	}
	if len(result.Hits) == 0 {
		return "", errors.NotFound("no matching book")
	}
	return result.Hits[0].ID, nil
}
