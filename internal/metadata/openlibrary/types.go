package openlibrary

import (
	"encoding/json/v2"
	"fmt"
	"strings"

	"github.com/stacksapp/stacks-server/internal/domain"
	"github.com/stacksapp/stacks-server/internal/normalize"
)

// Edition is the subset of an Open Library edition record we consume.
type Edition struct {
	Title         string        `json:"title"`
	Subtitle      string        `json:"subtitle,omitempty"`
	Publishers    []string      `json:"publishers,omitempty"`
	PublishDate   string        `json:"publish_date,omitempty"`
	NumberOfPages int           `json:"number_of_pages,omitempty"`
	ISBN10        []string      `json:"isbn_10,omitempty"`
	ISBN13        []string      `json:"isbn_13,omitempty"`
	Covers        []int64       `json:"covers,omitempty"`
	Languages     []keyRef      `json:"languages,omitempty"`
	Authors       []keyRef      `json:"authors,omitempty"`
	Description   textOrWrapped `json:"description,omitempty"`

	// AuthorNames is filled by the client via author lookups; the edition
	// record itself only carries author keys.
	AuthorNames []string `json:"-"`
}

// keyRef is Open Library's `{"key": "/authors/OL23919A"}` reference shape.
type keyRef struct {
	Key string `json:"key"`
}

// textOrWrapped handles Open Library's polymorphic text fields, which are
// either a bare string or `{"type": ..., "value": "..."}`.
type textOrWrapped struct {
	Value string
}

func (t *textOrWrapped) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.Value = s
		return nil
	}

	var wrapped struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return fmt.Errorf("decode text field: %w", err)
	}
	t.Value = wrapped.Value
	return nil
}

// authorRecord is the subset of an author record we consume.
type authorRecord struct {
	Name string `json:"name"`
}

// searchResponse is the raw /search.json response.
type searchResponse struct {
	NumFound int         `json:"numFound"`
	Docs     []SearchDoc `json:"docs"`
}

// SearchDoc is one search result document.
type SearchDoc struct {
	Title            string   `json:"title"`
	Subtitle         string   `json:"subtitle,omitempty"`
	AuthorName       []string `json:"author_name,omitempty"`
	FirstPublishYear int      `json:"first_publish_year,omitempty"`
	ISBN             []string `json:"isbn,omitempty"`
	CoverID          int64    `json:"cover_i,omitempty"`
	Language         []string `json:"language,omitempty"`
	Publisher        []string `json:"publisher,omitempty"`
	EditionKey       []string `json:"edition_key,omitempty"`
	NumberOfPages    int      `json:"number_of_pages_median,omitempty"`
}

// Record converts an edition to a canonical record.
func (e *Edition) Record() *domain.CanonicalRecord {
	rec := &domain.CanonicalRecord{
		Title:           strings.TrimSpace(e.Title),
		Subtitle:        strings.TrimSpace(e.Subtitle),
		Description:     normalize.DescriptionMarkdown(e.Description.Value),
		PageCount:       e.NumberOfPages,
		PublishYear:     publishYear(e.PublishDate),
		PrimaryProvider: ProviderName,
		Providers:       []string{ProviderName},
	}

	if len(e.Publishers) > 0 {
		rec.Publisher = e.Publishers[0]
	}

	for _, lang := range e.Languages {
		// "/languages/eng" -> "en"
		if code := normalize.LanguageCode(strings.TrimPrefix(lang.Key, "/languages/")); code != "" {
			rec.Language = code
			break
		}
	}

	for _, name := range e.AuthorNames {
		rec.Contributors = append(rec.Contributors, domain.Contributor{
			Name: name,
			Role: domain.RoleAuthor,
		})
	}

	for _, isbn := range e.ISBN13 {
		if v := normalize.ISBN(isbn); v != "" {
			rec.Identifiers = append(rec.Identifiers, domain.Identifier{Type: "isbn_13", Value: v})
		}
	}
	for _, isbn := range e.ISBN10 {
		if v := normalize.ISBN(isbn); v != "" {
			rec.Identifiers = append(rec.Identifiers, domain.Identifier{Type: "isbn_10", Value: v})
		}
	}

	if len(e.Covers) > 0 && e.Covers[0] > 0 {
		rec.CoverURL = coverURL(e.Covers[0])
	}

	return rec
}

// Record converts a search document to a canonical record.
func (d *SearchDoc) Record() *domain.CanonicalRecord {
	rec := &domain.CanonicalRecord{
		Title:           strings.TrimSpace(d.Title),
		Subtitle:        strings.TrimSpace(d.Subtitle),
		PageCount:       d.NumberOfPages,
		PrimaryProvider: ProviderName,
		Providers:       []string{ProviderName},
	}

	if d.FirstPublishYear > 0 {
		rec.PublishYear = fmt.Sprintf("%d", d.FirstPublishYear)
	}

	if len(d.Publisher) > 0 {
		rec.Publisher = d.Publisher[0]
	}

	for _, lang := range d.Language {
		if code := normalize.LanguageCode(lang); code != "" {
			rec.Language = code
			break
		}
	}

	for _, name := range d.AuthorName {
		rec.Contributors = append(rec.Contributors, domain.Contributor{
			Name: name,
			Role: domain.RoleAuthor,
		})
	}

	// Search docs list every ISBN of every edition; keep a bounded sample.
	const maxISBNs = 4
	for _, isbn := range d.ISBN {
		if len(rec.Identifiers) >= maxISBNs {
			break
		}
		v := normalize.ISBN(isbn)
		if v == "" {
			continue
		}
		idType := "isbn_10"
		if len(v) == 13 {
			idType = "isbn_13"
		}
		rec.Identifiers = append(rec.Identifiers, domain.Identifier{Type: idType, Value: v})
	}

	if d.CoverID > 0 {
		rec.CoverURL = coverURL(d.CoverID)
	}

	return rec
}

// coverURL builds the large-size cover image URL for a cover ID.
func coverURL(id int64) string {
	return fmt.Sprintf("%s/b/id/%d-L.jpg", coversBaseURL, id)
}

// publishYear extracts the year from Open Library's loose publish_date
// strings ("1974", "May 1974", "May 13, 1974").
func publishYear(date string) string {
	fields := strings.FieldsFunc(date, func(r rune) bool {
		return r < '0' || r > '9'
	})
	for _, f := range fields {
		if len(f) == 4 {
			return f
		}
	}
	return ""
}
