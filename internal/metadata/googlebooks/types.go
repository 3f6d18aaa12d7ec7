package googlebooks

import (
	"strings"

	"github.com/stacksapp/stacks-server/internal/domain"
	"github.com/stacksapp/stacks-server/internal/normalize"
)

// volumesResponse is the raw volumes API response.
type volumesResponse struct {
	TotalItems int      `json:"totalItems"`
	Items      []Volume `json:"items,omitempty"`
}

// Volume is one result from the volumes API.
type Volume struct {
	ID         string     `json:"id"`
	VolumeInfo VolumeInfo `json:"volumeInfo"`
}

// VolumeInfo carries the metadata fields of a volume.
type VolumeInfo struct {
	Title               string               `json:"title"`
	Subtitle            string               `json:"subtitle,omitempty"`
	Authors             []string             `json:"authors,omitempty"`
	Publisher           string               `json:"publisher,omitempty"`
	PublishedDate       string               `json:"publishedDate,omitempty"` // "1974", "1974-05", "1974-05-13"
	Description         string               `json:"description,omitempty"`
	IndustryIdentifiers []IndustryIdentifier `json:"industryIdentifiers,omitempty"`
	PageCount           int                  `json:"pageCount,omitempty"`
	Language            string               `json:"language,omitempty"`
	ImageLinks          *ImageLinks          `json:"imageLinks,omitempty"`
}

// IndustryIdentifier is one identifier attached to a volume.
type IndustryIdentifier struct {
	Type       string `json:"type"` // "ISBN_10", "ISBN_13", "OTHER"
	Identifier string `json:"identifier"`
}

// ImageLinks carries cover image URLs at various sizes.
type ImageLinks struct {
	SmallThumbnail string `json:"smallThumbnail,omitempty"`
	Thumbnail      string `json:"thumbnail,omitempty"`
}

// Record converts a volume to a canonical record.
func (v *Volume) Record() *domain.CanonicalRecord {
	info := v.VolumeInfo

	rec := &domain.CanonicalRecord{
		Title:           strings.TrimSpace(info.Title),
		Subtitle:        strings.TrimSpace(info.Subtitle),
		Description:     normalize.DescriptionMarkdown(info.Description),
		Publisher:       info.Publisher,
		PublishYear:     publishYear(info.PublishedDate),
		Language:        normalize.LanguageCode(info.Language),
		PageCount:       info.PageCount,
		PrimaryProvider: ProviderName,
		Providers:       []string{ProviderName},
	}

	for _, author := range info.Authors {
		rec.Contributors = append(rec.Contributors, domain.Contributor{
			Name: author,
			Role: domain.RoleAuthor,
		})
	}

	for _, id := range info.IndustryIdentifiers {
		value := normalize.ISBN(id.Identifier)
		switch id.Type {
		case "ISBN_13":
			if value != "" {
				rec.Identifiers = append(rec.Identifiers, domain.Identifier{Type: "isbn_13", Value: value})
			}
		case "ISBN_10":
			if value != "" {
				rec.Identifiers = append(rec.Identifiers, domain.Identifier{Type: "isbn_10", Value: value})
			}
		}
	}
	if v.ID != "" {
		rec.Identifiers = append(rec.Identifiers, domain.Identifier{Type: "googlebooks", Value: v.ID})
	}

	if info.ImageLinks != nil {
		cover := info.ImageLinks.Thumbnail
		if cover == "" {
			cover = info.ImageLinks.SmallThumbnail
		}
		// The API hands out http:// URLs; upgrade them.
		rec.CoverURL = strings.Replace(cover, "http://", "https://", 1)
	}

	return rec
}

// publishYear extracts the year from an ISO-ish published date.
func publishYear(date string) string {
	if len(date) >= 4 {
		year := date[:4]
		for _, r := range year {
			if r < '0' || r > '9' {
				return ""
			}
		}
		return year
	}
	return ""
}
