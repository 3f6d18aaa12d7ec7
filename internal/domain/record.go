package domain

import "strings"

// ContributorRole classifies a contributor's relationship to a work.
type ContributorRole string

const (
	RoleAuthor      ContributorRole = "author"
	RoleTranslator  ContributorRole = "translator"
	RoleIllustrator ContributorRole = "illustrator"
	RoleEditor      ContributorRole = "editor"
)

// Contributor is one person credited on a canonical record.
type Contributor struct {
	Name string          `json:"name"`
	Role ContributorRole `json:"role"`
}

// Identifier is one external identifier attached to a canonical record.
type Identifier struct {
	Type  string `json:"type"` // "isbn_10", "isbn_13", "openlibrary", "googlebooks"
	Value string `json:"value"`
}

// CanonicalRecord is the normalized, provider-agnostic output of a
// successful resolution. Produced by the resolver, held transiently by the
// orchestrator until delivered; the client owns the persisted copy.
type CanonicalRecord struct {
	Title       string `json:"title"`
	Subtitle    string `json:"subtitle,omitempty"`
	Description string `json:"description,omitempty"` // markdown
	Publisher   string `json:"publisher,omitempty"`
	PublishYear string `json:"publish_year,omitempty"`
	Language    string `json:"language,omitempty"` // ISO 639-1
	PageCount   int    `json:"page_count,omitempty"`

	Contributors []Contributor `json:"contributors,omitempty"`
	Identifiers  []Identifier  `json:"identifiers,omitempty"`

	// CoverURL references cover art at the provider; the client decides
	// whether and when to download it.
	CoverURL string `json:"cover_url,omitempty"`

	// StableID echoes the submitted item's stable client identity so the
	// client can match the result back without text comparison.
	StableID string `json:"stable_id,omitempty"`

	// Synthetic marks a record inferred from the input alone because no
	// provider confirmed a match.
	Synthetic bool `json:"synthetic,omitempty"`

	// Provenance. PrimaryProvider is the first provider to satisfy the
	// acceptance threshold; Providers lists every provider that contributed.
	PrimaryProvider string   `json:"primary_provider,omitempty"`
	Providers       []string `json:"providers,omitempty"`
}

// NewSyntheticRecord builds a minimal record from the input alone.
// Used when all providers fail or disagree below threshold, so the batch
// never silently drops an item.
func NewSyntheticRecord(item QueryItem) *CanonicalRecord {
	rec := &CanonicalRecord{
		Title:     strings.TrimSpace(item.Title),
		StableID:  item.StableID,
		Synthetic: true,
	}
	if rec.Title == "" {
		rec.Title = item.Label()
	}
	if author := strings.TrimSpace(item.Author); author != "" {
		rec.Contributors = []Contributor{{Name: author, Role: RoleAuthor}}
	}
	if item.Identifier != "" {
		rec.Identifiers = []Identifier{{Type: "isbn", Value: item.Identifier}}
	}
	return rec
}

// MergeFrom unions the contributors and identifiers of another provider's
// record into this one. Core fields (title, description, cover) keep the
// receiver's values; only the credited people and identifier sets grow.
func (r *CanonicalRecord) MergeFrom(other *CanonicalRecord) {
	if other == nil {
		return
	}

	for _, c := range other.Contributors {
		if !r.hasContributor(c) {
			r.Contributors = append(r.Contributors, c)
		}
	}

	for _, id := range other.Identifiers {
		if !r.hasIdentifier(id) {
			r.Identifiers = append(r.Identifiers, id)
		}
	}

	for _, p := range other.Providers {
		if !containsString(r.Providers, p) {
			r.Providers = append(r.Providers, p)
		}
	}

	// Fill gaps in optional fields the primary provider left empty.
	if r.Description == "" {
		r.Description = other.Description
	}
	if r.CoverURL == "" {
		r.CoverURL = other.CoverURL
	}
	if r.PublishYear == "" {
		r.PublishYear = other.PublishYear
	}
	if r.Publisher == "" {
		r.Publisher = other.Publisher
	}
	if r.Language == "" {
		r.Language = other.Language
	}
	if r.PageCount == 0 {
		r.PageCount = other.PageCount
	}
}

func (r *CanonicalRecord) hasContributor(c Contributor) bool {
	for _, existing := range r.Contributors {
		if strings.EqualFold(existing.Name, c.Name) && existing.Role == c.Role {
			return true
		}
	}
	return false
}

func (r *CanonicalRecord) hasIdentifier(id Identifier) bool {
	for _, existing := range r.Identifiers {
		if existing.Type == id.Type && existing.Value == id.Value {
			return true
		}
	}
	return false
}

// PrimaryAuthor returns the first author-role contributor's name, or the
// first contributor of any role if no author is credited.
func (r *CanonicalRecord) PrimaryAuthor() string {
	for _, c := range r.Contributors {
		if c.Role == RoleAuthor {
			return c.Name
		}
	}
	if len(r.Contributors) > 0 {
		return r.Contributors[0].Name
	}
	return ""
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
