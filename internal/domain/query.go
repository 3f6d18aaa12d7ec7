package domain

import "strings"

// QueryKind distinguishes the three input shapes a batch item can take.
type QueryKind string

const (
	QueryKindText       QueryKind = "text"       // title/author pair
	QueryKindIdentifier QueryKind = "identifier" // ISBN-like string
	QueryKindImage      QueryKind = "image"      // captured image region reference
)

// QueryItem is one input unit of a batch submission.
type QueryItem struct {
	Kind QueryKind `json:"kind"`

	Title  string `json:"title,omitempty"`
	Author string `json:"author,omitempty"`

	// Identifier is an ISBN-like string for identifier queries.
	Identifier string `json:"identifier,omitempty"`

	// ImageRef is an opaque reference to a captured image region.
	// Capture and pre-processing happen outside this system; the Title and
	// Author fields carry the caller's OCR hints when present.
	ImageRef string `json:"image_ref,omitempty"`

	// StableID is an opaque, caller-issued reference to the caller's own
	// persistent record, if one already exists. When present it is
	// authoritative for matching results back, taking precedence over any
	// text comparison.
	StableID string `json:"stable_id,omitempty"`
}

// InferKind fills in Kind from the populated fields when the caller
// omitted it. Identifier beats image beats text.
func (q *QueryItem) InferKind() {
	if q.Kind != "" {
		return
	}
	switch {
	case q.Identifier != "":
		q.Kind = QueryKindIdentifier
	case q.ImageRef != "":
		q.Kind = QueryKindImage
	default:
		q.Kind = QueryKindText
	}
}

// HasTextHints reports whether the item carries usable title or author text.
// Image queries without OCR hints cannot be resolved against providers.
func (q QueryItem) HasTextHints() bool {
	return strings.TrimSpace(q.Title) != "" || strings.TrimSpace(q.Author) != ""
}

// Label returns a short human-readable description of the item for
// progress status messages.
func (q QueryItem) Label() string {
	switch {
	case q.Title != "" && q.Author != "":
		return q.Title + " by " + q.Author
	case q.Title != "":
		return q.Title
	case q.Identifier != "":
		return q.Identifier
	case q.ImageRef != "":
		return "captured image"
	default:
		return "untitled item"
	}
}
