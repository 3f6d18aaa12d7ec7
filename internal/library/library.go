// Package library is the local-entity collaborator consumed by the client
// enrichment queue: it resolves stable identities to local book records
// and applies enrichment fields back onto them.
package library

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stacksapp/stacks-server/internal/domain"
	"github.com/stacksapp/stacks-server/internal/errors"
)

// Book is a local library record owned by the client.
type Book struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Author      string     `json:"author,omitempty"`
	Subtitle    string     `json:"subtitle,omitempty"`
	Description string     `json:"description,omitempty"`
	Publisher   string     `json:"publisher,omitempty"`
	PublishYear string     `json:"publish_year,omitempty"`
	Language    string     `json:"language,omitempty"`
	PageCount   int        `json:"page_count,omitempty"`
	CoverURL    string     `json:"cover_url,omitempty"`
	EnrichedAt  *time.Time `json:"enriched_at,omitempty"`
}

// EntityStore is the queue's view of local storage: fetch by stable
// identity, existence checks for invalidation, enrichment application,
// and the legacy text-matching fallback for records submitted without a
// stable identity.
type EntityStore interface {
	Get(ctx context.Context, id string) (*Book, error)
	Exists(ctx context.Context, id string) (bool, error)

	// ApplyEnrichment writes a canonical record's fields onto the book.
	// The stable identity is authoritative: the record is applied even
	// when its title disagrees with the book's current title.
	ApplyEnrichment(ctx context.Context, id string, rec *domain.CanonicalRecord) error

	// MatchByText finds the local book best matching a title/author pair,
	// case-insensitive exact first, then fuzzy. Returns the book ID or a
	// not found error.
	MatchByText(ctx context.Context, title, author string) (string, error)
}

// MemoryStore is an in-memory EntityStore backed by a text index for the
// fuzzy fallback. It is the client-side implementation used in tests and
// by the embedded queue runtime.
type MemoryStore struct {
	mu    sync.RWMutex
	books map[string]*Book
	index *TextIndex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() (*MemoryStore, error) {
	index, err := NewTextIndex()
	if err != nil {
		return nil, err
	}
	return &MemoryStore{
		books: make(map[string]*Book),
		index: index,
	}, nil
}

// Close releases the text index.
func (m *MemoryStore) Close() error {
	return m.index.Close()
}

// Put inserts or replaces a book and indexes it for text matching.
// Books without an ID are assigned one.
func (m *MemoryStore) Put(ctx context.Context, book *Book) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if book.ID == "" {
		book.ID = uuid.New().String()
	}

	m.mu.Lock()
	m.books[book.ID] = book
	m.mu.Unlock()

	return m.index.Index(book)
}

// Delete removes a book. Queue entries referencing it are invalidated on
// their next dequeue, not resurrected.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.books, id)
	m.mu.Unlock()

	return m.index.Delete(id)
}

// Get implements EntityStore.
func (m *MemoryStore) Get(ctx context.Context, id string) (*Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	book, ok := m.books[id]
	if !ok {
		return nil, errors.NotFoundf("book %s not found", id)
	}
	copied := *book
	return &copied, nil
}

// Exists implements EntityStore.
func (m *MemoryStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.books[id]
	return ok, nil
}

// ApplyEnrichment implements EntityStore.
func (m *MemoryStore) ApplyEnrichment(ctx context.Context, id string, rec *domain.CanonicalRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	book, ok := m.books[id]
	if !ok {
		m.mu.Unlock()
		return errors.NotFoundf("book %s not found", id)
	}

	if rec.Title != "" {
		book.Title = rec.Title
	}
	if author := rec.PrimaryAuthor(); author != "" {
		book.Author = author
	}
	if rec.Subtitle != "" {
		book.Subtitle = rec.Subtitle
	}
	if rec.Description != "" {
		book.Description = rec.Description
	}
	if rec.Publisher != "" {
		book.Publisher = rec.Publisher
	}
	if rec.PublishYear != "" {
		book.PublishYear = rec.PublishYear
	}
	if rec.Language != "" {
		book.Language = rec.Language
	}
	if rec.PageCount > 0 {
		book.PageCount = rec.PageCount
	}
	if rec.CoverURL != "" {
		book.CoverURL = rec.CoverURL
	}
	now := time.Now()
	book.EnrichedAt = &now
	m.mu.Unlock()

	return m.index.Index(book)
}

// MatchByText implements EntityStore.
func (m *MemoryStore) MatchByText(ctx context.Context, title, author string) (string, error) {
	return m.index.Match(ctx, title, author)
}
