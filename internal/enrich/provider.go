// Package enrich implements the multi-provider metadata resolver and the
// batch orchestrator that drives it.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stacksapp/stacks-server/internal/domain"
	"github.com/stacksapp/stacks-server/internal/metadata/googlebooks"
	"github.com/stacksapp/stacks-server/internal/metadata/openlibrary"
)

// ErrNoMatch indicates a provider returned no usable result for a query.
// The resolver falls through to the next provider.
var ErrNoMatch = errors.New("enrich: no match")

// Provider wraps one external metadata source behind a uniform contract.
// Implementations are stateless between calls and must respect the context
// deadline; they never block indefinitely.
type Provider interface {
	Name() string

	// LookupIdentifier resolves an exact identifier (canonicalized ISBN).
	// Identifier lookups are unambiguous and bypass similarity scoring.
	LookupIdentifier(ctx context.Context, isbn string) (*domain.CanonicalRecord, error)

	// SearchText runs a fuzzy title/author search and returns candidate
	// records in the provider's relevance order.
	SearchText(ctx context.Context, title, author string) ([]*domain.CanonicalRecord, error)
}

// ProviderError classifies a provider failure for fallback decisions.
type ProviderError struct {
	Provider  string
	Op        string
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// OpenLibraryProvider adapts the Open Library client to the Provider contract.
type OpenLibraryProvider struct {
	client  *openlibrary.Client
	timeout time.Duration
}

// NewOpenLibraryProvider wraps an Open Library client with a per-call timeout.
func NewOpenLibraryProvider(client *openlibrary.Client, timeout time.Duration) *OpenLibraryProvider {
	return &OpenLibraryProvider{client: client, timeout: timeout}
}

func (p *OpenLibraryProvider) Name() string { return openlibrary.ProviderName }

func (p *OpenLibraryProvider) LookupIdentifier(ctx context.Context, isbn string) (*domain.CanonicalRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	edition, err := p.client.LookupISBN(ctx, isbn)
	if err != nil {
		return nil, classify(p.Name(), "lookup", err,
			openlibrary.ErrNotFound, openlibrary.ErrInvalidISBN, openlibrary.ErrBadRequest)
	}
	return edition.Record(), nil
}

func (p *OpenLibraryProvider) SearchText(ctx context.Context, title, author string) ([]*domain.CanonicalRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	docs, err := p.client.Search(ctx, title, author)
	if err != nil {
		return nil, classify(p.Name(), "search", err,
			openlibrary.ErrNotFound, openlibrary.ErrBadRequest)
	}
	if len(docs) == 0 {
		return nil, ErrNoMatch
	}

	records := make([]*domain.CanonicalRecord, 0, len(docs))
	for i := range docs {
		records = append(records, docs[i].Record())
	}
	return records, nil
}

// GoogleBooksProvider adapts the Google Books client to the Provider contract.
type GoogleBooksProvider struct {
	client  *googlebooks.Client
	timeout time.Duration
}

// NewGoogleBooksProvider wraps a Google Books client with a per-call timeout.
func NewGoogleBooksProvider(client *googlebooks.Client, timeout time.Duration) *GoogleBooksProvider {
	return &GoogleBooksProvider{client: client, timeout: timeout}
}

func (p *GoogleBooksProvider) Name() string { return googlebooks.ProviderName }

func (p *GoogleBooksProvider) LookupIdentifier(ctx context.Context, isbn string) (*domain.CanonicalRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	volumes, err := p.client.SearchISBN(ctx, isbn)
	if err != nil {
		return nil, classify(p.Name(), "lookup", err,
			googlebooks.ErrNotFound, googlebooks.ErrBadRequest)
	}
	if len(volumes) == 0 {
		return nil, ErrNoMatch
	}
	return volumes[0].Record(), nil
}

func (p *GoogleBooksProvider) SearchText(ctx context.Context, title, author string) ([]*domain.CanonicalRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	volumes, err := p.client.Search(ctx, title, author)
	if err != nil {
		return nil, classify(p.Name(), "search", err,
			googlebooks.ErrNotFound, googlebooks.ErrBadRequest)
	}
	if len(volumes) == 0 {
		return nil, ErrNoMatch
	}

	records := make([]*domain.CanonicalRecord, 0, len(volumes))
	for i := range volumes {
		records = append(records, volumes[i].Record())
	}
	return records, nil
}

// classify converts a client error into ErrNoMatch or a ProviderError.
// Errors matching any of the terminal sentinels (not found, malformed
// input) mean "this provider has nothing"; everything else is a transport
// or server fault, retryable unless the context expired by cancellation.
func classify(provider, op string, err error, terminal ...error) error {
	for _, sentinel := range terminal {
		if errors.Is(err, sentinel) {
			return ErrNoMatch
		}
	}

	retryable := true
	if errors.Is(err, context.Canceled) {
		retryable = false
	}

	return &ProviderError{
		Provider:  provider,
		Op:        op,
		Retryable: retryable,
		Err:       err,
	}
}
