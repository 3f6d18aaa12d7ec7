package enrich

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacksapp/stacks-server/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeProvider is a scriptable Provider for resolver tests.
type fakeProvider struct {
	name        string
	lookup      func(isbn string) (*domain.CanonicalRecord, error)
	search      func(title, author string) ([]*domain.CanonicalRecord, error)
	lookupCalls atomic.Int64
	searchCalls atomic.Int64
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) LookupIdentifier(_ context.Context, isbn string) (*domain.CanonicalRecord, error) {
	f.lookupCalls.Add(1)
	if f.lookup == nil {
		return nil, ErrNoMatch
	}
	return f.lookup(isbn)
}

func (f *fakeProvider) SearchText(_ context.Context, title, author string) ([]*domain.CanonicalRecord, error) {
	f.searchCalls.Add(1)
	if f.search == nil {
		return nil, ErrNoMatch
	}
	return f.search(title, author)
}

func record(provider, title, author string) *domain.CanonicalRecord {
	rec := &domain.CanonicalRecord{
		Title:           title,
		PrimaryProvider: provider,
		Providers:       []string{provider},
	}
	if author != "" {
		rec.Contributors = []domain.Contributor{{Name: author, Role: domain.RoleAuthor}}
	}
	return rec
}

func TestResolver_IdentifierFirstHitWins(t *testing.T) {
	primary := &fakeProvider{
		name: "primary",
		lookup: func(isbn string) (*domain.CanonicalRecord, error) {
			assert.Equal(t, "9780441478125", isbn)
			return record("primary", "The Left Hand of Darkness", "Ursula K. Le Guin"), nil
		},
	}
	fallback := &fakeProvider{name: "fallback"}

	r := NewResolver([]Provider{primary, fallback}, 0.55, testLogger())

	rec := r.Resolve(context.Background(), domain.QueryItem{
		Identifier: "978-0-441-47812-5",
		StableID:   "book-7",
	})

	require.NotNil(t, rec)
	assert.False(t, rec.Synthetic)
	assert.Equal(t, "primary", rec.PrimaryProvider)
	assert.Equal(t, "book-7", rec.StableID)
	assert.Zero(t, fallback.lookupCalls.Load(), "fallback should not be consulted")
}

func TestResolver_IdentifierFallback(t *testing.T) {
	primary := &fakeProvider{
		name: "primary",
		lookup: func(string) (*domain.CanonicalRecord, error) {
			return nil, ErrNoMatch
		},
	}
	fallback := &fakeProvider{
		name: "fallback",
		lookup: func(string) (*domain.CanonicalRecord, error) {
			return record("fallback", "The Left Hand of Darkness", ""), nil
		},
	}

	r := NewResolver([]Provider{primary, fallback}, 0.55, testLogger())

	rec := r.Resolve(context.Background(), domain.QueryItem{Identifier: "9780441478125"})

	require.NotNil(t, rec)
	assert.False(t, rec.Synthetic)
	assert.Equal(t, "fallback", rec.PrimaryProvider)
}

func TestResolver_MalformedIdentifierSynthesizes(t *testing.T) {
	primary := &fakeProvider{name: "primary"}

	r := NewResolver([]Provider{primary}, 0.55, testLogger())

	rec := r.Resolve(context.Background(), domain.QueryItem{Identifier: "not-a-real-isbn"})

	require.NotNil(t, rec)
	assert.True(t, rec.Synthetic)
	assert.Zero(t, primary.lookupCalls.Load(), "no provider call for malformed identifier")
}

func TestResolver_TextAcceptsAboveThreshold(t *testing.T) {
	primary := &fakeProvider{
		name: "primary",
		search: func(title, author string) ([]*domain.CanonicalRecord, error) {
			return []*domain.CanonicalRecord{
				record("primary", "Completely Unrelated Work", "Somebody Else"),
				record("primary", "The Dispossessed", "Ursula K. Le Guin"),
			}, nil
		},
	}

	r := NewResolver([]Provider{primary}, 0.55, testLogger())

	rec := r.Resolve(context.Background(), domain.QueryItem{
		Title:  "The Dispossessed",
		Author: "Ursula K. Le Guin",
	})

	require.NotNil(t, rec)
	assert.False(t, rec.Synthetic)
	assert.Equal(t, "The Dispossessed", rec.Title)
}

func TestResolver_TextFallbackAndMergeUnion(t *testing.T) {
	// Primary returns data below threshold; fallback clears it. The
	// accepted record unions the primary's contributors and identifiers.
	primary := &fakeProvider{
		name: "primary",
		search: func(title, author string) ([]*domain.CanonicalRecord, error) {
			below := record("primary", "Some Other Book Entirely", "A Translator Person")
			below.Identifiers = []domain.Identifier{{Type: "isbn_10", Value: "0061054887"}}
			return []*domain.CanonicalRecord{below}, nil
		},
	}
	fallback := &fakeProvider{
		name: "fallback",
		search: func(title, author string) ([]*domain.CanonicalRecord, error) {
			good := record("fallback", "The Dispossessed", "Ursula K. Le Guin")
			good.Identifiers = []domain.Identifier{{Type: "isbn_13", Value: "9780061054884"}}
			return []*domain.CanonicalRecord{good}, nil
		},
	}

	r := NewResolver([]Provider{primary, fallback}, 0.55, testLogger())

	rec := r.Resolve(context.Background(), domain.QueryItem{
		Title:  "The Dispossessed",
		Author: "Ursula K. Le Guin",
	})

	require.NotNil(t, rec)
	assert.False(t, rec.Synthetic)
	assert.Equal(t, "fallback", rec.PrimaryProvider)

	// Union of both providers' contributors and identifiers
	assert.Len(t, rec.Contributors, 2)
	assert.Len(t, rec.Identifiers, 2)
	assert.ElementsMatch(t, []string{"fallback", "primary"}, rec.Providers)
}

func TestResolver_AllProvidersFailSynthesizes(t *testing.T) {
	broken := &fakeProvider{
		name: "broken",
		search: func(string, string) ([]*domain.CanonicalRecord, error) {
			return nil, &ProviderError{Provider: "broken", Op: "search", Retryable: true, Err: errors.New("timeout")}
		},
	}

	r := NewResolver([]Provider{broken}, 0.55, testLogger())

	rec := r.Resolve(context.Background(), domain.QueryItem{
		Title:    "The Dispossessed",
		Author:   "Ursula K. Le Guin",
		StableID: "book-9",
	})

	require.NotNil(t, rec)
	assert.True(t, rec.Synthetic)
	assert.Equal(t, "The Dispossessed", rec.Title)
	assert.Equal(t, "book-9", rec.StableID)
}

func TestResolver_BelowThresholdEverywhereSynthesizes(t *testing.T) {
	vague := &fakeProvider{
		name: "vague",
		search: func(string, string) ([]*domain.CanonicalRecord, error) {
			return []*domain.CanonicalRecord{record("vague", "Nothing Alike Whatsoever", "Unrelated Person")}, nil
		},
	}

	r := NewResolver([]Provider{vague}, 0.55, testLogger())

	rec := r.Resolve(context.Background(), domain.QueryItem{
		Title:  "The Dispossessed",
		Author: "Ursula K. Le Guin",
	})

	require.NotNil(t, rec)
	assert.True(t, rec.Synthetic)
}

func TestResolver_ImageWithHintsUsesTextPath(t *testing.T) {
	primary := &fakeProvider{
		name: "primary",
		search: func(title, author string) ([]*domain.CanonicalRecord, error) {
			assert.Equal(t, "Piranesi", title)
			return []*domain.CanonicalRecord{record("primary", "Piranesi", "Susanna Clarke")}, nil
		},
	}

	r := NewResolver([]Provider{primary}, 0.55, testLogger())

	rec := r.Resolve(context.Background(), domain.QueryItem{
		ImageRef: "img-42",
		Title:    "Piranesi", // OCR hint
		Author:   "Susanna Clarke",
	})

	require.NotNil(t, rec)
	assert.False(t, rec.Synthetic)
}

func TestResolver_ImageWithoutHintsSynthesizesImmediately(t *testing.T) {
	primary := &fakeProvider{name: "primary"}

	r := NewResolver([]Provider{primary}, 0.55, testLogger())

	rec := r.Resolve(context.Background(), domain.QueryItem{ImageRef: "img-42"})

	require.NotNil(t, rec)
	assert.True(t, rec.Synthetic)
	assert.Zero(t, primary.searchCalls.Load())
}

func TestResolver_CanceledContextSynthesizes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	primary := &fakeProvider{
		name: "primary",
		search: func(string, string) ([]*domain.CanonicalRecord, error) {
			return []*domain.CanonicalRecord{record("primary", "Piranesi", "")}, nil
		},
	}

	r := NewResolver([]Provider{primary}, 0.55, testLogger())

	rec := r.Resolve(ctx, domain.QueryItem{Title: "Piranesi"})

	require.NotNil(t, rec)
	assert.True(t, rec.Synthetic)
	assert.Zero(t, primary.searchCalls.Load())
}

func TestStringSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"dispossessed", "dispossessed", 1.0, 1.0},
		{"dispossessed", "dispossesed", 0.85, 0.99},
		{"dispossessed", "zzzzzz", 0.0, 0.2},
		{"", "anything", 0.0, 0.0},
		// Rune scoring: two of four characters differ. Byte scoring would
		// report 0.75 because Cyrillic characters share UTF-8 lead bytes.
		{"мама", "папа", 0.5, 0.5},
		{"吾輩は猫である", "吾輩は猫である", 1.0, 1.0},
	}

	for _, tt := range tests {
		sim := stringSimilarity(tt.a, tt.b)
		assert.GreaterOrEqual(t, sim, tt.min, "%q vs %q", tt.a, tt.b)
		assert.LessOrEqual(t, sim, tt.max, "%q vs %q", tt.a, tt.b)
	}
}

func TestScoreCandidate_AuthorBreaksTies(t *testing.T) {
	item := domain.QueryItem{Title: "Collected Stories", Author: "Ursula K. Le Guin"}

	right := record("p", "Collected Stories", "Ursula K. Le Guin")
	wrong := record("p", "Collected Stories", "A Completely Different Novelist")

	assert.Greater(t, scoreCandidate(right, item), scoreCandidate(wrong, item))
}
