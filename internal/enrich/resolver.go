package enrich

import (
	"context"
	"errors"
	"log/slog"

	"github.com/stacksapp/stacks-server/internal/domain"
	"github.com/stacksapp/stacks-server/internal/normalize"
)

// Resolver fans one query out to providers in a fixed priority order and
// normalizes the first acceptable result into a canonical record.
//
// The resolver never fails an item: when all providers fail or disagree
// below the acceptance threshold, it synthesizes a minimal record from the
// input alone, so a batch never silently drops an item.
type Resolver struct {
	providers []Provider
	threshold float64
	logger    *slog.Logger
}

// NewResolver creates a resolver. Providers are tried in slice order, most
// authoritative first.
func NewResolver(providers []Provider, threshold float64, logger *slog.Logger) *Resolver {
	return &Resolver{
		providers: providers,
		threshold: threshold,
		logger:    logger,
	}
}

// Resolve resolves one query item to a canonical record.
// The submitted item's stable identity is always echoed on the result so
// the client can match it back without text comparison.
func (r *Resolver) Resolve(ctx context.Context, item domain.QueryItem) *domain.CanonicalRecord {
	item.InferKind()

	var rec *domain.CanonicalRecord
	switch item.Kind {
	case domain.QueryKindIdentifier:
		rec = r.resolveIdentifier(ctx, item)
	default:
		// Image queries resolve through the text path using the caller's
		// OCR hints; without hints there is nothing to search for.
		rec = r.resolveText(ctx, item)
	}

	if rec == nil {
		rec = domain.NewSyntheticRecord(item)
	}
	rec.StableID = item.StableID
	return rec
}

// resolveIdentifier tries the exact identifier path on each provider.
// A malformed identifier short-circuits to a synthetic record.
func (r *Resolver) resolveIdentifier(ctx context.Context, item domain.QueryItem) *domain.CanonicalRecord {
	isbn := normalize.ISBN(item.Identifier)
	if isbn == "" {
		r.logger.Debug("malformed identifier, synthesizing",
			"identifier", item.Identifier,
		)
		return nil
	}

	for _, p := range r.providers {
		if ctx.Err() != nil {
			break
		}

		rec, err := p.LookupIdentifier(ctx, isbn)
		if err != nil {
			r.logProviderMiss(p.Name(), "lookup", err)
			continue
		}

		// Identifier lookups are unambiguous: the first hit is accepted.
		return rec
	}

	return nil
}

// resolveText runs fuzzy search against each provider until a candidate
// clears the acceptance threshold. Providers that returned data but no
// acceptable candidate still contribute contributor/identifier unions to
// the accepted record.
func (r *Resolver) resolveText(ctx context.Context, item domain.QueryItem) *domain.CanonicalRecord {
	if !item.HasTextHints() {
		return nil
	}

	var accepted *domain.CanonicalRecord
	var partials []*domain.CanonicalRecord

	for _, p := range r.providers {
		if ctx.Err() != nil {
			break
		}

		candidates, err := p.SearchText(ctx, item.Title, item.Author)
		if err != nil {
			r.logProviderMiss(p.Name(), "search", err)
			continue
		}

		best, bestScore := pickBest(candidates, item)
		if best == nil {
			continue
		}

		if bestScore >= r.threshold {
			accepted = best
			break
		}

		r.logger.Debug("provider candidate below threshold",
			"provider", p.Name(),
			"score", bestScore,
			"title", best.Title,
		)
		partials = append(partials, best)
	}

	return mergePartials(accepted, partials)
}

// pickBest returns the highest-scoring candidate and its score.
func pickBest(candidates []*domain.CanonicalRecord, item domain.QueryItem) (*domain.CanonicalRecord, float64) {
	var best *domain.CanonicalRecord
	bestScore := -1.0
	for _, c := range candidates {
		if score := scoreCandidate(c, item); score > bestScore {
			best = c
			bestScore = score
		}
	}
	return best, bestScore
}

// mergePartials unions contributor and identifier data from providers that
// returned data into the accepted record. The accepted record keeps its
// core fields and remains the primary provider.
func mergePartials(accepted *domain.CanonicalRecord, partials []*domain.CanonicalRecord) *domain.CanonicalRecord {
	if accepted == nil {
		return nil
	}
	for _, partial := range partials {
		accepted.MergeFrom(partial)
	}
	return accepted
}

func (r *Resolver) logProviderMiss(provider, op string, err error) {
	if errors.Is(err, ErrNoMatch) {
		r.logger.Debug("provider returned no match",
			"provider", provider,
			"op", op,
		)
		return
	}

	var provErr *ProviderError
	retryable := errors.As(err, &provErr) && provErr.Retryable
	r.logger.Warn("provider call failed, falling through",
		"provider", provider,
		"op", op,
		"retryable", retryable,
		"error", err,
	)
}
