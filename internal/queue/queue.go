// Package queue implements the client-side enrichment queue: it holds
// pending enrichment requests in priority order, deduplicates by stable
// entity identity, persists its state across restarts, and reconciles
// completed jobs back into local storage.
package queue

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/stacksapp/stacks-server/internal/domain"
	"github.com/stacksapp/stacks-server/internal/errors"
	"github.com/stacksapp/stacks-server/internal/id"
	"github.com/stacksapp/stacks-server/internal/library"
	"github.com/stacksapp/stacks-server/internal/normalize"
)

// Queue is the client enrichment queue. It is constructed explicitly and
// injected where needed; there is no package-level instance.
//
// All mutations are serialized through one mutex, so UI-triggered
// re-prioritization cannot race background draining.
type Queue struct {
	mu    sync.Mutex
	byKey map[string]*domain.QueueEntry
	seq   int64

	persist   Persistence
	library   library.EntityStore
	staleness time.Duration
	logger    *slog.Logger
}

// New creates a queue. staleness is the ceiling after which an in-flight
// job with no terminal status is treated as failed locally.
func New(persist Persistence, lib library.EntityStore, staleness time.Duration, logger *slog.Logger) *Queue {
	return &Queue{
		byKey:     make(map[string]*domain.QueueEntry),
		persist:   persist,
		library:   lib,
		staleness: staleness,
		logger:    logger,
	}
}

// Restore loads persisted entries at startup. Entries referencing local
// records deleted since the last run are discarded, not retried; entries
// left in flight by a crash go back to pending.
func (q *Queue) Restore(ctx context.Context) error {
	entries, err := q.persist.LoadEntries(ctx)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	restored, discarded := 0, 0
	for _, entry := range entries {
		if entry.StableID != "" {
			exists, err := q.library.Exists(ctx, entry.StableID)
			if err != nil {
				return err
			}
			if !exists {
				if err := q.persist.DeleteEntry(ctx, entry.ID); err != nil {
					return err
				}
				discarded++
				continue
			}
		}

		if entry.State == domain.EntryStateInFlight {
			entry.State = domain.EntryStatePending
			entry.JobID = ""
			if err := q.persist.UpdateEntry(ctx, entry); err != nil {
				return err
			}
		}

		q.byKey[entry.DedupKey] = entry
		if entry.Seq > q.seq {
			q.seq = entry.Seq
		}
		restored++
	}

	q.logger.Info("queue restored",
		slog.Int("entries", restored),
		slog.Int("discarded", discarded))
	return nil
}

// Enqueue adds an enrichment request. If an entry with the same dedup key
// already exists, the call re-prioritizes it instead of duplicating;
// the entry's priority always reflects the most recent enqueue.
func (q *Queue) Enqueue(ctx context.Context, item domain.QueryItem, priority int) (*domain.QueueEntry, error) {
	item.InferKind()
	key := dedupKey(item)

	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.byKey[key]; ok {
		if existing.Priority != priority {
			existing.Priority = priority
			if err := q.persist.UpdateEntry(ctx, existing); err != nil {
				return nil, err
			}
		}
		return existing, nil
	}

	entryID, err := id.Generate("qe")
	if err != nil {
		return nil, err
	}

	q.seq++
	entry := &domain.QueueEntry{
		ID:         entryID,
		DedupKey:   key,
		StableID:   item.StableID,
		Item:       item,
		Priority:   priority,
		State:      domain.EntryStatePending,
		EnqueuedAt: time.Now(),
		Seq:        q.seq,
	}

	if err := q.persist.SaveEntry(ctx, entry); err != nil {
		return nil, err
	}
	q.byKey[key] = entry
	return entry, nil
}

// Promote raises an entry to user-visible priority. Called when the user
// opens the underlying entity.
func (q *Queue) Promote(ctx context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.byKey[key]
	if !ok {
		return errors.NotFoundf("no queue entry for key %s", key)
	}
	if entry.Priority == domain.PriorityVisible {
		return nil
	}

	entry.Priority = domain.PriorityVisible
	return q.persist.UpdateEntry(ctx, entry)
}

// Len returns the number of entries, pending and in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byKey)
}

// takeBatch collects up to max pending entries in drain order and marks
// them in flight under jobID="" (assigned after submission). Entries
// whose local record was deleted are invalidated on the way out.
func (q *Queue) takeBatch(ctx context.Context, max int) ([]*domain.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := make([]*domain.QueueEntry, 0, len(q.byKey))
	for _, entry := range q.byKey {
		if entry.State == domain.EntryStatePending {
			pending = append(pending, entry)
		}
	}

	// Priority first, insertion order within a priority band.
	slices.SortFunc(pending, func(a, b *domain.QueueEntry) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		return int(a.Seq - b.Seq)
	})

	var batch []*domain.QueueEntry
	for _, entry := range pending {
		if len(batch) == max {
			break
		}

		if entry.StableID != "" {
			exists, err := q.library.Exists(ctx, entry.StableID)
			if err != nil {
				return nil, err
			}
			if !exists {
				// Underlying record was deleted; skip, never resurrect.
				delete(q.byKey, entry.DedupKey)
				if err := q.persist.DeleteEntry(ctx, entry.ID); err != nil {
					return nil, err
				}
				continue
			}
		}

		entry.State = domain.EntryStateInFlight
		if err := q.persist.UpdateEntry(ctx, entry); err != nil {
			return nil, err
		}
		batch = append(batch, entry)
	}

	return batch, nil
}

// markJob stamps the submitted job's ID onto a batch.
func (q *Queue) markJob(ctx context.Context, batch []*domain.QueueEntry, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, entry := range batch {
		entry.JobID = jobID
		if err := q.persist.UpdateEntry(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// completeJob removes every entry belonging to a finished job.
func (q *Queue) completeJob(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for key, entry := range q.byKey {
		if entry.JobID != jobID {
			continue
		}
		delete(q.byKey, key)
		if err := q.persist.DeleteEntry(ctx, entry.ID); err != nil {
			return err
		}
	}
	return nil
}

// releaseJob clears the in-flight marker for a job that did not complete.
// Retryable failures return entries to pending for the next drain;
// permanent failures discard them.
func (q *Queue) releaseJob(ctx context.Context, jobID string, retryable bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for key, entry := range q.byKey {
		if entry.JobID != jobID {
			continue
		}

		if !retryable {
			delete(q.byKey, key)
			if err := q.persist.DeleteEntry(ctx, entry.ID); err != nil {
				return err
			}
			continue
		}

		entry.State = domain.EntryStatePending
		entry.JobID = ""
		if err := q.persist.UpdateEntry(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// applyRecord reconciles one canonical record into local storage.
// The echoed stable identity is authoritative when present; the text
// fallback only serves records submitted without one, and a record that
// matches nothing is dropped without error.
func (q *Queue) applyRecord(ctx context.Context, rec *domain.CanonicalRecord) error {
	targetID := rec.StableID
	if targetID == "" {
		matched, err := q.library.MatchByText(ctx, rec.Title, rec.PrimaryAuthor())
		if errors.Is(err, errors.ErrNotFound) {
			q.logger.Debug("no local match for record", slog.String("title", rec.Title))
			return nil
		}
		if err != nil {
			return err
		}
		targetID = matched
	}

	err := q.library.ApplyEnrichment(ctx, targetID, rec)
	if errors.Is(err, errors.ErrNotFound) {
		// Record deleted while the job ran; discard, don't retry.
		q.logger.Debug("target record deleted during enrichment", slog.String("stable_id", targetID))
		return nil
	}
	return err
}

// dedupKey derives the logical identity of an item: the stable entity
// identity when present, otherwise a key from the item's own fields.
func dedupKey(item domain.QueryItem) string {
	if item.StableID != "" {
		return item.StableID
	}
	if isbn := normalize.ISBN(item.Identifier); isbn != "" {
		return "isbn:" + isbn
	}
	if item.ImageRef != "" {
		return "image:" + item.ImageRef
	}
	return "text:" + normalize.Title(item.Title) + "|" + normalize.Person(item.Author)
}
