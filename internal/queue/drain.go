package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/stacksapp/stacks-server/internal/domain"
	"github.com/stacksapp/stacks-server/internal/errors"
	"github.com/stacksapp/stacks-server/internal/progress"
)

// Submitter submits enrichment batches to the server and exposes the
// per-job progress channel. The production implementation talks HTTP and
// SSE; tests substitute an in-process fake.
type Submitter interface {
	// Submit starts a job for the given items and returns its ID plus a
	// channel of progress envelopes. The channel closes when the stream
	// ends, terminal envelope or not.
	Submit(ctx context.Context, items []domain.QueryItem) (jobID string, events <-chan progress.Envelope, err error)

	// FetchResults retrieves the canonical records of a completed job.
	FetchResults(ctx context.Context, jobID string) ([]*domain.CanonicalRecord, error)
}

// ProcessBatch takes one batch off the queue, submits it, and follows the
// job to a terminal state. It returns the number of entries the batch
// contained; zero means the queue had nothing pending.
//
// A job that produces no envelope activity for the staleness window is
// treated as failed locally and its entries return to pending.
func (q *Queue) ProcessBatch(ctx context.Context, submitter Submitter, maxItems int) (int, error) {
	batch, err := q.takeBatch(ctx, maxItems)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	items := make([]domain.QueryItem, len(batch))
	for i, entry := range batch {
		items[i] = entry.Item
	}

	jobID, events, err := submitter.Submit(ctx, items)
	if err != nil {
		// Submission never started a job; everything goes back to pending.
		q.logger.Warn("batch submission failed", slog.Any("error", err))
		if relErr := q.releaseBatch(ctx, batch); relErr != nil {
			return 0, relErr
		}
		return 0, err
	}

	if err := q.markJob(ctx, batch, jobID); err != nil {
		return 0, err
	}

	if err := q.followJob(ctx, submitter, jobID, events); err != nil {
		return len(batch), err
	}
	return len(batch), nil
}

// followJob consumes the progress channel until a terminal envelope, the
// staleness ceiling, or context cancellation.
func (q *Queue) followJob(ctx context.Context, submitter Submitter, jobID string, events <-chan progress.Envelope) error {
	stale := time.NewTimer(q.staleness)
	defer stale.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := q.releaseJob(context.WithoutCancel(ctx), jobID, true); err != nil {
				return err
			}
			return ctx.Err()

		case <-stale.C:
			q.logger.Warn("job exceeded staleness ceiling, requeueing batch",
				slog.String("job_id", jobID),
				slog.Duration("staleness", q.staleness))
			if err := q.releaseJob(ctx, jobID, true); err != nil {
				return err
			}
			return errors.Unavailablef("job %s produced no progress within %s", jobID, q.staleness)

		case env, ok := <-events:
			if !ok {
				// Stream ended without a terminal envelope. Same treatment
				// as staleness: requeue and let the next drain retry.
				if err := q.releaseJob(ctx, jobID, true); err != nil {
					return err
				}
				return errors.Unavailablef("progress channel for job %s closed early", jobID)
			}

			// Any envelope, heartbeats included, resets the ceiling.
			if !stale.Stop() {
				<-stale.C
			}
			stale.Reset(q.staleness)

			switch env.Type {
			case progress.EnvelopeComplete:
				return q.reconcile(ctx, submitter, jobID)

			case progress.EnvelopeError:
				retryable := false
				code := "internal"
				if payload, ok := env.Payload.(progress.ErrorPayload); ok {
					retryable = payload.Retryable
					code = payload.Code
				}
				q.logger.Info("job ended with error",
					slog.String("job_id", jobID),
					slog.String("code", code),
					slog.Bool("retryable", retryable))
				return q.releaseJob(ctx, jobID, retryable)
			}
		}
	}
}

// reconcile fetches the completed job's results and applies each record
// to local storage, then retires the batch.
func (q *Queue) reconcile(ctx context.Context, submitter Submitter, jobID string) error {
	records, err := submitter.FetchResults(ctx, jobID)
	if err != nil {
		if relErr := q.releaseJob(ctx, jobID, true); relErr != nil {
			return relErr
		}
		return err
	}

	for _, rec := range records {
		if err := q.applyRecord(ctx, rec); err != nil {
			return err
		}
	}

	return q.completeJob(ctx, jobID)
}

// releaseBatch returns entries that never got a job ID to pending.
func (q *Queue) releaseBatch(ctx context.Context, batch []*domain.QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, entry := range batch {
		entry.State = domain.EntryStatePending
		entry.JobID = ""
		if err := q.persist.UpdateEntry(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}
