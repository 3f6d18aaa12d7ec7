package store

import (
	"context"
	"crypto/subtle"
	"encoding/json/v2"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/stacksapp/stacks-server/internal/domain"
	"github.com/stacksapp/stacks-server/internal/errors"
)

// CreateJob persists a new enrichment job.
// Returns a conflict error if a job with this ID already exists.
func (s *Store) CreateJob(ctx context.Context, job *domain.EnrichmentJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	key := buildKey(jobPrefix, job.ID)
	defer releaseKey(key)

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return errors.Conflictf("job %s already exists", job.ID)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check existing: %w", err)
		}

		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("set job: %w", err)
		}

		return s.setJobStatusIndex(txn, job)
	})
}

// GetJob retrieves a job by ID, enforcing the retention window.
// A job whose retention has elapsed reports expired, which is distinct
// from a job that never existed.
func (s *Store) GetJob(ctx context.Context, id string) (*domain.EnrichmentJob, error) {
	job, err := s.getJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Expired(time.Now()) {
		return nil, errors.Expiredf("job %s results are no longer retained", id)
	}
	return job, nil
}

// getJob retrieves a job by ID without the retention check. The
// orchestrator and the purge sweep need access to expired records.
func (s *Store) getJob(ctx context.Context, id string) (*domain.EnrichmentJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := buildKey(jobPrefix, id)
	defer releaseKey(key)

	var job domain.EnrichmentJob
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errors.NotFoundf("job %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &job)
		})
	})

	if err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateJob writes a job record and keeps the status index in sync.
// CancelRequested and TokenUsed are merged from the stored record: they
// are written concurrently by RequestCancel and ConsumeToken, only ever
// flip from false to true, and must survive a caller persisting a copy
// read before the flip. The merged flags are also folded back into the
// caller's struct. Returns a not found error if the job does not exist.
func (s *Store) UpdateJob(ctx context.Context, job *domain.EnrichmentJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := buildKey(jobPrefix, job.ID)
	defer releaseKey(key)

	return s.db.Update(func(txn *badger.Txn) error {
		var oldJob domain.EnrichmentJob
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errors.NotFoundf("job %s not found", job.ID)
		}
		if err != nil {
			return fmt.Errorf("get existing: %w", err)
		}

		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &oldJob)
		}); err != nil {
			return fmt.Errorf("unmarshal old job: %w", err)
		}

		if oldJob.CancelRequested {
			job.CancelRequested = true
		}
		if oldJob.TokenUsed {
			job.TokenUsed = true
		}

		if oldJob.Status != job.Status {
			if err := s.deleteJobStatusIndex(txn, &oldJob); err != nil {
				return err
			}
			if err := s.setJobStatusIndex(txn, job); err != nil {
				return err
			}
		}

		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("set job: %w", err)
		}

		return nil
	})
}

// RequestCancel sets the cooperative cancellation flag on a job.
// Idempotent: canceling an already-terminal or already-canceling job is a
// no-op that returns the current job state.
func (s *Store) RequestCancel(ctx context.Context, id string) (*domain.EnrichmentJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := buildKey(jobPrefix, id)
	defer releaseKey(key)

	var job domain.EnrichmentJob
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errors.NotFoundf("job %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}

		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &job)
		}); err != nil {
			return fmt.Errorf("unmarshal job: %w", err)
		}

		if !job.RequestCancel() {
			return nil // Already terminal
		}

		data, err := json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		return txn.Set(key, data)
	})

	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CancelRequested reports whether cancellation has been requested for a
// job. The orchestrator polls this between item dispatches.
func (s *Store) CancelRequested(ctx context.Context, id string) (bool, error) {
	job, err := s.getJob(ctx, id)
	if err != nil {
		return false, err
	}
	return job.CancelRequested, nil
}

// ConsumeToken validates a channel token hash against the job and burns it
// on first use. Returns reconnect=true when the token was already consumed,
// so the caller can apply the reconnect grace window instead of treating
// the attach as a fresh handshake.
func (s *Store) ConsumeToken(ctx context.Context, id, tokenHash string) (reconnect bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	key := buildKey(jobPrefix, id)
	defer releaseKey(key)

	err = s.db.Update(func(txn *badger.Txn) error {
		var job domain.EnrichmentJob
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errors.NotFoundf("job %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}

		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &job)
		}); err != nil {
			return fmt.Errorf("unmarshal job: %w", err)
		}

		if subtle.ConstantTimeCompare([]byte(job.TokenHash), []byte(tokenHash)) != 1 {
			return errors.Unauthorized("invalid channel token")
		}

		if job.TokenUsed {
			reconnect = true
			return nil
		}

		job.TokenUsed = true
		data, err := json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		return txn.Set(key, data)
	})

	if err != nil {
		return false, err
	}
	return reconnect, nil
}

// ListJobs returns all jobs whose retention window has not elapsed,
// newest first.
func (s *Store) ListJobs(ctx context.Context) ([]*domain.EnrichmentJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	var jobs []*domain.EnrichmentJob

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobPrefix)
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(jobPrefix)); it.ValidForPrefix([]byte(jobPrefix)); it.Next() {
			// Skip index keys
			key := string(it.Item().Key())
			if strings.HasPrefix(key[len(jobPrefix):], "idx:") {
				continue
			}

			var job domain.EnrichmentJob
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				return err
			}

			if job.Expired(now) {
				continue
			}
			jobs = append(jobs, &job)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	// Newest first
	slices.SortFunc(jobs, func(a, b *domain.EnrichmentJob) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return jobs, nil
}

// ListJobsByStatus returns all jobs with the given status.
func (s *Store) ListJobsByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.EnrichmentJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	indexPrefix := []byte(jobStatusPrefix + string(status) + ":")
	var jobs []*domain.EnrichmentJob

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = indexPrefix
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(indexPrefix); it.ValidForPrefix(indexPrefix); it.Next() {
			var jobID string
			if err := it.Item().Value(func(val []byte) error {
				jobID = string(val)
				return nil
			}); err != nil {
				return err
			}

			job, err := s.getJob(ctx, jobID)
			if err != nil {
				if errors.Is(err, errors.ErrNotFound) {
					continue
				}
				return err
			}
			jobs = append(jobs, job)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListInterruptedJobs returns jobs that were queued or running when the
// process last stopped. Called once at startup so the orchestrator can
// fail them cleanly instead of leaving clients waiting forever.
func (s *Store) ListInterruptedJobs(ctx context.Context) ([]*domain.EnrichmentJob, error) {
	queued, err := s.ListJobsByStatus(ctx, domain.JobStatusQueued)
	if err != nil {
		return nil, err
	}
	running, err := s.ListJobsByStatus(ctx, domain.JobStatusRunning)
	if err != nil {
		return nil, err
	}
	return append(queued, running...), nil
}

// PurgeExpired deletes jobs and result sets whose retention window has
// elapsed. Returns the number of jobs purged.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var expired []*domain.EnrichmentJob
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobPrefix)
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(jobPrefix)); it.ValidForPrefix([]byte(jobPrefix)); it.Next() {
			key := string(it.Item().Key())
			if strings.HasPrefix(key[len(jobPrefix):], "idx:") {
				continue
			}

			var job domain.EnrichmentJob
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				return err
			}

			if job.Expired(now) {
				expired = append(expired, &job)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, job := range expired {
		resultsKey := buildKey(resultsPrefix, job.ID)
		jobKey := buildKey(jobPrefix, job.ID)
		err := s.db.Update(func(txn *badger.Txn) error {
			if err := s.deleteJobStatusIndex(txn, job); err != nil {
				return err
			}
			if err := txn.Delete(resultsKey); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("delete results: %w", err)
			}
			return txn.Delete(jobKey)
		})
		releaseKey(resultsKey)
		releaseKey(jobKey)
		if err != nil {
			return count, err
		}
		count++
	}

	if count > 0 && s.logger != nil {
		s.logger.Info("purged expired jobs", "count", count)
	}
	return count, nil
}

// Index management helpers

func (s *Store) setJobStatusIndex(txn *badger.Txn, job *domain.EnrichmentJob) error {
	statusKey := jobStatusPrefix + string(job.Status) + ":" + job.ID
	if err := txn.Set([]byte(statusKey), []byte(job.ID)); err != nil {
		return fmt.Errorf("set status index: %w", err)
	}
	return nil
}

func (s *Store) deleteJobStatusIndex(txn *badger.Txn, job *domain.EnrichmentJob) error {
	statusKey := jobStatusPrefix + string(job.Status) + ":" + job.ID
	if err := txn.Delete([]byte(statusKey)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("delete status index: %w", err)
	}
	return nil
}
