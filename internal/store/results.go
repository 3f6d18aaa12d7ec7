package store

import (
	"context"
	"encoding/json/v2"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/stacksapp/stacks-server/internal/domain"
	"github.com/stacksapp/stacks-server/internal/errors"
)

// SaveResults persists the resolved record set for a job. Written once by
// the orchestrator when the job finishes; order matches submission order.
func (s *Store) SaveResults(ctx context.Context, jobID string, records []*domain.CanonicalRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}

	key := buildKey(resultsPrefix, jobID)
	defer releaseKey(key)

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// GetResults retrieves a job's result set.
//
// The error distinguishes three cases the client handles differently:
// a job that never existed (not found), a job whose retention window
// elapsed (expired), and a job that has not finished yet (conflict).
func (s *Store) GetResults(ctx context.Context, jobID string) ([]*domain.CanonicalRecord, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Expired(time.Now()) {
		return nil, errors.Expiredf("job %s results are no longer retained", jobID)
	}
	if !job.Status.Terminal() {
		return nil, errors.Conflictf("job %s has not finished", jobID)
	}

	key := buildKey(resultsPrefix, jobID)
	defer releaseKey(key)

	var records []*domain.CanonicalRecord
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errors.NotFoundf("no results for job %s", jobID)
		}
		if err != nil {
			return fmt.Errorf("get results: %w", err)
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &records)
		})
	})

	if err != nil {
		return nil, err
	}
	return records, nil
}
