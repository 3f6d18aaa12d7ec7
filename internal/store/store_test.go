package store

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacksapp/stacks-server/internal/domain"
	"github.com/stacksapp/stacks-server/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := New(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func newTestJob(id string) *domain.EnrichmentJob {
	return &domain.EnrichmentJob{
		ID:         id,
		TokenHash:  "hash-" + id,
		Status:     domain.JobStatusQueued,
		TotalItems: 10,
		CreatedAt:  time.Now(),
	}
}

func TestStore_CreateAndGetJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("job-1")
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.ID)
	assert.Equal(t, domain.JobStatusQueued, got.Status)
	assert.Equal(t, 10, got.TotalItems)
}

func TestStore_CreateJob_Duplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, newTestJob("job-1")))

	err := s.CreateJob(ctx, newTestJob("job-1"))
	assert.ErrorIs(t, err, errors.ErrConflict)
}

func TestStore_GetJob_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetJob(context.Background(), "job-missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestStore_GetJob_Expired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("job-1")
	job.MarkRunning()
	job.MarkCompleted(-time.Minute) // Retention already elapsed
	require.NoError(t, s.CreateJob(ctx, job))

	_, err := s.GetJob(ctx, "job-1")
	assert.ErrorIs(t, err, errors.ErrExpired)
	assert.NotErrorIs(t, err, errors.ErrNotFound)
}

func TestStore_UpdateJob_MovesStatusIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("job-1")
	require.NoError(t, s.CreateJob(ctx, job))

	job.MarkRunning()
	require.NoError(t, s.UpdateJob(ctx, job))

	queued, err := s.ListJobsByStatus(ctx, domain.JobStatusQueued)
	require.NoError(t, err)
	assert.Empty(t, queued)

	running, err := s.ListJobsByStatus(ctx, domain.JobStatusRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "job-1", running[0].ID)
}

func TestStore_UpdateJob_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateJob(context.Background(), newTestJob("job-missing"))
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestStore_RequestCancel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, newTestJob("job-1")))

	job, err := s.RequestCancel(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, job.CancelRequested)

	requested, err := s.CancelRequested(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, requested)

	// Second cancel is a no-op, not an error
	job, err = s.RequestCancel(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, job.CancelRequested)
}

func TestStore_UpdateJob_PreservesCancelFlag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("job-1")
	require.NoError(t, s.CreateJob(ctx, job))

	// The orchestrator holds a copy from before the cancel arrived.
	stale := *job
	stale.MarkRunning()
	stale.SetProcessed(3)

	_, err := s.RequestCancel(ctx, "job-1")
	require.NoError(t, err)

	require.NoError(t, s.UpdateJob(ctx, &stale))

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, got.CancelRequested, "a stale write must not revert the cancel flag")
	assert.Equal(t, 3, got.ProcessedCount)
	assert.True(t, stale.CancelRequested, "merged flag is folded back into the caller's copy")
}

func TestStore_UpdateJob_PreservesTokenBurn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("job-1")
	require.NoError(t, s.CreateJob(ctx, job))

	stale := *job
	stale.MarkRunning()

	reconnect, err := s.ConsumeToken(ctx, "job-1", "hash-job-1")
	require.NoError(t, err)
	require.False(t, reconnect)

	require.NoError(t, s.UpdateJob(ctx, &stale))

	// The client reconnecting after a progress write must still be
	// recognized as a reconnect, not a fresh handshake.
	reconnect, err = s.ConsumeToken(ctx, "job-1", "hash-job-1")
	require.NoError(t, err)
	assert.True(t, reconnect, "a stale write must not revert the token burn")
}

func TestStore_RequestCancel_TerminalJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("job-1")
	job.MarkRunning()
	job.MarkCompleted(time.Hour)
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.RequestCancel(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.False(t, got.CancelRequested)
}

func TestStore_ConsumeToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, newTestJob("job-1")))

	// Wrong hash is rejected
	_, err := s.ConsumeToken(ctx, "job-1", "wrong-hash")
	assert.ErrorIs(t, err, errors.ErrUnauthorized)

	// First use burns the token
	reconnect, err := s.ConsumeToken(ctx, "job-1", "hash-job-1")
	require.NoError(t, err)
	assert.False(t, reconnect)

	// Second use with the same hash is a reconnect
	reconnect, err = s.ConsumeToken(ctx, "job-1", "hash-job-1")
	require.NoError(t, err)
	assert.True(t, reconnect)
}

func TestStore_Results_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("job-1")
	require.NoError(t, s.CreateJob(ctx, job))

	// Results are not available while the job is still running
	_, err := s.GetResults(ctx, "job-1")
	assert.ErrorIs(t, err, errors.ErrConflict)

	records := []*domain.CanonicalRecord{
		{Title: "The Dispossessed", StableID: "book-1"},
		{Title: "Piranesi", StableID: "book-2", Synthetic: true},
	}
	require.NoError(t, s.SaveResults(ctx, "job-1", records))

	job.MarkRunning()
	job.MarkCompleted(time.Hour)
	require.NoError(t, s.UpdateJob(ctx, job))

	got, err := s.GetResults(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "The Dispossessed", got[0].Title)
	assert.True(t, got[1].Synthetic)
}

func TestStore_GetResults_Expired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob("job-1")
	job.MarkRunning()
	job.MarkCompleted(-time.Minute)
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.SaveResults(ctx, "job-1", []*domain.CanonicalRecord{{Title: "X"}}))

	_, err := s.GetResults(ctx, "job-1")
	assert.ErrorIs(t, err, errors.ErrExpired)
}

func TestStore_GetResults_NeverExisted(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetResults(context.Background(), "job-missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestStore_ListJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := newTestJob("job-older")
	older.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, s.CreateJob(ctx, older))

	newer := newTestJob("job-newer")
	require.NoError(t, s.CreateJob(ctx, newer))

	expired := newTestJob("job-expired")
	expired.MarkRunning()
	expired.MarkCompleted(-time.Minute)
	require.NoError(t, s.CreateJob(ctx, expired))

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2, "expired jobs are excluded")
	assert.Equal(t, "job-newer", jobs[0].ID)
	assert.Equal(t, "job-older", jobs[1].ID)
}

func TestStore_ListInterruptedJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	queued := newTestJob("job-queued")
	require.NoError(t, s.CreateJob(ctx, queued))

	running := newTestJob("job-running")
	running.MarkRunning()
	require.NoError(t, s.CreateJob(ctx, running))

	done := newTestJob("job-done")
	done.MarkRunning()
	done.MarkCompleted(time.Hour)
	require.NoError(t, s.CreateJob(ctx, done))

	interrupted, err := s.ListInterruptedJobs(ctx)
	require.NoError(t, err)
	require.Len(t, interrupted, 2)

	ids := []string{interrupted[0].ID, interrupted[1].ID}
	assert.ElementsMatch(t, []string{"job-queued", "job-running"}, ids)
}

func TestStore_PurgeExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	expired := newTestJob("job-expired")
	expired.MarkRunning()
	expired.MarkCompleted(-time.Minute)
	require.NoError(t, s.CreateJob(ctx, expired))
	require.NoError(t, s.SaveResults(ctx, "job-expired", []*domain.CanonicalRecord{{Title: "X"}}))

	alive := newTestJob("job-alive")
	require.NoError(t, s.CreateJob(ctx, alive))

	count, err := s.PurgeExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Purged job is now indistinguishable from one that never existed
	_, err = s.GetJob(ctx, "job-expired")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, err = s.GetJob(ctx, "job-alive")
	assert.NoError(t, err)
}
