package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob(total int) *EnrichmentJob {
	return &EnrichmentJob{
		ID:         "job-test",
		Status:     JobStatusQueued,
		TotalItems: total,
		CreatedAt:  time.Now(),
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		terminal bool
	}{
		{JobStatusQueued, false},
		{JobStatusRunning, false},
		{JobStatusCompleted, true},
		{JobStatusFailed, true},
		{JobStatusCanceled, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.terminal, tt.status.Terminal(), "status %s", tt.status)
	}
}

func TestEnrichmentJob_MarkRunning(t *testing.T) {
	job := newTestJob(10)

	assert.True(t, job.MarkRunning())
	assert.Equal(t, JobStatusRunning, job.Status)
	require.NotNil(t, job.StartedAt)

	// Already running: no-op
	assert.False(t, job.MarkRunning())
}

func TestEnrichmentJob_SetProcessed_Monotonic(t *testing.T) {
	job := newTestJob(10)
	job.MarkRunning()

	assert.True(t, job.SetProcessed(3))
	assert.Equal(t, 3, job.ProcessedCount)

	// Going backwards is rejected
	assert.False(t, job.SetProcessed(2))
	assert.Equal(t, 3, job.ProcessedCount)

	// Same value is allowed (idempotent re-write)
	assert.True(t, job.SetProcessed(3))
}

func TestEnrichmentJob_SetProcessed_ClampedToTotal(t *testing.T) {
	job := newTestJob(5)
	job.MarkRunning()

	assert.True(t, job.SetProcessed(100))
	assert.Equal(t, 5, job.ProcessedCount)
}

func TestEnrichmentJob_SetProcessed_RejectedWhenTerminal(t *testing.T) {
	job := newTestJob(10)
	job.MarkRunning()
	job.SetProcessed(4)
	job.MarkCompleted(time.Minute)

	assert.False(t, job.SetProcessed(8))
	assert.Equal(t, 4, job.ProcessedCount)
}

func TestEnrichmentJob_TerminalStatesAbsorbing(t *testing.T) {
	job := newTestJob(10)
	job.MarkRunning()
	require.True(t, job.MarkCompleted(time.Minute))

	// All further transitions are no-ops
	assert.False(t, job.MarkFailed("boom", false, time.Minute))
	assert.False(t, job.MarkCanceled(time.Minute))
	assert.False(t, job.MarkCompleted(time.Minute))
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Empty(t, job.Error)
}

func TestEnrichmentJob_MarkFailed(t *testing.T) {
	job := newTestJob(10)
	job.MarkRunning()

	require.True(t, job.MarkFailed("storage unavailable", true, time.Minute))
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "storage unavailable", job.Error)
	assert.True(t, job.Retryable)
	assert.NotNil(t, job.ExpiresAt)
}

func TestEnrichmentJob_RequestCancel(t *testing.T) {
	job := newTestJob(10)
	job.MarkRunning()

	assert.True(t, job.RequestCancel())
	assert.True(t, job.CancelRequested)

	// Idempotent while running
	assert.True(t, job.RequestCancel())

	job.MarkCanceled(time.Minute)

	// No-op once terminal
	assert.False(t, job.RequestCancel())
}

func TestEnrichmentJob_Expired(t *testing.T) {
	job := newTestJob(1)
	job.MarkRunning()

	// Not terminal: never expired
	assert.False(t, job.Expired(time.Now()))

	job.MarkCompleted(30 * time.Minute)
	assert.False(t, job.Expired(time.Now()))
	assert.True(t, job.Expired(time.Now().Add(31*time.Minute)))
}

func TestEnrichmentJob_Fraction(t *testing.T) {
	job := newTestJob(4)
	job.MarkRunning()
	job.SetProcessed(1)
	assert.InDelta(t, 0.25, job.Fraction(), 0.001)

	empty := newTestJob(0)
	assert.Zero(t, empty.Fraction())
}

func TestEnrichmentJob_RecordProvider(t *testing.T) {
	job := newTestJob(3)
	job.RecordProvider("openlibrary")
	job.RecordProvider("openlibrary")
	job.RecordProvider("googlebooks")
	job.RecordProvider("")

	assert.Equal(t, 2, job.ProviderCounts["openlibrary"])
	assert.Equal(t, 1, job.ProviderCounts["googlebooks"])
	assert.Len(t, job.ProviderCounts, 2)
}
