// Package domain contains the core business entities and domain logic for the Stacks enrichment pipeline.
package domain

import "time"

// JobStatus represents the lifecycle state of an enrichment job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether the status is absorbing. Once a job reaches a
// terminal status it never transitions again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// EnrichmentJob represents one batch-enrichment unit of work.
// A job is created when a batch is submitted and is mutated exclusively by
// the orchestrator instance that owns it for the job's lifetime.
type EnrichmentJob struct {
	ID string `json:"id"`

	// TokenHash is the blake2b digest of the single-use channel auth token.
	// The plaintext token is returned to the submitter once and never stored.
	TokenHash string `json:"token_hash"`

	// TokenUsed is set on the first successful channel attach. Subsequent
	// attaches within the reconnect grace window are treated as reconnects.
	TokenUsed bool `json:"token_used"`

	Status JobStatus `json:"status"`

	TotalItems     int `json:"total_items"`
	ProcessedCount int `json:"processed_count"`
	SyntheticCount int `json:"synthetic_count"`
	FailedCount    int `json:"failed_count"`

	// ProviderCounts tracks how many accepted results each provider
	// contributed as primary. Keyed by provider name.
	ProviderCounts map[string]int `json:"provider_counts,omitempty"`

	// CancelRequested is the cooperative cancellation flag. The orchestrator
	// checks it between item dispatches; in-flight resolutions drain naturally.
	CancelRequested bool `json:"cancel_requested"`

	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ExpiresAt is set when the job reaches a terminal status. Results and
	// summary are retrievable until then; afterwards fetches report expired.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// MarkRunning transitions the job from queued to running.
// Returns false if the job is not queued (terminal states are absorbing).
func (j *EnrichmentJob) MarkRunning() bool {
	if j.Status != JobStatusQueued {
		return false
	}
	j.Status = JobStatusRunning
	now := time.Now()
	j.StartedAt = &now
	return true
}

// SetProcessed updates the processed counter. Counters are monotonic:
// a value lower than the current count is rejected, and the count is
// clamped to TotalItems. Returns false if the update was rejected.
func (j *EnrichmentJob) SetProcessed(n int) bool {
	if j.Status.Terminal() {
		return false
	}
	if n < j.ProcessedCount {
		return false
	}
	if n > j.TotalItems {
		n = j.TotalItems
	}
	j.ProcessedCount = n
	return true
}

// RecordProvider increments the accepted-result counter for a provider.
func (j *EnrichmentJob) RecordProvider(name string) {
	if name == "" {
		return
	}
	if j.ProviderCounts == nil {
		j.ProviderCounts = make(map[string]int)
	}
	j.ProviderCounts[name]++
}

// MarkCompleted transitions the job to completed and starts the retention
// window. No-op if the job is already terminal.
func (j *EnrichmentJob) MarkCompleted(retention time.Duration) bool {
	if j.Status.Terminal() {
		return false
	}
	j.Status = JobStatusCompleted
	j.finish(retention)
	return true
}

// MarkFailed transitions the job to failed with a human-readable reason.
// Only orchestration-level faults fail a job; item-level failures are
// absorbed as synthetic results. No-op if the job is already terminal.
func (j *EnrichmentJob) MarkFailed(reason string, retryable bool, retention time.Duration) bool {
	if j.Status.Terminal() {
		return false
	}
	j.Status = JobStatusFailed
	j.Error = reason
	j.Retryable = retryable
	j.finish(retention)
	return true
}

// MarkCanceled transitions the job to canceled. No-op if already terminal.
func (j *EnrichmentJob) MarkCanceled(retention time.Duration) bool {
	if j.Status.Terminal() {
		return false
	}
	j.Status = JobStatusCanceled
	j.finish(retention)
	return true
}

// RequestCancel sets the cooperative cancellation flag. Idempotent;
// returns false if the job is already terminal (a no-op, not an error).
func (j *EnrichmentJob) RequestCancel() bool {
	if j.Status.Terminal() {
		return false
	}
	j.CancelRequested = true
	return true
}

func (j *EnrichmentJob) finish(retention time.Duration) {
	now := time.Now()
	j.CompletedAt = &now
	expires := now.Add(retention)
	j.ExpiresAt = &expires
}

// Expired reports whether the job's retention window has elapsed.
func (j *EnrichmentJob) Expired(now time.Time) bool {
	return j.ExpiresAt != nil && now.After(*j.ExpiresAt)
}

// Fraction returns the completed fraction of the batch in [0, 1].
func (j *EnrichmentJob) Fraction() float64 {
	if j.TotalItems == 0 {
		return 0
	}
	return float64(j.ProcessedCount) / float64(j.TotalItems)
}
