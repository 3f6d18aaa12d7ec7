// Package progress defines the job progress channel: the envelope format
// delivered to clients and the hub that fans envelopes out to attached
// listeners.
package progress

import (
	"time"

	"github.com/stacksapp/stacks-server/internal/domain"
)

// EnvelopeType represents the type of a progress envelope.
type EnvelopeType string

const (
	// EnvelopeStarted is sent once when the job begins processing.
	EnvelopeStarted EnvelopeType = "started"
	// EnvelopeProgress carries coalesced counter updates.
	EnvelopeProgress EnvelopeType = "progress"
	// EnvelopeComplete is the final envelope of a successful job. It carries
	// the summary only; full results are fetched separately.
	EnvelopeComplete EnvelopeType = "complete"
	// EnvelopeError is the final envelope of a failed or canceled job.
	EnvelopeError EnvelopeType = "error"
	// EnvelopeReconnected is sent first on a reconnect within the grace
	// window and carries a full state snapshot.
	EnvelopeReconnected EnvelopeType = "reconnected"
	// EnvelopeHeartbeat is a connection keepalive.
	EnvelopeHeartbeat EnvelopeType = "heartbeat"
)

// Envelope is the uniform frame for every event on a progress channel.
type Envelope struct {
	Type      EnvelopeType `json:"type"`
	JobID     string       `json:"job_id"`
	Timestamp time.Time    `json:"timestamp"`
	Payload   any          `json:"payload,omitempty"`
}

// StartedPayload is the payload of a started envelope.
type StartedPayload struct {
	TotalItems int `json:"total_items"`
}

// ProgressPayload is the payload of a progress envelope.
type ProgressPayload struct {
	Processed int     `json:"processed"`
	Total     int     `json:"total"`
	Fraction  float64 `json:"fraction"`
	Synthetic int     `json:"synthetic"`
}

// CompletePayload is the payload of a complete envelope.
type CompletePayload struct {
	Summary *domain.JobSummary `json:"summary"`
}

// ErrorPayload is the payload of an error envelope. Canceled jobs use
// code "canceled" so clients need only one terminal-failure path.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// SnapshotPayload is the payload of a reconnected envelope. It restates
// the job's current state so a reconnecting client can resynchronize
// without replaying missed events.
type SnapshotPayload struct {
	Status    domain.JobStatus `json:"status"`
	Processed int              `json:"processed"`
	Total     int              `json:"total"`
	Synthetic int              `json:"synthetic"`
	Error     string           `json:"error,omitempty"`
}

// NewStarted creates a started envelope.
func NewStarted(jobID string, totalItems int) Envelope {
	return Envelope{
		Type:      EnvelopeStarted,
		JobID:     jobID,
		Timestamp: time.Now(),
		Payload:   StartedPayload{TotalItems: totalItems},
	}
}

// NewProgress creates a progress envelope from the job's counters.
func NewProgress(job *domain.EnrichmentJob) Envelope {
	return Envelope{
		Type:      EnvelopeProgress,
		JobID:     job.ID,
		Timestamp: time.Now(),
		Payload: ProgressPayload{
			Processed: job.ProcessedCount,
			Total:     job.TotalItems,
			Fraction:  job.Fraction(),
			Synthetic: job.SyntheticCount,
		},
	}
}

// NewComplete creates the terminal envelope of a successful job.
func NewComplete(jobID string, summary *domain.JobSummary) Envelope {
	return Envelope{
		Type:      EnvelopeComplete,
		JobID:     jobID,
		Timestamp: time.Now(),
		Payload:   CompletePayload{Summary: summary},
	}
}

// NewError creates the terminal envelope of a failed or canceled job.
func NewError(jobID, code, message string, retryable bool) Envelope {
	return Envelope{
		Type:      EnvelopeError,
		JobID:     jobID,
		Timestamp: time.Now(),
		Payload: ErrorPayload{
			Code:      code,
			Message:   message,
			Retryable: retryable,
		},
	}
}

// NewReconnected creates a reconnected envelope snapshotting the job.
func NewReconnected(job *domain.EnrichmentJob) Envelope {
	return Envelope{
		Type:      EnvelopeReconnected,
		JobID:     job.ID,
		Timestamp: time.Now(),
		Payload: SnapshotPayload{
			Status:    job.Status,
			Processed: job.ProcessedCount,
			Total:     job.TotalItems,
			Synthetic: job.SyntheticCount,
			Error:     job.Error,
		},
	}
}

// NewHeartbeat creates a keepalive envelope.
func NewHeartbeat(jobID string) Envelope {
	return Envelope{
		Type:      EnvelopeHeartbeat,
		JobID:     jobID,
		Timestamp: time.Now(),
	}
}
