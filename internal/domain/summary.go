package domain

import "time"

// JobSummary is the summary-only completion payload: counts and a pointer
// to where full results can be retrieved, never the result array itself.
type JobSummary struct {
	JobID          string         `json:"job_id"`
	Status         JobStatus      `json:"status"`
	TotalItems     int            `json:"total_items"`
	ProcessedCount int            `json:"processed_count"`
	SyntheticCount int            `json:"synthetic_count"`
	FailedCount    int            `json:"failed_count"`
	ProviderCounts map[string]int `json:"provider_counts,omitempty"`
	Error          string         `json:"error,omitempty"`
	Retryable      bool           `json:"retryable,omitempty"`

	// ResultsURL is where the full canonical-record array can be fetched,
	// valid until ExpiresAt.
	ResultsURL string     `json:"results_url,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Summarize builds a summary snapshot of the job's current state.
func (j *EnrichmentJob) Summarize(resultsURL string) JobSummary {
	return JobSummary{
		JobID:          j.ID,
		Status:         j.Status,
		TotalItems:     j.TotalItems,
		ProcessedCount: j.ProcessedCount,
		SyntheticCount: j.SyntheticCount,
		FailedCount:    j.FailedCount,
		ProviderCounts: j.ProviderCounts,
		Error:          j.Error,
		Retryable:      j.Retryable,
		ResultsURL:     resultsURL,
		ExpiresAt:      j.ExpiresAt,
	}
}
