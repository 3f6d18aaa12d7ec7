package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/stacksapp/stacks-server/internal/domain"
	"github.com/stacksapp/stacks-server/internal/errors"
	"github.com/stacksapp/stacks-server/internal/id"
)

func (s *Server) registerJobRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "submitBatch",
		Method:        http.MethodPost,
		Path:          "/api/v1/jobs",
		Summary:       "Submit a batch",
		Description:   "Starts an enrichment job for a batch of query items",
		Tags:          []string{"Jobs"},
		DefaultStatus: http.StatusCreated,
	}, s.handleSubmitBatch)

	huma.Register(s.api, huma.Operation{
		OperationID: "listJobs",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs",
		Summary:     "List jobs",
		Description: "Lists known jobs, newest first, optionally filtered by status",
		Tags:        []string{"Jobs"},
	}, s.handleListJobs)

	huma.Register(s.api, huma.Operation{
		OperationID: "getJobStatus",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs/{jobID}",
		Summary:     "Get job status",
		Description: "Returns the current state of a job, including its summary counters",
		Tags:        []string{"Jobs"},
	}, s.handleGetJobStatus)

	huma.Register(s.api, huma.Operation{
		OperationID: "getJobResults",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs/{jobID}/results",
		Summary:     "Fetch job results",
		Description: "Returns the full canonical-record array of a completed job, valid until the job expires",
		Tags:        []string{"Jobs"},
	}, s.handleGetJobResults)

	huma.Register(s.api, huma.Operation{
		OperationID: "cancelJob",
		Method:      http.MethodPost,
		Path:        "/api/v1/jobs/{jobID}/cancel",
		Summary:     "Cancel a job",
		Description: "Requests cooperative cancellation; idempotent, a no-op on terminal jobs",
		Tags:        []string{"Jobs"},
	}, s.handleCancelJob)
}

// === DTOs ===

type QueryItemRequest struct {
	Kind       string `json:"kind,omitempty" validate:"omitempty,oneof=text identifier image" doc:"Query kind (text, identifier, image), inferred from fields when omitted"`
	Title      string `json:"title,omitempty" validate:"required_without_all=Identifier ImageRef StableID" doc:"Title text or OCR hint"`
	Author     string `json:"author,omitempty" doc:"Author text or OCR hint"`
	Identifier string `json:"identifier,omitempty" doc:"ISBN-like identifier"`
	ImageRef   string `json:"image_ref,omitempty" doc:"Opaque reference to a captured image region"`
	StableID   string `json:"stable_id,omitempty" doc:"Caller's stable record identity, echoed on the result"`
}

type SubmitBatchRequest struct {
	JobID string             `json:"job_id,omitempty" maxLength:"64" doc:"Optional caller-supplied job id"`
	Items []QueryItemRequest `json:"items" minItems:"1" maxItems:"100" validate:"dive" doc:"Query items to resolve"`
}

type SubmitBatchInput struct {
	Body SubmitBatchRequest
}

type SubmitBatchResponse struct {
	JobID      string `json:"job_id" doc:"Job identifier"`
	AuthToken  string `json:"auth_token" doc:"Single-use channel token, not stored server-side"`
	ChannelURL string `json:"channel_url" doc:"Progress stream URL"`
	StatusURL  string `json:"status_url" doc:"Status and summary URL"`
	TotalItems int    `json:"total_items" doc:"Number of items in the batch"`
}

type SubmitBatchOutput struct {
	Body SubmitBatchResponse
}

type JobStatusResponse struct {
	JobID           string           `json:"job_id"`
	Status          domain.JobStatus `json:"status"`
	TotalItems      int              `json:"total_items"`
	ProcessedCount  int              `json:"processed_count"`
	SyntheticCount  int              `json:"synthetic_count"`
	FailedCount     int              `json:"failed_count"`
	ProviderCounts  map[string]int   `json:"provider_counts,omitempty"`
	CancelRequested bool             `json:"cancel_requested,omitempty"`
	Error           string           `json:"error,omitempty"`
	Retryable       bool             `json:"retryable,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	ExpiresAt       *time.Time       `json:"expires_at,omitempty"`
	ResultsURL      string           `json:"results_url,omitempty"`
}

type GetJobStatusInput struct {
	JobID string `path:"jobID" doc:"Job identifier"`
}

type JobStatusOutput struct {
	Body JobStatusResponse
}

type ListJobsInput struct {
	Status string `query:"status" doc:"Optional status filter (queued, running, completed, failed, canceled)"`
}

type ListJobsResponse struct {
	Jobs []JobStatusResponse `json:"jobs"`
}

type ListJobsOutput struct {
	Body ListJobsResponse
}

type GetJobResultsInput struct {
	JobID string `path:"jobID" doc:"Job identifier"`
}

type JobResultsResponse struct {
	JobID   string                    `json:"job_id"`
	Records []*domain.CanonicalRecord `json:"records"`
	Summary domain.JobSummary         `json:"summary"`
}

type JobResultsOutput struct {
	Body JobResultsResponse
}

type CancelJobInput struct {
	JobID string `path:"jobID" doc:"Job identifier"`
}

type CancelJobResponse struct {
	JobID           string           `json:"job_id"`
	Status          domain.JobStatus `json:"status"`
	CancelRequested bool             `json:"cancel_requested"`
}

type CancelJobOutput struct {
	Body CancelJobResponse
}

// === Handlers ===

func (s *Server) handleSubmitBatch(ctx context.Context, input *SubmitBatchInput) (*SubmitBatchOutput, error) {
	// Schema validation (shape, sizes) happens in huma; this pass checks
	// the semantic rules, like every item carrying at least one hint.
	if err := s.validator.Validate(&input.Body); err != nil {
		return nil, err
	}

	items := make([]domain.QueryItem, len(input.Body.Items))
	for i, item := range input.Body.Items {
		items[i] = domain.QueryItem{
			Kind:       domain.QueryKind(item.Kind),
			Title:      item.Title,
			Author:     item.Author,
			Identifier: item.Identifier,
			ImageRef:   item.ImageRef,
			StableID:   item.StableID,
		}
		items[i].InferKind()
	}

	jobID := input.Body.JobID
	if jobID == "" {
		var err error
		jobID, err = id.Generate("job")
		if err != nil {
			return nil, errors.Internal("failed to generate job id").WithCause(err)
		}
	}

	token, digest, err := s.tokens.IssueChannelToken(jobID)
	if err != nil {
		return nil, errors.Internal("failed to issue channel token").WithCause(err)
	}

	job := &domain.EnrichmentJob{
		ID:         jobID,
		TokenHash:  digest,
		Status:     domain.JobStatusQueued,
		TotalItems: len(items),
		CreatedAt:  time.Now(),
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.orchestrator.Enqueue(job, items)

	return &SubmitBatchOutput{
		Body: SubmitBatchResponse{
			JobID:      jobID,
			AuthToken:  token,
			ChannelURL: s.jobURL(jobID) + "/events",
			StatusURL:  s.jobURL(jobID),
			TotalItems: len(items),
		},
	}, nil
}

func (s *Server) handleGetJobStatus(ctx context.Context, input *GetJobStatusInput) (*JobStatusOutput, error) {
	job, err := s.store.GetJob(ctx, input.JobID)
	if err != nil {
		return nil, err
	}

	return &JobStatusOutput{Body: s.mapJobStatus(job)}, nil
}

func (s *Server) handleListJobs(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	var (
		jobs []*domain.EnrichmentJob
		err  error
	)
	if input.Status != "" {
		jobs, err = s.store.ListJobsByStatus(ctx, domain.JobStatus(input.Status))
	} else {
		jobs, err = s.store.ListJobs(ctx)
	}
	if err != nil {
		return nil, err
	}

	resp := make([]JobStatusResponse, len(jobs))
	for i, job := range jobs {
		resp[i] = s.mapJobStatus(job)
	}

	return &ListJobsOutput{Body: ListJobsResponse{Jobs: resp}}, nil
}

func (s *Server) handleGetJobResults(ctx context.Context, input *GetJobResultsInput) (*JobResultsOutput, error) {
	records, err := s.store.GetResults(ctx, input.JobID)
	if err != nil {
		return nil, err
	}

	job, err := s.store.GetJob(ctx, input.JobID)
	if err != nil {
		return nil, err
	}

	return &JobResultsOutput{
		Body: JobResultsResponse{
			JobID:   input.JobID,
			Records: records,
			Summary: job.Summarize(s.jobURL(input.JobID) + "/results"),
		},
	}, nil
}

func (s *Server) handleCancelJob(ctx context.Context, input *CancelJobInput) (*CancelJobOutput, error) {
	job, err := s.store.RequestCancel(ctx, input.JobID)
	if err != nil {
		return nil, err
	}

	return &CancelJobOutput{
		Body: CancelJobResponse{
			JobID:           job.ID,
			Status:          job.Status,
			CancelRequested: job.CancelRequested,
		},
	}, nil
}

// === Mappers ===

func (s *Server) mapJobStatus(job *domain.EnrichmentJob) JobStatusResponse {
	resp := JobStatusResponse{
		JobID:           job.ID,
		Status:          job.Status,
		TotalItems:      job.TotalItems,
		ProcessedCount:  job.ProcessedCount,
		SyntheticCount:  job.SyntheticCount,
		FailedCount:     job.FailedCount,
		ProviderCounts:  job.ProviderCounts,
		CancelRequested: job.CancelRequested,
		Error:           job.Error,
		Retryable:       job.Retryable,
		CreatedAt:       job.CreatedAt,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
		ExpiresAt:       job.ExpiresAt,
	}
	if job.Status == domain.JobStatusCompleted {
		resp.ResultsURL = s.jobURL(job.ID) + "/results"
	}
	return resp
}

func (s *Server) jobURL(jobID string) string {
	return fmt.Sprintf("%s/api/v1/jobs/%s", s.publicURL, jobID)
}
