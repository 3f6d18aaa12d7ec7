package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json/v2"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacksapp/stacks-server/internal/auth"
	"github.com/stacksapp/stacks-server/internal/domain"
	"github.com/stacksapp/stacks-server/internal/enrich"
	"github.com/stacksapp/stacks-server/internal/progress"
	"github.com/stacksapp/stacks-server/internal/ratelimit"
	"github.com/stacksapp/stacks-server/internal/sse"
	"github.com/stacksapp/stacks-server/internal/store"
)

// echoProvider resolves every query from its input alone, so handler tests
// never touch the network.
type echoProvider struct{}

func (echoProvider) Name() string { return "echo" }

func (echoProvider) LookupIdentifier(_ context.Context, isbn string) (*domain.CanonicalRecord, error) {
	return &domain.CanonicalRecord{
		Title:       "Book " + isbn,
		Identifiers: []domain.Identifier{{Type: "isbn_13", Value: isbn}},
	}, nil
}

func (echoProvider) SearchText(_ context.Context, title, author string) ([]*domain.CanonicalRecord, error) {
	rec := &domain.CanonicalRecord{Title: title}
	if author != "" {
		rec.Contributors = []domain.Contributor{{Name: author, Role: domain.RoleAuthor}}
	}
	return []*domain.CanonicalRecord{rec}, nil
}

type testEnv struct {
	server *httptest.Server
	store  *store.Store
	orch   *enrich.Orchestrator
}

func newTestEnv(t *testing.T, limiter *ratelimit.KeyedRateLimiter) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.New(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	key := make([]byte, 32)
	_, err = rand.Read(key)
	require.NoError(t, err)
	tokens, err := auth.NewTokenService(key, time.Hour)
	require.NoError(t, err)

	hub := progress.NewHub(logger)
	transport := progress.NewPushTransport(hub)
	resolver := enrich.NewResolver([]enrich.Provider{echoProvider{}}, 0.55, logger)

	orch := enrich.NewOrchestrator(st, resolver, transport, enrich.OrchestratorConfig{
		ItemConcurrency:   4,
		MaxConcurrentJobs: 2,
		ReadyTimeout:      50 * time.Millisecond,
		ReconnectGrace:    time.Minute,
		Retention:         time.Hour,
		CoalesceFraction:  0.05,
		CoalesceItems:     2,
		PublicURL:         "http://localhost:8080",
	}, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		orch.Stop(ctx)
	})

	sseHandler := sse.NewHandler(hub, st, tokens, time.Minute, 0, logger)
	server := NewServer(st, orch, tokens, sseHandler, limiter, "http://localhost:8080", logger)

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, store: st, orch: orch}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := e.server.Client().Post(e.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()

	resp, err := e.server.Client().Get(e.server.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out T
	require.NoError(t, json.Unmarshal(data, &out), "body: %s", data)
	return out
}

// submitAndWait submits a batch and polls status until the job is terminal.
func (e *testEnv) submitAndWait(t *testing.T, req SubmitBatchRequest) SubmitBatchResponse {
	t.Helper()

	resp := e.postJSON(t, "/api/v1/jobs", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	submitted := decodeBody[SubmitBatchResponse](t, resp)

	require.Eventually(t, func() bool {
		job, err := e.store.GetJob(context.Background(), submitted.JobID)
		return err == nil && job.Status.Terminal()
	}, 5*time.Second, 20*time.Millisecond)

	return submitted
}

func TestSubmitBatch_ReturnsChannelAndStatusURLs(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.postJSON(t, "/api/v1/jobs", SubmitBatchRequest{
		Items: []QueryItemRequest{{Title: "The Dispossessed", Author: "Ursula K. Le Guin"}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decodeBody[SubmitBatchResponse](t, resp)
	assert.NotEmpty(t, body.JobID)
	assert.NotEmpty(t, body.AuthToken)
	assert.Equal(t, "http://localhost:8080/api/v1/jobs/"+body.JobID+"/events", body.ChannelURL)
	assert.Equal(t, "http://localhost:8080/api/v1/jobs/"+body.JobID, body.StatusURL)
	assert.Equal(t, 1, body.TotalItems)
}

func TestSubmitBatch_CallerSuppliedJobID(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.postJSON(t, "/api/v1/jobs", SubmitBatchRequest{
		JobID: "job-mine",
		Items: []QueryItemRequest{{Title: "Piranesi"}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decodeBody[SubmitBatchResponse](t, resp)
	assert.Equal(t, "job-mine", body.JobID)

	// Reusing a job id conflicts.
	dup := env.postJSON(t, "/api/v1/jobs", SubmitBatchRequest{
		JobID: "job-mine",
		Items: []QueryItemRequest{{Title: "Piranesi"}},
	})
	defer dup.Body.Close()
	assert.Equal(t, http.StatusConflict, dup.StatusCode)
}

func TestSubmitBatch_EmptyItemsRejected(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.postJSON(t, "/api/v1/jobs", SubmitBatchRequest{Items: []QueryItemRequest{}})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestSubmitBatch_ItemWithoutHintsRejected(t *testing.T) {
	env := newTestEnv(t, nil)

	// Author alone is not enough to resolve anything.
	resp := env.postJSON(t, "/api/v1/jobs", SubmitBatchRequest{
		Items: []QueryItemRequest{{Author: "Ursula K. Le Guin"}},
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitBatch_UnknownKindRejected(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.postJSON(t, "/api/v1/jobs", SubmitBatchRequest{
		Items: []QueryItemRequest{{Kind: "barcode", Title: "Piranesi"}},
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJobLifecycle_CompletesWithSyntheticFallback(t *testing.T) {
	env := newTestEnv(t, nil)

	submitted := env.submitAndWait(t, SubmitBatchRequest{
		Items: []QueryItemRequest{
			{Identifier: "9780060512804"},
			{Identifier: "9780547928227"},
			{Identifier: "not-an-isbn"},
		},
	})

	statusResp := env.get(t, "/api/v1/jobs/"+submitted.JobID)
	require.Equal(t, http.StatusOK, statusResp.StatusCode)
	status := decodeBody[JobStatusResponse](t, statusResp)
	assert.Equal(t, domain.JobStatusCompleted, status.Status)
	assert.Equal(t, 3, status.ProcessedCount)
	assert.Equal(t, 1, status.SyntheticCount)
	assert.NotEmpty(t, status.ResultsURL)

	resultsResp := env.get(t, "/api/v1/jobs/"+submitted.JobID+"/results")
	require.Equal(t, http.StatusOK, resultsResp.StatusCode)
	results := decodeBody[JobResultsResponse](t, resultsResp)
	require.Len(t, results.Records, 3, "no silent drops")

	synthetic := 0
	for _, rec := range results.Records {
		if rec.Synthetic {
			synthetic++
		}
	}
	assert.Equal(t, 1, synthetic)
	assert.Equal(t, 3, results.Summary.TotalItems)
}

func TestGetJobStatus_UnknownJob(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.get(t, "/api/v1/jobs/job-ghost")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetJobResults_NotFinishedConflicts(t *testing.T) {
	env := newTestEnv(t, nil)

	job := &domain.EnrichmentJob{
		ID:         "job-running",
		TokenHash:  "hash",
		Status:     domain.JobStatusRunning,
		TotalItems: 4,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, env.store.CreateJob(context.Background(), job))

	resp := env.get(t, "/api/v1/jobs/job-running/results")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGetJobResults_ExpiredIsGone(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	job := &domain.EnrichmentJob{
		ID:         "job-old",
		TokenHash:  "hash",
		Status:     domain.JobStatusQueued,
		TotalItems: 1,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, env.store.CreateJob(ctx, job))
	require.True(t, job.MarkRunning())
	require.True(t, job.MarkCompleted(-time.Minute))
	require.NoError(t, env.store.UpdateJob(ctx, job))

	resp := env.get(t, "/api/v1/jobs/job-old/results")
	defer resp.Body.Close()

	// Expired is distinct from never-existed.
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestCancelJob_Idempotent(t *testing.T) {
	env := newTestEnv(t, nil)

	submitted := env.submitAndWait(t, SubmitBatchRequest{
		Items: []QueryItemRequest{{Title: "Piranesi"}},
	})

	// Canceling a completed job is a no-op, not an error.
	first := env.postJSON(t, "/api/v1/jobs/"+submitted.JobID+"/cancel", struct{}{})
	require.Equal(t, http.StatusOK, first.StatusCode)
	body := decodeBody[CancelJobResponse](t, first)
	assert.Equal(t, domain.JobStatusCompleted, body.Status)
	assert.False(t, body.CancelRequested)

	second := env.postJSON(t, "/api/v1/jobs/"+submitted.JobID+"/cancel", struct{}{})
	defer second.Body.Close()
	assert.Equal(t, http.StatusOK, second.StatusCode)
}

func TestListJobs_FiltersByStatus(t *testing.T) {
	env := newTestEnv(t, nil)

	submitted := env.submitAndWait(t, SubmitBatchRequest{
		Items: []QueryItemRequest{{Title: "Piranesi"}},
	})

	resp := env.get(t, "/api/v1/jobs?status=completed")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[ListJobsResponse](t, resp)
	require.Len(t, body.Jobs, 1)
	assert.Equal(t, submitted.JobID, body.Jobs[0].JobID)

	empty := env.get(t, "/api/v1/jobs?status=failed")
	require.Equal(t, http.StatusOK, empty.StatusCode)
	emptyBody := decodeBody[ListJobsResponse](t, empty)
	assert.Empty(t, emptyBody.Jobs)
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[HealthResponse](t, resp)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "healthy", body.Components["job_store"].Status)
}

func TestRateLimit_Returns429(t *testing.T) {
	limiter := ratelimit.New(0.001, 1)
	t.Cleanup(limiter.Stop)

	env := newTestEnv(t, limiter)

	first := env.get(t, "/health")
	first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := env.get(t, "/health")
	defer second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}
