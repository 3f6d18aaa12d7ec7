package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stacksapp/stacks-server/internal/domain"
	"github.com/stacksapp/stacks-server/internal/progress"
	"github.com/stacksapp/stacks-server/internal/store"
)

// OrchestratorConfig carries the orchestrator's tuning knobs.
type OrchestratorConfig struct {
	// ItemConcurrency bounds in-flight resolutions within one job.
	ItemConcurrency int
	// MaxConcurrentJobs bounds jobs processing simultaneously; excess jobs
	// wait in queued state.
	MaxConcurrentJobs int
	// ReadyTimeout bounds how long a job waits for a progress listener
	// before degrading to store-only progress.
	ReadyTimeout time.Duration
	// ReconnectGrace is how long the progress channel survives after the
	// terminal envelope, so a disconnected client can still catch it.
	ReconnectGrace time.Duration
	// Retention is how long a terminal job's summary and results are kept.
	Retention time.Duration

	// Progress coalescing: an update is published once at least
	// CoalesceFraction of the batch or CoalesceItems items completed since
	// the last publish, and at least CoalesceMinInterval has elapsed.
	CoalesceFraction    float64
	CoalesceItems       int
	CoalesceMinInterval time.Duration

	// PublicURL is the externally visible base URL used to build the
	// results link in completion summaries.
	PublicURL string
}

// Orchestrator drives enrichment jobs: it fans items out to a bounded
// worker pool, folds results back through a single writer per job, and
// publishes coalesced progress.
//
// All mutations of a job flow through that job's run goroutine, so job
// state never needs locking.
type Orchestrator struct {
	store     *store.Store
	resolver  *Resolver
	transport progress.Transport
	cfg       OrchestratorConfig
	logger    *slog.Logger

	jobSem chan struct{}
	wg     sync.WaitGroup

	// baseCtx is canceled on shutdown; in-flight resolutions drain.
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(st *store.Store, resolver *Resolver, transport progress.Transport, cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:      st,
		resolver:   resolver,
		transport:  transport,
		cfg:        cfg,
		logger:     logger,
		jobSem:     make(chan struct{}, cfg.MaxConcurrentJobs),
		baseCtx:    ctx,
		cancelBase: cancel,
	}
}

// Enqueue accepts a created job for processing. The job runs as soon as a
// job slot frees up; until then it stays queued.
func (o *Orchestrator) Enqueue(job *domain.EnrichmentJob, items []domain.QueryItem) {
	o.transport.Register(job.ID)

	o.wg.Add(1)
	go o.run(job, items)
}

// Stop cancels in-flight work and waits for running jobs to drain or the
// context to expire.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.cancelBase()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator shutdown timed out: %w", ctx.Err())
	}
}

// RecoverInterruptedJobs fails jobs left queued or running by a previous
// process. Called once at startup, before any new job is accepted, so
// clients polling an orphaned job see a clean retryable failure instead
// of a job stuck running forever.
func (o *Orchestrator) RecoverInterruptedJobs(ctx context.Context) error {
	jobs, err := o.store.ListInterruptedJobs(ctx)
	if err != nil {
		return fmt.Errorf("list interrupted jobs: %w", err)
	}

	for _, job := range jobs {
		job.MarkFailed("server restarted before the job finished", true, o.cfg.Retention)
		if err := o.store.UpdateJob(ctx, job); err != nil {
			return fmt.Errorf("fail interrupted job %s: %w", job.ID, err)
		}
		o.logger.Warn("failed interrupted job from previous run", "job_id", job.ID)
	}
	return nil
}

type itemResult struct {
	idx int
	rec *domain.CanonicalRecord
}

// run is the single-writer actor for one job.
func (o *Orchestrator) run(job *domain.EnrichmentJob, items []domain.QueryItem) {
	defer o.wg.Done()

	// Job slot; excess jobs wait here in queued state.
	select {
	case o.jobSem <- struct{}{}:
	case <-o.baseCtx.Done():
		return
	}
	defer func() { <-o.jobSem }()

	logger := o.logger.With(slog.String("job_id", job.ID))

	readyCtx, cancelReady := context.WithTimeout(o.baseCtx, o.cfg.ReadyTimeout)
	listener := o.transport.WaitReady(readyCtx, job.ID)
	cancelReady()
	if !listener {
		logger.Info("no progress listener attached, continuing with persisted progress only")
	}

	if !job.MarkRunning() {
		// Canceled while still queued.
		o.finishCanceled(job, logger)
		return
	}
	if err := o.store.UpdateJob(o.baseCtx, job); err != nil {
		logger.Error("failed to persist running state", "error", err)
		o.failJob(job, "storage fault while starting job", logger)
		return
	}
	o.transport.Publish(progress.NewStarted(job.ID, job.TotalItems))

	indexes := make(chan int)
	resultsCh := make(chan itemResult)

	var workers sync.WaitGroup
	for i := 0; i < o.cfg.ItemConcurrency; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for idx := range indexes {
				rec := o.resolver.Resolve(o.baseCtx, items[idx])
				resultsCh <- itemResult{idx: idx, rec: rec}
			}
		}()
	}

	// Dispatcher: checks the cooperative cancel flag between dispatches.
	// In-flight resolutions drain naturally after a cancel.
	canceled := make(chan struct{}, 1)
	go func() {
		defer close(indexes)
		for idx := range items {
			requested, err := o.store.CancelRequested(o.baseCtx, job.ID)
			if err != nil {
				logger.Warn("cancel flag check failed", "error", err)
			} else if requested {
				canceled <- struct{}{}
				return
			}

			select {
			case indexes <- idx:
			case <-o.baseCtx.Done():
				return
			}
		}
	}()

	go func() {
		workers.Wait()
		close(resultsCh)
	}()

	// Single writer: fold worker results into the job and coalesce
	// progress publications.
	results := make([]*domain.CanonicalRecord, len(items))
	coalescer := newCoalescer(o.cfg, job.TotalItems)
	processed := 0

	for res := range resultsCh {
		results[res.idx] = res.rec
		processed++
		job.SetProcessed(processed)
		if res.rec.Synthetic {
			job.SyntheticCount++
		} else {
			job.RecordProvider(res.rec.PrimaryProvider)
		}

		if coalescer.shouldPublish(processed) {
			if err := o.store.UpdateJob(o.baseCtx, job); err != nil {
				logger.Warn("failed to persist progress", "error", err)
			}
			o.transport.Publish(progress.NewProgress(job))
			coalescer.published(processed)
		}
	}

	select {
	case <-canceled:
		o.finishCanceled(job, logger)
		return
	default:
	}

	if o.baseCtx.Err() != nil {
		// Shutdown mid-job; recovery marks it failed on next boot.
		return
	}

	if err := o.store.SaveResults(o.baseCtx, job.ID, results); err != nil {
		logger.Error("failed to persist results", "error", err)
		o.failJob(job, "storage fault while saving results", logger)
		return
	}

	job.MarkCompleted(o.cfg.Retention)
	if err := o.store.UpdateJob(o.baseCtx, job); err != nil {
		logger.Error("failed to persist completion", "error", err)
	}

	summary := job.Summarize(o.resultsURL(job.ID))
	o.transport.Publish(progress.NewComplete(job.ID, &summary))
	o.scheduleClose(job.ID)

	logger.Info("job completed",
		slog.Int("total", job.TotalItems),
		slog.Int("synthetic", job.SyntheticCount))
}

// finishCanceled transitions a job to canceled and reports it on the
// channel as an error envelope with code "canceled".
func (o *Orchestrator) finishCanceled(job *domain.EnrichmentJob, logger *slog.Logger) {
	job.MarkCanceled(o.cfg.Retention)
	if err := o.store.UpdateJob(o.baseCtx, job); err != nil {
		logger.Error("failed to persist cancellation", "error", err)
	}
	o.transport.Publish(progress.NewError(job.ID, "canceled", "job canceled by client", false))
	o.scheduleClose(job.ID)
	logger.Info("job canceled", slog.Int("processed", job.ProcessedCount))
}

// failJob transitions a job to failed after an orchestration-level fault.
// Item-level failures never reach here; they become synthetic results.
func (o *Orchestrator) failJob(job *domain.EnrichmentJob, reason string, logger *slog.Logger) {
	job.MarkFailed(reason, true, o.cfg.Retention)
	if err := o.store.UpdateJob(o.baseCtx, job); err != nil {
		logger.Error("failed to persist failure", "error", err)
	}
	o.transport.Publish(progress.NewError(job.ID, "internal", reason, true))
	o.scheduleClose(job.ID)
}

// scheduleClose tears the job's delivery channel down once the reconnect
// grace window has passed, so a briefly disconnected client can still
// attach and receive the terminal snapshot.
func (o *Orchestrator) scheduleClose(jobID string) {
	time.AfterFunc(o.cfg.ReconnectGrace, func() {
		o.transport.CloseJob(jobID)
	})
}

func (o *Orchestrator) resultsURL(jobID string) string {
	return fmt.Sprintf("%s/api/v1/jobs/%s/results", o.cfg.PublicURL, jobID)
}

// coalescer batches progress publications. A publication goes out once
// enough new items completed (by fraction or count) and the minimum
// interval since the last publication has elapsed. The terminal envelope
// always goes out regardless.
type coalescer struct {
	fraction    float64
	items       int
	minInterval time.Duration
	total       int

	lastCount int
	lastTime  time.Time
}

func newCoalescer(cfg OrchestratorConfig, total int) *coalescer {
	return &coalescer{
		fraction:    cfg.CoalesceFraction,
		items:       cfg.CoalesceItems,
		minInterval: cfg.CoalesceMinInterval,
		total:       total,
	}
}

func (c *coalescer) shouldPublish(processed int) bool {
	if time.Since(c.lastTime) < c.minInterval {
		return false
	}

	delta := processed - c.lastCount
	if delta >= c.items {
		return true
	}
	if c.total > 0 && float64(delta)/float64(c.total) >= c.fraction {
		return true
	}
	return false
}

func (c *coalescer) published(processed int) {
	c.lastCount = processed
	c.lastTime = time.Now()
}
