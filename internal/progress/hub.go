package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stacksapp/stacks-server/internal/errors"
	"github.com/stacksapp/stacks-server/internal/id"
)

// Subscriber represents one attached progress listener.
type Subscriber struct {
	ID          string
	Ch          chan Envelope
	Done        chan struct{}
	ConnectedAt time.Time
}

// jobChannel tracks the listeners of one job and its ready handshake.
type jobChannel struct {
	subscribers map[string]*Subscriber
	ready       chan struct{}
	readyOnce   sync.Once

	// lastDetach is the zero value until a listener disconnects. The
	// reconnect grace window is measured from this instant.
	lastDetach time.Time
}

// Hub fans progress envelopes out to the listeners attached to each job.
//
// Publishing never blocks: a listener that cannot keep up has envelopes
// dropped rather than stalling the orchestrator. Dropped intermediate
// progress is harmless because every envelope carries absolute counters.
type Hub struct {
	mu     sync.RWMutex
	jobs   map[string]*jobChannel
	logger *slog.Logger
}

// NewHub creates a new progress hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		jobs:   make(map[string]*jobChannel),
		logger: logger,
	}
}

// Register creates the channel for a job. Called at submission time,
// before the orchestrator starts waiting for a listener. Idempotent.
func (h *Hub) Register(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.jobs[jobID]; ok {
		return
	}
	h.jobs[jobID] = &jobChannel{
		subscribers: make(map[string]*Subscriber),
		ready:       make(chan struct{}),
	}
}

// Attach adds a listener to a job's channel and signals the ready
// handshake on the first attach.
func (h *Hub) Attach(jobID string) (*Subscriber, error) {
	subID, err := id.Generate("stream")
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	jc, ok := h.jobs[jobID]
	if !ok {
		h.mu.Unlock()
		return nil, errors.NotFoundf("no progress channel for job %s", jobID)
	}

	sub := &Subscriber{
		ID:          subID,
		Ch:          make(chan Envelope, 100), // Buffer 100 envelopes per listener
		Done:        make(chan struct{}),
		ConnectedAt: time.Now(),
	}
	jc.subscribers[subID] = sub
	total := len(jc.subscribers)
	h.mu.Unlock()

	jc.readyOnce.Do(func() { close(jc.ready) })

	h.logger.Info("progress listener attached",
		slog.String("job_id", jobID),
		slog.String("subscriber_id", subID),
		slog.Int("total_listeners", total))
	return sub, nil
}

// Detach removes a listener and records the disconnect instant for the
// reconnect grace window. Idempotent.
func (h *Hub) Detach(jobID, subID string) {
	h.mu.Lock()
	jc, ok := h.jobs[jobID]
	if !ok {
		h.mu.Unlock()
		return
	}
	sub, ok := jc.subscribers[subID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(jc.subscribers, subID)
	jc.lastDetach = time.Now()
	h.mu.Unlock()

	close(sub.Done)
	close(sub.Ch)

	h.logger.Info("progress listener detached",
		slog.String("job_id", jobID),
		slog.String("subscriber_id", subID),
		slog.Duration("duration", time.Since(sub.ConnectedAt)))
}

// WaitReady blocks until a listener attaches to the job or the context
// expires. Returns false on timeout; the caller degrades to store-only
// progress and keeps processing.
func (h *Hub) WaitReady(ctx context.Context, jobID string) bool {
	h.mu.RLock()
	jc, ok := h.jobs[jobID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	select {
	case <-jc.ready:
		return true
	case <-ctx.Done():
		return false
	}
}

// Publish delivers an envelope to every listener of its job.
// Sends are non-blocking; slow listeners have envelopes dropped.
func (h *Hub) Publish(env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	jc, ok := h.jobs[env.JobID]
	if !ok {
		return
	}

	for _, sub := range jc.subscribers {
		select {
		case sub.Ch <- env:
		default:
			h.logger.Warn("dropped envelope for slow listener",
				slog.String("job_id", env.JobID),
				slog.String("subscriber_id", sub.ID),
				slog.String("type", string(env.Type)))
		}
	}
}

// ListenerCount returns the number of listeners attached to a job.
func (h *Hub) ListenerCount(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	jc, ok := h.jobs[jobID]
	if !ok {
		return 0
	}
	return len(jc.subscribers)
}

// WithinReconnectGrace reports whether a reconnect at now is still inside
// the grace window after the last disconnect. A job with no disconnect
// yet (first attach pending, or listener still connected) reports true.
func (h *Hub) WithinReconnectGrace(jobID string, now time.Time, grace time.Duration) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	jc, ok := h.jobs[jobID]
	if !ok {
		return false
	}
	if jc.lastDetach.IsZero() {
		return true
	}
	return now.Sub(jc.lastDetach) <= grace
}

// CloseJob tears down a job's channel and disconnects its listeners.
// Called once the terminal envelope has been delivered and the reconnect
// grace window has elapsed.
func (h *Hub) CloseJob(jobID string) {
	h.mu.Lock()
	jc, ok := h.jobs[jobID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.jobs, jobID)
	h.mu.Unlock()

	for _, sub := range jc.subscribers {
		close(sub.Done)
		close(sub.Ch)
	}

	h.logger.Debug("progress channel closed", slog.String("job_id", jobID))
}

// Shutdown closes every job channel. Used during server shutdown.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	jobs := h.jobs
	h.jobs = make(map[string]*jobChannel)
	h.mu.Unlock()

	for jobID, jc := range jobs {
		for _, sub := range jc.subscribers {
			close(sub.Done)
			close(sub.Ch)
		}
		h.logger.Debug("progress channel closed", slog.String("job_id", jobID))
	}
}
