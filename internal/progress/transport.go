package progress

import (
	"context"
	"sync"
	"time"
)

// Transport abstracts how progress envelopes reach clients. The
// orchestrator publishes through this interface and never knows whether
// listeners stream (push) or poll.
type Transport interface {
	// Register creates the delivery channel for a job at submission time.
	Register(jobID string)

	// WaitReady blocks until a listener is ready to receive, or the
	// context expires. A false return means no listener showed up; the
	// job proceeds with persisted progress only.
	WaitReady(ctx context.Context, jobID string) bool

	// Publish delivers an envelope. Must never block on slow consumers.
	Publish(env Envelope)

	// CloseJob releases per-job delivery resources after the terminal
	// envelope has been delivered and the grace window has elapsed.
	CloseJob(jobID string)
}

// PushTransport delivers envelopes through the hub to streaming listeners.
type PushTransport struct {
	hub *Hub
}

// NewPushTransport wraps a hub as a Transport.
func NewPushTransport(hub *Hub) *PushTransport {
	return &PushTransport{hub: hub}
}

// Register implements Transport.
func (t *PushTransport) Register(jobID string) { t.hub.Register(jobID) }

// WaitReady implements Transport.
func (t *PushTransport) WaitReady(ctx context.Context, jobID string) bool {
	return t.hub.WaitReady(ctx, jobID)
}

// Publish implements Transport.
func (t *PushTransport) Publish(env Envelope) { t.hub.Publish(env) }

// CloseJob implements Transport.
func (t *PushTransport) CloseJob(jobID string) { t.hub.CloseJob(jobID) }

// PollTransport retains the latest envelope per job for clients that poll
// instead of holding a stream open. There is no handshake: polling
// clients are always considered ready, so jobs start immediately.
type PollTransport struct {
	mu     sync.RWMutex
	latest map[string]Envelope
}

// NewPollTransport creates a poll-based transport.
func NewPollTransport() *PollTransport {
	return &PollTransport{latest: make(map[string]Envelope)}
}

// Register implements Transport.
func (t *PollTransport) Register(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.latest[jobID]; !ok {
		t.latest[jobID] = Envelope{Type: EnvelopeStarted, JobID: jobID, Timestamp: time.Now()}
	}
}

// WaitReady implements Transport. Polling clients need no handshake.
func (t *PollTransport) WaitReady(_ context.Context, _ string) bool { return true }

// Publish implements Transport. Heartbeats are not retained; they carry
// no state a poller could use.
func (t *PollTransport) Publish(env Envelope) {
	if env.Type == EnvelopeHeartbeat {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest[env.JobID] = env
}

// Latest returns the most recent envelope for a job.
func (t *PollTransport) Latest(jobID string) (Envelope, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	env, ok := t.latest[jobID]
	return env, ok
}

// CloseJob implements Transport.
func (t *PollTransport) CloseJob(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.latest, jobID)
}
