// Package sse streams job progress envelopes to clients over Server-Sent
// Events. It is the push implementation of the progress transport; polling
// clients use the job status endpoint instead.
package sse

import (
	"encoding/json/v2"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stacksapp/stacks-server/internal/auth"
	"github.com/stacksapp/stacks-server/internal/errors"
	"github.com/stacksapp/stacks-server/internal/progress"
	"github.com/stacksapp/stacks-server/internal/store"
)

// Handler serves GET /api/v1/jobs/{jobID}/events.
type Handler struct {
	hub            *progress.Hub
	store          *store.Store
	tokens         *auth.TokenService
	reconnectGrace time.Duration
	heartbeat      time.Duration
	logger         *slog.Logger
}

// NewHandler creates the progress stream handler. A zero heartbeat
// defaults to 30s.
func NewHandler(hub *progress.Hub, st *store.Store, tokens *auth.TokenService, reconnectGrace, heartbeat time.Duration, logger *slog.Logger) *Handler {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Handler{
		hub:            hub,
		store:          st,
		tokens:         tokens,
		reconnectGrace: reconnectGrace,
		heartbeat:      heartbeat,
		logger:         logger,
	}
}

// ServeHTTP authenticates the channel token and streams envelopes until the
// job's channel closes or the client goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.Context().Err() != nil {
		return
	}

	jobID := chi.URLParam(r, "jobID")
	ctx := r.Context()

	// The token travels in the Authorization header only. Query parameters
	// end up in access logs and browser history, so a token there is
	// rejected outright rather than silently accepted.
	if r.URL.Query().Has("token") {
		h.writeError(w, errors.Validation("channel token must be sent in the Authorization header"))
		return
	}

	token, ok := bearerToken(r)
	if !ok {
		h.writeError(w, errors.Unauthorized("missing channel token"))
		return
	}

	claims, err := h.tokens.VerifyChannelToken(token)
	if err != nil {
		h.logger.Info("rejected channel token", slog.String("job_id", jobID), slog.Any("error", err))
		h.writeError(w, errors.Unauthorized("invalid channel token"))
		return
	}
	if claims.JobID != jobID {
		h.writeError(w, errors.Unauthorized("token does not match job"))
		return
	}

	reconnect, err := h.store.ConsumeToken(ctx, jobID, auth.HashToken(token))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if reconnect && !h.hub.WithinReconnectGrace(jobID, time.Now(), h.reconnectGrace) {
		h.writeError(w, errors.Unauthorized("reconnect window has elapsed"))
		return
	}

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		h.logger.Error("failed to flush headers", slog.Any("error", err))
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	streamLogger := h.logger.With(slog.String("job_id", jobID))

	// A reconnecting client missed an unknown number of envelopes, so it
	// gets a full state snapshot before the live stream resumes.
	if reconnect {
		if err := h.sendEnvelope(w, rc, progress.NewReconnected(job)); err != nil {
			streamLogger.Info("client disconnected during snapshot")
			return
		}
		// Terminal job: the snapshot already says everything; the channel
		// may be gone, so end the stream here.
		if job.Status.Terminal() {
			return
		}
	}

	sub, err := h.hub.Attach(jobID)
	if err != nil {
		if job.Status.Terminal() {
			// Channel torn down after completion; replay the terminal
			// state as a snapshot so the client is not left hanging.
			if sendErr := h.sendEnvelope(w, rc, progress.NewReconnected(job)); sendErr != nil {
				streamLogger.Info("client disconnected during snapshot")
			}
			return
		}
		h.writeError(w, err)
		return
	}
	defer h.hub.Detach(jobID, sub.ID)

	heartbeatTicker := time.NewTicker(h.heartbeat)
	defer heartbeatTicker.Stop()

	for {
		select {
		case env, ok := <-sub.Ch:
			if !ok {
				streamLogger.Debug("progress channel closed")
				return
			}
			if err := h.sendEnvelope(w, rc, env); err != nil {
				streamLogger.Info("client disconnected during send")
				return
			}

		case <-heartbeatTicker.C:
			if err := h.sendEnvelope(w, rc, progress.NewHeartbeat(jobID)); err != nil {
				streamLogger.Info("client disconnected during heartbeat")
				return
			}

		case <-sub.Done:
			streamLogger.Debug("listener closed by hub")
			return

		case <-ctx.Done():
			streamLogger.Info("client context canceled")
			return
		}
	}
}

// sendEnvelope writes one envelope in SSE framing and flushes it.
func (h *Handler) sendEnvelope(w http.ResponseWriter, rc *http.ResponseController, env progress.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\n", env.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}

	if err := rc.Flush(); err != nil {
		return err
	}

	// Reset the write deadline after each successful write so hung
	// connections eventually fail instead of pinning a goroutine.
	if err := rc.SetWriteDeadline(time.Now().Add(60 * time.Second)); err != nil {
		h.logger.Debug("failed to set write deadline", slog.Any("error", err))
	}

	return nil
}

// writeError maps an error to its HTTP status with a JSON body.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	var coded *errors.Error
	if errors.As(err, &coded) {
		status = coded.HTTPStatus()
		message = coded.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body, _ := json.Marshal(map[string]string{"error": message})
	w.Write(body)
}

// bearerToken extracts the token from an "Authorization: Bearer ..." header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
