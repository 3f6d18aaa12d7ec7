package domain

import "time"

// EntryState tracks a client queue entry through its lifetime.
type EntryState string

const (
	EntryStatePending  EntryState = "pending"
	EntryStateInFlight EntryState = "in_flight"
)

// Queue priorities. Higher values drain first.
const (
	PriorityBackground = 1  // created by a background insert
	PriorityVisible    = 10 // the user is currently viewing the entity
)

// QueueEntry is one pending enrichment request on the client side.
// At most one entry exists per dedup key at any time; a second enqueue of
// the same key re-prioritizes the existing entry instead of duplicating it.
type QueueEntry struct {
	ID string `json:"id"`

	// DedupKey identifies the logical item. Defaults to the stable entity
	// identity when present, otherwise a key derived from the query text.
	DedupKey string `json:"dedup_key"`

	// StableID references the local persistent record this entry enriches.
	StableID string `json:"stable_id,omitempty"`

	Item QueryItem `json:"item"`

	Priority int        `json:"priority"`
	State    EntryState `json:"state"`

	// JobID is set while the entry is part of a submitted batch.
	JobID string `json:"job_id,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`

	// Seq preserves insertion order within a priority band.
	Seq int64 `json:"seq"`
}
