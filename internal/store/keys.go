package store

import "sync"

// Key prefixes. Jobs and result sets are stored separately so results can
// be deleted when retention elapses while the job summary survives.
const (
	jobPrefix       = "job:"
	jobStatusPrefix = "job:idx:status:"
	resultsPrefix   = "results:"
)

// keyPool provides reusable byte slices for building database keys.
// This reduces allocations on the hot path of database operations.
var keyPool = sync.Pool{
	New: func() any {
		// 128 bytes covers prefix + status index name + NanoID suffix.
		return make([]byte, 0, 128)
	},
}

// buildKey constructs a database key from prefix and suffix using a pooled
// buffer. Callers MUST call releaseKey when done with the key.
//
// Usage:
//
//	key := buildKey(jobPrefix, jobID)
//	defer releaseKey(key)
//	item, err := txn.Get(key)
func buildKey(prefix, suffix string) []byte {
	buf, _ := keyPool.Get().([]byte)
	buf = buf[:0] // Reset length, keep capacity
	buf = append(buf, prefix...)
	buf = append(buf, suffix...)
	return buf
}

// releaseKey returns a key buffer to the pool for reuse.
// After calling this, the key slice must not be used.
func releaseKey(key []byte) {
	// Only pool buffers that have reasonable capacity
	if cap(key) <= 256 {
		keyPool.Put(key[:0])
	}
}
