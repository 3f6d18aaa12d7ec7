package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedRateLimiter_Allow(t *testing.T) {
	krl := New(10, 2) // 10 rps, burst of 2
	defer krl.Stop()

	// First two requests should be allowed (burst)
	assert.True(t, krl.Allow("openlibrary.org"))
	assert.True(t, krl.Allow("openlibrary.org"))

	// Third should be denied (burst exhausted)
	assert.False(t, krl.Allow("openlibrary.org"))
}

func TestKeyedRateLimiter_IndependentKeys(t *testing.T) {
	krl := New(1, 1)
	defer krl.Stop()

	// Exhaust one key's bucket
	assert.True(t, krl.Allow("openlibrary.org"))
	assert.False(t, krl.Allow("openlibrary.org"))

	// Other keys are unaffected
	assert.True(t, krl.Allow("books.googleapis.com"))
}

func TestKeyedRateLimiter_Wait(t *testing.T) {
	krl := New(100, 1)
	defer krl.Stop()

	ctx := context.Background()

	// Burst token available immediately
	require.NoError(t, krl.Wait(ctx, "openlibrary.org"))

	// Next token takes ~10ms at 100 rps
	start := time.Now()
	require.NoError(t, krl.Wait(ctx, "openlibrary.org"))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestKeyedRateLimiter_WaitContextCanceled(t *testing.T) {
	krl := New(0.1, 1) // one token every 10s
	defer krl.Stop()

	ctx := context.Background()
	require.NoError(t, krl.Wait(ctx, "slow"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := krl.Wait(ctx, "slow")
	assert.Error(t, err)
}

func TestKeyedRateLimiter_StopIdempotent(t *testing.T) {
	krl := New(1, 1)
	krl.Stop()
	krl.Stop() // must not panic
}
