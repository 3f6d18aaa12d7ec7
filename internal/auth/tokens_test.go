package auth

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, duration time.Duration) *TokenService {
	t.Helper()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	svc, err := NewTokenService(key, duration)
	require.NoError(t, err)
	return svc
}

func TestTokenService_IssueAndVerify(t *testing.T) {
	svc := newTestService(t, time.Hour)

	token, digest, err := svc.IssueChannelToken("job-abc123")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, HashToken(token), digest)

	claims, err := svc.VerifyChannelToken(token)
	require.NoError(t, err)
	assert.Equal(t, "job-abc123", claims.JobID)
	assert.NotEmpty(t, claims.TokenID)
}

func TestTokenService_VerifyRejectsTampered(t *testing.T) {
	svc := newTestService(t, time.Hour)

	token, _, err := svc.IssueChannelToken("job-abc123")
	require.NoError(t, err)

	tampered := token[:len(token)-4] + "AAAA"
	_, err = svc.VerifyChannelToken(tampered)
	assert.Error(t, err)
}

func TestTokenService_VerifyRejectsExpired(t *testing.T) {
	svc := newTestService(t, -time.Minute)

	token, _, err := svc.IssueChannelToken("job-abc123")
	require.NoError(t, err)

	_, err = svc.VerifyChannelToken(token)
	assert.Error(t, err)
}

func TestTokenService_VerifyRejectsOtherKey(t *testing.T) {
	svc := newTestService(t, time.Hour)
	other := newTestService(t, time.Hour)

	token, _, err := svc.IssueChannelToken("job-abc123")
	require.NoError(t, err)

	_, err = other.VerifyChannelToken(token)
	assert.Error(t, err)
}

func TestNewTokenService_RejectsShortKey(t *testing.T) {
	_, err := NewTokenService([]byte("too-short"), time.Hour)
	assert.Error(t, err)
}

func TestHashToken(t *testing.T) {
	// Deterministic and distinct per input
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
	assert.Len(t, HashToken("abc"), 64) // 32 bytes hex-encoded
}

func TestLoadOrGenerateKey(t *testing.T) {
	dir := t.TempDir()

	key, err := LoadOrGenerateKey(dir)
	require.NoError(t, err)
	assert.Len(t, key, 32)

	// Second load returns the same key
	again, err := LoadOrGenerateKey(dir)
	require.NoError(t, err)
	assert.Equal(t, key, again)
}

func TestLoadOrGenerateKey_RejectsCorruptKey(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "channel.key"), []byte("not-hex"), 0o600))

	_, err := LoadOrGenerateKey(dir)
	assert.Error(t, err)
}
