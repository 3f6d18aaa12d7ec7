package auth

import (
	"encoding/hex"
	"encoding/json/v2"
	"fmt"
	"time"

	"aidanwoods.dev/go-paseto"
	"golang.org/x/crypto/blake2b"

	"github.com/stacksapp/stacks-server/internal/id"
)

const (
	tokenIssuer   = "stacks-server"
	tokenAudience = "stacks-channel"
)

// ChannelClaims are the claims carried in a channel token.
type ChannelClaims struct {
	JobID     string    `json:"job_id"`
	TokenID   string    `json:"jti"`
	ExpiresAt time.Time `json:"exp"`
}

// TokenService issues PASETO v4.local channel tokens.
//
// A channel token authorizes exactly one progress-channel attach for one
// job. The plaintext token is returned to the submitter once; only its
// blake2b digest is stored, so a database compromise leaks no valid tokens.
type TokenService struct {
	symmetricKey  paseto.V4SymmetricKey
	tokenDuration time.Duration
}

// NewTokenService creates a token service from a 32-byte symmetric key.
func NewTokenService(key []byte, tokenDuration time.Duration) (*TokenService, error) {
	symmetricKey, err := paseto.V4SymmetricKeyFromBytes(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create PASETO symmetric key: %w", err)
	}

	return &TokenService{
		symmetricKey:  symmetricKey,
		tokenDuration: tokenDuration,
	}, nil
}

// IssueChannelToken creates a channel token bound to a job.
// Returns the plaintext token for the submitter and the digest for storage.
func (s *TokenService) IssueChannelToken(jobID string) (token, digest string, err error) {
	now := time.Now()

	t := paseto.NewToken()
	t.SetIssuer(tokenIssuer)
	t.SetSubject(jobID)
	t.SetAudience(tokenAudience)
	t.SetIssuedAt(now)
	t.SetNotBefore(now)
	t.SetExpiration(now.Add(s.tokenDuration))

	tokenID, err := id.Generate("token")
	if err != nil {
		return "", "", fmt.Errorf("generate token ID: %w", err)
	}
	t.SetJti(tokenID)

	//nolint:errcheck // Token.Set only errors on invalid types, which we control
	_ = t.Set("job_id", jobID)

	encrypted := t.V4Encrypt(s.symmetricKey, nil)
	return encrypted, HashToken(encrypted), nil
}

// VerifyChannelToken verifies and parses a channel token.
// Returns the claims if valid, or an error if invalid or expired.
func (s *TokenService) VerifyChannelToken(tokenString string) (*ChannelClaims, error) {
	parser := paseto.NewParser()

	parser.AddRule(paseto.ForAudience(tokenAudience))
	parser.AddRule(paseto.IssuedBy(tokenIssuer))
	parser.AddRule(paseto.NotExpired())
	parser.AddRule(paseto.ValidAt(time.Now()))

	token, err := parser.ParseV4Local(s.symmetricKey, tokenString, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	var claims ChannelClaims
	if err := json.Unmarshal(token.ClaimsJSON(), &claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}

	return &claims, nil
}

// HashToken returns the hex-encoded blake2b-256 digest of a token.
// The digest is what gets persisted alongside the job for later matching.
func HashToken(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
