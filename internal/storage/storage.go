package storage

import (
	"context"
	"errors"
	"time"
)

// ErrResultNotFound is returned when no refresh result is cached for a key
var ErrResultNotFound = errors.New("refresh result not found")

// RefreshResult is the outcome of one upstream refresh, shared with callers
// that raced on the same refresh token.
type RefreshResult struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresIn    int       `json:"expires_in,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Failed       bool      `json:"failed,omitempty"`
	StatusCode   int       `json:"status_code,omitempty"`
	StoredAt     time.Time `json:"stored_at"`
}

// Coordinator serializes refreshes of the same refresh token across
// requests and instances. Keys are token fingerprints, never tokens.
type Coordinator interface {
	// Acquire takes the named lock for ttl. It reports false when another
	// holder has it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release drops the lock if this coordinator holds it
	Release(ctx context.Context, key string) error

	// Result returns the cached result or ErrResultNotFound
	Result(ctx context.Context, key string) (*RefreshResult, error)

	PutResult(ctx context.Context, key string, result *RefreshResult, ttl time.Duration) error

	Ping(ctx context.Context) error
	Close() error
}
