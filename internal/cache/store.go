package cache

import (
	"context"
	"errors"
	"time"

	"mcq-autopilot/internal/mcq"
)

// DefaultMaxAge is how long a resolved answer stays valid.
const DefaultMaxAge = 7 * 24 * time.Hour

// ErrInvalidAnswer is returned by Put for letters outside A-D.
var ErrInvalidAnswer = errors.New("cache: answer must be one of A, B, C, D")

// CachedAnswer is a previously resolved answer for one question fingerprint.
type CachedAnswer struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	Answer      mcq.Letter  `json:"answer"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Age reports how old the entry is at now.
func (a CachedAnswer) Age(now time.Time) time.Duration {
	return now.Sub(a.CreatedAt)
}

// Store is the answer cache used by the resolver.
// Implemented by the memory store (dev), Redis and MongoDB (persistent).
//
// Get never sweeps; expired entries stay visible until EvictOlderThan runs.
type Store interface {
	Get(ctx context.Context, fp Fingerprint) (CachedAnswer, bool, error)
	Put(ctx context.Context, fp Fingerprint, answer mcq.Letter) error
	EvictOlderThan(ctx context.Context, maxAge time.Duration) (int, error)
}
