// Package ratelimit throttles relay clients with per-key token buckets.
//
// The relay keys buckets by client IP. Upload endpoints fan out to three
// external services per call, so a misbehaving SDK loop is cut off here
// before it reaches them.
package ratelimit

import "context"

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow reports whether the request should proceed. An error signals a
	// limiter malfunction; the middleware fails open on error.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases background resources.
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }

// New returns a MemoryLimiter, or a NoopLimiter when rps is not positive.
func New(rps float64, burst int) Limiter {
	if rps <= 0 {
		return NoopLimiter{}
	}
	return NewMemoryLimiter(rps, burst)
}
