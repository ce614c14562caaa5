package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClockedLimiter(rate float64, burst int) (*MemoryLimiter, *manualClock) {
	clock := &manualClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return newMemoryLimiter(rate, burst, clock.Now), clock
}

func allowN(t *testing.T, l Limiter, key string, n int) int {
	t.Helper()
	allowed := 0
	for range n {
		ok, err := l.Allow(context.Background(), key)
		require.NoError(t, err)
		if ok {
			allowed++
		}
	}
	return allowed
}

func TestMemoryLimiter_BurstThenDeny(t *testing.T) {
	m, _ := newClockedLimiter(1, 3)
	assert.Equal(t, 3, allowN(t, m, "ip:1.2.3.4", 5))
}

func TestMemoryLimiter_Refill(t *testing.T) {
	m, clock := newClockedLimiter(2, 2)
	require.Equal(t, 2, allowN(t, m, "k", 3))

	clock.Advance(500 * time.Millisecond)
	assert.Equal(t, 1, allowN(t, m, "k", 2), "half a second at 2 rps refills one token")
}

func TestMemoryLimiter_RefillCapsAtBurst(t *testing.T) {
	m, clock := newClockedLimiter(100, 3)
	require.Equal(t, 3, allowN(t, m, "k", 3))

	clock.Advance(time.Hour)
	assert.Equal(t, 3, allowN(t, m, "k", 10))
}

func TestMemoryLimiter_IndependentKeys(t *testing.T) {
	m, _ := newClockedLimiter(1, 1)
	assert.Equal(t, 1, allowN(t, m, "a", 2))
	assert.Equal(t, 1, allowN(t, m, "b", 2))
}

func TestMemoryLimiter_EvictStale(t *testing.T) {
	m, clock := newClockedLimiter(1, 5)
	allowN(t, m, "old", 1)
	clock.Advance(staleAfter + time.Second)
	allowN(t, m, "fresh", 1)

	m.evictStale()

	assert.Equal(t, 1, m.Len())
	m.mu.Lock()
	_, ok := m.buckets["fresh"]
	m.mu.Unlock()
	assert.True(t, ok, "recent bucket should survive eviction")
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	m := NewMemoryLimiter(0.001, 50)
	t.Cleanup(func() { _ = m.Close() })

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				ok, err := m.Allow(context.Background(), "shared")
				assert.NoError(t, err)
				if ok {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), allowed.Load())
}

func TestMemoryLimiter_CloseIdempotent(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestNew_DisabledIsNoop(t *testing.T) {
	l := New(0, 10)
	_, ok := l.(NoopLimiter)
	require.True(t, ok)
	assert.Equal(t, 100, allowN(t, l, "k", 100))
	assert.NoError(t, l.Close())
}
