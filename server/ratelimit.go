package server

import (
	"strconv"
	"sync"
	"time"
)

// rateLimiter is a fixed-window per-key counter used to slow down password
// guessing on the login endpoint. State is in-process; a multi-instance
// deployment gets per-instance limits, which is acceptable for this purpose.
type rateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*rateBucket
	nowFunc func() time.Time
}

type rateBucket struct {
	windowStart time.Time
	count       int
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*rateBucket),
		nowFunc: time.Now,
	}
}

// Allow reports whether key may proceed. When the limit is hit it returns
// the number of seconds the caller should wait, suitable for Retry-After.
func (l *rateLimiter) Allow(key string) (bool, int) {
	if l.limit <= 0 {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= l.window {
		l.buckets[key] = &rateBucket{windowStart: now, count: 1}
		l.sweep(now)
		return true, 0
	}

	if b.count >= l.limit {
		retryAfter := int(l.window.Seconds() - now.Sub(b.windowStart).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		return false, retryAfter
	}
	b.count++
	return true, 0
}

// sweep drops expired buckets. Called under the lock from Allow, so the map
// cannot grow unboundedly with one-off client addresses.
func (l *rateLimiter) sweep(now time.Time) {
	if len(l.buckets) < 1024 {
		return
	}
	for key, b := range l.buckets {
		if now.Sub(b.windowStart) >= l.window {
			delete(l.buckets, key)
		}
	}
}

func retryAfterHeader(seconds int) string {
	return strconv.Itoa(seconds)
}
