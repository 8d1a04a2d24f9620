package protocol

import (
	"sync"
	"time"
)

// connRateLimiter enforces the per-connection input rate limit (default
// 100 msg/60s) with the same fixed-window counter shape as
// domain.Trigger.Allow, reused here rather than re-derived since both
// are "N events per fixed window" limiters.
type connRateLimiter struct {
	mu          sync.Mutex
	window      time.Duration
	max         int
	windowStart time.Time
	count       int
}

func newConnRateLimiter(window time.Duration, max int) *connRateLimiter {
	return &connRateLimiter{window: window, max: max}
}

func (l *connRateLimiter) Allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.count = 0
	}
	if l.count >= l.max {
		return false
	}
	l.count++
	return true
}
