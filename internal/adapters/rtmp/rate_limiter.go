package rtmp

import (
	"sync"
	"time"
)

// ConnectLimiter allows at most limit connections per remote host in any
// sliding window of interval.
type ConnectLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

// NewConnectLimiter returns nil when limit is not positive; a nil limiter
// allows everything.
func NewConnectLimiter(limit int, interval time.Duration) *ConnectLimiter {
	if limit <= 0 || interval <= 0 {
		return nil
	}
	return &ConnectLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *ConnectLimiter) Allow(host string) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[host]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[host] = fresh
		return false
	}
	rl.history[host] = append(fresh, now)
	rl.prune(windowStart)
	return true
}

// prune forgets hosts whose last attempt left the window.
func (rl *ConnectLimiter) prune(windowStart time.Time) {
	for host, attempts := range rl.history {
		if len(attempts) == 0 || !attempts[len(attempts)-1].After(windowStart) {
			delete(rl.history, host)
		}
	}
}
