package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	acceptCleanupInterval = time.Minute
	acceptIdleTTL         = 5 * time.Minute
)

// AcceptRateLimiter keeps one token bucket per peer IP and decides whether a
// freshly accepted connection may be admitted. A zero rate disables it.
type AcceptRateLimiter struct {
	mu            sync.Mutex
	limiters      map[string]*acceptEntry
	limit         rate.Limit
	burst         int
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

type acceptEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewAcceptRateLimiter creates a limiter admitting perSecond connections per
// IP with the given burst.
func NewAcceptRateLimiter(perSecond float64, burst int) *AcceptRateLimiter {
	rl := &AcceptRateLimiter{
		limiters:    make(map[string]*acceptEntry),
		limit:       rate.Limit(perSecond),
		burst:       burst,
		stopCleanup: make(chan struct{}),
	}
	if rl.Enabled() {
		rl.cleanupTicker = time.NewTicker(acceptCleanupInterval)
		go rl.cleanupLoop()
	}
	return rl
}

// Enabled reports whether accepts are rate limited at all.
func (rl *AcceptRateLimiter) Enabled() bool {
	return rl.limit > 0
}

// Allow reports whether a connection from ip may be admitted now.
func (rl *AcceptRateLimiter) Allow(ip string) bool {
	if !rl.Enabled() || ip == "" {
		return true
	}
	return rl.allowAt(ip, time.Now())
}

func (rl *AcceptRateLimiter) allowAt(ip string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[ip]
	if !exists {
		entry = &acceptEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Len returns the number of tracked IPs.
func (rl *AcceptRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *AcceptRateLimiter) cleanupLoop() {
	for {
		select {
		case now := <-rl.cleanupTicker.C:
			rl.cleanup(now)
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *AcceptRateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for ip, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > acceptIdleTTL {
			delete(rl.limiters, ip)
		}
	}
}

// Close stops the cleanup goroutine.
func (rl *AcceptRateLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.stopCleanup)
		if rl.cleanupTicker != nil {
			rl.cleanupTicker.Stop()
		}
	})
}
