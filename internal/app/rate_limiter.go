package app

import (
	"sync"
	"time"

	"github.com/TumwekwaseAmiim/amiim-world/internal/core"
)

// SenderRateLimiter keeps chat/emoji floods from drowning a room. Delivery
// stays best-effort: over-limit messages are dropped, not errored.
type SenderRateLimiter struct {
	mu       sync.Mutex
	history  map[core.ConnID][]time.Time
	limit    int
	interval time.Duration
}

func NewSenderRateLimiter(limit int, interval time.Duration) *SenderRateLimiter {
	return &SenderRateLimiter{
		history:  make(map[core.ConnID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *SenderRateLimiter) Allow(id core.ConnID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[id]
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[id] = fresh
		return false
	}

	rl.history[id] = append(fresh, now)
	return true
}

func (rl *SenderRateLimiter) Forget(id core.ConnID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, id)
}
