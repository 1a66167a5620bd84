package httpx

import (
	"sync"
	"time"
)

const (
	memoryRateSweepInterval = 5 * time.Minute
	memoryRateMaxKeys       = 100_000
)

// memoryRateLimiter is the single-replica counterpart of redisRateLimiter:
// a window opens on a key's first hit, and hits keep counting past the limit
// so Remaining and Reset headers agree between the two backends.
type memoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*fixedWindow
	maxKeys int
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type fixedWindow struct {
	hits int
	ends time.Time
}

// NewMemoryRateLimiter returns a fixed-window limiter kept in process memory.
func NewMemoryRateLimiter() RateLimiter {
	rl := &memoryRateLimiter{
		windows: make(map[string]*fixedWindow),
		maxKeys: memoryRateMaxKeys,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

func (rl *memoryRateLimiter) Allow(key string, limit int, window time.Duration) RateDecision {
	if limit <= 0 {
		return RateDecision{Allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || !now.Before(w.ends) {
		if !ok && len(rl.windows) >= rl.maxKeys {
			rl.pruneLocked(now)
			if len(rl.windows) >= rl.maxKeys {
				// Tracking is saturated with live windows; admit untracked.
				return RateDecision{Allowed: true}
			}
		}
		w = &fixedWindow{ends: now.Add(window)}
		rl.windows[key] = w
	}
	w.hits++
	return RateDecision{Allowed: w.hits <= limit, Count: w.hits, WindowEnd: w.ends}
}

func (rl *memoryRateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *memoryRateLimiter) sweepLoop() {
	ticker := time.NewTicker(memoryRateSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			rl.pruneLocked(rl.now())
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}

func (rl *memoryRateLimiter) pruneLocked(now time.Time) {
	for key, w := range rl.windows {
		if !now.Before(w.ends) {
			delete(rl.windows, key)
		}
	}
}
