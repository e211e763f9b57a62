package concierge

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles generation requests per visitor. The key is the
// visitor ID, not visitor:session, so rotating tab IDs does not reset it.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*visitorLimiter
	limit    rate.Limit
	burst    int
	window   time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

type visitorLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows requests per window for each key, with the whole
// allowance available as a burst. Idle keys are evicted in the background.
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	if requests <= 0 {
		requests = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	rl := &RateLimiter{
		limiters: make(map[string]*visitorLimiter),
		limit:    rate.Every(window / time.Duration(requests)),
		burst:    requests,
		window:   window,
		done:     make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

// Allow reports whether a request for key may proceed now.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.limiters[key]
	if !ok {
		v = &visitorLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.limiters[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter.Allow()
}

// Stop ends background eviction.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *RateLimiter) evictLoop() {
	ticker := time.NewTicker(r.window)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.evict(time.Now())
		}
	}
}

// evict drops limiters idle for longer than a window; they would be full again.
func (r *RateLimiter) evict(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, v := range r.limiters {
		if now.Sub(v.lastSeen) > r.window {
			delete(r.limiters, key)
		}
	}
}

func (r *RateLimiter) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}
