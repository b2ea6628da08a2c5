package spawnqueue

import (
	"sync"

	"golang.org/x/time/rate"
)

// requesterLimiter throttles calls per key using a per-key token
// bucket, one independent limiter per key. Manager keys it by swarm ID.
type requesterLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

func newRequesterLimiter(ratePerSec float64, burst int) *requesterLimiter {
	return &requesterLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(ratePerSec),
		b:        burst,
	}
}

func (l *requesterLimiter) Allow(handle string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[handle]
	if !ok {
		lim = rate.NewLimiter(l.r, l.b)
		l.limiters[handle] = lim
	}
	return lim.Allow()
}
