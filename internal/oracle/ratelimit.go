package oracle

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// keyedLimiter enforces the minimum publish interval per asset using a
// token bucket per key.
type keyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration
}

func newKeyedLimiter(minInterval time.Duration) *keyedLimiter {
	if minInterval <= 0 {
		minInterval = 5 * time.Second
	}
	return &keyedLimiter{
		limiters: make(map[string]*rate.Limiter),
		interval: minInterval,
	}
}

// Allow reports whether the asset may publish now, consuming a token when
// it may.
func (k *keyedLimiter) Allow(asset string) bool {
	k.mu.Lock()
	limiter, ok := k.limiters[asset]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(k.interval), 1)
		k.limiters[asset] = limiter
	}
	k.mu.Unlock()
	return limiter.Allow()
}
