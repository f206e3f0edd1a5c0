// Package ratelimit throttles inbound messages per phone number.
package ratelimit

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// idleTTL is how long a limiter survives without traffic. After a minute
// of silence a fresh limiter is equivalent to a refilled one.
const idleTTL = 10 * time.Minute

// PerKey hands out one token bucket per key.
type PerKey struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters *cache.Cache
}

// NewPerMinute allows perMinute events per key, with bursts of the same
// size. A non-positive value returns nil, which allows everything.
func NewPerMinute(perMinute int) *PerKey {
	if perMinute <= 0 {
		return nil
	}
	return &PerKey{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		limiters: cache.New(idleTTL, idleTTL),
	}
}

// Allow reports whether key may proceed now.
func (p *PerKey) Allow(key string) bool {
	if p == nil {
		return true
	}
	return p.get(key).Allow()
}

func (p *PerKey) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v, ok := p.limiters.Get(key); ok {
		lim := v.(*rate.Limiter)
		p.limiters.SetDefault(key, lim)
		return lim
	}
	lim := rate.NewLimiter(p.limit, p.burst)
	p.limiters.SetDefault(key, lim)
	return lim
}

// Len returns the number of tracked keys.
func (p *PerKey) Len() int {
	if p == nil {
		return 0
	}
	return p.limiters.ItemCount()
}
