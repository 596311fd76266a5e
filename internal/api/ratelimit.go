package api

import (
    "sync"

    lru "github.com/hashicorp/golang-lru/v2"
    "golang.org/x/time/rate"
)

// maxLimiters bounds the number of tracked principals.
const maxLimiters = 4096

// limiterSet hands out one token bucket per key (tenant + subject).
type limiterSet struct {
    limit rate.Limit
    burst int

    mu       sync.Mutex
    limiters *lru.Cache[string, *rate.Limiter]
}

// newLimiterSet returns nil when rps is not positive, which disables limiting.
func newLimiterSet(rps float64, burst int) *limiterSet {
    if rps <= 0 {
        return nil
    }
    if burst <= 0 {
        burst = 1
    }
    cache, _ := lru.New[string, *rate.Limiter](maxLimiters)
    return &limiterSet{limit: rate.Limit(rps), burst: burst, limiters: cache}
}

func (l *limiterSet) allow(key string) bool {
    if l == nil {
        return true
    }
    l.mu.Lock()
    lim, ok := l.limiters.Get(key)
    if !ok {
        lim = rate.NewLimiter(l.limit, l.burst)
        l.limiters.Add(key, lim)
    }
    l.mu.Unlock()
    return lim.Allow()
}
