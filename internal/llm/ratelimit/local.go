package ratelimit

import (
	"errors"
	"math"
	"sync/atomic"

	"golang.org/x/time/rate"

	llmerrors "github.com/ahrav/go-promptflow/internal/llm/errors"
)

// timedLimiter pairs a token bucket with its last use for eviction.
type timedLimiter struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64
}

func (l *Limiter) checkLocal(key string) error {
	lim := l.bucket(key, rate.Limit(l.local.TokensPerSecond), l.local.BurstSize)
	return l.take(lim, ScopeLocal, key, int(l.local.TokensPerSecond))
}

func (l *Limiter) checkFallback(key string) error {
	lim := l.bucket(ScopeFallback+":"+key, rate.Limit(FallbackRate), FallbackRate)
	return l.take(lim, ScopeFallback, key, FallbackRate)
}

// take consumes one token or reports how long until one is available.
func (l *Limiter) take(lim *rate.Limiter, scope, key string, limit int) error {
	if lim.AllowN(l.now(), 1) {
		return nil
	}

	// Reserve only to learn the delay; cancel so a rejected request does
	// not consume a future token.
	retryAfter := 1
	now := l.now()
	if res := lim.ReserveN(now, 1); res.OK() {
		retryAfter = max(int(math.Ceil(res.DelayFrom(now).Seconds())), 1)
		res.CancelAt(now)
	}
	return &llmerrors.RateLimitError{
		Scope:      scope,
		Key:        key,
		Limit:      limit,
		RetryAfter: retryAfter,
	}
}

// bucket returns the limiter for key, creating it on first use.
func (l *Limiter) bucket(key string, r rate.Limit, burst int) *rate.Limiter {
	now := l.now().UnixNano()

	l.mu.RLock()
	tl, ok := l.limiters[key]
	l.mu.RUnlock()
	if ok {
		tl.lastUsed.Store(now)
		return tl.limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if tl, ok := l.limiters[key]; ok {
		tl.lastUsed.Store(now)
		return tl.limiter
	}
	tl = &timedLimiter{limiter: rate.NewLimiter(r, burst)}
	tl.lastUsed.Store(now)
	l.limiters[key] = tl
	return tl.limiter
}

// evictStale drops buckets idle for longer than LimiterTTL.
func (l *Limiter) evictStale() {
	cutoff := l.now().Add(-LimiterTTL).UnixNano()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, tl := range l.limiters {
		if tl.lastUsed.Load() < cutoff {
			delete(l.limiters, key)
		}
	}
}

// scopeOf extracts the limiter scope from a rejection.
func scopeOf(err error) string {
	var rlErr *llmerrors.RateLimitError
	if errors.As(err, &rlErr) {
		return rlErr.Scope
	}
	return "unknown"
}
