// Package ratelimit throttles provider calls per provider/model with an
// in-process token bucket and an optional Redis fixed window shared across
// processes. When Redis fails the limiter degrades to local-only limiting.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-promptflow/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-promptflow/internal/llm/errors"
	"github.com/ahrav/go-promptflow/internal/llm/transport"
)

// Redis client settings for the global limiter.
const (
	RedisReadTimeout  = 5 * time.Second
	RedisWriteTimeout = 5 * time.Second
	RedisPoolSize     = 10
)

// Limiter scopes reported in RateLimitError.Scope.
const (
	ScopeLocal    = "local"
	ScopeGlobal   = "global"
	ScopeFallback = "fallback"
)

const (
	// FallbackRate bounds traffic while Redis is unreachable and no local
	// limit is configured.
	FallbackRate = 10

	// DegradedRecheck is how long the limiter stays local-only before it
	// tries Redis again.
	DegradedRecheck = 30 * time.Second

	// LimiterTTL evicts buckets that have not been used for this long.
	LimiterTTL      = time.Hour
	CleanupInterval = 10 * time.Minute
)

var (
	errNegativeTokens   = errors.New("invalid local rate limit: TokensPerSecond cannot be negative")
	errNegativeBurst    = errors.New("invalid local rate limit: BurstSize cannot be negative")
	errBurstWithoutRate = errors.New("invalid local rate limit: BurstSize must be 0 when TokensPerSecond is 0")
	errNegativeGlobal   = errors.New("invalid global rate limit: RequestsPerSecond cannot be negative")
)

// Observer is notified whenever a request is rejected.
type Observer interface {
	ObserveRateLimited(provider, model, scope string)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Limiter) {
		if l != nil {
			r.logger = l.With("component", "ratelimit")
		}
	}
}

// WithObserver reports rejections to o.
func WithObserver(o Observer) Option {
	return func(r *Limiter) { r.observer = o }
}

// WithRedisClient uses client for the global limit instead of dialing
// cfg.Global.RedisAddr.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(r *Limiter) { r.client = client }
}

// WithClock overrides time.Now for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Limiter) { r.now = now }
}

// Limiter enforces local and global request rates. It is safe for
// concurrent use.
type Limiter struct {
	local  configuration.LocalRateLimitConfig
	global configuration.GlobalRateLimitConfig

	mu       sync.RWMutex
	limiters map[string]*timedLimiter

	client     redis.UniversalClient
	ownsClient bool
	// degradedUntil is the unix-nano instant until which Redis is skipped.
	degradedUntil atomic.Int64

	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup
}

// New validates cfg and builds a Limiter. When the global limit is enabled
// and no client is supplied, it dials Redis; a failed ping starts the limiter
// in degraded mode rather than failing construction.
func New(cfg configuration.RateLimitConfig, opts ...Option) (*Limiter, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	l := &Limiter{
		local:    cfg.Local,
		global:   cfg.Global,
		limiters: make(map[string]*timedLimiter),
		logger:   slog.Default().With("component", "ratelimit"),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	if cfg.Global.Enabled && l.client == nil {
		l.client = redis.NewClient(&redis.Options{
			Addr:         cfg.Global.RedisAddr,
			Password:     cfg.Global.RedisPassword,
			DB:           cfg.Global.RedisDB,
			DialTimeout:  cfg.Global.ConnectTimeout,
			ReadTimeout:  RedisReadTimeout,
			WriteTimeout: RedisWriteTimeout,
			PoolSize:     RedisPoolSize,
		})
		l.ownsClient = true

		timeout := cfg.Global.ConnectTimeout
		if timeout <= 0 {
			timeout = configuration.DefaultConnectTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := l.client.Ping(ctx).Err(); err != nil {
			l.logger.Warn("Redis connection failed, using local-only rate limiting", "error", err)
			l.degrade()
		}
	}

	l.done.Add(1)
	go l.cleanupLoop()
	return l, nil
}

func validate(cfg configuration.RateLimitConfig) error {
	if cfg.Local.Enabled {
		if cfg.Local.TokensPerSecond < 0 {
			return fmt.Errorf("%w (got %f)", errNegativeTokens, cfg.Local.TokensPerSecond)
		}
		if cfg.Local.BurstSize < 0 {
			return fmt.Errorf("%w (got %d)", errNegativeBurst, cfg.Local.BurstSize)
		}
		if cfg.Local.TokensPerSecond == 0 && cfg.Local.BurstSize > 0 {
			return errBurstWithoutRate
		}
	}
	if cfg.Global.Enabled && cfg.Global.RequestsPerSecond < 0 {
		return fmt.Errorf("%w (got %d)", errNegativeGlobal, cfg.Global.RequestsPerSecond)
	}
	return nil
}

// Middleware returns the transport middleware enforcing the limits.
func (l *Limiter) Middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			if err := l.Allow(ctx, req.Key()); err != nil {
				if l.observer != nil {
					l.observer.ObserveRateLimited(req.Provider, req.Model, scopeOf(err))
				}
				return nil, err
			}
			return next.Handle(ctx, req)
		})
	}
}

// Allow admits or rejects one request for key. Rejections are
// *errors.RateLimitError.
func (l *Limiter) Allow(ctx context.Context, key string) error {
	if l.local.Enabled {
		if err := l.checkLocal(key); err != nil {
			return err
		}
	}

	if !l.global.Enabled {
		return nil
	}

	if !l.Degraded() {
		err := l.checkGlobal(ctx, key)
		var rlErr *llmerrors.RateLimitError
		switch {
		case err == nil, errors.As(err, &rlErr):
			return err
		case ctx.Err() != nil:
			// Caller cancellation says nothing about Redis health.
			return err
		}
		l.logger.Warn("Redis error, switching to degraded mode", "error", err)
		l.degrade()
	}

	// Degraded: local limit already applied, or a conservative fallback.
	if !l.local.Enabled {
		return l.checkFallback(key)
	}
	return nil
}

// Degraded reports whether the global limiter is currently bypassed.
func (l *Limiter) Degraded() bool {
	return l.now().UnixNano() < l.degradedUntil.Load()
}

func (l *Limiter) degrade() {
	l.degradedUntil.Store(l.now().Add(DegradedRecheck).UnixNano())
}

// Close stops background cleanup and closes a Redis client the limiter
// created itself.
func (l *Limiter) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	l.done.Wait()
	if l.ownsClient && l.client != nil {
		return l.client.Close()
	}
	return nil
}

func (l *Limiter) cleanupLoop() {
	defer l.done.Done()
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictStale()
		case <-l.stop:
			return
		}
	}
}
