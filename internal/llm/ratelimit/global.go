package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	llmerrors "github.com/ahrav/go-promptflow/internal/llm/errors"
)

const (
	globalWindow         = time.Second
	minRetryAfterSeconds = 1
	maxRetryAfterSeconds = 3600
)

var errMalformedScriptReply = errors.New("malformed rate limit script reply")

// fixedWindowScript counts requests per key in a fixed window. It returns
// {1, remaining} when the request is admitted and {0, pttl} when denied.
var fixedWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local window = tonumber(ARGV[1])
	local limit = tonumber(ARGV[2])

	local current = redis.call('GET', key)
	if current == false then
		redis.call('SET', key, 1, 'PX', window)
		return {1, limit - 1}
	end

	local count = tonumber(current)
	if count < limit then
		local newCount = redis.call('INCR', key)
		if redis.call('PTTL', key) == -1 then
			redis.call('PEXPIRE', key, window)
		end
		return {1, limit - newCount}
	end

	return {0, redis.call('PTTL', key)}
`)

// checkGlobal runs the fixed window script for key. A zero limit disables
// the global check. Errors other than *RateLimitError indicate Redis
// trouble.
func (l *Limiter) checkGlobal(ctx context.Context, key string) error {
	if l.client == nil || l.global.RequestsPerSecond == 0 {
		return nil
	}
	limit := int64(l.global.RequestsPerSecond)

	result, err := fixedWindowScript.Run(ctx, l.client, []string{"rl:global:" + key},
		globalWindow.Milliseconds(), limit).Int64Slice()
	if err != nil {
		return fmt.Errorf("global rate limit check failed: %w", err)
	}
	if len(result) < 2 {
		return fmt.Errorf("%w: %v", errMalformedScriptReply, result)
	}

	if result[0] == 1 {
		return nil
	}

	ttlMs := result[1]
	if ttlMs <= 0 {
		ttlMs = globalWindow.Milliseconds()
	}
	retryAfter := int((ttlMs + 999) / 1000)
	retryAfter = min(max(retryAfter, minRetryAfterSeconds), maxRetryAfterSeconds)

	return &llmerrors.RateLimitError{
		Scope:      ScopeGlobal,
		Key:        key,
		Limit:      int(limit),
		RetryAfter: retryAfter,
	}
}
