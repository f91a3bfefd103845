package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	redisclient "github.com/reliefwallet/credential-engine/internal/redis"
)

var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

local windowStart = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = 0
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    else
        resetAt = now + window
    end
    return {0, 0, math.floor(resetAt / 1000)}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window + 10000)

local remaining = limit - count - 1
local resetAt = now + window

return {1, remaining, math.floor(resetAt / 1000)}
`)

// RedisRateLimiter shares limits across instances. While Redis is
// unreachable it falls back to a process-local window instead of letting
// everything through.
type RedisRateLimiter struct {
	client   redis.Scripter
	scope    string
	fallback *RateLimiter
	seq      func() string
}

func NewRedisRateLimiter(client *redisclient.Client, scope string) *RedisRateLimiter {
	return &RedisRateLimiter{
		client:   client,
		scope:    scope,
		fallback: NewRateLimiter(),
		seq:      uniqueMember,
	}
}

func (rl *RedisRateLimiter) Check(ctx context.Context, subject string, limit int) (allowed bool, remaining int, resetAt int64) {
	now := time.Now().UnixMilli()
	key := redisclient.RateLimitKey(rl.scope, subject)

	result, err := rateLimitScript.Run(ctx, rl.client, []string{key},
		now, windowDuration.Milliseconds(), limit, rl.seq()).Int64Slice()
	if err != nil || len(result) != 3 {
		log.Warn().Err(err).Str("scope", rl.scope).Msg("redis rate limit check failed, using local limiter")
		return rl.fallback.Check(ctx, key, limit)
	}

	return result[0] == 1, int(result[1]), result[2]
}

func uniqueMember() string {
	return uuid.NewString()
}
