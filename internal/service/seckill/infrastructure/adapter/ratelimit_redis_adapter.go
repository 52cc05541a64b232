package adapter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"seckill/internal/pkg/redis"
	"seckill/internal/service/seckill/domain/port"
)

const slidingWindowScriptName = "sliding_window"

// RateLimitRedisAdapter 用 sorted set 实现分布式滑动窗口，score 是请求时间(毫秒)。
// 被拒绝的请求不会写入窗口。
type RateLimitRedisAdapter struct {
	redisClient *redis.Client
}

func NewRateLimitRedisAdapter(redisClient *redis.Client) (*RateLimitRedisAdapter, error) {
	if err := redisClient.LoadScriptFromContent(slidingWindowScriptName, slidingWindowScript); err != nil {
		return nil, errors.Wrap(err, "failed to load sliding window script")
	}
	return &RateLimitRedisAdapter{redisClient: redisClient}, nil
}

func (a *RateLimitRedisAdapter) Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (port.RateLimitDecision, error) {
	nowMs := now.UnixMilli()
	result, err := a.redisClient.RunScript(ctx, slidingWindowScriptName,
		[]string{"seckill:ratelimit:{" + key + "}"},
		nowMs, window.Milliseconds(), limit, uuid.NewString())
	if err != nil {
		return port.RateLimitDecision{}, errors.Wrapf(err, "sliding window for %s", key)
	}

	vals, ok := result.([]interface{})
	if !ok || len(vals) < 3 {
		return port.RateLimitDecision{}, errors.Errorf("unexpected sliding window result: %v", result)
	}
	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	oldest, _ := vals[2].(int64)

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return port.RateLimitDecision{
		Allowed:   allowed == 1,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   time.UnixMilli(oldest).Add(window),
	}, nil
}

var slidingWindowScript = `
-- KEYS[1]: 限流 key
-- ARGV[1]: 当前时间(毫秒) ARGV[2]: 窗口长度(毫秒) ARGV[3]: 上限 ARGV[4]: 本次请求的唯一 member

local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('zremrangebyscore', KEYS[1], '-inf', now - window)
local count = redis.call('zcard', KEYS[1])

local allowed = 0
if count < limit then
    redis.call('zadd', KEYS[1], now, ARGV[4])
    redis.call('pexpire', KEYS[1], window)
    count = count + 1
    allowed = 1
end

local oldest = now
local first = redis.call('zrange', KEYS[1], 0, 0, 'WITHSCORES')
if first[2] then
    oldest = tonumber(first[2])
end
return {allowed, count, oldest}
`
