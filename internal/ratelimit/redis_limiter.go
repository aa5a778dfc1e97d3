package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow trims the window, admits the request when there is room and reports the
// earliest reset. Arguments are pre-formatted so the script never converts numbers to strings.
var slidingWindow = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[2])
local count = redis.call("ZCARD", KEYS[1])
local allowed = 0
if count < tonumber(ARGV[3]) then
	redis.call("ZADD", KEYS[1], ARGV[1], ARGV[4])
	count = count + 1
	allowed = 1
end
redis.call("PEXPIRE", KEYS[1], ARGV[5])
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local reset = tonumber(ARGV[1])
if oldest[2] then
	reset = tonumber(oldest[2])
end
return {allowed, count, reset}
`)

// RedisLimiter implements Limiter using Redis sorted sets and a sliding window.
type RedisLimiter struct {
	client redis.UniversalClient
	log    *slog.Logger
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter creates a Redis-backed Limiter implementation.
func NewRedisLimiter(client redis.UniversalClient, log *slog.Logger) *RedisLimiter {
	if log == nil {
		log = slog.Default()
	}

	return &RedisLimiter{
		client: client,
		log:    log,
	}
}

// Check evaluates the rate limit for a given key atomically.
func (l *RedisLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	if l.client == nil {
		return nil, errors.New("redis client is not configured for rate limiting")
	}

	now := time.Now()
	if limit <= 0 {
		return &Result{Allowed: false, Remaining: 0, ResetAt: now.Add(window)}, nil
	}

	nowMs := now.UnixMilli()
	windowMs := window.Milliseconds()

	raw, err := slidingWindow.Run(ctx, l.client, []string{"ratelimit:" + key},
		strconv.FormatInt(nowMs, 10),
		strconv.FormatInt(nowMs-windowMs, 10),
		strconv.Itoa(limit),
		uuid.NewString(),
		strconv.FormatInt(windowMs*2, 10),
	).Int64Slice()
	if err != nil {
		l.log.Error("rate limiter script failed", slog.String("key", key), slog.Any("error", err))
		return nil, err
	}
	if len(raw) != 3 {
		return nil, errors.New("unexpected rate limiter reply")
	}

	return &Result{
		Allowed:   raw[0] == 1,
		Remaining: max(limit-int(raw[1]), 0),
		ResetAt:   time.UnixMilli(raw[2]).Add(window),
	}, nil
}
