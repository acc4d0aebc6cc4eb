package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wudi/relay/internal/logging"
)

// RedisClient is the client surface the limiter needs. A cluster or
// sentinel client works the same as a single-node one.
type RedisClient = redis.UniversalClient

// Rate limit algorithms for the Redis backend.
const (
	AlgorithmTokenBucket   = "token_bucket"
	AlgorithmSlidingWindow = "sliding_window"
	AlgorithmFixedWindow   = "fixed_window"
)

// ValidAlgorithm reports whether a names a known algorithm.
func ValidAlgorithm(a string) bool {
	switch a {
	case AlgorithmTokenBucket, AlgorithmSlidingWindow, AlgorithmFixedWindow:
		return true
	}
	return false
}

// tokenBucketScript refills a per-key bucket at requests/window and
// debits one token. State lives in a hash so refill and debit are one
// round trip. Returns: [allowed (0/1), remaining, resetTimestampMs]
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local burst = tonumber(ARGV[4])

local rate = limit / window

local state = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil or last == nil then
    tokens = burst
    last = now
end

tokens = math.min(burst, tokens + (now - last) * rate)

local allowed = 0
if tokens >= 1 then
    allowed = 1
    tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_refill', now)
redis.call('PEXPIRE', key, window * 2)

local reset = now + window
if allowed == 0 then
    reset = now + math.ceil((1 - tokens) / rate)
end

return {allowed, math.floor(tokens), reset}
`)

// slidingWindowScript keeps request timestamps in a sorted set and
// counts those inside the window. Rejected requests report a reset at
// the moment the oldest entry ages out.
// Returns: [allowed (0/1), remaining, resetTimestampMs]
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, now .. '-' .. math.random(1000000))
    redis.call('PEXPIRE', key, window)
    return {1, limit - count - 1, now + window}
else
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local reset = now + window
    if #oldest >= 2 then
        reset = tonumber(oldest[2]) + window
    end
    return {0, 0, reset}
end
`)

// fixedWindowScript counts requests in a window keyed by INCR and lets
// the key's TTL delimit the window.
// Returns: [allowed (0/1), remaining, resetTimestampMs]
var fixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local count = redis.call('INCR', key)
if count == 1 then
    redis.call('PEXPIRE', key, window)
end

local ttl = redis.call('PTTL', key)
if ttl < 0 then
    redis.call('PEXPIRE', key, window)
    ttl = window
end

if count <= limit then
    return {1, limit - count, now + ttl}
end
return {0, 0, now + ttl}
`)

// RedisLimiter enforces limits across gateway instances. Every check
// is one atomic script call; when Redis is unreachable the limiter
// degrades to a process-local bucket with the same parameters rather
// than waving traffic through.
type RedisLimiter struct {
	client    RedisClient
	script    *redis.Script
	algorithm string
	requests  int
	window    time.Duration
	burst     int
	fallback  *LocalLimiter
}

// RedisLimiterConfig holds config for creating a RedisLimiter.
type RedisLimiterConfig struct {
	Client    RedisClient
	Algorithm string // token_bucket, sliding_window, fixed_window
	Requests  int
	Window    time.Duration
	Burst     int
}

// NewRedisLimiter creates a new Redis-backed rate limiter.
func NewRedisLimiter(cfg RedisLimiterConfig) *RedisLimiter {
	if cfg.Window == 0 {
		cfg.Window = time.Minute
	}
	if cfg.Burst == 0 {
		cfg.Burst = cfg.Requests
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmTokenBucket
	}

	var script *redis.Script
	switch cfg.Algorithm {
	case AlgorithmSlidingWindow:
		script = slidingWindowScript
	case AlgorithmFixedWindow:
		script = fixedWindowScript
	default:
		script = tokenBucketScript
	}

	return &RedisLimiter{
		client:    cfg.Client,
		script:    script,
		algorithm: cfg.Algorithm,
		requests:  cfg.Requests,
		window:    cfg.Window,
		burst:     cfg.Burst,
		fallback: NewLocalLimiter(Config{
			Requests: cfg.Requests,
			Window:   cfg.Window,
			Burst:    cfg.Burst,
		}),
	}
}

// Algorithm returns the configured algorithm name.
func (rl *RedisLimiter) Algorithm() string {
	return rl.algorithm
}

// Allow runs the limiter script for key. Redis errors degrade to the
// local fallback limiter.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) Decision {
	callCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	nowMs := time.Now().UnixMilli()
	windowMs := rl.window.Milliseconds()

	args := []interface{}{nowMs, windowMs, rl.requests}
	if rl.algorithm == AlgorithmTokenBucket || rl.algorithm == "" {
		args = append(args, rl.burst)
	}

	result, err := rl.script.Run(callCtx, rl.client, []string{key}, args...).Int64Slice()
	if err != nil || len(result) != 3 {
		logging.Warn("Redis rate limiter unavailable, degrading to local limiter",
			zap.String("algorithm", rl.algorithm),
			zap.Error(err),
		)
		return rl.fallback.Allow(ctx, key)
	}

	return Decision{
		Allowed:   result[0] == 1,
		Limit:     rl.burst,
		Remaining: int(result[1]),
		Reset:     time.UnixMilli(result[2]),
	}
}
