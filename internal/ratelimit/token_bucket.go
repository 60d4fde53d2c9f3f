package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const shopKeyPrefix = "ratelimit:shop:"

// ShopLimiter throttles event intake per shop with a token bucket kept in
// Redis, so one noisy shop cannot flood the automation queue for everyone
// else. Buckets refill continuously and expire after ttl of shop inactivity.
type ShopLimiter struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
}

// NewShopLimiter constructs a limiter with the provided capacity/refill.
func NewShopLimiter(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *ShopLimiter {
	return &ShopLimiter{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
	}
}

func shopKey(shopID string) string {
	return shopKeyPrefix + shopID
}

// Allow consumes one token from the shop's bucket if available. The second
// return value is the remaining token count for surfacing in logs; Lua
// truncates it to a whole number on the way back.
func (l *ShopLimiter) Allow(ctx context.Context, shopID string) (bool, float64, error) {
	res, err := shopBucketScript.Run(ctx, l.client, []string{shopKey(shopID)},
		l.capacity, l.refill, time.Now().UnixMilli(), l.ttl.Milliseconds()).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit shop %s: %w", shopID, err)
	}
	if len(res) < 2 {
		return false, 0, fmt.Errorf("rate limit shop %s: short script reply %v", shopID, res)
	}
	granted, _ := res[0].(int64)
	var remaining float64
	switch v := res[1].(type) {
	case int64:
		remaining = float64(v)
	case float64:
		remaining = v
	}
	return granted == 1, remaining, nil
}

var shopBucketScript = redis.NewScript(`
local bucket = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2]) -- tokens per second
local now_ms = tonumber(ARGV[3])
local idle_ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', bucket, 'tokens', 'refreshed_ms')
local tokens = tonumber(state[1]) or capacity
local refreshed = tonumber(state[2]) or now_ms

local elapsed = now_ms - refreshed
if elapsed < 0 then elapsed = 0 end
tokens = math.min(capacity, tokens + elapsed * rate / 1000)

local granted = 0
if tokens >= 1 then
  tokens = tokens - 1
  granted = 1
end

redis.call('HMSET', bucket, 'tokens', tokens, 'refreshed_ms', now_ms)
if idle_ttl > 0 then
  redis.call('PEXPIRE', bucket, idle_ttl)
end
return {granted, tokens}
`)
