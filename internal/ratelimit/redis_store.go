package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitLua runs one fixed-window step atomically.
// KEYS[1] = counter hash, ARGV = now ms, max requests, window ms.
// Returns {allowed, remaining, reset_at_ms}.
var hitLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local window = tonumber(ARGV[3])
local data = redis.call('HMGET', KEYS[1], 'c', 'r')
local count = tonumber(data[1])
local reset = tonumber(data[2])
if (not count) or (not reset) or now > reset then
  reset = now + window
  redis.call('HSET', KEYS[1], 'c', 1, 'r', reset)
  redis.call('PEXPIRE', KEYS[1], window + 1000)
  return {1, max - 1, reset}
end
if count >= max then
  return {0, 0, reset}
end
count = redis.call('HINCRBY', KEYS[1], 'c', 1)
return {1, max - count, reset}
`)

var ErrRedisUnavailable = errors.New("rate limit redis unavailable")

// RedisStore shares counters between processes. Expired windows are
// removed by key TTL, so it needs no sweep.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "hubauth:rl"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) Hit(ctx context.Context, key string, maxRequests int, window time.Duration, now time.Time) (Result, error) {
	raw, err := hitLua.Run(ctx, s.redis, []string{s.prefix + ":" + key},
		now.UnixMilli(), maxRequests, window.Milliseconds()).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return Result{}, fmt.Errorf("%w: unexpected script result %T", ErrRedisUnavailable, raw)
	}
	nums := make([]int64, 3)
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return Result{}, fmt.Errorf("%w: unexpected script value %T", ErrRedisUnavailable, v)
		}
		nums[i] = n
	}
	return Result{
		Allowed:   nums[0] == 1,
		Remaining: int(nums[1]),
		ResetAt:   time.UnixMilli(nums[2]),
	}, nil
}

// FailOpenStore wraps a shared store and falls back to a local one when
// the shared store errors, so limits keep applying while redis is down.
type FailOpenStore struct {
	primary Store
	local   Store
	onError func(error)
}

func NewFailOpenStore(primary, local Store, onError func(error)) *FailOpenStore {
	return &FailOpenStore{primary: primary, local: local, onError: onError}
}

func (s *FailOpenStore) Hit(ctx context.Context, key string, maxRequests int, window time.Duration, now time.Time) (Result, error) {
	res, err := s.primary.Hit(ctx, key, maxRequests, window, now)
	if err == nil {
		return res, nil
	}
	if s.onError != nil {
		s.onError(err)
	}
	return s.local.Hit(ctx, key, maxRequests, window, now)
}
