package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript increments the counter and starts its window in one round trip
// so concurrent writers from separate processes cannot both slip past the
// limit. A key left without a TTL gets one.
var incrScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

var _ CounterStore = (*RedisStore)(nil)

// RedisStore is a CounterStore shared by every server process.
type RedisStore struct {
	client redis.Scripter
}

// NewRedisStore wraps a Redis client.
func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client}
}

// IncrementAndGet implements CounterStore.
func (s *RedisStore) IncrementAndGet(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	ms := ttl.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	res, err := incrScript.Run(ctx, s.client, []string{key}, ms).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("incr %s: unexpected reply %v", key, res)
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}
