// store.go: Redis-backed counter store for distributed fixed windows
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterStore is the atomic increment-with-expiry primitive all window
// strategies count against. Implementations must be safe under concurrent
// callers across process instances; expiry is enforced store-side, never by
// callers polling.
type CounterStore interface {
	// Increment atomically increments key and, on the transition from
	// absent to 1, arms an expiry equal to window. Returns the count after
	// the increment.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	// Get returns the current count, 0 when the key is absent or expired.
	Get(ctx context.Context, key string) (int64, error)
	// Reset removes the counter.
	Reset(ctx context.Context, key string) error
}

// RedisStore wraps go-redis for dependency injection and testability
// (can be extended for cluster/sharded setups).
type RedisStore struct {
	Client *redis.Client
}

// NewRedisStore creates a new Redis-backed counter store from options.
func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{
		Client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// Uses a Lua script so the increment and the first-write expiry are a single
// atomic step; a plain INCR+EXPIRE pair can leak an immortal counter if the
// client dies between the two calls.
var incrWithExpiryScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// Increment implements CounterStore.
func (rs *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	res, err := incrWithExpiryScript.Run(ctx, rs.Client, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return 0, fmt.Errorf("counter increment failed: %w", err)
	}
	count, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected redis script result: %v", res)
	}
	return count, nil
}

// Get implements CounterStore.
func (rs *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	count, err := rs.Client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("counter read failed: %w", err)
	}
	return count, nil
}

// Reset implements CounterStore.
func (rs *RedisStore) Reset(ctx context.Context, key string) error {
	if err := rs.Client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("counter reset failed: %w", err)
	}
	return nil
}

// TTL returns the remaining lifetime of a counter, for operational
// inspection. Returns 0 when the key has no expiry or does not exist.
func (rs *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := rs.Client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Ping verifies store connectivity.
func (rs *RedisStore) Ping(ctx context.Context) error {
	return rs.Client.Ping(ctx).Err()
}
