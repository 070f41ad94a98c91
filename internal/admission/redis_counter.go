package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nao1215/privscan/internal/clock"
)

// DefaultCounterPrefix prefixes every key RedisCounter writes.
const DefaultCounterPrefix = "privscan:ratelimit:"

// RedisCounter is a Counter shared by every process using the same Redis.
type RedisCounter struct {
	client redis.UniversalClient
	prefix string
	clock  clock.Clock
}

// NewRedisCounter returns a counter storing windows in client.
func NewRedisCounter(client redis.UniversalClient, c clock.Clock) *RedisCounter {
	return &RedisCounter{client: client, prefix: DefaultCounterPrefix, clock: clock.OrSystem(c)}
}

// Hit implements Counter with INCR, setting the expiry on the first hit of
// a window. A key left without expiry is repaired on the next hit.
func (r *RedisCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	k := r.prefix + key

	count, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to increment rate counter: %w", err)
	}
	if count == 1 {
		if err := r.client.PExpire(ctx, k, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("failed to set rate window: %w", err)
		}
		return count, r.clock.Now().Add(window), nil
	}

	ttl, err := r.client.PTTL(ctx, k).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to read rate window: %w", err)
	}
	if ttl < 0 {
		if err := r.client.PExpire(ctx, k, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("failed to set rate window: %w", err)
		}
		ttl = window
	}
	return count, r.clock.Now().Add(ttl), nil
}
