// Package cache provides a TTL cache with a single-flight get-or-compute
// primitive.
//
// Entries are stored in a bounded LRU (hashicorp/golang-lru) and expire
// according to an injectable clock. Concurrent callers that miss the same key
// share one in-flight computation (golang.org/x/sync/singleflight), and every
// caller in the same window observes the value that computation produced.
//
// # Usage
//
//	c, err := cache.New[float64](30*time.Second)
//	v, err := c.GetOrCompute(ctx, "scan", func(ctx context.Context) (float64, error) {
//	    return computeFactor(ctx)
//	})
package cache
