package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/nao1215/privscan/internal/clock"
)

// DefaultSize is the maximum number of keys held when WithSize is not given.
const DefaultSize = 1024

// ErrInvalidTTL is returned by New when the TTL is not positive.
var ErrInvalidTTL = errors.New("cache: ttl must be positive")

// ComputeFunc produces a fresh value for a key.
type ComputeFunc[V any] func(ctx context.Context) (V, error)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a keyed cache whose entries expire after a fixed duration.
// It is safe for concurrent use.
type TTL[V any] struct {
	ttl     time.Duration
	clock   clock.Clock
	mu      sync.Mutex
	entries *lru.Cache[string, entry[V]]
	group   singleflight.Group
}

type options struct {
	clock clock.Clock
	size  int
}

// Option configures a TTL cache.
type Option func(*options)

// WithClock sets the time source used for expiry.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithSize bounds the number of keys kept. Non-positive values are ignored.
func WithSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.size = n
		}
	}
}

// New creates a TTL cache.
func New[V any](ttl time.Duration, opts ...Option) (*TTL[V], error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	o := options{size: DefaultSize}
	for _, opt := range opts {
		opt(&o)
	}
	entries, err := lru.New[string, entry[V]](o.size)
	if err != nil {
		return nil, err
	}
	return &TTL[V]{
		ttl:     ttl,
		clock:   clock.OrSystem(o.clock),
		entries: entries,
	}, nil
}

// Get returns the cached value for key if it has not expired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(key)
}

// Set stores value under key, replacing any existing entry.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	c.entries.Add(key, entry[V]{value: value, expiresAt: c.clock.Now().Add(c.ttl)})
	c.mu.Unlock()
}

// Invalidate drops key from the cache.
func (c *TTL[V]) Invalidate(key string) {
	c.mu.Lock()
	c.entries.Remove(key)
	c.mu.Unlock()
}

// GetOrCompute returns the cached value for key, computing and storing it
// when absent or expired. At most one computation per key runs at a time;
// callers arriving while it runs wait for and share its result. Errors are
// returned to every waiting caller and are not cached.
//
// The computation runs with a context detached from the caller's
// cancellation, so one caller giving up does not fail the others.
func (c *TTL[V]) GetOrCompute(ctx context.Context, key string, compute ComputeFunc[V]) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		// A flight that finished between our miss and this call may have
		// already stored a fresh value.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	v, _ := res.(V)
	return v, nil
}

// Len returns the number of stored keys, including expired ones not yet
// evicted.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

func (c *TTL[V]) lookupLocked(key string) (V, bool) {
	e, ok := c.entries.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		c.entries.Remove(key)
		var zero V
		return zero, false
	}
	return e.value, true
}
