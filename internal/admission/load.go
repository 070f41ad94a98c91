package admission

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/nao1215/privscan/internal/cache"
	"github.com/nao1215/privscan/internal/clock"
	"github.com/nao1215/privscan/internal/model"
)

const (
	// DefaultLoadThreshold is the pending-job count above which limits shrink.
	DefaultLoadThreshold = 100
	// DefaultLoadTTL is how long a computed multiplier is reused.
	DefaultLoadTTL = 30 * time.Second

	maxLoadFactor       = 3.0
	minBacklogFactor    = 0.1
	failureRatioTrigger = 0.10
	minFailureFactor    = 0.5
)

// MetricsSource reports queue depth. queue.Broker implements it.
type MetricsSource interface {
	Metrics(ctx context.Context, queue string) (model.QueueMetrics, error)
}

// LoadMultiplier is the pure backpressure rule: a backlog above threshold
// shrinks limits down to a tenth, otherwise a failure ratio above 10%
// shrinks them down to a half. The ratio is over jobs awaiting a retry;
// dead-lettered jobs no longer weigh on the queue and are not counted.
func LoadMultiplier(m model.QueueMetrics, threshold int) float64 {
	if threshold > 0 && m.TotalPending > int64(threshold) {
		factor := math.Min(float64(m.TotalPending)/float64(threshold), maxLoadFactor)
		return math.Max(minBacklogFactor, 1/factor)
	}
	total := m.TotalPending + m.Failed
	if total <= 0 {
		return 1.0
	}
	ratio := float64(m.Failed) / float64(total)
	if ratio > failureRatioTrigger {
		return math.Max(minFailureFactor, 1-ratio)
	}
	return 1.0
}

// LoadAdjuster computes and caches the backpressure multiplier per feature.
type LoadAdjuster struct {
	source    MetricsSource
	queue     string
	threshold int
	logger    *slog.Logger
	cache     *cache.TTL[float64]
}

type loadOptions struct {
	threshold int
	ttl       time.Duration
	clock     clock.Clock
	logger    *slog.Logger
}

// LoadOption configures a LoadAdjuster.
type LoadOption func(*loadOptions)

// WithThreshold overrides DefaultLoadThreshold.
func WithThreshold(n int) LoadOption {
	return func(o *loadOptions) {
		o.threshold = n
	}
}

// WithLoadTTL overrides DefaultLoadTTL.
func WithLoadTTL(ttl time.Duration) LoadOption {
	return func(o *loadOptions) {
		o.ttl = ttl
	}
}

// WithLoadClock sets the time source used for cache expiry.
func WithLoadClock(c clock.Clock) LoadOption {
	return func(o *loadOptions) {
		o.clock = c
	}
}

// WithLoadLogger sets the logger used to report metric read failures.
func WithLoadLogger(logger *slog.Logger) LoadOption {
	return func(o *loadOptions) {
		o.logger = logger
	}
}

// NewLoadAdjuster returns an adjuster reading metrics of queue from source.
func NewLoadAdjuster(source MetricsSource, queue string, opts ...LoadOption) (*LoadAdjuster, error) {
	o := loadOptions{threshold: DefaultLoadThreshold, ttl: DefaultLoadTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	c, err := cache.New[float64](o.ttl, cache.WithClock(o.clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create load cache: %w", err)
	}
	return &LoadAdjuster{
		source:    source,
		queue:     queue,
		threshold: o.threshold,
		logger:    o.logger,
		cache:     c,
	}, nil
}

// Multiplier returns the current multiplier for feature. Concurrent callers
// in an uncomputed window share one metrics read. Read failures yield 1.0
// and are not cached.
func (a *LoadAdjuster) Multiplier(ctx context.Context, feature string) float64 {
	v, err := a.cache.GetOrCompute(ctx, feature, func(ctx context.Context) (float64, error) {
		m, err := a.source.Metrics(ctx, a.queue)
		if err != nil {
			return 0, err
		}
		return LoadMultiplier(m, a.threshold), nil
	})
	if err != nil {
		a.logger.Warn("failed to read queue metrics, skipping load adjustment",
			"feature", feature, "queue", a.queue, "error", err)
		return 1.0
	}
	return v
}
