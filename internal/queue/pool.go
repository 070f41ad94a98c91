package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/privscan/internal/model"
)

const (
	// DefaultConcurrency is the number of workers a Pool runs.
	DefaultConcurrency = 4
	// DefaultPollInterval is how long an idle worker waits before polling again.
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultReclaimInterval is how often a Pool returns expired claims to
	// the queue when its broker is a Reclaimer.
	DefaultReclaimInterval = 30 * time.Second
)

// Processing outcomes, used as the outcome label of the processed counter.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeDead      = "dead"
)

// Handler executes one job. A returned error, or a panic, counts as a
// failed attempt.
type Handler interface {
	Handle(ctx context.Context, job *model.Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *model.Job) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, job *model.Job) error {
	return f(ctx, job)
}

// Pool runs workers that consume one queue.
type Pool struct {
	broker       Broker
	handler      Handler
	queue        string
	deadQueue    string
	concurrency  int
	pollInterval time.Duration
	jobTimeout   time.Duration
	reclaimEvery time.Duration
	logger       *slog.Logger
	processed    *prometheus.CounterVec
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithQueue sets the consumed queue and its dead-letter store.
func WithQueue(queue, deadQueue string) PoolOption {
	return func(p *Pool) {
		p.queue = queue
		p.deadQueue = deadQueue
	}
}

// WithConcurrency sets the number of workers. Values below 1 are ignored.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPollInterval sets the idle wait between polls.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithJobTimeout bounds each handler call. Zero means no bound.
func WithJobTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		p.jobTimeout = d
	}
}

// WithPoolLogger sets the logger.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithReclaimInterval sets how often expired claims are reclaimed. Zero
// disables reclaiming.
func WithReclaimInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		p.reclaimEvery = d
	}
}

// NewPool returns a pool running handler on jobs from broker.
func NewPool(broker Broker, handler Handler, opts ...PoolOption) *Pool {
	p := &Pool{
		broker:       broker,
		handler:      handler,
		queue:        DefaultQueue,
		deadQueue:    DefaultDeadQueue,
		concurrency:  DefaultConcurrency,
		pollInterval: DefaultPollInterval,
		reclaimEvery: DefaultReclaimInterval,
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "jobs_processed_total",
			Help:      "Jobs settled by the worker pool, by outcome.",
		}, []string{"queue", "outcome"}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Collector returns the pool's processed-jobs counter for registration.
func (p *Pool) Collector() prometheus.Collector {
	return p.processed
}

// Run starts the workers and blocks until ctx is cancelled. A job claimed
// before cancellation is still settled.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool started", "queue", p.queue, "concurrency", p.concurrency)

	g, ctx := errgroup.WithContext(ctx)
	if _, ok := p.broker.(Reclaimer); ok && p.reclaimEvery > 0 {
		g.Go(func() error {
			p.reclaimLoop(ctx)
			return nil
		})
	}
	for i := range p.concurrency {
		g.Go(func() error {
			p.work(ctx, i)
			return nil
		})
	}
	err := g.Wait()
	p.logger.Info("worker pool stopped", "queue", p.queue)
	return err
}

func (p *Pool) work(ctx context.Context, id int) {
	logger := p.logger.With("worker", id)
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := p.ProcessOne(ctx)
		if err != nil {
			logger.Error("failed to claim job", "queue", p.queue, "error", err)
		}
		if processed && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.pollInterval):
		}
	}
}

func (p *Pool) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(p.reclaimEvery)
	defer ticker.Stop()
	for {
		if _, err := p.Reclaim(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("failed to reclaim expired jobs", "queue", p.queue, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Reclaim returns jobs whose claim expired, for example because the worker
// holding them died, to the queue or its dead-letter store. It is a no-op
// for brokers that are not a Reclaimer.
func (p *Pool) Reclaim(ctx context.Context) (int, error) {
	r, ok := p.broker.(Reclaimer)
	if !ok {
		return 0, nil
	}
	n, err := r.Reclaim(ctx, p.queue, p.deadQueue)
	if n > 0 {
		p.logger.Warn("reclaimed expired jobs", "queue", p.queue, "count", n)
	}
	return n, err
}

// ProcessOne claims and settles at most one job. It reports whether a job
// was claimed. The returned error concerns claiming only; handler failures
// are applied to the job and logged.
func (p *Pool) ProcessOne(ctx context.Context) (bool, error) {
	job, err := p.broker.Consume(ctx, p.queue)
	if errors.Is(err, ErrNoJob) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	logger := p.logger.With("queue", p.queue, "job_id", job.ID, "job", job.Name)
	logger.Debug("job claimed", "attempts_made", job.AttemptsMade)

	runErr := p.run(ctx, job)

	// Settle even when shutting down so the job is not stranded as active.
	settleCtx := context.WithoutCancel(ctx)
	if runErr == nil {
		if err := p.broker.Ack(settleCtx, job); err != nil {
			logger.Error("failed to ack job", "error", err)
		}
		p.processed.WithLabelValues(p.queue, OutcomeCompleted).Inc()
		logger.Info("job completed")
		return true, nil
	}

	attempt := job.AttemptsMade + 1
	if attempt < job.Opts.MaxAttempts() {
		delay := job.Opts.Backoff.DelayFor(attempt)
		if err := p.broker.FailWithRetry(settleCtx, job, runErr, delay); err != nil {
			logger.Error("failed to schedule retry", "error", err, "cause", runErr)
		}
		p.processed.WithLabelValues(p.queue, OutcomeRetried).Inc()
		logger.Warn("job failed, retry scheduled",
			"attempt", attempt, "max_attempts", job.Opts.MaxAttempts(), "delay", delay, "error", runErr)
		return true, nil
	}

	if err := p.broker.MoveToDeadLetter(settleCtx, job, p.deadQueue, runErr); err != nil {
		logger.Error("failed to dead-letter job", "error", err, "cause", runErr)
	}
	p.processed.WithLabelValues(p.queue, OutcomeDead).Inc()
	logger.Error("job exhausted attempts, moved to dead letter",
		"attempts", attempt, "dead_queue", p.deadQueue, "error", runErr)
	return true, nil
}

func (p *Pool) run(ctx context.Context, job *model.Job) (err error) {
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.handler.Handle(ctx, job)
}
