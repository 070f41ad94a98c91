package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/privscan/internal/model"
)

// DefaultBatchConcurrency is the number of targets scanned at once.
const DefaultBatchConcurrency = 4

// BatchProcessor scans many targets concurrently, without the job queue.
type BatchProcessor struct {
	// pipelineFactory returns a fresh pipeline per target.
	pipelineFactory func() *Pipeline
	concurrency     int
	logger          *slog.Logger
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets the batch logger.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets how many targets run at once.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBatchProcessor returns a processor that builds one pipeline per target
// with pipelineFactory.
func NewBatchProcessor(pipelineFactory func() *Pipeline, opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		pipelineFactory: pipelineFactory,
		concurrency:     DefaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(bp)
	}
	if bp.logger == nil {
		bp.logger = slog.Default()
	}
	return bp
}

// ProcessBatch scans every target and returns results in input order.
// A failed target does not stop the others; its error is on its Result
// and its scan is marked failed. The returned error is non-nil only when
// ctx ends before every target started.
func (bp *BatchProcessor) ProcessBatch(ctx context.Context, targets []model.ScanTarget) ([]*Result, error) {
	bp.logger.Info("starting batch scan",
		"targets", len(targets),
		"concurrency", bp.concurrency,
	)
	start := time.Now()

	results := make([]*Result, len(targets))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.concurrency)

	for i, target := range targets {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			startedAt := time.Now().UTC()
			scan := model.Scan{
				ID:        target.ScanID,
				Input:     target.Input,
				Kind:      target.Kind,
				Status:    model.ScanStatusRunning,
				CreatedAt: startedAt,
				StartedAt: &startedAt,
			}
			result := NewResult(scan, target)
			err := bp.pipelineFactory().Execute(ctx, result)

			finishedAt := time.Now().UTC()
			result.Scan.FinishedAt = &finishedAt
			if err != nil {
				result.Scan.Status = model.ScanStatusFailed
				result.Scan.Error = err.Error()
				bp.logger.Warn("scan failed", "input", target.Input, "error", err)
			} else {
				result.Scan.Status = model.ScanStatusCompleted
				bp.logger.Info("scan completed", "input", target.Input, "evidence", len(result.Evidence))
			}

			// Each goroutine owns its own index.
			results[i] = result
			return nil
		})
	}

	err := g.Wait()
	bp.logger.Info("batch scan complete",
		"targets", len(targets),
		"elapsed", time.Since(start),
	)
	return results, err
}
