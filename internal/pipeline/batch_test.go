package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/privscan/internal/model"
)

func batchTargets(inputs ...string) []model.ScanTarget {
	targets := make([]model.ScanTarget, len(inputs))
	for i, in := range inputs {
		targets[i] = model.ScanTarget{ScanID: "scan-" + in, Input: in, Kind: model.ScanKindWeb}
	}
	return targets
}

func TestBatchProcessorProcessBatch(t *testing.T) {
	t.Parallel()

	t.Run("returns results in input order", func(t *testing.T) {
		t.Parallel()

		bp := NewBatchProcessor(func() *Pipeline {
			p := New(WithLogger(discardLogger()))
			p.AddStep(&mockStep{name: "noop"})
			return p
		}, WithBatchLogger(discardLogger()))

		results, err := bp.ProcessBatch(context.Background(), batchTargets("a.com", "b.com", "c.com"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for i, want := range []string{"a.com", "b.com", "c.com"} {
			if results[i].Target.Input != want {
				t.Errorf("result %d: input %q, want %q", i, results[i].Target.Input, want)
			}
			if results[i].Scan.Status != model.ScanStatusCompleted {
				t.Errorf("result %d: status %q", i, results[i].Scan.Status)
			}
			if results[i].Scan.FinishedAt == nil {
				t.Errorf("result %d: missing finish time", i)
			}
		}
	})

	t.Run("failed targets do not stop the batch", func(t *testing.T) {
		t.Parallel()

		bp := NewBatchProcessor(func() *Pipeline {
			p := New(WithLogger(discardLogger()))
			p.AddStep(&mockStep{name: "maybe-fail", doFunc: func(_ context.Context, r *Result) error {
				if r.Target.Input == "bad.com" {
					return errors.New("unreachable")
				}
				return nil
			}})
			return p
		}, WithBatchLogger(discardLogger()))

		results, err := bp.ProcessBatch(context.Background(), batchTargets("good.com", "bad.com"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if results[0].Scan.Status != model.ScanStatusCompleted {
			t.Errorf("good target status %q", results[0].Scan.Status)
		}
		if results[1].Scan.Status != model.ScanStatusFailed || results[1].Scan.Error != "unreachable" {
			t.Errorf("bad target scan %+v", results[1].Scan)
		}
	})

	t.Run("respects concurrency limit", func(t *testing.T) {
		t.Parallel()

		var current, peak atomic.Int32
		bp := NewBatchProcessor(func() *Pipeline {
			p := New(WithLogger(discardLogger()))
			p.AddStep(&mockStep{name: "slow", doFunc: func(context.Context, *Result) error {
				n := current.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				current.Add(-1)
				return nil
			}})
			return p
		}, WithConcurrency(2), WithBatchLogger(discardLogger()))

		if _, err := bp.ProcessBatch(context.Background(), batchTargets("a", "b", "c", "d", "e", "f")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := peak.Load(); got > 2 {
			t.Errorf("peak concurrency %d exceeds limit 2", got)
		}
	})

	t.Run("cancelled context reports an error", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		bp := NewBatchProcessor(func() *Pipeline { return New(WithLogger(discardLogger())) }, WithBatchLogger(discardLogger()))
		if _, err := bp.ProcessBatch(ctx, batchTargets("a.com")); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}
