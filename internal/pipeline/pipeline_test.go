package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/nao1215/privscan/internal/model"
)

// mockStep is a Step whose behaviour is supplied by the test.
type mockStep struct {
	name      string
	doFunc    func(ctx context.Context, result *Result) error
	callCount int
}

func (m *mockStep) Do(ctx context.Context, result *Result) error {
	m.callCount++
	if m.doFunc != nil {
		return m.doFunc(ctx, result)
	}
	return nil
}

func (m *mockStep) Name() string {
	return m.name
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestResult() *Result {
	scan := model.Scan{ID: "scan-1", Input: "https://example.com", Kind: model.ScanKindWeb}
	return NewResult(scan, model.ScanTarget{ScanID: scan.ID, Input: scan.Input, Kind: scan.Kind})
}

func TestPipelineAddStep(t *testing.T) {
	t.Parallel()

	t.Run("new pipeline is empty", func(t *testing.T) {
		t.Parallel()

		if n := New().StepCount(); n != 0 {
			t.Errorf("expected 0 steps, got %d", n)
		}
	})

	t.Run("maintains step order", func(t *testing.T) {
		t.Parallel()

		p := New()
		p.AddStep(&mockStep{name: "first"})
		p.AddSteps(&mockStep{name: "second"}, &mockStep{name: "third"})

		names := p.StepNames()
		expected := []string{"first", "second", "third"}
		if len(names) != len(expected) {
			t.Fatalf("expected %d names, got %v", len(expected), names)
		}
		for i, name := range names {
			if name != expected[i] {
				t.Errorf("step %d: got %q, expected %q", i, name, expected[i])
			}
		}
	})
}

func TestPipelineExecute(t *testing.T) {
	t.Parallel()

	t.Run("executes all steps in order", func(t *testing.T) {
		t.Parallel()

		var order []string
		record := func(name string) *mockStep {
			return &mockStep{name: name, doFunc: func(context.Context, *Result) error {
				order = append(order, name)
				return nil
			}}
		}

		p := New(WithLogger(discardLogger()))
		p.AddSteps(record("step-1"), record("step-2"))

		result := newTestResult()
		if err := p.Execute(context.Background(), result); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(order) != 2 || order[0] != "step-1" || order[1] != "step-2" {
			t.Errorf("wrong execution order: %v", order)
		}
		if len(result.PerformedSteps) != 2 {
			t.Errorf("expected 2 performed steps, got %v", result.PerformedSteps)
		}
	})

	t.Run("stops on first error by default", func(t *testing.T) {
		t.Parallel()

		expectedErr := errors.New("step failed")
		second := &mockStep{name: "should-not-run"}

		p := New(WithLogger(discardLogger()))
		p.AddSteps(&mockStep{name: "failing", doFunc: func(context.Context, *Result) error {
			return expectedErr
		}}, second)

		result := newTestResult()
		err := p.Execute(context.Background(), result)
		if !errors.Is(err, expectedErr) {
			t.Errorf("expected %v, got %v", expectedErr, err)
		}
		if second.callCount != 0 {
			t.Error("second step should not have been called")
		}
		if !errors.Is(result.Err, expectedErr) {
			t.Errorf("result.Err = %v, want %v", result.Err, expectedErr)
		}
		if len(result.PerformedSteps) != 0 {
			t.Errorf("failed step should not be recorded as performed: %v", result.PerformedSteps)
		}
	})

	t.Run("continues on error when configured", func(t *testing.T) {
		t.Parallel()

		second := &mockStep{name: "should-run"}

		p := New(WithContinueOnError(true), WithLogger(discardLogger()))
		p.AddSteps(&mockStep{name: "failing", doFunc: func(context.Context, *Result) error {
			return errors.New("step failed")
		}}, second)

		result := newTestResult()
		if err := p.Execute(context.Background(), result); err != nil {
			t.Errorf("expected nil error, got %v", err)
		}
		if second.callCount != 1 {
			t.Error("second step should have been called")
		}
		if result.Err == nil {
			t.Error("expected error to be recorded on result")
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		step := &mockStep{name: "should-not-run"}
		p := New(WithLogger(discardLogger()))
		p.AddStep(step)

		err := p.Execute(ctx, newTestResult())
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if step.callCount != 0 {
			t.Error("step should not have been called")
		}
	})
}
