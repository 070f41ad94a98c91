package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/privscan/internal/clock"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("rejects non-positive ttl", func(t *testing.T) {
		t.Parallel()
		if _, err := New[int](0); !errors.Is(err, ErrInvalidTTL) {
			t.Errorf("expected ErrInvalidTTL, got %v", err)
		}
	})

	t.Run("creates empty cache", func(t *testing.T) {
		t.Parallel()
		c, err := New[int](time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.Len() != 0 {
			t.Errorf("expected empty cache, got %d entries", c.Len())
		}
	})
}

func TestTTLExpiry(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	c, err := New[string](30*time.Second, WithClock(fake))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c.Set("k", "v")

	fake.Advance(29 * time.Second)
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("expected hit before expiry, got %q %v", v, ok)
	}

	fake.Advance(time.Second)
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss at expiry")
	}
}

func TestGetOrCompute(t *testing.T) {
	t.Parallel()

	t.Run("computes once and then serves cached value", func(t *testing.T) {
		t.Parallel()

		fake := clock.NewFake(time.Unix(0, 0))
		c, _ := New[int](30*time.Second, WithClock(fake))
		var calls atomic.Int32
		compute := func(context.Context) (int, error) {
			return int(calls.Add(1)), nil
		}

		for range 5 {
			v, err := c.GetOrCompute(context.Background(), "feature", compute)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if v != 1 {
				t.Errorf("expected 1, got %d", v)
			}
		}
		if calls.Load() != 1 {
			t.Errorf("expected 1 computation, got %d", calls.Load())
		}

		fake.Advance(31 * time.Second)
		v, _ := c.GetOrCompute(context.Background(), "feature", compute)
		if v != 2 {
			t.Errorf("expected recomputation after expiry, got %d", v)
		}
	})

	t.Run("concurrent callers share one computation", func(t *testing.T) {
		t.Parallel()

		c, _ := New[float64](30 * time.Second)
		var calls atomic.Int32
		release := make(chan struct{})
		compute := func(context.Context) (float64, error) {
			calls.Add(1)
			<-release
			return 0.5, nil
		}

		const callers = 32
		var wg sync.WaitGroup
		results := make([]float64, callers)
		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := c.GetOrCompute(context.Background(), "scan", compute)
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				results[i] = v
			}()
		}

		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		if calls.Load() != 1 {
			t.Errorf("expected exactly 1 computation, got %d", calls.Load())
		}
		for i, v := range results {
			if v != 0.5 {
				t.Errorf("caller %d observed %v, want 0.5", i, v)
			}
		}
	})

	t.Run("errors are not cached", func(t *testing.T) {
		t.Parallel()

		c, _ := New[int](time.Minute)
		boom := errors.New("boom")
		_, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (int, error) {
			return 0, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}

		v, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (int, error) {
			return 7, nil
		})
		if err != nil || v != 7 {
			t.Errorf("expected 7, got %d (%v)", v, err)
		}
	})

	t.Run("keys are independent", func(t *testing.T) {
		t.Parallel()

		c, _ := New[string](time.Minute)
		a, _ := c.GetOrCompute(context.Background(), "a", func(context.Context) (string, error) { return "A", nil })
		b, _ := c.GetOrCompute(context.Background(), "b", func(context.Context) (string, error) { return "B", nil })
		if a != "A" || b != "B" {
			t.Errorf("got a=%q b=%q", a, b)
		}
	})

	t.Run("cancelled caller does not cancel computation", func(t *testing.T) {
		t.Parallel()

		c, _ := New[int](time.Minute)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		v, err := c.GetOrCompute(ctx, "k", func(ctx context.Context) (int, error) {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return 3, nil
		})
		if err != nil || v != 3 {
			t.Errorf("expected 3, got %d (%v)", v, err)
		}
	})
}

func TestInvalidate(t *testing.T) {
	t.Parallel()

	c, _ := New[int](time.Minute)
	c.Set("k", 1)
	c.Invalidate("k")
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after Invalidate")
	}
}
