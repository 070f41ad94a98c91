// Package quotatest holds behaviour tests shared by quota.Store
// implementations.
package quotatest

import (
	"context"
	"sync"
	"testing"

	"github.com/nao1215/privscan/internal/quota"
)

// RunStoreTests exercises store against the quota.Store contract. newStore
// must return an empty store on every call.
func RunStoreTests(t *testing.T, newStore func(t *testing.T) quota.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing record counts as zero", func(t *testing.T) {
		s := newStore(t)
		n, err := s.Count(ctx, "fresh", "2024-05-01")
		if err != nil {
			t.Fatalf("Count() error = %v", err)
		}
		if n != 0 {
			t.Errorf("Count() = %d, want 0", n)
		}
	})

	t.Run("increment creates and increases", func(t *testing.T) {
		s := newStore(t)
		for want := 1; want <= 3; want++ {
			got, err := s.Increment(ctx, "user", "2024-05-01")
			if err != nil {
				t.Fatalf("Increment() error = %v", err)
			}
			if got != want {
				t.Errorf("Increment() = %d, want %d", got, want)
			}
		}
		n, err := s.Count(ctx, "user", "2024-05-01")
		if err != nil {
			t.Fatalf("Count() error = %v", err)
		}
		if n != 3 {
			t.Errorf("Count() = %d, want 3", n)
		}
	})

	t.Run("days and identifiers are independent", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Increment(ctx, "a", "2024-05-01"); err != nil {
			t.Fatalf("Increment() error = %v", err)
		}
		for _, k := range [][2]string{{"a", "2024-05-02"}, {"b", "2024-05-01"}} {
			n, err := s.Count(ctx, k[0], k[1])
			if err != nil {
				t.Fatalf("Count() error = %v", err)
			}
			if n != 0 {
				t.Errorf("Count(%s, %s) = %d, want 0", k[0], k[1], n)
			}
		}
	})

	t.Run("increment below stops at limit", func(t *testing.T) {
		s := newStore(t)
		for want := 1; want <= 2; want++ {
			got, ok, err := s.IncrementBelow(ctx, "user", "2024-05-01", 2)
			if err != nil {
				t.Fatalf("IncrementBelow() error = %v", err)
			}
			if !ok || got != want {
				t.Errorf("IncrementBelow() = %d, %v; want %d, true", got, ok, want)
			}
		}
		got, ok, err := s.IncrementBelow(ctx, "user", "2024-05-01", 2)
		if err != nil {
			t.Fatalf("IncrementBelow() error = %v", err)
		}
		if ok || got != 2 {
			t.Errorf("IncrementBelow() over limit = %d, %v; want 2, false", got, ok)
		}
	})

	t.Run("concurrent increment below never exceeds limit", func(t *testing.T) {
		s := newStore(t)
		const limit, callers = 3, 12

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			granted int
		)
		for range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := s.IncrementBelow(ctx, "racer", "2024-05-01", limit)
				if err != nil {
					t.Errorf("IncrementBelow() error = %v", err)
					return
				}
				if ok {
					mu.Lock()
					granted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if granted != limit {
			t.Errorf("granted = %d, want %d", granted, limit)
		}
		n, err := s.Count(ctx, "racer", "2024-05-01")
		if err != nil {
			t.Fatalf("Count() error = %v", err)
		}
		if n != limit {
			t.Errorf("Count() = %d, want %d", n, limit)
		}
	})
}
