package admission

import (
	"context"
	"sync"
	"time"

	"github.com/nao1215/privscan/internal/clock"
)

// Counter counts hits per key in fixed windows. The first hit on a key
// opens a window of the given length; the count resets when it closes.
type Counter interface {
	// Hit records one hit and returns the count in the current window and
	// when the window closes.
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Time, error)
}

// MemoryCounter is an in-process Counter. Expired windows are swept lazily.
type MemoryCounter struct {
	clock clock.Clock

	mu        sync.Mutex
	windows   map[string]memoryWindow
	lastSweep time.Time
}

type memoryWindow struct {
	count   int64
	resetAt time.Time
}

// NewMemoryCounter returns an empty counter. A nil clock uses system time.
func NewMemoryCounter(c clock.Clock) *MemoryCounter {
	return &MemoryCounter{
		clock:   clock.OrSystem(c),
		windows: make(map[string]memoryWindow),
	}
}

// Hit implements Counter.
func (m *MemoryCounter) Hit(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweep(now, window)

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = memoryWindow{resetAt: now.Add(window)}
	}
	w.count++
	m.windows[key] = w
	return w.count, w.resetAt, nil
}

// sweep drops closed windows at most once per window length.
func (m *MemoryCounter) sweep(now time.Time, window time.Duration) {
	if now.Sub(m.lastSweep) < window {
		return
	}
	for k, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, k)
		}
	}
	m.lastSweep = now
}
