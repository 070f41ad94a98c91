// Package quota enforces a per-identifier daily scan allowance.
//
// Days are UTC calendar days. A record is keyed by identifier and date, so
// a new day starts from zero without any reset job.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/nao1215/privscan/internal/clock"
	"github.com/nao1215/privscan/internal/model"
)

// DefaultLimit is the number of scans an identifier may run per day.
const DefaultLimit = 3

// Store persists daily scan counts.
type Store interface {
	// Count returns the stored count for identifier on date, or 0 when no
	// record exists.
	Count(ctx context.Context, identifier, date string) (int, error)
	// Increment adds one to the count in a single atomic upsert and returns
	// the new count.
	Increment(ctx context.Context, identifier, date string) (int, error)
	// IncrementBelow adds one only if the current count is below limit. It
	// returns the resulting count and whether the increment happened. The
	// check and the write are one atomic operation.
	IncrementBelow(ctx context.Context, identifier, date string, limit int) (int, bool, error)
}

// Service answers quota questions against a Store.
type Service struct {
	store Store
	limit int
	clock clock.Clock
}

// Option configures a Service.
type Option func(*Service)

// WithLimit sets the daily limit. A limit of zero or less denies every scan.
func WithLimit(limit int) Option {
	return func(s *Service) {
		s.limit = limit
	}
}

// WithClock sets the time source used to pick the current day.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// New creates a Service backed by store.
func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, limit: DefaultLimit}
	for _, opt := range opts {
		opt(s)
	}
	s.clock = clock.OrSystem(s.clock)
	return s
}

// Limit returns the configured daily limit.
func (s *Service) Limit() int {
	return s.limit
}

// Check reports the identifier's quota for today without consuming it.
func (s *Service) Check(ctx context.Context, identifier string) (model.QuotaStatus, error) {
	if identifier == "" {
		return model.QuotaStatus{}, ErrEmptyIdentifier
	}
	now := s.clock.Now()
	count, err := s.store.Count(ctx, identifier, DayKey(now))
	if err != nil {
		return model.QuotaStatus{}, fmt.Errorf("failed to read quota for %s: %w", identifier, err)
	}
	return s.status(count, count < s.limit, now), nil
}

// Increment records one scan for today and returns the new count. It does
// not enforce the limit; use Consume for that.
func (s *Service) Increment(ctx context.Context, identifier string) (int, error) {
	if identifier == "" {
		return 0, ErrEmptyIdentifier
	}
	count, err := s.store.Increment(ctx, identifier, DayKey(s.clock.Now()))
	if err != nil {
		return 0, fmt.Errorf("failed to increment quota for %s: %w", identifier, err)
	}
	return count, nil
}

// Consume atomically checks and records one scan. When the identifier has
// no scans left it returns the current status and ErrQuotaExceeded.
// Concurrent calls never admit more than the limit.
func (s *Service) Consume(ctx context.Context, identifier string) (model.QuotaStatus, error) {
	if identifier == "" {
		return model.QuotaStatus{}, ErrEmptyIdentifier
	}
	now := s.clock.Now()
	day := DayKey(now)

	if s.limit <= 0 {
		count, err := s.store.Count(ctx, identifier, day)
		if err != nil {
			return model.QuotaStatus{}, fmt.Errorf("failed to read quota for %s: %w", identifier, err)
		}
		return s.status(count, false, now), ErrQuotaExceeded
	}

	count, ok, err := s.store.IncrementBelow(ctx, identifier, day, s.limit)
	if err != nil {
		return model.QuotaStatus{}, fmt.Errorf("failed to consume quota for %s: %w", identifier, err)
	}
	if !ok {
		return s.status(count, false, now), ErrQuotaExceeded
	}
	return s.status(count, true, now), nil
}

func (s *Service) status(used int, allowed bool, now time.Time) model.QuotaStatus {
	return model.QuotaStatus{
		Allowed:        allowed && s.limit > 0,
		ScansUsed:      used,
		ScansRemaining: max(0, s.limit-used),
		Limit:          s.limit,
		ResetAt:        NextReset(now),
	}
}

// DayKey returns the UTC calendar date of t as YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.UTC().Format(model.QuotaDateLayout)
}

// NextReset returns the next UTC midnight after t.
func NextReset(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
