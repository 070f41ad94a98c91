package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// QuotaStore exposes the quota counters of a DB as a quota.Store.
type QuotaStore struct {
	db *DB
}

// Quota returns the quota store backed by d.
func (d *DB) Quota() *QuotaStore {
	return &QuotaStore{db: d}
}

// Count returns the scans counted for identifier on day, 0 when absent.
func (q *QuotaStore) Count(ctx context.Context, identifier, day string) (int, error) {
	var n int
	err := q.db.db.QueryRowContext(ctx,
		`SELECT scans_count FROM quota_usage WHERE identifier = ? AND day = ?`, identifier, day,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read quota: %w", err)
	}
	return n, nil
}

// Increment adds one scan in a single upsert.
func (q *QuotaStore) Increment(ctx context.Context, identifier, day string) (int, error) {
	var n int
	err := q.db.db.QueryRowContext(ctx, `
	INSERT INTO quota_usage (identifier, day, scans_count) VALUES (?, ?, 1)
	ON CONFLICT(identifier, day) DO UPDATE SET scans_count = quota_usage.scans_count + 1
	RETURNING scans_count`, identifier, day,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to increment quota: %w", err)
	}
	return n, nil
}

// IncrementBelow adds one scan only while the count is below limit. The
// conditional upsert returns no row when the limit is reached.
func (q *QuotaStore) IncrementBelow(ctx context.Context, identifier, day string, limit int) (int, bool, error) {
	if limit <= 0 {
		n, err := q.Count(ctx, identifier, day)
		return n, false, err
	}

	var n int
	err := q.db.db.QueryRowContext(ctx, `
	INSERT INTO quota_usage (identifier, day, scans_count) VALUES (?, ?, 1)
	ON CONFLICT(identifier, day) DO UPDATE SET scans_count = quota_usage.scans_count + 1
	WHERE quota_usage.scans_count < ?
	RETURNING scans_count`, identifier, day, limit,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		current, err := q.Count(ctx, identifier, day)
		return current, false, err
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to consume quota: %w", err)
	}
	return n, true, nil
}
