package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/privscan/internal/model"
)

// CreateScan inserts a new scan record.
func (d *DB) CreateScan(ctx context.Context, scan *model.Scan) error {
	query := `
	INSERT INTO scans (id, input, kind, status, error, created_at, started_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := d.db.ExecContext(ctx, query,
		scan.ID,
		scan.Input,
		string(scan.Kind),
		string(scan.Status),
		scan.Error,
		formatTime(scan.CreatedAt),
		formatTimePtr(scan.StartedAt),
		formatTimePtr(scan.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert scan %s: %w", scan.ID, err)
	}
	return nil
}

// GetScan returns the scan with id, or ErrScanNotFound.
func (d *DB) GetScan(ctx context.Context, id string) (*model.Scan, error) {
	query := `
	SELECT id, input, kind, status, error, created_at, started_at, finished_at
	FROM scans WHERE id = ?
	`
	var (
		scan               model.Scan
		kind, status       string
		createdAt          string
		startedAt, endedAt sql.NullString
	)
	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&scan.ID, &scan.Input, &kind, &status, &scan.Error, &createdAt, &startedAt, &endedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrScanNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query scan %s: %w", id, err)
	}

	scan.Kind = model.ScanKind(kind)
	scan.Status = model.ScanStatus(status)
	scan.CreatedAt = parseTimestamp(createdAt)
	scan.StartedAt = parseTimestampPtr(startedAt)
	scan.FinishedAt = parseTimestampPtr(endedAt)
	return &scan, nil
}

// UpdateScanStatus moves a scan to status at time at. Running sets the
// start time and clears any previous error; completed and failed set the
// finish time. errMsg is stored for failed scans only.
func (d *DB) UpdateScanStatus(ctx context.Context, id string, status model.ScanStatus, errMsg string, at time.Time) error {
	var (
		query string
		args  []any
	)
	switch status {
	case model.ScanStatusRunning:
		query = `UPDATE scans SET status = ?, error = '', started_at = ?, finished_at = NULL WHERE id = ?`
		args = []any{string(status), formatTime(at), id}
	case model.ScanStatusCompleted:
		query = `UPDATE scans SET status = ?, error = '', finished_at = ? WHERE id = ?`
		args = []any{string(status), formatTime(at), id}
	case model.ScanStatusFailed:
		query = `UPDATE scans SET status = ?, error = ?, finished_at = ? WHERE id = ?`
		args = []any{string(status), errMsg, formatTime(at), id}
	default:
		query = `UPDATE scans SET status = ? WHERE id = ?`
		args = []any{string(status), id}
	}

	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update scan %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update scan %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrScanNotFound, id)
	}
	return nil
}

// ListScans returns the most recent scans, newest first.
func (d *DB) ListScans(ctx context.Context, limit int) ([]*model.Scan, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.QueryContext(ctx, `SELECT id FROM scans ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	_ = rows.Close()

	scans := make([]*model.Scan, 0, len(ids))
	for _, id := range ids {
		scan, err := d.GetScan(ctx, id)
		if err != nil {
			return nil, err
		}
		scans = append(scans, scan)
	}
	return scans, nil
}
