package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nao1215/privscan/internal/model"
)

// ReplaceFindings stores the evidence and issues of a scan, replacing any
// findings a previous attempt stored. Order is preserved.
func (d *DB) ReplaceFindings(ctx context.Context, scanID string, evidence []model.Evidence, issues []model.Issue) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM evidence WHERE scan_id = ?`, scanID); err != nil {
		return fmt.Errorf("failed to clear evidence of %s: %w", scanID, err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM issues WHERE scan_id = ?`, scanID); err != nil {
		return fmt.Errorf("failed to clear issues of %s: %w", scanID, err)
	}

	for i, e := range evidence {
		var details sql.NullString
		if len(e.Details) > 0 {
			details = sql.NullString{String: string(e.Details), Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
		INSERT INTO evidence (id, scan_id, kind, severity, title, details, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, scanID, string(e.Kind), e.Severity, e.Title, details, formatTime(e.CreatedAt), i,
		)
		if err != nil {
			return fmt.Errorf("failed to insert evidence %s: %w", e.ID, err)
		}
	}

	for i, issue := range issues {
		refs := issue.References
		if refs == nil {
			refs = []model.Reference{}
		}
		var refsJSON []byte
		refsJSON, err = json.Marshal(refs)
		if err != nil {
			return fmt.Errorf("failed to serialize references of %s: %w", issue.ID, err)
		}
		var weight sql.NullInt64
		if issue.SortWeight != nil {
			weight = sql.NullInt64{Int64: int64(*issue.SortWeight), Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
		INSERT INTO issues (id, scan_id, issue_key, severity, category, title, summary, how_to_fix, why_it_matters, refs, sort_weight, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			issue.ID, scanID, issue.Key, issue.Severity.String(), issue.Category, issue.Title,
			issue.Summary, issue.HowToFix, issue.WhyItMatters, string(refsJSON), weight, i,
		)
		if err != nil {
			return fmt.Errorf("failed to insert issue %s: %w", issue.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit findings of %s: %w", scanID, err)
	}
	return nil
}

// ListEvidence returns the evidence of a scan in insertion order.
func (d *DB) ListEvidence(ctx context.Context, scanID string) ([]model.Evidence, error) {
	rows, err := d.db.QueryContext(ctx, `
	SELECT id, scan_id, kind, severity, title, details, created_at
	FROM evidence WHERE scan_id = ? ORDER BY seq`, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query evidence of %s: %w", scanID, err)
	}
	defer rows.Close()

	out := make([]model.Evidence, 0)
	for rows.Next() {
		var (
			e         model.Evidence
			kind      string
			details   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.ScanID, &kind, &e.Severity, &e.Title, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan evidence row: %w", err)
		}
		e.Kind = model.EvidenceKind(kind)
		if details.Valid {
			e.Details = json.RawMessage(details.String)
		}
		e.CreatedAt = parseTimestamp(createdAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate evidence: %w", err)
	}
	return out, nil
}

// ListIssues returns the issues of a scan in insertion order.
func (d *DB) ListIssues(ctx context.Context, scanID string) ([]model.Issue, error) {
	rows, err := d.db.QueryContext(ctx, `
	SELECT id, scan_id, issue_key, severity, category, title, summary, how_to_fix, why_it_matters, refs, sort_weight
	FROM issues WHERE scan_id = ? ORDER BY seq`, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query issues of %s: %w", scanID, err)
	}
	defer rows.Close()

	out := make([]model.Issue, 0)
	for rows.Next() {
		var (
			issue    model.Issue
			severity string
			refs     string
			weight   sql.NullInt64
		)
		if err := rows.Scan(&issue.ID, &issue.ScanID, &issue.Key, &severity, &issue.Category, &issue.Title,
			&issue.Summary, &issue.HowToFix, &issue.WhyItMatters, &refs, &weight); err != nil {
			return nil, fmt.Errorf("failed to scan issue row: %w", err)
		}
		if issue.Severity, err = model.ParseSeverity(severity); err != nil {
			return nil, fmt.Errorf("issue %s: %w", issue.ID, err)
		}
		if err := json.Unmarshal([]byte(refs), &issue.References); err != nil {
			return nil, fmt.Errorf("failed to parse references of issue %s: %w", issue.ID, err)
		}
		if weight.Valid {
			issue.SortWeight = model.IntPtr(int(weight.Int64))
		}
		out = append(out, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate issues: %w", err)
	}
	return out, nil
}
