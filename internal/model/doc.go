// Package model defines the core data structures shared across privscan.
//
// This package contains the following main types:
//   - Scan, Evidence, Issue: the records a scan produces
//   - ReportPayload: the scored report synthesised from a scan's findings
//   - Job, JobOptions, Backoff, QueueMetrics: the job pipeline's vocabulary
//   - QuotaRecord, QuotaStatus: the daily quota service's records
//   - Lists: the tracker reference lists consumed by scan logic
//
// Models live in their own package so that admission, queue, scoring, and
// storage packages can share them without import cycles. All types are
// serialisable to JSON with the field names used on the wire.
package model
