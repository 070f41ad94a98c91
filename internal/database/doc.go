// Package database provides SQLite-based storage for privscan.
//
// A single database file holds:
//   - Scan records and their lifecycle status
//   - Evidence and issues produced by scan execution
//   - Daily quota counters
//
// The driver is modernc.org/sqlite, so the binary stays CGO-free. Writes go
// through a single connection and the journal runs in WAL mode.
package database
