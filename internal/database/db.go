package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// FileName is the name of the database file inside the data directory.
const FileName = "privscan.db"

// DB is the SQLite store. It is safe for concurrent use.
type DB struct {
	db     *sql.DB
	dbPath string
}

// Options configures DB behavior.
type Options struct {
	// CreateIfNotExists creates the directory and database file when missing.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates the database in dbDir.
func Open(dbDir string, opts Options) (*DB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// mode=rw refuses to create a missing file.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	d := &DB{db: sqlDB, dbPath: dbPath}

	ctx := context.Background()
	if opts.EnableWAL {
		if _, err := sqlDB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if _, err := sqlDB.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := d.createTables(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return d, nil
}

// Path returns the location of the database file.
func (d *DB) Path() string {
	return d.dbPath
}

// Ping checks that the database answers.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) createTables(ctx context.Context) error {
	schema := `
	-- Scans are submitted targets and their lifecycle
	CREATE TABLE IF NOT EXISTS scans (
		id TEXT PRIMARY KEY,
		input TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_scans_created ON scans(created_at);

	-- Evidence rows are append-only raw findings
	CREATE TABLE IF NOT EXISTS evidence (
		id TEXT PRIMARY KEY,
		scan_id TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		severity INTEGER NOT NULL,
		title TEXT NOT NULL,
		details TEXT,
		created_at TEXT NOT NULL,
		seq INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_evidence_scan ON evidence(scan_id, seq);

	-- Issues are curated findings with remediation guidance
	CREATE TABLE IF NOT EXISTS issues (
		id TEXT PRIMARY KEY,
		scan_id TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
		issue_key TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL,
		category TEXT NOT NULL,
		title TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		how_to_fix TEXT NOT NULL DEFAULT '',
		why_it_matters TEXT NOT NULL DEFAULT '',
		refs TEXT NOT NULL DEFAULT '[]',
		sort_weight INTEGER,
		seq INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_issues_scan ON issues(scan_id, seq);

	-- Daily quota counters, one row per identifier and UTC day
	CREATE TABLE IF NOT EXISTS quota_usage (
		identifier TEXT NOT NULL,
		day TEXT NOT NULL,
		scans_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (identifier, day)
	);
	`

	_, err := d.db.ExecContext(ctx, schema)
	return err
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// parseTimestamp parses a stored timestamp, returning the zero time for
// unparseable values.
func parseTimestamp(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimestampPtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTimestamp(s.String)
	return &t
}
