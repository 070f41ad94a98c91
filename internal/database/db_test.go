package database

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nao1215/privscan/internal/model"
	"github.com/nao1215/privscan/internal/quota"
	"github.com/nao1215/privscan/internal/quota/quotatest"
)

// setupTestDB creates a temporary database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(t.TempDir(), DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newScan(id string) *model.Scan {
	return &model.Scan{
		ID:        id,
		Input:     "https://example.com",
		Kind:      model.ScanKindWeb,
		Status:    model.ScanStatusQueued,
		CreatedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("creates database in new directory", func(t *testing.T) {
		t.Parallel()

		dbDir := filepath.Join(t.TempDir(), "newdir", "subdir")
		db, err := Open(dbDir, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()

		if _, err := os.Stat(filepath.Join(dbDir, FileName)); os.IsNotExist(err) {
			t.Error("database file was not created")
		}
		if err := db.Ping(context.Background()); err != nil {
			t.Errorf("Ping() error = %v", err)
		}
	})

	t.Run("CreateIfNotExists=false returns error when database does not exist", func(t *testing.T) {
		t.Parallel()

		_, err := Open(filepath.Join(t.TempDir(), "missing"), Options{})
		if err == nil {
			t.Fatal("expected error for missing database")
		}
	})

	t.Run("reopens existing database", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		db, err := Open(dir, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		if err := db.CreateScan(context.Background(), newScan("keep")); err != nil {
			t.Fatalf("CreateScan() error = %v", err)
		}
		_ = db.Close()

		db, err = Open(dir, Options{EnableWAL: true})
		if err != nil {
			t.Fatalf("failed to reopen database: %v", err)
		}
		defer db.Close()
		if _, err := db.GetScan(context.Background(), "keep"); err != nil {
			t.Errorf("GetScan() after reopen error = %v", err)
		}
	})
}

func TestScans(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("lifecycle", func(t *testing.T) {
		t.Parallel()
		db := setupTestDB(t)

		if err := db.CreateScan(ctx, newScan("s1")); err != nil {
			t.Fatalf("CreateScan() error = %v", err)
		}
		got, err := db.GetScan(ctx, "s1")
		if err != nil {
			t.Fatalf("GetScan() error = %v", err)
		}
		if got.Status != model.ScanStatusQueued || got.StartedAt != nil || !got.CreatedAt.Equal(newScan("s1").CreatedAt) {
			t.Errorf("GetScan() = %+v", got)
		}

		started := time.Date(2024, 5, 1, 9, 1, 0, 0, time.UTC)
		if err := db.UpdateScanStatus(ctx, "s1", model.ScanStatusRunning, "", started); err != nil {
			t.Fatalf("UpdateScanStatus(running) error = %v", err)
		}
		if err := db.UpdateScanStatus(ctx, "s1", model.ScanStatusFailed, "dial tcp: timeout", started.Add(time.Second)); err != nil {
			t.Fatalf("UpdateScanStatus(failed) error = %v", err)
		}
		got, err = db.GetScan(ctx, "s1")
		if err != nil {
			t.Fatalf("GetScan() error = %v", err)
		}
		if got.Status != model.ScanStatusFailed || got.Error != "dial tcp: timeout" {
			t.Errorf("failed scan = %+v", got)
		}
		if got.StartedAt == nil || !got.StartedAt.Equal(started) || got.FinishedAt == nil {
			t.Errorf("timestamps = %v, %v", got.StartedAt, got.FinishedAt)
		}

		if err := db.UpdateScanStatus(ctx, "s1", model.ScanStatusRunning, "", started.Add(time.Minute)); err != nil {
			t.Fatalf("UpdateScanStatus(running) error = %v", err)
		}
		if err := db.UpdateScanStatus(ctx, "s1", model.ScanStatusCompleted, "", started.Add(2*time.Minute)); err != nil {
			t.Fatalf("UpdateScanStatus(completed) error = %v", err)
		}
		got, err = db.GetScan(ctx, "s1")
		if err != nil {
			t.Fatalf("GetScan() error = %v", err)
		}
		if got.Status != model.ScanStatusCompleted || got.Error != "" {
			t.Errorf("completed scan = %+v", got)
		}
	})

	t.Run("unknown scan", func(t *testing.T) {
		t.Parallel()
		db := setupTestDB(t)
		if _, err := db.GetScan(ctx, "nope"); !errors.Is(err, ErrScanNotFound) {
			t.Errorf("GetScan() error = %v, want ErrScanNotFound", err)
		}
		if err := db.UpdateScanStatus(ctx, "nope", model.ScanStatusRunning, "", time.Now()); !errors.Is(err, ErrScanNotFound) {
			t.Errorf("UpdateScanStatus() error = %v, want ErrScanNotFound", err)
		}
	})

	t.Run("list newest first", func(t *testing.T) {
		t.Parallel()
		db := setupTestDB(t)
		for i, id := range []string{"old", "mid", "new"} {
			s := newScan(id)
			s.CreatedAt = s.CreatedAt.Add(time.Duration(i) * time.Hour)
			if err := db.CreateScan(ctx, s); err != nil {
				t.Fatalf("CreateScan() error = %v", err)
			}
		}
		scans, err := db.ListScans(ctx, 2)
		if err != nil {
			t.Fatalf("ListScans() error = %v", err)
		}
		if len(scans) != 2 || scans[0].ID != "new" || scans[1].ID != "mid" {
			t.Errorf("ListScans() = %v", scans)
		}
	})
}

func TestFindings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := setupTestDB(t)
	if err := db.CreateScan(ctx, newScan("s1")); err != nil {
		t.Fatalf("CreateScan() error = %v", err)
	}

	created := time.Date(2024, 5, 1, 9, 2, 0, 0, time.UTC)
	evidence := []model.Evidence{
		{ID: "e1", ScanID: "s1", Kind: model.EvidenceTracker, Severity: 3, Title: "Tracker", Details: json.RawMessage(`{"domain":"t.example"}`), CreatedAt: created},
		{ID: "e2", ScanID: "s1", Kind: model.EvidenceTLS, Severity: 4, Title: "No HTTPS", CreatedAt: created},
	}
	issues := []model.Issue{
		{ID: "i1", ScanID: "s1", Key: "no-https", Severity: model.SeverityHigh, Category: "transport", Title: "No HTTPS",
			References: []model.Reference{{Label: "MDN", URL: "https://developer.mozilla.org"}}, SortWeight: model.IntPtr(2)},
		{ID: "i2", ScanID: "s1", Severity: model.SeverityInfo, Category: "cookies", Title: "Cookies"},
	}

	if err := db.ReplaceFindings(ctx, "s1", evidence, issues); err != nil {
		t.Fatalf("ReplaceFindings() error = %v", err)
	}

	gotEvidence, err := db.ListEvidence(ctx, "s1")
	if err != nil {
		t.Fatalf("ListEvidence() error = %v", err)
	}
	if len(gotEvidence) != 2 || gotEvidence[0].ID != "e1" || string(gotEvidence[0].Details) != `{"domain":"t.example"}` {
		t.Errorf("ListEvidence() = %+v", gotEvidence)
	}
	if gotEvidence[1].Details != nil || !gotEvidence[1].CreatedAt.Equal(created) {
		t.Errorf("second evidence = %+v", gotEvidence[1])
	}

	gotIssues, err := db.ListIssues(ctx, "s1")
	if err != nil {
		t.Fatalf("ListIssues() error = %v", err)
	}
	if len(gotIssues) != 2 {
		t.Fatalf("ListIssues() = %+v", gotIssues)
	}
	if gotIssues[0].Severity != model.SeverityHigh || gotIssues[0].Weight() != 2 || gotIssues[0].References[0].Label != "MDN" {
		t.Errorf("first issue = %+v", gotIssues[0])
	}
	if gotIssues[1].SortWeight != nil || gotIssues[1].References == nil || len(gotIssues[1].References) != 0 {
		t.Errorf("second issue = %+v", gotIssues[1])
	}

	t.Run("replace drops previous attempt", func(t *testing.T) {
		if err := db.ReplaceFindings(ctx, "s1", evidence[:1], nil); err != nil {
			t.Fatalf("ReplaceFindings() error = %v", err)
		}
		ev, err := db.ListEvidence(ctx, "s1")
		if err != nil {
			t.Fatalf("ListEvidence() error = %v", err)
		}
		is, err := db.ListIssues(ctx, "s1")
		if err != nil {
			t.Fatalf("ListIssues() error = %v", err)
		}
		if len(ev) != 1 || len(is) != 0 {
			t.Errorf("after replace: %d evidence, %d issues; want 1, 0", len(ev), len(is))
		}
	})

	t.Run("unknown scan has no findings", func(t *testing.T) {
		ev, err := db.ListEvidence(ctx, "other")
		if err != nil || ev == nil || len(ev) != 0 {
			t.Errorf("ListEvidence() = %v, %v; want empty", ev, err)
		}
	})
}

func TestQuotaStore(t *testing.T) {
	t.Parallel()
	quotatest.RunStoreTests(t, func(t *testing.T) quota.Store {
		return setupTestDB(t).Quota()
	})
}
