package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nao1215/privscan/internal/clock"
	"github.com/nao1215/privscan/internal/database"
	"github.com/nao1215/privscan/internal/model"
)

func setupStore(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(t.TempDir(), database.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func queuedScan(t *testing.T, db *database.DB, id string, kind model.ScanKind) model.ScanTarget {
	t.Helper()

	scan := &model.Scan{
		ID:        id,
		Input:     "http://example.com/",
		Kind:      kind,
		Status:    model.ScanStatusQueued,
		CreatedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := db.CreateScan(context.Background(), scan); err != nil {
		t.Fatalf("failed to create scan: %v", err)
	}
	return model.ScanTarget{ScanID: id, Input: scan.Input, Kind: kind}
}

func scanJob(t *testing.T, target model.ScanTarget) *model.Job {
	t.Helper()

	payload, err := target.Encode()
	if err != nil {
		t.Fatal(err)
	}
	return &model.Job{ID: "job-" + target.ScanID, Queue: "scan.site", Name: "scan", Payload: payload}
}

func TestHandlerHandle(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	webFactory := func(c Classifier) func() *Pipeline {
		return func() *Pipeline {
			p := New(WithLogger(discardLogger()))
			p.AddSteps(WebScanSteps(&fakeFetcher{page: &fakePage}, c)...)
			return p
		}
	}

	t.Run("persists findings and completes the scan", func(t *testing.T) {
		t.Parallel()

		db := setupStore(t)
		target := queuedScan(t, db, "scan-ok", model.ScanKindWeb)
		classifier := &fakeClassifier{evidence: []model.Evidence{{
			ID: "ev-1", Kind: model.EvidenceTLS, Severity: 4, Title: "Page served without HTTPS",
			Details: []byte(`{"url":"http://example.com/"}`), CreatedAt: now,
		}}}

		h := NewHandler(db, webFactory(classifier), WithHandlerClock(clock.NewFake(now)), WithHandlerLogger(discardLogger()))
		if err := h.Handle(context.Background(), scanJob(t, target)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		scan, err := db.GetScan(context.Background(), "scan-ok")
		if err != nil {
			t.Fatal(err)
		}
		if scan.Status != model.ScanStatusCompleted {
			t.Errorf("status %q, want completed", scan.Status)
		}
		if scan.StartedAt == nil || scan.FinishedAt == nil {
			t.Error("expected start and finish times")
		}

		evidence, err := db.ListEvidence(context.Background(), "scan-ok")
		if err != nil {
			t.Fatal(err)
		}
		if len(evidence) != 1 {
			t.Errorf("expected 1 evidence, got %d", len(evidence))
		}
		issues, err := db.ListIssues(context.Background(), "scan-ok")
		if err != nil {
			t.Fatal(err)
		}
		if len(issues) != 1 {
			t.Errorf("expected 1 issue, got %d", len(issues))
		}
	})

	t.Run("pipeline failure marks the scan failed and returns the error", func(t *testing.T) {
		t.Parallel()

		db := setupStore(t)
		target := queuedScan(t, db, "scan-bad", model.ScanKindWeb)
		boom := errors.New("classifier down")

		h := NewHandler(db, webFactory(&fakeClassifier{err: boom}), WithHandlerLogger(discardLogger()))
		if err := h.Handle(context.Background(), scanJob(t, target)); !errors.Is(err, boom) {
			t.Fatalf("expected %v, got %v", boom, err)
		}

		scan, err := db.GetScan(context.Background(), "scan-bad")
		if err != nil {
			t.Fatal(err)
		}
		if scan.Status != model.ScanStatusFailed || scan.Error != boom.Error() {
			t.Errorf("unexpected scan state: %+v", scan)
		}
	})

	t.Run("non web targets complete without findings", func(t *testing.T) {
		t.Parallel()

		db := setupStore(t)
		target := queuedScan(t, db, "scan-app", model.ScanKindApp)

		called := false
		h := NewHandler(db, func() *Pipeline {
			called = true
			return New()
		}, WithHandlerLogger(discardLogger()))
		if err := h.Handle(context.Background(), scanJob(t, target)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if called {
			t.Error("pipeline should not run for app targets")
		}
		scan, _ := db.GetScan(context.Background(), "scan-app")
		if scan.Status != model.ScanStatusCompleted {
			t.Errorf("status %q, want completed", scan.Status)
		}
	})

	t.Run("unknown scans are dropped", func(t *testing.T) {
		t.Parallel()

		db := setupStore(t)
		h := NewHandler(db, func() *Pipeline { return New() }, WithHandlerLogger(discardLogger()))
		job := scanJob(t, model.ScanTarget{ScanID: "missing", Input: "https://example.com", Kind: model.ScanKindWeb})
		if err := h.Handle(context.Background(), job); err != nil {
			t.Errorf("expected nil error, got %v", err)
		}
	})

	t.Run("invalid payload is an error", func(t *testing.T) {
		t.Parallel()

		db := setupStore(t)
		h := NewHandler(db, func() *Pipeline { return New() }, WithHandlerLogger(discardLogger()))
		if err := h.Handle(context.Background(), &model.Job{ID: "j", Payload: []byte(`not json`)}); err == nil {
			t.Error("expected error for invalid payload")
		}
	})
}

var fakePage = mustPage("http://example.com/")
