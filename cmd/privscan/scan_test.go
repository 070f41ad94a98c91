package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nao1215/privscan/internal/database"
	"github.com/nao1215/privscan/internal/model"
)

const trackedPage = `<!DOCTYPE html>
<html>
<head>
<title>Shop</title>
<script src="https://www.google-analytics.com/analytics.js"></script>
</head>
<body><p>hello</p></body>
</html>`

func newTrackedSite(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "secret-value", Path: "/"})
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(trackedPage))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PRIVSCAN_DATA_DIR", dir)
	t.Setenv("PRIVSCAN_REDIS_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("PRIVSCAN_DATABASE_URL", "")
	t.Setenv("PRIVSCAN_LISTS_FILE", "")
	return dir
}

// The scan tests set process environment variables and cannot run in parallel.
func TestRunScanCmd(t *testing.T) {
	dataDir := isolateEnv(t)
	site := newTrackedSite(t)

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"scan", "-f", "json", site.URL})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var payload model.ReportPayload
	if err := json.NewDecoder(&out).Decode(&payload); err != nil {
		t.Fatalf("failed to decode report: %v\n%s", err, out.String())
	}
	if payload.Scan.Status != model.ScanStatusCompleted {
		t.Errorf("status = %q, want completed", payload.Scan.Status)
	}
	keys := make(map[string]bool, len(payload.Issues))
	for _, issue := range payload.Issues {
		keys[issue.Key] = true
	}
	for _, want := range []string{"trackers-detected", "no-https", "cookies-set"} {
		if !keys[want] {
			t.Errorf("expected issue %q, got %v", want, keys)
		}
	}
	if strings.Contains(out.String(), "secret-value") {
		t.Error("report must not contain cookie values")
	}

	db, err := database.Open(dataDir, database.DefaultOptions())
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	scans, err := db.ListScans(context.Background(), 10)
	_ = db.Close()
	if err != nil {
		t.Fatalf("ListScans() error = %v", err)
	}
	if len(scans) != 1 || scans[0].Status != model.ScanStatusCompleted {
		t.Fatalf("expected one completed scan, got %+v", scans)
	}

	t.Run("report renders the stored scan", func(t *testing.T) {
		var md bytes.Buffer
		cmd := NewRootCmd()
		cmd.SetOut(&md)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"report", scans[0].ID, "-f", "markdown"})
		if err := cmd.Execute(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(md.String(), "Privacy Report:") {
			t.Errorf("unexpected markdown output:\n%s", md.String())
		}
	})

	t.Run("report rejects an unknown scan", func(t *testing.T) {
		cmd := NewRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"report", "missing-id"})
		err := cmd.Execute()
		if err == nil || !strings.Contains(err.Error(), "scan not found") {
			t.Errorf("expected scan not found error, got %v", err)
		}
	})
}

func TestRunScanCmdInvalidTarget(t *testing.T) {
	isolateEnv(t)

	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"scan", "--no-save", "ftp://example.com"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "invalid target") {
		t.Errorf("expected invalid target error, got %v", err)
	}
}
