package admission

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMiddleware(t *testing.T) {
	t.Parallel()

	policy := Policy{Name: "scan", BaseLimit: 1, Window: 90 * time.Second, Multipliers: Multipliers{1, 1, 1}}
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("sets headers then denies", func(t *testing.T) {
		t.Parallel()
		h := Middleware(NewController(), policy, nil)(ok)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/scans", nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("first request status = %d, want 204", rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "1" {
			t.Errorf("X-RateLimit-Limit = %q, want 1", got)
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
			t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
		}
		if rec.Header().Get("X-RateLimit-Reset") == "" {
			t.Error("X-RateLimit-Reset missing")
		}

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/scans", nil))
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("second request status = %d, want 429", rec.Code)
		}
		if got := rec.Header().Get("Retry-After"); got != "90" {
			t.Errorf("Retry-After = %q, want 90", got)
		}
		var body rateLimitedBody
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Error != "rate_limited" || body.RetryAfterMs != 90000 || body.RetryAfterSeconds != 90 || body.Message == "" {
			t.Errorf("body = %+v", body)
		}
	})

	t.Run("exempt paths bypass", func(t *testing.T) {
		t.Parallel()
		h := Middleware(NewController(), policy, nil)(ok)
		for _, path := range []string{"/healthz", "/readyz", "/metrics", "/admin/requeue"} {
			for range 3 {
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
				if rec.Code != http.StatusNoContent {
					t.Fatalf("%s status = %d, want 204", path, rec.Code)
				}
				if rec.Header().Get("X-RateLimit-Limit") != "" {
					t.Fatalf("%s carries rate limit headers", path)
				}
			}
		}
	})

	t.Run("custom key separates callers", func(t *testing.T) {
		t.Parallel()
		key := func(r *http.Request) string { return r.Header.Get("X-Caller") }
		h := Middleware(NewController(), policy, nil, WithKeyFunc(key))(ok)
		for _, caller := range []string{"a", "b"} {
			r := httptest.NewRequest(http.MethodPost, "/api/scans", nil)
			r.Header.Set("X-Caller", caller)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			if rec.Code != http.StatusNoContent {
				t.Errorf("caller %s status = %d, want 204", caller, rec.Code)
			}
		}
	})
}

func TestPathShape(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/api/scans/bulk?url=https://example.com&force=true&batch=1", nil)
	got := PathShape(r)
	want := RequestShape{Path: "/api/scans/bulk", TargetURL: "https://example.com", Force: true, Batch: true}
	if got != want {
		t.Errorf("PathShape() = %+v, want %+v", got, want)
	}
}
