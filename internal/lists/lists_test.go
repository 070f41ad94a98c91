package lists

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nao1215/privscan/internal/clock"
)

const validDoc = `{
  "easyPrivacy": {"domains": ["tracker.example", "ads.example"]},
  "whoTracks": {
    "fingerprinting": ["fp.example"],
    "trackers": [{"domain": "tracker.example", "category": "analytics"}]
  }
}`

func countingSource(data []byte, err error) (Source, *atomic.Int32) {
	var calls atomic.Int32
	return SourceFunc(func(context.Context) ([]byte, error) {
		calls.Add(1)
		return data, err
	}), &calls
}

func TestValidate(t *testing.T) {
	t.Parallel()

	t.Run("drops malformed entries", func(t *testing.T) {
		t.Parallel()
		raw := []byte(`{
		  "easyPrivacy": {"domains": ["Good.Example", 42, "", "  ", null, "other.example"]},
		  "whoTracks": {
		    "fingerprinting": "not-a-list",
		    "trackers": [
		      {"domain": "t.example", "category": "ads"},
		      {"domain": 7, "category": "ads"},
		      {"category": "ads"},
		      "bare-string",
		      {"domain": "nocat.example"}
		    ]
		  }
		}`)
		got := Validate(raw)

		wantDomains := []string{"good.example", "other.example"}
		if len(got.EasyPrivacy.Domains) != len(wantDomains) {
			t.Fatalf("Domains = %v, want %v", got.EasyPrivacy.Domains, wantDomains)
		}
		for i, d := range wantDomains {
			if got.EasyPrivacy.Domains[i] != d {
				t.Errorf("Domains[%d] = %q, want %q", i, got.EasyPrivacy.Domains[i], d)
			}
		}
		if len(got.WhoTracks.Fingerprinting) != 0 {
			t.Errorf("Fingerprinting = %v, want empty", got.WhoTracks.Fingerprinting)
		}
		if len(got.WhoTracks.Trackers) != 2 {
			t.Fatalf("Trackers = %v, want 2 entries", got.WhoTracks.Trackers)
		}
		if got.WhoTracks.Trackers[1].Category != "unknown" {
			t.Errorf("missing category = %q, want unknown", got.WhoTracks.Trackers[1].Category)
		}
	})

	t.Run("non-object document yields empty lists", func(t *testing.T) {
		t.Parallel()
		for _, raw := range []string{`[]`, `"x"`, `{broken`, ``} {
			got := Validate([]byte(raw))
			if len(got.EasyPrivacy.Domains) != 0 || !got.WhoTracks.Empty() {
				t.Errorf("Validate(%q) = %+v, want empty", raw, got)
			}
		}
	})
}

func TestCacheGet(t *testing.T) {
	t.Parallel()

	t.Run("serves loaded lists", func(t *testing.T) {
		t.Parallel()
		src, _ := countingSource([]byte(validDoc), nil)
		c, err := NewCache(src)
		if err != nil {
			t.Fatalf("NewCache() error = %v", err)
		}
		got, err := c.Get(context.Background())
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if len(got.EasyPrivacy.Domains) != 2 || got.WhoTracks.Fingerprinting[0] != "fp.example" {
			t.Errorf("Get() = %+v", got)
		}
	})

	t.Run("reloads only after ttl", func(t *testing.T) {
		t.Parallel()
		fake := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
		src, calls := countingSource([]byte(validDoc), nil)
		c, err := NewCache(src, WithClock(fake))
		if err != nil {
			t.Fatalf("NewCache() error = %v", err)
		}
		ctx := context.Background()

		for range 3 {
			if _, err := c.Get(ctx); err != nil {
				t.Fatalf("Get() error = %v", err)
			}
		}
		fake.Advance(4 * time.Minute)
		if _, err := c.Get(ctx); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if n := calls.Load(); n != 1 {
			t.Fatalf("loads within ttl = %d, want 1", n)
		}

		fake.Advance(time.Minute)
		if _, err := c.Get(ctx); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if n := calls.Load(); n != 2 {
			t.Errorf("loads after ttl = %d, want 2", n)
		}
	})

	t.Run("concurrent callers share one load", func(t *testing.T) {
		t.Parallel()
		release := make(chan struct{})
		var calls atomic.Int32
		src := SourceFunc(func(context.Context) ([]byte, error) {
			calls.Add(1)
			<-release
			return []byte(validDoc), nil
		})
		c, err := NewCache(src)
		if err != nil {
			t.Fatalf("NewCache() error = %v", err)
		}

		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := c.Get(context.Background()); err != nil {
					t.Errorf("Get() error = %v", err)
				}
			}()
		}
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		if n := calls.Load(); n != 1 {
			t.Errorf("loads = %d, want 1", n)
		}
	})

	t.Run("source error falls back to defaults", func(t *testing.T) {
		t.Parallel()
		src, _ := countingSource(nil, errors.New("connection refused"))
		c, err := NewCache(src)
		if err != nil {
			t.Fatalf("NewCache() error = %v", err)
		}
		got, err := c.Get(context.Background())
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if len(got.EasyPrivacy.Domains) == 0 || got.WhoTracks.Empty() {
			t.Errorf("Get() = %+v, want bundled defaults", got)
		}
	})

	t.Run("falls back per list", func(t *testing.T) {
		t.Parallel()
		doc := `{"easyPrivacy": {"domains": ["only.example"]}, "whoTracks": {"trackers": [{"domain": 1}]}}`
		src, _ := countingSource([]byte(doc), nil)
		defaults := fstest.MapFS{
			"easyprivacy.json": {Data: []byte(`{"domains": ["default.example"]}`)},
			"whotracks.json":   {Data: []byte(`{"fingerprinting": ["fp.default"]}`)},
		}
		c, err := NewCache(src, WithDefaults(defaults))
		if err != nil {
			t.Fatalf("NewCache() error = %v", err)
		}
		got, err := c.Get(context.Background())
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.EasyPrivacy.Domains[0] != "only.example" {
			t.Errorf("EasyPrivacy = %v, want source list kept", got.EasyPrivacy.Domains)
		}
		if len(got.WhoTracks.Fingerprinting) != 1 || got.WhoTracks.Fingerprinting[0] != "fp.default" {
			t.Errorf("WhoTracks = %+v, want default list", got.WhoTracks)
		}
	})

	t.Run("unusable defaults fail", func(t *testing.T) {
		t.Parallel()
		src, _ := countingSource(nil, ErrSourceEmpty)
		defaults := fstest.MapFS{
			"easyprivacy.json": {Data: []byte(`{"domains": []}`)},
		}
		c, err := NewCache(src, WithDefaults(defaults))
		if err != nil {
			t.Fatalf("NewCache() error = %v", err)
		}
		if _, err := c.Get(context.Background()); !errors.Is(err, ErrNoUsableLists) {
			t.Errorf("Get() error = %v, want ErrNoUsableLists", err)
		}
	})

	t.Run("bundled defaults are usable", func(t *testing.T) {
		t.Parallel()
		c, err := NewCache(nil)
		if err != nil {
			t.Fatalf("NewCache() error = %v", err)
		}
		if _, err := c.Get(context.Background()); err != nil {
			t.Errorf("Get() error = %v", err)
		}
	})
}

func TestFileSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	t.Run("missing file is empty", func(t *testing.T) {
		t.Parallel()
		_, err := FileSource{Path: filepath.Join(dir, "missing.json")}.Load(context.Background())
		if !errors.Is(err, ErrSourceEmpty) {
			t.Errorf("Load() error = %v, want ErrSourceEmpty", err)
		}
	})

	t.Run("reads file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(dir, "lists.json")
		if err := os.WriteFile(path, []byte(validDoc), 0o600); err != nil {
			t.Fatal(err)
		}
		data, err := FileSource{Path: path}.Load(context.Background())
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got := Validate(data); len(got.EasyPrivacy.Domains) != 2 {
			t.Errorf("Validate(Load()) = %+v", got)
		}
	})
}

func TestRedisSource(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	src := NewRedisSource(client, "")
	ctx := context.Background()

	if _, err := src.Load(ctx); !errors.Is(err, ErrSourceEmpty) {
		t.Fatalf("Load() on missing key error = %v, want ErrSourceEmpty", err)
	}
	if err := src.Store(ctx, []byte(validDoc)); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	c, err := NewCache(src)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	got, err := c.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.EasyPrivacy.Domains[0] != "tracker.example" {
		t.Errorf("Get() = %+v", got)
	}
}

func TestIndex(t *testing.T) {
	t.Parallel()

	lists := Validate([]byte(validDoc))
	idx := NewIndex(&lists)

	if cat, ok := idx.Tracker("cdn.tracker.example"); !ok || cat != "analytics" {
		t.Errorf("Tracker(subdomain) = %q, %v; want analytics, true", cat, ok)
	}
	if cat, ok := idx.Tracker("ads.example"); !ok || cat != "advertising" {
		t.Errorf("Tracker(easyprivacy only) = %q, %v; want advertising, true", cat, ok)
	}
	if _, ok := idx.Tracker("example"); ok {
		t.Error("Tracker(parent) = true, want false")
	}
	if !idx.Fingerprinting("js.fp.example") {
		t.Error("Fingerprinting(subdomain) = false, want true")
	}
	if idx.Fingerprinting("notfp.example") {
		t.Error("Fingerprinting(unrelated) = true, want false")
	}
}
