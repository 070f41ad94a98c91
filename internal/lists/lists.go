// Package lists loads and caches the tracker reference lists used by scan
// logic.
//
// Lists come from a Source (a file or a Redis key), are validated field by
// field, and are held in memory for DefaultTTL. A list that is missing or
// empty after validation is replaced by the copy bundled with the binary.
package lists

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/nao1215/privscan/internal/cache"
	"github.com/nao1215/privscan/internal/clock"
	"github.com/nao1215/privscan/internal/model"
)

// DefaultTTL is how long a loaded set of lists is served before reloading.
const DefaultTTL = 5 * time.Minute

const (
	cacheKey        = "lists"
	easyPrivacyFile = "easyprivacy.json"
	whoTracksFile   = "whotracks.json"
)

//go:embed defaults/*.json
var embedded embed.FS

// Cache serves the reference lists. It is safe for concurrent use.
type Cache struct {
	source   Source
	defaults fs.FS
	logger   *slog.Logger
	entries  *cache.TTL[*model.Lists]
}

type cacheOptions struct {
	ttl      time.Duration
	clock    clock.Clock
	defaults fs.FS
	logger   *slog.Logger
}

// Option configures a Cache.
type Option func(*cacheOptions)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *cacheOptions) {
		o.ttl = ttl
	}
}

// WithClock sets the time source used for expiry.
func WithClock(c clock.Clock) Option {
	return func(o *cacheOptions) {
		o.clock = c
	}
}

// WithDefaults replaces the bundled defaults. fsys must hold
// easyprivacy.json and whotracks.json at its root.
func WithDefaults(fsys fs.FS) Option {
	return func(o *cacheOptions) {
		o.defaults = fsys
	}
}

// WithLogger sets the logger used to report fallbacks.
func WithLogger(logger *slog.Logger) Option {
	return func(o *cacheOptions) {
		o.logger = logger
	}
}

// BundledDefaults returns the lists shipped with the binary.
func BundledDefaults() fs.FS {
	sub, err := fs.Sub(embedded, "defaults")
	if err != nil {
		panic(err) // embedded path is fixed at compile time
	}
	return sub
}

// NewCache creates a cache reading from source. A nil source serves the
// defaults only.
func NewCache(source Source, opts ...Option) (*Cache, error) {
	o := cacheOptions{ttl: DefaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.defaults == nil {
		o.defaults = BundledDefaults()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if source == nil {
		source = SourceFunc(func(context.Context) ([]byte, error) { return nil, ErrSourceEmpty })
	}

	entries, err := cache.New[*model.Lists](o.ttl, cache.WithClock(o.clock), cache.WithSize(1))
	if err != nil {
		return nil, fmt.Errorf("failed to create list cache: %w", err)
	}
	return &Cache{
		source:   source,
		defaults: o.defaults,
		logger:   o.logger,
		entries:  entries,
	}, nil
}

// Get returns the current lists, reloading them when the cached copy has
// expired. Concurrent callers during a reload share one load. The returned
// value is shared and must not be modified.
func (c *Cache) Get(ctx context.Context) (*model.Lists, error) {
	return c.entries.GetOrCompute(ctx, cacheKey, c.load)
}

// Invalidate drops the cached copy so the next Get reloads.
func (c *Cache) Invalidate() {
	c.entries.Invalidate(cacheKey)
}

func (c *Cache) load(ctx context.Context) (*model.Lists, error) {
	var loaded model.Lists
	raw, err := c.source.Load(ctx)
	switch {
	case errors.Is(err, ErrSourceEmpty):
		c.logger.Debug("list source is empty, using defaults")
	case err != nil:
		c.logger.Warn("failed to load lists, using defaults", "error", err)
	default:
		loaded = Validate(raw)
	}

	var defaults *model.Lists
	fallback := func() (*model.Lists, error) {
		if defaults != nil {
			return defaults, nil
		}
		d, err := c.loadDefaults()
		if err != nil {
			return nil, err
		}
		defaults = d
		return d, nil
	}

	if len(loaded.EasyPrivacy.Domains) == 0 {
		d, err := fallback()
		if err != nil {
			return nil, err
		}
		if len(d.EasyPrivacy.Domains) == 0 {
			return nil, fmt.Errorf("easyPrivacy list: %w", ErrNoUsableLists)
		}
		loaded.EasyPrivacy = d.EasyPrivacy
	}
	if loaded.WhoTracks.Empty() {
		d, err := fallback()
		if err != nil {
			return nil, err
		}
		if d.WhoTracks.Empty() {
			return nil, fmt.Errorf("whoTracks list: %w", ErrNoUsableLists)
		}
		loaded.WhoTracks = d.WhoTracks
	}
	return &loaded, nil
}

// loadDefaults reads the two default files and validates them as one
// document. Missing files produce empty lists.
func (c *Cache) loadDefaults() (*model.Lists, error) {
	doc := make(map[string]json.RawMessage, 2)
	for key, name := range map[string]string{"easyPrivacy": easyPrivacyFile, "whoTracks": whoTracksFile} {
		data, err := fs.ReadFile(c.defaults, name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read default list %s: %w", name, err)
		}
		if json.Valid(data) {
			doc[key] = data
		}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble default lists: %w", err)
	}
	lists := Validate(raw)
	return &lists, nil
}
