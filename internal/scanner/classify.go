package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/google/uuid"

	"github.com/nao1215/privscan/internal/clock"
	"github.com/nao1215/privscan/internal/firstparty"
	"github.com/nao1215/privscan/internal/lists"
	"github.com/nao1215/privscan/internal/model"
)

// Evidence severities on the 1..5 scale.
const (
	severityFingerprinting = 5
	severityTracker        = 4
	severityInsecure       = 4
	severityThirdParty     = 3
	severityCookie         = 2
)

// ListProvider supplies the current tracker lists. *lists.Cache
// implements it.
type ListProvider interface {
	Get(ctx context.Context) (*model.Lists, error)
}

// domainDetails is the payload of tracker, fingerprinting and third-party
// evidence.
type domainDetails struct {
	Domain    string   `json:"domain"`
	Category  string   `json:"category,omitempty"`
	Resources []string `json:"resources,omitempty"`
}

type cookieDetails struct {
	Name     string `json:"name"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Secure   bool   `json:"secure"`
	HTTPOnly bool   `json:"httpOnly"`
	SameSite string `json:"sameSite,omitempty"`
	// Persistent cookies carry an expiry.
	Persistent bool `json:"persistent"`
}

type tlsDetails struct {
	URL string `json:"url"`
}

// Classifier turns a fetched page into evidence.
type Classifier struct {
	lists ListProvider
	clock clock.Clock
	newID func() string
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithClassifierClock sets the clock stamped on evidence.
func WithClassifierClock(c clock.Clock) ClassifierOption {
	return func(cl *Classifier) {
		cl.clock = c
	}
}

// WithIDGenerator replaces uuid.NewString for evidence ids.
func WithIDGenerator(newID func() string) ClassifierOption {
	return func(cl *Classifier) {
		if newID != nil {
			cl.newID = newID
		}
	}
}

// NewClassifier returns a Classifier reading lists from provider.
func NewClassifier(provider ListProvider, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		lists: provider,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.clock = clock.OrSystem(c.clock)
	return c
}

// Classify returns the evidence for page, ordered by kind then domain.
//
// Each distinct resource host outside the page's own host yields at most
// one tracker and one fingerprinting record; hosts that are neither, and
// are not first-party or shared CDN infrastructure, yield a third-party
// record. Every cookie yields a cookie record, and a page not served over
// HTTPS yields a tls record.
func (c *Classifier) Classify(ctx context.Context, scanID string, page *Page) ([]model.Evidence, error) {
	l, err := c.lists.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tracker lists: %w", err)
	}
	idx := lists.NewIndex(l)
	now := c.clock.Now().UTC()

	root := firstparty.Normalize(page.URL.Hostname())
	evidence := make([]model.Evidence, 0)
	add := func(kind model.EvidenceKind, severity int, title string, details any) error {
		raw, err := json.Marshal(details)
		if err != nil {
			return err
		}
		evidence = append(evidence, model.Evidence{
			ID:        c.newID(),
			ScanID:    scanID,
			Kind:      kind,
			Severity:  severity,
			Title:     title,
			Details:   raw,
			CreatedAt: now,
		})
		return nil
	}

	hosts := groupByHost(page.Resources, root)
	for _, host := range sortedKeys(hosts) {
		resources := hosts[host]
		category, tracked := idx.Tracker(host)
		fingerprinting := idx.Fingerprinting(host)

		if fingerprinting {
			if err := add(model.EvidenceFingerprinting, severityFingerprinting,
				"Fingerprinting script from "+host,
				domainDetails{Domain: host, Category: "fingerprinting", Resources: resources}); err != nil {
				return nil, err
			}
		}
		if tracked {
			if err := add(model.EvidenceTracker, severityTracker,
				"Tracker request to "+host,
				domainDetails{Domain: host, Category: category, Resources: resources}); err != nil {
				return nil, err
			}
		}
		if tracked || fingerprinting {
			continue
		}
		if firstparty.IsFirstParty(host, root) || firstparty.IsKnownCDN(host) {
			continue
		}
		if err := add(model.EvidenceThirdParty, severityThirdParty,
			"Third-party request to "+host,
			domainDetails{Domain: host, Resources: resources}); err != nil {
			return nil, err
		}
	}

	for _, cookie := range page.Cookies {
		if err := add(model.EvidenceCookie, severityCookie,
			"Cookie set: "+cookie.Name, newCookieDetails(cookie)); err != nil {
			return nil, err
		}
	}

	if !page.Secure() {
		if err := add(model.EvidenceTLS, severityInsecure,
			"Page served without HTTPS",
			tlsDetails{URL: page.URL.Redacted()}); err != nil {
			return nil, err
		}
	}

	return evidence, nil
}

// groupByHost maps each foreign host to the resource URLs loaded from it.
func groupByHost(resources []Resource, root string) map[string][]string {
	hosts := make(map[string][]string)
	for _, r := range resources {
		host := firstparty.Normalize(r.Host)
		if host == "" || host == root {
			continue
		}
		hosts[host] = append(hosts[host], r.URL)
	}
	return hosts
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newCookieDetails(c *http.Cookie) cookieDetails {
	d := cookieDetails{
		Name:       c.Name,
		Domain:     c.Domain,
		Path:       c.Path,
		Secure:     c.Secure,
		HTTPOnly:   c.HttpOnly,
		Persistent: c.MaxAge > 0 || !c.Expires.IsZero(),
	}
	switch c.SameSite {
	case http.SameSiteLaxMode:
		d.SameSite = "Lax"
	case http.SameSiteStrictMode:
		d.SameSite = "Strict"
	case http.SameSiteNoneMode:
		d.SameSite = "None"
	}
	return d
}
