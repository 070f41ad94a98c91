package lists

import (
	"strings"

	"github.com/nao1215/privscan/internal/model"
)

// Index answers membership questions against a set of lists. A host
// matches an entry when it equals the entry or is a subdomain of it.
type Index struct {
	trackers       map[string]string
	fingerprinting map[string]struct{}
}

// NewIndex builds an index. EasyPrivacy domains without a WhoTracks
// category are indexed as "advertising".
func NewIndex(l *model.Lists) *Index {
	idx := &Index{
		trackers:       make(map[string]string),
		fingerprinting: make(map[string]struct{}),
	}
	if l == nil {
		return idx
	}
	for _, d := range l.EasyPrivacy.Domains {
		idx.trackers[d] = "advertising"
	}
	for _, entry := range l.WhoTracks.Trackers {
		idx.trackers[entry.Domain] = entry.Category
	}
	for _, d := range l.WhoTracks.Fingerprinting {
		idx.fingerprinting[d] = struct{}{}
	}
	return idx
}

// Tracker reports whether host is a listed tracker and its category.
func (idx *Index) Tracker(host string) (string, bool) {
	for _, candidate := range suffixes(host) {
		if category, ok := idx.trackers[candidate]; ok {
			return category, true
		}
	}
	return "", false
}

// Fingerprinting reports whether host is a listed fingerprinting vendor.
func (idx *Index) Fingerprinting(host string) bool {
	for _, candidate := range suffixes(host) {
		if _, ok := idx.fingerprinting[candidate]; ok {
			return true
		}
	}
	return false
}

// suffixes returns host and each parent domain, longest first:
// "a.b.example.com" → a.b.example.com, b.example.com, example.com, com.
func suffixes(host string) []string {
	host = normalizeDomain(host)
	if host == "" {
		return nil
	}
	out := []string{host}
	for {
		i := strings.IndexByte(host, '.')
		if i < 0 {
			return out
		}
		host = host[i+1:]
		out = append(out, host)
	}
}
