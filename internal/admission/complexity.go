package admission

import (
	"net/url"
	"strings"
)

// Complexity is the cost class of a request.
type Complexity int

const (
	// Simple is an ordinary request.
	Simple Complexity = iota
	// Complex is a request expected to be expensive to serve.
	Complex
	// Bulk is a request for many targets at once.
	Bulk
)

// String returns the lower-case class name.
func (c Complexity) String() string {
	switch c {
	case Simple:
		return "simple"
	case Complex:
		return "complex"
	case Bulk:
		return "bulk"
	default:
		return "unknown"
	}
}

const (
	maxSimpleQueryParams  = 5
	maxSimplePathSegments = 4
)

// RequestShape is what classification looks at.
type RequestShape struct {
	// Path is the path of the inbound request (e.g. "/api/scans/bulk").
	Path string
	// TargetURL is the URL the request asks to scan, if any.
	TargetURL string
	// Force asks to bypass any cached result.
	Force bool
	// Batch marks a request for several targets.
	Batch bool
}

// Classifier assigns a Complexity to request shapes. The zero value has no
// complex domains.
type Classifier struct {
	complexDomains []string
}

// NewClassifier returns a classifier that treats targets on domains, or any
// of their subdomains, as complex.
func NewClassifier(domains []string) Classifier {
	normalized := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), ".")
		if d != "" {
			normalized = append(normalized, d)
		}
	}
	return Classifier{complexDomains: normalized}
}

// Classify returns the class of shape. Complex wins over Bulk.
func (c Classifier) Classify(shape RequestShape) Complexity {
	if shape.Force {
		return Complex
	}
	if target, ok := parseTarget(shape.TargetURL); ok {
		if queryParamCount(target) > maxSimpleQueryParams ||
			pathSegmentCount(target.Path) > maxSimplePathSegments ||
			c.isComplexHost(target.Hostname()) {
			return Complex
		}
	}
	if strings.Contains(strings.ToLower(shape.Path), "bulk") || shape.Batch {
		return Bulk
	}
	return Simple
}

func (c Classifier) isComplexHost(host string) bool {
	host = strings.ToLower(host)
	if host == "" {
		return false
	}
	for _, d := range c.complexDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// parseTarget parses raw as a URL, assuming https when no scheme is given.
func parseTarget(raw string) (*url.URL, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, false
	}
	return u, true
}

// queryParamCount counts key/value pairs, so a=1&a=2 is two parameters.
func queryParamCount(u *url.URL) int {
	n := 0
	for _, values := range u.Query() {
		n += len(values)
	}
	return n
}

func pathSegmentCount(path string) int {
	n := 0
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			n++
		}
	}
	return n
}
