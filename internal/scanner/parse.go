package scanner

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// ResourceKind names the element a resource was referenced from.
type ResourceKind string

const (
	ResourceScript ResourceKind = "script"
	ResourceImage  ResourceKind = "img"
	ResourceFrame  ResourceKind = "iframe"
	ResourceLink   ResourceKind = "link"
)

// Resource is a sub-resource referenced by a page.
type Resource struct {
	Kind ResourceKind
	URL  string
	Host string
}

// ParseResources walks an HTML document and returns the absolute
// sub-resources it loads, resolved against base. Inline and non-network
// references (data:, javascript:, fragments) are skipped.
func ParseResources(base *url.URL, content io.Reader) ([]Resource, error) {
	doc, err := html.Parse(content)
	if err != nil {
		return nil, err
	}

	resources := make([]Resource, 0)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if r, ok := resourceOf(base, n); ok {
				resources = append(resources, r)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return resources, nil
}

func resourceOf(base *url.URL, n *html.Node) (Resource, bool) {
	var kind ResourceKind
	var ref string
	switch n.Data {
	case "script":
		kind, ref = ResourceScript, getAttr(n, "src")
	case "img":
		kind, ref = ResourceImage, getAttr(n, "src")
	case "iframe":
		kind, ref = ResourceFrame, getAttr(n, "src")
	case "link":
		// Navigation-only relations do not load anything.
		switch strings.ToLower(getAttr(n, "rel")) {
		case "canonical", "alternate", "author", "license", "next", "prev", "search", "help":
			return Resource{}, false
		}
		kind, ref = ResourceLink, getAttr(n, "href")
	default:
		return Resource{}, false
	}

	resolved := resolveURL(base, ref)
	if resolved == nil || resolved.Hostname() == "" {
		return Resource{}, false
	}
	return Resource{Kind: kind, URL: resolved.String(), Host: strings.ToLower(resolved.Hostname())}, true
}

func resolveURL(base *url.URL, ref string) *url.URL {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return nil
	}
	lower := strings.ToLower(ref)
	for _, prefix := range []string{"javascript:", "data:", "mailto:", "tel:", "blob:"} {
		if strings.HasPrefix(lower, prefix) {
			return nil
		}
	}

	u, err := url.Parse(ref)
	if err != nil {
		return nil
	}
	resolved := base.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return nil
	}
	return resolved
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
