// Package firstparty decides whether a domain belongs to the same
// organisation as a scanned site, and whether it is shared CDN
// infrastructure.
//
// All functions are pure and safe for concurrent use.
package firstparty

import (
	"net"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// infrastructure maps an organisation's registrable domain to the domains it
// serves assets from under other registrable domains. Entries match
// themselves and their subdomains.
var infrastructure = map[string][]string{
	"github.com":    {"githubusercontent.com", "githubassets.com", "github.io", "githubapp.com"},
	"google.com":    {"gstatic.com", "googleapis.com", "googleusercontent.com", "ggpht.com", "gvt1.com"},
	"youtube.com":   {"ytimg.com", "googlevideo.com", "ggpht.com", "youtube-nocookie.com"},
	"facebook.com":  {"fbcdn.net", "facebook.net", "fbsbx.com"},
	"instagram.com": {"cdninstagram.com", "fbcdn.net"},
	"twitter.com":   {"twimg.com", "t.co"},
	"x.com":         {"twimg.com", "t.co"},
	"linkedin.com":  {"licdn.com"},
	"reddit.com":    {"redditstatic.com", "redditmedia.com", "redd.it"},
	"wikipedia.org": {"wikimedia.org"},
	"apple.com":     {"mzstatic.com", "cdn-apple.com", "apple-cloudkit.com"},
	"microsoft.com": {"msecnd.net", "msauth.net", "microsoftonline.com", "azureedge.net"},
	"amazon.com":    {"media-amazon.com", "ssl-images-amazon.com", "amazonaws.com"},
	"netflix.com":   {"nflxext.com", "nflximg.net", "nflxvideo.net", "nflxso.net"},
	"yahoo.com":     {"yimg.com"},
	"ebay.com":      {"ebaystatic.com", "ebayimg.com"},
	"shopify.com":   {"shopifycdn.com", "shopifysvc.com"},
	"medium.com":    {"medium.systems", "miro.medium.com"},
}

// cdnFragments are the domains of public CDNs. A host equal to one of them,
// or below one, is shared infrastructure regardless of who the scanned site
// is.
var cdnFragments = []string{
	"cloudflare.com",
	"cloudfront.net",
	"akamaihd.net",
	"akamaized.net",
	"akamaiedge.net",
	"edgekey.net",
	"fastly.net",
	"fastlylb.net",
	"jsdelivr.net",
	"unpkg.com",
	"cdnjs.com",
	"bootstrapcdn.com",
	"azureedge.net",
	"edgecastcdn.net",
	"stackpathdns.com",
	"stackpathcdn.com",
	"b-cdn.net",
	"kxcdn.com",
	"cdn77.org",
	"gcore.com",
}

// Normalize lower-cases host and strips any port and trailing dot.
func Normalize(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}

// RegistrableDomain returns the eTLD+1 of host (e.g. "api.github.com" →
// "github.com"). Hosts without a registrable domain, such as IP addresses or
// bare public suffixes, are returned normalised but otherwise unchanged.
func RegistrableDomain(host string) string {
	host = Normalize(host)
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return registrable
}

// IsFirstParty reports whether domain belongs to the organisation that owns
// root. It is true when the two match exactly, share a registrable domain,
// or when root's organisation is known to serve assets from domain.
func IsFirstParty(domain, root string) bool {
	domain = Normalize(domain)
	root = Normalize(root)
	if domain == "" || root == "" {
		return false
	}
	if domain == root {
		return true
	}

	rootRegistrable := RegistrableDomain(root)
	if RegistrableDomain(domain) == rootRegistrable {
		return true
	}

	for _, fragment := range infrastructure[rootRegistrable] {
		if withinDomain(domain, fragment) {
			return true
		}
	}
	return false
}

// withinDomain reports whether host is parent or one of its subdomains.
func withinDomain(host, parent string) bool {
	return host == parent || strings.HasSuffix(host, "."+parent)
}

// IsKnownCDN reports whether domain is served by a well-known public CDN.
func IsKnownCDN(domain string) bool {
	domain = Normalize(domain)
	if domain == "" {
		return false
	}
	for _, fragment := range cdnFragments {
		if withinDomain(domain, fragment) {
			return true
		}
	}
	return false
}
