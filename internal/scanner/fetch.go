package scanner

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultUserAgent identifies scanner traffic to site operators.
	DefaultUserAgent = "privscan/1.0 (+https://github.com/nao1215/privscan)"

	// DefaultMaxBodySize bounds how much of a page is read.
	DefaultMaxBodySize int64 = 5 * 1024 * 1024

	// DefaultTimeout bounds a single page fetch.
	DefaultTimeout = 20 * time.Second

	maxRedirects = 10
)

// Page is what a fetch observed about a target.
type Page struct {
	// RequestedURL is the normalized target.
	RequestedURL *url.URL
	// URL is the final URL after redirects.
	URL        *url.URL
	StatusCode int
	Header     http.Header
	Cookies    []*http.Cookie
	Resources  []Resource
	// TLSVersion is empty for plain HTTP responses.
	TLSVersion string
}

// Secure reports whether the final response was served over HTTPS.
func (p *Page) Secure() bool {
	return p.URL != nil && p.URL.Scheme == "https"
}

// Fetcher retrieves a single page and the resources it references.
type Fetcher struct {
	client      *http.Client
	userAgent   string
	maxBodySize int64
	timeout     time.Duration
	logger      *slog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithMaxBodySize sets the maximum body size read.
func WithMaxBodySize(size int64) FetcherOption {
	return func(f *Fetcher) {
		if size > 0 {
			f.maxBodySize = size
		}
	}
}

// WithTimeout sets the per-fetch timeout.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithFetchLogger sets the logger.
func WithFetchLogger(logger *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// NewFetcher returns a Fetcher. The default client follows up to ten
// redirects.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		userAgent:   DefaultUserAgent,
		maxBodySize: DefaultMaxBodySize,
		timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// NormalizeTarget parses a scan input into an absolute http(s) URL. Inputs
// without a scheme are read as https.
func NormalizeTarget(input string) (*url.URL, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyTarget
	}
	if !strings.Contains(input, "://") {
		input = "https://" + input
	}

	u, err := url.Parse(input)
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", input, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid target %q: missing host", input)
	}
	return u, nil
}

// Fetch retrieves target. A non-2xx status is not an error: the page is
// still returned so its headers and cookies can be classified.
func (f *Fetcher) Fetch(ctx context.Context, target string) (*Page, error) {
	requested, err := NormalizeTarget(target)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requested.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", requested.Redacted(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read body of %s: %w", requested.Redacted(), err)
	}

	page := &Page{
		RequestedURL: requested,
		URL:          resp.Request.URL,
		StatusCode:   resp.StatusCode,
		Header:       resp.Header.Clone(),
		Cookies:      resp.Cookies(),
		Resources:    []Resource{},
	}
	if resp.TLS != nil {
		page.TLSVersion = tls.VersionName(resp.TLS.Version)
	}

	if isHTML(resp.Header.Get("Content-Type")) {
		resources, err := ParseResources(page.URL, bytes.NewReader(body))
		if err != nil {
			f.logger.Warn("failed to parse page", "url", page.URL.Redacted(), "error", err)
		} else {
			page.Resources = resources
		}
	}

	f.logger.Debug("fetched page",
		"url", page.URL.Redacted(),
		"status", page.StatusCode,
		"resources", len(page.Resources),
		"cookies", len(page.Cookies),
	)
	return page, nil
}

// isHTML reports whether a Content-Type names an HTML document. A missing
// header is sniffed as HTML.
func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
