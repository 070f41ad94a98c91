package admission

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
)

// DefaultExemptPaths bypass admission entirely. A trailing slash makes the
// entry a prefix.
var DefaultExemptPaths = []string{"/healthz", "/readyz", "/metrics", "/admin/"}

// ShapeFunc extracts the request shape to classify.
type ShapeFunc func(r *http.Request) RequestShape

// KeyFunc identifies the caller of a request.
type KeyFunc func(r *http.Request) string

// PathShape derives a shape from the request path and the "url", "force"
// and "batch" query parameters.
func PathShape(r *http.Request) RequestShape {
	q := r.URL.Query()
	force, _ := strconv.ParseBool(q.Get("force"))
	batch, _ := strconv.ParseBool(q.Get("batch"))
	return RequestShape{
		Path:      r.URL.Path,
		TargetURL: q.Get("url"),
		Force:     force,
		Batch:     batch,
	}
}

type middlewareOptions struct {
	exempt []string
	key    KeyFunc
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareOptions)

// WithExemptPaths replaces DefaultExemptPaths.
func WithExemptPaths(paths ...string) MiddlewareOption {
	return func(o *middlewareOptions) {
		o.exempt = paths
	}
}

// WithKeyFunc replaces ClientKey.
func WithKeyFunc(fn KeyFunc) MiddlewareOption {
	return func(o *middlewareOptions) {
		o.key = fn
	}
}

// rateLimitedBody is the JSON body of a 429 response.
type rateLimitedBody struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterMs      int64  `json:"retryAfterMs"`
	RetryAfterSeconds int64  `json:"retryAfterSeconds"`
}

// Middleware admits requests under policy. A nil shapeFn uses PathShape.
func Middleware(ctrl *Controller, policy Policy, shapeFn ShapeFunc, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	o := middlewareOptions{exempt: DefaultExemptPaths, key: ClientKey}
	for _, opt := range opts {
		opt(&o)
	}
	if shapeFn == nil {
		shapeFn = PathShape
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExempt(r.URL.Path, o.exempt) {
				next.ServeHTTP(w, r)
				return
			}

			d := ctrl.Decide(r.Context(), policy, shapeFn(r), o.key(r))
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			seconds := int64(math.Ceil(d.RetryAfter.Seconds()))
			h.Set("Retry-After", strconv.FormatInt(seconds, 10))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(rateLimitedBody{
				Error:             "rate_limited",
				Message:           "Too many requests. Please retry after " + strconv.FormatInt(seconds, 10) + " seconds.",
				RetryAfterMs:      d.RetryAfter.Milliseconds(),
				RetryAfterSeconds: seconds,
			})
		})
	}
}

func isExempt(path string, exempt []string) bool {
	for _, p := range exempt {
		if strings.HasSuffix(p, "/") {
			if strings.HasPrefix(path, p) {
				return true
			}
			continue
		}
		if path == p {
			return true
		}
	}
	return false
}
