// Package admission decides whether an inbound request may proceed.
//
// A request is classified by how expensive it looks (Classify), the
// endpoint's base limit is scaled by that class and, when enabled, by queue
// backpressure (LoadAdjuster), and the hit is counted in a fixed window
// keyed by client (Counter). Middleware wires this into net/http and
// answers denials with 429 and a Retry-After header.
//
// Nothing in this package fails a request because of its own errors:
// classification and load problems fall back to the base limit, and counter
// errors let the request through.
package admission
