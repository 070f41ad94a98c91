// Package main provides the entry point for the privscan CLI.
//
// privscan scans websites for trackers, third-party requests and cookies,
// and serves the results through an HTTP API backed by a job queue.
//
// Usage:
//
//	privscan serve
//	privscan worker
//	privscan scan <url>...
//	privscan report <scan-id>
//
// See --help for all available options.
package main

// main is the entry point for privscan.
func main() {
	Execute()
}
