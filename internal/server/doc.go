// Package server implements the privscan HTTP API.
//
// Scan submissions pass the admission controller and the daily quota
// before a scan record is stored and a job is enqueued for the workers.
// Reports are rendered from stored findings on demand.
package server
