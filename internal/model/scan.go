package model

import (
	"encoding/json"
	"time"
)

// ScanKind identifies what a scan target is.
type ScanKind string

const (
	// ScanKindWeb is a web page reachable over HTTP(S).
	ScanKindWeb ScanKind = "web"
	// ScanKindApp is an application identifier (store bundle id).
	ScanKindApp ScanKind = "app"
	// ScanKindChain is a chain address.
	ScanKindChain ScanKind = "chain"
)

// Valid reports whether k is a known scan kind.
func (k ScanKind) Valid() bool {
	switch k {
	case ScanKindWeb, ScanKindApp, ScanKindChain:
		return true
	default:
		return false
	}
}

// ScanStatus is the lifecycle state of a scan record.
type ScanStatus string

const (
	ScanStatusQueued    ScanStatus = "queued"
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
)

// Scan is a single scan request and its current state.
type Scan struct {
	// ID uniquely identifies the scan.
	ID string `json:"id"`

	// Input is the target as supplied by the caller: a URL, an app
	// identifier, or a chain address.
	Input string `json:"input"`

	// Kind classifies Input.
	Kind ScanKind `json:"kind"`

	// Status is the lifecycle state.
	Status ScanStatus `json:"status"`

	// Error holds the last failure message, if any.
	Error string `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// ScanTarget is the job payload describing what a worker should scan.
type ScanTarget struct {
	ScanID string   `json:"scanId"`
	Input  string   `json:"input"`
	Kind   ScanKind `json:"kind"`

	// Force asks the scanner to bypass any cached result.
	Force bool `json:"force,omitempty"`

	// Batch marks the target as part of a bulk submission.
	Batch bool `json:"batch,omitempty"`
}

// Encode marshals the target into a job payload.
func (t ScanTarget) Encode() (json.RawMessage, error) {
	return json.Marshal(t)
}

// DecodeScanTarget unmarshals a job payload.
func DecodeScanTarget(payload json.RawMessage) (ScanTarget, error) {
	var t ScanTarget
	err := json.Unmarshal(payload, &t)
	return t, err
}
