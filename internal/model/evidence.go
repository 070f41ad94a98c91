package model

import (
	"encoding/json"
	"time"
)

// EvidenceKind names the category of a raw finding.
type EvidenceKind string

const (
	// EvidenceTracker is a request to a known tracking or advertising domain.
	// Details carry {"domain": "..."}.
	EvidenceTracker EvidenceKind = "tracker"

	// EvidenceThirdParty is a request to a domain outside the scanned
	// organisation. Details carry {"domain": "..."}.
	EvidenceThirdParty EvidenceKind = "thirdparty"

	// EvidenceCookie is a cookie set by the target.
	EvidenceCookie EvidenceKind = "cookie"

	// EvidenceFingerprinting is a script from a known fingerprinting vendor.
	EvidenceFingerprinting EvidenceKind = "fingerprinting"

	// EvidenceTLS is a transport security problem.
	EvidenceTLS EvidenceKind = "tls"
)

// Evidence is a single raw finding. Evidence is append-only: once stored it
// is never modified.
type Evidence struct {
	ID     string       `json:"id"`
	ScanID string       `json:"scanId"`
	Kind   EvidenceKind `json:"kind"`

	// Severity is on a 1..5 scale.
	Severity int    `json:"severity"`
	Title    string `json:"title"`

	// Details is an opaque structured payload whose shape depends on Kind.
	Details json.RawMessage `json:"details,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}
