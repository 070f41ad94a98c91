package model

import (
	"fmt"
	"strings"
)

// Severity is the priority of an issue. The numeric value is the rank used
// for ordering: critical(5) > high(4) > medium(3) > low(2) > info(1).
// The zero value is not a valid severity.
type Severity int

const (
	// SeverityInfo marks best-practice notes with no direct privacy impact.
	SeverityInfo Severity = iota + 1

	// SeverityLow marks minor exposures, e.g. first-party cookies.
	SeverityLow

	// SeverityMedium marks exposures worth fixing, e.g. third-party requests.
	SeverityMedium

	// SeverityHigh marks significant exposures, e.g. advertising trackers.
	SeverityHigh

	// SeverityCritical marks exposures that leak visitor identity outright,
	// e.g. fingerprinting scripts.
	SeverityCritical
)

// String returns the lower-case wire name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Rank returns the ordering weight of the severity (1..5), or 0 for
// unknown values.
func (s Severity) Rank() int {
	if !s.Valid() {
		return 0
	}
	return int(s)
}

// Valid reports whether s is one of the defined severities.
func (s Severity) Valid() bool {
	return s >= SeverityInfo && s <= SeverityCritical
}

// AtLeast reports whether s ranks at or above other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// ParseSeverity converts a wire name (case-insensitive) into a Severity.
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "info":
		return SeverityInfo, nil
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", name)
	}
}

// MarshalText encodes the severity as its wire name.
func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a wire name.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// AllSeverities lists the severities from most to least severe.
func AllSeverities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}
}
