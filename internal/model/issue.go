package model

// Reference is a link supporting an issue's guidance.
type Reference struct {
	Label string `json:"label,omitempty"`
	URL   string `json:"url"`
}

// Issue is a curated, user-facing finding derived from evidence.
// Issues are immutable once created.
type Issue struct {
	ID     string `json:"id"`
	ScanID string `json:"scanId"`

	// Key identifies the catalogue entry the issue was built from.
	Key string `json:"key,omitempty"`

	Severity     Severity    `json:"severity"`
	Category     string      `json:"category"`
	Title        string      `json:"title"`
	Summary      string      `json:"summary,omitempty"`
	HowToFix     string      `json:"howToFix,omitempty"`
	WhyItMatters string      `json:"whyItMatters,omitempty"`
	References   []Reference `json:"references"`

	// SortWeight breaks ties between issues of equal severity; lower sorts
	// first. Nil is treated as 0.
	SortWeight *int `json:"sortWeight,omitempty"`
}

// Weight returns SortWeight, or 0 when unset.
func (i Issue) Weight() int {
	if i.SortWeight == nil {
		return 0
	}
	return *i.SortWeight
}

// IntPtr returns a pointer to v. Handy for SortWeight literals.
func IntPtr(v int) *int {
	return &v
}
