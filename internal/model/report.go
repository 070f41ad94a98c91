package model

// DataSharing is the qualitative summary of how much visitor data a target
// shares with other parties.
type DataSharing string

const (
	DataSharingNone   DataSharing = "None"
	DataSharingLow    DataSharing = "Low"
	DataSharingMedium DataSharing = "Medium"
	DataSharingHigh   DataSharing = "High"
)

// ReportMeta carries per-report summary values.
type ReportMeta struct {
	DataSharing DataSharing `json:"dataSharing"`

	// Domain is the registrable domain of the scan input, or the raw input
	// when it is not a parseable URL.
	Domain string `json:"domain"`
}

// ReportPayload is the scored report for a scan. It is computed on every
// request from the scan and its findings and never stored.
type ReportPayload struct {
	Scan     Scan       `json:"scan"`
	Issues   []Issue    `json:"issues"`
	Evidence []Evidence `json:"evidence"`

	// TopFixes holds at most three issues of severity medium or higher.
	TopFixes []Issue    `json:"topFixes"`
	Meta     ReportMeta `json:"meta"`
}

// CountBySeverity returns how many issues carry each severity.
func (r ReportPayload) CountBySeverity() map[Severity]int {
	counts := make(map[Severity]int, 5)
	for _, issue := range r.Issues {
		counts[issue.Severity]++
	}
	return counts
}
