// Package scoring turns a scan and its raw findings into a report payload.
//
// Every function here is pure: the same inputs always produce the same
// payload, and nothing is read from or written to storage.
package scoring

import (
	"encoding/json"
	"net"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/nao1215/privscan/internal/model"
)

const (
	// MaxTopFixes is the upper bound on len(ReportPayload.TopFixes).
	MaxTopFixes = 3
	// MinTopFixRank is the lowest severity rank eligible as a top fix (medium).
	MinTopFixRank = 3
)

// Data-sharing index thresholds. An index strictly greater than a threshold
// reaches that level.
const (
	highThreshold   = 8
	mediumThreshold = 3
	lowThreshold    = 0
)

// BuildReport assembles the report payload for scan. Nil slices are
// returned as empty slices and every issue's references are non-nil.
func BuildReport(scan model.Scan, evidence []model.Evidence, issues []model.Issue) model.ReportPayload {
	normalized := normalizeIssues(issues)
	if evidence == nil {
		evidence = []model.Evidence{}
	}

	return model.ReportPayload{
		Scan:     scan,
		Issues:   normalized,
		Evidence: evidence,
		TopFixes: TopFixes(normalized),
		Meta: model.ReportMeta{
			DataSharing: DataSharingLevel(DataSharingIndex(evidence)),
			Domain:      ReportDomain(scan.Input),
		},
	}
}

// TopFixes selects up to three issues of severity medium or higher, ordered
// by severity rank descending and then sort weight ascending. Ties keep
// their input order.
func TopFixes(issues []model.Issue) []model.Issue {
	eligible := make([]model.Issue, 0, len(issues))
	for _, issue := range issues {
		if issue.Severity.Rank() >= MinTopFixRank {
			eligible = append(eligible, issue)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		ri, rj := eligible[i].Severity.Rank(), eligible[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return eligible[i].Weight() < eligible[j].Weight()
	})

	if len(eligible) > MaxTopFixes {
		eligible = eligible[:MaxTopFixes]
	}
	return eligible
}

// DataSharingIndex computes
// 2 × distinct tracker domains + distinct third-party domains + cookie evidence.
func DataSharingIndex(evidence []model.Evidence) int {
	trackers := make(map[string]struct{})
	thirdParties := make(map[string]struct{})
	cookies := 0

	for _, e := range evidence {
		switch e.Kind {
		case model.EvidenceTracker:
			if domain, ok := detailDomain(e.Details); ok {
				trackers[domain] = struct{}{}
			}
		case model.EvidenceThirdParty:
			if domain, ok := detailDomain(e.Details); ok {
				thirdParties[domain] = struct{}{}
			}
		case model.EvidenceCookie:
			cookies++
		}
	}
	return 2*len(trackers) + len(thirdParties) + cookies
}

// DataSharingLevel maps an index onto its qualitative level.
func DataSharingLevel(index int) model.DataSharing {
	switch {
	case index > highThreshold:
		return model.DataSharingHigh
	case index > mediumThreshold:
		return model.DataSharingMedium
	case index > lowThreshold:
		return model.DataSharingLow
	default:
		return model.DataSharingNone
	}
}

// ReportDomain returns the registrable domain of input parsed as a URL. When
// input is not a URL with a host it is returned verbatim; when the host has
// no registrable domain (an IP address, localhost) the host is returned.
func ReportDomain(input string) string {
	u, err := url.Parse(input)
	if err != nil || u.Hostname() == "" {
		return input
	}
	host := strings.ToLower(u.Hostname())
	if net.ParseIP(host) != nil {
		return host
	}
	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return registrable
}

// detailDomain extracts a non-empty string "domain" field from details.
func detailDomain(details json.RawMessage) (string, bool) {
	if len(details) == 0 {
		return "", false
	}
	var fields map[string]any
	if err := json.Unmarshal(details, &fields); err != nil {
		return "", false
	}
	domain, ok := fields["domain"].(string)
	if !ok {
		return "", false
	}
	domain = strings.ToLower(strings.TrimSpace(domain))
	return domain, domain != ""
}

func normalizeIssues(issues []model.Issue) []model.Issue {
	out := make([]model.Issue, len(issues))
	for i, issue := range issues {
		if issue.References == nil {
			issue.References = []model.Reference{}
		}
		out[i] = issue
	}
	return out
}
