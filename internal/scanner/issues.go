package scanner

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/nao1215/privscan/internal/model"
)

// Catalogue keys.
const (
	IssueFingerprinting = "fingerprinting-scripts"
	IssueTrackers       = "trackers-detected"
	IssueNoHTTPS        = "no-https"
	IssueThirdParty     = "third-party-requests"
	IssueCookies        = "cookies-set"
)

// maxListedDomains bounds how many domains an issue summary names.
const maxListedDomains = 5

type catalogueEntry struct {
	key          string
	kind         model.EvidenceKind
	severity     model.Severity
	category     string
	title        string
	summary      string // format with count and domain list
	howToFix     string
	whyItMatters string
	references   []model.Reference
	sortWeight   int
}

var catalogue = []catalogueEntry{
	{
		key:      IssueFingerprinting,
		kind:     model.EvidenceFingerprinting,
		severity: model.SeverityCritical,
		category: "fingerprinting",
		title:    "Browser fingerprinting scripts",
		summary:  "The page loads %d known fingerprinting vendor(s): %s.",
		howToFix: "Remove fingerprinting libraries or replace them with consent-gated, " +
			"privacy-preserving fraud checks that run only when needed.",
		whyItMatters: "Fingerprinting identifies visitors without cookies and survives " +
			"private browsing and cookie clearing.",
		references: []model.Reference{
			{Label: "EFF Cover Your Tracks", URL: "https://coveryourtracks.eff.org/learn"},
		},
		sortWeight: 0,
	},
	{
		key:      IssueTrackers,
		kind:     model.EvidenceTracker,
		severity: model.SeverityHigh,
		category: "tracking",
		title:    "Third-party trackers detected",
		summary:  "The page contacts %d known tracking domain(s): %s.",
		howToFix: "Remove tracking tags you do not need and load the rest only after " +
			"the visitor consents.",
		whyItMatters: "Trackers share each visit with advertising and analytics networks " +
			"that build cross-site profiles.",
		references: []model.Reference{
			{Label: "EasyPrivacy", URL: "https://easylist.to/"},
		},
		sortWeight: 0,
	},
	{
		key:      IssueNoHTTPS,
		kind:     model.EvidenceTLS,
		severity: model.SeverityHigh,
		category: "transport",
		title:    "Page is not served over HTTPS",
		summary:  "%d response(s) were delivered without TLS: %s.",
		howToFix: "Serve the site over HTTPS only and redirect plain HTTP requests.",
		whyItMatters: "Unencrypted pages expose what visitors read and submit to anyone " +
			"on the network path.",
		references: []model.Reference{
			{Label: "Let's Encrypt", URL: "https://letsencrypt.org/getting-started/"},
		},
		sortWeight: 1,
	},
	{
		key:      IssueThirdParty,
		kind:     model.EvidenceThirdParty,
		severity: model.SeverityMedium,
		category: "data-sharing",
		title:    "Requests to third-party domains",
		summary:  "The page loads resources from %d third-party domain(s): %s.",
		howToFix: "Self-host fonts, scripts, and images where possible and drop " +
			"embeds that are not essential.",
		whyItMatters: "Every third-party request reveals the visitor's IP address and the " +
			"page they are on to another operator.",
		references: []model.Reference{},
		sortWeight: 0,
	},
	{
		key:      IssueCookies,
		kind:     model.EvidenceCookie,
		severity: model.SeverityLow,
		category: "cookies",
		title:    "Cookies set on first visit",
		summary:  "The site sets %d cookie(s) before any interaction: %s.",
		howToFix: "Set only strictly necessary cookies before consent and mark them " +
			"Secure, HttpOnly, and SameSite.",
		whyItMatters: "Cookies set on arrival can identify returning visitors.",
		references:   []model.Reference{},
		sortWeight:   0,
	},
}

// DeriveIssues builds one catalogue issue per evidence kind present, in
// catalogue order. newID defaults to uuid.NewString.
func DeriveIssues(scanID string, evidence []model.Evidence, newID func() string) []model.Issue {
	if newID == nil {
		newID = uuid.NewString
	}

	labels := make(map[model.EvidenceKind][]string)
	for _, e := range evidence {
		labels[e.Kind] = append(labels[e.Kind], evidenceLabel(e))
	}

	issues := make([]model.Issue, 0)
	for _, entry := range catalogue {
		found := labels[entry.kind]
		if len(found) == 0 {
			continue
		}
		refs := make([]model.Reference, len(entry.references))
		copy(refs, entry.references)
		issues = append(issues, model.Issue{
			ID:           newID(),
			ScanID:       scanID,
			Key:          entry.key,
			Severity:     entry.severity,
			Category:     entry.category,
			Title:        entry.title,
			Summary:      fmt.Sprintf(entry.summary, len(found), summarize(found)),
			HowToFix:     entry.howToFix,
			WhyItMatters: entry.whyItMatters,
			References:   refs,
			SortWeight:   model.IntPtr(entry.sortWeight),
		})
	}
	return issues
}

// evidenceLabel is the short name an issue summary uses for e.
func evidenceLabel(e model.Evidence) string {
	var d struct {
		Domain string `json:"domain"`
		Name   string `json:"name"`
		URL    string `json:"url"`
	}
	if err := json.Unmarshal(e.Details, &d); err == nil {
		switch {
		case d.Domain != "":
			return d.Domain
		case d.Name != "":
			return d.Name
		case d.URL != "":
			return d.URL
		}
	}
	return e.Title
}

func summarize(labels []string) string {
	sorted := append([]string(nil), labels...)
	sort.Strings(sorted)
	if len(sorted) <= maxListedDomains {
		return strings.Join(sorted, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(sorted[:maxListedDomains], ", "), len(sorted)-maxListedDomains)
}
