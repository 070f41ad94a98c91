package lists

import (
	"encoding/json"
	"strings"

	"github.com/nao1215/privscan/internal/model"
)

// Validate decodes a list document field by field. Anything malformed is
// dropped rather than rejected: a non-object document yields empty lists,
// non-string or blank domains are skipped, and tracker entries without a
// string domain are skipped. A tracker category that is absent or not a
// string becomes "unknown".
func Validate(raw []byte) model.Lists {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return model.Lists{}
	}

	var out model.Lists
	if ep, ok := doc["easyPrivacy"].(map[string]any); ok {
		out.EasyPrivacy.Domains = stringList(ep["domains"])
	}
	if wt, ok := doc["whoTracks"].(map[string]any); ok {
		out.WhoTracks.Fingerprinting = stringList(wt["fingerprinting"])
		out.WhoTracks.Trackers = trackerList(wt["trackers"])
	}
	return out
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if s = normalizeDomain(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func trackerList(v any) []model.TrackerEntry {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]model.TrackerEntry, 0, len(items))
	for _, item := range items {
		fields, ok := item.(map[string]any)
		if !ok {
			continue
		}
		domain, ok := fields["domain"].(string)
		if !ok {
			continue
		}
		if domain = normalizeDomain(domain); domain == "" {
			continue
		}
		category, ok := fields["category"].(string)
		if !ok || strings.TrimSpace(category) == "" {
			category = "unknown"
		}
		out = append(out, model.TrackerEntry{Domain: domain, Category: strings.TrimSpace(category)})
	}
	return out
}

func normalizeDomain(s string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), ".")
}
