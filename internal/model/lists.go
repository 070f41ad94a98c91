package model

// TrackerEntry is a tracker domain with its category (e.g. "advertising").
type TrackerEntry struct {
	Domain   string `json:"domain"`
	Category string `json:"category"`
}

// EasyPrivacyList is the tracker/ad domain list.
type EasyPrivacyList struct {
	Domains []string `json:"domains"`
}

// WhoTracksList is the fingerprinting and categorised tracker list.
type WhoTracksList struct {
	Fingerprinting []string       `json:"fingerprinting,omitempty"`
	Trackers       []TrackerEntry `json:"trackers,omitempty"`
}

// Empty reports whether the list carries no entries at all.
func (w WhoTracksList) Empty() bool {
	return len(w.Fingerprinting) == 0 && len(w.Trackers) == 0
}

// Lists bundles the reference lists used by scan logic.
type Lists struct {
	EasyPrivacy EasyPrivacyList `json:"easyPrivacy"`
	WhoTracks   WhoTracksList   `json:"whoTracks"`
}
