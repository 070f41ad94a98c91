package model

import "time"

// QuotaDateLayout is the layout of QuotaRecord.Date.
const QuotaDateLayout = "2006-01-02"

// QuotaRecord is one identifier's scan count for one UTC day.
type QuotaRecord struct {
	Identifier string `json:"identifier"`
	Date       string `json:"date"`
	ScansCount int    `json:"scansCount"`
}

// QuotaStatus is the result of a quota check.
type QuotaStatus struct {
	Allowed        bool      `json:"allowed"`
	ScansUsed      int       `json:"scansUsed"`
	ScansRemaining int       `json:"scansRemaining"`
	Limit          int       `json:"limit"`
	ResetAt        time.Time `json:"resetAt"`
}
