package models

import "time"

type NewsTier string

const (
	NewsTier1 NewsTier = "TIER1"
	NewsOther NewsTier = "OTHER"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) HighImpact() bool {
	return s == SeverityHigh || s == SeverityCritical
}

type NewsEvent struct {
	Name     string    `json:"name"`
	Currency string    `json:"currency"`
	Tier     NewsTier  `json:"tier"`
	Severity Severity  `json:"severity"`
	Time     time.Time `json:"time"`
}
