package model

import "time"

// Reference match types, in decreasing strength.
const (
	MatchTypeID      = "id"
	MatchTypeExact   = "exact"
	MatchTypePartial = "partial"
)

// RawMessage is an immutable mailbox message as fetched by the poller,
// before any processing.
type RawMessage struct {
	ID         string
	Sender     string
	Subject    string
	Body       string
	HTMLBody   string
	ReceivedAt time.Time
}

// FeatureReference is one mention of a work item found in a message. A
// message may carry several.
type FeatureReference struct {
	FeatureID   string // set for identifier-pattern mentions
	FeatureName string // set for name mentions
	Confidence  float64
	MatchType   string
}

// ProgressIndicator is one extracted progress signal.
type ProgressIndicator struct {
	Status     string
	Percentage *int
	Blocker    string
}

// ExtractedInfo is the enricher's additive signal.
type ExtractedInfo struct {
	People        []string
	Dates         []string
	Organizations []string
	Sentiment     string // positive, neutral, negative
	Urgency       string // low, medium, high
}

// ParsedMessage is the non-persisted output of extraction and enrichment,
// consumed by the matcher.
type ParsedMessage struct {
	ID            string
	Sender        string
	Subject       string
	SanitizedBody string
	References    []FeatureReference
	Indicators    []ProgressIndicator
	Extracted     ExtractedInfo
	Confidence    float64
}

// FeatureMatch resolves one reference to a catalog item. At most one match
// is produced per reference.
type FeatureMatch struct {
	FeatureKey  string
	FeatureName string
	Confidence  float64
	MatchReason string
}

// EmailConfig is the persisted mailbox connection record. The password is
// stored only as a vault-encrypted blob and decrypted transiently.
type EmailConfig struct {
	ID                int
	Host              string
	Port              int
	Username          string
	EncryptedPassword string
	Folder            string
	PollInterval      time.Duration
	UpdatedAt         time.Time
}
