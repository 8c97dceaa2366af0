package model

import "time"

// Update sources.
const (
	UpdateSourceEmail  = "email"
	UpdateSourceManual = "manual"
)

// Update is an append-only progress report attached to a feature. It is
// never mutated after creation; the pipeline (or a manual review action) is
// its sole producer. EmailID is empty for updates not backed by a message.
type Update struct {
	ID              string
	FeatureKey      string
	EmailID         string
	Timestamp       time.Time
	Sender          string
	Summary         string
	Status          string
	PercentComplete *int
	Blockers        []string
	ActionItems     []string
	Source          string
}
