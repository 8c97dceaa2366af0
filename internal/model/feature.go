package model

import "time"

// Feature statuses shared by extraction and the progress aggregate.
const (
	StatusComplete   = "complete"
	StatusInProgress = "in-progress"
	StatusBlocked    = "blocked"
	StatusDelayed    = "delayed"
	StatusOnHold     = "on-hold"
)

// Feature is a catalog work item that progress reports attach to. The
// catalog itself is maintained elsewhere; this service only reads it.
type Feature struct {
	Key       string // stable identifier, e.g. "FEAT-7"
	Name      string
	Status    string
	CreatedAt time.Time
}

// FeatureProgress is the derived per-feature rolling aggregate. It always
// reflects the most recent update for the feature and is recomputed, not
// appended, each time a new update lands.
type FeatureProgress struct {
	FeatureKey      string
	CurrentStatus   string
	PercentComplete int
	LastUpdateID    string
	LastUpdateAt    time.Time
	UpdateCount     int
}
