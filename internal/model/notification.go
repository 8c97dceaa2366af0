package model

import "time"

// Notification types emitted by automated triggers.
const (
	NotificationBlocked      = "blocked"
	NotificationDelayed      = "delayed"
	NotificationStatusChange = "status_change"
	NotificationManualReview = "manual_review"
)

// Notification is a persisted alert. Automated triggers create at most one
// unread notification per (feature, type) pair.
type Notification struct {
	ID         int
	FeatureKey string // empty for alerts not tied to a feature, e.g. manual_review
	Type       string
	Message    string
	IsRead     bool
	CreatedAt  time.Time
}
