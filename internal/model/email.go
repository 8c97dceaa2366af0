package model

import "time"

// Email processing statuses.
const (
	EmailStatusPending   = "pending"
	EmailStatusProcessed = "processed"
	EmailStatusFailed    = "failed"
	EmailStatusUnmatched = "unmatched"
)

// EmailRecord is the persisted form of an ingested message.
//
// Lifecycle: created pending by the poller hand-off, then exactly one of
// processed (a confident match produced an update), unmatched (below the
// confidence threshold, awaiting manual review) or failed (unrecoverable
// processing error). unmatched may later become processed through a manual
// link; no other transition is legal.
type EmailRecord struct {
	ID           string
	MessageID    string
	Sender       string
	Subject      string
	Body         string
	HTMLBody     string
	Status       string
	ErrorMessage string
	ReceivedAt   time.Time
	ProcessedAt  *time.Time
}
