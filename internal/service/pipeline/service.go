package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cifer55/email-progress-tracker-sub002/internal/extract"
	"github.com/cifer55/email-progress-tracker-sub002/internal/model"
	"github.com/cifer55/email-progress-tracker-sub002/internal/sanitize"
	progresssvc "github.com/cifer55/email-progress-tracker-sub002/internal/service/progress"
)

const summaryMaxLen = 500

// Matcher resolves extracted references against the feature catalog.
type Matcher interface {
	Match(ctx context.Context, refs []model.FeatureReference) ([]model.FeatureMatch, error)
}

// Recorder folds updates into the progress aggregates.
type Recorder interface {
	RecordUpdate(ctx context.Context, u *model.Update) (*progresssvc.Result, error)
}

// Notifier raises alerts after progress changes.
type Notifier interface {
	OnStatusChange(ctx context.Context, featureKey, featureName, oldStatus, newStatus string) error
}

// Outcome is the terminal classification of one email.
type Outcome struct {
	// Matched is true when at least one update was recorded.
	Matched bool
	// Updates holds the recorded updates, one per matched feature.
	Updates []*model.Update
	// Parsed carries the intermediate extraction for logging and review.
	Parsed *model.ParsedMessage
}

// Service runs the classification pipeline over one email:
// sanitize, extract, enrich, match, record.
type Service struct {
	matcher   Matcher
	recorder  Recorder
	notifier  Notifier
	threshold float64
	logger    *zap.Logger
}

func NewService(matcher Matcher, recorder Recorder, notifier Notifier, threshold float64, logger *zap.Logger) *Service {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.7
	}
	return &Service{
		matcher:   matcher,
		recorder:  recorder,
		notifier:  notifier,
		threshold: threshold,
		logger:    logger,
	}
}

// Process classifies one email. A returned error means the email could
// not be processed at all and the caller decides between retry and
// terminal failure; Outcome.Matched false with a nil error means the
// email parsed cleanly but matched no feature confidently enough.
func (s *Service) Process(ctx context.Context, email *model.EmailRecord) (*Outcome, error) {
	body := sanitize.Body(email.Body, email.HTMLBody)
	refs, indicators := extract.Extract(email.Subject, body)
	info := extract.Enrich(email.Subject + "\n" + body)

	parsed := &model.ParsedMessage{
		ID:            email.ID,
		Sender:        email.Sender,
		Subject:       email.Subject,
		SanitizedBody: body,
		References:    refs,
		Indicators:    indicators,
		Extracted:     info,
		Confidence:    extract.Confidence(refs, indicators),
	}

	matches, err := s.matcher.Match(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("failed to match references: %w", err)
	}

	outcome := &Outcome{Parsed: parsed}
	if parsed.Confidence < s.threshold || len(matches) == 0 {
		s.logger.Info("email classified",
			zap.String("email_id", email.ID),
			zap.Int("references", len(refs)),
			zap.Int("matches", len(matches)),
			zap.Bool("matched", false),
			zap.Float64("confidence", parsed.Confidence))
		return outcome, nil
	}

	for _, m := range matches {
		u := s.buildUpdate(email, body, m.FeatureKey, indicators)
		res, err := s.recorder.RecordUpdate(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("failed to record update for %s: %w", m.FeatureKey, err)
		}

		outcome.Matched = true
		if res.Inserted {
			outcome.Updates = append(outcome.Updates, u)
		}

		if res.Inserted && res.StatusChanged {
			if err := s.notifier.OnStatusChange(ctx, m.FeatureKey, m.FeatureName, res.OldStatus, res.NewStatus); err != nil {
				// Alerts are best effort; the recorded update stands.
				s.logger.Error("failed to raise status change alert",
					zap.String("feature_key", m.FeatureKey),
					zap.Error(err))
			}
		}
	}

	s.logger.Info("email classified",
		zap.String("email_id", email.ID),
		zap.Int("references", len(refs)),
		zap.Int("matches", len(matches)),
		zap.Int("updates", len(outcome.Updates)),
		zap.Bool("matched", outcome.Matched),
		zap.Float64("confidence", parsed.Confidence))
	return outcome, nil
}

func (s *Service) buildUpdate(email *model.EmailRecord, body, featureKey string, indicators []model.ProgressIndicator) *model.Update {
	ts := email.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	u := &model.Update{
		ID:         uuid.NewString(),
		FeatureKey: featureKey,
		EmailID:    email.ID,
		Timestamp:  ts,
		Sender:     email.Sender,
		Summary:    sanitize.Truncate(body, summaryMaxLen),
		Source:     model.UpdateSourceEmail,
	}
	for _, ind := range indicators {
		if u.Status == "" && ind.Status != "" {
			u.Status = ind.Status
		}
		if u.PercentComplete == nil && ind.Percentage != nil {
			u.PercentComplete = ind.Percentage
		}
		if ind.Blocker != "" {
			u.Blockers = append(u.Blockers, ind.Blocker)
		}
	}
	return u
}
