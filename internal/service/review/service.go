package review

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cifer55/email-progress-tracker-sub002/internal/extract"
	"github.com/cifer55/email-progress-tracker-sub002/internal/model"
	"github.com/cifer55/email-progress-tracker-sub002/internal/repository"
	"github.com/cifer55/email-progress-tracker-sub002/internal/sanitize"
	progresssvc "github.com/cifer55/email-progress-tracker-sub002/internal/service/progress"
)

const summaryMaxLen = 500

// EmailStore is the slice of the email repository the review queue needs.
type EmailStore interface {
	GetByID(ctx context.Context, id string) (*model.EmailRecord, error)
	ListUnmatched(ctx context.Context, page, perPage int) ([]model.EmailRecord, int, error)
	MarkProcessed(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// FeatureStore resolves feature keys against the catalog.
type FeatureStore interface {
	FindByKey(ctx context.Context, key string) (*model.Feature, error)
}

// Recorder folds a manual update into the progress aggregates.
type Recorder interface {
	RecordUpdate(ctx context.Context, u *model.Update) (*progresssvc.Result, error)
}

// Service is the manual review queue over unmatched emails.
type Service struct {
	emails   EmailStore
	features FeatureStore
	recorder Recorder
	logger   *zap.Logger
}

func NewService(emails EmailStore, features FeatureStore, recorder Recorder, logger *zap.Logger) *Service {
	return &Service{emails: emails, features: features, recorder: recorder, logger: logger}
}

// PageResult is one page of the review queue.
type PageResult struct {
	Emails  []model.EmailRecord
	Total   int
	Page    int
	PerPage int
}

// List returns a page of unmatched emails, newest first.
func (s *Service) List(ctx context.Context, page, perPage int) (*PageResult, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	emails, total, err := s.emails.ListUnmatched(ctx, page, perPage)
	if err != nil {
		return nil, fmt.Errorf("failed to list unmatched emails: %w", err)
	}
	return &PageResult{Emails: emails, Total: total, Page: page, PerPage: perPage}, nil
}

// Get returns one email from the review queue.
func (s *Service) Get(ctx context.Context, emailID string) (*model.EmailRecord, error) {
	return s.emails.GetByID(ctx, emailID)
}

// Link resolves an unmatched email to a feature chosen by a reviewer.
// Validation happens before any write: the email must exist and still be
// unmatched, and the feature must exist. On success exactly one manual
// update is recorded, attributed to the actor, and the email leaves the
// queue.
func (s *Service) Link(ctx context.Context, emailID, featureKey, actor string) (*model.Update, error) {
	email, err := s.emails.GetByID(ctx, emailID)
	if err != nil {
		return nil, err
	}
	if email.Status != model.EmailStatusUnmatched {
		return nil, fmt.Errorf("%w: email %s is %s, not unmatched", repository.ErrConflict, emailID, email.Status)
	}

	feature, err := s.features.FindByKey(ctx, featureKey)
	if err != nil {
		return nil, fmt.Errorf("failed to look up feature %s: %w", featureKey, err)
	}
	if feature == nil {
		return nil, fmt.Errorf("%w: feature %s", repository.ErrNotFound, featureKey)
	}

	body := sanitize.Body(email.Body, email.HTMLBody)
	_, indicators := extract.Extract(email.Subject, body)

	sender := email.Sender
	if actor != "" {
		sender = actor
	}
	u := &model.Update{
		ID:         uuid.NewString(),
		FeatureKey: feature.Key,
		EmailID:    email.ID,
		Timestamp:  email.ReceivedAt,
		Sender:     sender,
		Summary:    sanitize.Truncate(body, summaryMaxLen),
		Source:     model.UpdateSourceManual,
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

	res, err := s.recorder.RecordUpdate(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("failed to record manual update: %w", err)
	}
	if !res.Inserted {
		return nil, fmt.Errorf("%w: email %s already linked to %s", repository.ErrConflict, emailID, feature.Key)
	}

	if err := s.emails.MarkProcessed(ctx, emailID); err != nil {
		return nil, fmt.Errorf("failed to mark email processed: %w", err)
	}

	s.logger.Info("email linked to feature",
		zap.String("email_id", emailID),
		zap.String("feature_key", feature.Key),
		zap.String("actor", actor))
	return u, nil
}

// Discard removes an email from the review queue without recording any
// update.
func (s *Service) Discard(ctx context.Context, emailID string) error {
	if err := s.emails.Delete(ctx, emailID); err != nil {
		return err
	}
	s.logger.Info("email discarded from review queue", zap.String("email_id", emailID))
	return nil
}
