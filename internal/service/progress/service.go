package progress

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cifer55/email-progress-tracker-sub002/internal/model"
)

// UpdateStore persists individual progress updates.
type UpdateStore interface {
	Insert(ctx context.Context, u *model.Update) (bool, error)
	ListRecentByFeature(ctx context.Context, featureKey string, limit int) ([]model.Update, error)
	CountByFeature(ctx context.Context, featureKey string) (int, error)
}

// ProgressStore persists per-feature aggregates.
type ProgressStore interface {
	Get(ctx context.Context, featureKey string) (*model.FeatureProgress, error)
	Apply(ctx context.Context, u *model.Update, updateCount int) error
}

// Result reports what recording an update changed.
type Result struct {
	Inserted      bool
	OldStatus     string
	NewStatus     string
	StatusChanged bool
}

// Service maintains the per-feature progress aggregates.
type Service struct {
	updates  UpdateStore
	progress ProgressStore
	logger   *zap.Logger
}

func NewService(updates UpdateStore, progress ProgressStore, logger *zap.Logger) *Service {
	return &Service{updates: updates, progress: progress, logger: logger}
}

// RecordUpdate appends an update to the feature's history and folds it
// into the aggregate. Re-recording the same (email, feature) pair is a
// no-op, so replayed jobs never double-count.
func (s *Service) RecordUpdate(ctx context.Context, u *model.Update) (*Result, error) {
	prev, err := s.progress.Get(ctx, u.FeatureKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress for %s: %w", u.FeatureKey, err)
	}

	inserted, err := s.updates.Insert(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("failed to insert update: %w", err)
	}
	if !inserted {
		s.logger.Debug("duplicate update skipped",
			zap.String("email_id", u.EmailID),
			zap.String("feature_key", u.FeatureKey))
		return &Result{Inserted: false}, nil
	}

	count, err := s.updates.CountByFeature(ctx, u.FeatureKey)
	if err != nil {
		return nil, fmt.Errorf("failed to count updates: %w", err)
	}

	if err := s.progress.Apply(ctx, u, count); err != nil {
		return nil, fmt.Errorf("failed to apply update to progress: %w", err)
	}

	// An out-of-order old update bumps the counter but must not report a
	// status change, so compare against the aggregate after the fold.
	cur, err := s.progress.Get(ctx, u.FeatureKey)
	if err != nil {
		return nil, fmt.Errorf("failed to reload progress for %s: %w", u.FeatureKey, err)
	}

	res := &Result{Inserted: true}
	if prev != nil {
		res.OldStatus = prev.CurrentStatus
	}
	if cur != nil {
		res.NewStatus = cur.CurrentStatus
	}
	res.StatusChanged = res.NewStatus != "" && res.NewStatus != res.OldStatus

	s.logger.Info("progress update recorded",
		zap.String("feature_key", u.FeatureKey),
		zap.String("status", u.Status),
		zap.Bool("status_changed", res.StatusChanged))
	return res, nil
}

// Get returns the aggregate for one feature, nil when no update has ever
// been recorded for it.
func (s *Service) Get(ctx context.Context, featureKey string) (*model.FeatureProgress, error) {
	return s.progress.Get(ctx, featureKey)
}

// History returns the most recent updates for a feature, newest first.
func (s *Service) History(ctx context.Context, featureKey string, limit int) ([]model.Update, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.updates.ListRecentByFeature(ctx, featureKey, limit)
}
