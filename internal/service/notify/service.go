package notify

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/cifer55/email-progress-tracker-sub002/internal/model"
	"github.com/cifer55/email-progress-tracker-sub002/pkg/metrics"
)

// NotificationStore persists and queries notifications.
type NotificationStore interface {
	Insert(ctx context.Context, n *model.Notification) error
	ExistsUnread(ctx context.Context, featureKey, typ string) (bool, error)
	ListUnread(ctx context.Context) ([]model.Notification, error)
	ListByFeature(ctx context.Context, featureKey string) ([]model.Notification, error)
	MarkRead(ctx context.Context, id int) error
	MarkAllRead(ctx context.Context) (int64, error)
	Delete(ctx context.Context, id int) error
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
}

// FeatureLister enumerates features still in flight.
type FeatureLister interface {
	ListIncomplete(ctx context.Context) ([]model.Feature, error)
}

// UpdateLister reads recent update history for the delay scan.
type UpdateLister interface {
	ListRecentByFeature(ctx context.Context, featureKey string, limit int) ([]model.Update, error)
}

// deadlineRe finds a deadline mention with an ISO or slash date next to it.
var deadlineRe = regexp.MustCompile(`(?i)\b(?:deadline|due(?:\s+(?:date|on|by))?|eta|ship(?:ping)?\s+(?:date|by))\b[^.\n]{0,40}?(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4})`)

// Service creates notifications from pipeline events and fans them out to
// delivery channels.
type Service struct {
	store    NotificationStore
	features FeatureLister
	updates  UpdateLister
	channels []Channel
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(store NotificationStore, features FeatureLister, updates UpdateLister, channels []Channel, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		features: features,
		updates:  updates,
		channels: channels,
		logger:   logger,
		now:      time.Now,
	}
}

// OnStatusChange raises alerts after a feature's aggregate status moved.
// A transition into blocked raises a dedicated blocked alert on top of
// the regular status change one. Per feature and type at most one unread
// notification exists at a time.
func (s *Service) OnStatusChange(ctx context.Context, featureKey, featureName, oldStatus, newStatus string) error {
	name := featureName
	if name == "" {
		name = featureKey
	}

	from := oldStatus
	if from == "" {
		from = "none"
	}
	msg := fmt.Sprintf("%s changed status from %s to %s", name, from, newStatus)
	if err := s.create(ctx, featureKey, model.NotificationStatusChange, msg, true); err != nil {
		return err
	}

	if newStatus == model.StatusBlocked {
		msg := fmt.Sprintf("%s is blocked", name)
		if err := s.create(ctx, featureKey, model.NotificationBlocked, msg, true); err != nil {
			return err
		}
	}
	return nil
}

// OnManualReview raises an alert that an email landed in the review queue.
// Dedup is per email, carried by the message, so two unmatched emails each
// get their own alert.
func (s *Service) OnManualReview(ctx context.Context, emailID, subject string) error {
	msg := fmt.Sprintf("email %q (%s) needs manual review", subject, emailID)
	return s.create(ctx, "", model.NotificationManualReview, msg, false)
}

// CheckForDelayedFeatures scans incomplete features whose recent updates
// mention a deadline that has passed and raises at most one delayed alert
// per feature per pass.
func (s *Service) CheckForDelayedFeatures(ctx context.Context) error {
	features, err := s.features.ListIncomplete(ctx)
	if err != nil {
		return fmt.Errorf("failed to list incomplete features: %w", err)
	}

	now := s.now()
	for _, f := range features {
		updates, err := s.updates.ListRecentByFeature(ctx, f.Key, 10)
		if err != nil {
			s.logger.Error("failed to load updates for delay scan",
				zap.String("feature_key", f.Key),
				zap.Error(err))
			continue
		}

		deadline, ok := earliestDeadline(updates)
		if !ok || !deadline.Before(now) {
			continue
		}

		msg := fmt.Sprintf("%s mentioned a deadline of %s which has passed", f.Name, deadline.Format("2006-01-02"))
		if err := s.create(ctx, f.Key, model.NotificationDelayed, msg, true); err != nil {
			s.logger.Error("failed to create delayed notification",
				zap.String("feature_key", f.Key),
				zap.Error(err))
		}
	}
	return nil
}

// earliestDeadline returns the earliest deadline mentioned across the
// given update summaries.
func earliestDeadline(updates []model.Update) (time.Time, bool) {
	var best time.Time
	found := false
	for _, u := range updates {
		for _, m := range deadlineRe.FindAllStringSubmatch(u.Summary, -1) {
			t, err := parseDeadline(m[1])
			if err != nil {
				continue
			}
			if !found || t.Before(best) {
				best = t
				found = true
			}
		}
	}
	return best, found
}

func parseDeadline(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse("1/2/2006", s)
}

// create persists a notification and fans it out. When dedup is set an
// existing unread notification of the same feature and type suppresses
// the new one.
func (s *Service) create(ctx context.Context, featureKey, typ, message string, dedup bool) error {
	if dedup {
		exists, err := s.store.ExistsUnread(ctx, featureKey, typ)
		if err != nil {
			return fmt.Errorf("failed to check existing notifications: %w", err)
		}
		if exists {
			s.logger.Debug("unread notification already present",
				zap.String("feature_key", featureKey),
				zap.String("type", typ))
			return nil
		}
	}

	n := &model.Notification{
		FeatureKey: featureKey,
		Type:       typ,
		Message:    message,
	}
	if err := s.store.Insert(ctx, n); err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	metrics.IncNotification(typ)

	s.logger.Info("notification created",
		zap.Int("notification_id", n.ID),
		zap.String("feature_key", featureKey),
		zap.String("type", typ))

	s.deliver(ctx, n)
	return nil
}

// deliver fans the notification out to every channel. Channel failures
// are independent: one channel failing never blocks another and never
// rolls back the stored notification.
func (s *Service) deliver(ctx context.Context, n *model.Notification) {
	for _, ch := range s.channels {
		if err := ch.Deliver(ctx, n); err != nil {
			metrics.IncDelivery(ch.Name(), "failure")
			s.logger.Error("notification delivery failed",
				zap.Int("notification_id", n.ID),
				zap.String("channel", ch.Name()),
				zap.Error(err))
			continue
		}
		metrics.IncDelivery(ch.Name(), "success")
	}
}

// ListUnread returns unread notifications, newest first.
func (s *Service) ListUnread(ctx context.Context) ([]model.Notification, error) {
	return s.store.ListUnread(ctx)
}

// ListByFeature returns every notification for one feature, newest first.
func (s *Service) ListByFeature(ctx context.Context, featureKey string) ([]model.Notification, error) {
	return s.store.ListByFeature(ctx, featureKey)
}

// MarkRead flags one notification as read.
func (s *Service) MarkRead(ctx context.Context, id int) error {
	return s.store.MarkRead(ctx, id)
}

// MarkAllRead flags every unread notification as read and returns how
// many were flagged.
func (s *Service) MarkAllRead(ctx context.Context) (int64, error) {
	return s.store.MarkAllRead(ctx)
}

// Delete removes one notification.
func (s *Service) Delete(ctx context.Context, id int) error {
	return s.store.Delete(ctx, id)
}

// Cleanup evicts read notifications older than the retention window.
func (s *Service) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	return s.store.DeleteOlderThan(ctx, retentionDays)
}
