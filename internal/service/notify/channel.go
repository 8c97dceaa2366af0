package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/cifer55/email-progress-tracker-sub002/internal/config"
	"github.com/cifer55/email-progress-tracker-sub002/internal/model"
)

// Channel delivers a persisted notification to one destination. Delivery
// failures are reported per channel and never undo the stored row.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, n *model.Notification) error
}

// InAppChannel marks the notification as available in the review surface.
// The row itself is the delivery, so there is nothing else to do.
type InAppChannel struct {
	logger *zap.Logger
}

func NewInAppChannel(logger *zap.Logger) *InAppChannel {
	return &InAppChannel{logger: logger}
}

func (c *InAppChannel) Name() string { return "in-app" }

func (c *InAppChannel) Deliver(_ context.Context, n *model.Notification) error {
	c.logger.Debug("in-app notification available",
		zap.Int("notification_id", n.ID),
		zap.String("type", n.Type))
	return nil
}

// SMTPChannel forwards notifications to a relay as plain-text email.
type SMTPChannel struct {
	cfg    config.SMTPConfig
	logger *zap.Logger
}

func NewSMTPChannel(cfg config.SMTPConfig, logger *zap.Logger) *SMTPChannel {
	return &SMTPChannel{cfg: cfg, logger: logger}
}

func (c *SMTPChannel) Name() string { return "smtp" }

func (c *SMTPChannel) Deliver(_ context.Context, n *model.Notification) error {
	subject := fmt.Sprintf("[progress-tracker] %s", n.Type)
	if n.FeatureKey != "" {
		subject = fmt.Sprintf("[progress-tracker] %s: %s", n.Type, n.FeatureKey)
	}

	msg := strings.NewReader(strings.Join([]string{
		"From: " + c.cfg.From,
		"To: " + c.cfg.To,
		"Subject: " + subject,
		"Date: " + time.Now().Format(time.RFC1123Z),
		"",
		n.Message,
		"",
	}, "\r\n"))

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	var auth sasl.Client
	if c.cfg.Username != "" {
		auth = sasl.NewPlainClient("", c.cfg.Username, c.cfg.Password)
	}

	if err := smtp.SendMail(addr, auth, c.cfg.From, []string{c.cfg.To}, msg); err != nil {
		return fmt.Errorf("smtp relay %s: %w", addr, err)
	}
	return nil
}
