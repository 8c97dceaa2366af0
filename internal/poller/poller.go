package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cifer55/email-progress-tracker-sub002/internal/imapclient"
	"github.com/cifer55/email-progress-tracker-sub002/internal/model"
	"github.com/cifer55/email-progress-tracker-sub002/internal/queue"
	"github.com/cifer55/email-progress-tracker-sub002/internal/repository"
	"github.com/cifer55/email-progress-tracker-sub002/internal/vault"
	"github.com/cifer55/email-progress-tracker-sub002/pkg/metrics"
)

const defaultPollInterval = 5 * time.Minute

// ConfigStore loads and saves the mailbox connection record.
type ConfigStore interface {
	Get(ctx context.Context) (*model.EmailConfig, error)
	Save(ctx context.Context, c *model.EmailConfig) error
}

// EmailStore persists raw email records. Create reports false when the
// message was already ingested under its Message-ID.
type EmailStore interface {
	Create(ctx context.Context, e *model.EmailRecord) (bool, error)
}

// Enqueuer hands emails to the durable work queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, p queue.JobPayload) (string, error)
}

// seenMarker flags a mailbox message as handled.
type seenMarker interface {
	MarkSeen(uid imap.UID) error
}

// Poller periodically drains unseen messages from the configured mailbox
// into the work queue. One connection per tick; ticks never overlap
// because the loop runs them inline.
type Poller struct {
	configs ConfigStore
	emails  EmailStore
	jobs    Enqueuer
	vault   *vault.Vault
	logger  *zap.Logger
}

func New(configs ConfigStore, emails EmailStore, jobs Enqueuer, v *vault.Vault, logger *zap.Logger) *Poller {
	return &Poller{
		configs: configs,
		emails:  emails,
		jobs:    jobs,
		vault:   v,
		logger:  logger,
	}
}

// Start runs the poll loop until the context is cancelled. The interval
// follows the stored config, so a config change takes effect on the next
// tick without a restart.
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("mailbox poller started")

	for {
		interval := p.runTick(ctx)

		select {
		case <-ctx.Done():
			p.logger.Info("mailbox poller stopped")
			return
		case <-time.After(interval):
		}
	}
}

// runTick polls once and returns the interval to sleep before the next
// tick.
func (p *Poller) runTick(ctx context.Context) time.Duration {
	cfg, err := p.configs.Get(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			p.logger.Warn("no mailbox configured, skipping poll")
		} else {
			p.logger.Error("failed to load mailbox config", zap.Error(err))
		}
		metrics.PollTicks.WithLabelValues("error").Inc()
		return defaultPollInterval
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	if err := p.Poll(ctx, cfg); err != nil {
		p.logger.Error("mailbox poll failed", zap.Error(err))
		metrics.PollTicks.WithLabelValues("error").Inc()
		return interval
	}

	metrics.PollTicks.WithLabelValues("ok").Inc()
	return interval
}

// Poll drains the mailbox once: every unseen message becomes a stored
// email record plus a durable job, and is marked seen only after its job
// is enqueued. A crash or a failed mark-seen replays the message on the
// next tick; the Message-ID uniqueness check in the email store turns the
// replay into a bare re-mark.
func (p *Poller) Poll(ctx context.Context, cfg *model.EmailConfig) error {
	password, err := p.vault.Decrypt(cfg.EncryptedPassword)
	if err != nil {
		return fmt.Errorf("failed to decrypt mailbox password: %w", err)
	}

	client := imapclient.NewClient(cfg.Host, cfg.Port, cfg.Username, password, cfg.Folder, p.logger)
	session, err := client.Connect()
	if err != nil {
		return err
	}
	defer session.Close()

	messages, err := session.FetchUnseen()
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	p.logger.Info("fetched unseen messages", zap.Int("count", len(messages)))

	var enqueued int
	for _, msg := range messages {
		if err := p.ingest(ctx, session, &msg); err != nil {
			// Leave the message unseen; the next tick retries it.
			p.logger.Error("failed to ingest message",
				zap.String("message_id", msg.MessageID),
				zap.Error(err))
			continue
		}
		enqueued++
	}

	p.logger.Info("poll tick finished",
		zap.Int("fetched", len(messages)),
		zap.Int("enqueued", enqueued))
	return nil
}

func (p *Poller) ingest(ctx context.Context, session seenMarker, msg *imapclient.Message) error {
	receivedAt := msg.Date
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	email := &model.EmailRecord{
		ID:         uuid.NewString(),
		MessageID:  msg.MessageID,
		Sender:     msg.From,
		Subject:    msg.Subject,
		Body:       msg.BodyText,
		HTMLBody:   msg.BodyHTML,
		Status:     model.EmailStatusPending,
		ReceivedAt: receivedAt,
	}
	inserted, err := p.emails.Create(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to store email: %w", err)
	}
	if !inserted {
		// Already ingested on an earlier tick whose mark-seen failed. The
		// original job carries the work; just retry the flag.
		p.logger.Info("message already ingested, re-marking seen",
			zap.String("message_id", msg.MessageID))
		return session.MarkSeen(msg.UID)
	}

	jobID, err := p.jobs.Enqueue(ctx, queue.JobPayload{
		EmailID:    email.ID,
		From:       email.Sender,
		Subject:    email.Subject,
		Body:       email.Body,
		HTMLBody:   email.HTMLBody,
		ReceivedAt: email.ReceivedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	if err := session.MarkSeen(msg.UID); err != nil {
		// The job is already durable; the duplicate on re-fetch is absorbed
		// downstream.
		p.logger.Warn("failed to mark message seen",
			zap.String("message_id", msg.MessageID),
			zap.String("job_id", jobID),
			zap.Error(err))
	}

	p.logger.Debug("message enqueued",
		zap.String("email_id", email.ID),
		zap.String("job_id", jobID),
		zap.String("subject", email.Subject))
	return nil
}

// UpdateConfig encrypts the given password and persists the mailbox
// settings. The plaintext password never touches storage.
func (p *Poller) UpdateConfig(ctx context.Context, cfg *model.EmailConfig, password string) error {
	if password != "" {
		encrypted, err := p.vault.Encrypt(password)
		if err != nil {
			return fmt.Errorf("failed to encrypt mailbox password: %w", err)
		}
		cfg.EncryptedPassword = encrypted
	}
	if cfg.EncryptedPassword == "" {
		return fmt.Errorf("mailbox config requires a password")
	}
	return p.configs.Save(ctx, cfg)
}

// TestConnection validates settings with a live login without saving
// anything.
func (p *Poller) TestConnection(cfg *model.EmailConfig, password string) error {
	if password == "" {
		decrypted, err := p.vault.Decrypt(cfg.EncryptedPassword)
		if err != nil {
			return fmt.Errorf("failed to decrypt mailbox password: %w", err)
		}
		password = decrypted
	}
	client := imapclient.NewClient(cfg.Host, cfg.Port, cfg.Username, password, cfg.Folder, p.logger)
	return client.TestConnection()
}
