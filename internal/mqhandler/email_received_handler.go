package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cifer55/email-progress-tracker-sub002/internal/model"
	"github.com/cifer55/email-progress-tracker-sub002/internal/mq"
	"github.com/cifer55/email-progress-tracker-sub002/internal/queue"
	"github.com/cifer55/email-progress-tracker-sub002/internal/repository"
	pipelinesvc "github.com/cifer55/email-progress-tracker-sub002/internal/service/pipeline"
	"github.com/cifer55/email-progress-tracker-sub002/internal/util"
	"github.com/cifer55/email-progress-tracker-sub002/pkg/metrics"
)

const handlerName = "pipeline"

// lockedDeferDelay is how long a delivery waits in the queue when another
// consumer holds the processing lock for the same email.
const lockedDeferDelay = 2 * time.Minute

// EmailStore settles the email record a job refers to.
type EmailStore interface {
	GetByID(ctx context.Context, id string) (*model.EmailRecord, error)
	MarkProcessed(ctx context.Context, id string) error
	MarkUnmatched(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, errorMessage string) error
}

// JobStore settles or requeues the durable queue entry.
type JobStore interface {
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, lastError string) error
	Reschedule(ctx context.Context, id, lastError string) (int, bool, error)
	Defer(ctx context.Context, id string, delay time.Duration) error
}

// Pipeline classifies one email.
type Pipeline interface {
	Process(ctx context.Context, email *model.EmailRecord) (*pipelinesvc.Outcome, error)
}

// DLQPublisher parks poisoned or terminally failed payloads.
type DLQPublisher interface {
	PublishToDLQ(routingKey string, payload []byte, originalError string) error
}

// Locker is the short-lived per-email processing lock.
type Locker interface {
	AcquireOnce(ctx context.Context, handler, emailID string) bool
	Release(ctx context.Context, handler, emailID string)
}

// AttemptCounter tracks delivery attempts per email.
type AttemptCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// ReviewAlerter raises the manual review alert for unmatched emails.
type ReviewAlerter interface {
	OnManualReview(ctx context.Context, emailID, subject string) error
}

// EmailReceivedHandler drains the work queue: it takes one email.received
// delivery, runs the classification pipeline and settles both the email
// record and the originating job. Idempotent across redeliveries; the
// email status guard is the source of truth, the Redis deduper only cuts
// down on duplicate work.
type EmailReceivedHandler struct {
	emailRepo    EmailStore
	jobs         JobStore
	pipeline     Pipeline
	reviewAlert  ReviewAlerter
	publisher    DLQPublisher
	deduper      Locker
	retryCounter AttemptCounter
	maxAttempts  int64
	logger       *zap.Logger
}

func NewEmailReceivedHandler(
	emailRepo EmailStore,
	jobs JobStore,
	pipeline Pipeline,
	reviewAlert ReviewAlerter,
	publisher DLQPublisher,
	deduper Locker,
	retryCounter AttemptCounter,
	maxAttempts int,
	logger *zap.Logger,
) *EmailReceivedHandler {
	return &EmailReceivedHandler{
		emailRepo:    emailRepo,
		jobs:         jobs,
		pipeline:     pipeline,
		reviewAlert:  reviewAlert,
		publisher:    publisher,
		deduper:      deduper,
		retryCounter: retryCounter,
		maxAttempts:  int64(maxAttempts),
		logger:       logger,
	}
}

// Handle processes one email.received delivery. A nil return acks the
// message; retries with backoff go through the job store rather than
// broker redelivery, so almost every path returns nil.
func (h *EmailReceivedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p queue.JobPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		// Poison message. Park it in the DLQ and ack.
		h.logger.Error("Failed to unmarshal email received payload, sending to DLQ",
			zap.Error(err),
			zap.String("raw_payload", string(raw)),
		)
		if dlqErr := h.publisher.PublishToDLQ(mq.RoutingKeyEmailReceived, raw, err.Error()); dlqErr != nil {
			h.logger.Error("Failed to publish poison message to DLQ", zap.Error(dlqErr))
		}
		metrics.IncJobOutcome("poisoned")
		return nil
	}

	h.logger.Info("Processing email",
		zap.String("job_id", p.JobID),
		zap.String("email_id", p.EmailID),
		zap.String("subject", p.Subject),
	)

	email, err := h.emailRepo.GetByID(ctx, p.EmailID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.logger.Warn("Email record missing for job, failing job",
				zap.String("job_id", p.JobID),
				zap.String("email_id", p.EmailID),
			)
			return h.failJob(ctx, &p, raw, "email record not found")
		}
		isRetryable, errType := util.IsRetryableError(err)
		h.logger.Error("Failed to load email record",
			zap.String("email_id", p.EmailID),
			zap.String("error_type", errType),
			zap.Bool("retryable", isRetryable),
			zap.Error(err),
		)
		if isRetryable {
			return err
		}
		return h.failJob(ctx, &p, raw, err.Error())
	}

	// Idempotency check: a redelivered job for a settled email is a no-op.
	if email.Status != model.EmailStatusPending {
		h.logger.Debug("Email already settled, skipping",
			zap.String("email_id", p.EmailID),
			zap.String("status", email.Status),
		)
		if err := h.jobs.MarkCompleted(ctx, p.JobID); err != nil {
			h.logger.Error("Failed to mark job completed", zap.Error(err))
		}
		return nil
	}

	if !h.deduper.AcquireOnce(ctx, handlerName, p.EmailID) {
		// Another consumer holds the lock. Put the job back with a delay
		// instead of dropping the delivery: if the holder crashed before
		// settling, this redelivery is the only path back to pending.
		h.logger.Info("Email locked by another consumer, deferring job",
			zap.String("job_id", p.JobID),
			zap.String("email_id", p.EmailID),
		)
		if err := h.jobs.Defer(ctx, p.JobID, lockedDeferDelay); err != nil {
			h.logger.Error("Failed to defer locked job", zap.Error(err))
			// Broker redelivery is the fallback.
			return err
		}
		metrics.IncJobOutcome("deferred")
		return nil
	}

	start := time.Now()
	outcome, err := h.pipeline.Process(ctx, email)
	if err != nil {
		h.deduper.Release(ctx, handlerName, p.EmailID)
		return h.handleProcessError(ctx, &p, raw, err)
	}

	if outcome.Matched {
		if err := h.emailRepo.MarkProcessed(ctx, p.EmailID); err != nil {
			h.deduper.Release(ctx, handlerName, p.EmailID)
			return h.handleProcessError(ctx, &p, raw, err)
		}
		metrics.IncEmailStatus(model.EmailStatusProcessed)
	} else {
		if err := h.emailRepo.MarkUnmatched(ctx, p.EmailID); err != nil {
			h.deduper.Release(ctx, handlerName, p.EmailID)
			return h.handleProcessError(ctx, &p, raw, err)
		}
		metrics.IncEmailStatus(model.EmailStatusUnmatched)
		if err := h.reviewAlert.OnManualReview(ctx, p.EmailID, p.Subject); err != nil {
			// The email is parked for review either way.
			h.logger.Error("Failed to raise manual review alert",
				zap.String("email_id", p.EmailID),
				zap.Error(err),
			)
		}
	}

	if err := h.jobs.MarkCompleted(ctx, p.JobID); err != nil {
		h.logger.Error("Failed to mark job completed",
			zap.String("job_id", p.JobID),
			zap.Error(err),
		)
	}

	retryKey := util.FormatRetryKey(handlerName, p.EmailID)
	_ = h.retryCounter.Reset(ctx, retryKey)

	metrics.IncJobOutcome("completed")
	metrics.ObservePipelineLatency(time.Since(start))

	h.logger.Info("Email settled",
		zap.String("email_id", p.EmailID),
		zap.Bool("matched", outcome.Matched),
		zap.Int("updates", len(outcome.Updates)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// handleProcessError decides between backoff retry and terminal failure.
func (h *EmailReceivedHandler) handleProcessError(ctx context.Context, p *queue.JobPayload, raw json.RawMessage, procErr error) error {
	isRetryable, errType := util.IsRetryableError(procErr)

	retryKey := util.FormatRetryKey(handlerName, p.EmailID)
	retryCount, err := h.retryCounter.IncrementAndGet(ctx, retryKey)
	if err != nil {
		h.logger.Warn("Failed to get retry count, assuming first attempt",
			zap.String("email_id", p.EmailID),
			zap.Error(err),
		)
		retryCount = 1
	}

	h.logger.Error("Pipeline processing failed",
		zap.String("job_id", p.JobID),
		zap.String("email_id", p.EmailID),
		zap.String("error_type", errType),
		zap.Bool("retryable", isRetryable),
		zap.Int64("retry_count", retryCount),
		zap.Error(procErr),
	)

	if util.ShouldRetry(retryCount, h.maxAttempts, isRetryable) {
		attempts, exhausted, err := h.jobs.Reschedule(ctx, p.JobID, procErr.Error())
		if err != nil {
			h.logger.Error("Failed to reschedule job", zap.Error(err))
			// Fall back to broker redelivery.
			return procErr
		}
		if !exhausted {
			h.logger.Info("Job rescheduled with backoff",
				zap.String("job_id", p.JobID),
				zap.Int("attempts", attempts),
			)
			metrics.IncJobOutcome("rescheduled")
			return nil
		}
		// Reschedule already moved the job to failed.
		return h.settleFailure(ctx, p, raw, procErr.Error(), false)
	}

	return h.settleFailure(ctx, p, raw, procErr.Error(), true)
}

// failJob terminally fails a job whose email record is unusable.
func (h *EmailReceivedHandler) failJob(ctx context.Context, p *queue.JobPayload, raw json.RawMessage, reason string) error {
	return h.settleFailure(ctx, p, raw, reason, true)
}

// settleFailure marks email and job failed, parks the payload in the DLQ
// and acks the delivery.
func (h *EmailReceivedHandler) settleFailure(ctx context.Context, p *queue.JobPayload, raw json.RawMessage, reason string, markJob bool) error {
	if err := h.emailRepo.MarkFailed(ctx, p.EmailID, reason); err != nil && !errors.Is(err, repository.ErrNotFound) {
		h.logger.Error("Failed to mark email failed",
			zap.String("email_id", p.EmailID),
			zap.Error(err),
		)
	}
	if markJob {
		if err := h.jobs.MarkFailed(ctx, p.JobID, reason); err != nil {
			h.logger.Error("Failed to mark job failed",
				zap.String("job_id", p.JobID),
				zap.Error(err),
			)
		}
	}
	if err := h.publisher.PublishToDLQ(mq.RoutingKeyEmailReceived, raw, reason); err != nil {
		h.logger.Error("Failed to publish failed job to DLQ", zap.Error(err))
	}

	retryKey := util.FormatRetryKey(handlerName, p.EmailID)
	_ = h.retryCounter.Reset(ctx, retryKey)

	metrics.IncJobOutcome("failed")
	metrics.IncEmailStatus(model.EmailStatusFailed)
	return nil
}
