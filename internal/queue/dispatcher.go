package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cifer55/email-progress-tracker-sub002/internal/mq"
	"github.com/cifer55/email-progress-tracker-sub002/pkg/metrics"
)

// Dispatcher moves due pending jobs from the store to the message broker.
// At-least-once: a job marked dispatched only after a successful publish,
// so a crash in between re-publishes on the next tick and consumers must
// deduplicate.
type Dispatcher struct {
	store     *Store
	publisher *mq.Publisher
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

func NewDispatcher(store *Store, publisher *mq.Publisher, interval time.Duration, batchSize int, logger *zap.Logger) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Start runs the dispatch loop until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("queue dispatcher started",
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize))

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("queue dispatcher stopped")
			return
		case <-ticker.C:
			d.dispatchBatch(ctx)
		}
	}
}

func (d *Dispatcher) dispatchBatch(ctx context.Context) {
	jobs, err := d.store.DuePending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("failed to fetch pending jobs", zap.Error(err))
		return
	}

	for _, job := range jobs {
		if err := d.publisher.PublishRaw(ctx, mq.RoutingKeyEmailReceived, job.Payload); err != nil {
			d.logger.Error("failed to publish job",
				zap.String("job_id", job.ID),
				zap.Error(err))
			// Left pending; retried on the next tick.
			continue
		}
		if err := d.store.MarkDispatched(ctx, job.ID); err != nil {
			d.logger.Error("failed to mark job dispatched",
				zap.String("job_id", job.ID),
				zap.Error(err))
		}
	}

	if depth, err := d.store.Depth(ctx); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}
}
