package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cifer55/email-progress-tracker-sub002/internal/config"
	"github.com/cifer55/email-progress-tracker-sub002/internal/db"
	"github.com/cifer55/email-progress-tracker-sub002/internal/match"
	"github.com/cifer55/email-progress-tracker-sub002/internal/mq"
	"github.com/cifer55/email-progress-tracker-sub002/internal/mqhandler"
	"github.com/cifer55/email-progress-tracker-sub002/internal/queue"
	redisclient "github.com/cifer55/email-progress-tracker-sub002/internal/redis"
	"github.com/cifer55/email-progress-tracker-sub002/internal/repository"
	notifysvc "github.com/cifer55/email-progress-tracker-sub002/internal/service/notify"
	pipelinesvc "github.com/cifer55/email-progress-tracker-sub002/internal/service/pipeline"
	progresssvc "github.com/cifer55/email-progress-tracker-sub002/internal/service/progress"
	"github.com/cifer55/email-progress-tracker-sub002/internal/util"
	"github.com/cifer55/email-progress-tracker-sub002/pkg/metrics"
)

const queueName = "email.received.pipeline.q"

// staleDispatchedAfter is how long a job may sit dispatched before the
// maintenance sweep assumes the consumer died and returns it to pending.
const staleDispatchedAfter = 30 * time.Minute

func main() {
	logger := util.NewLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Info("Starting pipeline worker...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbConn, err := db.NewConnection(cfg.DB, logger)
	if err != nil {
		logger.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	rdb := redisclient.NewClient(cfg.Redis)
	defer rdb.Close()

	deduper := util.NewDeduper(rdb, time.Hour, logger)
	retryCounter := util.NewRetryCounter(rdb, 24*time.Hour)

	// Repositories.
	emailRepo := repository.NewEmailRepository(dbConn)
	featureRepo := repository.NewFeatureRepository(dbConn)
	updateRepo := repository.NewUpdateRepository(dbConn)
	progressRepo := repository.NewProgressRepository(dbConn)
	notificationRepo := repository.NewNotificationRepository(dbConn)

	// Queue store and dispatcher.
	jobStore := queue.NewStore(dbConn, cfg.Queue.MaxAttempts, cfg.Queue.BaseBackoff)

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		logger.Fatal("failed to init publisher", zap.Error(err))
	}
	defer publisher.Close()

	if err := publisher.SetupDLQ(mq.RoutingKeyEmailReceived); err != nil {
		logger.Fatal("failed to set up DLQ", zap.Error(err))
	}

	dispatcher := queue.NewDispatcher(jobStore, publisher, cfg.Queue.DispatchInterval, cfg.Queue.DispatchBatch, logger)
	go dispatcher.Start(ctx)

	// Services.
	channels := []notifysvc.Channel{notifysvc.NewInAppChannel(logger)}
	if cfg.SMTP.Enabled {
		channels = append(channels, notifysvc.NewSMTPChannel(cfg.SMTP, logger))
	}
	notifier := notifysvc.NewService(notificationRepo, featureRepo, updateRepo, channels, logger)

	recorder := progresssvc.NewService(updateRepo, progressRepo, logger)
	matcher := match.New(featureRepo, cfg.Pipeline.FuzzyMinScore, logger)
	pipeline := pipelinesvc.NewService(matcher, recorder, notifier, cfg.Pipeline.ConfidenceThreshold, logger)

	handler := mqhandler.NewEmailReceivedHandler(
		emailRepo, jobStore, pipeline, notifier, publisher,
		deduper, retryCounter, cfg.Queue.MaxAttempts, logger,
	)

	consumer, err := mq.NewConsumer(cfg.MQ.URL, queueName, mq.RoutingKeyEmailReceived, cfg.Queue.Concurrency, logger)
	if err != nil {
		logger.Fatal("failed to init consumer", zap.Error(err))
	}
	defer consumer.Close()
	consumer.SetHandler(handler.Handle)

	go func() {
		if err := consumer.StartConsuming(ctx); err != nil {
			logger.Fatal("consumer failed", zap.Error(err))
		}
	}()

	// Periodic maintenance: delay scan, queue eviction, notification
	// retention.
	go runMaintenance(ctx, cfg, jobStore, notifier, logger)

	// Prometheus scrape endpoint.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := config.GetEnv("METRICS_ADDR", ":9091")
		logger.Info("metrics endpoint listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics endpoint failed", zap.Error(err))
		}
	}()

	logger.Info("Pipeline worker ready")
	<-ctx.Done()
	logger.Info("Shutting down pipeline worker")
}

func runMaintenance(ctx context.Context, cfg *config.Config, jobStore *queue.Store, notifier *notifysvc.Service, logger *zap.Logger) {
	ticker := time.NewTicker(cfg.Notify.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := notifier.CheckForDelayedFeatures(ctx); err != nil {
				logger.Error("delay scan failed", zap.Error(err))
			}
			if n, err := jobStore.RequeueStale(ctx, staleDispatchedAfter); err != nil {
				logger.Error("stale job requeue failed", zap.Error(err))
			} else if n > 0 {
				logger.Warn("requeued stale dispatched jobs", zap.Int64("count", n))
			}
			if n, err := jobStore.Cleanup(ctx, cfg.Queue.Retention); err != nil {
				logger.Error("queue cleanup failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("evicted terminal jobs", zap.Int64("count", n))
			}
			if n, err := notifier.Cleanup(ctx, cfg.Notify.RetentionDays); err != nil {
				logger.Error("notification cleanup failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("evicted read notifications", zap.Int64("count", n))
			}
			if stats, err := jobStore.GetStats(ctx); err == nil {
				metrics.QueueDepth.Set(float64(stats.Pending))
			}
		}
	}
}
