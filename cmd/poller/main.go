package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/cifer55/email-progress-tracker-sub002/internal/config"
	"github.com/cifer55/email-progress-tracker-sub002/internal/db"
	"github.com/cifer55/email-progress-tracker-sub002/internal/poller"
	"github.com/cifer55/email-progress-tracker-sub002/internal/queue"
	"github.com/cifer55/email-progress-tracker-sub002/internal/repository"
	"github.com/cifer55/email-progress-tracker-sub002/internal/util"
	"github.com/cifer55/email-progress-tracker-sub002/internal/vault"
)

func main() {
	logger := util.NewLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Info("Starting mailbox poller...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbConn, err := db.NewConnection(cfg.DB, logger)
	if err != nil {
		logger.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	v, err := vault.New(cfg.Vault.MasterSecret, cfg.Vault.Salt)
	if err != nil {
		logger.Fatal("vault initialization failed", zap.Error(err))
	}

	configRepo := repository.NewEmailConfigRepository(dbConn)
	emailRepo := repository.NewEmailRepository(dbConn)
	jobStore := queue.NewStore(dbConn, cfg.Queue.MaxAttempts, cfg.Queue.BaseBackoff)

	p := poller.New(configRepo, emailRepo, jobStore, v, logger)
	p.Start(ctx)
}
