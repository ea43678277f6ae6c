// Command worker consumes registration review tasks from Redis.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ProofDrop/internal/app"
	"github.com/dharsanguruparan/ProofDrop/internal/config"
	"github.com/dharsanguruparan/ProofDrop/internal/logging"
	"github.com/dharsanguruparan/ProofDrop/internal/review"
	"github.com/dharsanguruparan/ProofDrop/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.RedisAddr == "" {
		logger.Fatal("PROOFDROP_REDIS_ADDR is required for the worker")
	}

	srv := asynq.NewServer(app.RedisOpt(cfg), asynq.Config{
		Concurrency: cfg.ReviewWorkers,
		Logger:      logger.Named("asynq").Sugar(),
	})
	processor := worker.NewProcessor(review.NewChecker(nil, logger.Named("review")), logger.Named("worker"))

	go func() {
		<-ctx.Done()
		srv.Shutdown()
	}()

	logger.Info("review worker started", zap.Int("concurrency", cfg.ReviewWorkers))
	if err := srv.Run(processor.Handler()); err != nil {
		logger.Error("worker stopped", zap.Error(err))
		os.Exit(1)
	}
}
