package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/app"
	"github.com/odyssey-erp/odyssey-gl/internal/events"
	jobmetrics "github.com/odyssey-erp/odyssey-gl/internal/jobs"
	"github.com/odyssey-erp/odyssey-gl/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	if cfg.Storage != app.StoragePostgres {
		logger.Error("worker requires GL_STORAGE=postgres", slog.String("storage", cfg.Storage))
		os.Exit(1)
	}

	backends, err := app.OpenBackends(ctx, cfg, logger)
	if err != nil {
		logger.Error("open backends", slog.Any("error", err))
		os.Exit(1)
	}
	defer backends.Close()

	metrics := jobmetrics.NewMetrics(nil)

	var periodJob *jobs.PeriodEventJob
	if cfg.PublishesEvents() {
		publisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPeriods, logger)
		if err != nil {
			logger.Error("init kafka publisher", slog.Any("error", err))
			os.Exit(1)
		}
		defer publisher.Close()
		periodJob = &jobs.PeriodEventJob{Publisher: publisher, Logger: logger, Metrics: metrics}
	} else {
		logger.Warn("KAFKA_BROKERS empty, period events stay queued")
	}

	snapshots := balances.NewRepository(backends.Pool)
	verifyJob := jobs.NewLedgerVerifyJob(
		journals.LedgerSource{Repo: journals.NewPgRepository(backends.Pool)},
		snapshots,
		snapshots,
		cfg.Calendar(),
		logger,
		metrics,
	)

	verifyTask, err := jobs.NewLedgerVerifyTask(0, false)
	if err != nil {
		logger.Error("build verify task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		PeriodEvent: periodJob,
		Verify:      verifyJob,
		Cron: []jobs.CronRegistration{
			{Spec: cfg.VerifyCron, Task: verifyTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
