package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/backoffice/internal/app"
	"github.com/odyssey-erp/backoffice/internal/audit"
	"github.com/odyssey-erp/backoffice/jobs"
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

	// The worker drains the audit queue, so it must not feed it.
	cfg.AuditSink = "log"
	container, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("build container", slog.Any("error", err))
		os.Exit(1)
	}
	defer container.Close()

	var writer jobs.AuditWriter = audit.NewLogSink(logger)
	if container.Pool != nil {
		w := audit.NewWriter(container.Pool)
		if err := w.Migrate(ctx); err != nil {
			logger.Error("migrate audit table", slog.Any("error", err))
			os.Exit(1)
		}
		writer = w
	}

	jobMetrics := container.Metrics.Jobs()
	auditJob := jobs.NewAuditRecordJob(writer, logger, jobMetrics)
	overdueJob := jobs.NewOverdueRefreshJob(container.Directory, container.Balances, logger, jobMetrics)
	stockJob := jobs.NewStockVerifyJob(container.Directory, jobs.StockVerifyFunc(func(ctx context.Context) (int, error) {
		drift, err := container.Inventory.Verify(ctx)
		return len(drift), err
	}), logger, jobMetrics)

	overdueTask, err := jobs.NewOverdueRefreshTask(jobs.OverdueRefreshPayload{})
	if err != nil {
		logger.Error("build overdue task", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpt, err := jobs.RedisOpt(cfg.RedisAddr)
	if err != nil {
		logger.Error("redis options", slog.Any("error", err))
		os.Exit(1)
	}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpt,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAuditRecord, Handler: auditJob.Handle},
			{Type: jobs.TaskOverdueRefresh, Handler: overdueJob.Handle},
			{Type: jobs.TaskStockVerify, Handler: stockJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "5 0 * * *", Task: overdueTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 2 * * *", Task: jobs.NewStockVerifyTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
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
