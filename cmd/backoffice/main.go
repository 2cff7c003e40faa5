package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/backoffice/cmd/backoffice/cli"
	"github.com/odyssey-erp/backoffice/internal/app"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
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

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobs(ctx, cfg, logger, os.Args[2:]))
	}

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	container, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer container.Close()

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      container.Router(),
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("store", cfg.StoreDriver),
			slog.String("lock", cfg.LockDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// runJobs handles "jobs trigger <name>" and "jobs stats".
func runJobs(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		logger.Error("jobs cli", slog.Any("error", err))
		return 1
	}
	defer func() { _ = jobsCLI.Close() }()

	switch {
	case len(args) == 2 && args[0] == "trigger":
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			logger.Error("trigger job", slog.String("job", args[1]), slog.Any("error", err))
			return 1
		}
		fmt.Printf("enqueued %s as %s\n", info.Type, info.ID)
	case len(args) == 1 && args[0] == "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			logger.Error("inspect queue", slog.Any("error", err))
			return 1
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	default:
		fmt.Fprintln(os.Stderr, "usage: backoffice jobs trigger <name> | backoffice jobs stats")
		return 2
	}
	return 0
}
