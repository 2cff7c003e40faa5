package jobs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/backoffice/internal/platform/httpx"
)

// RedisOpt turns host:port or a redis:// URI into asynq connection options.
func RedisOpt(addr string) (asynq.RedisConnOpt, error) {
	if strings.Contains(addr, "://") {
		return asynq.ParseRedisURI(addr)
	}
	if addr == "" {
		return nil, errors.New("jobs: redis address required")
	}
	return asynq.RedisClientOpt{Addr: addr}, nil
}

// Worker wraps the Asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler binds a task type to its handler.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisConnOpt
	Logger      *slog.Logger
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// NewWorker constructs a Worker instance. Cron specs are evaluated in UTC.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.RedisOpts == nil {
		return nil, errors.New("worker: redis options required")
	}
	logger := loggerOrDefault(cfg.Logger)
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueDefault: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Warn("task failed",
				slog.String("task", task.Type()),
				slog.Int("retry", retried),
				slog.Int("max_retry", maxRetry),
				slog.Any("error", err))
		}),
	})
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			id, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...)
			if err != nil {
				return nil, err
			}
			logger.Info("cron registered", slog.String("task", entry.Task.Type()), slog.String("spec", entry.Spec), slog.String("entry_id", id))
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: logger}, nil
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
		defer w.scheduler.Shutdown()
	}
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	w.logger.Info("worker started")
	<-ctx.Done()
	w.server.Shutdown()
	w.logger.Info("worker stopped")
	return ctx.Err()
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisConnOpt) (*Client, error) {
	if redisOpts == nil {
		return nil, errors.New("jobs: redis options required")
	}
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueContext submits a task to the default queue unless opts override it.
func (c *Client) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	opts = append([]asynq.Option{asynq.Queue(QueueDefault)}, opts...)
	return c.client.EnqueueContext(ctx, task, opts...)
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// QueueInspector is the part of *asynq.Inspector the health endpoint reads.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Handler exposes queue health over HTTP.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	return &Handler{inspector: inspector, logger: loggerOrDefault(logger)}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

type queueHealth struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Retry     int    `json:"retry"`
	Scheduled int    `json:"scheduled"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	out := queueHealth{Queue: QueueDefault}
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, out)
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueDefault)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "queue unavailable")
		return
	}
	if info != nil {
		out = queueHealth{Queue: info.Queue, Pending: info.Pending, Active: info.Active, Retry: info.Retry, Scheduled: info.Scheduled}
	}
	httpx.JSON(w, http.StatusOK, out)
}
