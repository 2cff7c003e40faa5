package audit

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/jobs"
)

// Enqueuer is the subset of *asynq.Client used by QueueSink.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueSink hands entries to the worker through the job queue.
type QueueSink struct {
	client Enqueuer
	logger *slog.Logger
}

// NewQueueSink constructs a QueueSink.
func NewQueueSink(client Enqueuer, logger *slog.Logger) *QueueSink {
	return &QueueSink{client: client, logger: logger}
}

// Record implements Sink.
func (s *QueueSink) Record(ctx context.Context, entry shared.AuditLog) {
	task, err := jobs.NewAuditRecordTask(stamp(entry))
	if err != nil {
		s.logger.Warn("audit task encode", slog.Any("error", err))
		return
	}
	if _, err := s.client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		s.logger.Warn("audit enqueue", slog.String("action", entry.Action), slog.Any("error", err))
	}
}
