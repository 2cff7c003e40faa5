package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/backoffice/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	opt, err := jobs.RedisOpt(redisAddr)
	if err != nil {
		return nil, fmt.Errorf("jobs cli: %w", err)
	}
	client := asynq.NewClient(opt)
	inspector := asynq.NewInspector(opt)
	return &JobsCLI{client: client, inspector: inspector}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// TaskFor builds the task a manual trigger enqueues.
func TaskFor(name string) (*asynq.Task, error) {
	switch name {
	case jobs.TaskOverdueRefresh:
		return jobs.NewOverdueRefreshTask(jobs.OverdueRefreshPayload{})
	case jobs.TaskStockVerify:
		return jobs.NewStockVerifyTask(), nil
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// Trigger enqueues a supported job by name with default payload.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := TaskFor(name)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(_ context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}
