package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
)

const (
	// TaskOverdueRefresh marks receivables and payables past their due date.
	TaskOverdueRefresh = "arap:refresh_overdue"
)

// OverdueRefreshPayload pins the evaluation date. Zero means now.
type OverdueRefreshPayload struct {
	AsOf time.Time `json:"as_of,omitempty"`
}

// NewOverdueRefreshTask constructs the task.
func NewOverdueRefreshTask(payload OverdueRefreshPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverdueRefresh, body, asynq.Queue(QueueDefault)), nil
}

// OverdueRefresher flips open balances to OVERDUE for the caller's tenant.
type OverdueRefresher interface {
	RefreshOverdue(ctx context.Context, asOf time.Time) (int, error)
}

// OverdueRefreshJob sweeps every tenant.
type OverdueRefreshJob struct {
	Tenants   TenantLister
	Refresher OverdueRefresher
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	Clock     func() time.Time
}

// NewOverdueRefreshJob wires dependencies for the overdue sweep.
func NewOverdueRefreshJob(tenants TenantLister, refresher OverdueRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *OverdueRefreshJob {
	return &OverdueRefreshJob{Tenants: tenants, Refresher: refresher, Logger: logger, Metrics: metrics, Clock: time.Now}
}

// Handle processes TaskOverdueRefresh tasks.
func (j *OverdueRefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload OverdueRefreshPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	return j.Run(ctx, payload.AsOf)
}

// Run executes the sweep directly.
func (j *OverdueRefreshJob) Run(ctx context.Context, asOf time.Time) (err error) {
	if j == nil || j.Tenants == nil || j.Refresher == nil {
		return errors.New("overdue refresh: job not configured")
	}
	if asOf.IsZero() {
		asOf = j.now()
	}
	metrics := metricsOrDefault(j.Metrics)
	tracker := metrics.Track(TaskOverdueRefresh)
	defer func() { err = tracker.End(err) }()

	logger := loggerOrDefault(j.Logger)
	return sweepTenants(ctx, j.Tenants, logger, TaskOverdueRefresh, func(ctx context.Context, tenantID string) error {
		changed, err := j.Refresher.RefreshOverdue(ctx, asOf)
		if err != nil {
			return err
		}
		if changed > 0 {
			metrics.AddFindings(TaskOverdueRefresh, tenantID, changed)
			logger.Info("balances marked overdue", slog.String("tenant_id", tenantID), slog.Int("count", changed))
		}
		return nil
	})
}

func (j *OverdueRefreshJob) now() time.Time {
	if j.Clock != nil {
		return j.Clock().UTC()
	}
	return time.Now().UTC()
}
