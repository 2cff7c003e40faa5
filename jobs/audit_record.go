package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

const (
	// TaskAuditRecord persists one audit entry.
	TaskAuditRecord = "audit:record"
)

// AuditRecordPayload wraps the audit entry.
type AuditRecordPayload struct {
	Entry shared.AuditLog `json:"entry"`
}

// NewAuditRecordTask constructs an Asynq task for an audit entry.
func NewAuditRecordTask(entry shared.AuditLog) (*asynq.Task, error) {
	body, err := json.Marshal(AuditRecordPayload{Entry: entry})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRecord, body, asynq.Queue(QueueDefault)), nil
}

// AuditWriter persists audit entries.
type AuditWriter interface {
	Write(ctx context.Context, entry shared.AuditLog) error
}

// AuditRecordJob drains audit tasks into the writer.
type AuditRecordJob struct {
	Writer  AuditWriter
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditRecordJob wires dependencies for the audit handler.
func NewAuditRecordJob(writer AuditWriter, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditRecordJob {
	return &AuditRecordJob{Writer: writer, Logger: logger, Metrics: metrics}
}

// Handle processes TaskAuditRecord tasks.
func (j *AuditRecordJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Writer == nil {
		return errors.New("audit record: handler not configured")
	}
	var payload AuditRecordPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskAuditRecord)
	defer func() { err = tracker.End(err) }()

	if err := j.Writer.Write(ctx, payload.Entry); err != nil {
		loggerOrDefault(j.Logger).Warn("audit record write", slog.String("action", payload.Entry.Action), slog.Any("error", err))
		return err
	}
	return nil
}
