package jobs

import (
	"log/slog"

	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

func metricsOrDefault(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
