package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	findings *prometheus.CounterVec
	lastOK   *prometheus.GaugeVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	if err == nil {
		t.metrics.lastOK.WithLabelValues(t.job).SetToCurrentTime()
	}
	return err
}

// AddFindings counts consistency findings reported by a job, such as stock
// projections that drifted from the ledger or documents that became overdue.
func (m *Metrics) AddFindings(job, tenantID string, count int) {
	if m == nil || count <= 0 {
		return
	}
	if tenantID == "" {
		tenantID = "all"
	}
	m.findings.WithLabelValues(job, tenantID).Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backoffice_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	findings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_job_findings_total",
		Help: "Consistency findings reported by background jobs.",
	}, []string{"job", "tenant"})
	lastOK := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "backoffice_job_last_success_timestamp_seconds",
		Help: "Unix time of the last successful run per job.",
	}, []string{"job"})
	registerer.MustRegister(runs, failures, duration, findings, lastOK)
	return &Metrics{runs: runs, failures: failures, duration: duration, findings: findings, lastOK: lastOK}
}
