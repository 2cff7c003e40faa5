package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

type staticTenants []string

func (s staticTenants) ActiveIDs(context.Context) ([]string, error) { return s, nil }

type fakeRefresher struct {
	mu      sync.Mutex
	changed map[string]int
	failing map[string]bool
	seen    []string
	asOf    time.Time
}

func (f *fakeRefresher) RefreshOverdue(ctx context.Context, asOf time.Time) (int, error) {
	id, ok := shared.IdentityFromContext(ctx)
	if !ok {
		return 0, errors.New("no identity")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, id.TenantID+"/"+id.UserID)
	f.asOf = asOf
	if f.failing[id.TenantID] {
		return 0, errors.New("store unavailable")
	}
	return f.changed[id.TenantID], nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOverdueRefreshSweepsEveryTenant(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	refresher := &fakeRefresher{changed: map[string]int{"acme": 3}}
	job := NewOverdueRefreshJob(staticTenants{"acme", "globex"}, refresher, quietLogger(), metrics)
	fixed := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	job.Clock = func() time.Time { return fixed }

	task, err := NewOverdueRefreshTask(OverdueRefreshPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Equal(t, []string{"acme/system", "globex/system"}, refresher.seen)
	require.True(t, refresher.asOf.Equal(fixed))

	expected := `
# HELP backoffice_job_findings_total Consistency findings reported by background jobs.
# TYPE backoffice_job_findings_total counter
backoffice_job_findings_total{job="arap:refresh_overdue",tenant="acme"} 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "backoffice_job_findings_total"))
}

func TestOverdueRefreshContinuesPastFailingTenant(t *testing.T) {
	refresher := &fakeRefresher{failing: map[string]bool{"acme": true}, changed: map[string]int{"globex": 1}}
	job := NewOverdueRefreshJob(staticTenants{"acme", "globex"}, refresher, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := job.Run(context.Background(), time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	require.Len(t, refresher.seen, 2)
}

func TestOverdueRefreshRejectsBadPayload(t *testing.T) {
	job := NewOverdueRefreshJob(staticTenants{"acme"}, &fakeRefresher{}, quietLogger(), nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskOverdueRefresh, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestStockVerifyTotalsFindings(t *testing.T) {
	reg := prometheus.NewRegistry()
	counts := map[string]int{"acme": 0, "globex": 2}
	verifier := StockVerifyFunc(func(ctx context.Context) (int, error) {
		id, _ := shared.IdentityFromContext(ctx)
		return counts[id.TenantID], nil
	})
	job := NewStockVerifyJob(staticTenants{"acme", "globex"}, verifier, quietLogger(), jobmetrics.NewMetrics(reg))

	total, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, total)

	expected := `
# HELP backoffice_job_findings_total Consistency findings reported by background jobs.
# TYPE backoffice_job_findings_total counter
backoffice_job_findings_total{job="inventory:verify_stock",tenant="globex"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "backoffice_job_findings_total"))
}

func TestJobsRequireDependencies(t *testing.T) {
	_, err := (&StockVerifyJob{}).Run(context.Background())
	require.Error(t, err)
	require.Error(t, (&OverdueRefreshJob{}).Run(context.Background(), time.Time{}))
}
