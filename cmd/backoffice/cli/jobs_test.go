package cli

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/jobs"
)

func TestTaskForKnownJobs(t *testing.T) {
	for _, name := range []string{jobs.TaskOverdueRefresh, jobs.TaskStockVerify} {
		task, err := TaskFor(name)
		require.NoError(t, err)
		require.Equal(t, name, task.Type())
	}
}

func TestTaskForRejectsUnknownJob(t *testing.T) {
	_, err := TaskFor("analytics:warmup")
	require.Error(t, err)
}

func TestNewJobsCLIRequiresAddress(t *testing.T) {
	_, err := NewJobsCLI("")
	require.Error(t, err)
}
