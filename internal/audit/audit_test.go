package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/jobs"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAsyncForwardsEntries(t *testing.T) {
	mem := NewMemory()
	a := NewAsync(mem, 8, discardLogger())
	a.Record(context.Background(), shared.AuditLog{TenantID: "t1", Action: "document.issue"})
	a.Record(context.Background(), shared.AuditLog{TenantID: "t1", Action: "document.void"})
	a.Close()

	require.Equal(t, []string{"document.issue", "document.void"}, mem.Actions())
	for _, e := range mem.Entries() {
		require.False(t, e.At.IsZero())
	}
}

type blockingSink struct {
	release chan struct{}
}

func (b blockingSink) Record(context.Context, shared.AuditLog) {
	<-b.release
}

func TestAsyncDropsWhenFull(t *testing.T) {
	sink := blockingSink{release: make(chan struct{})}
	a := NewAsync(sink, 1, discardLogger())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			a.Record(context.Background(), shared.AuditLog{Action: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full buffer")
	}
	require.Positive(t, a.Dropped())
	close(sink.release)
	a.Close()
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func TestQueueSinkEnqueuesRecordTask(t *testing.T) {
	q := &fakeEnqueuer{}
	sink := NewQueueSink(q, discardLogger())
	sink.Record(context.Background(), shared.AuditLog{TenantID: "t1", ActorID: "u1", Action: "cash.open", Entity: "cash_session", EntityID: "s1"})

	require.Len(t, q.tasks, 1)
	require.Equal(t, jobs.TaskAuditRecord, q.tasks[0].Type())
	var payload jobs.AuditRecordPayload
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &payload))
	require.Equal(t, "cash.open", payload.Entry.Action)
	require.Equal(t, "t1", payload.Entry.TenantID)
}

func TestQueueSinkSwallowsErrors(t *testing.T) {
	q := &fakeEnqueuer{err: errors.New("redis down")}
	sink := NewQueueSink(q, discardLogger())
	require.NotPanics(t, func() {
		sink.Record(context.Background(), shared.AuditLog{Action: "x"})
	})
}
