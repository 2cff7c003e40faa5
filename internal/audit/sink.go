// Package audit delivers business events to a passive append-only sink.
// Recording never fails the caller: sinks log and drop on error.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Sink receives audit entries.
type Sink interface {
	Record(ctx context.Context, entry shared.AuditLog)
}

func stamp(entry shared.AuditLog) shared.AuditLog {
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	return entry
}

// LogSink writes entries to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Record implements Sink.
func (s *LogSink) Record(ctx context.Context, entry shared.AuditLog) {
	entry = stamp(entry)
	s.logger.InfoContext(ctx, "audit",
		slog.String("tenant_id", entry.TenantID),
		slog.String("actor_id", entry.ActorID),
		slog.String("action", entry.Action),
		slog.String("entity", entry.Entity),
		slog.String("entity_id", entry.EntityID),
		slog.Any("meta", entry.Meta),
		slog.Time("at", entry.At))
}

// Write lets the worker drain the queue into the log when no database is
// configured.
func (s *LogSink) Write(ctx context.Context, entry shared.AuditLog) error {
	s.Record(ctx, entry)
	return nil
}

// Memory keeps entries in memory.
type Memory struct {
	mu      sync.Mutex
	entries []shared.AuditLog
}

// NewMemory returns an empty Memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Record implements Sink.
func (m *Memory) Record(_ context.Context, entry shared.AuditLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, stamp(entry))
}

// Entries returns a copy of the recorded entries.
func (m *Memory) Entries() []shared.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]shared.AuditLog, len(m.entries))
	copy(out, m.entries)
	return out
}

// Actions lists recorded actions in order.
func (m *Memory) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

// Nop discards entries.
type Nop struct{}

// Record implements Sink.
func (Nop) Record(context.Context, shared.AuditLog) {}
