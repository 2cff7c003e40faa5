package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Async hands entries to a background goroutine so a slow sink never
// delays a business transaction. Entries are dropped when the buffer is full.
type Async struct {
	next    Sink
	logger  *slog.Logger
	queue   chan shared.AuditLog
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64
}

// NewAsync starts the forwarding goroutine.
func NewAsync(next Sink, buffer int, logger *slog.Logger) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{next: next, logger: logger, queue: make(chan shared.AuditLog, buffer)}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *Async) loop() {
	defer a.wg.Done()
	for entry := range a.queue {
		a.next.Record(context.Background(), entry)
	}
}

// Record implements Sink.
func (a *Async) Record(_ context.Context, entry shared.AuditLog) {
	select {
	case a.queue <- stamp(entry):
	default:
		n := a.dropped.Add(1)
		a.logger.Warn("audit buffer full, entry dropped",
			slog.String("action", entry.Action),
			slog.Int64("dropped_total", n))
	}
}

// Dropped reports how many entries were discarded.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close drains the buffer and stops the goroutine. Record must not be called after Close.
func (a *Async) Close() {
	a.once.Do(func() {
		close(a.queue)
		a.wg.Wait()
	})
}
