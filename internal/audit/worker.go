package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Worker decouples audit appends from the request path. Events are buffered
// on a channel and persisted by Run; when the buffer is full Append reports
// the drop instead of blocking a fulfillment operation.
type Worker struct {
	store  Store
	logger *slog.Logger
	inbox  chan Event
}

// NewWorker wraps store with a buffered background writer. The Worker itself
// satisfies Store, so it slots in front of any concrete store.
func NewWorker(store Store, logger *slog.Logger, buffer int) *Worker {
	if buffer <= 0 {
		buffer = 256
	}
	return &Worker{store: store, logger: logger, inbox: make(chan Event, buffer)}
}

// Append enqueues the event for background persistence. It never blocks.
func (w *Worker) Append(_ context.Context, event Event) error {
	select {
	case w.inbox <- event:
		return nil
	default:
		return fmt.Errorf("audit inbox full, dropping %s event", event.Action)
	}
}

// ListByBatch reads through to the underlying store. Events still sitting in
// the inbox are not visible yet.
func (w *Worker) ListByBatch(ctx context.Context, batchID string) ([]Event, error) {
	return w.store.ListByBatch(ctx, batchID)
}

// Run drains the inbox until ctx is cancelled, then flushes whatever is
// still buffered.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.flush()
			return ctx.Err()
		case event := <-w.inbox:
			w.persist(ctx, event)
		}
	}
}

func (w *Worker) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case event := <-w.inbox:
			w.persist(ctx, event)
		default:
			return
		}
	}
}

func (w *Worker) persist(ctx context.Context, event Event) {
	if err := w.store.Append(ctx, event); err != nil {
		w.logger.ErrorContext(ctx, "audit append failed",
			"action", event.Action,
			"error", err,
		)
	}
}
