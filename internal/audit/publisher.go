package audit

import (
	"context"
	"log/slog"

	"coursecert/pkg/requestcontext"
)

// Publisher records audit events. It is fail-open: a failed append is
// logged and the business operation proceeds, because a mailed certificate
// is a physical fact the system must not pretend away over a logging
// hiccup.
type Publisher struct {
	store  Store
	logger *slog.Logger
}

// NewPublisher builds a Publisher over the given store.
func NewPublisher(store Store, logger *slog.Logger) *Publisher {
	return &Publisher{store: store, logger: logger}
}

// Emit stamps and appends an event.
func (p *Publisher) Emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if err := p.store.Append(ctx, event); err != nil {
		p.logger.ErrorContext(ctx, "audit append failed",
			"action", event.Action,
			"error", err,
		)
	}
}

// List returns the audit trail for a batch.
func (p *Publisher) List(ctx context.Context, batchID string) ([]Event, error) {
	return p.store.ListByBatch(ctx, batchID)
}
