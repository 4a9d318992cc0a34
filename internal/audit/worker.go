package audit

import (
	"context"
	"log/slog"
)

// Worker consumes audit events from a channel and forwards them to a sink.
// A failed append is logged and the event dropped; audit never blocks writes.
type Worker struct {
	sink   Store
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(sink Store, inbox <-chan Event, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{sink: sink, inbox: inbox, logger: logger}
}

// Run forwards events until ctx is done, then drains what is already queued.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case event := <-w.inbox:
			w.forward(ctx, event)
		}
	}
}

func (w *Worker) drain() {
	for {
		select {
		case event := <-w.inbox:
			w.forward(context.Background(), event)
		default:
			return
		}
	}
}

func (w *Worker) forward(ctx context.Context, event Event) {
	if err := w.sink.Append(ctx, event); err != nil {
		w.logger.WarnContext(ctx, "audit event dropped",
			"action", event.Action,
			"contact_id", event.ContactID,
			"request_id", event.RequestID,
			"error", err,
		)
	}
}
