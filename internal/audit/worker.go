package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const drainTimeout = 5 * time.Second

// ErrBufferFull is returned when the worker cannot accept another event.
var ErrBufferFull = errors.New("audit buffer full")

// Worker decouples request paths from a slow sink. Append only enqueues;
// Run drains the queue into the downstream sink.
type Worker struct {
	next   Sink
	inbox  chan Event
	logger *slog.Logger
}

func NewWorker(next Sink, buffer int, logger *slog.Logger) *Worker {
	if buffer <= 0 {
		buffer = 1
	}
	return &Worker{next: next, inbox: make(chan Event, buffer), logger: logger}
}

// Append enqueues event without blocking.
func (w *Worker) Append(_ context.Context, event Event) error {
	select {
	case w.inbox <- event:
		return nil
	default:
		return ErrBufferFull
	}
}

// Run forwards queued events until ctx is done, then flushes what is left.
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
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case event := <-w.inbox:
			w.forward(ctx, event)
		default:
			return
		}
	}
}

func (w *Worker) forward(ctx context.Context, event Event) {
	if err := w.next.Append(ctx, event); err != nil {
		w.logger.WarnContext(ctx, "audit sink append failed",
			"action", event.Action,
			"identity_id", event.IdentityID,
			"error", err,
		)
	}
}
