// Package audit records identity and profile lifecycle events.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"humanitylink/pkg/requestcontext"
)

// Sink persists or forwards audit events.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Publisher stamps events and hands them to a sink. Emitting is fail-open:
// a sink failure is logged and never fails the operation being audited.
type Publisher struct {
	sink   Sink
	logger *slog.Logger
}

// NewPublisher wraps sink. A nil logger discards drop warnings.
func NewPublisher(sink Sink, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Publisher{sink: sink, logger: logger}
}

// Emit records event. A nil Publisher discards it.
func (p *Publisher) Emit(ctx context.Context, event Event) {
	if p == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx).UTC()
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if err := p.sink.Append(ctx, event); err != nil {
		p.logger.WarnContext(ctx, "audit event dropped",
			"action", event.Action,
			"identity_id", event.IdentityID,
			"error", err,
		)
	}
}

// LogSink writes events as structured log lines.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Append(ctx context.Context, event Event) error {
	s.logger.InfoContext(ctx, "audit",
		"action", event.Action,
		"identity_id", event.IdentityID,
		"wallet", event.Wallet,
		"subject_hint", event.SubjectHint,
		"version", event.Version,
		"request_id", event.RequestID,
		"timestamp", event.Timestamp.Format(time.RFC3339Nano),
	)
	return nil
}

// MemorySink keeps events in memory. Tests use it to assert what was audited.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of everything appended so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByAction returns the appended events with the given action.
func (s *MemorySink) ByAction(action Action) []Event {
	var out []Event
	for _, e := range s.Events() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
