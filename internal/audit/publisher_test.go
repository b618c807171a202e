package audit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"humanitylink/pkg/requestcontext"
)

type failingSink struct{}

func (failingSink) Append(context.Context, Event) error {
	return errors.New("sink down")
}

func TestPublisherStampsEvents(t *testing.T) {
	sink := NewMemorySink()
	p := NewPublisher(sink, slog.New(slog.NewTextHandler(io.Discard, nil)))

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	ctx = requestcontext.WithRequestID(ctx, "req-1")

	p.Emit(ctx, Event{Action: ActionProfileStored, IdentityID: "did:privy:abc", Version: 1})

	events := sink.ByAction(ActionProfileStored)
	require.Len(t, events, 1)
	assert.Equal(t, now, events[0].Timestamp)
	assert.Equal(t, "req-1", events[0].RequestID)
	assert.Equal(t, 1, events[0].Version)
}

func TestPublisherIsFailOpen(t *testing.T) {
	var buf bytes.Buffer
	p := NewPublisher(failingSink{}, slog.New(slog.NewTextHandler(&buf, nil)))

	assert.NotPanics(t, func() {
		p.Emit(context.Background(), Event{Action: ActionIdentityCreated, IdentityID: "did:privy:abc"})
	})
	assert.Contains(t, buf.String(), "audit event dropped")
}

func TestNilPublisherDiscards(t *testing.T) {
	var p *Publisher
	assert.NotPanics(t, func() {
		p.Emit(context.Background(), Event{Action: ActionProfileDeleted})
	})
}

func TestLogSinkWritesEventAttributes(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, sink.Append(context.Background(), Event{
		Action:     ActionProfileUpdated,
		IdentityID: "did:privy:abc",
		Wallet:     "0x1234…abcd",
		Version:    2,
	}))
	out := buf.String()
	assert.Contains(t, out, `"action":"profile_updated"`)
	assert.Contains(t, out, `"identity_id":"did:privy:abc"`)
	assert.Contains(t, out, `"version":2`)
}
