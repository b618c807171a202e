package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerForwardsQueuedEvents(t *testing.T) {
	sink := NewMemorySink()
	w := NewWorker(sink, 8, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, w.Append(ctx, Event{Action: ActionIdentityCreated, IdentityID: "a"}))
	require.NoError(t, w.Append(ctx, Event{Action: ActionProfileStored, IdentityID: "a"}))

	assert.Eventually(t, func() bool { return len(sink.Events()) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWorkerRejectsWhenFull(t *testing.T) {
	w := NewWorker(NewMemorySink(), 1, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, w.Append(context.Background(), Event{Action: ActionProfileStored}))
	err := w.Append(context.Background(), Event{Action: ActionProfileStored})
	assert.True(t, errors.Is(err, ErrBufferFull))
}

func TestWorkerFlushesOnShutdown(t *testing.T) {
	sink := NewMemorySink()
	w := NewWorker(sink, 4, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, w.Append(context.Background(), Event{Action: ActionProfileDeleted, IdentityID: "a"}))
	require.NoError(t, w.Append(context.Background(), Event{Action: ActionProfileDeleted, IdentityID: "b"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = w.Run(ctx)

	assert.Len(t, sink.Events(), 2)
}
