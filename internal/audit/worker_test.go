package audit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "coursecert/pkg/domain"
)

func TestWorkerPersistsBufferedEvents(t *testing.T) {
	store := NewInMemoryStore()
	worker := NewWorker(store, slog.New(slog.NewTextHandler(io.Discard, nil)), 4)
	batchID := id.NewBatchID()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, worker.Append(ctx, Event{
			Action:    ActionBatchCreated,
			BatchID:   &batchID,
			Timestamp: time.Now().UTC(),
		}))
	}

	// A cancelled context makes Run flush the inbox and return.
	runCtx, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(t, worker.Run(runCtx), context.Canceled)

	events, err := store.ListByBatch(ctx, batchID.String())
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestWorkerFullInboxReportsDrop(t *testing.T) {
	worker := NewWorker(NewInMemoryStore(), slog.New(slog.NewTextHandler(io.Discard, nil)), 1)
	ctx := context.Background()

	require.NoError(t, worker.Append(ctx, Event{Action: ActionStockAdded}))
	err := worker.Append(ctx, Event{Action: ActionStockAdded})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inbox full")
}
