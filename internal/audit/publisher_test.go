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
	"coursecert/pkg/requestcontext"
)

func TestPublisherStampsEvents(t *testing.T) {
	store := NewInMemoryStore()
	publisher := NewPublisher(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	ctx = requestcontext.WithRequestID(ctx, "req-123")

	batchID := id.NewBatchID()
	publisher.Emit(ctx, Event{
		Action:  ActionBatchCreated,
		BatchID: &batchID,
	})

	events, err := publisher.List(ctx, batchID.String())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, now, events[0].Timestamp)
	assert.Equal(t, "req-123", events[0].RequestID)
}

func TestInMemoryStoreFiltersByBatch(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	batchA := id.NewBatchID()
	batchB := id.NewBatchID()

	require.NoError(t, store.Append(ctx, Event{Action: ActionBatchCreated, BatchID: &batchA}))
	require.NoError(t, store.Append(ctx, Event{Action: ActionBatchCreated, BatchID: &batchB}))
	require.NoError(t, store.Append(ctx, Event{Action: ActionStockAdded}))

	events, err := store.ListByBatch(ctx, batchA.String())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, batchA, *events[0].BatchID)
}
