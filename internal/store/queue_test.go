package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shopsync/internal/ir"
)

func queuedDelete(id, key string) ir.QueuedOperation {
	return ir.QueuedOperation{
		Mutation:       ir.Delete{Type: ir.EntityProduct, ID: id},
		EnqueuedAt:     t0,
		IdempotencyKey: key,
	}
}

func TestEnqueueOperation_AssignsIncreasingIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		id, err := s.EnqueueOperation(ctx, queuedDelete(fmt.Sprintf("p-%d", i), fmt.Sprintf("k-%d", i)))
		require.NoError(t, err)
		assert.Greater(t, id, last)
		last = id
	}

	n, err := s.QueueLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestEnqueueOperation_IdempotentOnKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.EnqueueOperation(ctx, queuedDelete("p-1", "same"))
	require.NoError(t, err)
	id2, err := s.EnqueueOperation(ctx, queuedDelete("p-1", "same"))
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	n, _ := s.QueueLen(ctx)
	assert.Equal(t, 1, n)
}

func TestEnqueueOperation_RejectsMissingFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.EnqueueOperation(ctx, ir.QueuedOperation{IdempotencyKey: "k"})
	assert.Error(t, err)

	_, err = s.EnqueueOperation(ctx, queuedDelete("p-1", ""))
	assert.Error(t, err)
}

func TestListOperations_ReplayOrderAndDecoding(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p, err := ir.NewEntity(ir.EntityProduct, "p-1", map[string]any{"name": "Mug", "price": 12})
	require.NoError(t, err)

	_, err = s.EnqueueOperation(ctx, ir.QueuedOperation{Mutation: ir.Create{Entity: p}, EnqueuedAt: t0, IdempotencyKey: "a"})
	require.NoError(t, err)
	_, err = s.EnqueueOperation(ctx, ir.QueuedOperation{Mutation: ir.Update{Entity: p}, EnqueuedAt: t0, IdempotencyKey: "b"})
	require.NoError(t, err)
	_, err = s.EnqueueOperation(ctx, queuedDelete("p-1", "c"))
	require.NoError(t, err)

	ops, err := s.ListOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 3)

	assert.Equal(t, ir.ActionCreate, ops[0].Mutation.Action())
	assert.Equal(t, ir.ActionUpdate, ops[1].Mutation.Action())
	assert.Equal(t, ir.ActionDelete, ops[2].Mutation.Action())
	assert.True(t, ops[0].Mutation.(ir.Create).Entity.Equal(p))
	assert.Equal(t, t0, ops[0].EnqueuedAt)
	assert.Equal(t, []string{"a", "b", "c"}, []string{ops[0].IdempotencyKey, ops[1].IdempotencyKey, ops[2].IdempotencyKey})
}

func TestListOperations_SkipsUndecodableRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.EnqueueOperation(ctx, queuedDelete("p-1", "a"))
	require.NoError(t, err)
	_, err = s.DB().ExecContext(ctx, `
		INSERT INTO sync_queue (action, entity_type, entity_id, payload, idempotency_key, enqueued_at, retries)
		VALUES ('update', 'product', 'p-2', ?, 'broken', ?, 0)
	`, []byte(`{"type":"product","id":`), t0.UnixNano())
	require.NoError(t, err)
	_, err = s.EnqueueOperation(ctx, queuedDelete("p-3", "c"))
	require.NoError(t, err)

	ops, err := s.ListOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "a", ops[0].IdempotencyKey)
	assert.Equal(t, "c", ops[1].IdempotencyKey)

	n, err := s.QueueLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "the undecodable row is kept for inspection")
}

func TestIncrementRetriesAndDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.EnqueueOperation(ctx, queuedDelete("p-1", "k"))
	require.NoError(t, err)

	for want := 1; want <= 3; want++ {
		got, err := s.IncrementRetries(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	require.NoError(t, s.DeleteOperation(ctx, id))
	require.NoError(t, s.DeleteOperation(ctx, id), "deleting twice is not an error")

	_, err = s.IncrementRetries(ctx, id)
	assert.ErrorContains(t, err, "not found")
}
