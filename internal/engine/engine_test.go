package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shopsync/internal/ir"
)

// startEngine runs an engine for the duration of the test.
func startEngine(t *testing.T) *Engine {
	t.Helper()

	e := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e
}

func product(t *testing.T, id string, data map[string]any) ir.Entity {
	t.Helper()
	e, err := ir.NewEntity(ir.EntityProduct, id, data)
	require.NoError(t, err)
	return e
}

func TestEngine_UpsertReturnsPrevious(t *testing.T) {
	e := startEngine(t)
	ctx := context.Background()

	v1 := product(t, "p-1", map[string]any{"price": 10})
	v2 := product(t, "p-1", map[string]any{"price": 12})

	applied, err := e.Upsert(ctx, SourceMutation, v1)
	require.NoError(t, err)
	assert.False(t, applied.Existed)
	assert.True(t, applied.Changed)
	assert.Equal(t, int64(1), applied.Seq)

	applied, err = e.Upsert(ctx, SourceRealtime, v2)
	require.NoError(t, err)
	assert.True(t, applied.Existed)
	assert.True(t, applied.Previous.Equal(v1))

	got, ok := e.Get(ir.EntityProduct, "p-1")
	require.True(t, ok)
	assert.True(t, got.Equal(v2))
}

func TestEngine_UpsertIsIdempotent(t *testing.T) {
	e := startEngine(t)
	ctx := context.Background()

	p := product(t, "p-1", map[string]any{"name": "Mug"})

	_, err := e.Upsert(ctx, SourceRealtime, p)
	require.NoError(t, err)
	once := e.Snapshot()

	applied, err := e.Upsert(ctx, SourceRealtime, p)
	require.NoError(t, err)
	twice := e.Snapshot()

	assert.False(t, applied.Changed)
	assert.Same(t, once, twice, "an identical upsert publishes no new snapshot")
	assert.Equal(t, once.List(ir.EntityProduct), twice.List(ir.EntityProduct))
}

func TestEngine_DeleteAbsentIsNoop(t *testing.T) {
	e := startEngine(t)

	applied, err := e.Delete(context.Background(), SourceRealtime, ir.EntityOrder, "missing")
	require.NoError(t, err)
	assert.False(t, applied.Existed)
	assert.False(t, applied.Changed)
	assert.Equal(t, int64(0), e.Snapshot().Seq())
}

func TestEngine_DeleteRemoves(t *testing.T) {
	e := startEngine(t)
	ctx := context.Background()

	p := product(t, "p-1", map[string]any{"name": "Mug"})
	_, err := e.Upsert(ctx, SourceMutation, p)
	require.NoError(t, err)

	applied, err := e.Delete(ctx, SourceMutation, ir.EntityProduct, "p-1")
	require.NoError(t, err)
	assert.True(t, applied.Existed)
	assert.True(t, applied.Previous.Equal(p))

	_, ok := e.Get(ir.EntityProduct, "p-1")
	assert.False(t, ok)
}

func TestEngine_RefusesUnknownSource(t *testing.T) {
	e := startEngine(t)

	_, err := e.Upsert(context.Background(), Source("ui"), product(t, "p-1", nil))
	require.Error(t, err)
	assert.True(t, IsRefused(err))
	assert.Equal(t, 0, e.Snapshot().Len(ir.EntityProduct))
}

func TestEngine_RejectsInvalidEntity(t *testing.T) {
	e := startEngine(t)

	_, err := e.Upsert(context.Background(), SourceMutation, ir.Entity{Type: "widget", ID: "w"})
	require.Error(t, err)

	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeInvalidEvent, re.Code)
}

func TestEngine_LoadUpsertsBatch(t *testing.T) {
	e := startEngine(t)

	batch := []ir.Entity{
		product(t, "p-2", map[string]any{"name": "Plate"}),
		product(t, "p-1", map[string]any{"name": "Mug"}),
	}
	cat, err := ir.NewEntity(ir.EntityCategory, "c-1", map[string]any{"name": "Kitchen"})
	require.NoError(t, err)
	batch = append(batch, cat)

	applied, err := e.Load(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, int64(1), applied.Seq, "one event, one tick")

	list := e.List(ir.EntityProduct)
	require.Len(t, list, 2)
	assert.Equal(t, "p-1", list[0].ID, "list is ordered by id")
	assert.Equal(t, 1, e.Snapshot().Len(ir.EntityCategory))
}

func TestEngine_SnapshotsAreImmutable(t *testing.T) {
	e := startEngine(t)
	ctx := context.Background()

	_, err := e.Upsert(ctx, SourceMutation, product(t, "p-1", map[string]any{"v": 1}))
	require.NoError(t, err)
	before := e.Snapshot()

	_, err = e.Upsert(ctx, SourceMutation, product(t, "p-2", map[string]any{"v": 2}))
	require.NoError(t, err)

	assert.Equal(t, 1, before.Len(ir.EntityProduct))
	assert.Equal(t, 2, e.Snapshot().Len(ir.EntityProduct))
}

func TestEngine_StopReleasesSubmitters(t *testing.T) {
	e := New()
	e.Stop()

	_, err := e.Upsert(context.Background(), SourceMutation, product(t, "p-1", nil))
	assert.True(t, IsStopped(err))

	// Run returns immediately on a stopped engine.
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestEngine_SubmitHonorsContext(t *testing.T) {
	e := New() // not running
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.Upsert(ctx, SourceMutation, product(t, "p-1", nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
