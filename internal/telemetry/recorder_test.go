package telemetry

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shopsync/internal/ir"
	"github.com/roach88/shopsync/internal/store"
	"github.com/roach88/shopsync/internal/testutil"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRecorder_Empty(t *testing.T) {
	r := New()
	assert.Equal(t, ir.Metrics{}, r.Snapshot())
}

func TestRecorder_CumulativeMean(t *testing.T) {
	r := New()
	ctx := context.Background()

	r.RecordRequest(ctx, 100*time.Millisecond)
	r.RecordRequest(ctx, 200*time.Millisecond)
	r.RecordRequest(ctx, 600*time.Millisecond)

	m := r.Snapshot()
	assert.Equal(t, int64(3), m.TotalRequests)
	assert.Equal(t, 300*time.Millisecond, m.AverageLoadTime)
}

func TestRecorder_HitRatio(t *testing.T) {
	r := New()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		r.RecordRequest(ctx, time.Millisecond)
	}
	r.RecordCacheHit(ctx)

	m := r.Snapshot()
	assert.Equal(t, int64(1), m.CacheHits)
	assert.InDelta(t, 0.25, m.CacheHitRatio, 1e-9)
}

func TestRecorder_NegativeDurationClamped(t *testing.T) {
	r := New()
	r.RecordRequest(context.Background(), -time.Second)
	assert.Zero(t, r.Snapshot().AverageLoadTime)
}

func TestRecorder_CountersAreMonotonicUnderConcurrency(t *testing.T) {
	r := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RecordRequest(ctx, 10*time.Millisecond)
			r.RecordCacheHit(ctx)
		}()
	}
	wg.Wait()

	m := r.Snapshot()
	assert.Equal(t, int64(50), m.TotalRequests)
	assert.Equal(t, int64(50), m.CacheHits)
	assert.Equal(t, 10*time.Millisecond, m.AverageLoadTime)
}

func TestRecorder_AppendsPerfRows(t *testing.T) {
	st := openStore(t)
	clock := testutil.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	r := New(WithStorage(st), WithClock(clock.Now))
	ctx := context.Background()

	r.RecordRequest(ctx, 42*time.Millisecond)
	r.RecordCacheHit(ctx)

	rows, err := st.RecentPerf(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, KindCacheHit, rows[0].Kind)
	assert.Equal(t, KindRequest, rows[1].Kind)
	assert.Equal(t, 42*time.Millisecond, rows[1].Duration)
	assert.True(t, rows[1].RecordedAt.Equal(clock.Now()))
}

func TestRecorder_PersistRestore(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	first := New(WithStorage(st))
	first.RecordRequest(ctx, 80*time.Millisecond)
	first.RecordRequest(ctx, 120*time.Millisecond)
	first.RecordCacheHit(ctx)
	require.NoError(t, first.Persist(ctx))

	second := New(WithStorage(st))
	require.NoError(t, second.Restore(ctx))
	assert.Equal(t, first.Snapshot(), second.Snapshot())

	// Accumulation continues from the restored aggregate.
	second.RecordRequest(ctx, 400*time.Millisecond)
	m := second.Snapshot()
	assert.Equal(t, int64(3), m.TotalRequests)
	assert.Equal(t, 200*time.Millisecond, m.AverageLoadTime)
}

func TestRecorder_RestoreWithoutSavedAggregate(t *testing.T) {
	r := New(WithStorage(openStore(t)))
	require.NoError(t, r.Restore(context.Background()))
	assert.Equal(t, ir.Metrics{}, r.Snapshot())
}

func TestRecorder_RestoreRejectsNegative(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	require.NoError(t, st.SetMetaJSON(ctx, store.MetaMetrics, ir.Metrics{TotalRequests: -1}))

	r := New(WithStorage(st))
	assert.Error(t, r.Restore(ctx))
}
