package mutation

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shopsync/internal/engine"
	"github.com/roach88/shopsync/internal/fault"
	"github.com/roach88/shopsync/internal/ir"
	"github.com/roach88/shopsync/internal/store"
	"github.com/roach88/shopsync/internal/syncqueue"
	"github.com/roach88/shopsync/internal/testutil"
)

type fixture struct {
	engine *engine.Engine
	queue  *syncqueue.Queue
	remote *testutil.ScriptedRemote
	online *fakeConn
	mgr    *Manager
}

type fakeConn struct{ online bool }

func (f *fakeConn) IsOnline() bool { return f.online }

func setup(t *testing.T) *fixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "mutation.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	eng := engine.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	r := testutil.NewScriptedRemote()
	q := syncqueue.New(st, r, syncqueue.WithKeyGenerator(testutil.NewSequentialKeys("op")))
	conn := &fakeConn{online: true}
	return &fixture{engine: eng, queue: q, remote: r, online: conn, mgr: New(eng, r, q, conn)}
}

func product(t *testing.T, id string, price int) ir.Entity {
	t.Helper()
	e, err := ir.NewEntity(ir.EntityProduct, id, map[string]any{"price": price})
	require.NoError(t, err)
	return e
}

var (
	errUnreachable = fault.Connectivity("remote.update", errors.New("dial tcp: connection refused"))
	errInvalid     = fault.Rejection("remote.update", errors.New("422 price must be positive"))
)

func TestApply_Confirmed(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.mgr.Apply(ctx, ir.Create{Entity: product(t, "p-1", 10)})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, res.Status)

	got, ok := f.engine.Get(ir.EntityProduct, "p-1")
	require.True(t, ok)
	assert.True(t, got.Equal(product(t, "p-1", 10)))

	n, _ := f.queue.Len(ctx)
	assert.Zero(t, n)
}

func TestApply_ConnectivityFailureQueuesAndKeepsSpeculativeState(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.remote.Script("update", errUnreachable)

	res, err := f.mgr.Apply(ctx, ir.Update{Entity: product(t, "p-1", 12)})
	require.NoError(t, err, "queued is not a failure")
	assert.Equal(t, StatusQueued, res.Status)
	assert.NotZero(t, res.QueuedID)

	got, ok := f.engine.Get(ir.EntityProduct, "p-1")
	require.True(t, ok)
	assert.True(t, got.Equal(product(t, "p-1", 12)))

	ops, err := f.queue.PeekAll(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, ir.ActionUpdate, ops[0].Mutation.Action())
}

func TestApply_RejectionRestoresPreviousValue(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.engine.Upsert(ctx, engine.SourceLoad, product(t, "p-1", 10))
	require.NoError(t, err)
	before := f.engine.Snapshot().List(ir.EntityProduct)

	f.remote.Script("update", errInvalid)
	res, err := f.mgr.Apply(ctx, ir.Update{Entity: product(t, "p-1", -5)})

	require.Error(t, err)
	assert.True(t, fault.IsRejection(err))
	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, before, f.engine.Snapshot().List(ir.EntityProduct), "store equals its pre-apply state")

	n, _ := f.queue.Len(ctx)
	assert.Zero(t, n, "rejections are not queued")
}

func TestApply_RejectedCreateIsRemoved(t *testing.T) {
	f := setup(t)
	f.remote.Script("create", errInvalid)

	_, err := f.mgr.Apply(context.Background(), ir.Create{Entity: product(t, "p-new", 1)})
	require.Error(t, err)

	_, ok := f.engine.Get(ir.EntityProduct, "p-new")
	assert.False(t, ok)
}

func TestApply_RejectedDeleteIsRestored(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.engine.Upsert(ctx, engine.SourceLoad, product(t, "p-1", 10))
	require.NoError(t, err)

	f.remote.Script("delete", fault.Rejection("remote.delete", errors.New("409 order references product")))
	_, err = f.mgr.Apply(ctx, ir.Delete{Type: ir.EntityProduct, ID: "p-1"})
	require.Error(t, err)

	got, ok := f.engine.Get(ir.EntityProduct, "p-1")
	require.True(t, ok)
	assert.True(t, got.Equal(product(t, "p-1", 10)))
}

func TestApply_UnclassifiedErrorIsRejection(t *testing.T) {
	f := setup(t)
	f.remote.Script("create", errors.New("something odd"))

	_, err := f.mgr.Apply(context.Background(), ir.Create{Entity: product(t, "p-1", 1)})
	assert.True(t, fault.IsRejection(err))

	var ft *fault.Fault
	require.ErrorAs(t, err, &ft)
	assert.Equal(t, "p-1", ft.ID)
}

func TestApply_OfflineSkipsRemote(t *testing.T) {
	f := setup(t)
	f.online.online = false

	res, err := f.mgr.Apply(context.Background(), ir.Delete{Type: ir.EntityOrder, ID: "o-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, res.Status)
	assert.Empty(t, f.remote.Calls())
}

func TestApply_InvalidMutation(t *testing.T) {
	f := setup(t)

	_, err := f.mgr.Apply(context.Background(), ir.Update{Entity: ir.Entity{Type: ir.EntityProduct}})
	assert.Error(t, err)
	assert.Empty(t, f.remote.Calls())
}
