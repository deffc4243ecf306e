// Package core wires the synchronization components into one Runtime and
// exposes the consumer API: ReadThroughCache, Mutate, ConnectionState and
// MetricsSnapshot.
//
// There are no package-level singletons. Everything a Runtime touches is
// either passed in through Deps or built by New from them.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/shopsync/internal/cache"
	"github.com/roach88/shopsync/internal/engine"
	"github.com/roach88/shopsync/internal/fault"
	"github.com/roach88/shopsync/internal/ir"
	"github.com/roach88/shopsync/internal/mutation"
	"github.com/roach88/shopsync/internal/netmon"
	"github.com/roach88/shopsync/internal/realtime"
	"github.com/roach88/shopsync/internal/remote"
	"github.com/roach88/shopsync/internal/store"
	"github.com/roach88/shopsync/internal/syncqueue"
	"github.com/roach88/shopsync/internal/telemetry"
)

// DefaultStaleWindow is how close to expiry a cache entry must be to be
// refreshed during a reconnect.
const DefaultStaleWindow = time.Minute

// Deps are the externally owned collaborators of a Runtime.
type Deps struct {
	// Store holds the sync queue, perf log and meta tables.
	Store *store.Store

	// Cache is the Cache Store. It may share Store as its backend.
	Cache *cache.Store

	// Remote is the server of record.
	Remote remote.Client

	// Feed is the change feed. Nil disables the realtime reconciler.
	Feed realtime.Feed
}

// Options tune a Runtime.
type Options struct {
	// StartOnline is the connectivity report at startup.
	StartOnline bool

	// ProbeInterval enables the liveness probe loop when positive.
	ProbeInterval  time.Duration
	RecoverOnProbe bool

	// JanitorInterval enables periodic eviction when positive.
	JanitorInterval time.Duration

	// StaleWindow defaults to DefaultStaleWindow.
	StaleWindow time.Duration

	// Clock defaults to time.Now.
	Clock func() time.Time

	// KeyGenerator defaults to UUIDv7 idempotency keys.
	KeyGenerator syncqueue.KeyGenerator

	// OnExhausted is notified when a queued mutation is dropped after its
	// last retry.
	OnExhausted func(op ir.QueuedOperation, err *fault.Fault)
}

// Runtime is the dependency-injected context object shared by every
// consumer of the synchronization engine.
//
// Thread-safety: all methods are safe for concurrent use once New returns.
type Runtime struct {
	store  *store.Store
	cache  *cache.Store
	remote remote.Client
	feed   realtime.Feed

	engine     *engine.Engine
	queue      *syncqueue.Queue
	monitor    *netmon.Monitor
	reconciler *realtime.Reconciler
	mutations  *mutation.Manager
	telemetry  *telemetry.Recorder

	opts    Options
	now     func() time.Time
	closers []func() error

	started atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Runtime. The durable lastSyncTime and metrics aggregate are
// restored from the meta table; failure to restore is logged, never fatal.
func New(ctx context.Context, deps Deps, opts Options) (*Runtime, error) {
	if deps.Store == nil || deps.Cache == nil || deps.Remote == nil {
		return nil, errors.New("core: Store, Cache and Remote are required")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.StaleWindow <= 0 {
		opts.StaleWindow = DefaultStaleWindow
	}

	rt := &Runtime{
		store:  deps.Store,
		cache:  deps.Cache,
		remote: deps.Remote,
		feed:   deps.Feed,
		engine: engine.New(),
		opts:   opts,
		now:    opts.Clock,
	}

	rt.telemetry = telemetry.New(telemetry.WithStorage(deps.Store), telemetry.WithClock(opts.Clock))
	if err := rt.telemetry.Restore(ctx); err != nil {
		slog.Warn("metrics not restored", "error", err)
	}

	queueOpts := []syncqueue.Option{
		syncqueue.WithClock(opts.Clock),
		syncqueue.WithOnExhausted(rt.onExhausted),
	}
	if opts.KeyGenerator != nil {
		queueOpts = append(queueOpts, syncqueue.WithKeyGenerator(opts.KeyGenerator))
	}
	rt.queue = syncqueue.New(deps.Store, deps.Remote, queueOpts...)

	monOpts := []netmon.Option{
		netmon.WithRefresher(rt),
		netmon.WithRecoverOnProbe(opts.RecoverOnProbe),
		netmon.WithLastSyncPersist(rt.persistLastSync),
		netmon.WithLastSync(rt.restoreLastSync(ctx)),
		netmon.WithClock(opts.Clock),
	}
	if opts.ProbeInterval > 0 {
		monOpts = append(monOpts, netmon.WithProber(deps.Remote, opts.ProbeInterval))
	}
	rt.monitor = netmon.New(opts.StartOnline, rt.queue, monOpts...)
	rt.monitor.OnChange(func(from, to netmon.State) {
		slog.Info("connection state changed", "from", from.String(), "to", to.String())
	})

	rt.mutations = mutation.New(rt.engine, deps.Remote, rt.queue, rt.monitor)

	if deps.Feed != nil {
		rt.reconciler = realtime.New(deps.Feed, rt.engine, realtime.WithCacheInvalidator(deps.Cache))
	}
	return rt, nil
}

// Start launches the store actor, the reconciler, the probe loop and the
// janitor. When starting online, a reconnect runs in the background to
// replay mutations left over from a previous process.
func (rt *Runtime) Start(ctx context.Context) error {
	if !rt.started.CompareAndSwap(false, true) {
		return errors.New("core: runtime already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	rt.cancel = cancel

	rt.goRun("engine", func() error { return rt.engine.Run(runCtx) })

	if rt.reconciler != nil {
		if err := rt.reconciler.Start(runCtx); err != nil {
			cancel()
			rt.wg.Wait()
			rt.started.Store(false)
			return err
		}
	}

	rt.goRun("monitor", func() error { return rt.monitor.Run(runCtx) })

	if rt.opts.JanitorInterval > 0 {
		rt.goRun("janitor", func() error { return rt.janitor(runCtx) })
	}

	if rt.opts.StartOnline {
		rt.goRun("startup reconnect", func() error {
			rt.monitor.HandleOnline(runCtx)
			return nil
		})
	}

	slog.Info("runtime started", "online", rt.monitor.IsOnline())
	return nil
}

func (rt *Runtime) goRun(name string, fn func() error) {
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("runtime task failed", "task", name, "error", err)
		}
	}()
}

// Close stops background work, persists the metrics aggregate and
// releases owned resources. Safe to call on a runtime that never started.
func (rt *Runtime) Close() error {
	if rt.cancel != nil {
		rt.cancel()
	}
	if rt.reconciler != nil {
		rt.reconciler.Close()
	}
	rt.wg.Wait()
	rt.monitor.Wait()

	errs := []error{rt.telemetry.Persist(context.Background())}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// ReadThroughCache returns the entities cached under (t, key), fetching
// from the remote on a miss. key is an entity id or cache.All.
//
// Fetched entities are cached and bulk-loaded into the authoritative
// store. Cached entities only fill ids the store does not already hold,
// so a hit never overwrites a newer local or realtime write.
func (rt *Runtime) ReadThroughCache(ctx context.Context, t ir.EntityType, key string) ([]ir.Entity, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("read %q: unknown entity type", t)
	}
	start := rt.now()

	if entities, ok := cache.GetJSON[[]ir.Entity](ctx, rt.cache, t, key); ok {
		rt.hydrate(ctx, entities)
		rt.telemetry.RecordCacheHit(ctx)
		rt.telemetry.RecordRequest(ctx, rt.now().Sub(start))
		return entities, nil
	}

	if !rt.monitor.IsOnline() {
		return nil, fault.Connectivity("read", errors.New("offline and not cached")).For(string(t), key)
	}

	entities, err := rt.fetch(ctx, t, key)
	if err != nil {
		return nil, err
	}
	rt.telemetry.RecordRequest(ctx, rt.now().Sub(start))
	return entities, nil
}

// fetch reads (t, key) from the remote, caches it and loads it.
func (rt *Runtime) fetch(ctx context.Context, t ir.EntityType, key string) ([]ir.Entity, error) {
	entities, err := rt.remote.Fetch(ctx, t, key)
	if err != nil {
		return nil, err
	}
	cache.SetJSON(ctx, rt.cache, t, key, entities, 0)

	if len(entities) > 0 {
		if _, err := rt.engine.Load(ctx, entities); err != nil {
			return nil, fmt.Errorf("load %s %s: %w", t, key, err)
		}
	}
	return entities, nil
}

func (rt *Runtime) hydrate(ctx context.Context, entities []ir.Entity) {
	snap := rt.engine.Snapshot()
	var missing []ir.Entity
	for _, e := range entities {
		if _, ok := snap.Get(e.Type, e.ID); !ok {
			missing = append(missing, e)
		}
	}
	if len(missing) == 0 {
		return
	}
	if _, err := rt.engine.Load(ctx, missing); err != nil {
		slog.Warn("hydrate from cache failed", "count", len(missing), "error", err)
	}
}

// Mutate applies m optimistically. A confirmed mutation invalidates the
// entity's cache entry and marks its collection stale.
func (rt *Runtime) Mutate(ctx context.Context, m ir.Mutation) (mutation.Result, error) {
	res, err := rt.mutations.Apply(ctx, m)
	if err == nil && res.Status == mutation.StatusConfirmed {
		rt.cache.Invalidate(ctx, m.EntityType(), m.EntityID())
		rt.cache.MarkStale(ctx, m.EntityType(), cache.All)
	}
	return res, err
}

// RefreshStale re-fetches cache entries that are flagged stale or about to
// expire, then evicts what has already expired. It is the refresh step of
// the reconnect sequence.
func (rt *Runtime) RefreshStale(ctx context.Context) (int, error) {
	var (
		refreshed int
		errs      []error
	)
	for _, e := range rt.cache.Stale(ctx, rt.opts.StaleWindow) {
		if ctx.Err() != nil {
			break
		}
		t, err := ir.ParseEntityType(e.Namespace)
		if err != nil {
			slog.Warn("skipping stale entry in unknown namespace", "namespace", e.Namespace, "key", e.Key)
			continue
		}
		if _, err := rt.fetch(ctx, t, e.Key); err != nil {
			errs = append(errs, err)
			continue
		}
		refreshed++
	}

	rt.cache.EvictExpired(ctx)
	return refreshed, errors.Join(errs...)
}

// ConnectionState returns the monitor's current view.
func (rt *Runtime) ConnectionState() ir.ConnectionState {
	return rt.monitor.ConnectionState()
}

// MetricsSnapshot returns the telemetry aggregate.
func (rt *Runtime) MetricsSnapshot() ir.Metrics {
	return rt.telemetry.Snapshot()
}

// Entities lists the authoritative store's entities of type t.
func (rt *Runtime) Entities(t ir.EntityType) []ir.Entity {
	return rt.engine.List(t)
}

// Entity returns one entity from the authoritative store.
func (rt *Runtime) Entity(t ir.EntityType, id string) (ir.Entity, bool) {
	return rt.engine.Get(t, id)
}

// Monitor exposes the network monitor so a platform layer can forward
// online/offline signals.
func (rt *Runtime) Monitor() *netmon.Monitor {
	return rt.monitor
}

// Queue exposes the sync queue for inspection.
func (rt *Runtime) Queue() *syncqueue.Queue {
	return rt.queue
}

// Reconciler returns the realtime reconciler, or nil without a feed.
func (rt *Runtime) Reconciler() *realtime.Reconciler {
	return rt.reconciler
}

func (rt *Runtime) janitor(ctx context.Context) error {
	ticker := time.NewTicker(rt.opts.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rt.cache.EvictExpired(ctx)
			if err := rt.telemetry.Persist(ctx); err != nil {
				slog.Warn("metrics not persisted", "error", err)
			}
		}
	}
}

// onExhausted marks the dropped mutation's cache entries stale so the next
// reconnect re-fetches the server's version, then notifies the consumer.
func (rt *Runtime) onExhausted(op ir.QueuedOperation, f *fault.Fault) {
	ctx := context.Background()
	t := op.Mutation.EntityType()
	rt.cache.MarkStale(ctx, t, op.Mutation.EntityID())
	rt.cache.MarkStale(ctx, t, cache.All)

	if rt.opts.OnExhausted != nil {
		rt.opts.OnExhausted(op, f)
	}
}

func (rt *Runtime) persistLastSync(ctx context.Context, t time.Time) error {
	return rt.store.SetMetaJSON(ctx, store.MetaLastSyncTime, t)
}

func (rt *Runtime) restoreLastSync(ctx context.Context) time.Time {
	t, err := LastSyncTime(ctx, rt.store)
	if err != nil {
		slog.Warn("last sync time not restored", "error", err)
		return time.Time{}
	}
	return t
}

// LastSyncTime reads the persisted lastSyncTime without building a
// Runtime.
func LastSyncTime(ctx context.Context, st *store.Store) (time.Time, error) {
	var t time.Time
	_, err := st.GetMetaJSON(ctx, store.MetaLastSyncTime, &t)
	return t, err
}
