// Package realtime applies server-pushed change events to the
// authoritative store.
//
// One subscription per entity type is opened by Start and torn down by
// Close. INSERT and UPDATE upsert by id, DELETE removes by id. Events are
// applied in arrival order with no version comparison: the last applied
// write wins, including against concurrent optimistic mutations.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/shopsync/internal/engine"
	"github.com/roach88/shopsync/internal/ir"
)

// Store is the subset of the authoritative store the reconciler writes.
type Store interface {
	Upsert(ctx context.Context, src engine.Source, e ir.Entity) (engine.Applied, error)
	Delete(ctx context.Context, src engine.Source, t ir.EntityType, id string) (engine.Applied, error)
}

// CacheInvalidator drops cached reads that a change event made outdated.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, ns ir.EntityType, key string)
	MarkStale(ctx context.Context, ns ir.EntityType, key string)
}

// Stats counts reconciler activity since Start.
type Stats struct {
	Applied int64 `json:"applied"`
	Ignored int64 `json:"ignored"`
	Failed  int64 `json:"failed"`
}

// Reconciler is the Realtime Reconciler.
type Reconciler struct {
	feed  Feed
	store Store
	cache CacheInvalidator

	applied atomic.Int64
	ignored atomic.Int64
	failed  atomic.Int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithCacheInvalidator keeps the cache consistent with applied events:
// the entity's entry is invalidated and the collection entry marked stale.
func WithCacheInvalidator(c CacheInvalidator) Option {
	return func(r *Reconciler) { r.cache = c }
}

// New creates a Reconciler.
func New(feed Feed, store Store, opts ...Option) *Reconciler {
	r := &Reconciler{feed: feed, store: store}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ErrAlreadyStarted is returned by a second Start without Close.
var ErrAlreadyStarted = errors.New("realtime: reconciler already started")

// Start opens one subscription per entity type. With no types, every
// known entity type is subscribed. If any subscription fails, the ones
// already opened are torn down.
func (r *Reconciler) Start(ctx context.Context, types ...ir.EntityType) error {
	if len(types) == 0 {
		types = ir.EntityTypes
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyStarted
	}

	subCtx, cancel := context.WithCancel(ctx)
	for _, t := range types {
		ch, err := r.feed.Subscribe(subCtx, t)
		if err != nil {
			cancel()
			r.wg.Wait()
			return fmt.Errorf("start reconciler: %w", err)
		}
		r.wg.Add(1)
		go r.consume(subCtx, t, ch)
	}

	r.cancel = cancel
	r.running = true
	slog.Info("realtime reconciler started", "types", len(types))
	return nil
}

// Close cancels every subscription and waits for their goroutines.
// Safe to call more than once.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.cancel()
	r.wg.Wait()
	r.running = false
	slog.Info("realtime reconciler stopped")
}

// Stats returns counters since construction.
func (r *Reconciler) Stats() Stats {
	return Stats{
		Applied: r.applied.Load(),
		Ignored: r.ignored.Load(),
		Failed:  r.failed.Load(),
	}
}

func (r *Reconciler) consume(ctx context.Context, t ir.EntityType, ch <-chan ir.ChangeEvent) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := r.Apply(ctx, t, ev); err != nil {
				r.failed.Add(1)
				slog.Warn("change event not applied", "entity_type", t, "event_type", ev.EventType, "id", ev.TargetID(), "error", err)
			}
		}
	}
}

// Apply reconciles one event into the store. Exported so callers with
// their own delivery loop (and tests) can drive it directly.
func (r *Reconciler) Apply(ctx context.Context, t ir.EntityType, ev ir.ChangeEvent) error {
	if err := ev.Validate(); err != nil {
		r.ignored.Add(1)
		return err
	}

	id := ev.TargetID()
	switch ev.EventType {
	case ir.ChangeInsert, ir.ChangeUpdate:
		entity := *ev.New
		if entity.Type == "" {
			entity.Type = t
		}
		if entity.Type != t {
			r.ignored.Add(1)
			return fmt.Errorf("%s event for %s delivered on %s channel", ev.EventType, entity.Type, t)
		}
		if _, err := r.store.Upsert(ctx, engine.SourceRealtime, entity); err != nil {
			return err
		}

	case ir.ChangeDelete:
		applied, err := r.store.Delete(ctx, engine.SourceRealtime, t, id)
		if err != nil {
			return err
		}
		if !applied.Existed {
			slog.Debug("delete for absent entity", "entity_type", t, "id", id)
		}
	}

	r.applied.Add(1)
	if r.cache != nil {
		r.cache.Invalidate(ctx, t, id)
		r.cache.MarkStale(ctx, t, "all")
	}
	slog.Debug("change event applied", "entity_type", t, "event_type", ev.EventType, "id", id)
	return nil
}
