package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/shopsync/internal/ir"
)

// Engine owns the authoritative store: the in-memory set of server-owned
// entities the UI renders from.
//
// All writes happen in the single-writer Run loop goroutine. Writers call
// Submit (or Upsert/Delete/Load) from any goroutine and block until their
// event is applied. Readers call Snapshot, which is a lock-free atomic
// load and never waits for the writer.
//
// Thread-safety model:
//   - Submit, Upsert, Delete, Load: safe from any goroutine
//   - Snapshot, Get, List: safe from any goroutine, never block
//   - Run: must be called from exactly one goroutine
type Engine struct {
	clock *Clock
	queue *eventQueue
	snap  atomic.Pointer[Snapshot]
}

// Applied reports the outcome of one event.
type Applied struct {
	// Seq is the logical time of the event. Unchanged events keep the
	// previous snapshot's seq.
	Seq int64

	// Previous is the entity before the event, valid when Existed is true.
	// Load events leave it empty.
	Previous ir.Entity
	Existed  bool

	// Changed is false when the event left the store byte-identical.
	Changed bool
}

// New creates an Engine with an empty store.
func New() *Engine {
	e := &Engine{
		clock: NewClock(),
		queue: newEventQueue(),
	}
	e.snap.Store(emptySnapshot())
	return e
}

// Snapshot returns the current immutable view of the store.
func (e *Engine) Snapshot() *Snapshot {
	return e.snap.Load()
}

// Get is shorthand for Snapshot().Get.
func (e *Engine) Get(t ir.EntityType, id string) (ir.Entity, bool) {
	return e.Snapshot().Get(t, id)
}

// List is shorthand for Snapshot().List.
func (e *Engine) List(t ir.EntityType) []ir.Entity {
	return e.Snapshot().List(t)
}

// Upsert inserts or replaces one entity.
func (e *Engine) Upsert(ctx context.Context, src Source, entity ir.Entity) (Applied, error) {
	return e.Submit(ctx, Event{Type: EventTypeUpsert, Source: src, Entity: entity})
}

// Delete removes one entity. Deleting an absent id is a no-op.
func (e *Engine) Delete(ctx context.Context, src Source, t ir.EntityType, id string) (Applied, error) {
	return e.Submit(ctx, Event{Type: EventTypeDelete, Source: src, EntityType: t, ID: id})
}

// Load upserts a batch of fetched entities in one event.
func (e *Engine) Load(ctx context.Context, entities []ir.Entity) (Applied, error) {
	return e.Submit(ctx, Event{Type: EventTypeLoad, Source: SourceLoad, Entities: entities})
}

// Submit enqueues ev and waits for the Run loop to apply it.
//
// If ctx ends first Submit returns ctx.Err(); the event stays queued and
// may still be applied.
func (e *Engine) Submit(ctx context.Context, ev Event) (Applied, error) {
	if !ev.Source.Valid() {
		slog.Warn("refused write to authoritative store", "source", ev.Source, "type", ev.Type.String())
		return Applied{}, newRefusedError(ev)
	}

	ev.reply = make(chan result, 1)
	if !e.queue.Enqueue(ev) {
		return Applied{}, errStopped
	}

	select {
	case r := <-ev.reply:
		return r.applied, r.err
	case <-ctx.Done():
		return Applied{}, ctx.Err()
	}
}

// Run starts the single-writer event loop.
// Blocks until ctx is cancelled or Stop is called. Events still queued at
// shutdown are answered with a STOPPED error.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting")

	for {
		if event, ok := e.queue.TryDequeue(); ok {
			applied, err := e.processEvent(event)
			if err != nil {
				logEventError(event, err)
			}
			event.reply <- result{applied: applied, err: err}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.release(e.queue.Close())
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes with the queue, which makes this
			// case fire immediately.
			if e.queue.Len() == 0 && e.queue.Closed() {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the event queue, which causes Run to return.
func (e *Engine) Stop() {
	e.release(e.queue.Close())
}

func (e *Engine) release(pending []Event) {
	for _, ev := range pending {
		ev.reply <- result{err: errStopped}
	}
}

// processEvent applies one event and publishes the new snapshot.
// Called only from the Run goroutine.
func (e *Engine) processEvent(ev Event) (Applied, error) {
	if !ev.Source.Valid() {
		return Applied{}, newRefusedError(ev)
	}

	cur := e.snap.Load()

	switch ev.Type {
	case EventTypeUpsert:
		entity, err := prepare(ev.Entity)
		if err != nil {
			return Applied{}, newInvalidEventError(ev, err)
		}
		prev, existed := cur.tables[entity.Type][entity.ID]
		applied := Applied{Seq: cur.seq, Previous: prev, Existed: existed}
		if existed && prev.Equal(entity) {
			return applied, nil
		}

		next := cur.clone(e.clock.Next(), entity.Type)
		next.tables[entity.Type][entity.ID] = entity
		e.snap.Store(next)

		applied.Seq, applied.Changed = next.seq, true
		slog.Debug("entity upserted", "source", ev.Source, "type", entity.Type, "id", entity.ID, "seq", next.seq)
		return applied, nil

	case EventTypeDelete:
		if !ev.EntityType.Valid() {
			return Applied{}, newInvalidEventError(ev, fmt.Errorf("unknown entity type %q", ev.EntityType))
		}
		id := ir.NormalizeKey(ev.ID)
		prev, existed := cur.tables[ev.EntityType][id]
		applied := Applied{Seq: cur.seq, Previous: prev, Existed: existed}
		if !existed {
			return applied, nil
		}

		next := cur.clone(e.clock.Next(), ev.EntityType)
		delete(next.tables[ev.EntityType], id)
		e.snap.Store(next)

		applied.Seq, applied.Changed = next.seq, true
		slog.Debug("entity deleted", "source", ev.Source, "type", ev.EntityType, "id", id, "seq", next.seq)
		return applied, nil

	case EventTypeLoad:
		batch := make([]ir.Entity, 0, len(ev.Entities))
		var touched []ir.EntityType
		seen := map[ir.EntityType]bool{}
		for _, raw := range ev.Entities {
			entity, err := prepare(raw)
			if err != nil {
				return Applied{}, newInvalidEventError(ev, err)
			}
			if prev, ok := cur.tables[entity.Type][entity.ID]; ok && prev.Equal(entity) {
				continue
			}
			batch = append(batch, entity)
			if !seen[entity.Type] {
				seen[entity.Type] = true
				touched = append(touched, entity.Type)
			}
		}
		if len(batch) == 0 {
			return Applied{Seq: cur.seq}, nil
		}

		next := cur.clone(e.clock.Next(), touched...)
		for _, entity := range batch {
			next.tables[entity.Type][entity.ID] = entity
		}
		e.snap.Store(next)

		slog.Debug("entities loaded", "count", len(batch), "seq", next.seq)
		return Applied{Seq: next.seq, Changed: true}, nil

	default:
		return Applied{}, newInvalidEventError(ev, fmt.Errorf("unknown event type %d", ev.Type))
	}
}

func prepare(entity ir.Entity) (ir.Entity, error) {
	if err := entity.Validate(); err != nil {
		return ir.Entity{}, err
	}
	return entity.Canonical()
}

// logEventError logs a refused event with enough context to investigate.
func logEventError(ev Event, err error) {
	attrs := []any{
		"error", err,
		"event_type", ev.Type.String(),
		"source", ev.Source,
	}
	switch ev.Type {
	case EventTypeUpsert:
		attrs = append(attrs, "entity_type", ev.Entity.Type, "id", ev.Entity.ID)
	case EventTypeDelete:
		attrs = append(attrs, "entity_type", ev.EntityType, "id", ev.ID)
	case EventTypeLoad:
		attrs = append(attrs, "count", len(ev.Entities))
	}
	slog.Error("event processing failed", attrs...)
}
