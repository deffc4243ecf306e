// Package mutation applies local writes optimistically.
//
// A mutation is applied to the authoritative store first, then sent to the
// server of record. A connectivity failure keeps the speculative state and
// queues the mutation for replay; a rejection restores the entity to what
// it was before the mutation.
package mutation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/shopsync/internal/engine"
	"github.com/roach88/shopsync/internal/fault"
	"github.com/roach88/shopsync/internal/ir"
	"github.com/roach88/shopsync/internal/remote"
)

// Status is the outcome reported to the caller.
type Status string

const (
	// StatusConfirmed: the server accepted the mutation.
	StatusConfirmed Status = "confirmed"
	// StatusQueued: the server was unreachable; the mutation will replay.
	StatusQueued Status = "queued"
	// StatusRejected: the server refused; the store was rolled back.
	StatusRejected Status = "rejected"
)

// Result describes one Apply.
type Result struct {
	Status Status `json:"status"`
	// QueuedID is the sync queue sequence when Status is StatusQueued.
	QueuedID int64 `json:"queued_id,omitempty"`
}

// Store is the subset of the authoritative store the manager writes.
type Store interface {
	Upsert(ctx context.Context, src engine.Source, e ir.Entity) (engine.Applied, error)
	Delete(ctx context.Context, src engine.Source, t ir.EntityType, id string) (engine.Applied, error)
}

// Enqueuer accepts mutations for later replay.
type Enqueuer interface {
	Enqueue(ctx context.Context, m ir.Mutation) (ir.QueuedOperation, error)
}

// Connectivity reports whether the remote is believed reachable.
type Connectivity interface {
	IsOnline() bool
}

// Manager is the Optimistic Mutation Manager.
type Manager struct {
	store  Store
	remote remote.Remote
	queue  Enqueuer
	conn   Connectivity
}

// New creates a Manager. conn may be nil, in which case every mutation is
// attempted against the remote.
func New(store Store, r remote.Remote, queue Enqueuer, conn Connectivity) *Manager {
	return &Manager{store: store, remote: r, queue: queue, conn: conn}
}

// Apply performs m optimistically.
//
// The returned error is nil for StatusConfirmed and StatusQueued. For
// StatusRejected it is the rejection fault. Any other error means the
// mutation could not be applied locally and nothing was sent.
func (m *Manager) Apply(ctx context.Context, mut ir.Mutation) (Result, error) {
	if err := ir.ValidateMutation(mut); err != nil {
		return Result{}, fmt.Errorf("apply mutation: %w", err)
	}

	prev, err := m.speculate(ctx, mut)
	if err != nil {
		return Result{}, fmt.Errorf("apply mutation locally: %w", err)
	}

	if m.conn != nil && !m.conn.IsOnline() {
		slog.Debug("offline: queueing without remote attempt", "action", mut.Action(), "entity_type", mut.EntityType(), "id", mut.EntityID())
		return m.enqueue(ctx, mut)
	}

	err = remote.Apply(ctx, m.remote, mut, "")
	switch {
	case err == nil:
		slog.Debug("mutation confirmed", "action", mut.Action(), "entity_type", mut.EntityType(), "id", mut.EntityID())
		return Result{Status: StatusConfirmed}, nil

	case fault.IsConnectivity(err):
		slog.Info("remote unreachable, queueing mutation", "action", mut.Action(), "entity_type", mut.EntityType(), "id", mut.EntityID(), "error", err)
		return m.enqueue(ctx, mut)

	default:
		m.rollback(ctx, mut, prev)
		rej := asRejection(err, mut)
		slog.Warn("mutation rejected, rolled back", "action", mut.Action(), "entity_type", mut.EntityType(), "id", mut.EntityID(), "error", err)
		return Result{Status: StatusRejected}, rej
	}
}

// speculate writes the mutation and returns what it overwrote.
func (m *Manager) speculate(ctx context.Context, mut ir.Mutation) (engine.Applied, error) {
	switch v := mut.(type) {
	case ir.Create:
		return m.store.Upsert(ctx, engine.SourceMutation, v.Entity)
	case ir.Update:
		return m.store.Upsert(ctx, engine.SourceMutation, v.Entity)
	case ir.Delete:
		return m.store.Delete(ctx, engine.SourceMutation, v.Type, v.ID)
	default:
		return engine.Applied{}, fmt.Errorf("unknown mutation type %T", mut)
	}
}

// rollback restores the pre-mutation value: the previous entity if one
// existed, otherwise nothing.
func (m *Manager) rollback(ctx context.Context, mut ir.Mutation, prev engine.Applied) {
	// The caller may already be gone; the restore must still land.
	ctx = context.WithoutCancel(ctx)

	var err error
	if prev.Existed {
		_, err = m.store.Upsert(ctx, engine.SourceMutation, prev.Previous)
	} else {
		_, err = m.store.Delete(ctx, engine.SourceMutation, mut.EntityType(), mut.EntityID())
	}
	if err != nil {
		slog.Error("rollback failed", "action", mut.Action(), "entity_type", mut.EntityType(), "id", mut.EntityID(), "error", err)
	}
}

func (m *Manager) enqueue(ctx context.Context, mut ir.Mutation) (Result, error) {
	op, err := m.queue.Enqueue(context.WithoutCancel(ctx), mut)
	if err != nil {
		// Speculative state stays; the caller learns the write is not durable.
		return Result{}, fmt.Errorf("queue mutation: %w", err)
	}
	return Result{Status: StatusQueued, QueuedID: op.ID}, nil
}

// asRejection guarantees the caller sees a rejection fault scoped to the
// entity, even when the remote returned an unclassified error.
func asRejection(err error, mut ir.Mutation) error {
	if fault.IsRejection(err) {
		return err
	}
	return fault.Rejection("mutation.apply", err).For(string(mut.EntityType()), mut.EntityID())
}
