// Package syncqueue is the durable FIFO of mutations that could not reach
// the server of record.
//
// Operations replay strictly in enqueue order. Each replay failure costs
// one retry; an operation that fails MaxRetries times is dropped and
// reported through the OnExhausted callback. Operations are never
// reordered or coalesced.
package syncqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/shopsync/internal/fault"
	"github.com/roach88/shopsync/internal/ir"
	"github.com/roach88/shopsync/internal/remote"
)

// MaxRetries is the number of failed replays after which an operation is dropped.
const MaxRetries = 3

// Storage is the durable home of the queue.
type Storage interface {
	EnqueueOperation(ctx context.Context, op ir.QueuedOperation) (int64, error)
	ListOperations(ctx context.Context) ([]ir.QueuedOperation, error)
	DeleteOperation(ctx context.Context, id int64) error
	IncrementRetries(ctx context.Context, id int64) (int, error)
	QueueLen(ctx context.Context) (int, error)
}

// ExhaustedFunc is notified when an operation is dropped.
type ExhaustedFunc func(op ir.QueuedOperation, err *fault.Fault)

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Dropped   int  `json:"dropped"`
	Remaining int  `json:"remaining"`
	Skipped   bool `json:"skipped,omitempty"`
}

// Queue is the Sync Queue.
type Queue struct {
	storage     Storage
	remote      remote.Remote
	keys        KeyGenerator
	now         func() time.Time
	onExhausted ExhaustedFunc

	mu sync.Mutex
	// active is closed when the running drain ends; nil while idle.
	active chan struct{}
}

// Option configures a Queue.
type Option func(*Queue)

// WithKeyGenerator sets the idempotency key source.
func WithKeyGenerator(g KeyGenerator) Option {
	return func(q *Queue) { q.keys = g }
}

// WithClock sets the time source for EnqueuedAt.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithOnExhausted registers the drop notification.
func WithOnExhausted(fn ExhaustedFunc) Option {
	return func(q *Queue) { q.onExhausted = fn }
}

// New creates a Queue that replays through r.
func New(storage Storage, r remote.Remote, opts ...Option) *Queue {
	q := &Queue{
		storage: storage,
		remote:  r,
		keys:    UUIDv7Generator{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends a mutation with a fresh idempotency key and zero retries.
func (q *Queue) Enqueue(ctx context.Context, m ir.Mutation) (ir.QueuedOperation, error) {
	if err := ir.ValidateMutation(m); err != nil {
		return ir.QueuedOperation{}, fmt.Errorf("enqueue: %w", err)
	}

	op := ir.QueuedOperation{
		Mutation:       m,
		EnqueuedAt:     q.now().UTC(),
		IdempotencyKey: q.keys.Generate(),
	}
	id, err := q.storage.EnqueueOperation(ctx, op)
	if err != nil {
		return ir.QueuedOperation{}, err
	}
	op.ID = id

	slog.Info("mutation queued",
		"id", op.ID,
		"action", m.Action(),
		"entity_type", m.EntityType(),
		"entity_id", m.EntityID(),
		"idempotency_key", op.IdempotencyKey,
	)
	return op, nil
}

// PeekAll returns the queue contents in replay order without changing them.
func (q *Queue) PeekAll(ctx context.Context) ([]ir.QueuedOperation, error) {
	return q.storage.ListOperations(ctx)
}

// Len returns the number of queued operations.
func (q *Queue) Len(ctx context.Context) (int, error) {
	return q.storage.QueueLen(ctx)
}

// Draining reports whether a drain is in progress.
func (q *Queue) Draining() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active != nil
}

// Idle returns a channel that is closed once no drain is running.
func (q *Queue) Idle() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active != nil {
		return q.active
	}
	done := make(chan struct{})
	close(done)
	return done
}

// Drain replays every queued operation once, oldest first.
//
// At most one drain runs at a time; a concurrent call returns immediately
// with Skipped set. Callers that need the queue drained wait on Idle and
// call Drain again. ctx is checked between operations only: a remote call
// that has started runs to completion.
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	q.mu.Lock()
	if q.active != nil {
		q.mu.Unlock()
		slog.Debug("drain already in progress")
		return DrainResult{Skipped: true}, nil
	}
	done := make(chan struct{})
	q.active = done
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.active = nil
		q.mu.Unlock()
		close(done)
	}()

	ops, err := q.storage.ListOperations(ctx)
	if err != nil {
		return DrainResult{}, fmt.Errorf("drain: %w", err)
	}
	if len(ops) == 0 {
		return DrainResult{}, nil
	}

	slog.Info("drain starting", "pending", len(ops))

	var res DrainResult
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			res.Remaining = len(ops) - i
			slog.Info("drain interrupted", "remaining", res.Remaining, "error", err)
			return res, err
		}
		q.replay(ctx, op, &res)
	}

	slog.Info("drain finished",
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"dropped", res.Dropped,
	)
	return res, nil
}

// replay sends one operation and updates the queue. Once started, the
// remote call and its bookkeeping are not cancelled. Storage errors are
// logged; the drain moves on to the next operation.
func (q *Queue) replay(parent context.Context, op ir.QueuedOperation, res *DrainResult) {
	ctx := context.WithoutCancel(parent)
	err := remote.Apply(ctx, q.remote, op.Mutation, op.IdempotencyKey)
	if err == nil {
		if derr := q.storage.DeleteOperation(ctx, op.ID); derr != nil {
			slog.Error("failed to remove replayed operation", "id", op.ID, "error", derr)
		}
		res.Succeeded++
		slog.Debug("operation replayed", "id", op.ID, "action", op.Mutation.Action(), "entity_id", op.Mutation.EntityID())
		return
	}

	retries, rerr := q.storage.IncrementRetries(ctx, op.ID)
	if rerr != nil {
		slog.Error("failed to record retry", "id", op.ID, "error", rerr)
		res.Failed++
		return
	}

	if retries < MaxRetries {
		res.Failed++
		slog.Warn("operation replay failed",
			"id", op.ID,
			"retries", retries,
			"kind", fault.KindOf(err),
			"error", err,
		)
		return
	}

	if derr := q.storage.DeleteOperation(ctx, op.ID); derr != nil {
		slog.Error("failed to drop exhausted operation", "id", op.ID, "error", derr)
	}
	res.Dropped++
	op.RetryCount = retries

	f := fault.New(fault.KindQueueExhausted, "syncqueue.drain",
		fmt.Errorf("dropped after %d attempts: %w", retries, err)).
		For(string(op.Mutation.EntityType()), op.Mutation.EntityID())
	slog.Error("operation dropped",
		"id", op.ID,
		"action", op.Mutation.Action(),
		"entity_type", op.Mutation.EntityType(),
		"entity_id", op.Mutation.EntityID(),
		"idempotency_key", op.IdempotencyKey,
		"error", err,
	)
	if q.onExhausted != nil {
		q.onExhausted(op, f)
	}
}
