package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/shopsync/internal/ir"
)

// EnqueueOperation appends op to the sync queue and returns its sequence id.
// op.ID is ignored; the database assigns it.
//
// Idempotent on IdempotencyKey: re-enqueueing a key that is already queued
// returns the existing id without creating a second row.
func (s *Store) EnqueueOperation(ctx context.Context, op ir.QueuedOperation) (int64, error) {
	if op.Mutation == nil {
		return 0, fmt.Errorf("enqueue: mutation must not be nil")
	}
	if op.IdempotencyKey == "" {
		return 0, fmt.Errorf("enqueue: idempotency key must not be empty")
	}
	payload, err := ir.MarshalMutation(op.Mutation)
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_queue (action, entity_type, entity_id, payload, idempotency_key, enqueued_at, retries)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(idempotency_key) DO NOTHING
	`,
		string(op.Mutation.Action()),
		string(op.Mutation.EntityType()),
		op.Mutation.EntityID(),
		payload,
		op.IdempotencyKey,
		op.EnqueuedAt.UnixNano(),
		op.RetryCount,
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s %s: %w", op.Mutation.Action(), op.Mutation.EntityType(), err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM sync_queue WHERE idempotency_key = ?
	`, op.IdempotencyKey).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enqueue: read back id: %w", err)
	}
	return id, nil
}

// ListOperations returns every queued operation in replay order. A row
// whose payload no longer decodes is logged and left out of the result
// so the operations behind it can still be replayed; the row itself stays
// in the table.
func (s *Store) ListOperations(ctx context.Context) ([]ir.QueuedOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, payload, idempotency_key, enqueued_at, retries
		FROM sync_queue
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sync queue: %w", err)
	}
	defer rows.Close()

	var ops []ir.QueuedOperation
	for rows.Next() {
		var (
			op         ir.QueuedOperation
			action     string
			payload    []byte
			enqueuedAt int64
		)
		if err := rows.Scan(&op.ID, &action, &payload, &op.IdempotencyKey, &enqueuedAt, &op.RetryCount); err != nil {
			return nil, fmt.Errorf("scan queued operation: %w", err)
		}
		m, err := ir.UnmarshalMutation(ir.Action(action), payload)
		if err != nil {
			slog.Warn("skipping undecodable queued operation", "id", op.ID, "action", action, "key", op.IdempotencyKey, "error", err)
			continue
		}
		op.Mutation = m
		op.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// DeleteOperation removes a queued operation. Deleting a missing id is not an error.
func (s *Store) DeleteOperation(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete queued operation %d: %w", id, err)
	}
	return nil
}

// IncrementRetries bumps the retry count of a queued operation and returns
// the new value.
func (s *Store) IncrementRetries(ctx context.Context, id int64) (int, error) {
	var retries int
	err := s.db.QueryRowContext(ctx, `
		UPDATE sync_queue SET retries = retries + 1 WHERE id = ? RETURNING retries
	`, id).Scan(&retries)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("queued operation %d not found", id)
	}
	if err != nil {
		return 0, fmt.Errorf("increment retries %d: %w", id, err)
	}
	return retries, nil
}

// QueueLen returns the number of queued operations.
func (s *Store) QueueLen(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sync queue: %w", err)
	}
	return n, nil
}
