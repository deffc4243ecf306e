// Package remote is the boundary to the server of record.
//
// Every failure crossing this boundary is classified as exactly one of
// fault.KindConnectivity (the server could not be reached) or
// fault.KindRejection (the server refused the operation).
package remote

import (
	"context"
	"fmt"

	"github.com/roach88/shopsync/internal/fault"
	"github.com/roach88/shopsync/internal/ir"
)

// Remote performs writes against the server of record.
// idempotencyKey lets the server discard replays it already applied;
// it may be empty for a first, unqueued attempt.
type Remote interface {
	Create(ctx context.Context, e ir.Entity, idempotencyKey string) error
	Update(ctx context.Context, e ir.Entity, idempotencyKey string) error
	Delete(ctx context.Context, t ir.EntityType, id string, idempotencyKey string) error
}

// Fetcher reads from the server of record. key is an entity id or
// cache.All for the whole collection.
type Fetcher interface {
	Fetch(ctx context.Context, t ir.EntityType, key string) ([]ir.Entity, error)
}

// Prober checks that the server of record is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// Client is the full remote surface.
type Client interface {
	Remote
	Fetcher
	Prober
}

// Apply dispatches a mutation to the matching Remote method. The switch
// is exhaustive over the mutation union.
func Apply(ctx context.Context, r Remote, m ir.Mutation, idempotencyKey string) error {
	switch v := m.(type) {
	case ir.Create:
		return r.Create(ctx, v.Entity, idempotencyKey)
	case ir.Update:
		return r.Update(ctx, v.Entity, idempotencyKey)
	case ir.Delete:
		return r.Delete(ctx, v.Type, v.ID, idempotencyKey)
	default:
		return fault.Rejection("remote.apply", fmt.Errorf("unhandled mutation type %T", m))
	}
}
