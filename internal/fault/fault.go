// Package fault defines the engine's error taxonomy.
//
// Faults below the mutation manager are absorbed and reclassified; only
// KindRejection and KindQueueExhausted are meant to reach consumers.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind categorizes a fault.
type Kind string

const (
	// KindCache: durable cache storage unavailable or corrupt. Always degrades to a miss.
	KindCache Kind = "CACHE_FAULT"

	// KindConnectivity: the remote could not be reached. Triggers queueing.
	KindConnectivity Kind = "CONNECTIVITY_FAULT"

	// KindRejection: the remote refused the operation (validation, conflict, authorization).
	KindRejection Kind = "REJECTION_FAULT"

	// KindQueueExhausted: a queued operation failed its last replay attempt and was dropped.
	KindQueueExhausted Kind = "QUEUE_EXHAUSTED"
)

// Fault is a classified engine error.
type Fault struct {
	// Kind identifies the fault category.
	Kind Kind

	// Op names the operation that failed ("cache.get", "remote.create", ...).
	Op string

	// EntityType and ID identify the affected record, when known.
	EntityType string
	ID         string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (f *Fault) Error() string {
	msg := string(f.Kind)
	if f.Op != "" {
		msg += ": " + f.Op
	}
	if f.EntityType != "" {
		if f.ID != "" {
			msg += fmt.Sprintf(" (%s %s)", f.EntityType, f.ID)
		} else {
			msg += fmt.Sprintf(" (%s)", f.EntityType)
		}
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (f *Fault) Unwrap() error {
	return f.Err
}

// New creates a fault of the given kind.
func New(kind Kind, op string, err error) *Fault {
	return &Fault{Kind: kind, Op: op, Err: err}
}

// Cache wraps a storage-layer error.
func Cache(op string, err error) *Fault {
	return New(KindCache, op, err)
}

// Connectivity wraps a transport-level error.
func Connectivity(op string, err error) *Fault {
	return New(KindConnectivity, op, err)
}

// Rejection wraps a remote refusal.
func Rejection(op string, err error) *Fault {
	return New(KindRejection, op, err)
}

// For returns a copy of f scoped to an entity.
func (f *Fault) For(entityType, id string) *Fault {
	cp := *f
	cp.EntityType = entityType
	cp.ID = id
	return &cp
}

// KindOf returns the kind of the first Fault in err's chain, or "" if none.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// IsCache returns true if err is a cache fault.
func IsCache(err error) bool {
	return KindOf(err) == KindCache
}

// IsConnectivity returns true if err is a connectivity fault, or an
// unclassified context deadline (a timeout is a connectivity symptom).
func IsConnectivity(err error) bool {
	if k := KindOf(err); k != "" {
		return k == KindConnectivity
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsRejection returns true if err is a rejection fault.
func IsRejection(err error) bool {
	return KindOf(err) == KindRejection
}

// IsExhausted returns true if err reports a dropped queued operation.
func IsExhausted(err error) bool {
	return KindOf(err) == KindQueueExhausted
}
