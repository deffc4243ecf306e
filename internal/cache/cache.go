// Package cache is the durable, TTL-governed cache of remote reads.
//
// Backend failures never surface to callers: they are logged as
// CACHE_FAULT and degrade to a miss (reads) or a no-op (writes).
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/roach88/shopsync/internal/fault"
	"github.com/roach88/shopsync/internal/ir"
	"github.com/roach88/shopsync/internal/store"
)

// All is the key that addresses a whole collection. Invalidate(ns, All)
// drops every entry in the namespace.
const All = "all"

// Default TTLs per namespace.
const (
	DefaultCatalogTTL  = 5 * time.Minute
	DefaultCustomerTTL = 10 * time.Minute
)

// DefaultTTLs returns the built-in per-namespace TTL table.
func DefaultTTLs() map[ir.EntityType]time.Duration {
	return map[ir.EntityType]time.Duration{
		ir.EntityProduct:  DefaultCatalogTTL,
		ir.EntityCategory: DefaultCatalogTTL,
		ir.EntityOrder:    DefaultCatalogTTL,
		ir.EntityCustomer: DefaultCustomerTTL,
	}
}

// PerfLog is the telemetry table EvictExpired keeps under its cap.
type PerfLog interface {
	TrimPerfLog(ctx context.Context, limit int) (int64, error)
}

// Store is the Cache Store.
type Store struct {
	backend Backend
	perfLog PerfLog
	perfCap int
	ttls    map[ir.EntityType]time.Duration
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for writes and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithTTL overrides the default TTL of one namespace.
func WithTTL(ns ir.EntityType, ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttls[ns] = ttl
		}
	}
}

// WithPerfLog makes EvictExpired trim the perf log to limit rows.
func WithPerfLog(p PerfLog, limit int) Option {
	return func(s *Store) {
		s.perfLog = p
		s.perfCap = limit
	}
}

// New creates a Cache Store over backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		perfCap: store.PerfLogCap,
		ttls:    DefaultTTLs(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the default TTL for a namespace.
func (s *Store) TTL(ns ir.EntityType) time.Duration {
	if ttl, ok := s.ttls[ns]; ok {
		return ttl
	}
	return DefaultCatalogTTL
}

// Get returns the payload cached under (ns, key). An entry past its TTL is
// a miss and is deleted on the way out.
func (s *Store) Get(ctx context.Context, ns ir.EntityType, key string) ([]byte, bool) {
	key = ir.NormalizeKey(key)

	e, ok, err := s.backend.Get(ctx, string(ns), key)
	if err != nil {
		logFault(fault.Cache("cache.get", err).For(string(ns), key))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	if e.Expired(s.now()) {
		if err := s.backend.Delete(ctx, string(ns), key); err != nil {
			logFault(fault.Cache("cache.purge", err).For(string(ns), key))
		}
		slog.Debug("cache entry expired", "namespace", ns, "key", key, "written_at", e.WrittenAt, "ttl", e.TTL)
		return nil, false
	}
	return e.Payload, true
}

// Set stores payload under (ns, key). A ttl of zero uses the namespace default.
func (s *Store) Set(ctx context.Context, ns ir.EntityType, key string, payload []byte, ttl time.Duration) {
	key = ir.NormalizeKey(key)
	if ttl <= 0 {
		ttl = s.TTL(ns)
	}

	e := Entry{Namespace: string(ns), Key: key, Payload: payload, WrittenAt: s.now(), TTL: ttl}
	if err := s.backend.Put(ctx, e); err != nil {
		logFault(fault.Cache("cache.set", err).For(string(ns), key))
	}
}

// Invalidate removes (ns, key), or the whole namespace when key is All.
func (s *Store) Invalidate(ctx context.Context, ns ir.EntityType, key string) {
	key = ir.NormalizeKey(key)

	var err error
	if key == All {
		err = s.backend.DeleteNamespace(ctx, string(ns))
	} else {
		err = s.backend.Delete(ctx, string(ns), key)
	}
	if err != nil {
		logFault(fault.Cache("cache.invalidate", err).For(string(ns), key))
	}
}

// EvictExpired deletes every expired entry and trims the perf log to its
// cap. Returns the number of cache entries removed.
func (s *Store) EvictExpired(ctx context.Context) int {
	n, err := s.backend.DeleteExpired(ctx, s.now())
	if err != nil {
		logFault(fault.Cache("cache.evict", err))
	}

	if s.perfLog != nil {
		trimmed, err := s.perfLog.TrimPerfLog(ctx, s.perfCap)
		if err != nil {
			logFault(fault.Cache("perflog.trim", err))
		} else if trimmed > 0 {
			slog.Debug("perf log trimmed", "deleted", trimmed, "cap", s.perfCap)
		}
	}

	if n > 0 {
		slog.Info("evicted expired cache entries", "count", n)
	}
	return int(n)
}

// MarkStale flags (ns, key) for refresh on the next reconnect.
func (s *Store) MarkStale(ctx context.Context, ns ir.EntityType, key string) {
	key = ir.NormalizeKey(key)
	if err := s.backend.MarkStale(ctx, string(ns), key); err != nil {
		logFault(fault.Cache("cache.mark_stale", err).For(string(ns), key))
	}
}

// Stale returns entries flagged stale or expiring within window.
func (s *Store) Stale(ctx context.Context, window time.Duration) []Entry {
	entries, err := s.backend.Stale(ctx, s.now(), window)
	if err != nil {
		logFault(fault.Cache("cache.stale", err))
		return nil
	}
	return entries
}

// GetJSON decodes the cached payload into a T. A payload that no longer
// decodes is treated as corrupt: it is logged and reported as a miss.
func GetJSON[T any](ctx context.Context, s *Store, ns ir.EntityType, key string) (T, bool) {
	var v T
	raw, ok := s.Get(ctx, ns, key)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		logFault(fault.Cache("cache.decode", err).For(string(ns), key))
		return v, false
	}
	return v, true
}

// SetJSON encodes v and stores it.
func SetJSON(ctx context.Context, s *Store, ns ir.EntityType, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		logFault(fault.Cache("cache.encode", err).For(string(ns), key))
		return
	}
	s.Set(ctx, ns, key, raw, ttl)
}

func logFault(f *fault.Fault) {
	slog.Warn("cache degraded to miss", "kind", f.Kind, "op", f.Op, "entity_type", f.EntityType, "id", f.ID, "error", f.Err)
}
