package cache

import (
	"context"
	"time"

	"github.com/roach88/shopsync/internal/store"
)

// Entry is one cached payload with its expiry bookkeeping.
type Entry = store.CacheEntry

// Backend is the durable home of cache entries. Implementations return
// raw errors; the Store classifies and absorbs them.
type Backend interface {
	Get(ctx context.Context, namespace, key string) (Entry, bool, error)
	Put(ctx context.Context, e Entry) error
	Delete(ctx context.Context, namespace, key string) error
	DeleteNamespace(ctx context.Context, namespace string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	MarkStale(ctx context.Context, namespace, key string) error
	Stale(ctx context.Context, now time.Time, window time.Duration) ([]Entry, error)
}

// SQLiteBackend keeps entries in the cache_entries table.
type SQLiteBackend struct {
	s *store.Store
}

// NewSQLiteBackend wraps an open store.
func NewSQLiteBackend(s *store.Store) *SQLiteBackend {
	return &SQLiteBackend{s: s}
}

func (b *SQLiteBackend) Get(ctx context.Context, namespace, key string) (Entry, bool, error) {
	return b.s.GetCacheEntry(ctx, namespace, key)
}

func (b *SQLiteBackend) Put(ctx context.Context, e Entry) error {
	return b.s.PutCacheEntry(ctx, e)
}

func (b *SQLiteBackend) Delete(ctx context.Context, namespace, key string) error {
	return b.s.DeleteCacheEntry(ctx, namespace, key)
}

func (b *SQLiteBackend) DeleteNamespace(ctx context.Context, namespace string) error {
	_, err := b.s.DeleteNamespace(ctx, namespace)
	return err
}

func (b *SQLiteBackend) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return b.s.DeleteExpired(ctx, now)
}

func (b *SQLiteBackend) MarkStale(ctx context.Context, namespace, key string) error {
	return b.s.MarkCacheStale(ctx, namespace, key)
}

func (b *SQLiteBackend) Stale(ctx context.Context, now time.Time, window time.Duration) ([]Entry, error) {
	return b.s.StaleCacheEntries(ctx, now, window)
}
