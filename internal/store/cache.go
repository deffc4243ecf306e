package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CacheEntry is one row of cache_entries.
type CacheEntry struct {
	Namespace string
	Key       string
	Payload   []byte
	WrittenAt time.Time
	TTL       time.Duration
	Stale     bool
}

// ExpiresAt returns the instant after which the entry is a miss.
func (e CacheEntry) ExpiresAt() time.Time {
	return e.WrittenAt.Add(e.TTL)
}

// Expired reports whether the entry is past its TTL at now.
// An entry is still fresh at exactly WrittenAt+TTL.
func (e CacheEntry) Expired(now time.Time) bool {
	return e.ExpiresAt().Before(now)
}

// GetCacheEntry returns the row for (namespace, key).
// Returns (CacheEntry{}, false, nil) if no row exists.
func (s *Store) GetCacheEntry(ctx context.Context, namespace, key string) (CacheEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT namespace, key, payload, written_at, ttl, stale
		FROM cache_entries
		WHERE namespace = ? AND key = ?
	`, namespace, key)

	entry, err := scanCacheEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, fmt.Errorf("get cache entry %s/%s: %w", namespace, key, err)
	}
	return entry, true, nil
}

// PutCacheEntry inserts or replaces the row for (namespace, key).
// A write always clears the stale flag.
func (s *Store) PutCacheEntry(ctx context.Context, e CacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (namespace, key, payload, written_at, ttl, stale)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(namespace, key) DO UPDATE SET
			payload = excluded.payload,
			written_at = excluded.written_at,
			ttl = excluded.ttl,
			stale = 0
	`, e.Namespace, e.Key, e.Payload, e.WrittenAt.UnixNano(), int64(e.TTL))
	if err != nil {
		return fmt.Errorf("put cache entry %s/%s: %w", e.Namespace, e.Key, err)
	}
	return nil
}

// DeleteCacheEntry removes one row. Deleting a missing row is not an error.
func (s *Store) DeleteCacheEntry(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM cache_entries WHERE namespace = ? AND key = ?
	`, namespace, key)
	if err != nil {
		return fmt.Errorf("delete cache entry %s/%s: %w", namespace, key, err)
	}
	return nil
}

// DeleteNamespace removes every row in a namespace and returns the count.
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE namespace = ?`, namespace)
	if err != nil {
		return 0, fmt.Errorf("delete namespace %s: %w", namespace, err)
	}
	return res.RowsAffected()
}

// DeleteExpired removes every row whose TTL elapsed before now.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM cache_entries WHERE written_at + ttl < ?
	`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete expired cache entries: %w", err)
	}
	return res.RowsAffected()
}

// MarkCacheStale flags a row for refresh on the next reconnect.
func (s *Store) MarkCacheStale(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cache_entries SET stale = 1 WHERE namespace = ? AND key = ?
	`, namespace, key)
	if err != nil {
		return fmt.Errorf("mark stale %s/%s: %w", namespace, key, err)
	}
	return nil
}

// StaleCacheEntries returns rows flagged stale or expiring before
// now+window, ordered by namespace and key.
func (s *Store) StaleCacheEntries(ctx context.Context, now time.Time, window time.Duration) ([]CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT namespace, key, payload, written_at, ttl, stale
		FROM cache_entries
		WHERE stale = 1 OR written_at + ttl < ?
		ORDER BY namespace ASC, key COLLATE BINARY ASC
	`, now.Add(window).UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query stale cache entries: %w", err)
	}
	defer rows.Close()

	var out []CacheEntry
	for rows.Next() {
		e, err := scanCacheEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountCacheEntries returns the number of rows, optionally limited to one namespace.
func (s *Store) CountCacheEntries(ctx context.Context, namespace string) (int64, error) {
	var n int64
	var err error
	if namespace == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries WHERE namespace = ?`, namespace).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCacheEntry(sc scanner) (CacheEntry, error) {
	var (
		e         CacheEntry
		writtenAt int64
		ttl       int64
		stale     int
	)
	if err := sc.Scan(&e.Namespace, &e.Key, &e.Payload, &writtenAt, &ttl, &stale); err != nil {
		return CacheEntry{}, err
	}
	e.WrittenAt = time.Unix(0, writtenAt).UTC()
	e.TTL = time.Duration(ttl)
	e.Stale = stale != 0
	return e, nil
}
