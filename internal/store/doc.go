// Package store provides SQLite-backed durable storage for shopsync.
//
// Four namespaces live in one database file:
//   - cache_entries: cached remote reads with (written_at, ttl) expiry
//   - sync_queue: mutations awaiting replay, ordered by autoincrement id
//   - perf_log: request timings, capped at PerfLogCap rows
//   - meta: small values restored on start (last sync time, metrics)
//
// # Ordering
//
// Queue replay order is the autoincrement id, never enqueued_at. Wall-clock
// columns are informational and only ever compared against "now" for expiry.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - MaxOpenConns=1: a single writer serializes every table
package store
