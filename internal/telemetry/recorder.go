// Package telemetry accumulates request and cache-hit metrics.
//
// The metrics only feed UI timers (see ir.Metrics.PromptDelay); nothing in
// the engine's correctness depends on them, so persistence failures are
// logged and swallowed.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/shopsync/internal/ir"
	"github.com/roach88/shopsync/internal/store"
)

// Perf-log row kinds.
const (
	KindRequest  = "request"
	KindCacheHit = "cache_hit"
)

// Storage is the durable side of the recorder: the perf log and the meta
// table holding the aggregate.
type Storage interface {
	AppendPerf(ctx context.Context, rows ...store.PerfRow) error
	GetMetaJSON(ctx context.Context, key string, v any) (bool, error)
	SetMetaJSON(ctx context.Context, key string, v any) error
}

// Recorder is the Telemetry Recorder. RecordRequest and RecordCacheHit are
// its only mutators; all other access is through Snapshot.
type Recorder struct {
	mu       sync.Mutex
	requests int64
	hits     int64
	mean     time.Duration

	storage Storage
	now     func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithStorage makes the recorder append perf-log rows and enables
// Restore and Persist.
func WithStorage(s Storage) Option {
	return func(r *Recorder) { r.storage = s }
}

// WithClock sets the timestamp source for perf-log rows.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// New creates an empty Recorder.
func New(opts ...Option) *Recorder {
	r := &Recorder{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordRequest counts one request that took d and folds d into the
// cumulative mean load time.
func (r *Recorder) RecordRequest(ctx context.Context, d time.Duration) {
	if d < 0 {
		d = 0
	}

	r.mu.Lock()
	r.requests++
	r.mean += (d - r.mean) / time.Duration(r.requests)
	r.mu.Unlock()

	r.append(ctx, store.PerfRow{Kind: KindRequest, Duration: d})
}

// RecordCacheHit counts one read served from the cache.
func (r *Recorder) RecordCacheHit(ctx context.Context) {
	r.mu.Lock()
	r.hits++
	r.mu.Unlock()

	r.append(ctx, store.PerfRow{Kind: KindCacheHit})
}

// Snapshot returns the current aggregate.
func (r *Recorder) Snapshot() ir.Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Recorder) snapshotLocked() ir.Metrics {
	m := ir.Metrics{
		AverageLoadTime: r.mean,
		TotalRequests:   r.requests,
		CacheHits:       r.hits,
	}
	if r.requests > 0 {
		m.CacheHitRatio = float64(r.hits) / float64(r.requests)
	}
	return m
}

// Restore seeds the counters from the aggregate saved by Persist.
// It is a no-op without storage or when nothing was saved.
func (r *Recorder) Restore(ctx context.Context) error {
	if r.storage == nil {
		return nil
	}

	var m ir.Metrics
	ok, err := r.storage.GetMetaJSON(ctx, store.MetaMetrics, &m)
	if err != nil {
		return fmt.Errorf("restore metrics: %w", err)
	}
	if !ok {
		return nil
	}
	if m.TotalRequests < 0 || m.CacheHits < 0 || m.AverageLoadTime < 0 {
		return fmt.Errorf("restore metrics: negative counters in saved aggregate")
	}

	r.mu.Lock()
	r.requests = m.TotalRequests
	r.hits = m.CacheHits
	r.mean = m.AverageLoadTime
	r.mu.Unlock()

	slog.Debug("metrics restored", "total_requests", m.TotalRequests, "cache_hits", m.CacheHits)
	return nil
}

// Persist saves the current aggregate.
func (r *Recorder) Persist(ctx context.Context) error {
	if r.storage == nil {
		return nil
	}
	if err := r.storage.SetMetaJSON(ctx, store.MetaMetrics, r.Snapshot()); err != nil {
		return fmt.Errorf("persist metrics: %w", err)
	}
	return nil
}

func (r *Recorder) append(ctx context.Context, row store.PerfRow) {
	if r.storage == nil {
		return
	}
	row.RecordedAt = r.now()
	if err := r.storage.AppendPerf(ctx, row); err != nil {
		slog.Warn("perf log append failed", "kind", row.Kind, "error", err)
	}
}
