package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCacheEntry_PutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	want := CacheEntry{Namespace: "product", Key: "p-1", Payload: []byte(`{"name":"Mug"}`), WrittenAt: t0, TTL: 5 * time.Minute}
	require.NoError(t, s.PutCacheEntry(ctx, want))

	got, ok, err := s.GetCacheEntry(ctx, "product", "p-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	_, ok, err = s.GetCacheEntry(ctx, "product", "p-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheEntry_PutOverwritesAndClearsStale(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := CacheEntry{Namespace: "order", Key: "o-1", Payload: []byte(`1`), WrittenAt: t0, TTL: time.Minute}
	require.NoError(t, s.PutCacheEntry(ctx, e))
	require.NoError(t, s.MarkCacheStale(ctx, "order", "o-1"))

	e.Payload = []byte(`2`)
	e.WrittenAt = t0.Add(time.Second)
	require.NoError(t, s.PutCacheEntry(ctx, e))

	got, ok, err := s.GetCacheEntry(ctx, "order", "o-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`2`), got.Payload)
	assert.False(t, got.Stale)

	n, err := s.CountCacheEntries(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCacheEntry_Expired(t *testing.T) {
	e := CacheEntry{WrittenAt: t0, TTL: time.Minute}

	assert.False(t, e.Expired(t0.Add(time.Minute)), "fresh at exactly written_at+ttl")
	assert.True(t, e.Expired(t0.Add(time.Minute+time.Nanosecond)))
}

func TestDeleteExpired(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutCacheEntry(ctx, CacheEntry{Namespace: "product", Key: "old", Payload: []byte(`1`), WrittenAt: t0, TTL: time.Minute}))
	require.NoError(t, s.PutCacheEntry(ctx, CacheEntry{Namespace: "product", Key: "new", Payload: []byte(`1`), WrittenAt: t0, TTL: time.Hour}))

	n, err := s.DeleteExpired(ctx, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok, _ := s.GetCacheEntry(ctx, "product", "old")
	assert.False(t, ok)
	_, ok, _ = s.GetCacheEntry(ctx, "product", "new")
	assert.True(t, ok)
}

func TestDeleteNamespace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "all"} {
		require.NoError(t, s.PutCacheEntry(ctx, CacheEntry{Namespace: "category", Key: k, Payload: []byte(`1`), WrittenAt: t0, TTL: time.Hour}))
	}
	require.NoError(t, s.PutCacheEntry(ctx, CacheEntry{Namespace: "product", Key: "a", Payload: []byte(`1`), WrittenAt: t0, TTL: time.Hour}))

	n, err := s.DeleteNamespace(ctx, "category")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	remaining, err := s.CountCacheEntries(ctx, "product")
	require.NoError(t, err)
	assert.Equal(t, int64(1), remaining)
}

func TestStaleCacheEntries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutCacheEntry(ctx, CacheEntry{Namespace: "product", Key: "flagged", Payload: []byte(`1`), WrittenAt: t0, TTL: time.Hour}))
	require.NoError(t, s.PutCacheEntry(ctx, CacheEntry{Namespace: "product", Key: "expiring", Payload: []byte(`1`), WrittenAt: t0, TTL: 2 * time.Minute}))
	require.NoError(t, s.PutCacheEntry(ctx, CacheEntry{Namespace: "product", Key: "fresh", Payload: []byte(`1`), WrittenAt: t0, TTL: time.Hour}))
	require.NoError(t, s.MarkCacheStale(ctx, "product", "flagged"))

	got, err := s.StaleCacheEntries(ctx, t0, 5*time.Minute)
	require.NoError(t, err)

	var keys []string
	for _, e := range got {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"expiring", "flagged"}, keys)
}
