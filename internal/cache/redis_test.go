package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shopsync/internal/ir"
	"github.com/roach88/shopsync/internal/testutil"
)

// setupRedis connects to REDIS_URL or skips the test.
func setupRedis(t *testing.T) *RedisBackend {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	b, err := NewRedisBackend(context.Background(), RedisOptions{URL: url})
	require.NoError(t, err)
	t.Cleanup(func() {
		for _, ns := range ir.EntityTypes {
			_ = b.DeleteNamespace(context.Background(), string(ns))
		}
		b.Close()
	})
	return b
}

func TestSplitRedisKey(t *testing.T) {
	ns, key, ok := splitRedisKey(redisKey("product", "p:1"))
	require.True(t, ok)
	assert.Equal(t, "product", ns)
	assert.Equal(t, "p:1", key, "keys may contain the separator")

	_, _, ok = splitRedisKey("other:product:p")
	assert.False(t, ok)
}

func TestRedisBackend_Store(t *testing.T) {
	b := setupRedis(t)
	clock := testutil.NewManualClock(time.Now())
	c := New(b, WithClock(clock.Now))
	ctx := context.Background()

	c.Set(ctx, ir.EntityProduct, "p-1", []byte(`{"name":"Mug"}`), time.Minute)
	c.Set(ctx, ir.EntityProduct, "p-2", []byte(`{"name":"Cup"}`), time.Minute)

	got, ok := c.Get(ctx, ir.EntityProduct, "p-1")
	require.True(t, ok)
	assert.Equal(t, `{"name":"Mug"}`, string(got))

	c.MarkStale(ctx, ir.EntityProduct, "p-2")
	stale := c.Stale(ctx, time.Second)
	require.Len(t, stale, 1)
	assert.Equal(t, "p-2", stale[0].Key)

	clock.Advance(2 * time.Minute)
	_, ok = c.Get(ctx, ir.EntityProduct, "p-1")
	assert.False(t, ok, "lazy expiry uses the store clock")

	c.Invalidate(ctx, ir.EntityProduct, All)
	_, ok, err := b.Get(ctx, "product", "p-2")
	require.NoError(t, err)
	assert.False(t, ok)
}
