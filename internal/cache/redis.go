package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKeyPrefix namespaces every key the Redis backend writes.
const RedisKeyPrefix = "shopsync:cache:"

// RedisOptions configures a Redis backend.
type RedisOptions struct {
	URL         string
	MaxRetries  int
	PoolSize    int
	PoolTimeout time.Duration
}

// RedisBackend keeps entries as JSON strings under
// shopsync:cache:<namespace>:<key>. Redis expires keys natively at TTL;
// the Store still applies its own lazy expiry check against its clock.
type RedisBackend struct {
	client *redis.Client
}

type redisEntry struct {
	Payload   []byte `json:"payload"`
	WrittenAt int64  `json:"written_at"`
	TTL       int64  `json:"ttl"`
	Stale     bool   `json:"stale,omitempty"`
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, opts RedisOptions) (*RedisBackend, error) {
	if opts.URL == "" {
		return nil, errors.New("redis URL must be provided")
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = 10
	}
	if opts.PoolTimeout == 0 {
		opts.PoolTimeout = 30 * time.Second
	}

	opt, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	opt.MaxRetries = opts.MaxRetries
	opt.PoolSize = opts.PoolSize
	opt.PoolTimeout = opts.PoolTimeout
	opt.ReadTimeout = 5 * time.Second
	opt.WriteTimeout = 5 * time.Second

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBackend{client: client}, nil
}

// NewRedisBackendFromClient wraps an existing client.
func NewRedisBackendFromClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Client exposes the underlying client so other components (the realtime
// redisstream provider) can share the connection pool.
func (b *RedisBackend) Client() *redis.Client {
	return b.client
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

func redisKey(namespace, key string) string {
	return RedisKeyPrefix + namespace + ":" + key
}

// splitRedisKey reverses redisKey. Namespaces never contain ':'.
func splitRedisKey(k string) (namespace, key string, ok bool) {
	rest, found := strings.CutPrefix(k, RedisKeyPrefix)
	if !found {
		return "", "", false
	}
	return strings.Cut(rest, ":")
}

func (b *RedisBackend) Get(ctx context.Context, namespace, key string) (Entry, bool, error) {
	raw, err := b.client.Get(ctx, redisKey(namespace, key)).Bytes()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis get error: %w", err)
	}
	e, err := decodeRedisEntry(namespace, key, raw)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (b *RedisBackend) Put(ctx context.Context, e Entry) error {
	raw, err := json.Marshal(redisEntry{Payload: e.Payload, WrittenAt: e.WrittenAt.UnixNano(), TTL: int64(e.TTL)})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := b.client.Set(ctx, redisKey(e.Namespace, e.Key), raw, e.TTL).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, namespace, key string) error {
	if err := b.client.Del(ctx, redisKey(namespace, key)).Err(); err != nil {
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

func (b *RedisBackend) DeleteNamespace(ctx context.Context, namespace string) error {
	keys, err := b.scan(ctx, RedisKeyPrefix+namespace+":*")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := b.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

func (b *RedisBackend) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	entries, err := b.all(ctx)
	if err != nil {
		return 0, err
	}
	var keys []string
	for _, e := range entries {
		if e.Expired(now) {
			keys = append(keys, redisKey(e.Namespace, e.Key))
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := b.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis delete error: %w", err)
	}
	return n, nil
}

func (b *RedisBackend) MarkStale(ctx context.Context, namespace, key string) error {
	e, ok, err := b.Get(ctx, namespace, key)
	if err != nil || !ok {
		return err
	}
	raw, err := json.Marshal(redisEntry{Payload: e.Payload, WrittenAt: e.WrittenAt.UnixNano(), TTL: int64(e.TTL), Stale: true})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := b.client.SetArgs(ctx, redisKey(namespace, key), raw, redis.SetArgs{KeepTTL: true, Mode: "XX"}).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

func (b *RedisBackend) Stale(ctx context.Context, now time.Time, window time.Duration) ([]Entry, error) {
	entries, err := b.all(ctx)
	if err != nil {
		return nil, err
	}
	horizon := now.Add(window)
	var out []Entry
	for _, e := range entries {
		if e.Stale || e.ExpiresAt().Before(horizon) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (b *RedisBackend) scan(ctx context.Context, match string) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan error: %w", err)
	}
	return keys, nil
}

func (b *RedisBackend) all(ctx context.Context) ([]Entry, error) {
	keys, err := b.scan(ctx, RedisKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		ns, key, ok := splitRedisKey(k)
		if !ok {
			continue
		}
		e, found, err := b.Get(ctx, ns, key)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, e)
		}
	}
	return out, nil
}

func decodeRedisEntry(namespace, key string, raw []byte) (Entry, error) {
	var re redisEntry
	if err := json.Unmarshal(raw, &re); err != nil {
		return Entry{}, fmt.Errorf("decode cache entry %s/%s: %w", namespace, key, err)
	}
	return Entry{
		Namespace: namespace,
		Key:       key,
		Payload:   re.Payload,
		WrittenAt: time.Unix(0, re.WrittenAt).UTC(),
		TTL:       time.Duration(re.TTL),
		Stale:     re.Stale,
	}, nil
}
