package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/roach88/shopsync/internal/cache"
	"github.com/roach88/shopsync/internal/config"
	"github.com/roach88/shopsync/internal/ir"
	"github.com/roach88/shopsync/internal/realtime"
	"github.com/roach88/shopsync/internal/remote"
	"github.com/roach88/shopsync/internal/store"
)

// Open builds a Runtime from configuration: the SQLite store, the
// configured cache backend, the HTTP remote and the change feed. The
// returned Runtime owns all of them and releases them on Close.
func Open(ctx context.Context, cfg config.Config) (rt *Runtime, err error) {
	var closers []func() error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}
	}()

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	closers = append(closers, st.Close)

	c, closeCache, err := OpenCache(ctx, cfg, st)
	if err != nil {
		return nil, err
	}
	closers = append(closers, closeCache)

	client, err := OpenRemote(cfg)
	if err != nil {
		return nil, err
	}

	var feed realtime.Feed
	if cfg.Realtime.Provider != "none" {
		logger := watermill.NewStdLogger(cfg.LogLevel == "debug", false)
		ps, err := realtime.NewProvider(ctx, realtime.ProviderConfig{
			Provider:      realtime.Provider(cfg.Realtime.Provider),
			TopicPrefix:   cfg.Realtime.TopicPrefix,
			BufferSize:    int(cfg.Realtime.BufferSize),
			RedisURL:      cfg.Realtime.RedisURL,
			ConsumerGroup: cfg.Realtime.ConsumerGroup,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open change feed: %w", err)
		}
		closers = append(closers, ps.Close)
		feed = ps
	}

	rt, err = New(ctx, Deps{Store: st, Cache: c, Remote: client, Feed: feed}, Options{
		StartOnline:     cfg.Monitor.StartOnline,
		ProbeInterval:   cfg.Monitor.ProbeInterval,
		RecoverOnProbe:  cfg.Monitor.RecoverOnProbe,
		JanitorInterval: cfg.JanitorInterval,
	})
	if err != nil {
		return nil, err
	}
	rt.closers = closers
	return rt, nil
}

// OpenCache builds the configured Cache Store over st. The returned
// closer releases the backend's own resources, if any.
func OpenCache(ctx context.Context, cfg config.Config, st *store.Store) (*cache.Store, func() error, error) {
	var (
		backend cache.Backend
		closer  = func() error { return nil }
	)

	switch cfg.Cache.Backend {
	case "sqlite", "":
		backend = cache.NewSQLiteBackend(st)
	case "redis":
		rb, err := cache.NewRedisBackend(ctx, cache.RedisOptions{URL: cfg.Cache.RedisURL})
		if err != nil {
			return nil, nil, fmt.Errorf("open redis cache: %w", err)
		}
		backend = rb
		closer = rb.Close
	default:
		return nil, nil, fmt.Errorf("unsupported cache backend: %s", cfg.Cache.Backend)
	}

	opts := []cache.Option{cache.WithPerfLog(st, store.PerfLogCap)}
	for name, ttl := range cfg.Cache.TTLs {
		t, err := ir.ParseEntityType(name)
		if err != nil {
			return nil, nil, errors.Join(fmt.Errorf("cache ttl: %w", err), closer())
		}
		opts = append(opts, cache.WithTTL(t, ttl))
	}
	return cache.New(backend, opts...), closer, nil
}

// OpenRemote builds the HTTP client for the configured server of record.
func OpenRemote(cfg config.Config) (*remote.HTTPClient, error) {
	header := http.Header{}
	for k, v := range cfg.Remote.Headers {
		header.Set(k, v)
	}
	client, err := remote.NewHTTPClient(remote.HTTPOptions{
		BaseURL:  cfg.Remote.BaseURL,
		ProbeURL: cfg.Remote.ProbeURL,
		Timeout:  cfg.Remote.Timeout,
		Header:   header,
	})
	if err != nil {
		return nil, fmt.Errorf("open remote: %w", err)
	}
	return client, nil
}
