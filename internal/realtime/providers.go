package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
)

// Provider names a watermill transport.
type Provider string

const (
	ProviderGoChannel Provider = "gochannel"
	ProviderRedis     Provider = "redis"
)

// ProviderConfig selects and configures the change-feed transport.
type ProviderConfig struct {
	Provider    Provider
	TopicPrefix string

	// BufferSize is the gochannel output buffer. Defaults to 100.
	BufferSize int

	// RedisURL is used when RedisClient is nil.
	RedisURL string
	// RedisClient lets the feed share the cache backend's pool.
	RedisClient *redis.Client
	// ConsumerGroup defaults to "shopsync".
	ConsumerGroup string
}

// NewProvider builds a WatermillPubSub for the configured transport.
func NewProvider(ctx context.Context, cfg ProviderConfig, logger watermill.LoggerAdapter) (*WatermillPubSub, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	switch cfg.Provider {
	case ProviderGoChannel, "":
		return newGoChannel(cfg, logger), nil
	case ProviderRedis:
		return newRedisStream(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported change feed provider: %s", cfg.Provider)
	}
}

// newGoChannel builds an in-process transport. Events published through
// the returned value reach its own subscribers only.
func newGoChannel(cfg ProviderConfig, logger watermill.LoggerAdapter) *WatermillPubSub {
	bufferSize := 100
	if cfg.BufferSize > 0 {
		bufferSize = cfg.BufferSize
	}

	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            int64(bufferSize),
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		logger,
	)

	return NewWatermillPubSub(pubSub, pubSub, cfg.TopicPrefix)
}

func newRedisStream(ctx context.Context, cfg ProviderConfig, logger watermill.LoggerAdapter) (*WatermillPubSub, error) {
	client := cfg.RedisClient
	if client == nil {
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis change feed requires a redis url")
		}
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client = redis.NewClient(opts)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	group := cfg.ConsumerGroup
	if group == "" {
		group = "shopsync"
	}

	subscriber, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{
			Client:        client,
			ConsumerGroup: group,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis subscriber: %w", err)
	}

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: client,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis publisher: %w", err)
	}

	return NewWatermillPubSub(publisher, subscriber, cfg.TopicPrefix), nil
}
