// Package redis carries committed forum events between server processes over
// Redis pub/sub, so every process's hub can reach its own subscribers.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"go-forum/internal/forum"
	"go-forum/internal/models"
)

// ChannelPrefix namespaces the per-topic pub/sub channels.
const ChannelPrefix = "topic:"

type Client struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewClient connects to redisURL and verifies the connection.
func NewClient(ctx context.Context, redisURL string, log zerolog.Logger) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	log = log.With().Str("component", "redis").Logger()
	log.Info().Str("addr", opt.Addr).Msg("connected to Redis")

	return &Client{rdb: rdb, log: log}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping reports whether Redis is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// PublishEvent publishes event on its topic's channel. Publishes are issued
// in call order on one connection, so subscribers see a topic's events in the
// order they were published.
func (c *Client) PublishEvent(ctx context.Context, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		c.log.Error().Err(err).Str("type", event.Type).Str("topic", event.TopicID).Msg("failed to marshal event")
		return err
	}

	channel := ChannelPrefix + event.TopicID
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		c.log.Error().Err(err).Str("type", event.Type).Str("channel", channel).Msg("failed to publish event")
		return fmt.Errorf("%w: publish to %s: %w", forum.ErrTransport, channel, err)
	}

	return nil
}
