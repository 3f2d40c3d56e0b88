package redis

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"go-forum/internal/models"
)

// Sink takes events received from Redis. ws.Hub implements it.
type Sink interface {
	Deliver(ctx context.Context, msg *models.BroadcastMessage) error
}

// SubscribeToEvents feeds every topic event published on Redis into sink
// until ctx is done. ready, if not nil, is closed once the subscription is
// confirmed.
func SubscribeToEvents(ctx context.Context, client *Client, sink Sink, ready chan<- struct{}, log zerolog.Logger) error {
	log = log.With().Str("component", "redis").Logger()
	pattern := ChannelPrefix + "*"

	pubsub := client.rdb.PSubscribe(ctx, pattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", pattern, err)
	}
	log.Info().Str("pattern", pattern).Msg("subscription confirmed, listening for events")
	if ready != nil {
		close(ready)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopping Redis subscription")
			return nil

		case msg, ok := <-ch:
			if !ok {
				log.Info().Msg("Redis pub/sub channel closed")
				return nil
			}

			var event models.RawEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Str("channel", msg.Channel).Msg("error unmarshaling event")
				continue
			}

			err := sink.Deliver(ctx, &models.BroadcastMessage{
				TopicID: event.TopicID,
				Type:    event.Type,
				Payload: []byte(msg.Payload),
			})
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("deliver %s event: %w", event.Type, err)
			}
		}
	}
}
