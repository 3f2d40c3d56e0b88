package ws

import (
	"context"

	"go-forum/internal/models"
)

// Relay carries an event to every hub that may have subscribers of its topic.
// A Hub relays to itself; the Redis client relays across nodes.
type Relay interface {
	PublishEvent(ctx context.Context, event models.Event) error
}

// Publisher turns committed forum changes into events on a Relay.
type Publisher struct {
	relay Relay
}

func NewPublisher(relay Relay) *Publisher {
	return &Publisher{relay: relay}
}

func (p *Publisher) PublishMessageCreated(ctx context.Context, msg models.Message) error {
	return p.relay.PublishEvent(ctx, models.NewEvent(models.EventMessageCreated, msg.TopicID, msg))
}

func (p *Publisher) PublishTopicUpdated(ctx context.Context, topic models.Topic) error {
	return p.relay.PublishEvent(ctx, models.NewEvent(models.EventTopicUpdated, topic.ID, topic))
}

func (p *Publisher) PublishTopicDeleted(ctx context.Context, topicID string) error {
	return p.relay.PublishEvent(ctx, models.NewEvent(models.EventTopicDeleted, topicID, models.TopicDeletedData{TopicID: topicID}))
}
