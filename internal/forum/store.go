package forum

import (
	"context"

	"go-forum/internal/models"
)

// MessageQuery selects a window of a topic's history. Results are always in
// ascending seq order.
//
// With Since set the window is the first Limit messages with seq > AfterSeq;
// AfterSeq 0 starts at the beginning of the topic. Otherwise it is the last
// Limit messages with seq < BeforeSeq (or the newest messages when BeforeSeq
// is 0).
type MessageQuery struct {
	Since     bool
	AfterSeq  int64
	BeforeSeq int64
	Limit     int
}

// Store defines persistence for topics and their messages.
//
// Implementations must make every method atomic: a topic is never half deleted
// and seq assignment in AppendMessage is serialized per topic.
type Store interface {
	// CreateTopic persists a new topic. The caller assigns the id.
	CreateTopic(ctx context.Context, topic models.Topic) error

	// GetTopic returns ErrTopicNotFound if the topic doesn't exist.
	GetTopic(ctx context.Context, id string) (models.Topic, error)

	// ListTopics returns all topics, newest first.
	ListTopics(ctx context.Context) ([]models.Topic, error)

	// UpdateTopic loads the topic, applies fn and saves the result in one
	// atomic step. If fn returns an error nothing is written.
	UpdateTopic(ctx context.Context, id string, fn func(*models.Topic) error) (models.Topic, error)

	// DeleteTopic removes the topic and all its messages after check approves.
	// It returns the deleted topic and the attachment refs its messages held.
	DeleteTopic(ctx context.Context, id string, check func(models.Topic) error) (models.Topic, []string, error)

	// AppendMessage assigns the next seq of msg.TopicID and inserts msg.
	// Returns ErrTopicNotFound for an unknown topic and ErrMessageNotFound when
	// msg.ParentMessageID doesn't name a message of the same topic.
	AppendMessage(ctx context.Context, msg models.Message) (models.Message, error)

	// ListMessages returns ErrTopicNotFound if the topic doesn't exist.
	ListMessages(ctx context.Context, topicID string, q MessageQuery) ([]models.Message, error)
}

// Publisher hands committed changes to the fan-out layer.
type Publisher interface {
	PublishMessageCreated(ctx context.Context, msg models.Message) error
	PublishTopicUpdated(ctx context.Context, topic models.Topic) error
	PublishTopicDeleted(ctx context.Context, topicID string) error
}

// AttachmentRemover deletes stored attachments by reference.
type AttachmentRemover interface {
	Delete(ctx context.Context, ref string) error
}

// IDSource produces unique, time ordered message ids.
type IDSource interface {
	Next() (uint64, error)
}
