package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Event types pushed to subscribers.
const (
	EventMessageCreated   = "message:created"
	EventTopicUpdated     = "topic:updated"
	EventTopicDeleted     = "topic:deleted"
	EventPresenceJoin     = "presence:join"
	EventPresenceLeave    = "presence:leave"
	EventTypingStart      = "typing:start"
	EventTypingStop       = "typing:stop"
	EventSubscriptionAck  = "subscription:ack"
	EventError            = "error"
	EventTopicSubscribe   = "topic:subscribe"
	EventTopicUnsubscribe = "topic:unsubscribe"
)

type Event struct {
	Type      string      `json:"type"`
	TopicID   string      `json:"topicId"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// RawEvent is the decoding side of Event; Data is left for the caller to unmarshal
// once Type is known.
type RawEvent struct {
	Type      string          `json:"type"`
	TopicID   string          `json:"topicId"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type BroadcastMessage struct {
	TopicID string
	Type    string
	Payload []byte
}

// NewEvent stamps an event for topicID with the current time.
func NewEvent(eventType, topicID string, data interface{}) Event {
	return Event{
		Type:      eventType,
		TopicID:   topicID,
		Timestamp: time.Now().Unix(),
		Data:      data,
	}
}

// Encode serializes the event into a BroadcastMessage ready for the hub.
func (e Event) Encode() (*BroadcastMessage, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return &BroadcastMessage{TopicID: e.TopicID, Type: e.Type, Payload: payload}, nil
}

// Specific event data structures

type TypingData struct {
	UserId   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

type PresenceData struct {
	UserId   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

type SubscribeData struct {
	TopicID string `json:"topicId"`
}

type SubscriptionAckData struct {
	TopicID        string `json:"topicId"`
	SubscriptionID string `json:"subscriptionId"`
}

type TopicDeletedData struct {
	TopicID string `json:"topicId"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
