package models

import "time"

// Topic is one group conversation.
type Topic struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatorID string    `json:"creatorId"`
	ImageRef  string    `json:"imageRef,omitempty"`
	LastSeq   int64     `json:"lastSeq"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TopicView is a Topic as seen by one caller.
type TopicView struct {
	Topic
	IsCreator bool `json:"isCreator"`
}

// Message is one immutable unit of conversation content. Seq is the
// authoritative order inside a topic; ID is globally unique.
type Message struct {
	ID              uint64    `json:"id,string"`
	TopicID         string    `json:"topicId"`
	Seq             int64     `json:"seq"`
	SenderID        string    `json:"senderId"`
	Content         string    `json:"content"`
	AttachmentRef   string    `json:"attachmentRef,omitempty"`
	ParentMessageID uint64    `json:"parentMessageId,omitempty,string"`
	CreatedAt       time.Time `json:"createdAt"`
}

// MessagePage is one page of history in ascending seq order.
type MessagePage struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"nextCursor,omitempty"`
}
