package forum

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"go-forum/internal/models"
)

// LogOptions bounds history pages and message size.
type LogOptions struct {
	DefaultPageSize  int
	MaxPageSize      int
	MaxContentLength int
}

// DefaultLogOptions returns the limits used when none are configured.
func DefaultLogOptions() LogOptions {
	return LogOptions{
		DefaultPageSize:  50,
		MaxPageSize:      200,
		MaxContentLength: 4000,
	}
}

// MessageLog is the append-only, per-topic ordered message store. Appends on
// one topic are serialized and published in commit order.
type MessageLog struct {
	store     Store
	publisher Publisher
	locks     *TopicLocks
	ids       IDSource
	opts      LogOptions
	log       zerolog.Logger
	now       func() time.Time
}

func NewMessageLog(store Store, publisher Publisher, locks *TopicLocks, ids IDSource, opts LogOptions, log zerolog.Logger) *MessageLog {
	defaults := DefaultLogOptions()
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = defaults.DefaultPageSize
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = defaults.MaxPageSize
	}
	if opts.DefaultPageSize > opts.MaxPageSize {
		opts.DefaultPageSize = opts.MaxPageSize
	}
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = defaults.MaxContentLength
	}

	return &MessageLog{
		store:     store,
		publisher: publisher,
		locks:     locks,
		ids:       ids,
		opts:      opts,
		log:       log,
		now:       time.Now,
	}
}

// AppendParams describes a message to append. Content may be empty when
// AttachmentRef is set.
type AppendParams struct {
	TopicID         string
	SenderID        string
	Content         string
	AttachmentRef   string
	ParentMessageID uint64
}

// AppendMessage persists a message and, once committed, hands it to the
// publisher. A publish failure is logged and does not fail the append.
func (l *MessageLog) AppendMessage(ctx context.Context, p AppendParams) (models.Message, error) {
	switch {
	case p.TopicID == "":
		return models.Message{}, ErrTopicIDRequired
	case p.SenderID == "":
		return models.Message{}, ErrSenderRequired
	}

	content := p.Content
	if strings.TrimSpace(content) == "" {
		content = ""
	}
	if content == "" && p.AttachmentRef == "" {
		return models.Message{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > l.opts.MaxContentLength {
		return models.Message{}, ErrMessageTooLong
	}

	unlock := l.locks.Lock(p.TopicID)
	defer unlock()

	id, err := l.ids.Next()
	if err != nil {
		return models.Message{}, fmt.Errorf("generate message id: %w", err)
	}

	msg, err := l.store.AppendMessage(ctx, models.Message{
		ID:              id,
		TopicID:         p.TopicID,
		SenderID:        p.SenderID,
		Content:         content,
		AttachmentRef:   p.AttachmentRef,
		ParentMessageID: p.ParentMessageID,
		CreatedAt:       l.now().UTC(),
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("append message: %w", err)
	}

	// The message is committed; the caller going away must not stop the push.
	if err := l.publisher.PublishMessageCreated(context.WithoutCancel(ctx), msg); err != nil {
		l.log.Warn().Err(err).Str("topic", msg.TopicID).Uint64("message", msg.ID).Msg("failed to publish message")
	}

	l.log.Debug().Str("topic", msg.TopicID).Int64("seq", msg.Seq).Str("sender", msg.SenderID).Msg("message appended")
	return msg, nil
}

// ListMessages returns one page of a topic's history in ascending order.
// Without a cursor the page holds the newest messages; NextCursor points at
// the page of older messages and is empty once history is exhausted.
func (l *MessageLog) ListMessages(ctx context.Context, topicID, cursor string, limit int) (models.MessagePage, error) {
	before, err := decodeCursor(cursor)
	if err != nil {
		return models.MessagePage{}, err
	}
	limit = l.pageSize(limit)

	msgs, err := l.store.ListMessages(ctx, topicID, MessageQuery{BeforeSeq: before, Limit: limit + 1})
	if err != nil {
		return models.MessagePage{}, err
	}

	page := models.MessagePage{Messages: msgs}
	if len(msgs) > limit {
		page.Messages = msgs[1:]
		page.NextCursor = encodeCursor(page.Messages[0].Seq)
	}
	if page.Messages == nil {
		page.Messages = []models.Message{}
	}
	return page, nil
}

// ListMessagesSince returns up to limit messages committed after afterSeq, in
// ascending order. Viewers use it to fill the gap left by a dropped connection.
func (l *MessageLog) ListMessagesSince(ctx context.Context, topicID string, afterSeq int64, limit int) ([]models.Message, error) {
	if afterSeq < 0 {
		return nil, ErrInvalidCursor
	}
	msgs, err := l.store.ListMessages(ctx, topicID, MessageQuery{Since: true, AfterSeq: afterSeq, Limit: l.pageSize(limit)})
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}

func (l *MessageLog) pageSize(limit int) int {
	if limit <= 0 {
		return l.opts.DefaultPageSize
	}
	if limit > l.opts.MaxPageSize {
		return l.opts.MaxPageSize
	}
	return limit
}

const cursorPrefix = "seq:"

func encodeCursor(seq int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.FormatInt(seq, 10)))
}

func decodeCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, ErrInvalidCursor
	}
	s, ok := strings.CutPrefix(string(raw), cursorPrefix)
	if !ok {
		return 0, ErrInvalidCursor
	}
	seq, err := strconv.ParseInt(s, 10, 64)
	if err != nil || seq <= 0 {
		return 0, ErrInvalidCursor
	}
	return seq, nil
}
