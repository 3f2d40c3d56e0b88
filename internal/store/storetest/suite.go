// Package storetest holds the behavioural tests every forum.Store
// implementation must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-forum/internal/forum"
	"go-forum/internal/models"
)

// Factory returns an empty store for one test.
type Factory func(t *testing.T) forum.Store

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s forum.Store)
	}{
		{"TopicRoundTrip", testTopicRoundTrip},
		{"ListTopicsNewestFirst", testListTopicsNewestFirst},
		{"UpdateTopic", testUpdateTopic},
		{"UpdateTopicRejected", testUpdateTopicRejected},
		{"DeleteTopicCascades", testDeleteTopicCascades},
		{"DeleteTopicRejected", testDeleteTopicRejected},
		{"AppendAssignsSeq", testAppendAssignsSeq},
		{"AppendUnknownTopic", testAppendUnknownTopic},
		{"AppendConcurrent", testAppendConcurrent},
		{"ParentMessage", testParentMessage},
		{"ListMessagesWindows", testListMessagesWindows},
		{"ListMessagesStable", testListMessagesStable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

var nextID atomic.Uint64

func messageID() uint64 {
	return nextID.Add(1) + uint64(time.Now().UnixNano())
}

func newTopic(t *testing.T, s forum.Store, creator string, createdAt time.Time) models.Topic {
	t.Helper()
	topic := models.Topic{
		ID:        uuid.NewString(),
		Title:     "topic " + creator,
		CreatorID: creator,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	require.NoError(t, s.CreateTopic(context.Background(), topic))
	return topic
}

func appendN(t *testing.T, s forum.Store, topicID string, n int) []models.Message {
	t.Helper()
	out := make([]models.Message, 0, n)
	for i := 0; i < n; i++ {
		msg, err := s.AppendMessage(context.Background(), models.Message{
			ID:        messageID(),
			TopicID:   topicID,
			SenderID:  "user-1",
			Content:   fmt.Sprintf("message %d", i+1),
			CreatedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func seqs(msgs []models.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.Seq
	}
	return out
}

func testTopicRoundTrip(t *testing.T, s forum.Store) {
	ctx := context.Background()
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	topic := newTopic(t, s, "user-1", created)

	got, err := s.GetTopic(ctx, topic.ID)
	require.NoError(t, err)
	assert.Equal(t, topic.ID, got.ID)
	assert.Equal(t, topic.Title, got.Title)
	assert.Equal(t, "user-1", got.CreatorID)
	assert.Equal(t, int64(0), got.LastSeq)
	assert.WithinDuration(t, created, got.CreatedAt, time.Millisecond)

	_, err = s.GetTopic(ctx, uuid.NewString())
	assert.ErrorIs(t, err, forum.ErrTopicNotFound)
}

func testListTopicsNewestFirst(t *testing.T, s forum.Store) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	first := newTopic(t, s, "user-1", base)
	second := newTopic(t, s, "user-2", base.Add(time.Minute))
	third := newTopic(t, s, "user-1", base.Add(2*time.Minute))

	topics, err := s.ListTopics(context.Background())
	require.NoError(t, err)
	require.Len(t, topics, 3)
	assert.Equal(t, []string{third.ID, second.ID, first.ID}, []string{topics[0].ID, topics[1].ID, topics[2].ID})
}

func testUpdateTopic(t *testing.T, s forum.Store) {
	ctx := context.Background()
	topic := newTopic(t, s, "user-1", time.Now().UTC())
	appendN(t, s, topic.ID, 2)

	updated, err := s.UpdateTopic(ctx, topic.ID, func(tp *models.Topic) error {
		tp.Title = "renamed"
		tp.ImageRef = "img-1"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Title)
	assert.Equal(t, "img-1", updated.ImageRef)

	got, err := s.GetTopic(ctx, topic.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.Equal(t, "img-1", got.ImageRef)
	assert.Equal(t, int64(2), got.LastSeq, "update must not reset the sequence")

	_, err = s.UpdateTopic(ctx, uuid.NewString(), func(*models.Topic) error { return nil })
	assert.ErrorIs(t, err, forum.ErrTopicNotFound)
}

func testUpdateTopicRejected(t *testing.T, s forum.Store) {
	ctx := context.Background()
	topic := newTopic(t, s, "user-1", time.Now().UTC())

	_, err := s.UpdateTopic(ctx, topic.ID, func(tp *models.Topic) error {
		tp.Title = "hijacked"
		return forum.ErrNotCreator
	})
	assert.ErrorIs(t, err, forum.ErrForbidden)

	got, err := s.GetTopic(ctx, topic.ID)
	require.NoError(t, err)
	assert.Equal(t, topic.Title, got.Title)
}

func testDeleteTopicCascades(t *testing.T, s forum.Store) {
	ctx := context.Background()
	topic := newTopic(t, s, "user-1", time.Now().UTC())
	other := newTopic(t, s, "user-2", time.Now().UTC())

	appendN(t, s, topic.ID, 2)
	_, err := s.AppendMessage(ctx, models.Message{
		ID: messageID(), TopicID: topic.ID, SenderID: "user-2", AttachmentRef: "file-1", CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	appendN(t, s, other.ID, 1)

	deleted, refs, err := s.DeleteTopic(ctx, topic.ID, func(models.Topic) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, topic.ID, deleted.ID)
	assert.Equal(t, []string{"file-1"}, refs)

	_, err = s.GetTopic(ctx, topic.ID)
	assert.ErrorIs(t, err, forum.ErrTopicNotFound)

	_, err = s.ListMessages(ctx, topic.ID, forum.MessageQuery{})
	assert.ErrorIs(t, err, forum.ErrTopicNotFound)

	_, err = s.AppendMessage(ctx, models.Message{ID: messageID(), TopicID: topic.ID, SenderID: "user-1", Content: "late"})
	assert.ErrorIs(t, err, forum.ErrTopicNotFound)

	remaining, err := s.ListMessages(ctx, other.ID, forum.MessageQuery{})
	require.NoError(t, err)
	assert.Len(t, remaining, 1, "other topics keep their messages")

	_, _, err = s.DeleteTopic(ctx, topic.ID, func(models.Topic) error { return nil })
	assert.ErrorIs(t, err, forum.ErrTopicNotFound)
}

func testDeleteTopicRejected(t *testing.T, s forum.Store) {
	ctx := context.Background()
	topic := newTopic(t, s, "user-1", time.Now().UTC())
	appendN(t, s, topic.ID, 1)

	_, _, err := s.DeleteTopic(ctx, topic.ID, func(models.Topic) error { return forum.ErrNotCreator })
	assert.ErrorIs(t, err, forum.ErrForbidden)

	_, err = s.GetTopic(ctx, topic.ID)
	require.NoError(t, err)

	msgs, err := s.ListMessages(ctx, topic.ID, forum.MessageQuery{})
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func testAppendAssignsSeq(t *testing.T, s forum.Store) {
	ctx := context.Background()
	topic := newTopic(t, s, "user-1", time.Now().UTC())
	other := newTopic(t, s, "user-1", time.Now().UTC())

	msgs := appendN(t, s, topic.ID, 3)
	assert.Equal(t, []int64{1, 2, 3}, seqs(msgs))

	otherMsgs := appendN(t, s, other.ID, 1)
	assert.Equal(t, int64(1), otherMsgs[0].Seq, "sequences are per topic")

	got, err := s.GetTopic(ctx, topic.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.LastSeq)
}

func testAppendUnknownTopic(t *testing.T, s forum.Store) {
	_, err := s.AppendMessage(context.Background(), models.Message{
		ID: messageID(), TopicID: uuid.NewString(), SenderID: "user-1", Content: "hi",
	})
	assert.ErrorIs(t, err, forum.ErrTopicNotFound)
}

func testAppendConcurrent(t *testing.T, s forum.Store) {
	ctx := context.Background()
	topic := newTopic(t, s, "user-1", time.Now().UTC())

	const writers, perWriter = 5, 20

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := s.AppendMessage(ctx, models.Message{
					ID:        messageID(),
					TopicID:   topic.ID,
					SenderID:  fmt.Sprintf("user-%d", w),
					Content:   fmt.Sprintf("w%d-%d", w, i),
					CreatedAt: time.Now().UTC(),
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	msgs, err := s.ListMessages(ctx, topic.ID, forum.MessageQuery{})
	require.NoError(t, err)
	require.Len(t, msgs, writers*perWriter)

	ids := make(map[uint64]bool)
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.Seq)
		ids[m.ID] = true
	}
	assert.Len(t, ids, writers*perWriter, "no message lost or duplicated")
}

func testParentMessage(t *testing.T, s forum.Store) {
	ctx := context.Background()
	topic := newTopic(t, s, "user-1", time.Now().UTC())
	other := newTopic(t, s, "user-1", time.Now().UTC())
	parent := appendN(t, s, topic.ID, 1)[0]
	foreign := appendN(t, s, other.ID, 1)[0]

	reply, err := s.AppendMessage(ctx, models.Message{
		ID: messageID(), TopicID: topic.ID, SenderID: "user-2", Content: "reply", ParentMessageID: parent.ID,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, parent.ID, reply.ParentMessageID)

	msgs, err := s.ListMessages(ctx, topic.ID, forum.MessageQuery{Since: true, AfterSeq: 1})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, parent.ID, msgs[0].ParentMessageID)

	_, err = s.AppendMessage(ctx, models.Message{
		ID: messageID(), TopicID: topic.ID, SenderID: "user-2", Content: "x", ParentMessageID: foreign.ID,
	})
	assert.ErrorIs(t, err, forum.ErrMessageNotFound)

	_, err = s.AppendMessage(ctx, models.Message{
		ID: messageID(), TopicID: topic.ID, SenderID: "user-2", Content: "x", ParentMessageID: messageID(),
	})
	assert.ErrorIs(t, err, forum.ErrNotFound)
}

func testListMessagesWindows(t *testing.T, s forum.Store) {
	ctx := context.Background()
	topic := newTopic(t, s, "user-1", time.Now().UTC())
	appendN(t, s, topic.ID, 10)

	tests := []struct {
		name  string
		query forum.MessageQuery
		want  []int64
	}{
		{"all", forum.MessageQuery{}, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
		{"newest page", forum.MessageQuery{Limit: 3}, []int64{8, 9, 10}},
		{"before", forum.MessageQuery{BeforeSeq: 8, Limit: 3}, []int64{5, 6, 7}},
		{"before near start", forum.MessageQuery{BeforeSeq: 3, Limit: 5}, []int64{1, 2}},
		{"before first", forum.MessageQuery{BeforeSeq: 1, Limit: 5}, []int64{}},
		{"after", forum.MessageQuery{Since: true, AfterSeq: 4, Limit: 3}, []int64{5, 6, 7}},
		{"after unbounded", forum.MessageQuery{Since: true, AfterSeq: 8}, []int64{9, 10}},
		{"after last", forum.MessageQuery{Since: true, AfterSeq: 10, Limit: 3}, []int64{}},
		{"after zero", forum.MessageQuery{Since: true, Limit: 3}, []int64{1, 2, 3}},
		{"after zero unbounded", forum.MessageQuery{Since: true}, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := s.ListMessages(ctx, topic.ID, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, seqs(msgs))
		})
	}
}

func testListMessagesStable(t *testing.T, s forum.Store) {
	ctx := context.Background()
	topic := newTopic(t, s, "user-1", time.Now().UTC())
	appendN(t, s, topic.ID, 5)

	first, err := s.ListMessages(ctx, topic.ID, forum.MessageQuery{})
	require.NoError(t, err)
	second, err := s.ListMessages(ctx, topic.ID, forum.MessageQuery{})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	appendN(t, s, topic.ID, 1)
	third, err := s.ListMessages(ctx, topic.ID, forum.MessageQuery{})
	require.NoError(t, err)
	assert.Equal(t, first, third[:5], "appending only extends the order")
}
