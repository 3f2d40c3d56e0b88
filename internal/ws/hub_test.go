package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-forum/internal/forum"
	"go-forum/internal/models"
)

// fakeConn records what the hub queues for it.
type fakeConn struct {
	mu       sync.Mutex
	frames   []models.RawEvent
	capacity int
	down     bool
}

func (f *fakeConn) enqueue(sub *Subscription, payload []byte, final bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down || (f.capacity > 0 && len(f.frames) >= f.capacity) {
		return false
	}
	var ev models.RawEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		panic(err)
	}
	f.frames = append(f.frames, ev)
	return true
}

func (f *fakeConn) shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = true
}

func (f *fakeConn) isDown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.down
}

func (f *fakeConn) ofType(eventType string) []models.RawEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.RawEvent
	for _, ev := range f.frames {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeConn) messages(t *testing.T) []models.Message {
	t.Helper()
	var out []models.Message
	for _, ev := range f.ofType(models.EventMessageCreated) {
		var m models.Message
		require.NoError(t, json.Unmarshal(ev.Data, &m))
		out = append(out, m)
	}
	return out
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(NewMetrics(prometheus.NewRegistry()), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}

func subscribe(t *testing.T, hub *Hub, conn handle, topicID, userID string) *Subscription {
	t.Helper()
	sub := newSubscription(conn, topicID, userID, "")
	require.NoError(t, hub.Subscribe(context.Background(), sub))
	require.Eventually(t, sub.Active, time.Second, time.Millisecond)
	return sub
}

// flush waits until every event published so far has been fanned out.
func flush(t *testing.T, hub *Hub) {
	t.Helper()
	marker := &fakeConn{}
	sub := subscribe(t, hub, marker, "__flush__", "flush")
	require.NoError(t, hub.PublishEvent(context.Background(), models.NewEvent("flush", "__flush__", nil)))
	require.Eventually(t, func() bool { return len(marker.ofType("flush")) == 1 }, time.Second, time.Millisecond)
	hub.Unsubscribe(sub)
}

func publishMessage(t *testing.T, pub *Publisher, topicID string, seq int64, content string) {
	t.Helper()
	require.NoError(t, pub.PublishMessageCreated(context.Background(), models.Message{
		ID: uint64(1000 + seq), TopicID: topicID, Seq: seq, SenderID: "user-2", Content: content,
	}))
}

func TestHub_SubscribeAcknowledges(t *testing.T) {
	hub := startHub(t)
	conn := &fakeConn{}

	sub := subscribe(t, hub, conn, "math", "user-1")

	require.Eventually(t, func() bool { return len(conn.ofType(models.EventSubscriptionAck)) == 1 }, time.Second, time.Millisecond)
	var ack models.SubscriptionAckData
	require.NoError(t, json.Unmarshal(conn.ofType(models.EventSubscriptionAck)[0].Data, &ack))
	assert.Equal(t, models.SubscriptionAckData{TopicID: "math", SubscriptionID: sub.ID}, ack)

	assert.Equal(t, []string{"user-1"}, hub.TopicUsers("math"))
}

func TestHub_DeliversToTopicOnly(t *testing.T) {
	hub := startHub(t)
	pub := NewPublisher(hub)
	a, b := &fakeConn{}, &fakeConn{}
	subscribe(t, hub, a, "topic-a", "user-1")
	subscribe(t, hub, b, "topic-b", "user-3")

	publishMessage(t, pub, "topic-b", 1, "only for b")
	publishMessage(t, pub, "topic-a", 1, "hi")
	flush(t, hub)

	msgsA := a.messages(t)
	require.Len(t, msgsA, 1)
	assert.Equal(t, "hi", msgsA[0].Content)
	assert.Equal(t, "user-2", msgsA[0].SenderID)

	msgsB := b.messages(t)
	require.Len(t, msgsB, 1)
	assert.Equal(t, "only for b", msgsB[0].Content)
}

func TestHub_PreservesPublishOrder(t *testing.T) {
	hub := startHub(t)
	pub := NewPublisher(hub)
	conns := []*fakeConn{{}, {}, {}}
	for i, c := range conns {
		subscribe(t, hub, c, "math", "user-"+string(rune('a'+i)))
	}

	for seq := int64(1); seq <= 50; seq++ {
		publishMessage(t, pub, "math", seq, "m")
	}
	flush(t, hub)

	for _, c := range conns {
		msgs := c.messages(t)
		require.Len(t, msgs, 50)
		for i, m := range msgs {
			assert.Equal(t, int64(i+1), m.Seq)
		}
	}
}

func TestHub_NoGroupIsNoop(t *testing.T) {
	hub := startHub(t)
	pub := NewPublisher(hub)

	publishMessage(t, pub, "nobody", 1, "hello?")
	flush(t, hub)

	groups, subs := hub.Stats()
	assert.Equal(t, 0, groups)
	assert.Equal(t, 0, subs)
}

func TestHub_UnsubscribeStopsDeliveryAndRemovesGroup(t *testing.T) {
	hub := startHub(t)
	pub := NewPublisher(hub)
	conn := &fakeConn{}
	sub := subscribe(t, hub, conn, "math", "user-1")

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)
	assert.Equal(t, StateUnsubscribed, sub.State())

	publishMessage(t, pub, "math", 1, "after leave")
	flush(t, hub)

	assert.Empty(t, conn.messages(t))
	assert.Empty(t, hub.TopicUsers("math"))
	groups, subs := hub.Stats()
	assert.Equal(t, 0, groups, "empty groups are torn down")
	assert.Equal(t, 0, subs)
}

func TestHub_SlowSubscriberIsDropped(t *testing.T) {
	hub := startHub(t)
	pub := NewPublisher(hub)
	slow := &fakeConn{capacity: 2}
	fast := &fakeConn{}
	slowSub := subscribe(t, hub, slow, "math", "user-1")
	subscribe(t, hub, fast, "math", "user-2")

	for seq := int64(1); seq <= 5; seq++ {
		publishMessage(t, pub, "math", seq, "m")
	}
	flush(t, hub)

	assert.Equal(t, StateClosed, slowSub.State())
	assert.True(t, slow.isDown())
	assert.Len(t, fast.messages(t), 5, "a failing subscriber doesn't hold back others")
	assert.Equal(t, []string{"user-2"}, hub.TopicUsers("math"))

	require.Eventually(t, func() bool {
		for _, ev := range fast.ofType(models.EventPresenceLeave) {
			var p models.PresenceData
			json.Unmarshal(ev.Data, &p)
			if p.UserId == "user-1" {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond, "the group hears the dropped user leave")
}

func TestHub_TopicDeletedClosesGroup(t *testing.T) {
	hub := startHub(t)
	pub := NewPublisher(hub)
	conns := []*fakeConn{{}, {}}
	subs := []*Subscription{
		subscribe(t, hub, conns[0], "math", "user-1"),
		subscribe(t, hub, conns[1], "math", "user-2"),
	}

	require.NoError(t, pub.PublishTopicDeleted(context.Background(), "math"))
	publishMessage(t, pub, "math", 9, "ghost")
	flush(t, hub)

	for i, c := range conns {
		assert.Len(t, c.ofType(models.EventTopicDeleted), 1)
		assert.Empty(t, c.messages(t))
		assert.Equal(t, StateClosed, subs[i].State())
		assert.False(t, c.isDown(), "the connection outlives the topic")
	}
	groups, n := hub.Stats()
	assert.Equal(t, 0, groups)
	assert.Equal(t, 0, n)
}

func TestHub_Presence(t *testing.T) {
	hub := startHub(t)
	watcher := &fakeConn{}
	subscribe(t, hub, watcher, "math", "user-1")

	other := subscribe(t, hub, &fakeConn{}, "math", "user-2")
	require.Eventually(t, func() bool {
		for _, ev := range watcher.ofType(models.EventPresenceJoin) {
			var p models.PresenceData
			json.Unmarshal(ev.Data, &p)
			if p.UserId == "user-2" {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	hub.Unsubscribe(other)
	require.Eventually(t, func() bool { return len(watcher.ofType(models.EventPresenceLeave)) == 1 }, time.Second, time.Millisecond)
}

func TestHub_StoppedHubRejects(t *testing.T) {
	hub := NewHub(NewMetrics(prometheus.NewRegistry()), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	conn := &fakeConn{}
	sub := subscribe(t, hub, conn, "math", "user-1")

	cancel()
	<-done

	assert.Equal(t, StateClosed, sub.State())
	assert.True(t, conn.isDown())

	err := hub.Subscribe(context.Background(), newSubscription(&fakeConn{}, "math", "user-2", ""))
	assert.ErrorIs(t, err, forum.ErrTransport)
	err = hub.PublishEvent(context.Background(), models.NewEvent(models.EventTypingStart, "math", nil))
	assert.ErrorIs(t, err, forum.ErrTransport)

	hub.Unsubscribe(sub)
}

func TestSubscription_StateMachine(t *testing.T) {
	sub := newSubscription(&fakeConn{}, "math", "user-1", "")
	assert.Equal(t, StateConnecting, sub.State())
	assert.False(t, sub.Active())

	assert.True(t, sub.markSubscribed())
	assert.True(t, sub.Active())
	assert.False(t, sub.markSubscribed())

	assert.True(t, sub.unsubscribe())
	assert.False(t, sub.unsubscribe())
	assert.False(t, sub.markSubscribed(), "unsubscribed never becomes subscribed again")

	assert.True(t, sub.close())
	assert.False(t, sub.close())
	assert.Equal(t, "closed", sub.State().String())

	direct := newSubscription(&fakeConn{}, "math", "user-1", "")
	direct.markSubscribed()
	assert.True(t, direct.close(), "subscribed may close directly")
}
