package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-forum/internal/auth"
	"go-forum/internal/forum"
	"go-forum/internal/models"
)

type staticTopics map[string]bool

func (s staticTopics) GetTopic(ctx context.Context, topicID, userID string) (models.TopicView, error) {
	if !s[topicID] {
		return models.TopicView{}, forum.ErrTopicNotFound
	}
	return models.TopicView{Topic: models.Topic{ID: topicID}}, nil
}

// deletedAfterLookup finds a topic once and reports it gone from then on, as
// if it were deleted right after the subscribe check.
type deletedAfterLookup struct {
	lookups atomic.Int32
}

func (d *deletedAfterLookup) GetTopic(ctx context.Context, topicID, userID string) (models.TopicView, error) {
	if d.lookups.Add(1) > 1 {
		return models.TopicView{}, forum.ErrTopicNotFound
	}
	return models.TopicView{Topic: models.Topic{ID: topicID}}, nil
}

func startServer(t *testing.T, hub *Hub, opts HandlerOptions) *httptest.Server {
	t.Helper()
	return startServerWith(t, hub, staticTopics{"math": true, "physics": true}, opts)
}

func startServerWith(t *testing.T, hub *Hub, topics TopicLookup, opts HandlerOptions) *httptest.Server {
	t.Helper()
	h := NewHandler(hub, topics, opts, zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := r.URL.Query().Get("user"); user != "" {
			r = r.WithContext(auth.WithIdentity(r.Context(), auth.Identity{UserID: user}))
		}
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// next reads frames until one of the wanted type arrives.
func next(t *testing.T, conn *websocket.Conn, eventType string) models.RawEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var ev models.RawEvent
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == eventType {
			return ev
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, eventType string, data interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(models.NewEvent(eventType, "", data)))
}

func TestClient_SubscribeAndReceive(t *testing.T) {
	hub := startHub(t)
	srv := startServer(t, hub, HandlerOptions{})
	pub := NewPublisher(hub)

	conn := dial(t, srv, "user=user-1&topicId=math")
	ack := next(t, conn, models.EventSubscriptionAck)
	assert.Equal(t, "math", ack.TopicID)

	publishMessage(t, pub, "math", 1, "hi")

	ev := next(t, conn, models.EventMessageCreated)
	var msg models.Message
	require.NoError(t, json.Unmarshal(ev.Data, &msg))
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, uint64(1001), msg.ID)
}

func TestClient_SwitchTopic(t *testing.T) {
	hub := startHub(t)
	srv := startServer(t, hub, HandlerOptions{})
	pub := NewPublisher(hub)

	conn := dial(t, srv, "user=user-1&topicId=math")
	next(t, conn, models.EventSubscriptionAck)

	send(t, conn, models.EventTopicSubscribe, models.SubscribeData{TopicID: "physics"})
	ack := next(t, conn, models.EventSubscriptionAck)
	assert.Equal(t, "physics", ack.TopicID)

	publishMessage(t, pub, "math", 1, "old topic")
	publishMessage(t, pub, "physics", 1, "new topic")

	ev := next(t, conn, models.EventMessageCreated)
	assert.Equal(t, "physics", ev.TopicID, "no push from the previous topic")
	assert.Empty(t, hub.TopicUsers("math"))
	assert.Equal(t, []string{"user-1"}, hub.TopicUsers("physics"))
}

func TestClient_TopicDeletedDuringSubscribe(t *testing.T) {
	hub := startHub(t)
	pub := NewPublisher(hub)
	srv := startServerWith(t, hub, &deletedAfterLookup{}, HandlerOptions{})
	watcher := &fakeConn{}
	subscribe(t, hub, watcher, "math", "user-2")

	conn := dial(t, srv, "user=user-1&topicId=math")

	ev := next(t, conn, models.EventTopicDeleted)
	assert.Equal(t, "math", ev.TopicID)
	var data models.TopicDeletedData
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	assert.Equal(t, "math", data.TopicID)

	require.Eventually(t, func() bool {
		users := hub.TopicUsers("math")
		return len(users) == 1 && users[0] == "user-2"
	}, 2*time.Second, 5*time.Millisecond, "the late subscription is torn down")

	publishMessage(t, pub, "math", 1, "after delete")
	require.Eventually(t, func() bool { return len(watcher.messages(t)) == 1 }, time.Second, time.Millisecond)
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	for {
		var frame models.RawEvent
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}
		assert.NotEqual(t, models.EventMessageCreated, frame.Type, "no push after teardown")
	}
}

func TestClient_ErrorFrames(t *testing.T) {
	hub := startHub(t)
	srv := startServer(t, hub, HandlerOptions{})

	conn := dial(t, srv, "user=user-1")

	send(t, conn, models.EventTopicSubscribe, models.SubscribeData{TopicID: "history"})
	ev := next(t, conn, models.EventError)
	var data models.ErrorData
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	assert.Equal(t, CodeNotFound, data.Code)

	send(t, conn, models.EventTypingStart, nil)
	ev = next(t, conn, models.EventError)
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	assert.Equal(t, CodeInvalid, data.Code)

	send(t, conn, "dance", nil)
	ev = next(t, conn, models.EventError)
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	assert.Equal(t, CodeUnknown, data.Code)
}

func TestClient_TypingRelayed(t *testing.T) {
	hub := startHub(t)
	srv := startServer(t, hub, HandlerOptions{})

	typist := dial(t, srv, "user=user-1&topicId=math")
	next(t, typist, models.EventSubscriptionAck)
	watcher := dial(t, srv, "user=user-2&topicId=math")
	next(t, watcher, models.EventSubscriptionAck)

	send(t, typist, models.EventTypingStart, nil)

	ev := next(t, watcher, models.EventTypingStart)
	var data models.TypingData
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	assert.Equal(t, "user-1", data.UserId)
}

func TestClient_DisconnectDeregisters(t *testing.T) {
	hub := startHub(t)
	srv := startServer(t, hub, HandlerOptions{})

	conn := dial(t, srv, "user=user-1&topicId=math")
	next(t, conn, models.EventSubscriptionAck)
	require.Equal(t, []string{"user-1"}, hub.TopicUsers("math"))

	conn.Close()

	require.Eventually(t, func() bool { return len(hub.TopicUsers("math")) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHandler_RequiresIdentity(t *testing.T) {
	hub := startHub(t)
	srv := startServer(t, hub, HandlerOptions{})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_CheckOrigin(t *testing.T) {
	check := originChecker([]string{"https://portal.example.edu/"})

	tests := []struct {
		origin string
		want   bool
	}{
		{"https://portal.example.edu", true},
		{"https://evil.example", false},
		{"", true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, check(r), tt.origin)
	}

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://anything")
	assert.True(t, originChecker(nil)(r))
	assert.True(t, originChecker([]string{"*"})(r))
}
