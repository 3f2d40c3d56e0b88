//go:build integration

package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"go-forum/internal/models"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []*models.BroadcastMessage
}

func (s *recordingSink) Deliver(ctx context.Context, msg *models.BroadcastMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSink) all() []*models.BroadcastMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.BroadcastMessage(nil), s.msgs...)
}

// setupTestRedis starts a Redis container and returns a connected client.
func setupTestRedis(t *testing.T, ctx context.Context) *Client {
	t.Helper()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := NewClient(ctx, url, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestBridge_DeliversInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := setupTestRedis(t, ctx)

	sink := &recordingSink{}
	ready := make(chan struct{})
	errCh := make(chan error, 1)
	go func() { errCh <- SubscribeToEvents(ctx, client, sink, ready, zerolog.Nop()) }()

	select {
	case <-ready:
	case <-time.After(10 * time.Second):
		t.Fatal("subscription not confirmed")
	}

	for seq := int64(1); seq <= 20; seq++ {
		require.NoError(t, client.PublishEvent(ctx, models.NewEvent(models.EventMessageCreated, "math",
			models.Message{ID: uint64(seq), TopicID: "math", Seq: seq, Content: "m"})))
	}
	require.NoError(t, client.PublishEvent(ctx, models.NewEvent(models.EventTopicDeleted, "physics",
		models.TopicDeletedData{TopicID: "physics"})))

	require.Eventually(t, func() bool { return len(sink.all()) == 21 }, 5*time.Second, 10*time.Millisecond)

	msgs := sink.all()
	for i, m := range msgs[:20] {
		assert.Equal(t, "math", m.TopicID)
		assert.Equal(t, models.EventMessageCreated, m.Type)

		var ev models.RawEvent
		require.NoError(t, json.Unmarshal(m.Payload, &ev))
		var msg models.Message
		require.NoError(t, json.Unmarshal(ev.Data, &msg))
		assert.Equal(t, int64(i+1), msg.Seq)
	}
	assert.Equal(t, "physics", msgs[20].TopicID)
	assert.Equal(t, models.EventTopicDeleted, msgs[20].Type)

	require.NoError(t, client.Ping(ctx))

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop")
	}
}
