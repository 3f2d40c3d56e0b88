package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"go-forum/internal/forum"
	"go-forum/internal/models"
)

const (
	// Time allowed to write a message
	writeWait = 10 * time.Second

	// Time allowed to read next pong message
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Max message size
	maxMessageSize = 512 * 1024 // 512 KB

	// Time allowed for a topic lookup when subscribing
	lookupTimeout = 5 * time.Second
)

// Error codes sent in error frames.
const (
	CodeInvalid     = "invalid"
	CodeNotFound    = "not_found"
	CodeForbidden   = "forbidden"
	CodeUnavailable = "unavailable"
	CodeInternal    = "internal"
	CodeUnknown     = "unknown_event"
)

// TopicLookup resolves a topic for a user. forum.Directory implements it.
type TopicLookup interface {
	GetTopic(ctx context.Context, topicID, userID string) (models.TopicView, error)
}

type outbound struct {
	// nil for frames addressed to the connection itself
	sub     *Subscription
	payload []byte
	final   bool
}

// Client is one WebSocket connection. It holds at most one subscription.
type Client struct {
	hub    *Hub
	topics TopicLookup
	conn   *websocket.Conn
	send   chan outbound

	closed    chan struct{}
	closeOnce sync.Once

	userID   string
	userName string

	// Only touched by the read pump.
	sub *Subscription

	log zerolog.Logger
}

func newClient(hub *Hub, topics TopicLookup, conn *websocket.Conn, sendBuffer int, userID, userName string, log zerolog.Logger) *Client {
	return &Client{
		hub:      hub,
		topics:   topics,
		conn:     conn,
		send:     make(chan outbound, sendBuffer),
		closed:   make(chan struct{}),
		userID:   userID,
		userName: userName,
		log:      log.With().Str("component", "client").Str("user", userID).Logger(),
	}
}

func (c *Client) enqueue(sub *Subscription, payload []byte, final bool) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- outbound{sub: sub, payload: payload, final: final}:
		return true
	default:
		return false
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// ReadPump pumps frames from the WebSocket to the hub. initialTopic, when
// set, is subscribed before the first frame is read.
func (c *Client) ReadPump(initialTopic string) {
	defer func() {
		c.leave()
		c.shutdown()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if initialTopic != "" {
		c.switchTopic(initialTopic)
	}

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("unexpected close")
			}
			return
		}

		select {
		case <-c.closed:
			return
		default:
		}

		c.handleClientMessage(message)
	}
}

// WritePump pumps queued frames from the hub to the WebSocket.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case out := <-c.send:
			// Pushes queued before a topic switch or close never go out.
			if out.sub != nil && !out.final && !out.sub.Active() {
				continue
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, out.payload); err != nil {
				c.log.Error().Err(err).Msg("failed to write frame")
				c.shutdown()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Error().Err(err).Msg("failed to send ping")
				c.shutdown()
				return
			}

		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) handleClientMessage(message []byte) {
	var msg models.RawEvent
	if err := json.Unmarshal(message, &msg); err != nil {
		c.log.Warn().Err(err).Msg("malformed frame")
		c.sendError(CodeInvalid, "malformed frame")
		return
	}

	switch msg.Type {
	case models.EventTopicSubscribe:
		var data models.SubscribeData
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				c.sendError(CodeInvalid, "malformed subscribe data")
				return
			}
		}
		if data.TopicID == "" {
			data.TopicID = msg.TopicID
		}
		c.switchTopic(data.TopicID)

	case models.EventTopicUnsubscribe:
		c.leave()

	case models.EventTypingStart, models.EventTypingStop:
		c.relayTyping(msg.Type)

	default:
		c.log.Warn().Str("type", msg.Type).Msg("unknown event type")
		c.sendError(CodeUnknown, "unknown event type "+msg.Type)
	}
}

// switchTopic replaces the current subscription with one for topicID.
func (c *Client) switchTopic(topicID string) {
	if topicID == "" {
		c.sendError(CodeInvalid, "topicId is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	if _, err := c.topics.GetTopic(ctx, topicID, c.userID); err != nil {
		code := errorCode(err)
		if code == CodeInternal {
			c.log.Error().Err(err).Str("topic", topicID).Msg("topic lookup failed")
			c.sendError(code, "topic lookup failed")
			return
		}
		c.sendError(code, err.Error())
		return
	}

	c.leave()

	sub := newSubscription(c, topicID, c.userID, c.userName)
	if err := c.hub.Subscribe(ctx, sub); err != nil {
		sub.close()
		c.log.Warn().Err(err).Str("topic", topicID).Msg("subscribe failed")
		c.sendError(CodeUnavailable, "subscription unavailable")
		return
	}
	c.sub = sub

	// A delete committed before the hub took the registration found no group
	// to notify, so look again now that the subscription is in place.
	if _, err := c.topics.GetTopic(ctx, topicID, c.userID); errors.Is(err, forum.ErrNotFound) {
		c.log.Info().Str("topic", topicID).Msg("topic deleted while subscribing")
		c.leave()
		c.sendEvent(models.NewEvent(models.EventTopicDeleted, topicID, models.TopicDeletedData{TopicID: topicID}))
	}
}

// leave tears down the current subscription, if any.
func (c *Client) leave() {
	if c.sub == nil {
		return
	}
	sub := c.sub
	c.sub = nil
	c.hub.Unsubscribe(sub)
	sub.close()
}

func (c *Client) relayTyping(eventType string) {
	if c.sub == nil || !c.sub.Active() {
		c.sendError(CodeInvalid, "not subscribed to a topic")
		return
	}

	event := models.NewEvent(eventType, c.sub.TopicID, models.TypingData{
		UserId:   c.userID,
		UserName: c.userName,
	})
	if err := c.hub.relay.PublishEvent(context.Background(), event); err != nil {
		c.log.Error().Err(err).Str("type", eventType).Str("topic", c.sub.TopicID).Msg("failed to publish typing event")
	}
}

func (c *Client) sendError(code, message string) {
	c.sendEvent(models.NewEvent(models.EventError, "", models.ErrorData{Code: code, Message: message}))
}

// sendEvent queues a frame addressed to this connection rather than to a
// subscription.
func (c *Client) sendEvent(event models.Event) {
	msg, err := event.Encode()
	if err != nil {
		c.log.Error().Err(err).Str("type", event.Type).Msg("failed to encode frame")
		return
	}
	if !c.enqueue(nil, msg.Payload, true) {
		c.log.Warn().Str("type", event.Type).Msg("send queue full, frame dropped")
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, forum.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, forum.ErrValidation):
		return CodeInvalid
	case errors.Is(err, forum.ErrForbidden):
		return CodeForbidden
	default:
		return CodeInternal
	}
}
