// Package viewer is a Go client for one forum topic. It keeps a local view of
// the topic's messages in sync by combining the live WebSocket push with REST
// history fetches, de-duplicating by message id.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"go-forum/internal/forum"
	"go-forum/internal/models"
	"go-forum/internal/ws"
)

const (
	ackTimeout = 10 * time.Second
	writeWait  = 10 * time.Second
)

var (
	ErrNoTopic      = errors.New("viewer: no topic open")
	ErrTopicDeleted = fmt.Errorf("viewer: topic %w", forum.ErrNotFound)
)

type Options struct {
	// BaseURL of the forum server, e.g. http://localhost:8080.
	BaseURL string
	Token   string
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Viewer shows one topic at a time. It holds at most one live subscription;
// opening another topic or closing the viewer tears it down first.
type Viewer struct {
	api    *API
	wsURL  string
	token  string
	dialer *websocket.Dialer
	log    zerolog.Logger

	mu        sync.Mutex
	topicID   string
	conn      *websocket.Conn
	gen       uint64
	connected bool
	deleted   bool
	byID      map[uint64]models.Message
	lastSeq   int64
	cursor    string
	updates   chan struct{}
}

func New(opts Options, log zerolog.Logger) (*Viewer, error) {
	u, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	u.Path += "/ws"

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	return &Viewer{
		api:     NewAPI(opts.BaseURL, opts.Token, opts.HTTPClient),
		wsURL:   u.String(),
		token:   opts.Token,
		dialer:  dialer,
		log:     log.With().Str("component", "viewer").Logger(),
		byID:    make(map[uint64]models.Message),
		updates: make(chan struct{}, 1),
	}, nil
}

// API exposes the REST client the viewer uses.
func (v *Viewer) API() *API { return v.api }

// Open switches the viewer to topicID. It subscribes first and then fetches
// the newest page of history, so nothing appended in between is missed.
func (v *Viewer) Open(ctx context.Context, topicID string) error {
	v.mu.Lock()
	v.teardownLocked()
	v.topicID = topicID
	v.deleted = false
	v.byID = make(map[uint64]models.Message)
	v.lastSeq = 0
	v.cursor = ""
	v.mu.Unlock()

	if err := v.connect(ctx, topicID); err != nil {
		v.mu.Lock()
		if v.topicID == topicID {
			v.topicID = ""
		}
		v.mu.Unlock()
		return err
	}

	page, err := v.api.ListMessages(ctx, topicID, "", 0)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}

	v.mu.Lock()
	if v.topicID == topicID {
		v.cursor = page.NextCursor
		v.mergeLocked(page.Messages)
	}
	v.mu.Unlock()
	v.notify()
	return nil
}

// LoadOlder fetches the page of history before the oldest one loaded. It
// returns false once the start of the topic has been reached.
func (v *Viewer) LoadOlder(ctx context.Context) (bool, error) {
	v.mu.Lock()
	topicID, cursor := v.topicID, v.cursor
	v.mu.Unlock()
	if topicID == "" {
		return false, ErrNoTopic
	}
	if cursor == "" {
		return false, nil
	}

	page, err := v.api.ListMessages(ctx, topicID, cursor, 0)
	if err != nil {
		return false, err
	}

	v.mu.Lock()
	if v.topicID == topicID {
		v.cursor = page.NextCursor
		v.mergeLocked(page.Messages)
	}
	more := v.cursor != ""
	v.mu.Unlock()
	v.notify()
	return more, nil
}

// Resync reopens the subscription after a dropped connection and fetches
// every message committed since the last one the viewer has.
func (v *Viewer) Resync(ctx context.Context) error {
	v.mu.Lock()
	topicID := v.topicID
	after := v.lastSeq
	v.teardownLocked()
	v.mu.Unlock()
	if topicID == "" {
		return ErrNoTopic
	}

	if err := v.connect(ctx, topicID); err != nil {
		return err
	}

	for {
		msgs, err := v.api.ListMessagesSince(ctx, topicID, after, 0)
		if err != nil {
			return fmt.Errorf("fetch missed messages: %w", err)
		}
		if len(msgs) == 0 {
			break
		}
		after = msgs[len(msgs)-1].Seq

		v.mu.Lock()
		if v.topicID == topicID {
			v.mergeLocked(msgs)
		}
		v.mu.Unlock()
	}
	v.notify()
	return nil
}

// Send appends a message to the open topic. The local view is not touched:
// the message shows up once the server pushes it back.
func (v *Viewer) Send(ctx context.Context, content, attachmentRef string) (models.Message, error) {
	v.mu.Lock()
	topicID := v.topicID
	v.mu.Unlock()
	if topicID == "" {
		return models.Message{}, ErrNoTopic
	}
	return v.api.AppendMessage(ctx, topicID, content, attachmentRef)
}

// Upload stores an attachment and returns the ref to pass to Send.
func (v *Viewer) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	info, err := v.api.Upload(ctx, name, r)
	if err != nil {
		return "", err
	}
	return info.Ref, nil
}

// Typing tells the other viewers of the topic whether this user is typing.
func (v *Viewer) Typing(typing bool) error {
	eventType := models.EventTypingStop
	if typing {
		eventType = models.EventTypingStart
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.conn == nil || !v.connected {
		return ErrNoTopic
	}
	v.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return v.conn.WriteJSON(models.NewEvent(eventType, v.topicID, nil))
}

// Close drops the subscription. It is safe to call more than once.
func (v *Viewer) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.teardownLocked()
	v.topicID = ""
	return nil
}

// Messages returns a snapshot of the view in seq order.
func (v *Viewer) Messages() []models.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]models.Message, 0, len(v.byID))
	for _, m := range v.byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Updates signals, without blocking the viewer, that the view or the
// connection state changed.
func (v *Viewer) Updates() <-chan struct{} {
	return v.updates
}

func (v *Viewer) TopicID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.topicID
}

// Connected reports whether the live subscription is up. A viewer that lost
// its connection needs Resync.
func (v *Viewer) Connected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connected
}

// Deleted reports whether the open topic was deleted while viewing it.
func (v *Viewer) Deleted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.deleted
}

// connect dials the server and waits for the subscription ack.
func (v *Viewer) connect(ctx context.Context, topicID string) error {
	q := url.Values{"topicId": {topicID}}
	if v.token != "" {
		q.Set("token", v.token)
	}

	conn, resp, err := v.dialer.DialContext(ctx, v.wsURL+"?"+q.Encode(), nil)
	if err != nil {
		if resp != nil {
			return &APIError{Status: resp.StatusCode, Message: "websocket handshake failed"}
		}
		return fmt.Errorf("%w: dial: %v", forum.ErrTransport, err)
	}

	if err := awaitAck(ctx, conn, topicID); err != nil {
		conn.Close()
		return err
	}

	v.mu.Lock()
	if v.topicID != topicID {
		v.mu.Unlock()
		conn.Close()
		return ErrNoTopic
	}
	v.teardownLocked()
	v.gen++
	v.conn = conn
	v.connected = true
	gen := v.gen
	v.mu.Unlock()

	v.log.Debug().Str("topic", topicID).Msg("subscribed")
	go v.readLoop(conn, gen)
	v.notify()
	return nil
}

func awaitAck(ctx context.Context, conn *websocket.Conn, topicID string) error {
	deadline := time.Now().Add(ackTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		var ev models.RawEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return fmt.Errorf("%w: waiting for subscription: %v", forum.ErrTransport, err)
		}
		switch ev.Type {
		case models.EventSubscriptionAck:
			var ack models.SubscriptionAckData
			if err := json.Unmarshal(ev.Data, &ack); err == nil && ack.TopicID == topicID {
				return nil
			}
		case models.EventTopicDeleted:
			if ev.TopicID == topicID {
				return ErrTopicDeleted
			}
		case models.EventError:
			var data models.ErrorData
			json.Unmarshal(ev.Data, &data)
			return subscribeError(data)
		}
	}
}

func subscribeError(data models.ErrorData) error {
	var class error
	switch data.Code {
	case ws.CodeNotFound:
		class = forum.ErrNotFound
	case ws.CodeForbidden:
		class = forum.ErrForbidden
	case ws.CodeInvalid:
		class = forum.ErrValidation
	default:
		class = forum.ErrTransport
	}
	return fmt.Errorf("%w: subscribe: %s", class, data.Message)
}

func (v *Viewer) readLoop(conn *websocket.Conn, gen uint64) {
	defer conn.Close()
	for {
		var ev models.RawEvent
		if err := conn.ReadJSON(&ev); err != nil {
			v.mu.Lock()
			current := v.gen == gen
			if current {
				v.connected = false
			}
			v.mu.Unlock()
			if current {
				v.log.Warn().Err(err).Msg("connection lost")
				v.notify()
			}
			return
		}
		v.handleEvent(ev, gen)
	}
}

func (v *Viewer) handleEvent(ev models.RawEvent, gen uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.gen != gen || ev.TopicID != v.topicID {
		return
	}

	switch ev.Type {
	case models.EventMessageCreated:
		var msg models.Message
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			v.log.Warn().Err(err).Msg("bad message frame")
			return
		}
		v.mergeLocked([]models.Message{msg})
	case models.EventTopicDeleted:
		v.deleted = true
		v.connected = false
	case models.EventError:
		var data models.ErrorData
		json.Unmarshal(ev.Data, &data)
		v.log.Warn().Str("code", data.Code).Str("message", data.Message).Msg("server error")
		return
	default:
		return
	}
	v.notifyLocked()
}

func (v *Viewer) mergeLocked(msgs []models.Message) {
	for _, m := range msgs {
		if m.TopicID != v.topicID {
			continue
		}
		if _, ok := v.byID[m.ID]; ok {
			continue
		}
		v.byID[m.ID] = m
		if m.Seq > v.lastSeq {
			v.lastSeq = m.Seq
		}
	}
}

func (v *Viewer) teardownLocked() {
	if v.conn == nil {
		return
	}
	v.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	v.conn.Close()
	v.conn = nil
	v.connected = false
	// Stale read loops see a different generation and stay quiet.
	v.gen++
}

func (v *Viewer) notify() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notifyLocked()
}

func (v *Viewer) notifyLocked() {
	select {
	case v.updates <- struct{}{}:
	default:
	}
}
