package ws

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"go-forum/internal/forum"
	"go-forum/internal/models"
)

const broadcastBuffer = 256

// Hub maintains one broadcast group per topic and fans events out to the
// subscriptions registered in it.
type Hub struct {
	// topicId -> set of live subscriptions
	topics map[string]map[*Subscription]bool

	// Guards topics for readers outside the run loop
	mu sync.RWMutex

	register   chan *Subscription
	unregister chan *Subscription

	// Broadcast carries encoded events in publish order. Exported for the
	// Redis bridge.
	Broadcast chan *models.BroadcastMessage

	// relay carries presence and typing events to every hub serving a topic.
	// Defaults to the hub itself.
	relay Relay

	metrics *Metrics
	log     zerolog.Logger

	done     chan struct{}
	stopOnce sync.Once
}

func NewHub(metrics *Metrics, log zerolog.Logger) *Hub {
	h := &Hub{
		topics:     make(map[string]map[*Subscription]bool),
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		Broadcast:  make(chan *models.BroadcastMessage, broadcastBuffer),
		metrics:    metrics,
		log:        log.With().Str("component", "hub").Logger(),
		done:       make(chan struct{}),
	}
	h.relay = h
	return h
}

// UseRelay routes presence and typing events through r instead of
// delivering them locally. Call before Run.
func (h *Hub) UseRelay(r Relay) {
	h.relay = r
}

// Run processes registrations and broadcasts until ctx is done, then closes
// every subscription.
func (h *Hub) Run(ctx context.Context) error {
	h.log.Info().Msg("starting hub event loop")
	defer h.stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("stopping hub event loop")
			return nil

		case sub := <-h.register:
			h.registerSubscription(sub)

		case sub := <-h.unregister:
			h.unregisterSubscription(sub)

		case msg := <-h.Broadcast:
			h.broadcastToTopic(msg)
		}
	}
}

func (h *Hub) stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		defer h.mu.Unlock()
		for topicID, group := range h.topics {
			for sub := range group {
				sub.close()
				sub.conn.shutdown()
			}
			delete(h.topics, topicID)
		}
		h.metrics.groups.Set(0)
		h.metrics.subscriptions.Set(0)
	})
}

// Subscribe registers sub with its topic's group. The subscription is
// acknowledged on its connection before any event of the topic reaches it.
func (h *Hub) Subscribe(ctx context.Context, sub *Subscription) error {
	select {
	case h.register <- sub:
		return nil
	case <-h.done:
		return fmt.Errorf("%w: hub is stopped", forum.ErrTransport)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe stops deliveries to sub immediately and removes it from its
// group. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	sub.unsubscribe()
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

func (h *Hub) registerSubscription(sub *Subscription) {
	if !sub.markSubscribed() {
		h.log.Debug().Str("subscription", sub.ID).Str("state", sub.State().String()).
			Msg("ignoring registration of inactive subscription")
		return
	}

	h.mu.Lock()
	group, ok := h.topics[sub.TopicID]
	if !ok {
		h.log.Debug().Str("topic", sub.TopicID).Msg("creating broadcast group")
		group = make(map[*Subscription]bool)
		h.topics[sub.TopicID] = group
		h.metrics.groups.Inc()
	}
	group[sub] = true
	count := len(group)
	h.mu.Unlock()
	h.metrics.subscriptions.Inc()

	ack, err := models.NewEvent(models.EventSubscriptionAck, sub.TopicID, models.SubscriptionAckData{
		TopicID:        sub.TopicID,
		SubscriptionID: sub.ID,
	}).Encode()
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode subscription ack")
	} else if !sub.conn.enqueue(sub, ack.Payload, false) {
		h.dropSubscription(sub, "ack")
		return
	}

	h.log.Info().Str("user", sub.UserID).Str("topic", sub.TopicID).Int("subscribers", count).
		Msg("subscription registered")

	h.publishPresence(models.EventPresenceJoin, sub)
}

func (h *Hub) unregisterSubscription(sub *Subscription) {
	if !h.removeFromGroup(sub) {
		return
	}
	h.log.Info().Str("user", sub.UserID).Str("topic", sub.TopicID).Msg("subscription unregistered")
	h.publishPresence(models.EventPresenceLeave, sub)
}

// removeFromGroup deletes sub from its group and the group once empty. It
// reports whether sub was registered.
func (h *Hub) removeFromGroup(sub *Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscription) bool {
	group, ok := h.topics[sub.TopicID]
	if !ok || !group[sub] {
		return false
	}
	delete(group, sub)
	h.metrics.subscriptions.Dec()
	if len(group) == 0 {
		h.log.Debug().Str("topic", sub.TopicID).Msg("broadcast group is empty, removing")
		delete(h.topics, sub.TopicID)
		h.metrics.groups.Dec()
	}
	return true
}

// dropSubscription handles a subscription whose connection can't take more
// data: it is closed, deregistered and its connection shut down.
func (h *Hub) dropSubscription(sub *Subscription, during string) {
	h.mu.Lock()
	h.dropLocked(sub, during)
	h.mu.Unlock()
}

func (h *Hub) dropLocked(sub *Subscription, during string) {
	h.removeLocked(sub)
	sub.close()
	sub.conn.shutdown()
	h.metrics.dropped.Inc()
	h.log.Warn().Err(forum.ErrTransport).Str("user", sub.UserID).Str("topic", sub.TopicID).
		Str("during", during).Msg("send queue full, dropping subscription")
}

func (h *Hub) broadcastToTopic(msg *models.BroadcastMessage) {
	h.metrics.events.WithLabelValues(msg.Type).Inc()

	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.topics[msg.TopicID]
	if !ok {
		h.log.Debug().Str("topic", msg.TopicID).Str("type", msg.Type).Msg("no subscribers for topic")
		return
	}

	final := msg.Type == models.EventTopicDeleted
	sent, failed := 0, 0
	for sub := range group {
		// Unsubscribed entries wait for their unregister request.
		if !sub.Active() {
			continue
		}
		if !sub.conn.enqueue(sub, msg.Payload, final) {
			h.dropLocked(sub, msg.Type)
			failed++
			// The rest of the group saw this user join; a deleted topic has no one left to tell.
			if !final {
				h.publishPresence(models.EventPresenceLeave, sub)
			}
			continue
		}
		sent++
	}
	h.metrics.delivered.Add(float64(sent))

	h.log.Debug().Str("topic", msg.TopicID).Str("type", msg.Type).
		Int("sent", sent).Int("failed", failed).Msg("broadcast complete")

	if final {
		h.closeGroupLocked(msg.TopicID)
	}
}

// closeGroupLocked ends every subscription of a deleted topic. Connections stay
// open so their clients can subscribe elsewhere.
func (h *Hub) closeGroupLocked(topicID string) {
	group, ok := h.topics[topicID]
	if !ok {
		return
	}
	for sub := range group {
		sub.close()
	}
	h.metrics.subscriptions.Sub(float64(len(group)))
	h.metrics.groups.Dec()
	delete(h.topics, topicID)
	h.log.Info().Str("topic", topicID).Int("subscriptions", len(group)).Msg("topic deleted, closed broadcast group")
}

// publishPresence hands the event to the relay off the run loop, since the
// relay may be the hub itself.
func (h *Hub) publishPresence(eventType string, sub *Subscription) {
	event := models.NewEvent(eventType, sub.TopicID, models.PresenceData{
		UserId:   sub.UserID,
		UserName: sub.UserName,
	})
	go func() {
		if err := h.relay.PublishEvent(context.Background(), event); err != nil {
			h.log.Warn().Err(err).Str("type", eventType).Str("topic", sub.TopicID).Msg("failed to publish presence")
		}
	}()
}

// PublishEvent queues event for local fan-out.
func (h *Hub) PublishEvent(ctx context.Context, event models.Event) error {
	msg, err := event.Encode()
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	return h.Deliver(ctx, msg)
}

// Deliver queues an already encoded event for local fan-out.
func (h *Hub) Deliver(ctx context.Context, msg *models.BroadcastMessage) error {
	select {
	case h.Broadcast <- msg:
		return nil
	case <-h.done:
		return fmt.Errorf("%w: hub is stopped", forum.ErrTransport)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TopicUsers returns the distinct users connected to a topic, sorted.
func (h *Hub) TopicUsers(topicID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]bool)
	users := []string{}
	for sub := range h.topics[topicID] {
		if !seen[sub.UserID] {
			seen[sub.UserID] = true
			users = append(users, sub.UserID)
		}
	}
	sort.Strings(users)
	return users
}

// Stats reports the number of broadcast groups and live subscriptions.
func (h *Hub) Stats() (groups, subscriptions int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, group := range h.topics {
		subscriptions += len(group)
	}
	return len(h.topics), subscriptions
}
