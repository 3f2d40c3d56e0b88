package ws

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"go-forum/internal/auth"
)

const defaultSendBuffer = 256

// HandlerOptions configures the WebSocket endpoint.
type HandlerOptions struct {
	// Origins allowed to open connections. Empty or "*" allows any.
	AllowedOrigins []string
	// Outbound frames queued per connection before it counts as too slow.
	SendBuffer int
}

// Handler upgrades authenticated requests to WebSocket connections. The
// caller's identity must already be in the request context.
type Handler struct {
	hub        *Hub
	topics     TopicLookup
	upgrader   websocket.Upgrader
	sendBuffer int
	log        zerolog.Logger
}

func NewHandler(hub *Hub, topics TopicLookup, opts HandlerOptions, log zerolog.Logger) *Handler {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	return &Handler{
		hub:    hub,
		topics: topics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
		sendBuffer: opts.SendBuffer,
		log:        log.With().Str("component", "ws").Logger(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// Optional; the client may subscribe later with a topic:subscribe frame.
	topicID := r.URL.Query().Get("topicId")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Str("user", id.UserID).Msg("failed to upgrade connection")
		return
	}

	h.log.Info().Str("user", id.UserID).Str("topic", topicID).Str("from", r.RemoteAddr).Msg("connection upgraded")

	client := newClient(h.hub, h.topics, conn, h.sendBuffer, id.UserID, id.Name, h.log)
	go client.WritePump()
	go client.ReadPump(topicID)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[strings.TrimSuffix(o, "/")] = true
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Non-browser clients send no Origin.
		return origin == "" || set[origin]
	}
}
