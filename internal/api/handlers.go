// Package api exposes the forum over HTTP: REST routes for topics, messages
// and attachments, the WebSocket endpoint and ops routes.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"go-forum/internal/auth"
	"go-forum/internal/forum"
	"go-forum/internal/media"
)

// Presence lists the users connected to a topic.
type Presence interface {
	TopicUsers(topicID string) []string
}

// DependencyCheck probes one dependency for /ops/health.
type DependencyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Handler struct {
	topics    *forum.Directory
	messages  *forum.MessageLog
	media     media.Handler
	presence  Presence
	maxUpload int64
	checks    []DependencyCheck
	log       zerolog.Logger
}

type Options struct {
	MaxUploadBytes int64
	HealthChecks   []DependencyCheck
}

func NewHandler(topics *forum.Directory, messages *forum.MessageLog, attachments media.Handler, presence Presence, opts Options, log zerolog.Logger) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	return &Handler{
		topics:    topics,
		messages:  messages,
		media:     attachments,
		presence:  presence,
		maxUpload: opts.MaxUploadBytes,
		checks:    opts.HealthChecks,
		log:       log.With().Str("component", "api").Logger(),
	}
}

// userID returns the caller set by the auth middleware.
func userID(r *http.Request) string {
	id, _ := auth.FromContext(r.Context())
	return id.UserID
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}
