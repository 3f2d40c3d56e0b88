package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"go-forum/internal/forum"
)

type createTopicRequest struct {
	Title    string `json:"title"`
	ImageRef string `json:"imageRef"`
}

// Nil fields keep their current value.
type updateTopicRequest struct {
	Title    *string `json:"title"`
	ImageRef *string `json:"imageRef"`
}

func forumUpdate(req updateTopicRequest) forum.TopicUpdate {
	return forum.TopicUpdate{Title: req.Title, ImageRef: req.ImageRef}
}

// ListTopics handles GET /api/v0/topics
func (h *Handler) ListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := h.topics.ListTopics(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"topics": topics,
		"count":  len(topics),
	})
}

// CreateTopic handles POST /api/v0/topics
func (h *Handler) CreateTopic(w http.ResponseWriter, r *http.Request) {
	var req createTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	topic, err := h.topics.CreateTopic(r.Context(), userID(r), req.Title, req.ImageRef)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, topic)
}

// GetTopic handles GET /api/v0/topics/{topicId}
func (h *Handler) GetTopic(w http.ResponseWriter, r *http.Request) {
	topic, err := h.topics.GetTopic(r.Context(), pathVar(r, "topicId"), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, topic)
}

// UpdateTopic handles PATCH /api/v0/topics/{topicId}
func (h *Handler) UpdateTopic(w http.ResponseWriter, r *http.Request) {
	var req updateTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	topic, err := h.topics.UpdateTopic(r.Context(), pathVar(r, "topicId"), userID(r), forumUpdate(req))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, topic)
}

// DeleteTopic handles DELETE /api/v0/topics/{topicId}
func (h *Handler) DeleteTopic(w http.ResponseWriter, r *http.Request) {
	if err := h.topics.DeleteTopic(r.Context(), pathVar(r, "topicId"), userID(r)); err != nil {
		h.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TopicPresence handles GET /api/v0/topics/{topicId}/presence
func (h *Handler) TopicPresence(w http.ResponseWriter, r *http.Request) {
	topicID := pathVar(r, "topicId")
	if _, err := h.topics.GetTopic(r.Context(), topicID, userID(r)); err != nil {
		h.fail(w, r, err)
		return
	}

	users := h.presence.TopicUsers(topicID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}
