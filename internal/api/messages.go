package api

import (
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"go-forum/internal/forum"
	"go-forum/internal/models"
)

type appendMessageRequest struct {
	Content       string `json:"content"`
	AttachmentRef string `json:"attachmentRef"`
	// Decimal string, like message ids in responses.
	ParentMessageID string `json:"parentMessageId"`
}

// ListMessages handles GET /api/v0/topics/{topicId}/messages
//
// Without "after" it returns a page of history ending at "cursor" (or at the
// newest message). With "after" it returns the messages following that seq.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	topicID := pathVar(r, "topicId")
	q := r.URL.Query()

	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	if s := q.Get("after"); s != "" {
		after, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be a message seq")
			return
		}
		msgs, err := h.messages.ListMessagesSince(r.Context(), topicID, after, limit)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if msgs == nil {
			msgs = []models.Message{}
		}
		writeJSON(w, http.StatusOK, models.MessagePage{Messages: msgs})
		return
	}

	page, err := h.messages.ListMessages(r.Context(), topicID, q.Get("cursor"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// AppendMessage handles POST /api/v0/topics/{topicId}/messages
//
// The response is only an acknowledgement; viewers render the pushed copy.
func (h *Handler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	var req appendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	var parent uint64
	if req.ParentMessageID != "" {
		var err error
		if parent, err = strconv.ParseUint(req.ParentMessageID, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "parentMessageId must be a message id")
			return
		}
	}

	msg, err := h.messages.AppendMessage(r.Context(), forum.AppendParams{
		TopicID:         pathVar(r, "topicId"),
		SenderID:        userID(r),
		Content:         req.Content,
		AttachmentRef:   req.AttachmentRef,
		ParentMessageID: parent,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}
