package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
)

const uploadField = "file"

// UploadAttachment handles POST /api/v0/attachments
func (h *Handler) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "attachment is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	info, err := h.media.Store(r.Context(), header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.log.Info().Str("ref", info.Ref).Str("user", userID(r)).Int64("size", info.Size).Msg("attachment stored")
	writeJSON(w, http.StatusCreated, info)
}

// GetAttachment handles GET /api/v0/attachments/{ref}
func (h *Handler) GetAttachment(w http.ResponseWriter, r *http.Request) {
	rc, info, err := h.media.Resolve(r.Context(), pathVar(r, "ref"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", info.ContentType)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		h.log.Warn().Err(err).Str("ref", info.Ref).Msg("failed to stream attachment")
	}
}
