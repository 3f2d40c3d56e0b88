// Package media defines the attachment store the forum hands files to. Messages
// and topics only carry the returned refs.
package media

import (
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("attachment not found")
	ErrInvalidRef = errors.New("invalid attachment ref")
)

// Info describes a stored attachment.
type Info struct {
	Ref         string `json:"ref"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// Handler must be implemented by attachment backends.
type Handler interface {
	// Store saves r under a new ref.
	Store(ctx context.Context, name, contentType string, r io.Reader) (Info, error)

	// Resolve opens a stored attachment. The caller closes the reader.
	Resolve(ctx context.Context, ref string) (io.ReadCloser, Info, error)

	// Delete removes an attachment. Returns ErrNotFound if it doesn't exist.
	Delete(ctx context.Context, ref string) error
}

var refPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}(\.[a-z0-9]{1,10})?$`)

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,10}$`)

// NewRef generates a ref for a file named name, keeping a sane extension so
// the content type can be recovered from the ref alone.
func NewRef(name string) string {
	ref := uuid.NewString()
	ext := strings.ToLower(path.Ext(name))
	if extPattern.MatchString(ext) {
		ref += ext
	}
	return ref
}

// ValidRef reports whether ref could have come from NewRef. Backends use it to
// keep refs from escaping their storage location.
func ValidRef(ref string) bool {
	return refPattern.MatchString(ref)
}

// ContentType guesses the content type of ref from its extension.
func ContentType(ref string) string {
	if ct := mime.TypeByExtension(path.Ext(ref)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
