// Package fs stores attachments as files in a local directory.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"go-forum/internal/media"
)

type Handler struct {
	dir string
	log zerolog.Logger
}

// New creates dir if needed.
func New(dir string, log zerolog.Logger) (*Handler, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Handler{dir: dir, log: log.With().Str("component", "media").Logger()}, nil
}

func (h *Handler) Store(ctx context.Context, name, contentType string, r io.Reader) (media.Info, error) {
	ref := media.NewRef(name)

	// Write to a temp file first so a failed upload never leaves a partial
	// file under a valid ref.
	tmp, err := os.CreateTemp(h.dir, ".upload-*")
	if err != nil {
		return media.Info{}, fmt.Errorf("create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return media.Info{}, fmt.Errorf("write file: %w", err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(h.dir, ref)); err != nil {
		return media.Info{}, fmt.Errorf("finish upload: %w", err)
	}

	h.log.Debug().Str("ref", ref).Int64("size", size).Msg("finished upload")
	return media.Info{Ref: ref, Name: name, ContentType: media.ContentType(ref), Size: size}, nil
}

func (h *Handler) Resolve(ctx context.Context, ref string) (io.ReadCloser, media.Info, error) {
	if !media.ValidRef(ref) {
		return nil, media.Info{}, media.ErrNotFound
	}

	f, err := os.Open(filepath.Join(h.dir, ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, media.Info{}, media.ErrNotFound
	}
	if err != nil {
		return nil, media.Info{}, err
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, media.Info{}, err
	}
	return f, media.Info{Ref: ref, Name: ref, ContentType: media.ContentType(ref), Size: st.Size()}, nil
}

func (h *Handler) Delete(ctx context.Context, ref string) error {
	if !media.ValidRef(ref) {
		return media.ErrNotFound
	}
	err := os.Remove(filepath.Join(h.dir, ref))
	if errors.Is(err, fs.ErrNotExist) {
		return media.ErrNotFound
	}
	return err
}
