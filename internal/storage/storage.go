// Package storage holds uploaded document files. The filesystem
// implementation is the default; an object-store backend satisfies the same
// interface.
package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/ppdb-id/ppdb-backend/internal/apperr"
)

// BlobStore persists opaque file blobs and returns a stable URL for each.
type BlobStore interface {
	// Store writes the blob and returns its URL. The name is advisory; the
	// store picks the final key.
	Store(ctx context.Context, name string, r io.Reader) (url string, err error)
	// Delete removes a blob by the URL Store returned. Deleting a missing
	// blob is not an error.
	Delete(ctx context.Context, url string) error
}

// FSStore keeps blobs under a base directory, one generated name each, and
// serves them as file:// style relative URLs.
type FSStore struct {
	base string
}

func NewFSStore(base string) (*FSStore, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "create storage dir", err)
	}
	return &FSStore{base: base}, nil
}

func (s *FSStore) Store(_ context.Context, name string, r io.Reader) (string, error) {
	key := uuid.NewString() + sanitizeExt(name)
	path := filepath.Join(s.base, key)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "create blob", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", apperr.Wrap(apperr.KindInternal, "write blob", err)
	}
	return "/files/" + key, nil
}

func (s *FSStore) Delete(_ context.Context, url string) error {
	key := strings.TrimPrefix(url, "/files/")
	// Reject anything that could escape the base directory.
	if key == "" || key != filepath.Base(key) {
		return apperr.BadRequest("invalid blob url")
	}
	err := os.Remove(filepath.Join(s.base, key))
	if err != nil && !os.IsNotExist(err) {
		return apperr.Wrap(apperr.KindInternal, "delete blob", err)
	}
	return nil
}

// sanitizeExt keeps a short, safe file extension from the advisory name.
func sanitizeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) > 8 || strings.ContainsAny(ext, "/\\") {
		return ""
	}
	return ext
}
