// Package imagestore keeps uploaded item images. Paths returned by Put are
// what postings and applications store.
package imagestore

import (
	"context"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"
)

type Image struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

type Store interface {
	Put(ctx context.Context, folder string, img Image) (string, error)
	Delete(ctx context.Context, path string) error
}

// objectKey builds folder/<uuid><ext>, keeping only the extension of the
// client-supplied name.
func objectKey(folder, name string) string {
	ext := strings.ToLower(path.Ext(name))
	if len(ext) > 6 {
		ext = ""
	}

	return path.Join(strings.Trim(folder, "/"), uuid.NewString()+ext)
}

// PutAll stores every image. If one fails, the ones already stored are
// removed before returning the error.
func PutAll(ctx context.Context, s Store, folder string, imgs []Image) ([]string, error) {
	paths := make([]string, 0, len(imgs))

	for _, img := range imgs {
		p, err := s.Put(ctx, folder, img)
		if err != nil {
			DeleteAll(ctx, s, paths)
			return nil, err
		}

		paths = append(paths, p)
	}

	return paths, nil
}

// DeleteAll removes paths best-effort.
func DeleteAll(ctx context.Context, s Store, paths []string) {
	for _, p := range paths {
		if err := s.Delete(ctx, p); err != nil {
			slog.Warn("failed to delete image", "path", p, "error", err)
		}
	}
}
