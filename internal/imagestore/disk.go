package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DiskStore writes images under a local directory.
type DiskStore struct {
	root string
}

func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating image dir: %w", err)
	}

	return &DiskStore{root: root}, nil
}

func (s *DiskStore) Put(_ context.Context, folder string, img Image) (string, error) {
	key := objectKey(folder, img.Name)
	full := filepath.Join(s.root, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("creating image folder: %w", err)
	}

	f, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("creating image file: %w", err)
	}

	if _, err := io.Copy(f, img.Body); err != nil {
		f.Close()
		os.Remove(full)

		return "", fmt.Errorf("writing image: %w", err)
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing image: %w", err)
	}

	return key, nil
}

func (s *DiskStore) Delete(_ context.Context, key string) error {
	clean := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return fmt.Errorf("invalid image path %q", key)
	}

	err := os.Remove(filepath.Join(s.root, clean))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting image: %w", err)
	}

	return nil
}
