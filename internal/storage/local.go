package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage implements ObjectStorage on the local filesystem, for
// development and single-node deployments.
type LocalStorage struct {
	root      string
	publicURL string
}

// NewLocalStorage creates a filesystem-backed storage rooted at root.
// Parameters:
//   - root: base directory for stored objects; created if absent.
//   - publicURL: URL prefix served in GetURL; defaults to /files.
// Returns:
//   - *LocalStorage: initialized storage.
//   - error: non-nil if the root directory cannot be created.
func NewLocalStorage(root, publicURL string) (*LocalStorage, error) {
	if root == "" {
		root = "./data/audio"
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	if publicURL == "" {
		publicURL = "/files"
	}
	return &LocalStorage{
		root:      root,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

// path maps an object key to a filesystem path, rejecting traversal.
func (l *LocalStorage) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	return filepath.Join(l.root, clean), nil
}

// Upload writes an object to disk, syncing before rename so a crash never
// leaves a partial object under its final key.
func (l *LocalStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	path, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close object: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to finalize object: %w", err)
	}
	return nil
}

// Download opens an object for reading.
func (l *LocalStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := l.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	return f, nil
}

// GetURL returns the serving URL for an object.
func (l *LocalStorage) GetURL(key string) string {
	return l.publicURL + "/" + strings.TrimPrefix(key, "/")
}

// Delete removes an object.
func (l *LocalStorage) Delete(ctx context.Context, key string) error {
	path, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Exists checks whether an object exists.
func (l *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	path, err := l.path(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
