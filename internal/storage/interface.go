package storage

import (
	"context"
	"io"
)

// ObjectStorage abstracts where recording audio lives. Keys are flat paths
// like audio/<userID>/<sessionID>.mp3.
type ObjectStorage interface {
	// Upload stores an object
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download opens an object for reading
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetURL returns the URL for accessing an object
	GetURL(key string) string

	// Delete removes an object
	Delete(ctx context.Context, key string) error

	// Exists checks whether an object exists
	Exists(ctx context.Context, key string) (bool, error)
}

// AudioKey builds the canonical object key for a session's audio.
func AudioKey(userID, sessionID, ext string) string {
	if ext == "" {
		ext = "mp3"
	}
	return "audio/" + userID + "/" + sessionID + "." + ext
}
