package capture

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileStaging persists in-flight recordings to local disk. Audio is written
// to a partial file during capture and atomically promoted on finalize, so a
// crash never leaves a listener-visible half-written recording.
type FileStaging struct {
	dir string
}

// NewFileStaging creates a staging area rooted at dir.
// Parameters:
//   - dir: directory for staged recordings; created if absent.
// Returns:
//   - *FileStaging: initialized staging area.
//   - error: non-nil if the directory cannot be created.
func NewFileStaging(dir string) (*FileStaging, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &FileStaging{dir: dir}, nil
}

// Begin opens a partial staging file for a session.
// Parameters:
//   - sessionID: session the recording belongs to.
// Returns:
//   - *StagedFile: open staging file; caller must Finalize or Discard.
//   - error: non-nil if the file cannot be created.
func (s *FileStaging) Begin(sessionID string) (*StagedFile, error) {
	partial := filepath.Join(s.dir, sessionID+".partial")
	f, err := os.Create(partial)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	return &StagedFile{
		f:       f,
		partial: partial,
		final:   filepath.Join(s.dir, sessionID+".raw"),
	}, nil
}

// StagedFile is one in-progress staged recording.
type StagedFile struct {
	f       *os.File
	partial string
	final   string
}

// Write appends audio bytes to the staging file.
func (sf *StagedFile) Write(p []byte) (int, error) {
	return sf.f.Write(p)
}

// Finalize flushes the file to disk and promotes it to its final name. Only
// after Finalize returns is the recording durable.
// Parameters: none.
// Returns:
//   - string: path of the finalized recording.
//   - error: non-nil if sync, close or rename fails.
func (sf *StagedFile) Finalize() (string, error) {
	if err := sf.f.Sync(); err != nil {
		sf.f.Close()
		return "", fmt.Errorf("failed to sync staging file: %w", err)
	}
	if err := sf.f.Close(); err != nil {
		return "", fmt.Errorf("failed to close staging file: %w", err)
	}
	if err := os.Rename(sf.partial, sf.final); err != nil {
		return "", fmt.Errorf("failed to promote staging file: %w", err)
	}
	return sf.final, nil
}

// Discard closes and removes the partial file.
func (sf *StagedFile) Discard() error {
	sf.f.Close()
	return os.Remove(sf.partial)
}
