package storage

import (
	"strings"

	"github.com/dkessler/classpulse/internal/config"
)

// NewStorage creates an ObjectStorage instance based on the configuration.
// Parameters:
//   - cfg: storage configuration including type, endpoint, and credentials.
// Returns:
//   - ObjectStorage: initialized storage backend.
//   - error: non-nil if the backend cannot be created.
func NewStorage(cfg *config.StorageConfig) (ObjectStorage, error) {
	storageType := StorageType(cfg.Type)
	if storageType == "" {
		storageType = detectStorageType(cfg.Endpoint)
	}
	if storageType == StorageTypeLocal {
		return NewLocalStorage(cfg.LocalPath, cfg.PublicURL)
	}
	return NewS3Storage(cfg, storageType)
}

// detectStorageType guesses the backend from the endpoint. No endpoint means
// local disk, which keeps development setups credential-free.
func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)

	switch {
	case endpoint == "":
		return StorageTypeLocal
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}
