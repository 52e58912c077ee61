package storage

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/ruteri/ceremony-coordinator/interfaces"
)

// StorageBackendFactory creates chunk storage backends from URI strings.
type StorageBackendFactory struct {
	log *slog.Logger
}

func NewStorageBackendFactory(logger *slog.Logger) *StorageBackendFactory {
	return &StorageBackendFactory{log: logger}
}

// StorageBackendFor creates a storage backend from a location URI.
//
// Supported schemes:
//   - file:///var/lib/ceremony - Local filesystem storage
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-east-1&endpoint=... - S3 or compatible
//   - pebble:///var/lib/ceremony.db - Embedded Pebble database
//
// Adding compress=zstd to the query wraps the backend in CompressedBackend.
func (sf *StorageBackendFactory) StorageBackendFor(location interfaces.StorageBackendLocation) (interfaces.ChunkStorage, error) {
	var (
		backend interfaces.ChunkStorage
		err     error
	)

	switch strings.ToLower(location.Scheme) {
	case "file":
		backend, err = sf.createFileBackend(location)
	case "s3":
		backend, err = sf.createS3Backend(location)
	case "pebble":
		backend, err = sf.createPebbleBackend(location)
	default:
		return nil, fmt.Errorf("unsupported backend scheme: %s", location.Scheme)
	}
	if err != nil {
		return nil, err
	}

	switch location.GetParam("compress") {
	case "":
		return backend, nil
	case "zstd":
		return NewCompressedBackend(backend)
	default:
		return nil, fmt.Errorf("unsupported compression %q", location.GetParam("compress"))
	}
}

// CreateMirroredBackend uses the first URI as primary and replicates to the rest.
func (sf *StorageBackendFactory) CreateMirroredBackend(locations []interfaces.StorageBackendLocation) (interfaces.ChunkStorage, error) {
	if len(locations) == 0 {
		return nil, fmt.Errorf("no storage location configured")
	}

	primary, err := sf.StorageBackendFor(locations[0])
	if err != nil {
		return nil, fmt.Errorf("primary storage: %w", err)
	}
	if len(locations) == 1 {
		return primary, nil
	}

	mirrors := make([]interfaces.ChunkStorage, 0, len(locations)-1)
	for _, location := range locations[1:] {
		mirror, err := sf.StorageBackendFor(location)
		if err != nil {
			sf.log.Warn("Failed to create mirror backend", "err", err, slog.String("locationURI", location.String()))
			continue
		}
		mirrors = append(mirrors, mirror)
	}

	return NewMirroredBackend(primary, mirrors, sf.log), nil
}

func (sf *StorageBackendFactory) createFileBackend(location interfaces.StorageBackendLocation) (interfaces.ChunkStorage, error) {
	dir := location.Path
	if location.Host != "" {
		dir = filepath.Join(location.Host, location.Path)
	}
	if dir == "" {
		return nil, fmt.Errorf("file storage requires a path")
	}
	return NewFileBackend(dir, sf.log)
}

func (sf *StorageBackendFactory) createPebbleBackend(location interfaces.StorageBackendLocation) (interfaces.ChunkStorage, error) {
	dir := location.Path
	if location.Host != "" {
		dir = filepath.Join(location.Host, location.Path)
	}
	if dir == "" {
		return nil, fmt.Errorf("pebble storage requires a path")
	}
	return NewPebbleBackend(dir, sf.log)
}

// createS3Backend creates an S3 or S3-compatible storage backend.
func (sf *StorageBackendFactory) createS3Backend(location interfaces.StorageBackendLocation) (interfaces.ChunkStorage, error) {
	bucketName := location.Host
	if bucketName == "" {
		return nil, fmt.Errorf("s3 storage requires a bucket")
	}

	region := location.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if location.Auth != "" {
		accessKey, secretKey, _ = strings.Cut(location.Auth, ":")
	}

	return NewS3Backend(bucketName, strings.TrimPrefix(location.Path, "/"), region, location.GetParam("endpoint"), accessKey, secretKey, sf.log)
}
