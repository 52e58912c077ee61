package interfaces

import (
	"context"
	"fmt"
	"net/url"
)

// StorageBackendLocation represents URI for storage backend.
type StorageBackendLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname or bucket
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewStorageBackendLocation parses and validates a storage URI.
func NewStorageBackendLocation(uri string) (StorageBackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StorageBackendLocation{}, fmt.Errorf("invalid URI format: %w", err)
	}

	switch parsed.Scheme {
	case "file", "s3", "pebble":
	default:
		return StorageBackendLocation{}, fmt.Errorf("unsupported storage scheme: %q", parsed.Scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return StorageBackendLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

func (loc StorageBackendLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc StorageBackendLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// ChunkStorage is a byte store keyed by Locator.
type ChunkStorage interface {
	// Initialize creates a zero-filled object of the given size, replacing any existing one.
	Initialize(ctx context.Context, loc Locator, size uint64) error

	// Read returns the full object. Missing objects return ErrNotFound.
	Read(ctx context.Context, loc Locator) ([]byte, error)

	// Write replaces the object with data.
	Write(ctx context.Context, loc Locator, data []byte) error

	Copy(ctx context.Context, src, dst Locator) error
	Exists(ctx context.Context, loc Locator) (bool, error)
	Remove(ctx context.Context, loc Locator) error
	Size(ctx context.Context, loc Locator) (uint64, error)

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string

	Close() error
}

// TranscriptPublisher publishes finished transcripts to a content-addressed network.
type TranscriptPublisher interface {
	Publish(ctx context.Context, name string, data []byte) (string, error)
	Available(ctx context.Context) bool
	Name() string
}
