package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/ruteri/ceremony-coordinator/interfaces"
)

// MirroredBackend writes to a primary backend and replicates every mutation
// to mirrors. The primary is authoritative: its failures are returned, mirror
// failures are logged. Reads fall back to mirrors when the primary errors.
type MirroredBackend struct {
	primary interfaces.ChunkStorage
	mirrors []interfaces.ChunkStorage
	log     *slog.Logger
}

func NewMirroredBackend(primary interfaces.ChunkStorage, mirrors []interfaces.ChunkStorage, logger *slog.Logger) *MirroredBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &MirroredBackend{
		primary: primary,
		mirrors: mirrors,
		log:     logger,
	}
}

func (m *MirroredBackend) Initialize(ctx context.Context, loc interfaces.Locator, size uint64) error {
	return m.mutate(ctx, "initialize", loc, func(b interfaces.ChunkStorage) error {
		return b.Initialize(ctx, loc, size)
	})
}

func (m *MirroredBackend) Write(ctx context.Context, loc interfaces.Locator, data []byte) error {
	return m.mutate(ctx, "write", loc, func(b interfaces.ChunkStorage) error {
		return b.Write(ctx, loc, data)
	})
}

func (m *MirroredBackend) Copy(ctx context.Context, src, dst interfaces.Locator) error {
	return m.mutate(ctx, "copy", dst, func(b interfaces.ChunkStorage) error {
		return b.Copy(ctx, src, dst)
	})
}

func (m *MirroredBackend) Remove(ctx context.Context, loc interfaces.Locator) error {
	return m.mutate(ctx, "remove", loc, func(b interfaces.ChunkStorage) error {
		return b.Remove(ctx, loc)
	})
}

func (m *MirroredBackend) Read(ctx context.Context, loc interfaces.Locator) ([]byte, error) {
	data, err := m.primary.Read(ctx, loc)
	if err == nil || errors.Is(err, interfaces.ErrNotFound) {
		return data, err
	}

	start := time.Now()
	var result *multierror.Error
	result = multierror.Append(result, fmt.Errorf("%s: %w", m.primary.Name(), err))

	for _, mirror := range m.mirrors {
		data, err := mirror.Read(ctx, loc)
		if err == nil {
			m.log.Warn("Read served by mirror",
				slog.String("backend_name", mirror.Name()),
				slog.String("locator", loc.String()),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}
		result = multierror.Append(result, fmt.Errorf("%s: %w", mirror.Name(), err))
	}

	return nil, fmt.Errorf("all backends failed to read %s: %w", loc, result.ErrorOrNil())
}

func (m *MirroredBackend) Exists(ctx context.Context, loc interfaces.Locator) (bool, error) {
	return m.primary.Exists(ctx, loc)
}

func (m *MirroredBackend) Size(ctx context.Context, loc interfaces.Locator) (uint64, error) {
	return m.primary.Size(ctx, loc)
}

func (m *MirroredBackend) Available(ctx context.Context) bool {
	return m.primary.Available(ctx)
}

func (m *MirroredBackend) Name() string {
	return "mirrored-" + m.primary.Name()
}

// LocationURI returns the primary and mirror URIs.
func (m *MirroredBackend) LocationURI() string {
	locations := []string{m.primary.LocationURI()}
	for _, mirror := range m.mirrors {
		locations = append(locations, mirror.LocationURI())
	}
	return "multi:[" + strings.Join(locations, ",") + "]"
}

func (m *MirroredBackend) Close() error {
	var result *multierror.Error
	if err := m.primary.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	for _, mirror := range m.mirrors {
		if err := mirror.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (m *MirroredBackend) mutate(ctx context.Context, op string, loc interfaces.Locator, fn func(interfaces.ChunkStorage) error) error {
	if err := fn(m.primary); err != nil {
		return err
	}

	var result *multierror.Error
	for _, mirror := range m.mirrors {
		if err := fn(mirror); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", mirror.Name(), err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		m.log.Warn("Mirror replication failed",
			slog.String("op", op),
			slog.String("locator", loc.String()),
			slog.Int("failed_mirrors", len(result.Errors)),
			"err", err)
	}
	return nil
}
