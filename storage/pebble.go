package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/ruteri/ceremony-coordinator/interfaces"
)

const pebbleSyncInterval = 100 * time.Millisecond

// PebbleBackend keeps all objects in a single Pebble database keyed by
// locator path. Writes are not synced individually; a background loop syncs
// the WAL and Close performs a final sync.
type PebbleBackend struct {
	db          *pebble.DB
	log         *slog.Logger
	locationURI string

	stopSync chan struct{}
	wg       sync.WaitGroup
}

func NewPebbleBackend(path string, log *slog.Logger) (*PebbleBackend, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(64 << 20),
		MemTableSize:                32 << 20,
		MemTableStopWritesThreshold: 2,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}

	b := &PebbleBackend{
		db:          db,
		log:         log,
		locationURI: fmt.Sprintf("pebble://%s", path),
		stopSync:    make(chan struct{}),
	}
	b.startSyncLoop()
	return b, nil
}

func (b *PebbleBackend) Initialize(ctx context.Context, loc interfaces.Locator, size uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Set(key(loc), make([]byte, size), pebble.NoSync)
}

func (b *PebbleBackend) Read(ctx context.Context, loc interfaces.Locator) ([]byte, error) {
	value, closer, err := b.db.Get(key(loc))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrNotFound, loc)
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	// value is only valid until closer.Close()
	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

func (b *PebbleBackend) Write(ctx context.Context, loc interfaces.Locator, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Set(key(loc), data, pebble.NoSync)
}

func (b *PebbleBackend) Copy(ctx context.Context, src, dst interfaces.Locator) error {
	data, err := b.Read(ctx, src)
	if err != nil {
		return err
	}
	return b.Write(ctx, dst, data)
}

func (b *PebbleBackend) Exists(ctx context.Context, loc interfaces.Locator) (bool, error) {
	_, closer, err := b.db.Get(key(loc))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (b *PebbleBackend) Remove(ctx context.Context, loc interfaces.Locator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Delete(key(loc), pebble.NoSync)
}

func (b *PebbleBackend) Size(ctx context.Context, loc interfaces.Locator) (uint64, error) {
	value, closer, err := b.db.Get(key(loc))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s", interfaces.ErrNotFound, loc)
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	return uint64(len(value)), nil
}

func (b *PebbleBackend) Available(ctx context.Context) bool {
	return true
}

func (b *PebbleBackend) Name() string {
	return "pebble"
}

func (b *PebbleBackend) LocationURI() string {
	return b.locationURI
}

// Close stops the sync loop, syncs the WAL and closes the database.
func (b *PebbleBackend) Close() error {
	close(b.stopSync)
	b.wg.Wait()

	if err := b.db.LogData(nil, pebble.Sync); err != nil {
		return err
	}
	return b.db.Close()
}

func (b *PebbleBackend) startSyncLoop() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		ticker := time.NewTicker(pebbleSyncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := b.db.LogData(nil, pebble.Sync); err != nil {
					b.log.Warn("Pebble WAL sync failed", "err", err)
				}
			case <-b.stopSync:
				return
			}
		}
	}()
}

func key(loc interfaces.Locator) []byte {
	return []byte(loc.Path())
}
