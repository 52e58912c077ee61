package storage

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/ruteri/ceremony-coordinator/interfaces"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// exerciseBackend runs the ChunkStorage contract against a backend.
func exerciseBackend(t *testing.T, b interfaces.ChunkStorage) {
	ctx := context.Background()
	challenge := interfaces.NewContributionLocator(1, 2, 0, true).Locator()
	response := interfaces.NewContributionLocator(1, 2, 1, false).Locator()
	copied := interfaces.NewContributionLocator(2, 2, 0, true).Locator()

	exists, err := b.Exists(ctx, challenge)
	require.NoError(t, err)
	require.False(t, exists)

	_, err = b.Read(ctx, challenge)
	require.ErrorIs(t, err, interfaces.ErrNotFound)

	require.NoError(t, b.Initialize(ctx, response, 128))
	size, err := b.Size(ctx, response)
	require.NoError(t, err)
	require.Equal(t, uint64(128), size)
	data, err := b.Read(ctx, response)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 128), data)

	payload := bytes.Repeat([]byte("transcript"), 50)
	require.NoError(t, b.Write(ctx, challenge, payload))
	data, err = b.Read(ctx, challenge)
	require.NoError(t, err)
	require.Equal(t, payload, data)

	require.NoError(t, b.Copy(ctx, challenge, copied))
	data, err = b.Read(ctx, copied)
	require.NoError(t, err)
	require.Equal(t, payload, data)

	require.NoError(t, b.Remove(ctx, copied))
	exists, err = b.Exists(ctx, copied)
	require.NoError(t, err)
	require.False(t, exists)
	require.NoError(t, b.Remove(ctx, copied))

	require.True(t, b.Available(ctx))
}

func TestFileBackend(t *testing.T) {
	b, err := NewFileBackend(t.TempDir(), newTestLogger())
	require.NoError(t, err)
	exerciseBackend(t, b)
}

func TestCanceledWriteKeepsStoredData(t *testing.T) {
	file, err := NewFileBackend(t.TempDir(), newTestLogger())
	require.NoError(t, err)
	db, err := NewPebbleBackend(filepath.Join(t.TempDir(), "db"), newTestLogger())
	require.NoError(t, err)
	defer db.Close()

	for _, b := range []interfaces.ChunkStorage{file, db} {
		t.Run(b.Name(), func(t *testing.T) {
			loc := interfaces.NewContributionLocator(1, 0, 1, false).Locator()
			require.NoError(t, b.Write(context.Background(), loc, []byte("current")))

			canceled, cancel := context.WithCancel(context.Background())
			cancel()
			require.ErrorIs(t, b.Write(canceled, loc, []byte("stale")), context.Canceled)
			require.ErrorIs(t, b.Remove(canceled, loc), context.Canceled)

			data, err := b.Read(context.Background(), loc)
			require.NoError(t, err)
			require.Equal(t, []byte("current"), data)
		})
	}
}

func TestFileBackendLayout(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir, newTestLogger())
	require.NoError(t, err)

	loc := interfaces.NewContributionLocator(3, 1, 2, true)
	require.NoError(t, b.Write(context.Background(), loc.SignatureLocator().Locator(), []byte("{}")))
	require.FileExists(t, filepath.Join(dir, "round_3", "chunk_1", "contribution_2.verified.signature"))
}

func TestPebbleBackend(t *testing.T) {
	b, err := NewPebbleBackend(filepath.Join(t.TempDir(), "db"), newTestLogger())
	require.NoError(t, err)
	defer b.Close()
	exerciseBackend(t, b)
}

func TestCompressedBackend(t *testing.T) {
	inner, err := NewFileBackend(t.TempDir(), newTestLogger())
	require.NoError(t, err)
	b, err := NewCompressedBackend(inner)
	require.NoError(t, err)
	defer b.Close()
	exerciseBackend(t, b)

	// zero-filled transcripts compress well
	ctx := context.Background()
	loc := interfaces.NewContributionLocator(5, 0, 1, false).Locator()
	require.NoError(t, b.Initialize(ctx, loc, 1<<16))
	stored, err := inner.Size(ctx, loc)
	require.NoError(t, err)
	require.Less(t, stored, uint64(1<<10))
}

func TestStorageBackendFactory(t *testing.T) {
	sf := NewStorageBackendFactory(newTestLogger())
	dir := t.TempDir()

	location, err := interfaces.NewStorageBackendLocation("file://" + dir)
	require.NoError(t, err)
	b, err := sf.StorageBackendFor(location)
	require.NoError(t, err)
	require.IsType(t, &FileBackend{}, b)

	location, err = interfaces.NewStorageBackendLocation("file://" + dir + "?compress=zstd")
	require.NoError(t, err)
	b, err = sf.StorageBackendFor(location)
	require.NoError(t, err)
	require.IsType(t, &CompressedBackend{}, b)

	mirrorLocation, err := interfaces.NewStorageBackendLocation("file://" + t.TempDir())
	require.NoError(t, err)
	primaryLocation, err := interfaces.NewStorageBackendLocation("file://" + dir)
	require.NoError(t, err)
	b, err = sf.CreateMirroredBackend([]interfaces.StorageBackendLocation{primaryLocation, mirrorLocation})
	require.NoError(t, err)
	require.IsType(t, &MirroredBackend{}, b)
	exerciseBackend(t, b)

	_, err = interfaces.NewStorageBackendLocation("github://owner/repo")
	require.Error(t, err)
}
