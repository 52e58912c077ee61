package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/ceremony-coordinator/interfaces"
)

// FileBackend stores every locator as a file under baseDir, laid out as
// round_{h}/chunk_{c}/contribution_{id}[.verified][.signature].
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates the base directory if it does not exist.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

func (b *FileBackend) Initialize(ctx context.Context, loc interfaces.Locator, size uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	filePath := b.path(loc)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		return fmt.Errorf("failed to size file: %w", err)
	}

	b.log.Debug("Initialized file", slog.String("path", filePath), slog.Uint64("size", size))
	return nil
}

func (b *FileBackend) Read(ctx context.Context, loc interfaces.Locator) ([]byte, error) {
	data, err := os.ReadFile(b.path(loc))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrNotFound, loc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Write replaces the file through a temporary file and rename so readers
// never observe a partial transcript.
func (b *FileBackend) Write(ctx context.Context, loc interfaces.Locator, data []byte) error {
	filePath := b.path(loc)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	// A caller that stopped waiting must not overwrite a newer version.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("failed to move file into place: %w", err)
	}

	b.log.Debug("Stored file", slog.String("path", filePath), slog.Int("size", len(data)))
	return nil
}

func (b *FileBackend) Copy(ctx context.Context, src, dst interfaces.Locator) error {
	in, err := os.Open(b.path(src))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", interfaces.ErrNotFound, src)
	}
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	if err := ctx.Err(); err != nil {
		return err
	}
	dstPath := b.path(dst)
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	out, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy file: %w", err)
	}
	return out.Close()
}

func (b *FileBackend) Exists(ctx context.Context, loc interfaces.Locator) (bool, error) {
	_, err := os.Stat(b.path(loc))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *FileBackend) Remove(ctx context.Context, loc interfaces.Locator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(b.path(loc))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

func (b *FileBackend) Size(ctx context.Context, loc interfaces.Locator) (uint64, error) {
	info, err := os.Stat(b.path(loc))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", interfaces.ErrNotFound, loc)
	}
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()), nil
}

// Available checks if the file backend is accessible by verifying the base directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

func (b *FileBackend) Close() error {
	return nil
}

func (b *FileBackend) path(loc interfaces.Locator) string {
	return filepath.Join(b.baseDir, filepath.FromSlash(loc.Path()))
}
