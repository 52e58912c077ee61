package storage

import (
	"context"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/ruteri/ceremony-coordinator/interfaces"
)

// CompressedBackend zstd-compresses objects before handing them to the wrapped backend.
type CompressedBackend struct {
	inner   interfaces.ChunkStorage
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewCompressedBackend(inner interfaces.ChunkStorage) (*CompressedBackend, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &CompressedBackend{inner: inner, encoder: encoder, decoder: decoder}, nil
}

func (b *CompressedBackend) Initialize(ctx context.Context, loc interfaces.Locator, size uint64) error {
	return b.Write(ctx, loc, make([]byte, size))
}

func (b *CompressedBackend) Read(ctx context.Context, loc interfaces.Locator) ([]byte, error) {
	compressed, err := b.inner.Read(ctx, loc)
	if err != nil {
		return nil, err
	}
	data, err := b.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s: %w", loc, err)
	}
	return data, nil
}

func (b *CompressedBackend) Write(ctx context.Context, loc interfaces.Locator, data []byte) error {
	return b.inner.Write(ctx, loc, b.encoder.EncodeAll(data, nil))
}

func (b *CompressedBackend) Copy(ctx context.Context, src, dst interfaces.Locator) error {
	return b.inner.Copy(ctx, src, dst)
}

func (b *CompressedBackend) Exists(ctx context.Context, loc interfaces.Locator) (bool, error) {
	return b.inner.Exists(ctx, loc)
}

func (b *CompressedBackend) Remove(ctx context.Context, loc interfaces.Locator) error {
	return b.inner.Remove(ctx, loc)
}

// Size returns the uncompressed size.
func (b *CompressedBackend) Size(ctx context.Context, loc interfaces.Locator) (uint64, error) {
	data, err := b.Read(ctx, loc)
	if err != nil {
		return 0, err
	}
	return uint64(len(data)), nil
}

func (b *CompressedBackend) Available(ctx context.Context) bool {
	return b.inner.Available(ctx)
}

func (b *CompressedBackend) Name() string {
	return "zstd-" + b.inner.Name()
}

func (b *CompressedBackend) LocationURI() string {
	return b.inner.LocationURI()
}

func (b *CompressedBackend) Close() error {
	b.decoder.Close()
	if err := b.encoder.Close(); err != nil {
		return err
	}
	return b.inner.Close()
}
