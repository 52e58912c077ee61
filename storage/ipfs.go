package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/klauspost/compress/zstd"
)

var ErrPublisherUnavailable = errors.New("ipfs node unavailable")

// IPFSPublisher adds zstd-compressed transcripts to an IPFS node and returns their CIDs.
type IPFSPublisher struct {
	shell   *shell.Shell
	apiURL  string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	log     *slog.Logger
}

// NewIPFSPublisher connects to the IPFS HTTP API at apiURL (host:port).
func NewIPFSPublisher(apiURL string, log *slog.Logger) (*IPFSPublisher, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &IPFSPublisher{
		shell:   shell.NewShell(apiURL),
		apiURL:  apiURL,
		encoder: encoder,
		decoder: decoder,
		log:     log,
	}, nil
}

// Publish adds the compressed transcript and returns its CID.
func (p *IPFSPublisher) Publish(ctx context.Context, name string, data []byte) (string, error) {
	if !p.shell.IsUp() {
		return "", ErrPublisherUnavailable
	}

	start := time.Now()
	cid, err := p.shell.Add(bytes.NewReader(p.encoder.EncodeAll(data, nil)))
	if err != nil {
		return "", fmt.Errorf("failed to add %s to IPFS: %w", name, err)
	}

	p.log.Info("Published transcript to IPFS",
		slog.String("name", name),
		slog.String("cid", cid),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))
	return cid, nil
}

// Fetch retrieves and decompresses a transcript previously published under cid.
func (p *IPFSPublisher) Fetch(ctx context.Context, cid string) ([]byte, error) {
	if !p.shell.IsUp() {
		return nil, ErrPublisherUnavailable
	}

	reader, err := p.shell.Cat("/ipfs/" + cid)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s from IPFS: %w", cid, err)
	}
	defer reader.Close()

	compressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from IPFS: %w", cid, err)
	}
	return p.decoder.DecodeAll(compressed, nil)
}

func (p *IPFSPublisher) Available(ctx context.Context) bool {
	return p.shell.IsUp()
}

func (p *IPFSPublisher) Name() string {
	return "ipfs-" + p.apiURL
}
