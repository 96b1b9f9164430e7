package download

import (
	"bytes"
	"context"
	"fmt"

	"github.com/klauspost/compress/zstd"
	artifactfetcher "github.com/wolfeidau/artifact-fetcher"
	"github.com/wolfeidau/artifact-fetcher/backend"
)

// compressedSuffix is appended to keys written with compression enabled.
const compressedSuffix = ".zst"

// FilesystemSink writes artifacts to a backend under "<variant>/<kind>".
// Each file is written atomically; a variant whose files cannot all be
// written is removed again by the Downloader.
type FilesystemSink struct {
	backend  backend.Backend
	compress bool
	encoder  *zstd.Encoder
}

// SinkOption configures a FilesystemSink.
type SinkOption func(*FilesystemSink)

// WithCompression stores artifacts zstd-compressed with a ".zst" suffix.
func WithCompression() SinkOption {
	return func(s *FilesystemSink) {
		s.compress = true
	}
}

// NewFilesystemSink creates a sink writing to b. Call Close when done to
// release the compression encoder.
func NewFilesystemSink(b backend.Backend, opts ...SinkOption) (*FilesystemSink, error) {
	s := &FilesystemSink{backend: b}
	for _, opt := range opts {
		opt(s)
	}
	if s.compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		s.encoder = enc
	}
	return s, nil
}

// Key returns the backend key an artifact is written to.
func (s *FilesystemSink) Key(variant string, kind artifactfetcher.Kind) string {
	key := variant + "/" + kind.String()
	if s.compress {
		key += compressedSuffix
	}
	return key
}

// Put implements Sink. It is safe for concurrent use.
func (s *FilesystemSink) Put(ctx context.Context, variant string, kind artifactfetcher.Kind, data []byte) error {
	if s.encoder != nil {
		data = s.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	}
	key := s.Key(variant, kind)
	if err := s.backend.Write(ctx, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Remove implements Sink.
func (s *FilesystemSink) Remove(ctx context.Context, variant string, kind artifactfetcher.Kind) error {
	key := s.Key(variant, kind)
	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("removing %s: %w", key, err)
	}
	return nil
}

// Close releases the compression encoder.
func (s *FilesystemSink) Close() error {
	if s.encoder == nil {
		return nil
	}
	if err := s.encoder.Close(); err != nil {
		return fmt.Errorf("closing zstd encoder: %w", err)
	}
	return nil
}

var _ Sink = (*FilesystemSink)(nil)
