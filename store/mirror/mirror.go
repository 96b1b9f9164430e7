// Package mirror serves artifacts from a local directory laid out as
// <dir>/<root>/<path>, for offline use or air-gapped hosts.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	artifactfetcher "github.com/wolfeidau/artifact-fetcher"
	"github.com/wolfeidau/artifact-fetcher/backend"
	"github.com/wolfeidau/artifact-fetcher/store"
)

// Client opens sessions over a mirror directory.
type Client struct {
	dir       string
	chunkSize int
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithChunkSize sets the size of the chunks content is delivered in.
func WithChunkSize(n int) Option {
	return func(c *Client) {
		c.chunkSize = n
	}
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a mirror client for dir.
func New(dir string, opts ...Option) *Client {
	c := &Client{
		dir:       dir,
		chunkSize: store.DefaultChunkSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSession implements store.Client. It fails if the mirror directory
// does not exist.
func (c *Client) CreateSession(ctx context.Context) (store.Session, error) {
	fs, err := backend.OpenFilesystem(c.dir)
	if err != nil {
		return nil, fmt.Errorf("opening mirror: %w", err)
	}
	c.logger.Info("using mirror", "dir", fs.Root())
	return &Session{
		fs:        backend.NewInstrumentedBackend(fs, "mirror"),
		chunkSize: c.chunkSize,
	}, nil
}

// Session reads from a mirror directory.
type Session struct {
	fs        backend.Backend
	chunkSize int
}

// OpenReadStream implements store.Session.
func (s *Session) OpenReadStream(ctx context.Context, root artifactfetcher.RootID, path string) (store.Chunks, error) {
	rc, err := s.fs.Read(ctx, artifactfetcher.Address(root, path))
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return store.ReaderChunks(ctx, rc, s.chunkSize), nil
}

var (
	_ store.Client  = (*Client)(nil)
	_ store.Session = (*Session)(nil)
)
