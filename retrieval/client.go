// Package retrieval fetches the complete content of a single artifact from
// the store and returns it as one contiguous buffer.
package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	artifactfetcher "github.com/wolfeidau/artifact-fetcher"
	"github.com/wolfeidau/artifact-fetcher/session"
	"github.com/wolfeidau/artifact-fetcher/store"
	"github.com/wolfeidau/artifact-fetcher/telemetry"
)

// errNoSession is reported when the session handle is unusable after a
// successful initialization.
var errNoSession = errors.New("store session unavailable after initialization")

// Client retrieves artifacts through a shared, lazily created store session.
type Client struct {
	sessions *session.Lazy
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a Client using sessions for store access.
func New(sessions *session.Lazy, opts ...Option) *Client {
	c := &Client{
		sessions: sessions,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the full content stored at path under root.
//
// Chunks are concatenated in the order the store delivers them. A stream with
// no chunks yields a non-nil, zero-length slice rather than an error. Session
// failures are returned as *artifactfetcher.SessionInitError; anything that
// goes wrong with the stream is a *artifactfetcher.RetrievalError. Nothing is
// retried.
func (c *Client) Fetch(ctx context.Context, root artifactfetcher.RootID, path string) ([]byte, error) {
	s, err := c.sessions.Get(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, &artifactfetcher.RetrievalError{Root: root, Path: path, Err: errNoSession}
	}

	start := time.Now()
	logger := c.logger.With("root", root, "path", path)

	chunks, err := s.OpenReadStream(ctx, root, path)
	if err != nil {
		c.record(ctx, start, 0, err)
		return nil, &artifactfetcher.RetrievalError{Root: root, Path: path, Err: err}
	}

	var (
		parts [][]byte
		total int64
	)
	for chunk, err := range chunks {
		if err != nil {
			c.record(ctx, start, total, err)
			logger.Debug("stream interrupted", "error", err, "bytes", total)
			return nil, &artifactfetcher.RetrievalError{Root: root, Path: path, Err: err}
		}
		parts = append(parts, chunk)
		total += int64(len(chunk))
	}

	out := slices.Concat(parts...)
	if out == nil {
		out = []byte{}
	}

	c.record(ctx, start, total, nil)
	logger.Debug("fetched artifact", "bytes", total, "chunks", len(parts), "duration", time.Since(start))
	return out, nil
}

func (c *Client) record(ctx context.Context, start time.Time, n int64, err error) {
	telemetry.RecordFetch(ctx, time.Since(start), n, fetchOutcome(ctx, err))
}

func fetchOutcome(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "success"
	case ctx.Err() != nil:
		return "canceled"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
