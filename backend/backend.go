// Package backend provides the local filesystem storage used for artifact
// mirrors and for writing downloaded artifacts to disk.
package backend

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned when a key does not exist in the backend.
	ErrNotFound = errors.New("not found")

	// ErrInvalidKey is returned for keys that would resolve outside the
	// backend root.
	ErrInvalidKey = errors.New("invalid key")
)

// Backend stores opaque blobs by slash-separated key.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Write stores data at the given key, replacing any existing data.
	Write(ctx context.Context, key string, r io.Reader) error

	// Read retrieves data at the given key.
	// Returns ErrNotFound if the key does not exist.
	// The caller must close the returned ReadCloser.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes data at the given key.
	// Returns nil if the key does not exist (idempotent).
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists.
	Exists(ctx context.Context, key string) (bool, error)
}
