// Package store defines the contract of the content-addressed store that
// artifacts are retrieved from. Implementations live in subpackages.
package store

import (
	"context"
	"errors"
	"iter"

	artifactfetcher "github.com/wolfeidau/artifact-fetcher"
)

// DefaultChunkSize is the chunk size used when an implementation splits a
// byte stream itself. It matches the UnixFS default block size.
const DefaultChunkSize = 256 * 1024

// ErrNotFound is returned when an address does not resolve in the store.
var ErrNotFound = errors.New("not found")

// Chunks is a lazy, finite, forward-only sequence of byte chunks. A non-nil
// error ends the sequence. Each chunk is owned by the consumer once yielded.
//
// Resources held by the sequence are released when iteration finishes or the
// consumer stops early, so callers must range over it exactly once.
type Chunks = iter.Seq2[[]byte, error]

// Client bootstraps connectivity to a store.
type Client interface {
	// CreateSession establishes a session. It may be slow (peer or gateway
	// discovery) and may fail.
	CreateSession(ctx context.Context) (Session, error)
}

// Session is an initialized connection to a store.
// Implementations must be safe for concurrent use.
type Session interface {
	// OpenReadStream opens the content at path relative to root.
	// Returns ErrNotFound if the address does not resolve.
	OpenReadStream(ctx context.Context, root artifactfetcher.RootID, path string) (Chunks, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context) (Session, error)

// CreateSession implements Client.
func (f ClientFunc) CreateSession(ctx context.Context) (Session, error) {
	return f(ctx)
}
