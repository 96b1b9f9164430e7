// Package memstore is an in-memory content-addressed store. It lets callers
// publish a set of files under a freshly derived root and read them back
// through the regular store contract, which makes it handy for test roots.
package memstore

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"

	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/multiformats/go-multihash"
	artifactfetcher "github.com/wolfeidau/artifact-fetcher"
	"github.com/wolfeidau/artifact-fetcher/store"
)

// Store holds content keyed by root and path.
// It implements both store.Client and store.Session.
type Store struct {
	ds        datastore.Datastore
	chunkSize int
}

// Option configures a Store.
type Option func(*Store)

// WithChunkSize sets the size of the chunks content is delivered in.
func WithChunkSize(n int) Option {
	return func(s *Store) {
		s.chunkSize = n
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		ds:        dssync.MutexWrap(datastore.NewMapDatastore()),
		chunkSize: store.DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores data at path under root, replacing any existing content.
func (s *Store) Put(ctx context.Context, root artifactfetcher.RootID, path string, data []byte) error {
	if err := s.ds.Put(ctx, key(root, path), slices.Clone(data)); err != nil {
		return fmt.Errorf("storing %s: %w", artifactfetcher.Address(root, path), err)
	}
	return nil
}

// AddRoot stores files under a root derived from their names and contents
// and returns that root. The same files always produce the same root.
//
// The root is a CIDv1 over a sha2-256 digest of the sorted entries; it is
// not a UnixFS directory CID and will not resolve on the public network.
func (s *Store) AddRoot(ctx context.Context, files map[string][]byte) (artifactfetcher.RootID, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)

	var manifest []byte
	for _, name := range names {
		manifest = binary.AppendUvarint(manifest, uint64(len(name)))
		manifest = append(manifest, name...)
		digest := artifactfetcher.HashBytes(files[name])
		manifest = append(manifest, digest[:]...)
	}

	mh, err := multihash.Sum(manifest, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("hashing manifest: %w", err)
	}
	root := artifactfetcher.RootID(cid.NewCidV1(cid.Raw, mh).String())

	for _, name := range names {
		if err := s.Put(ctx, root, name, files[name]); err != nil {
			return "", err
		}
	}
	return root, nil
}

// CreateSession implements store.Client.
func (s *Store) CreateSession(ctx context.Context) (store.Session, error) {
	return s, nil
}

// OpenReadStream implements store.Session.
func (s *Store) OpenReadStream(ctx context.Context, root artifactfetcher.RootID, path string) (store.Chunks, error) {
	data, err := s.ds.Get(ctx, key(root, path))
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("reading %s: %w", artifactfetcher.Address(root, path), err)
	}

	size := s.chunkSize
	if size <= 0 {
		size = store.DefaultChunkSize
	}
	return func(yield func([]byte, error) bool) {
		for chunk := range slices.Chunk(data, size) {
			if !yield(slices.Clone(chunk), nil) {
				return
			}
		}
	}, nil
}

// key hex-encodes both parts so that path separators and dot segments in
// variants cannot collide after datastore key cleaning.
func key(root artifactfetcher.RootID, path string) datastore.Key {
	return datastore.KeyWithNamespaces([]string{
		hex.EncodeToString([]byte(root)),
		hex.EncodeToString([]byte(path)),
	})
}

var (
	_ store.Client  = (*Store)(nil)
	_ store.Session = (*Store)(nil)
)
