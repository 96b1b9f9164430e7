package memstore

import (
	"context"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"
	artifactfetcher "github.com/wolfeidau/artifact-fetcher"
	"github.com/wolfeidau/artifact-fetcher/store"
)

func collect(t *testing.T, chunks store.Chunks) [][]byte {
	t.Helper()
	var got [][]byte
	for c, err := range chunks {
		require.NoError(t, err)
		got = append(got, c)
	}
	return got
}

func TestStore_PutAndRead(t *testing.T) {
	ctx := context.Background()
	s := New(WithChunkSize(4))
	require.NoError(t, s.Put(ctx, "R", "vkey2x16", []byte("0123456789")))

	sess, err := s.CreateSession(ctx)
	require.NoError(t, err)

	chunks, err := sess.OpenReadStream(ctx, "R", "vkey2x16")
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("0123"), []byte("4567"), []byte("89")}, collect(t, chunks))
}

func TestStore_EmptyContentHasNoChunks(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Put(ctx, "R", "zkey2x16", nil))

	chunks, err := s.OpenReadStream(ctx, "R", "zkey2x16")
	require.NoError(t, err)
	require.Empty(t, collect(t, chunks))
}

func TestStore_NotFound(t *testing.T) {
	_, err := New().OpenReadStream(context.Background(), "R", "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_PathsDoNotAlias(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Put(ctx, "R", "a/../b", []byte("dotted")))
	require.NoError(t, s.Put(ctx, "R", "b", []byte("plain")))

	chunks, err := s.OpenReadStream(ctx, "R", "a/../b")
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("dotted")}, collect(t, chunks))
}

func TestStore_AddRoot(t *testing.T) {
	ctx := context.Background()
	files := map[string][]byte{
		"vkey2x16": []byte("v"),
		"zkey2x16": []byte("z"),
		"wasm2x16": []byte("w"),
	}

	s := New()
	root, err := s.AddRoot(ctx, files)
	require.NoError(t, err)

	c, err := cid.Decode(root.String())
	require.NoError(t, err)
	require.Equal(t, uint64(1), c.Version())

	again, err := New().AddRoot(ctx, files)
	require.NoError(t, err)
	require.Equal(t, root, again)

	other, err := New().AddRoot(ctx, map[string][]byte{"vkey2x16": []byte("changed")})
	require.NoError(t, err)
	require.NotEqual(t, root, other)

	for name, want := range files {
		chunks, err := s.OpenReadStream(ctx, root, name)
		require.NoError(t, err)
		require.Equal(t, [][]byte{want}, collect(t, chunks))
	}

	_, err = s.OpenReadStream(ctx, artifactfetcher.DefaultRootID, "vkey2x16")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_StopsOnBreak(t *testing.T) {
	ctx := context.Background()
	s := New(WithChunkSize(1))
	require.NoError(t, s.Put(ctx, "R", "p", []byte("abc")))

	chunks, err := s.OpenReadStream(ctx, "R", "p")
	require.NoError(t, err)

	n := 0
	for range chunks {
		n++
		break
	}
	require.Equal(t, 1, n)
}
