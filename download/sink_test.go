package download

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	artifactfetcher "github.com/wolfeidau/artifact-fetcher"
	"github.com/wolfeidau/artifact-fetcher/backend"
	"github.com/wolfeidau/artifact-fetcher/store/storetest"
)

func newTestSink(t *testing.T, b backend.Backend, opts ...SinkOption) *FilesystemSink {
	t.Helper()
	sink, err := NewFilesystemSink(b, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, sink.Close()) })
	return sink
}

func readKey(t *testing.T, b backend.Backend, key string) []byte {
	t.Helper()
	rc, err := b.Read(context.Background(), key)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestFilesystemSink_Put(t *testing.T) {
	fs, err := backend.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	sink := newTestSink(t, fs)

	require.Equal(t, "2x16/zkey", sink.Key("2x16", artifactfetcher.ProvingKey))
	require.NoError(t, sink.Put(context.Background(), "2x16", artifactfetcher.ProvingKey, []byte("proving key")))
	require.Equal(t, []byte("proving key"), readKey(t, fs, "2x16/zkey"))
}

func TestFilesystemSink_Compressed(t *testing.T) {
	fs, err := backend.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	sink := newTestSink(t, fs, WithCompression())

	data := []byte("wasm wasm wasm wasm wasm wasm wasm wasm wasm wasm wasm wasm")
	zdata := []byte("zkey zkey zkey zkey zkey zkey zkey zkey zkey zkey zkey zkey")
	require.Equal(t, "2x16/wasm.zst", sink.Key("2x16", artifactfetcher.WitnessProgram))
	require.NoError(t, sink.Put(context.Background(), "2x16", artifactfetcher.WitnessProgram, data))
	// The encoder is shared across puts.
	require.NoError(t, sink.Put(context.Background(), "2x16", artifactfetcher.ProvingKey, zdata))

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()

	got, err := dec.DecodeAll(readKey(t, fs, "2x16/wasm.zst"), nil)
	require.NoError(t, err)
	require.Equal(t, data, got)

	got, err = dec.DecodeAll(readKey(t, fs, "2x16/zkey.zst"), nil)
	require.NoError(t, err)
	require.Equal(t, zdata, got)
}

func TestFilesystemSink_WithDownloader(t *testing.T) {
	fs, err := backend.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	d := newTestDownloader(t, serveVariant(storetest.NewSession(), "V"), WithSink(newTestSink(t, fs)))

	_, err = d.DownloadVariant(context.Background(), "V")
	require.NoError(t, err)

	require.Equal(t, []byte("vk-V"), readKey(t, fs, "V/vkey"))
	require.Equal(t, []byte("zk-V"), readKey(t, fs, "V/zkey"))
	require.Equal(t, []byte("wasm-V"), readKey(t, fs, "V/wasm"))
}

func TestFilesystemSink_RejectsEscapingVariant(t *testing.T) {
	fs, err := backend.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	sink := newTestSink(t, fs)

	err = sink.Put(context.Background(), "../..", artifactfetcher.ProvingKey, []byte("x"))
	require.ErrorIs(t, err, backend.ErrInvalidKey)
}

func TestFilesystemSink_Remove(t *testing.T) {
	fs, err := backend.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	sink := newTestSink(t, fs, WithCompression())
	ctx := context.Background()

	require.NoError(t, sink.Put(ctx, "2x16", artifactfetcher.VerificationKey, []byte("vk")))
	require.NoError(t, sink.Remove(ctx, "2x16", artifactfetcher.VerificationKey))

	exists, err := fs.Exists(ctx, "2x16/vkey.zst")
	require.NoError(t, err)
	require.False(t, exists)
}

// failingBackend fails writes for one key and otherwise defers to a filesystem.
type failingBackend struct {
	*backend.Filesystem
	failKey string
}

func (f *failingBackend) Write(ctx context.Context, key string, r io.Reader) error {
	if key == f.failKey {
		return errors.New("disk full")
	}
	return f.Filesystem.Write(ctx, key, r)
}

func TestFilesystemSink_PartialVariantRemoved(t *testing.T) {
	fs, err := backend.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	sink := newTestSink(t, &failingBackend{Filesystem: fs, failKey: "V/wasm"})
	d := newTestDownloader(t, serveVariant(storetest.NewSession(), "V"), WithSink(sink))

	_, err = d.DownloadVariant(context.Background(), "V")
	require.ErrorContains(t, err, "disk full")

	for _, key := range []string{"V/vkey", "V/zkey", "V/wasm"} {
		exists, err := fs.Exists(context.Background(), key)
		require.NoError(t, err)
		require.False(t, exists, key)
	}
}
