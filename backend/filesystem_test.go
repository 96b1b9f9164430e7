package backend

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFilesystem(t *testing.T) {
	root := filepath.Join(t.TempDir(), "artifacts")

	fs, err := NewFilesystem(root)
	require.NoError(t, err)
	require.Equal(t, root, fs.Root())

	info, err := os.Stat(root)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestOpenFilesystem(t *testing.T) {
	dir := t.TempDir()

	fs, err := OpenFilesystem(dir)
	require.NoError(t, err)
	require.Equal(t, dir, fs.Root())

	_, err = OpenFilesystem(filepath.Join(dir, "missing"))
	require.Error(t, err)

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	_, err = OpenFilesystem(file)
	require.Error(t, err)
}

func TestFilesystemWriteRead(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	key := "2x16/zkey"
	data := []byte("proving key bytes")

	require.NoError(t, fs.Write(ctx, key, bytes.NewReader(data)))

	rc, err := fs.Read(ctx, key)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestFilesystemReadNotFound(t *testing.T) {
	fs := newTestFilesystem(t)

	_, err := fs.Read(context.Background(), "nonexistent/key")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemReadDirectoryIsNotFound(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	require.NoError(t, fs.Write(ctx, "dir/file", strings.NewReader("x")))

	_, err := fs.Read(ctx, "dir")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemExists(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	key := "10x1/vkey"

	exists, err := fs.Exists(ctx, key)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, fs.Write(ctx, key, bytes.NewReader([]byte("data"))))

	exists, err = fs.Exists(ctx, key)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestFilesystemOverwrite(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()
	key := "overwrite/wasm"

	require.NoError(t, fs.Write(ctx, key, bytes.NewReader([]byte("initial"))))

	newData := []byte("new content that is longer")
	require.NoError(t, fs.Write(ctx, key, bytes.NewReader(newData)))

	rc, err := fs.Read(ctx, key)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	got, _ := io.ReadAll(rc)
	require.Equal(t, newData, got)
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("source failed") }

func TestFilesystemFailedWriteLeavesNoFile(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	require.Error(t, fs.Write(ctx, "failed/zkey", errReader{}))

	exists, err := fs.Exists(ctx, "failed/zkey")
	require.NoError(t, err)
	require.False(t, exists)

	entries, err := os.ReadDir(filepath.Join(fs.Root(), "failed"))
	require.NoError(t, err)
	require.Empty(t, entries, "temp file should be removed")
}

func TestFilesystemRejectsEscapingKeys(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	for _, key := range []string{"../outside", "a/../../outside", "/abs", ""} {
		_, err := fs.Read(ctx, key)
		require.ErrorIs(t, err, ErrInvalidKey, key)

		err = fs.Write(ctx, key, strings.NewReader("x"))
		require.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

func TestFilesystem_Delete(t *testing.T) {
	fs := newTestFilesystem(t)
	ctx := context.Background()

	require.NoError(t, fs.Write(ctx, "2x16/vkey", strings.NewReader("data")))
	require.NoError(t, fs.Delete(ctx, "2x16/vkey"))

	exists, err := fs.Exists(ctx, "2x16/vkey")
	require.NoError(t, err)
	require.False(t, exists)

	// Deleting a missing key is not an error.
	require.NoError(t, fs.Delete(ctx, "2x16/vkey"))

	require.ErrorIs(t, fs.Delete(ctx, "../outside"), ErrInvalidKey)
}

func newTestFilesystem(t *testing.T) *Filesystem {
	t.Helper()
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	return fs
}
