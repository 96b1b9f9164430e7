package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Filesystem implements Backend using a local directory.
// Writes are atomic using a temp file and rename pattern.
type Filesystem struct {
	root string
}

// NewFilesystem creates a filesystem backend rooted at the given path.
// The directory will be created if it does not exist.
func NewFilesystem(root string) (*Filesystem, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}
	return &Filesystem{root: absRoot}, nil
}

// OpenFilesystem opens an existing directory as a backend.
// Unlike NewFilesystem it never creates the directory.
func OpenFilesystem(root string) (*Filesystem, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", absRoot)
	}
	return &Filesystem{root: absRoot}, nil
}

// Root returns the root directory path.
func (fs *Filesystem) Root() string {
	return fs.root
}

// Write stores data at the given key using atomic write.
func (fs *Filesystem) Write(ctx context.Context, key string, r io.Reader) error {
	path, err := fs.keyToPath(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("writing data: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}

// Read retrieves data at the given key.
func (fs *Filesystem) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := fs.keyToPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, ErrNotFound
	}
	return f, nil
}

// Delete removes data at the given key.
func (fs *Filesystem) Delete(ctx context.Context, key string) error {
	path, err := fs.keyToPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing file: %w", err)
	}
	return nil
}

// Exists checks if a key exists.
func (fs *Filesystem) Exists(ctx context.Context, key string) (bool, error) {
	path, err := fs.keyToPath(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking file: %w", err)
}

// keyToPath converts a key to a filesystem path under the root.
func (fs *Filesystem) keyToPath(key string) (string, error) {
	rel := filepath.FromSlash(key)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(fs.root, rel), nil
}

var _ Backend = (*Filesystem)(nil)
