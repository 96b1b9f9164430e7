package backend

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/wolfeidau/artifact-fetcher/telemetry"
)

// InstrumentedBackend wraps a Backend with metrics recording.
type InstrumentedBackend struct {
	backend Backend
	name    string
}

// NewInstrumentedBackend creates a new instrumented backend wrapper.
// name identifies the backend's role in metrics, e.g. "mirror" or "output".
func NewInstrumentedBackend(b Backend, name string) *InstrumentedBackend {
	return &InstrumentedBackend{backend: b, name: name}
}

func (ib *InstrumentedBackend) Write(ctx context.Context, key string, r io.Reader) error {
	start := time.Now()
	cr := &countingReader{r: r}
	err := ib.backend.Write(ctx, key, cr)
	telemetry.RecordBackendOp(ctx, ib.name, "write", outcomeFromError(err), time.Since(start), cr.n)
	return err
}

// Read records the operation when the returned reader is closed, so the
// duration and byte count cover the whole transfer.
func (ib *InstrumentedBackend) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := ib.backend.Read(ctx, key)
	if err != nil {
		telemetry.RecordBackendOp(ctx, ib.name, "read", outcomeFromError(err), time.Since(start), 0)
		return nil, err
	}
	return &instrumentedReadCloser{
		rc: rc,
		record: func(n int64, readErr error) {
			telemetry.RecordBackendOp(ctx, ib.name, "read", outcomeFromError(readErr), time.Since(start), n)
		},
	}, nil
}

func (ib *InstrumentedBackend) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := ib.backend.Delete(ctx, key)
	telemetry.RecordBackendOp(ctx, ib.name, "delete", outcomeFromError(err), time.Since(start), 0)
	return err
}

func (ib *InstrumentedBackend) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	exists, err := ib.backend.Exists(ctx, key)
	telemetry.RecordBackendOp(ctx, ib.name, "exists", outcomeFromError(err), time.Since(start), 0)
	return exists, err
}

// Unwrap returns the underlying backend.
func (ib *InstrumentedBackend) Unwrap() Backend {
	return ib.backend
}

func outcomeFromError(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// countingReader wraps a reader and counts bytes read.
type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

type instrumentedReadCloser struct {
	rc     io.ReadCloser
	n      int64
	err    error
	once   sync.Once
	record func(n int64, err error)
}

func (r *instrumentedReadCloser) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	r.n += int64(n)
	if err != nil && !errors.Is(err, io.EOF) {
		r.err = err
	}
	return n, err
}

func (r *instrumentedReadCloser) Close() error {
	err := r.rc.Close()
	r.once.Do(func() {
		r.record(r.n, r.err)
	})
	return err
}

var _ Backend = (*InstrumentedBackend)(nil)
