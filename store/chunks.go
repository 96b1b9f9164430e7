package store

import (
	"context"
	"io"
)

// ReaderChunks returns a sequence that reads rc in chunks of at most size
// bytes. rc is closed when iteration ends. Only io.EOF from rc ends the
// sequence cleanly; any other error, including io.ErrUnexpectedEOF from a
// body cut short, is yielded. Reads stop with ctx.Err() once ctx is done.
func ReaderChunks(ctx context.Context, rc io.ReadCloser, size int) Chunks {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return func(yield func([]byte, error) bool) {
		defer func() { _ = rc.Close() }()
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			buf := make([]byte, size)
			n, err := fill(rc, buf)
			if n > 0 {
				if !yield(buf[:n], nil) {
					return
				}
			}
			switch {
			case err == nil:
				continue
			case err == io.EOF:
				return
			default:
				yield(nil, err)
				return
			}
		}
	}
}

// fill reads into buf until it is full or r returns an error. Unlike
// io.ReadFull it hands back r's error untouched, so a short stream is never
// confused with a clean end.
func fill(r io.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// SliceChunks returns a sequence yielding each of chunks in order.
func SliceChunks(chunks ...[]byte) Chunks {
	return func(yield func([]byte, error) bool) {
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}
