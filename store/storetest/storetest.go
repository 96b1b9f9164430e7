// Package storetest provides a scripted in-process store for tests. It counts
// session creations and records every stream it opens.
package storetest

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	artifactfetcher "github.com/wolfeidau/artifact-fetcher"
	"github.com/wolfeidau/artifact-fetcher/store"
)

// Client is a store.Client that hands out a fixed Session.
type Client struct {
	// Session is returned by successful CreateSession calls.
	Session *Session
	// Delay is applied to every CreateSession call.
	Delay time.Duration
	// Errs are returned, in order, by the first len(Errs) calls.
	Errs []error

	calls atomic.Int32
}

// NewClient returns a Client serving s.
func NewClient(s *Session) *Client {
	return &Client{Session: s}
}

// CreateSession implements store.Client.
func (c *Client) CreateSession(ctx context.Context) (store.Session, error) {
	n := int(c.calls.Add(1))
	if err := sleep(ctx, c.Delay); err != nil {
		return nil, err
	}
	if n <= len(c.Errs) {
		return nil, c.Errs[n-1]
	}
	return c.Session, nil
}

// Calls returns the number of CreateSession calls made.
func (c *Client) Calls() int {
	return int(c.calls.Load())
}

// Call records one OpenReadStream invocation.
type Call struct {
	Root  artifactfetcher.RootID
	Path  string
	Start time.Time
	// Opened is when the stream was handed back (after Delay).
	Opened time.Time
}

type entry struct {
	chunks    [][]byte
	openErr   error
	streamErr error
}

// Session is a store.Session serving scripted content.
type Session struct {
	// Delay is applied to every OpenReadStream call before it returns.
	Delay time.Duration

	mu      sync.Mutex
	content map[string]entry
	calls   []Call
}

// NewSession returns an empty Session.
func NewSession() *Session {
	return &Session{content: make(map[string]entry)}
}

// Serve registers content for root/path delivered as the given chunks.
func (s *Session) Serve(root artifactfetcher.RootID, path string, chunks ...[]byte) *Session {
	return s.set(root, path, entry{chunks: chunks})
}

// FailOpen makes OpenReadStream for root/path fail with err.
func (s *Session) FailOpen(root artifactfetcher.RootID, path string, err error) *Session {
	return s.set(root, path, entry{openErr: err})
}

// FailStream delivers chunks for root/path and then fails the stream with err.
func (s *Session) FailStream(root artifactfetcher.RootID, path string, err error, chunks ...[]byte) *Session {
	return s.set(root, path, entry{chunks: chunks, streamErr: err})
}

func (s *Session) set(root artifactfetcher.RootID, path string, e entry) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content[artifactfetcher.Address(root, path)] = e
	return s
}

// OpenReadStream implements store.Session.
func (s *Session) OpenReadStream(ctx context.Context, root artifactfetcher.RootID, path string) (store.Chunks, error) {
	call := Call{Root: root, Path: path, Start: time.Now()}
	err := sleep(ctx, s.Delay)
	call.Opened = time.Now()

	s.mu.Lock()
	s.calls = append(s.calls, call)
	e, ok := s.content[artifactfetcher.Address(root, path)]
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	if e.openErr != nil {
		return nil, e.openErr
	}

	return func(yield func([]byte, error) bool) {
		for _, c := range e.chunks {
			if !yield(bytes.Clone(c), nil) {
				return
			}
		}
		if e.streamErr != nil {
			yield(nil, e.streamErr)
		}
	}, nil
}

// Calls returns a copy of the recorded calls in invocation order.
func (s *Session) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times root/path was opened.
func (s *Session) CallCount(root artifactfetcher.RootID, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Root == root && c.Path == path {
			n++
		}
	}
	return n
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
